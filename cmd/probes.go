package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pageprobe/internal/audit/probes"
)

type probeListing struct {
	Kind        probes.Kind     `json:"kind"`
	Category    probes.Category `json:"category"`
	Guideline   string          `json:"guideline,omitempty"`
	Description string          `json:"description"`
}

// newProbesCmd lists the registered capability probes.
func newProbesCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)
	probesCmd := &cobra.Command{
		Use:   "probes",
		Short: "Lists the capability probes a page audit can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []probeListing
			for _, kind := range probes.Kinds() {
				def, _ := probes.Lookup(kind)
				if category != "" && string(def.Category) != category {
					continue
				}
				list = append(list, probeListing{
					Kind:        kind,
					Category:    def.Category,
					Guideline:   def.Guideline,
					Description: def.Description,
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tCATEGORY\tWCAG\tDESCRIPTION")
			for _, p := range list {
				guideline := p.Guideline
				if guideline == "" {
					guideline = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Kind, p.Category, guideline, p.Description)
			}
			return tw.Flush()
		},
	}
	probesCmd.Flags().StringVar(&category, "category", "", "Only list probes of this category (capability, metadata, accessibility).")
	probesCmd.Flags().BoolVar(&asJSON, "json", false, "Print the registry as JSON.")
	return probesCmd
}
