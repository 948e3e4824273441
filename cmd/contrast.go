package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pageprobe/internal/audit/contrast"
)

// newContrastCmd checks a colour pair without a browser.
func newContrastCmd() *cobra.Command {
	var (
		large     bool
		threshold float64
		asJSON    bool
	)
	contrastCmd := &cobra.Command{
		Use:   "contrast FOREGROUND BACKGROUND",
		Short: "Computes the WCAG contrast ratio of two CSS colours",
		Example: `  pageprobe contrast '#767676' white
  pageprobe contrast 'rgb(224, 224, 224)' 'rgb(10, 10, 10)' --large`,
		Args: cobra.ExactArgs(2),
		// The calculator needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold <= 0 {
				threshold = contrast.ThresholdNormalText
				if large {
					threshold = contrast.ThresholdLargeText
				}
			}
			for _, c := range args {
				if _, err := contrast.ParseColor(c); err != nil {
					return err
				}
			}
			res := contrast.ComputeContrastCSS(args[0], args[1], threshold)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			verdict := "pass"
			if !res.Passes {
				verdict = "fail"
			}
			fmt.Fprintf(out, "%.2f:1 %s (threshold %.1f:1, %s on %s)\n",
				res.Ratio, verdict, res.Threshold, res.Foreground, res.Background)
			return nil
		},
	}
	contrastCmd.Flags().BoolVar(&large, "large", false, "Use the large text threshold (3:1).")
	contrastCmd.Flags().Float64Var(&threshold, "threshold", 0, "Custom minimum ratio; overrides --large.")
	contrastCmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON.")
	return contrastCmd
}
