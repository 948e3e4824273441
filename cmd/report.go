// File: cmd/report.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/observability"
	"github.com/xkilldash9x/pageprobe/internal/reporting"
	"github.com/xkilldash9x/pageprobe/internal/store"
)

// findingSource is the part of the store the report command reads from.
type findingSource interface {
	FindingsByRun(ctx context.Context, runID string) ([]schemas.Finding, error)
}

// storeProvider creates the finding source. Tests inject a fake instead of a
// live database connection.
type storeProvider interface {
	// Create returns the source, a cleanup function to release resources, and
	// an error if the creation fails.
	Create(ctx context.Context, cfg *config.Config) (findingSource, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (findingSource, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("database URL is not configured (PAGEPROBE_DATABASE_URL)")
	}
	logger := observability.GetLogger()
	st, pool, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed (via report cleanup).")
	}
	return st, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var (
		runID      string
		outputPath string
		format     string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Exports the stored findings of a previous audit run",
		Long: `Loads every finding persisted for a run ID and writes them as SARIF or
JSON. Requires database.url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, runID, outputPath, format, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the audit run to export (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "stdout", "Output file path.")
	reportCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatSARIF, "Format for the output: 'sarif' or 'json'.")

	return reportCmd
}

// runReport contains the testable core of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	runID, outputPath, format string,
	provider storeProvider,
) (err error) {
	if format != reporting.FormatSARIF && format != reporting.FormatJSON {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	logger.Info("Starting report export", zap.String("run_id", runID))

	source, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	findings, err := source.FindingsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load findings for run %s: %w", runID, err)
	}
	if findings == nil {
		findings = []schemas.Finding{}
	}

	path, err := homedir.Expand(outputPath)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	w, err := reporting.OpenOutput(path)
	if err != nil {
		return err
	}

	if format == reporting.FormatSARIF {
		r := reporting.NewSARIFReporter(w, logger, Version)
		r.AddFindings(findings...)
		if err := r.Close(); err != nil {
			return err
		}
	} else {
		defer func() {
			if closeErr := w.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to close output writer: %w", closeErr))
			}
		}()
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(findings); err != nil {
			return fmt.Errorf("failed to encode findings: %w", err)
		}
	}

	logger.Info("Report exported", zap.String("run_id", runID), zap.Int("findings", len(findings)), zap.String("path", path))
	return nil
}
