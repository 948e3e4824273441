package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/browser/rodriver"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/observability"
	"github.com/xkilldash9x/pageprobe/internal/reporting"
	"github.com/xkilldash9x/pageprobe/internal/runner"
	"github.com/xkilldash9x/pageprobe/internal/store"
)

// ErrAuditFailed is returned with --fail-on-error when a page failed or
// could not be audited.
var ErrAuditFailed = errors.New("one or more pages failed the audit")

// sessionFactory is a browser backend that must be shut down after the run.
type sessionFactory interface {
	browser.SessionFactory
	Shutdown(ctx context.Context) error
}

// newSessionFactory starts the configured browser backend. Tests replace it.
var newSessionFactory = func(ctx context.Context, logger *zap.Logger, cfg *config.Config) (sessionFactory, error) {
	switch cfg.Browser.Backend {
	case config.BackendRod:
		return rodriver.New(ctx, logger, cfg)
	default:
		return browser.NewManager(ctx, logger, cfg)
	}
}

// newAuditCmd creates and configures the `audit` command.
func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit [urls...]",
		Short: "Audits pages for capabilities, contrast, headings and keyboard access",
		Long: `Opens every URL in a fresh browser context, once per configured viewport,
and reports capability probes, colour contrast, heading structure and the
keyboard tab order. Results go to the chosen reporter and, when
database.url is set, to PostgreSQL.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			cfg.Run.Targets = args
			cfg.Run.Output, _ = flags.GetString("output")
			cfg.Run.Format, _ = flags.GetString("format")
			cfg.Run.FailOnError, _ = flags.GetBool("fail-on-error")

			return runAudit(ctx, observability.GetLogger(), cfg)
		},
	}

	auditCmd.Flags().StringP("output", "o", "stdout", "Output file path for the report.")
	auditCmd.Flags().StringP("format", "f", reporting.FormatText, "Report format: 'sarif', 'json' or 'text'.")
	auditCmd.Flags().IntP("concurrency", "j", 0, "Number of pages audited at once. (Overrides config/env)")
	auditCmd.Flags().Float64("rate-limit", 0, "Maximum navigations per second, 0 for unlimited. (Overrides config/env)")
	auditCmd.Flags().StringSlice("viewport", nil, "Viewport as WIDTHxHEIGHT, repeatable. (Overrides config/env)")
	auditCmd.Flags().Int("max-tab-steps", 0, "Maximum Tab presses per page. (Overrides config/env)")
	auditCmd.Flags().String("backend", "", "Browser backend: 'chromedp' or 'rod'. (Overrides config/env)")
	auditCmd.Flags().Bool("headed", false, "Show the browser window. (Overrides config/env)")
	auditCmd.Flags().Bool("offline-check", false, "Reload each page offline to test readiness. (Overrides config/env)")
	auditCmd.Flags().Bool("fail-on-error", false, "Exit non-zero when any page fails or errors.")

	return auditCmd
}

// runAudit wires the browser backend, auditor, runner and sinks for one batch.
func runAudit(ctx context.Context, logger *zap.Logger, cfg *config.Config) (err error) {
	viewports, err := browser.ParseViewports(cfg.Audit.Viewports)
	if err != nil {
		return err
	}
	jobs, err := runner.Jobs(cfg.Run.Targets, viewports)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no targets to audit")
	}

	opts, err := audit.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	auditor := audit.NewAuditor(opts, logger, audit.WithMetrics(metrics))

	output, err := homedir.Expand(cfg.Run.Output)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	reporter, err := reporting.New(cfg.Run.Format, output, logger, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if closeErr := reporter.Close(); closeErr != nil {
			logger.Error("Failed to close reporter", zap.Error(closeErr))
			err = errors.Join(err, closeErr)
		}
	}()

	sinks := []runner.Sink{runner.SinkFunc(func(_ context.Context, r *audit.Report) error {
		return reporter.Write(r)
	})}

	var db *store.Store
	if cfg.Database.URL != "" {
		st, pool, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		db = st
		sinks = append(sinks, st)
	}

	factory, err := newSessionFactory(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := factory.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	r, err := runner.New(factory, auditor,
		runner.WithLogger(logger),
		runner.WithMetrics(metrics),
		runner.WithSinks(sinks...),
		runner.WithConcurrency(cfg.Engine.WorkerConcurrency),
		runner.WithRateLimit(cfg.Engine.RateLimit),
		runner.WithJobTimeout(cfg.Engine.JobTimeout),
	)
	if err != nil {
		return err
	}

	sum, runErr := r.Run(ctx, jobs)

	if db != nil {
		recordCtx, cancel := context.WithTimeout(browser.Detach(ctx), 10*time.Second)
		defer cancel()
		if err := db.RecordRun(recordCtx, store.RunRecord{
			ID:         sum.RunID,
			StartedAt:  sum.StartedAt,
			FinishedAt: sum.FinishedAt,
			Passed:     sum.Passed,
			Failed:     sum.Failed,
			Errored:    sum.Errored,
			Skipped:    sum.Skipped,
		}); err != nil {
			logger.Error("Failed to record run", zap.String("run_id", sum.RunID), zap.Error(err))
		}
	}

	if path := cfg.Metrics.Textfile; path != "" {
		if expanded, err := homedir.Expand(path); err == nil {
			path = expanded
		}
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if sum.SinkErrors > 0 {
		return fmt.Errorf("%d report(s) could not be written", sum.SinkErrors)
	}
	if cfg.Run.FailOnError && (sum.Failed > 0 || sum.Errored > 0) {
		return fmt.Errorf("%w: %d failed, %d errored", ErrAuditFailed, sum.Failed, sum.Errored)
	}
	return nil
}
