// Package audit composes the capability matrix, heading validator, contrast
// sampler and tab-order walker into one report per page visit.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit/contrast"
	"github.com/xkilldash9x/pageprobe/internal/audit/headings"
	"github.com/xkilldash9x/pageprobe/internal/audit/probes"
	"github.com/xkilldash9x/pageprobe/internal/audit/tabwalk"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/observability"
)

// Options configures what a single audit checks.
type Options struct {
	Probes             probes.Set
	ContrastSelectors  []string
	ContrastThreshold  float64
	LargeTextThreshold float64
	// MaxSamplesPerSelector caps how many matches of one selector are measured.
	MaxSamplesPerSelector int
	// MaxTabSteps overrides TabPolicy.MaxSteps when positive.
	MaxTabSteps       int
	TabPolicy         tabwalk.Policy
	HeadingFilter     headings.Filter
	NavigationTimeout time.Duration
	StepTimeout       time.Duration
	ProbeTimeout      time.Duration
	PostLoadWait      time.Duration
	Viewport          browser.Viewport
	OfflineCheck      bool
}

// OptionsFromConfig builds Options from the loaded configuration. It fails on
// unknown probe names or an invalid heading filter expression.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	set, err := probes.FromNames(cfg.Audit.Probes)
	if err != nil {
		return Options{}, fmt.Errorf("build probe set: %w", err)
	}
	filter, err := headings.NewExprFilter(cfg.Audit.HeadingFilter)
	if err != nil {
		return Options{}, fmt.Errorf("compile heading filter: %w", err)
	}
	return Options{
		Probes:             set,
		ContrastSelectors:  cfg.Audit.ContrastSelectors,
		ContrastThreshold:  cfg.Audit.ContrastThreshold,
		LargeTextThreshold: cfg.Audit.LargeTextThreshold,
		TabPolicy:          tabwalk.PolicyFromConfig(cfg.Audit.TabWalker, cfg.Network.StepTimeout),
		HeadingFilter:      filter,
		NavigationTimeout:  cfg.Network.NavigationTimeout,
		StepTimeout:        cfg.Network.StepTimeout,
		ProbeTimeout:       cfg.Network.ProbeTimeout,
		PostLoadWait:       cfg.Network.PostLoadWait,
		OfflineCheck:       cfg.Audit.OfflineCheck,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.ContrastThreshold <= 0 {
		o.ContrastThreshold = contrast.ThresholdNormalText
	}
	if o.LargeTextThreshold <= 0 {
		o.LargeTextThreshold = contrast.ThresholdLargeText
	}
	if o.MaxSamplesPerSelector <= 0 {
		o.MaxSamplesPerSelector = 10
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = probes.DefaultTimeout
	}
	if o.MaxTabSteps > 0 {
		o.TabPolicy.MaxSteps = o.MaxTabSteps
	}
	if o.TabPolicy.StepTimeout <= 0 {
		o.TabPolicy.StepTimeout = o.StepTimeout
	}
	return o
}

// Auditor runs audits. It holds no per-page state and is safe to share
// between goroutines as long as each call gets its own driver.
type Auditor struct {
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option is a function that configures an Auditor.
type Option func(*Auditor)

// WithMetrics records probe failures and suspected traps.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// NewAuditor creates an Auditor. A nil logger disables logging.
func NewAuditor(opts Options, logger *zap.Logger, options ...Option) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Auditor{
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("component", "auditor")),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Options returns the effective options.
func (a *Auditor) Options() Options { return a.opts }

// WithViewport returns a copy of the Auditor that renders pages at vp.
func (a *Auditor) WithViewport(vp browser.Viewport) *Auditor {
	c := *a
	c.opts.Viewport = vp
	return &c
}

const metaScript = `() => ({title: document.title || '', url: location.href})`

// offlineScript reports whether the reloaded document has any content.
const offlineScript = `() => !!document.body && (document.body.childElementCount > 0 || document.body.innerText.trim() !== '')`

// Audit visits target and runs every check in order. It always returns a
// report; failures are recorded in the affected section.
func (a *Auditor) Audit(ctx context.Context, d browser.Driver, target string) *Report {
	start := time.Now()
	r := &Report{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: start.UTC(),
	}
	if !a.opts.Viewport.IsZero() {
		r.Viewport = a.opts.Viewport.String()
	}
	logger := a.logger.With(zap.String("audit_id", r.ID), zap.String("target", target))
	defer func() {
		r.Duration = time.Since(start)
	}()

	if err := a.navigate(ctx, d, r); err != nil {
		logger.Warn("Navigation failed, skipping checks.", zap.Error(err))
		r.failNavigation(fmt.Errorf("navigation failed: %w", err))
		a.collectConsole(d, r)
		return r
	}
	logger.Debug("Page loaded.", zap.String("final_url", r.FinalURL), zap.Duration("load", r.LoadDuration))

	a.run(logger, "capabilities", &r.Capabilities.Section, func() error {
		r.Capabilities.Results = probes.RunProbes(ctx, d, a.opts.Probes,
			probes.WithTimeout(a.opts.ProbeTimeout),
			probes.WithLogger(logger),
			probes.WithFailureHook(func(p probes.Probe, _ error) { a.metrics.ProbeFailed(p.Name) }),
		)
		return ctx.Err()
	})

	a.run(logger, "headings", &r.Headings.Section, func() error {
		hctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
		defer cancel()
		nodes, err := headings.Extract(hctx, d)
		if err != nil {
			return err
		}
		r.Headings.Nodes = nodes
		r.Headings.Issues = headings.Validate(nodes, a.opts.HeadingFilter)
		return nil
	})

	a.run(logger, "contrast", &r.Contrast.Section, func() error {
		samples, err := a.sampleContrast(ctx, d)
		r.Contrast.Samples = samples
		return err
	})

	// The walk mutates focus, so it runs after every read-only check.
	a.run(logger, "tab_order", &r.TabOrder.Section, func() error {
		walk := tabwalk.New(a.opts.TabPolicy, tabwalk.WithLogger(logger)).Walk(ctx, d)
		r.TabOrder.Walk = walk
		if walk.Trapped {
			a.metrics.TabTrapSuspected()
		}
		if walk.Incomplete {
			return errors.New(walk.Reason + ": " + walk.Error)
		}
		return nil
	})

	if a.opts.OfflineCheck {
		r.Offline = &OfflineSection{}
		a.run(logger, "offline", &r.Offline.Section, func() error {
			return a.checkOffline(ctx, d, r)
		})
	}

	a.collectConsole(d, r)
	logger.Info("Audit finished.",
		zap.Bool("incomplete", r.Incomplete()),
		zap.Int("issues", len(r.Headings.Issues)),
		zap.Bool("trapped", r.TabOrder.Walk.Trapped),
		zap.Duration("duration", time.Since(start)))
	return r
}

// run executes one section, converting errors and panics into an incomplete
// section.
func (a *Auditor) run(logger *zap.Logger, name string, s *Section, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Audit section panicked.", zap.String("section", name), zap.Any("panic", p))
			s.fail(fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("Audit section incomplete.", zap.String("section", name), zap.Error(err))
		s.fail(err)
	}
}

func (a *Auditor) navigate(ctx context.Context, d browser.Driver, r *Report) error {
	if !a.opts.Viewport.IsZero() {
		vctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
		err := d.SetViewportSize(vctx, a.opts.Viewport.Width, a.opts.Viewport.Height)
		cancel()
		if err != nil {
			return fmt.Errorf("set viewport %s: %w", a.opts.Viewport, err)
		}
	}

	nctx, cancel := context.WithTimeout(ctx, a.opts.NavigationTimeout)
	defer cancel()
	loadStart := time.Now()
	if err := d.Navigate(nctx, r.Target); err != nil {
		return err
	}
	r.LoadDuration = time.Since(loadStart)

	if a.opts.PostLoadWait > 0 {
		select {
		case <-time.After(a.opts.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	mctx, mcancel := context.WithTimeout(ctx, a.opts.StepTimeout)
	defer mcancel()
	raw, err := d.Evaluate(mctx, metaScript)
	if err != nil {
		// Metadata is best effort; the checks can still run.
		a.logger.Debug("Could not read page metadata.", zap.Error(err))
		r.FinalURL = r.Target
		return nil
	}
	var meta struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(raw, &meta); err == nil {
		r.Title, r.FinalURL = meta.Title, meta.URL
	}
	if r.FinalURL == "" {
		r.FinalURL = r.Target
	}
	return nil
}

func (a *Auditor) checkOffline(ctx context.Context, d browser.Driver, r *Report) (err error) {
	sctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
	err = d.SetOffline(sctx, true)
	cancel()
	if err != nil {
		return fmt.Errorf("go offline: %w", err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(browser.Detach(ctx), a.opts.StepTimeout)
		defer rcancel()
		if rerr := d.SetOffline(rctx, false); rerr != nil && err == nil {
			err = fmt.Errorf("restore network: %w", rerr)
		}
	}()

	nctx, ncancel := context.WithTimeout(ctx, a.opts.NavigationTimeout)
	navErr := d.Navigate(nctx, r.FinalURL)
	ncancel()
	if navErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Offline.Detail = navErr.Error()
		return nil
	}

	ectx, ecancel := context.WithTimeout(ctx, a.opts.StepTimeout)
	defer ecancel()
	raw, err := d.Evaluate(ectx, offlineScript)
	if err != nil {
		r.Offline.Detail = err.Error()
		return nil
	}
	return json.Unmarshal(raw, &r.Offline.Rendered)
}

func (a *Auditor) collectConsole(d browser.Driver, r *Report) {
	if rec, ok := d.(browser.ConsoleRecorder); ok {
		r.Console = rec.ConsoleMessages()
	}
}
