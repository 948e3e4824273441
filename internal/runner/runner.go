// Package runner fans page audits out over a bounded pool of browser
// sessions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pageprobe/internal/audit"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/observability"
)

// Job is one page audited at one viewport.
type Job struct {
	Target   string
	Viewport browser.Viewport
}

func (j Job) String() string {
	if j.Viewport.IsZero() {
		return j.Target
	}
	return j.Target + "@" + j.Viewport.String()
}

// Jobs expands targets into one job per viewport. Targets must be absolute
// http(s) or file URLs; every invalid target is reported.
func Jobs(targets []string, viewports []browser.Viewport) ([]Job, error) {
	if len(viewports) == 0 {
		viewports = []browser.Viewport{{}}
	}
	var (
		jobs []Job
		errs []error
	)
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if err := validateTarget(t); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, vp := range viewports {
			jobs = append(jobs, Job{Target: t, Viewport: vp})
		}
	}
	return jobs, errors.Join(errs...)
}

func validateTarget(t string) error {
	u, err := url.Parse(t)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", t, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid target %q: missing host", t)
		}
	case "file":
	default:
		return fmt.Errorf("invalid target %q: scheme must be http, https or file", t)
	}
	return nil
}

// Sink receives every finished report. The runner calls sinks from a single
// goroutine, in job order, once all jobs have run.
type Sink interface {
	Emit(ctx context.Context, r *audit.Report) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r *audit.Report) error

func (f SinkFunc) Emit(ctx context.Context, r *audit.Report) error { return f(ctx, r) }

// Summary describes a finished batch.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Reports is index-aligned with the submitted jobs. Jobs skipped because
	// the run was canceled have a nil entry.
	Reports    []*audit.Report
	Passed     int
	Failed     int
	Errored    int
	Skipped    int
	SinkErrors int
}

// OK reports whether every job ran and passed.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0 && s.Skipped == 0
}

// Runner executes jobs. Each job gets its own driver from the factory.
type Runner struct {
	factory     browser.SessionFactory
	auditor     *audit.Auditor
	logger      *zap.Logger
	metrics     *observability.Metrics
	sinks       []Sink
	concurrency int
	limiter     *rate.Limiter
	jobTimeout  time.Duration
	runID       string
}

// Option is a function that configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithConcurrency bounds how many sessions are open at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRateLimit caps navigations per second across all workers. Zero or
// negative disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(r *Runner) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			r.limiter = nil
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.jobTimeout = d
		}
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// New creates a Runner.
func New(factory browser.SessionFactory, auditor *audit.Auditor, opts ...Option) (*Runner, error) {
	if factory == nil {
		return nil, errors.New("session factory cannot be nil")
	}
	if auditor == nil {
		return nil, errors.New("auditor cannot be nil")
	}
	r := &Runner{
		factory:     factory,
		auditor:     auditor,
		logger:      zap.NewNop(),
		concurrency: 4,
		jobTimeout:  3 * time.Minute,
		runID:       uuid.NewString(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"), zap.String("run_id", r.runID))
	return r, nil
}

// RunID identifies this runner's batch.
func (r *Runner) RunID() string { return r.runID }

// Run audits every job. A failing page never halts the batch; the returned
// error is non-nil only when ctx ends before all jobs ran.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	sum := &Summary{
		RunID:     r.runID,
		StartedAt: time.Now().UTC(),
		Reports:   make([]*audit.Report, len(jobs)),
	}
	r.logger.Info("Starting audit run", zap.Int("jobs", len(jobs)), zap.Int("concurrency", r.concurrency))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		i, job := i, job
		g.Go(func() error {
			sum.Reports[i] = r.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, rep := range sum.Reports {
		switch {
		case rep == nil:
			sum.Skipped++
		case rep.Status() == "pass":
			sum.Passed++
		case rep.Status() == "fail":
			sum.Failed++
		default:
			sum.Errored++
		}
	}

	sinkCtx, cancel := context.WithTimeout(browser.Detach(ctx), 30*time.Second)
	defer cancel()
	for _, rep := range sum.Reports {
		if rep == nil {
			continue
		}
		for _, s := range r.sinks {
			if err := s.Emit(sinkCtx, rep); err != nil {
				sum.SinkErrors++
				r.logger.Error("Sink failed to accept report", zap.String("audit_id", rep.ID), zap.Error(err))
			}
		}
	}
	sum.FinishedAt = time.Now().UTC()

	r.logger.Info("Audit run finished",
		zap.Int("passed", sum.Passed),
		zap.Int("failed", sum.Failed),
		zap.Int("errored", sum.Errored),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)))

	if sum.Skipped > 0 {
		return sum, fmt.Errorf("run interrupted with %d job(s) not started: %w", sum.Skipped, context.Cause(ctx))
	}
	return sum, nil
}

// runJob returns nil only when the job never started because ctx ended.
func (r *Runner) runJob(ctx context.Context, job Job) (rep *audit.Report) {
	logger := r.logger.With(zap.String("job", job.String()))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Audit job panicked", zap.Any("panic", p))
			rep = audit.NewFailedReport(job.Target, job.Viewport, fmt.Errorf("panic: %v", p))
		}
		if rep != nil {
			rep.RunID = r.runID
			r.record(rep)
		}
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			logger.Debug("Context cancelled while waiting for rate limiter", zap.Error(err))
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	d, err := r.factory.NewSession(jobCtx)
	if err != nil {
		logger.Warn("Could not open browser session", zap.Error(err))
		return audit.NewFailedReport(job.Target, job.Viewport, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		closeCtx, ccancel := context.WithTimeout(browser.Detach(ctx), 10*time.Second)
		defer ccancel()
		if err := d.Close(closeCtx); err != nil {
			logger.Debug("Error closing browser session", zap.Error(err))
		}
	}()

	return r.auditor.WithViewport(job.Viewport).Audit(jobCtx, d, job.Target)
}

func (r *Runner) record(rep *audit.Report) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveAudit(rep.Status(), rep.Duration)
	counts := make(map[string]int)
	for _, f := range rep.Findings() {
		counts[string(f.Severity)]++
	}
	for sev, n := range counts {
		r.metrics.AddFindings(sev, n)
	}
}
