package probes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// Status is the outcome class of a single probe.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnsupported Status = "unsupported"
	StatusError       Status = "error"
)

// Result is one probe's answer.
type Result struct {
	Kind      Kind           `json:"kind"`
	Supported bool           `json:"supported"`
	Status    Status         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Report maps probe names to results. Each page visit gets a fresh one.
type Report map[string]Result

// Failed returns the names of probes that errored.
func (r Report) Failed() []string {
	var names []string
	for name, res := range r {
		if res.Status == StatusError {
			names = append(names, name)
		}
	}
	return names
}

// DefaultTimeout bounds each probe when no option overrides it.
const DefaultTimeout = 5 * time.Second

type runConfig struct {
	timeout   time.Duration
	logger    *zap.Logger
	onFailure func(Probe, error)
}

// Option configures RunProbes.
type Option func(*runConfig)

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFailureHook is called once for every probe that errors.
func WithFailureHook(fn func(Probe, error)) Option {
	return func(c *runConfig) { c.onFailure = fn }
}

// RunProbes evaluates every probe in set. Failures of any kind, including
// panics, are recorded against that probe and never affect the others.
func RunProbes(ctx context.Context, d browser.Driver, set Set, opts ...Option) Report {
	cfg := runConfig{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	report := make(Report, set.Len())
	for _, p := range set.probes {
		res, err := runOne(ctx, d, p, cfg.timeout)
		if err != nil {
			res = Result{Kind: p.Kind, Status: StatusError, Error: err.Error()}
			cfg.logger.Debug("Probe failed.", zap.String("probe", p.Name), zap.Error(err))
			if cfg.onFailure != nil {
				cfg.onFailure(p, err)
			}
		}
		report[p.Name] = res
	}
	return report
}

type scriptResult struct {
	Supported *bool          `json:"supported"`
	Detail    map[string]any `json:"detail"`
}

func runOne(ctx context.Context, d browser.Driver, p Probe, timeout time.Duration) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	def, ok := Lookup(p.Kind)
	if !ok {
		return Result{}, fmt.Errorf("unknown kind %q", p.Kind)
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Leave the script some headroom to resolve before the driver deadline.
	raw, err := d.Evaluate(pctx, def.Script, map[string]any{"timeoutMs": (timeout * 8 / 10).Milliseconds()})
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return Result{}, err
	}

	var sr scriptResult
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if sr.Supported == nil {
		return Result{}, fmt.Errorf("unexpected result %s", string(raw))
	}

	status := StatusOK
	if !*sr.Supported {
		status = StatusUnsupported
	}
	return Result{Kind: p.Kind, Supported: *sr.Supported, Status: status, Detail: sr.Detail}, nil
}
