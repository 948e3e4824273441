package tabwalk

import (
	"time"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

// Policy parameterises the walk and its trap heuristic.
type Policy struct {
	// MaxSteps is a hard cap on Tab presses.
	MaxSteps int
	// MinStepsBeforeEnd is how many presses must happen before a return to
	// the document body counts as the natural end of the tab cycle.
	MinStepsBeforeEnd int
	// LookbackWindow is how many recent visits are searched for a repeat.
	LookbackWindow int
	// A walk that has made StepsBeforeSuspicion presses while seeing fewer
	// than MinDistinctBeforeSuspicion distinct elements is called a trap.
	StepsBeforeSuspicion       int
	MinDistinctBeforeSuspicion int
	// TextPrefixLen is how much visible text goes into a signature.
	TextPrefixLen int
	// IndicatorCoverageThreshold is the share of distinct focus stops that
	// must show a visible focus indicator.
	IndicatorCoverageThreshold float64
	StepTimeout                time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxSteps:                   60,
		MinStepsBeforeEnd:          3,
		LookbackWindow:             5,
		StepsBeforeSuspicion:       30,
		MinDistinctBeforeSuspicion: 5,
		TextPrefixLen:              30,
		IndicatorCoverageThreshold: 0.7,
		StepTimeout:                5 * time.Second,
	}
}

// PolicyFromConfig maps the configured walker section onto a Policy.
func PolicyFromConfig(cfg config.TabWalkerConfig, stepTimeout time.Duration) Policy {
	return Policy{
		MaxSteps:                   cfg.MaxSteps,
		MinStepsBeforeEnd:          cfg.MinStepsBeforeEnd,
		LookbackWindow:             cfg.LookbackWindow,
		StepsBeforeSuspicion:       cfg.StepsBeforeSuspicion,
		MinDistinctBeforeSuspicion: cfg.MinDistinctBeforeSuspicion,
		TextPrefixLen:              cfg.TextPrefixLen,
		IndicatorCoverageThreshold: cfg.IndicatorCoverage,
		StepTimeout:                stepTimeout,
	}.withDefaults()
}

// withDefaults fills zero fields that would make the walk meaningless.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxSteps <= 0 {
		p.MaxSteps = d.MaxSteps
	}
	if p.LookbackWindow <= 0 {
		p.LookbackWindow = d.LookbackWindow
	}
	if p.TextPrefixLen <= 0 {
		p.TextPrefixLen = d.TextPrefixLen
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = d.StepTimeout
	}
	return p
}
