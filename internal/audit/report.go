package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/pageprobe/internal/audit/contrast"
	"github.com/xkilldash9x/pageprobe/internal/audit/headings"
	"github.com/xkilldash9x/pageprobe/internal/audit/probes"
	"github.com/xkilldash9x/pageprobe/internal/audit/tabwalk"
	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// Section carries the completion state every report section shares.
type Section struct {
	Incomplete bool   `json:"incomplete"`
	Error      string `json:"error,omitempty"`
}

func (s *Section) fail(err error) {
	s.Incomplete = true
	s.Error = err.Error()
}

// CapabilitySection is the capability matrix for the page.
type CapabilitySection struct {
	Section
	Results probes.Report `json:"results"`
}

// HeadingSection holds the extracted outline and its violations.
type HeadingSection struct {
	Section
	Nodes  []headings.Node  `json:"nodes"`
	Issues []headings.Issue `json:"issues"`
}

// ContrastSample is one element's text contrast measurement.
type ContrastSample struct {
	Selector  string          `json:"selector"`
	Index     int             `json:"index"`
	FontSize  float64         `json:"fontSize"`
	Bold      bool            `json:"bold"`
	LargeText bool            `json:"largeText"`
	Result    contrast.Result `json:"result"`
}

// ContrastSection holds every sampled element.
type ContrastSection struct {
	Section
	Samples []ContrastSample `json:"samples"`
}

// Failing returns the samples that were measured and did not pass.
func (c ContrastSection) Failing() []ContrastSample {
	var out []ContrastSample
	for _, s := range c.Samples {
		if s.Result.Error == "" && !s.Result.Passes {
			out = append(out, s)
		}
	}
	return out
}

// Unmeasurable returns the samples whose colours could not be read or
// parsed. They count against the page like a failing ratio.
func (c ContrastSection) Unmeasurable() []ContrastSample {
	var out []ContrastSample
	for _, s := range c.Samples {
		if s.Result.Error != "" {
			out = append(out, s)
		}
	}
	return out
}

// TabOrderSection wraps the keyboard walk.
type TabOrderSection struct {
	Section
	Walk tabwalk.Result `json:"walk"`
}

// OfflineSection records whether the page still renders with the network
// disabled.
type OfflineSection struct {
	Section
	Rendered bool   `json:"rendered"`
	Detail   string `json:"detail,omitempty"`
}

// Report is the outcome of auditing one page at one viewport. It is owned by
// the caller.
type Report struct {
	ID       string `json:"id"`
	RunID    string `json:"runId,omitempty"`
	Target   string `json:"target"`
	Viewport string `json:"viewport,omitempty"`

	FinalURL     string        `json:"finalUrl,omitempty"`
	Title        string        `json:"title,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	LoadDuration time.Duration `json:"loadDuration"`
	Duration     time.Duration `json:"duration"`

	Navigation   Section           `json:"navigation"`
	Capabilities CapabilitySection `json:"capabilities"`
	Headings     HeadingSection    `json:"headings"`
	Contrast     ContrastSection   `json:"contrast"`
	TabOrder     TabOrderSection   `json:"tabOrder"`
	Offline      *OfflineSection   `json:"offline,omitempty"`

	Console []browser.ConsoleMessage `json:"console,omitempty"`
}

// NewFailedReport builds the report for a page that could not be loaded at
// all, e.g. because no browser session could be opened.
func NewFailedReport(target string, vp browser.Viewport, err error) *Report {
	r := &Report{ID: uuid.NewString(), Target: target, StartedAt: time.Now().UTC()}
	if !vp.IsZero() {
		r.Viewport = vp.String()
	}
	r.failNavigation(err)
	return r
}

func (r *Report) failNavigation(err error) {
	r.Navigation.fail(err)
	for _, s := range []*Section{&r.Capabilities.Section, &r.Headings.Section, &r.Contrast.Section, &r.TabOrder.Section} {
		s.fail(err)
	}
}

// Incomplete reports whether any section could not finish.
func (r *Report) Incomplete() bool {
	if r.Navigation.Incomplete || r.Capabilities.Incomplete || r.Headings.Incomplete ||
		r.Contrast.Incomplete || r.TabOrder.Incomplete {
		return true
	}
	return r.Offline != nil && r.Offline.Incomplete
}

// Passed is true when the report has no error-level findings.
func (r *Report) Passed() bool {
	for _, f := range r.Findings() {
		if f.Severity.IsError() {
			return false
		}
	}
	return true
}

// Status is the label used for metrics and summaries.
func (r *Report) Status() string {
	switch {
	case r.Navigation.Incomplete:
		return "error"
	case !r.Passed():
		return "fail"
	default:
		return "pass"
	}
}
