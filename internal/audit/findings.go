package audit

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/audit/headings"
	"github.com/xkilldash9x/pageprobe/internal/audit/probes"
	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// Findings flattens the report into findings, worst first. Findings of equal
// severity keep section order: navigation, capabilities, headings, contrast,
// tab order, offline, console.
func (r *Report) Findings() []schemas.Finding {
	var out []schemas.Finding
	add := func(f schemas.Finding, evidence any) {
		f.ID = fmt.Sprintf("%s-%d", r.ID, len(out)+1)
		f.RunID = r.RunID
		f.AuditID = r.ID
		f.ObservedAt = r.StartedAt
		f.Target = r.Target
		f.Viewport = r.Viewport
		if evidence != nil {
			if raw, err := json.Marshal(evidence); err == nil {
				f.Evidence = raw
			}
		}
		out = append(out, f)
	}

	if r.Navigation.Incomplete {
		add(schemas.Finding{
			Check:          schemas.CheckNavigation,
			Rule:           "Navigation Failed",
			Severity:       schemas.SeverityHigh,
			Description:    fmt.Sprintf("The page could not be loaded: %s", r.Navigation.Error),
			Recommendation: "Verify the URL is reachable from the audit host and loads within the navigation timeout.",
		}, nil)
		return out
	}

	r.capabilityFindings(add)
	r.headingFindings(add)
	r.contrastFindings(add)
	r.tabOrderFindings(add)

	if o := r.Offline; o != nil && !o.Incomplete && !o.Rendered {
		add(schemas.Finding{
			Check:          schemas.CheckOffline,
			Rule:           "Unavailable Offline",
			Severity:       schemas.SeverityInfo,
			Description:    "The page rendered no content after reloading with the network disabled.",
			Recommendation: "Register a service worker that serves an offline fallback if the page should work offline.",
		}, map[string]any{"detail": o.Detail})
	}

	if n := countErrors(r); n > 0 {
		add(schemas.Finding{
			Check:          schemas.CheckConsole,
			Rule:           "Console Errors",
			Severity:       schemas.SeverityLow,
			Description:    fmt.Sprintf("The page logged %d console error(s) or uncaught exception(s) while loading.", n),
			Recommendation: "Fix script errors; failed scripts commonly leave widgets without keyboard or screen reader support.",
		}, r.Console)
	}

	for _, sec := range []struct {
		check schemas.Check
		s     Section
	}{
		{schemas.CheckCapabilities, r.Capabilities.Section},
		{schemas.CheckHeadings, r.Headings.Section},
		{schemas.CheckContrast, r.Contrast.Section},
		{schemas.CheckTabOrder, r.TabOrder.Section},
	} {
		if sec.s.Incomplete {
			add(schemas.Finding{
				Check:          sec.check,
				Rule:           "Check Incomplete",
				Severity:       schemas.SeverityInfo,
				Description:    fmt.Sprintf("The %s check did not finish: %s", sec.check, sec.s.Error),
				Recommendation: "Re-run the audit; persistent failures usually mean the page navigates or reloads on its own.",
			}, nil)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

type addFunc func(schemas.Finding, any)

func (r *Report) capabilityFindings(add addFunc) {
	names := make([]string, 0, len(r.Capabilities.Results))
	for name := range r.Capabilities.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := r.Capabilities.Results[name]
		def, ok := probes.Lookup(res.Kind)
		if !ok {
			continue
		}
		switch {
		case res.Status == probes.StatusError:
			add(schemas.Finding{
				Check:          schemas.CheckCapabilities,
				Rule:           "Probe Failed",
				Severity:       schemas.SeverityInfo,
				Description:    fmt.Sprintf("Probe %q could not run: %s", name, res.Error),
				Recommendation: "Check the page for script errors or a restrictive Content-Security-Policy.",
			}, res)
		case res.Status == probes.StatusUnsupported && def.Category == probes.CategoryAccessibility:
			add(schemas.Finding{
				Check:          schemas.CheckCapabilities,
				Rule:           def.Description,
				Severity:       schemas.SeverityMedium,
				Description:    fmt.Sprintf("Probe %q did not hold. Expected: %s.", name, def.Description),
				Recommendation: "See WCAG success criterion " + def.Guideline + ".",
				Guidelines:     []string{def.Guideline},
			}, res.Detail)
		}
	}
}

func (r *Report) headingFindings(add addFunc) {
	for _, issue := range r.Headings.Issues {
		f := schemas.Finding{
			Check:       schemas.CheckHeadings,
			Description: issue.Message(),
			Guidelines:  []string{"1.3.1", "2.4.6"},
		}
		switch issue.Kind {
		case headings.MissingH1:
			f.Rule, f.Severity = "Missing H1", schemas.SeverityMedium
			f.Recommendation = "Give the page exactly one H1 describing its main content."
		case headings.MultipleH1:
			f.Rule, f.Severity = "Multiple H1", schemas.SeverityLow
			f.Recommendation = "Demote secondary H1 headings so the page has a single top-level heading."
		case headings.SkippedLevel:
			f.Rule, f.Severity = "Skipped Heading Level", schemas.SeverityMedium
			f.Recommendation = "Restructure the outline so heading levels increase by one at a time."
		case headings.EmptyHeading:
			f.Rule, f.Severity = "Empty Heading", schemas.SeverityMedium
			f.Recommendation = "Give every heading visible text or an accessible name, or remove it."
		default:
			f.Rule, f.Severity = string(issue.Kind), schemas.SeverityLow
		}
		add(f, issue)
	}
}

func (r *Report) contrastFindings(add addFunc) {
	for _, s := range r.Contrast.Failing() {
		add(schemas.Finding{
			Check:    schemas.CheckContrast,
			Rule:     "Insufficient Text Contrast",
			Severity: schemas.SeverityHigh,
			Description: fmt.Sprintf("%s[%d] has contrast %.2f:1 (%s on %s), below %.1f:1.",
				s.Selector, s.Index, s.Result.Ratio, s.Result.Foreground, s.Result.Background, s.Result.Threshold),
			Recommendation: "Darken the text or lighten the background until the ratio meets the threshold.",
			Guidelines:     []string{"1.4.3"},
		}, s)
	}
	for _, s := range r.Contrast.Unmeasurable() {
		add(schemas.Finding{
			Check:    schemas.CheckContrast,
			Rule:     "Contrast Not Measurable",
			Severity: schemas.SeverityHigh,
			Description: fmt.Sprintf("%s[%d] text contrast could not be measured: %s.",
				s.Selector, s.Index, s.Result.Error),
			Recommendation: "Use an sRGB text colour over an opaque background so contrast can be verified.",
			Guidelines:     []string{"1.4.3"},
		}, s)
	}
}

func (r *Report) tabOrderFindings(add addFunc) {
	w := r.TabOrder.Walk
	if w.Trapped {
		add(schemas.Finding{
			Check:    schemas.CheckTabOrder,
			Rule:     "Keyboard Trap",
			Severity: schemas.SeverityCritical,
			Description: fmt.Sprintf("Suspected keyboard trap: focus cycled among %d element(s) for %d Tab presses without returning to the document.",
				w.DistinctCount, w.Steps),
			Recommendation: "Make sure every component that receives focus can be left with Tab, Shift+Tab or Escape.",
			Guidelines:     []string{"2.1.2"},
		}, map[string]any{"cycleStep": w.CycleStep, "visits": tail(w.Visits, 10)})
	}
	if w.DistinctCount > 0 && !w.IndicatorPasses {
		add(schemas.Finding{
			Check:    schemas.CheckTabOrder,
			Rule:     "Focus Not Visible",
			Severity: schemas.SeverityHigh,
			Description: fmt.Sprintf("Only %.0f%% of %d focusable elements show a visible focus indicator.",
				w.IndicatorCoverage*100, w.DistinctCount),
			Recommendation: "Do not remove outlines without providing an equivalent :focus-visible style.",
			Guidelines:     []string{"2.4.7"},
		}, map[string]any{"coverage": w.IndicatorCoverage})
	}
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func countErrors(r *Report) int {
	n := 0
	for _, m := range r.Console {
		if m.Level == browser.ConsoleError || m.Level == browser.ConsolePageError {
			n++
		}
	}
	return n
}
