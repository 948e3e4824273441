// Package tabwalk drives the keyboard through a page's tab order and flags
// likely focus traps.
//
// Trap detection is a heuristic. A page that legitimately has very few
// focusable elements and never releases focus to the document can be
// misclassified, and a trap spanning more distinct elements than the policy
// allows will not be detected. Results should be read as "suspected".
package tabwalk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// State of the walk.
type State string

const (
	Walking    State = "walking"
	Cycling    State = "cycling"
	Terminated State = "terminated"
)

// Reasons a walk terminated.
const (
	ReasonReturnedToBody = "focus returned to document body"
	ReasonStepCap        = "step cap reached"
	ReasonTrapSuspected  = "suspected keyboard trap"
	ReasonLostFocus      = "lost active element"
	ReasonKeyFailed      = "key press failed"
	ReasonCanceled       = "walk canceled"
)

// Visit is one focus stop.
type Visit struct {
	Signature           string `json:"signature"`
	Tag                 string `json:"tag"`
	ID                  string `json:"id,omitempty"`
	Role                string `json:"role,omitempty"`
	Text                string `json:"text,omitempty"`
	HasVisibleIndicator bool   `json:"hasVisibleIndicator"`
}

// Result of a walk. Visits holds every stop recorded before termination.
type Result struct {
	Visits            []Visit `json:"visits"`
	Trapped           bool    `json:"trapped"`
	Incomplete        bool    `json:"incomplete"`
	State             State   `json:"state"`
	Reason            string  `json:"reason"`
	Error             string  `json:"error,omitempty"`
	Steps             int     `json:"steps"`
	CycleStep         int     `json:"cycleStep,omitempty"`
	DistinctCount     int     `json:"distinctCount"`
	IndicatorCoverage float64 `json:"indicatorCoverage"`
	IndicatorPasses   bool    `json:"indicatorPasses"`
}

// ActiveElementScript describes document.activeElement. It resolves to
// null when there is none and {body: true} when focus sits on the document.
const ActiveElementScript = `() => {
  const el = document.activeElement;
  if (!el) return null;
  if (el === document.body || el === document.documentElement) return {body: true};
  const style = getComputedStyle(el);
  const outline = style.outlineStyle !== 'none' && parseFloat(style.outlineWidth) > 0;
  const shadow = style.boxShadow !== '' && style.boxShadow !== 'none';
  const focusClass = /focus/i.test(typeof el.className === 'string' ? el.className : '');
  const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim().replace(/\s+/g, ' ');
  return {
    body: false,
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    role: el.getAttribute('role') || '',
    text: text.slice(0, 200),
    indicator: outline || shadow || focusClass
  };
}`

type activeElement struct {
	Body      bool   `json:"body"`
	Tag       string `json:"tag"`
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Indicator bool   `json:"indicator"`
}

// Walker walks the tab order of one page.
type Walker struct {
	policy Policy
	logger *zap.Logger
}

// Option configures a Walker.
type Option func(*Walker)

func WithLogger(l *zap.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Walker. Zero policy fields fall back to DefaultPolicy.
func New(policy Policy, opts ...Option) *Walker {
	w := &Walker{policy: policy.withDefaults(), logger: zap.NewNop()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Policy returns the effective policy.
func (w *Walker) Policy() Policy { return w.policy }

// Walk presses Tab at most MaxSteps times. It never returns an error:
// driver failures end the walk with Incomplete set.
func (w *Walker) Walk(ctx context.Context, d browser.Driver) (res Result) {
	p := w.policy
	res.State = Walking
	distinct := make(map[string]bool)
	withIndicator := make(map[string]bool)

	defer func() {
		if r := recover(); r != nil {
			res.State = Terminated
			res.Incomplete = true
			res.Reason = ReasonLostFocus
			res.Error = fmt.Sprintf("walker panicked: %v", r)
		}
		res.DistinctCount = len(distinct)
		res.IndicatorCoverage, res.IndicatorPasses = coverage(distinct, withIndicator, p.IndicatorCoverageThreshold)
	}()

	for step := 1; step <= p.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return w.stop(res, ReasonCanceled, err)
		}

		stepCtx, cancel := context.WithTimeout(ctx, p.StepTimeout)
		err := d.PressKey(stepCtx, "Tab")
		if err != nil {
			cancel()
			return w.stop(res, ReasonKeyFailed, err)
		}
		el, err := readActive(stepCtx, d)
		cancel()
		res.Steps = step
		if err != nil {
			return w.stop(res, ReasonLostFocus, err)
		}

		if el.Body {
			if step >= p.MinStepsBeforeEnd {
				res.State = Terminated
				res.Reason = ReasonReturnedToBody
				return res
			}
			continue
		}

		v := w.visit(el)
		if step > p.MinStepsBeforeEnd && seenRecently(res.Visits, v.Signature, p.LookbackWindow) && res.State == Walking {
			res.State = Cycling
			res.CycleStep = step
			w.logger.Debug("Focus signature repeated.", zap.String("signature", v.Signature), zap.Int("step", step))
		}
		res.Visits = append(res.Visits, v)
		distinct[v.Signature] = true
		if v.HasVisibleIndicator {
			withIndicator[v.Signature] = true
		}

		if res.State == Cycling && step >= p.StepsBeforeSuspicion && len(distinct) < p.MinDistinctBeforeSuspicion {
			res.Trapped = true
			res.State = Terminated
			res.Reason = ReasonTrapSuspected
			w.logger.Info("Suspected keyboard trap.", zap.Int("steps", step), zap.Int("distinct", len(distinct)))
			return res
		}
	}

	res.State = Terminated
	res.Reason = ReasonStepCap
	return res
}

func (w *Walker) stop(res Result, reason string, err error) Result {
	res.State = Terminated
	res.Incomplete = true
	res.Reason = reason
	res.Error = err.Error()
	w.logger.Debug("Tab walk ended early.", zap.String("reason", reason), zap.Error(err))
	return res
}

func (w *Walker) visit(el activeElement) Visit {
	text := truncate(el.Text, w.policy.TextPrefixLen)
	return Visit{
		Signature:           signature(el.Tag, el.ID, text, el.Role),
		Tag:                 el.Tag,
		ID:                  el.ID,
		Role:                el.Role,
		Text:                text,
		HasVisibleIndicator: el.Indicator,
	}
}

func readActive(ctx context.Context, d browser.Driver) (activeElement, error) {
	raw, err := d.Evaluate(ctx, ActiveElementScript)
	if err != nil {
		return activeElement{}, err
	}
	var el *activeElement
	if err := json.Unmarshal(raw, &el); err != nil {
		return activeElement{}, fmt.Errorf("decode active element: %w", err)
	}
	if el == nil || (!el.Body && el.Tag == "") {
		return activeElement{}, browser.ErrNoActiveElement
	}
	return *el, nil
}

func signature(tag, id, text, role string) string {
	var b strings.Builder
	b.WriteString(tag)
	if id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	b.WriteString("|")
	b.WriteString(text)
	b.WriteString("|")
	b.WriteString(role)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func seenRecently(visits []Visit, sig string, window int) bool {
	for i := len(visits) - 1; i >= 0 && i >= len(visits)-window; i-- {
		if visits[i].Signature == sig {
			return true
		}
	}
	return false
}

// coverage is computed over distinct focus stops so a cycle does not skew it.
// A page with no focus stops passes vacuously.
func coverage(distinct, withIndicator map[string]bool, threshold float64) (float64, bool) {
	if len(distinct) == 0 {
		return 0, true
	}
	c := float64(len(withIndicator)) / float64(len(distinct))
	return c, c >= threshold
}
