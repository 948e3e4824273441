package tabwalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/mocks"
)

type el = map[string]any

func focusable(id string, indicator bool) el {
	return el{"body": false, "tag": "a", "id": id, "role": "", "text": "link " + id, "indicator": indicator}
}

var body = el{"body": true}

// sequenceDriver answers the active element script from focusAt, indexed by
// the number of Tab presses so far.
func sequenceDriver(focusAt func(press int) any) *mocks.FakeDriver {
	d := mocks.NewFakeDriver()
	d.OnScript(ActiveElementScript, func(context.Context, []any) (json.RawMessage, error) {
		v := focusAt(d.Presses())
		if err, ok := v.(error); ok {
			return nil, err
		}
		return json.Marshal(v)
	})
	return d
}

func cycle(items ...el) func(int) any {
	return func(press int) any { return items[(press-1)%len(items)] }
}

func TestWalk_NaturalEnd(t *testing.T) {
	seq := []any{focusable("a", true), focusable("b", true), focusable("c", true), focusable("d", false), body}
	d := sequenceDriver(func(press int) any { return seq[press-1] })

	res := New(DefaultPolicy()).Walk(context.Background(), d)

	assert.Equal(t, Terminated, res.State)
	assert.Equal(t, ReasonReturnedToBody, res.Reason)
	assert.False(t, res.Trapped)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 5, res.Steps)
	require.Len(t, res.Visits, 4)
	assert.Equal(t, "a#a|link a|", res.Visits[0].Signature)
	assert.Equal(t, 4, res.DistinctCount)
	assert.Equal(t, 0.75, res.IndicatorCoverage)
	assert.True(t, res.IndicatorPasses)
	assert.Equal(t, []string{"Tab", "Tab", "Tab", "Tab", "Tab"}, d.Keys)
}

func TestWalk_EarlyBodyIsSkipped(t *testing.T) {
	seq := []any{body, focusable("a", true), focusable("b", true), body}
	d := sequenceDriver(func(press int) any { return seq[press-1] })

	res := New(DefaultPolicy()).Walk(context.Background(), d)
	assert.Equal(t, ReasonReturnedToBody, res.Reason)
	assert.Equal(t, 4, res.Steps)
	assert.Len(t, res.Visits, 2)
}

func TestWalk_FocusNeverMoves(t *testing.T) {
	d := sequenceDriver(cycle(focusable("stuck", false)))

	res := New(DefaultPolicy()).Walk(context.Background(), d)

	assert.True(t, res.Trapped)
	assert.Equal(t, Terminated, res.State)
	assert.Equal(t, ReasonTrapSuspected, res.Reason)
	assert.Equal(t, 30, d.Presses())
	assert.LessOrEqual(t, d.Presses(), DefaultPolicy().MaxSteps)
	assert.Equal(t, 4, res.CycleStep)
	assert.Equal(t, 1, res.DistinctCount)
	assert.False(t, res.IndicatorPasses)
}

func TestWalk_TerminatesWithinMaxSteps(t *testing.T) {
	for _, maxSteps := range []int{1, 7, 29, 60} {
		t.Run(fmt.Sprint(maxSteps), func(t *testing.T) {
			p := DefaultPolicy()
			p.MaxSteps = maxSteps
			p.StepsBeforeSuspicion = 1000
			d := sequenceDriver(cycle(focusable("stuck", false)))

			res := New(p).Walk(context.Background(), d)
			assert.Equal(t, maxSteps, d.Presses())
			assert.Equal(t, ReasonStepCap, res.Reason)
			assert.False(t, res.Trapped)
		})
	}
}

func TestWalk_SmallCycleIsTrap(t *testing.T) {
	d := sequenceDriver(cycle(focusable("close", true), focusable("ok", true)))

	res := New(DefaultPolicy()).Walk(context.Background(), d)
	assert.True(t, res.Trapped)
	assert.Equal(t, 2, res.DistinctCount)
	assert.Len(t, res.Visits, 30)
}

func TestWalk_LargeCycleIsNotTrap(t *testing.T) {
	var items []el
	for i := 0; i < 8; i++ {
		items = append(items, focusable(fmt.Sprintf("n%d", i), true))
	}
	d := sequenceDriver(cycle(items...))

	res := New(DefaultPolicy()).Walk(context.Background(), d)
	assert.False(t, res.Trapped)
	assert.Equal(t, ReasonStepCap, res.Reason)
	assert.Equal(t, 60, res.Steps)
	assert.Equal(t, 8, res.DistinctCount)
	assert.Zero(t, res.CycleStep, "repeats outside the lookback window are not a cycle")
}

func TestWalk_LostActiveElement(t *testing.T) {
	t.Run("null active element", func(t *testing.T) {
		seq := []any{focusable("a", true), focusable("b", true), nil}
		d := sequenceDriver(func(press int) any { return seq[press-1] })

		res := New(DefaultPolicy()).Walk(context.Background(), d)
		assert.True(t, res.Incomplete)
		assert.Equal(t, ReasonLostFocus, res.Reason)
		assert.Len(t, res.Visits, 2)
		assert.Contains(t, res.Error, "no active element")
	})

	t.Run("evaluation fails after navigation", func(t *testing.T) {
		seq := []any{focusable("a", true), errors.New("Execution context was destroyed")}
		d := sequenceDriver(func(press int) any { return seq[press-1] })

		res := New(DefaultPolicy()).Walk(context.Background(), d)
		assert.True(t, res.Incomplete)
		assert.Equal(t, Terminated, res.State)
		assert.Len(t, res.Visits, 1)
	})

	t.Run("key press fails", func(t *testing.T) {
		d := sequenceDriver(cycle(focusable("a", true)))
		d.KeyFn = func(context.Context, string) error { return errors.New("target closed") }

		res := New(DefaultPolicy()).Walk(context.Background(), d)
		assert.True(t, res.Incomplete)
		assert.Equal(t, ReasonKeyFailed, res.Reason)
		assert.Equal(t, 1, d.Presses())
	})

	t.Run("driver panics", func(t *testing.T) {
		d := sequenceDriver(func(int) any { panic("kaboom") })
		var res Result
		assert.NotPanics(t, func() { res = New(DefaultPolicy()).Walk(context.Background(), d) })
		assert.True(t, res.Incomplete)
		assert.Contains(t, res.Error, "kaboom")
	})
}

func TestWalk_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := sequenceDriver(cycle(focusable("a", true)))

	res := New(DefaultPolicy()).Walk(ctx, d)
	assert.True(t, res.Incomplete)
	assert.Equal(t, ReasonCanceled, res.Reason)
	assert.Zero(t, d.Presses())
}

func TestWalk_StepTimeout(t *testing.T) {
	p := DefaultPolicy()
	p.StepTimeout = 20 * time.Millisecond
	d := sequenceDriver(cycle(focusable("a", true)))
	d.KeyFn = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	res := New(p).Walk(context.Background(), d)
	assert.True(t, res.Incomplete)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestWalk_IndicatorCoverageBelowThreshold(t *testing.T) {
	seq := []any{focusable("a", true), focusable("b", false), focusable("c", false), focusable("d", true), body}
	d := sequenceDriver(func(press int) any { return seq[press-1] })

	res := New(DefaultPolicy()).Walk(context.Background(), d)
	assert.Equal(t, 0.5, res.IndicatorCoverage)
	assert.False(t, res.IndicatorPasses)
}

func TestSignatureTruncation(t *testing.T) {
	p := DefaultPolicy()
	p.TextPrefixLen = 5
	long := el{"body": false, "tag": "button", "id": "", "role": "tab", "text": strings.Repeat("é", 40), "indicator": true}
	seq := []any{long, body, body, body}
	d := sequenceDriver(func(press int) any { return seq[press-1] })

	res := New(p).Walk(context.Background(), d)
	require.NotEmpty(t, res.Visits)
	assert.Equal(t, "button|ééééé|tab", res.Visits[0].Signature)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	p := PolicyFromConfig(cfg.Audit.TabWalker, cfg.Network.StepTimeout)
	assert.Equal(t, DefaultPolicy(), p)

	p = PolicyFromConfig(config.TabWalkerConfig{MaxSteps: 10}, 0)
	assert.Equal(t, 10, p.MaxSteps)
	assert.Equal(t, DefaultPolicy().LookbackWindow, p.LookbackWindow)
	assert.Equal(t, DefaultPolicy().StepTimeout, p.StepTimeout)
}

// The indicator only counts styles that draw something; :focus-visible
// matches every keyboard-focused element and would make coverage trivially 1.
func TestActiveElementScript_IndicatorSignals(t *testing.T) {
	for _, signal := range []string{"outlineStyle", "outlineWidth", "boxShadow", "/focus/i"} {
		assert.Contains(t, ActiveElementScript, signal)
	}
	assert.NotContains(t, ActiveElementScript, ":focus-visible")
}
