package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// ScriptFunc answers one Evaluate call.
type ScriptFunc func(ctx context.Context, args []any) (json.RawMessage, error)

// FakeElement is an element served by FakeDriver.QueryAll. BoxErr and
// StyleErr make the geometry and style reads fail.
type FakeElement struct {
	Box      *browser.Box
	Styles   map[string]string
	BoxErr   error
	StyleErr error
}

// FakeDriver is a stateful, browser-free browser.Driver. Evaluate answers
// are keyed by the exact script text; unknown scripts fail.
type FakeDriver struct {
	mu sync.Mutex

	scripts map[string]ScriptFunc

	NavigateFn func(ctx context.Context, url string) error
	KeyFn      func(ctx context.Context, key string) error
	Elements   map[string][]FakeElement
	QueryErr   error
	Events     map[string]*browser.Event
	Console    []browser.ConsoleMessage

	Navigations  []string
	Keys         []string
	Viewports    []browser.Viewport
	OfflineCalls []bool
	EvalCalls    []string
	CloseCalls   int
}

var (
	_ browser.Driver          = (*FakeDriver)(nil)
	_ browser.ConsoleRecorder = (*FakeDriver)(nil)
)

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		scripts:  make(map[string]ScriptFunc),
		Elements: make(map[string][]FakeElement),
		Events:   make(map[string]*browser.Event),
	}
}

// OnScript registers fn as the answer for script.
func (f *FakeDriver) OnScript(script string, fn ScriptFunc) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[script] = fn
	return f
}

// OnScriptJSON answers script with the JSON encoding of v.
func (f *FakeDriver) OnScriptJSON(script string, v any) *FakeDriver {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.OnScript(script, func(context.Context, []any) (json.RawMessage, error) {
		return raw, nil
	})
}

// OnScriptError makes script fail with err.
func (f *FakeDriver) OnScriptError(script string, err error) *FakeDriver {
	return f.OnScript(script, func(context.Context, []any) (json.RawMessage, error) {
		return nil, err
	})
}

// Presses counts PressKey calls.
func (f *FakeDriver) Presses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Keys)
}

func (f *FakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	f.Navigations = append(f.Navigations, url)
	fn := f.NavigateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, url)
	}
	return ctx.Err()
}

func (f *FakeDriver) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	f.EvalCalls = append(f.EvalCalls, script)
	fn, ok := f.scripts[script]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fake driver: no scripted response for %.40q", script)
	}
	return fn(ctx, args)
}

func (f *FakeDriver) PressKey(ctx context.Context, key string) error {
	f.mu.Lock()
	f.Keys = append(f.Keys, key)
	fn := f.KeyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, key)
	}
	return ctx.Err()
}

func (f *FakeDriver) QueryAll(ctx context.Context, selector string) ([]browser.ElementHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	els := f.Elements[selector]
	handles := make([]browser.ElementHandle, len(els))
	for i := range els {
		handles[i] = browser.NewElementHandle(selector, i, &els[i])
	}
	return handles, nil
}

func (f *FakeDriver) element(h browser.ElementHandle) (*FakeElement, error) {
	el, ok := h.Ref().(*FakeElement)
	if !ok {
		return nil, fmt.Errorf("fake driver: foreign handle %s[%d]", h.Selector, h.Index)
	}
	return el, nil
}

func (f *FakeDriver) BoundingBox(ctx context.Context, h browser.ElementHandle) (*browser.Box, error) {
	el, err := f.element(h)
	if err != nil {
		return nil, err
	}
	if el.BoxErr != nil {
		return nil, el.BoxErr
	}
	return el.Box, nil
}

func (f *FakeDriver) ComputedStyle(ctx context.Context, h browser.ElementHandle, property string) (string, error) {
	el, err := f.element(h)
	if err != nil {
		return "", err
	}
	if el.StyleErr != nil {
		return "", el.StyleErr
	}
	return el.Styles[property], nil
}

func (f *FakeDriver) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*browser.Event, error) {
	f.mu.Lock()
	ev, ok := f.Events[name]
	f.mu.Unlock()
	if ok {
		return ev, nil
	}
	select {
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeDriver) SetOffline(ctx context.Context, offline bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OfflineCalls = append(f.OfflineCalls, offline)
	return nil
}

func (f *FakeDriver) SetViewportSize(ctx context.Context, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Viewports = append(f.Viewports, browser.Viewport{Width: width, Height: height})
	return nil
}

func (f *FakeDriver) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCalls++
	return nil
}

func (f *FakeDriver) ConsoleMessages() []browser.ConsoleMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.ConsoleMessage(nil), f.Console...)
}
