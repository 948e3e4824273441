// internal/browser/cdp_driver.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

// maxConsoleMessages caps the per-page console buffer.
const maxConsoleMessages = 500

// cdpDriver implements Driver over a single chromedp tab.
type cdpDriver struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	network config.NetworkConfig

	onClose   func()
	closeOnce sync.Once
	closed    atomic.Bool

	mu      sync.Mutex
	console []ConsoleMessage
}

var (
	_ Driver          = (*cdpDriver)(nil)
	_ ConsoleRecorder = (*cdpDriver)(nil)
)

func newCDPDriver(tabCtx context.Context, cancel context.CancelFunc, logger *zap.Logger, netCfg config.NetworkConfig) *cdpDriver {
	d := &cdpDriver{
		ctx:     tabCtx,
		cancel:  cancel,
		logger:  logger.Named("cdp_driver"),
		network: netCfg,
	}
	chromedp.ListenTarget(tabCtx, d.recordConsole)
	return d
}

func (d *cdpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.closed.Load() {
		return ErrDriverClosed
	}
	runCtx, cancel := CombineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (d *cdpDriver) Navigate(ctx context.Context, url string) error {
	if _, ok := ctx.Deadline(); !ok && d.network.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.network.NavigationTimeout)
		defer cancel()
	}
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (d *cdpDriver) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	expr, err := CallExpression(script, args...)
	if err != nil {
		return nil, err
	}
	var raw []byte
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := d.run(ctx, chromedp.Evaluate(expr, &raw, awaitPromise)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return json.RawMessage(raw), nil
}

// keyNames maps DOM key names to the chromedp/kb encodings.
var keyNames = map[string]string{
	"Tab":        kb.Tab,
	"Enter":      kb.Enter,
	"Escape":     kb.Escape,
	"Space":      " ",
	"ArrowDown":  kb.ArrowDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
}

func (d *cdpDriver) PressKey(ctx context.Context, key string) error {
	var opts []chromedp.KeyOption
	name := key
	if rest, ok := strings.CutPrefix(key, "Shift+"); ok {
		name = rest
		opts = append(opts, chromedp.KeyModifiers(input.ModifierShift))
	}
	seq, ok := keyNames[name]
	if !ok {
		if len([]rune(name)) != 1 {
			return fmt.Errorf("unsupported key %q", key)
		}
		seq = name
	}
	return d.run(ctx, chromedp.KeyEvent(seq, opts...))
}

func (d *cdpDriver) QueryAll(ctx context.Context, selector string) ([]ElementHandle, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	handles := make([]ElementHandle, len(nodes))
	for i, n := range nodes {
		handles[i] = NewElementHandle(selector, i, n)
	}
	return handles, nil
}

func nodeOf(h ElementHandle) (*cdp.Node, error) {
	n, ok := h.Ref().(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("element handle %s[%d] was not produced by this driver", h.Selector, h.Index)
	}
	return n, nil
}

func (d *cdpDriver) BoundingBox(ctx context.Context, h ElementHandle) (*Box, error) {
	n, err := nodeOf(h)
	if err != nil {
		return nil, err
	}
	var model *dom.BoxModel
	err = d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		model, err = dom.GetBoxModel().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		return err
	}))
	var protoErr *cdproto.Error
	if errors.As(err, &protoErr) {
		// "Could not compute box model": the node is not rendered.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	box := &Box{Width: float64(model.Width), Height: float64(model.Height)}
	if len(model.Border) >= 2 {
		box.X, box.Y = model.Border[0], model.Border[1]
	}
	return box, nil
}

func (d *cdpDriver) ComputedStyle(ctx context.Context, h ElementHandle, property string) (string, error) {
	n, err := nodeOf(h)
	if err != nil {
		return "", err
	}
	var props []*css.ComputedStyleProperty
	if err := d.run(ctx, chromedp.ComputedStyle([]cdp.NodeID{n.NodeID}, &props, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("computed style %s: %w", property, err)
	}
	for _, p := range props {
		if p.Name == property {
			return p.Value, nil
		}
	}
	return "", nil
}

func (d *cdpDriver) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}
	match, ok := cdpEventMatchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, name)
	}

	listenCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	ch := make(chan *Event, 1)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if data, ok := match(ev); ok {
			select {
			case ch <- &Event{Name: name, Data: data, At: time.Now()}:
			default:
			}
		}
	})
	if name == EventDownload {
		// Download events are only emitted once the behaviour is set.
		_ = d.run(ctx, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorDeny).WithEventsEnabled(true))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var cdpEventMatchers = map[string]func(ev any) (map[string]any, bool){
	EventLoad: func(ev any) (map[string]any, bool) {
		_, ok := ev.(*page.EventLoadEventFired)
		return nil, ok
	},
	EventDownload: func(ev any) (map[string]any, bool) {
		e, ok := ev.(*cdpbrowser.EventDownloadWillBegin)
		if !ok {
			return nil, false
		}
		return map[string]any{"url": e.URL, "suggestedFilename": e.SuggestedFilename}, true
	},
	EventDialog: func(ev any) (map[string]any, bool) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return nil, false
		}
		return map[string]any{"type": string(e.Type), "message": e.Message}, true
	},
	EventConsole: func(ev any) (map[string]any, bool) {
		e, ok := ev.(*runtime.EventConsoleAPICalled)
		if !ok {
			return nil, false
		}
		return map[string]any{"type": string(e.Type), "text": consoleText(e.Args)}, true
	},
	EventPageError: func(ev any) (map[string]any, bool) {
		e, ok := ev.(*runtime.EventExceptionThrown)
		if !ok || e.ExceptionDetails == nil {
			return nil, false
		}
		return map[string]any{"text": exceptionText(e.ExceptionDetails)}, true
	},
}

func (d *cdpDriver) SetOffline(ctx context.Context, offline bool) error {
	return d.run(ctx, network.EmulateNetworkConditions(offline, 0, -1, -1))
}

func (d *cdpDriver) SetViewportSize(ctx context.Context, width, height int) error {
	return d.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

// Close closes the tab. Calling it more than once is harmless.
func (d *cdpDriver) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		// chromedp.Cancel closes the target; it must run even when ctx is done.
		err = chromedp.Cancel(d.ctx)
		d.cancel()
		if d.onClose != nil {
			d.onClose()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *cdpDriver) ConsoleMessages() []ConsoleMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ConsoleMessage(nil), d.console...)
}

func (d *cdpDriver) recordConsole(ev any) {
	var msg ConsoleMessage
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError && e.Type != runtime.APITypeWarning {
			return
		}
		msg = ConsoleMessage{Level: string(e.Type), Text: consoleText(e.Args)}
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		msg = ConsoleMessage{Level: ConsolePageError, Text: exceptionText(e.ExceptionDetails), URL: e.ExceptionDetails.URL}
	default:
		return
	}
	msg.At = time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.console) < maxConsoleMessages {
		d.console = append(d.console, msg)
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == nil:
		case a.Description != "":
			parts = append(parts, a.Description)
		case len(a.Value) > 0:
			var s string
			if json.Unmarshal(a.Value, &s) == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(a.Value))
			}
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(ex *runtime.ExceptionDetails) string {
	if ex.Exception != nil && ex.Exception.Description != "" {
		return ex.Exception.Description
	}
	return ex.Text
}
