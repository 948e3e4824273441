// Package rodriver is the alternate browser backend built on go-rod. It
// launches its own Chrome through the rod launcher, isolates every session
// in an incognito context and can inject the stealth evasions.
package rodriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/config"
)

const maxConsoleMessages = 500

// Factory owns one rod-controlled browser and opens incognito sessions on it.
type Factory struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	network  config.NetworkConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	wg       sync.WaitGroup
}

var _ browser.SessionFactory = (*Factory)(nil)

// ApplyFlags copies the shared launch flags onto a rod launcher.
func ApplyFlags(l *launcher.Launcher, cfg config.BrowserConfig) *launcher.Launcher {
	for _, f := range browser.LaunchFlags(cfg) {
		name := flags.Flag(f.Name)
		switch v := f.Value.(type) {
		case bool:
			if v {
				l.Set(name)
			} else {
				l.Delete(name)
			}
		case string:
			l.Set(name, v)
		default:
			l.Set(name, fmt.Sprint(v))
		}
	}
	if cfg.ExecPath != "" {
		l.Bin(cfg.ExecPath)
	}
	return l
}

// New launches Chrome and connects to it.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		logger:  logger.Named("rod_factory"),
		cfg:     cfg.Browser,
		network: cfg.Network,
	}

	f.logger.Info("Launching browser via rod...", zap.Bool("headless", cfg.Browser.Headless), zap.Bool("stealth", cfg.Browser.Stealth))
	f.launcher = ApplyFlags(launcher.New().Context(ctx), cfg.Browser)
	controlURL, err := f.launcher.Launch()
	if err != nil {
		f.launcher.Cleanup()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		f.launcher.Kill()
		f.launcher.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	if cfg.Browser.IgnoreTLSErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			f.logger.Warn("Could not disable certificate checks.", zap.Error(err))
		}
	}
	f.browser = b
	f.logger.Info("Browser launched successfully and is responsive.")
	return f, nil
}

// NewSession opens a page in a fresh incognito context.
func (f *Factory) NewSession(ctx context.Context) (browser.Driver, error) {
	incognito, err := f.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}
	// The session outlives the call that created it.
	incognito = incognito.Context(context.Background())

	var page *rod.Page
	if f.cfg.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	f.wg.Add(1)
	d := newDriver(incognito, page, f.logger, f.network)
	d.onClose = f.wg.Done
	return d, nil
}

// Shutdown waits for open sessions, bounded by ctx, then kills the browser.
func (f *Factory) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	err := f.browser.Close()
	f.launcher.Kill()
	f.launcher.Cleanup()
	return err
}

// driver implements browser.Driver over one rod page.
type driver struct {
	incognito *rod.Browser
	page      *rod.Page
	logger    *zap.Logger
	network   config.NetworkConfig

	// life bounds the event listeners.
	life      context.Context
	stop      context.CancelFunc
	onClose   func()
	closeOnce sync.Once
	closed    atomic.Bool

	mu      sync.Mutex
	console []browser.ConsoleMessage
}

var (
	_ browser.Driver          = (*driver)(nil)
	_ browser.ConsoleRecorder = (*driver)(nil)
)

func newDriver(incognito *rod.Browser, page *rod.Page, logger *zap.Logger, netCfg config.NetworkConfig) *driver {
	life, stop := context.WithCancel(context.Background())
	d := &driver{
		incognito: incognito,
		page:      page,
		logger:    logger.Named("rod_driver"),
		network:   netCfg,
		life:      life,
		stop:      stop,
	}
	go page.Context(life).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type != proto.RuntimeConsoleAPICalledTypeError && e.Type != proto.RuntimeConsoleAPICalledTypeWarning {
				return
			}
			d.record(browser.ConsoleMessage{Level: string(e.Type), Text: consoleText(e.Args)})
		},
		func(e *proto.RuntimeExceptionThrown) {
			if e.ExceptionDetails == nil {
				return
			}
			d.record(browser.ConsoleMessage{
				Level: browser.ConsolePageError,
				Text:  exceptionText(e.ExceptionDetails),
				URL:   e.ExceptionDetails.URL,
			})
		},
	)()
	return d
}

// p returns the page bound to ctx.
func (d *driver) p(ctx context.Context) (*rod.Page, error) {
	if d.closed.Load() {
		return nil, browser.ErrDriverClosed
	}
	return d.page.Context(ctx), nil
}

func (d *driver) Navigate(ctx context.Context, url string) error {
	if _, ok := ctx.Deadline(); !ok && d.network.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.network.NavigationTimeout)
		defer cancel()
	}
	p, err := d.p(ctx)
	if err != nil {
		return err
	}
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("navigate to %s: wait for load: %w", url, err)
	}
	return nil
}

func (d *driver) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	p, err := d.p(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.Eval(strings.TrimSpace(script), args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return valueJSON(res)
}

func valueJSON(res *proto.RuntimeRemoteObject) (json.RawMessage, error) {
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return json.RawMessage(raw), nil
}

var keyNames = map[string]input.Key{
	"Tab":        input.Tab,
	"Enter":      input.Enter,
	"Escape":     input.Escape,
	"Space":      input.Space,
	"ArrowDown":  input.ArrowDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
}

// PressKey dispatches key down and up directly so the call honours ctx.
func (d *driver) PressKey(ctx context.Context, key string) error {
	p, err := d.p(ctx)
	if err != nil {
		return err
	}
	name, modifiers := key, 0
	if rest, ok := strings.CutPrefix(key, "Shift+"); ok {
		name, modifiers = rest, input.ModifierShift
	}
	var down, up *proto.InputDispatchKeyEvent
	if k, ok := keyNames[name]; ok {
		down = k.Encode(proto.InputDispatchKeyEventTypeKeyDown, modifiers)
		up = k.Encode(proto.InputDispatchKeyEventTypeKeyUp, modifiers)
	} else {
		if len([]rune(name)) != 1 {
			return fmt.Errorf("unsupported key %q", key)
		}
		// Characters outside the key map are sent as plain text input.
		down = &proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyDown, Key: name, Text: name, Modifiers: modifiers}
		up = &proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyUp, Key: name, Modifiers: modifiers}
	}
	if err := down.Call(p); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	if err := up.Call(p); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (d *driver) QueryAll(ctx context.Context, selector string) ([]browser.ElementHandle, error) {
	p, err := d.p(ctx)
	if err != nil {
		return nil, err
	}
	els, err := p.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	handles := make([]browser.ElementHandle, len(els))
	for i, el := range els {
		handles[i] = browser.NewElementHandle(selector, i, el)
	}
	return handles, nil
}

func elementOf(h browser.ElementHandle) (*rod.Element, error) {
	el, ok := h.Ref().(*rod.Element)
	if !ok || el == nil {
		return nil, fmt.Errorf("element handle %s[%d] was not produced by this driver", h.Selector, h.Index)
	}
	return el, nil
}

const boxScript = `function() {
	if (!this.isConnected || this.getClientRects().length === 0) return null;
	const r = this.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
}`

func (d *driver) BoundingBox(ctx context.Context, h browser.ElementHandle) (*browser.Box, error) {
	el, err := elementOf(h)
	if err != nil {
		return nil, err
	}
	if d.closed.Load() {
		return nil, browser.ErrDriverClosed
	}
	res, err := el.Context(ctx).Eval(boxScript)
	if err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}
	raw, err := valueJSON(res)
	if err != nil {
		return nil, err
	}
	var box *browser.Box
	if err := json.Unmarshal(raw, &box); err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}
	return box, nil
}

func (d *driver) ComputedStyle(ctx context.Context, h browser.ElementHandle, property string) (string, error) {
	el, err := elementOf(h)
	if err != nil {
		return "", err
	}
	if d.closed.Load() {
		return "", browser.ErrDriverClosed
	}
	res, err := el.Context(ctx).Eval(`function(p) { return getComputedStyle(this).getPropertyValue(p); }`, property)
	if err != nil {
		return "", fmt.Errorf("computed style %s: %w", property, err)
	}
	return res.Value.Str(), nil
}

func (d *driver) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*browser.Event, error) {
	if d.closed.Load() {
		return nil, browser.ErrDriverClosed
	}

	listenCtx, cancel := context.WithCancel(d.life)
	defer cancel()
	ch := make(chan *browser.Event, 1)
	emit := func(data map[string]any) bool {
		select {
		case ch <- &browser.Event{Name: name, Data: data, At: time.Now()}:
		default:
		}
		return true
	}

	var wait func()
	switch name {
	case browser.EventLoad:
		wait = d.page.Context(listenCtx).EachEvent(func(*proto.PageLoadEventFired) bool { return emit(nil) })
	case browser.EventDialog:
		wait = d.page.Context(listenCtx).EachEvent(func(e *proto.PageJavascriptDialogOpening) bool {
			return emit(map[string]any{"type": string(e.Type), "message": e.Message})
		})
	case browser.EventConsole:
		wait = d.page.Context(listenCtx).EachEvent(func(e *proto.RuntimeConsoleAPICalled) bool {
			return emit(map[string]any{"type": string(e.Type), "text": consoleText(e.Args)})
		})
	case browser.EventPageError:
		wait = d.page.Context(listenCtx).EachEvent(func(e *proto.RuntimeExceptionThrown) bool {
			if e.ExceptionDetails == nil {
				return false
			}
			return emit(map[string]any{"text": exceptionText(e.ExceptionDetails)})
		})
	case browser.EventDownload:
		// Download events are browser scoped and only emitted once the behaviour is set.
		_ = proto.BrowserSetDownloadBehavior{
			Behavior:         proto.BrowserSetDownloadBehaviorBehaviorDeny,
			BrowserContextID: d.incognito.BrowserContextID,
			EventsEnabled:    true,
		}.Call(d.incognito.Context(ctx))
		wait = d.incognito.Context(listenCtx).EachEvent(func(e *proto.BrowserDownloadWillBegin) bool {
			return emit(map[string]any{"url": e.URL, "suggestedFilename": e.SuggestedFilename})
		})
	default:
		return nil, fmt.Errorf("%w: %s", browser.ErrUnsupportedEvent, name)
	}
	go wait()

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

func (d *driver) SetOffline(ctx context.Context, offline bool) error {
	p, err := d.p(ctx)
	if err != nil {
		return err
	}
	return proto.NetworkEmulateNetworkConditions{
		Offline:            offline,
		Latency:            0,
		DownloadThroughput: -1,
		UploadThroughput:   -1,
	}.Call(p)
}

func (d *driver) SetViewportSize(ctx context.Context, width, height int) error {
	p, err := d.p(ctx)
	if err != nil {
		return err
	}
	return p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: width, Height: height, DeviceScaleFactor: 1})
}

// Close closes the page and disposes its incognito context. Calling it more
// than once is harmless.
func (d *driver) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.stop()
		// Disposing the context closes its pages, so a failed page close is not fatal.
		if perr := d.page.Context(ctx).Close(); perr != nil {
			d.logger.Debug("Error closing page", zap.Error(perr))
		}
		err = d.incognito.Context(ctx).Close()
		if d.onClose != nil {
			d.onClose()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *driver) ConsoleMessages() []browser.ConsoleMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.ConsoleMessage(nil), d.console...)
}

func (d *driver) record(msg browser.ConsoleMessage) {
	msg.At = time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.console) < maxConsoleMessages {
		d.console = append(d.console, msg)
	}
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == nil:
		case a.Description != "":
			parts = append(parts, a.Description)
		case !a.Value.Nil():
			parts = append(parts, a.Value.String())
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(ex *proto.RuntimeExceptionDetails) string {
	if ex.Exception != nil && ex.Exception.Description != "" {
		return ex.Exception.Description
	}
	return ex.Text
}
