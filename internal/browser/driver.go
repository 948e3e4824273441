// internal/browser/driver.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared by the driver implementations and the audit packages.
var (
	ErrNoActiveElement  = errors.New("no active element")
	ErrDriverClosed     = errors.New("driver is closed")
	ErrUnsupportedEvent = errors.New("unsupported event")
)

// Event names understood by WaitForEvent.
const (
	EventLoad      = "load"
	EventDownload  = "download"
	EventDialog    = "dialog"
	EventConsole   = "console"
	EventPageError = "pageerror"
)

// Driver is the page capability the audit harness consumes. One Driver owns
// exactly one page; implementations are not required to be safe for
// concurrent use.
type Driver interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script, a JavaScript function expression, with args
	// JSON-encoded as its parameters. Promises are awaited. The result is
	// the JSON encoding of the returned value.
	Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	PressKey(ctx context.Context, key string) error
	QueryAll(ctx context.Context, selector string) ([]ElementHandle, error)
	// BoundingBox returns nil, nil when the element is not rendered.
	BoundingBox(ctx context.Context, h ElementHandle) (*Box, error)
	ComputedStyle(ctx context.Context, h ElementHandle, property string) (string, error)
	// WaitForEvent returns nil, nil when timeout elapses first.
	WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*Event, error)
	SetOffline(ctx context.Context, offline bool) error
	SetViewportSize(ctx context.Context, width, height int) error
	Close(ctx context.Context) error
}

// ConsoleRecorder is implemented by drivers that capture console output.
type ConsoleRecorder interface {
	ConsoleMessages() []ConsoleMessage
}

// SessionFactory opens a fresh, isolated Driver per audit.
type SessionFactory interface {
	NewSession(ctx context.Context) (Driver, error)
}

// ElementHandle refers to an element matched by QueryAll. The reference is
// opaque and only meaningful to the driver that produced it.
type ElementHandle struct {
	Selector string
	Index    int
	ref      any
}

// NewElementHandle wraps a driver-specific element reference.
func NewElementHandle(selector string, index int, ref any) ElementHandle {
	return ElementHandle{Selector: selector, Index: index, ref: ref}
}

// Ref returns the driver-specific reference.
func (h ElementHandle) Ref() any { return h.ref }

// Box is an element's border box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Visible reports whether the box occupies any area.
func (b *Box) Visible() bool {
	return b != nil && b.Width > 0 && b.Height > 0
}

// Event is a page event observed by WaitForEvent.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// ConsoleMessage levels.
const (
	ConsoleError     = "error"
	ConsoleWarning   = "warning"
	ConsolePageError = "pageerror"
)

// ConsoleMessage is a console entry or uncaught page error.
type ConsoleMessage struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	At    time.Time `json:"at"`
}

// CallExpression renders script, a function expression, invoked with args
// as JSON literals.
func CallExpression(script string, args ...any) (string, error) {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(strings.TrimSpace(script))
	b.WriteString(")(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(",")
		}
		enc, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode argument %d: %w", i, err)
		}
		b.Write(enc)
	}
	b.WriteString(")")
	return b.String(), nil
}
