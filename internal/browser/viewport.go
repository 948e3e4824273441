// internal/browser/viewport.go
package browser

import (
	"fmt"
	"strconv"
	"strings"
)

// Viewport is a width x height pair in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String renders the viewport as "WxH".
func (v Viewport) String() string {
	if v.IsZero() {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

func (v Viewport) IsZero() bool { return v.Width == 0 && v.Height == 0 }

// ParseViewport parses "1280x800" (also accepting "X" and surrounding spaces).
func ParseViewport(s string) (Viewport, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Viewport{}, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Viewport{}, fmt.Errorf("viewport %q: bad width: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Viewport{}, fmt.Errorf("viewport %q: bad height: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return Viewport{}, fmt.Errorf("viewport %q: dimensions must be positive", s)
	}
	return Viewport{Width: w, Height: h}, nil
}

// ParseViewports parses a list, failing on the first bad entry.
func ParseViewports(list []string) ([]Viewport, error) {
	out := make([]Viewport, 0, len(list))
	for _, s := range list {
		vp, err := ParseViewport(s)
		if err != nil {
			return nil, err
		}
		out = append(out, vp)
	}
	return out, nil
}
