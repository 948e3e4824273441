// Package contrast implements WCAG 2.x relative luminance and contrast ratio.
package contrast

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// WCAG AA thresholds.
const (
	ThresholdNormalText = 4.5
	// ThresholdLargeText also applies to UI components and graphical objects.
	ThresholdLargeText = 3.0
)

// ErrInvalidColor is returned for unparseable or fully transparent colours.
var ErrInvalidColor = errors.New("invalid colour")

// Color is an sRGB colour with straight alpha in [0,1].
type Color struct {
	R uint8   `json:"r"`
	G uint8   `json:"g"`
	B uint8   `json:"b"`
	A float64 `json:"a"`
}

// RGB returns an opaque colour.
func RGB(r, g, b uint8) Color { return Color{R: r, G: g, B: b, A: 1} }

// Opaque reports whether the colour has full alpha.
func (c Color) Opaque() bool { return c.A >= 1 }

func (c Color) String() string {
	if c.Opaque() {
		return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, strconv.FormatFloat(c.A, 'f', -1, 64))
}

// Result is the outcome of one contrast check. A zero Ratio means at least
// one input could not be parsed.
type Result struct {
	Ratio      float64 `json:"ratio"`
	Passes     bool    `json:"passes"`
	Threshold  float64 `json:"threshold"`
	Foreground Color   `json:"foreground"`
	Background Color   `json:"background"`
	Error      string  `json:"error,omitempty"`
}

func linearize(channel uint8) float64 {
	c := float64(channel) / 255
	if c <= 0.03928 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

// RelativeLuminance ignores alpha; composite translucent colours first.
func RelativeLuminance(c Color) float64 {
	return 0.2126*linearize(c.R) + 0.7152*linearize(c.G) + 0.0722*linearize(c.B)
}

// Ratio is the unrounded contrast ratio in [1,21]. It is symmetric.
func Ratio(a, b Color) float64 {
	la, lb := RelativeLuminance(a), RelativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

// ComputeContrast rounds the ratio to two decimals and compares it with
// threshold.
func ComputeContrast(fg, bg Color, threshold float64) Result {
	ratio := math.Round(Ratio(fg, bg)*100) / 100
	return Result{
		Ratio:      ratio,
		Passes:     ratio >= threshold,
		Threshold:  threshold,
		Foreground: fg,
		Background: bg,
	}
}

// ComputeContrastCSS parses both colours and computes their contrast. A
// translucent foreground is composited over the background first. Parse
// failures yield a zero-ratio result with Passes false.
func ComputeContrastCSS(fg, bg string, threshold float64) Result {
	fc, ferr := ParseColor(fg)
	bc, berr := ParseColor(bg)
	if err := errors.Join(ferr, berr); err != nil {
		return Result{Threshold: threshold, Error: err.Error()}
	}
	if !bc.Opaque() {
		// Without knowing what lies beneath, assume a white canvas.
		bc = Composite(bc, RGB(255, 255, 255))
	}
	if !fc.Opaque() {
		fc = Composite(fc, bc)
	}
	return ComputeContrast(fc, bc, threshold)
}

// Composite alpha-blends fg over an opaque bg.
func Composite(fg, bg Color) Color {
	a := math.Max(0, math.Min(1, fg.A))
	blend := func(f, b uint8) uint8 {
		return uint8(math.Round(float64(f)*a + float64(b)*(1-a)))
	}
	return RGB(blend(fg.R, bg.R), blend(fg.G, bg.G), blend(fg.B, bg.B))
}
