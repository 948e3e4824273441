package contrast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var namedColors = map[string]Color{
	"black":      RGB(0, 0, 0),
	"white":      RGB(255, 255, 255),
	"red":        RGB(255, 0, 0),
	"green":      RGB(0, 128, 0),
	"lime":       RGB(0, 255, 0),
	"blue":       RGB(0, 0, 255),
	"navy":       RGB(0, 0, 128),
	"yellow":     RGB(255, 255, 0),
	"orange":     RGB(255, 165, 0),
	"purple":     RGB(128, 0, 128),
	"teal":       RGB(0, 128, 128),
	"maroon":     RGB(128, 0, 0),
	"gray":       RGB(128, 128, 128),
	"grey":       RGB(128, 128, 128),
	"silver":     RGB(192, 192, 192),
	"darkgray":   RGB(169, 169, 169),
	"darkgrey":   RGB(169, 169, 169),
	"lightgray":  RGB(211, 211, 211),
	"lightgrey":  RGB(211, 211, 211),
	"whitesmoke": RGB(245, 245, 245),
}

// ParseColor parses the CSS colour forms browsers return from
// getComputedStyle plus hex and a small set of named colours. Of the CSS
// Color 4 functions only color(srgb ...), oklab() and oklch() are
// understood. Fully transparent colours are rejected.
func ParseColor(s string) (Color, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	var (
		c   Color
		err error
	)
	switch {
	case in == "":
		err = fmt.Errorf("%w: empty", ErrInvalidColor)
	case in == "transparent":
		err = fmt.Errorf("%w: transparent", ErrInvalidColor)
	case strings.HasPrefix(in, "#"):
		c, err = parseHex(in[1:])
	case strings.HasPrefix(in, "rgb"):
		c, err = parseFunc(in)
	case strings.HasPrefix(in, "color("):
		c, err = parseColorFunc(in)
	case strings.HasPrefix(in, "oklab("), strings.HasPrefix(in, "oklch("):
		c, err = parseOklab(in)
	default:
		named, ok := namedColors[in]
		if !ok {
			err = fmt.Errorf("%w: unknown colour %q", ErrInvalidColor, s)
		}
		c = named
	}
	if err != nil {
		return Color{}, err
	}
	if c.A <= 0 {
		return Color{}, fmt.Errorf("%w: fully transparent %q", ErrInvalidColor, s)
	}
	return c, nil
}

func parseHex(h string) (Color, error) {
	switch len(h) {
	case 3, 4:
		// Expand #rgb(a) to #rrggbb(aa).
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	case 6, 8:
	default:
		return Color{}, fmt.Errorf("%w: bad hex length in #%s", ErrInvalidColor, h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("%w: bad hex #%s", ErrInvalidColor, h)
	}
	alpha := 1.0
	if len(h) == 8 {
		alpha = float64(v&0xff) / 255
		v >>= 8
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: alpha}, nil
}

// parseFunc handles rgb()/rgba() in both the legacy comma syntax and the
// space syntax with an optional "/ alpha".
func parseFunc(in string) (Color, error) {
	open, end := strings.IndexByte(in, '('), strings.LastIndexByte(in, ')')
	if open < 0 || end < open {
		return Color{}, fmt.Errorf("%w: malformed %q", ErrInvalidColor, in)
	}
	body := in[open+1 : end]

	var parts []string
	if strings.Contains(body, ",") {
		for _, p := range strings.Split(body, ",") {
			parts = append(parts, strings.TrimSpace(p))
		}
	} else {
		channels, alpha, hasAlpha := strings.Cut(body, "/")
		parts = strings.Fields(channels)
		if hasAlpha {
			parts = append(parts, strings.TrimSpace(alpha))
		}
	}
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, fmt.Errorf("%w: want 3 or 4 components in %q", ErrInvalidColor, in)
	}

	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := parseChannel(parts[i])
		if err != nil {
			return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
		}
		rgb[i] = v
	}
	alpha := 1.0
	if len(parts) == 4 {
		a, err := parseAlpha(parts[3])
		if err != nil {
			return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
		}
		alpha = a
	}
	return Color{R: rgb[0], G: rgb[1], B: rgb[2], A: alpha}, nil
}

// funcArgs splits the space syntax "name(a b c [/ alpha])".
func funcArgs(in string) ([]string, string, error) {
	open, end := strings.IndexByte(in, '('), strings.LastIndexByte(in, ')')
	if open < 0 || end < open {
		return nil, "", fmt.Errorf("%w: malformed %q", ErrInvalidColor, in)
	}
	channels, alpha, _ := strings.Cut(in[open+1:end], "/")
	return strings.Fields(channels), strings.TrimSpace(alpha), nil
}

func withAlpha(c Color, in, alpha string) (Color, error) {
	c.A = 1
	if alpha == "" {
		return c, nil
	}
	a, err := parseAlpha(alpha)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
	}
	c.A = a
	return c, nil
}

// parseColorFunc handles color(srgb r g b [/ a]) with components in 0..1
// or percentages. Other colour spaces are rejected.
func parseColorFunc(in string) (Color, error) {
	args, alpha, err := funcArgs(in)
	if err != nil {
		return Color{}, err
	}
	if len(args) != 4 || args[0] != "srgb" {
		return Color{}, fmt.Errorf("%w: unsupported colour space in %q", ErrInvalidColor, in)
	}
	var rgb [3]uint8
	for i, p := range args[1:] {
		f, err := parseUnit(p)
		if err != nil {
			return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
		}
		rgb[i] = clampByte(f * 255)
	}
	return withAlpha(Color{R: rgb[0], G: rgb[1], B: rgb[2]}, in, alpha)
}

// parseOklab converts oklab(L a b) and oklch(L C h) to sRGB. Out-of-gamut
// channels are clipped.
func parseOklab(in string) (Color, error) {
	args, alpha, err := funcArgs(in)
	if err != nil {
		return Color{}, err
	}
	if len(args) != 3 {
		return Color{}, fmt.Errorf("%w: want 3 components in %q", ErrInvalidColor, in)
	}
	l, err := parseUnit(args[0])
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
	}
	// a, b and chroma use 100% = 0.4.
	x, err := parseUnit(args[1])
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
	}
	if strings.HasSuffix(args[1], "%") {
		x *= 0.4
	}
	var a, b float64
	if strings.HasPrefix(in, "oklch(") {
		if strings.HasSuffix(args[2], "%") {
			return Color{}, fmt.Errorf("%w: hue cannot be a percentage in %q", ErrInvalidColor, in)
		}
		hue, err := parseUnit(strings.TrimSuffix(args[2], "deg"))
		if err != nil {
			return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
		}
		h := hue * math.Pi / 180
		a, b = x*math.Cos(h), x*math.Sin(h)
	} else {
		y, err := parseUnit(args[2])
		if err != nil {
			return Color{}, fmt.Errorf("%w: %q: %v", ErrInvalidColor, in, err)
		}
		if strings.HasSuffix(args[2], "%") {
			y *= 0.4
		}
		a, b = x, y
	}

	lp := l + 0.3963377774*a + 0.2158037573*b
	mp := l - 0.1055613458*a - 0.0638541728*b
	sp := l - 0.0894841775*a - 1.2914855480*b
	lc, mc, sc := lp*lp*lp, mp*mp*mp, sp*sp*sp

	r := 4.0767416621*lc - 3.3077115913*mc + 0.2309699292*sc
	g := -1.2684380046*lc + 2.6097574011*mc - 0.3413193965*sc
	bl := -0.0041960863*lc - 0.7034186147*mc + 1.7076147010*sc
	c := Color{R: encodeSRGB(r), G: encodeSRGB(g), B: encodeSRGB(bl)}
	return withAlpha(c, in, alpha)
}

// parseUnit reads a number in 0..1 or a percentage. The keyword none is 0.
func parseUnit(s string) (float64, error) {
	if s == "none" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(pct, 64)
		return f / 100, err
	}
	return strconv.ParseFloat(s, 64)
}

// encodeSRGB applies the sRGB transfer function to a linear channel.
func encodeSRGB(v float64) uint8 {
	v = math.Max(0, math.Min(1, v))
	if v <= 0.0031308 {
		v *= 12.92
	} else {
		v = 1.055*math.Pow(v, 1/2.4) - 0.055
	}
	return clampByte(v * 255)
}

func parseChannel(s string) (uint8, error) {
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return 0, err
		}
		return clampByte(f * 255 / 100), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return clampByte(f), nil
}

func parseAlpha(s string) (float64, error) {
	pct, isPct := strings.CutSuffix(s, "%")
	f, err := strconv.ParseFloat(pct, 64)
	if err != nil {
		return 0, err
	}
	if isPct {
		f /= 100
	}
	return math.Max(0, math.Min(1, f)), nil
}

func clampByte(f float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(f))))
}
