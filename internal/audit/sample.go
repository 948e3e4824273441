package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit/contrast"
	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// WCAG large text: 18pt, or 14pt bold, expressed in CSS pixels.
const (
	largeTextPx     = 24.0
	largeBoldTextPx = 18.66
)

// backgroundScript lists the painted backgrounds from the matched element
// outwards, ending at the first opaque one. Fully transparent layers are
// skipped; an empty list means the canvas shows through.
const backgroundScript = `(sel, idx) => {
  const layers = [];
  let el = document.querySelectorAll(sel)[idx];
  while (el && el.nodeType === 1) {
    const bg = getComputedStyle(el).backgroundColor.replace(/\s+/g, ' ');
    if (bg && bg !== 'transparent' && !/^rgba\(.*, ?0\)$/.test(bg)) {
      layers.push(bg);
      if (/^rgb\(/.test(bg)) break;
    }
    el = el.parentElement;
  }
  return layers;
}`

var white = contrast.RGB(255, 255, 255)

// sampleContrast measures every visible match of the configured selectors.
// A failure on one element is recorded in its sample and does not stop the
// others; only a failing query aborts the section.
func (a *Auditor) sampleContrast(ctx context.Context, d browser.Driver) ([]ContrastSample, error) {
	var (
		samples []ContrastSample
		errs    []error
	)
	for _, sel := range a.opts.ContrastSelectors {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		qctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
		handles, err := d.QueryAll(qctx, sel)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", sel, err))
			continue
		}
		if len(handles) > a.opts.MaxSamplesPerSelector {
			handles = handles[:a.opts.MaxSamplesPerSelector]
		}
		for _, h := range handles {
			s, ok := a.sampleOne(ctx, d, h)
			if ok {
				samples = append(samples, s)
			}
		}
	}
	return samples, errors.Join(errs...)
}

// sampleOne returns false for elements that are not rendered.
func (a *Auditor) sampleOne(ctx context.Context, d browser.Driver, h browser.ElementHandle) (ContrastSample, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
	defer cancel()

	s := ContrastSample{Selector: h.Selector, Index: h.Index}
	box, err := d.BoundingBox(ctx, h)
	if err != nil {
		s.Result = contrast.Result{Threshold: a.opts.ContrastThreshold, Error: err.Error()}
		return s, true
	}
	if !box.Visible() {
		return s, false
	}

	styles := make(map[string]string, 4)
	for _, prop := range []string{"color", "background-color", "font-size", "font-weight"} {
		v, err := d.ComputedStyle(ctx, h, prop)
		if err != nil {
			s.Result = contrast.Result{Threshold: a.opts.ContrastThreshold, Error: fmt.Sprintf("read %s: %v", prop, err)}
			return s, true
		}
		styles[prop] = v
	}

	s.FontSize = parsePx(styles["font-size"])
	s.Bold = isBold(styles["font-weight"])
	s.LargeText = s.FontSize >= largeTextPx || (s.Bold && s.FontSize >= largeBoldTextPx)
	threshold := a.opts.ContrastThreshold
	if s.LargeText {
		threshold = a.opts.LargeTextThreshold
	}

	fg, err := contrast.ParseColor(styles["color"])
	if err != nil {
		s.Result = contrast.Result{Threshold: threshold, Error: err.Error()}
		return s, true
	}
	bg := a.effectiveBackground(ctx, d, h, styles["background-color"])
	if !fg.Opaque() {
		fg = contrast.Composite(fg, bg)
	}
	s.Result = contrast.ComputeContrast(fg, bg, threshold)
	return s, true
}

// effectiveBackground resolves the colour actually painted behind the text,
// defaulting to a white canvas.
func (a *Auditor) effectiveBackground(ctx context.Context, d browser.Driver, h browser.ElementHandle, own string) contrast.Color {
	if c, err := contrast.ParseColor(own); err == nil && c.Opaque() {
		return c
	}
	raw, err := d.Evaluate(ctx, backgroundScript, h.Selector, h.Index)
	if err != nil {
		a.logger.Debug("Could not resolve ancestor background.", zap.String("selector", h.Selector), zap.Error(err))
		return white
	}
	var layers []string
	if err := json.Unmarshal(raw, &layers); err != nil {
		a.logger.Debug("Unexpected background layers.", zap.String("selector", h.Selector), zap.Error(err))
		return white
	}
	return compositeLayers(layers)
}

// compositeLayers flattens backgrounds listed innermost first. Layers below
// the first opaque one are hidden and unparseable layers are skipped.
func compositeLayers(layers []string) contrast.Color {
	var stack []contrast.Color
	for _, l := range layers {
		c, err := contrast.ParseColor(l)
		if err != nil {
			continue
		}
		stack = append(stack, c)
		if c.Opaque() {
			break
		}
	}
	bg := white
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Opaque() {
			bg = stack[i]
			continue
		}
		bg = contrast.Composite(stack[i], bg)
	}
	return bg
}

func parsePx(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil {
		return 0
	}
	return f
}

func isBold(v string) bool {
	switch strings.TrimSpace(v) {
	case "bold", "bolder":
		return true
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n >= 700
}
