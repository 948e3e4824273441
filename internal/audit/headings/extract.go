package headings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// ExtractScript collects h1-h6 and role="heading" elements in document
// order. Hidden headings are skipped. An image alt counts as heading text.
const ExtractScript = `() => {
  const sel = 'h1,h2,h3,h4,h5,h6,[role="heading"]';
  const out = [];
  for (const el of document.querySelectorAll(sel)) {
    const style = getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || el.closest('[hidden],[aria-hidden="true"]')) continue;
    let level = /^H[1-6]$/.test(el.tagName) ? Number(el.tagName[1]) : Number(el.getAttribute('aria-level') || 2);
    if (!(level >= 1 && level <= 6)) level = 2;
    let text = (el.innerText || el.textContent || '').trim();
    if (!text) {
      text = Array.from(el.querySelectorAll('img[alt]')).map(i => i.alt.trim()).join(' ').trim();
    }
    if (!text) text = (el.getAttribute('aria-label') || '').trim();
    out.push({level, text, isEmpty: text === ''});
  }
  return out;
}`

// Extract reads the heading outline from the page.
func Extract(ctx context.Context, d browser.Driver) ([]Node, error) {
	raw, err := d.Evaluate(ctx, ExtractScript)
	if err != nil {
		return nil, fmt.Errorf("extract headings: %w", err)
	}
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode headings: %w", err)
	}
	return nodes, nil
}
