package probes

import "sort"

// Kind selects a probe script from the closed registry.
type Kind string

const (
	Clipboard          Kind = "clipboard"
	ServiceWorker      Kind = "service_worker"
	ServiceWorkerReady Kind = "service_worker_ready"
	LocalStorage       Kind = "local_storage"
	SessionStorage     Kind = "session_storage"
	IndexedDB          Kind = "indexed_db"
	WebShare           Kind = "web_share"
	Notifications      Kind = "notifications"
	Geolocation        Kind = "geolocation"
	CacheStorage       Kind = "cache_storage"
	WebManifest        Kind = "web_manifest"
	ViewportMeta       Kind = "viewport_meta"
	DocumentLang       Kind = "document_lang"
	MetaDescription    Kind = "meta_description"
	OpenGraph          Kind = "open_graph"
	CanonicalLink      Kind = "canonical_link"
	ThemeColor         Kind = "theme_color"
	PrefersColorScheme Kind = "prefers_color_scheme"
	ReducedMotion      Kind = "reduced_motion"
	SkipLink           Kind = "skip_link"
	ImageAltCoverage   Kind = "image_alt_coverage"
	FormLabelCoverage  Kind = "form_label_coverage"
	DuplicateIDs       Kind = "duplicate_ids"
	Landmarks          Kind = "landmarks"
)

// Category groups probes for reporting.
type Category string

const (
	CategoryCapability    Category = "capability"
	CategoryMetadata      Category = "metadata"
	CategoryAccessibility Category = "accessibility"
)

// Definition describes a registered probe. Every script is a function
// expression taking one options object ({timeoutMs}) and resolving to
// {supported: bool, detail?: object}.
type Definition struct {
	Kind        Kind
	Category    Category
	Description string
	// Guideline is the WCAG success criterion an unsupported result violates.
	Guideline string
	Script    string
}

var registry = map[Kind]Definition{
	Clipboard: {
		Category:    CategoryCapability,
		Description: "Async Clipboard API is exposed",
		Script: `() => ({
  supported: !!(navigator.clipboard && navigator.clipboard.writeText),
  detail: {secureContext: window.isSecureContext, read: !!(navigator.clipboard && navigator.clipboard.readText)}
})`,
	},
	ServiceWorker: {
		Category:    CategoryCapability,
		Description: "Service worker API is exposed",
		Script: `() => ({
  supported: 'serviceWorker' in navigator,
  detail: {controlled: !!(navigator.serviceWorker && navigator.serviceWorker.controller)}
})`,
	},
	ServiceWorkerReady: {
		Category:    CategoryCapability,
		Description: "A service worker registration becomes ready",
		Script: `async (opts) => {
  if (!('serviceWorker' in navigator)) return {supported: false, detail: {reason: 'api missing'}};
  const wait = new Promise(r => setTimeout(() => r(null), Math.max(0, opts.timeoutMs)));
  const reg = await Promise.race([navigator.serviceWorker.ready, wait]);
  return {supported: !!reg, detail: {scope: reg ? reg.scope : null, active: !!(reg && reg.active)}};
}`,
	},
	LocalStorage: {
		Category:    CategoryCapability,
		Description: "localStorage is writable",
		Script: `() => {
  try {
    const k = '__pageprobe__';
    localStorage.setItem(k, '1');
    localStorage.removeItem(k);
    return {supported: true, detail: {keys: localStorage.length}};
  } catch (e) {
    return {supported: false, detail: {reason: String(e && e.name || e)}};
  }
}`,
	},
	SessionStorage: {
		Category:    CategoryCapability,
		Description: "sessionStorage is writable",
		Script: `() => {
  try {
    const k = '__pageprobe__';
    sessionStorage.setItem(k, '1');
    sessionStorage.removeItem(k);
    return {supported: true};
  } catch (e) {
    return {supported: false, detail: {reason: String(e && e.name || e)}};
  }
}`,
	},
	IndexedDB: {
		Category:    CategoryCapability,
		Description: "IndexedDB is exposed",
		Script:      `() => ({supported: typeof indexedDB !== 'undefined' && indexedDB !== null})`,
	},
	WebShare: {
		Category:    CategoryCapability,
		Description: "Web Share API is exposed",
		Script: `() => ({
  supported: typeof navigator.share === 'function',
  detail: {canShare: typeof navigator.canShare === 'function'}
})`,
	},
	Notifications: {
		Category:    CategoryCapability,
		Description: "Notifications API is exposed",
		Script: `() => ({
  supported: 'Notification' in window,
  detail: {permission: ('Notification' in window) ? Notification.permission : null}
})`,
	},
	Geolocation: {
		Category:    CategoryCapability,
		Description: "Geolocation API is exposed",
		Script:      `() => ({supported: 'geolocation' in navigator})`,
	},
	CacheStorage: {
		Category:    CategoryCapability,
		Description: "Cache Storage API is exposed",
		Script: `async () => {
  if (!('caches' in window)) return {supported: false};
  try {
    const keys = await caches.keys();
    return {supported: true, detail: {caches: keys.length}};
  } catch (e) {
    return {supported: true, detail: {error: String(e)}};
  }
}`,
	},
	WebManifest: {
		Category:    CategoryMetadata,
		Description: "Page links a web app manifest",
		Script: `() => {
  const link = document.querySelector('link[rel~="manifest"]');
  return {supported: !!(link && link.href), detail: {href: link ? link.href : null}};
}`,
	},
	ViewportMeta: {
		Category:    CategoryAccessibility,
		Description: "Viewport meta is responsive and does not block zoom",
		Guideline:   "1.4.4",
		Script: `() => {
  const meta = document.querySelector('meta[name="viewport"]');
  const content = meta ? (meta.getAttribute('content') || '') : '';
  const c = content.toLowerCase().replace(/\s+/g, '');
  const max = /maximum-scale=([\d.]+)/.exec(c);
  const blocksZoom = /user-scalable=(no|0)/.test(c) || (max !== null && parseFloat(max[1]) < 2);
  return {
    supported: c.includes('width=device-width') && !blocksZoom,
    detail: {content, responsive: c.includes('width=device-width'), blocksZoom}
  };
}`,
	},
	DocumentLang: {
		Category:    CategoryAccessibility,
		Description: "Document declares a language",
		Guideline:   "3.1.1",
		Script: `() => {
  const lang = (document.documentElement.getAttribute('lang') || '').trim();
  return {supported: lang !== '', detail: {lang}};
}`,
	},
	MetaDescription: {
		Category:    CategoryMetadata,
		Description: "Page has a meta description",
		Script: `() => {
  const meta = document.querySelector('meta[name="description"]');
  const content = meta ? (meta.getAttribute('content') || '').trim() : '';
  return {supported: content !== '', detail: {length: content.length}};
}`,
	},
	OpenGraph: {
		Category:    CategoryMetadata,
		Description: "Open Graph title, description and image are present",
		Script: `() => {
  const has = p => !!document.querySelector('meta[property="og:' + p + '"]');
  const detail = {title: has('title'), description: has('description'), image: has('image')};
  return {supported: detail.title && detail.description && detail.image, detail};
}`,
	},
	CanonicalLink: {
		Category:    CategoryMetadata,
		Description: "Page declares a canonical URL",
		Script: `() => {
  const link = document.querySelector('link[rel="canonical"]');
  return {supported: !!(link && link.href), detail: {href: link ? link.href : null}};
}`,
	},
	ThemeColor: {
		Category:    CategoryMetadata,
		Description: "Page declares a theme colour",
		Script: `() => {
  const metas = Array.from(document.querySelectorAll('meta[name="theme-color"]'));
  return {supported: metas.length > 0, detail: {values: metas.map(m => m.getAttribute('content'))}};
}`,
	},
	PrefersColorScheme: {
		Category:    CategoryCapability,
		Description: "prefers-color-scheme media query is understood",
		Script: `() => {
  const q = window.matchMedia('(prefers-color-scheme: dark)');
  return {supported: q.media !== 'not all', detail: {dark: q.matches}};
}`,
	},
	ReducedMotion: {
		Category:    CategoryCapability,
		Description: "prefers-reduced-motion media query is understood",
		Script: `() => {
  const q = window.matchMedia('(prefers-reduced-motion: reduce)');
  return {supported: q.media !== 'not all', detail: {reduce: q.matches}};
}`,
	},
	SkipLink: {
		Category:    CategoryAccessibility,
		Description: "A skip link to the main content exists",
		Guideline:   "2.4.1",
		Script: `() => {
  const links = Array.from(document.querySelectorAll('a[href^="#"]')).slice(0, 10);
  for (const a of links) {
    const id = decodeURIComponent(a.getAttribute('href').slice(1));
    const text = (a.textContent || '').toLowerCase();
    if (id && document.getElementById(id) && (text.includes('skip') || text.includes('main'))) {
      return {supported: true, detail: {href: '#' + id, text: text.trim()}};
    }
  }
  return {supported: false};
}`,
	},
	ImageAltCoverage: {
		Category:    CategoryAccessibility,
		Description: "Every image has an alt attribute",
		Guideline:   "1.1.1",
		Script: `() => {
  const imgs = Array.from(document.images);
  const missing = imgs.filter(i => !i.hasAttribute('alt') && i.getAttribute('role') !== 'presentation');
  return {
    supported: missing.length === 0,
    detail: {total: imgs.length, missing: missing.length, samples: missing.slice(0, 5).map(i => i.currentSrc || i.src)}
  };
}`,
	},
	FormLabelCoverage: {
		Category:    CategoryAccessibility,
		Description: "Every form control has an accessible name",
		Guideline:   "1.3.1",
		Script: `() => {
  const skip = new Set(['hidden', 'submit', 'button', 'reset', 'image']);
  const controls = Array.from(document.querySelectorAll('input, select, textarea')).filter(el => !skip.has((el.type || '').toLowerCase()));
  const named = el => (el.labels && el.labels.length > 0) ||
    (el.getAttribute('aria-label') || '').trim() !== '' ||
    (el.getAttribute('aria-labelledby') || '').trim() !== '' ||
    (el.getAttribute('title') || '').trim() !== '';
  const unlabeled = controls.filter(el => !named(el));
  return {
    supported: unlabeled.length === 0,
    detail: {total: controls.length, unlabeled: unlabeled.length, samples: unlabeled.slice(0, 5).map(el => el.name || el.id || el.tagName.toLowerCase())}
  };
}`,
	},
	DuplicateIDs: {
		Category:    CategoryAccessibility,
		Description: "Element ids are unique",
		Guideline:   "4.1.1",
		Script: `() => {
  const seen = new Map();
  for (const el of document.querySelectorAll('[id]')) seen.set(el.id, (seen.get(el.id) || 0) + 1);
  const dupes = Array.from(seen.entries()).filter(([, n]) => n > 1).map(([id]) => id);
  return {supported: dupes.length === 0, detail: {duplicates: dupes.slice(0, 20), count: dupes.length}};
}`,
	},
	Landmarks: {
		Category:    CategoryAccessibility,
		Description: "Page exposes a main landmark",
		Guideline:   "1.3.1",
		Script: `() => {
  const has = s => document.querySelector(s) !== null;
  const detail = {
    main: has('main, [role="main"]'),
    nav: has('nav, [role="navigation"]'),
    banner: has('header, [role="banner"]'),
    contentinfo: has('footer, [role="contentinfo"]')
  };
  return {supported: detail.main, detail};
}`,
	},
}

// Lookup returns the registered definition for kind.
func Lookup(kind Kind) (Definition, bool) {
	def, ok := registry[kind]
	if ok {
		def.Kind = kind
	}
	return def, ok
}

// Kinds lists every registered kind in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
