// internal/browser/allocator.go
package browser

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

// LaunchFlag is one Chrome command line switch. A bool Value of false
// removes the switch.
type LaunchFlag struct {
	Name  string
	Value any
}

// LaunchFlags translates browser config into Chrome switches. It is shared
// by the chromedp allocator and the rod launcher.
func LaunchFlags(cfg config.BrowserConfig) []LaunchFlag {
	flags := []LaunchFlag{
		{"headless", cfg.Headless},
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
		{"hide-scrollbars", true},
		{"mute-audio", true},
	}

	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			LaunchFlag{"ignore-certificate-errors", true},
			LaunchFlag{"allow-insecure-localhost", true},
		)
	}
	if cfg.DisableCache {
		flags = append(flags,
			LaunchFlag{"disk-cache-size", "0"},
			LaunchFlag{"media-cache-size", "0"},
			LaunchFlag{"disable-cache", true},
		)
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags = append(flags, LaunchFlag{"window-size", strconv.Itoa(w) + "," + strconv.Itoa(h)})
	}

	// Custom args are "--name" or "--name=value".
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, LaunchFlag{name, value})
		} else {
			flags = append(flags, LaunchFlag{name, true})
		}
	}

	if runtime.GOOS == "linux" {
		flags = append(flags,
			LaunchFlag{"no-sandbox", true},
			LaunchFlag{"disable-dev-shm-usage", true},
			LaunchFlag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

// AllocatorOptions builds the chromedp exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range LaunchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
