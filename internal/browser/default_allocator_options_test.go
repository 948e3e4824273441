// internal/browser/default_allocator_options_test.go
package browser

import (
	"runtime"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

func flagValue(flags []LaunchFlag, name string) (any, bool) {
	var (
		v     any
		found bool
	)
	// Later flags win, matching how chromedp folds them into a map.
	for _, f := range flags {
		if f.Name == name {
			v, found = f.Value, true
		}
	}
	return v, found
}

func TestLaunchFlags(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{Headless: true})

		v, ok := flagValue(flags, "headless")
		assert.True(t, ok)
		assert.Equal(t, true, v)

		v, _ = flagValue(flags, "enable-automation")
		assert.Equal(t, false, v, "automation banner must be suppressed")

		_, ok = flagValue(flags, "disable-cache")
		assert.False(t, ok)
	})

	t.Run("HeadlessDisabled", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{Headless: false})
		v, _ := flagValue(flags, "headless")
		assert.Equal(t, false, v)
		v, _ = flagValue(flags, "disable-gpu")
		assert.Equal(t, false, v)
	})

	t.Run("CacheDisabled", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{DisableCache: true})
		for _, name := range []string{"disk-cache-size", "media-cache-size", "disable-cache"} {
			_, ok := flagValue(flags, name)
			assert.True(t, ok, name)
		}
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{IgnoreTLSErrors: true})
		_, ok := flagValue(flags, "ignore-certificate-errors")
		assert.True(t, ok)
		_, ok = flagValue(flags, "allow-insecure-localhost")
		assert.True(t, ok)
	})

	t.Run("WithCustomArgs", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{
			Args: []string{"--custom-arg1", "lang=de-DE", "--", "--proxy-server=http://127.0.0.1:8080"},
		})
		v, _ := flagValue(flags, "custom-arg1")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "lang")
		assert.Equal(t, "de-DE", v)
		v, _ = flagValue(flags, "proxy-server")
		assert.Equal(t, "http://127.0.0.1:8080", v)
		_, ok := flagValue(flags, "")
		assert.False(t, ok, "empty args are dropped")
	})

	t.Run("WithViewport", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{Viewport: map[string]int{"width": 1920, "height": 1080}})
		v, ok := flagValue(flags, "window-size")
		assert.True(t, ok)
		assert.Equal(t, "1920,1080", v)

		flags = LaunchFlags(config.BrowserConfig{Viewport: map[string]int{"width": 1920}})
		_, ok = flagValue(flags, "window-size")
		assert.False(t, ok, "a partial viewport is ignored")
	})

	t.Run("LinuxSandboxFlags", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{})
		_, ok := flagValue(flags, "no-sandbox")
		assert.Equal(t, runtime.GOOS == "linux", ok)
	})
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, ExecPath: "/usr/bin/chromium"}
	opts := AllocatorOptions(cfg)
	// defaults + one option per flag + exec path
	assert.Len(t, opts, len(LaunchFlags(cfg))+len(chromedp.DefaultExecAllocatorOptions)+1)
}
