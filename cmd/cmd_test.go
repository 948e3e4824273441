// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit/probes"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/config"
)

// executeCommand runs a fresh command tree with args and returns its stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep config discovery away from the developer's home directory.
	t.Setenv("HOME", t.TempDir())

	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pageprobe "+Version+"\n", out)
}

func TestContrastCmd(t *testing.T) {
	t.Run("Passing", func(t *testing.T) {
		out, err := executeCommand(t, "contrast", "#767676", "white")
		require.NoError(t, err)
		assert.Contains(t, out, "4.54:1 pass (threshold 4.5:1")
	})

	t.Run("LightOnDark", func(t *testing.T) {
		out, err := executeCommand(t, "contrast", "rgb(224, 224, 224)", "rgb(10, 10, 10)")
		require.NoError(t, err)
		assert.Contains(t, out, "15.00:1 pass")
	})

	t.Run("FailingEvenWhenLarge", func(t *testing.T) {
		out, err := executeCommand(t, "contrast", "#999999", "#ffffff", "--large")
		require.NoError(t, err)
		assert.Contains(t, out, "2.85:1 fail (threshold 3.0:1")
	})

	t.Run("CustomThreshold", func(t *testing.T) {
		out, err := executeCommand(t, "contrast", "#767676", "white", "--threshold", "7")
		require.NoError(t, err)
		assert.Contains(t, out, "fail (threshold 7.0:1")
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := executeCommand(t, "contrast", "black", "white", "--json")
		require.NoError(t, err)
		var res struct {
			Ratio  float64 `json:"ratio"`
			Passes bool    `json:"passes"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, 21.0, res.Ratio)
		assert.True(t, res.Passes)
	})

	t.Run("InvalidColour", func(t *testing.T) {
		_, err := executeCommand(t, "contrast", "not-a-colour", "white")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid colour")
	})

	t.Run("WrongArgCount", func(t *testing.T) {
		_, err := executeCommand(t, "contrast", "black")
		assert.Error(t, err)
	})
}

func TestProbesCmd(t *testing.T) {
	t.Run("Table", func(t *testing.T) {
		out, err := executeCommand(t, "probes")
		require.NoError(t, err)
		assert.Contains(t, out, "KIND")
		assert.Contains(t, out, string(probes.Clipboard))
		assert.Contains(t, out, string(probes.Landmarks))
	})

	t.Run("CategoryFilter", func(t *testing.T) {
		out, err := executeCommand(t, "probes", "--category", string(probes.CategoryAccessibility))
		require.NoError(t, err)
		assert.Contains(t, out, string(probes.SkipLink))
		assert.NotContains(t, out, string(probes.Clipboard))
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := executeCommand(t, "probes", "--json")
		require.NoError(t, err)
		var list []probeListing
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		assert.Len(t, list, len(probes.Kinds()))
	})
}

// fakeFactory refuses every session so audits finish without a browser.
type fakeFactory struct {
	mu       sync.Mutex
	sessions int
	shutdown bool
}

func (f *fakeFactory) NewSession(ctx context.Context) (browser.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return nil, errors.New("no browser in tests")
}

func (f *fakeFactory) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

// stubFactory swaps newSessionFactory for the duration of the test and
// captures the configuration the audit command built.
func stubFactory(t *testing.T) (*fakeFactory, **config.Config) {
	t.Helper()
	factory := &fakeFactory{}
	var captured *config.Config
	original := newSessionFactory
	newSessionFactory = func(_ context.Context, _ *zap.Logger, cfg *config.Config) (sessionFactory, error) {
		captured = cfg
		return factory, nil
	}
	t.Cleanup(func() { newSessionFactory = original })
	return factory, &captured
}

func TestAuditCmd(t *testing.T) {
	t.Run("FlagsOverrideConfig", func(t *testing.T) {
		factory, captured := stubFactory(t)
		dir := t.TempDir()
		output := filepath.Join(dir, "report.json")
		metricsFile := filepath.Join(dir, "pageprobe.prom")
		t.Setenv("PAGEPROBE_METRICS_TEXTFILE", metricsFile)

		_, err := executeCommand(t, "audit",
			"--format", "json",
			"--output", output,
			"--concurrency", "2",
			"--viewport", "800x600",
			"--viewport", "375x667",
			"--max-tab-steps", "12",
			"--backend", "rod",
			"--headed",
			"https://a.test/",
		)
		require.NoError(t, err, "errored pages only fail the command with --fail-on-error")

		cfg := *captured
		require.NotNil(t, cfg)
		assert.Equal(t, 2, cfg.Engine.WorkerConcurrency)
		assert.Equal(t, []string{"800x600", "375x667"}, cfg.Audit.Viewports)
		assert.Equal(t, 12, cfg.Audit.TabWalker.MaxSteps)
		assert.Equal(t, config.BackendRod, cfg.Browser.Backend)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 2, factory.sessions)
		assert.True(t, factory.shutdown)

		raw, err := os.ReadFile(output)
		require.NoError(t, err)
		var doc struct {
			Pages []struct {
				Target   string `json:"target"`
				Viewport string `json:"viewport"`
				Status   string `json:"status"`
			} `json:"pages"`
		}
		require.NoError(t, json.Unmarshal(raw, &doc))
		require.Len(t, doc.Pages, 2)
		assert.Equal(t, "800x600", doc.Pages[0].Viewport)
		assert.Equal(t, "375x667", doc.Pages[1].Viewport)
		for _, p := range doc.Pages {
			assert.Equal(t, "https://a.test/", p.Target)
			assert.Equal(t, "error", p.Status)
		}

		metrics, err := os.ReadFile(metricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(metrics), `pageprobe_audits_total{status="error"} 2`)
	})

	t.Run("FailOnError", func(t *testing.T) {
		stubFactory(t)
		output := filepath.Join(t.TempDir(), "report.txt")
		_, err := executeCommand(t, "audit", "--fail-on-error", "--output", output, "https://a.test/")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuditFailed)

		raw, readErr := os.ReadFile(output)
		require.NoError(t, readErr)
		assert.Contains(t, string(raw), "ERROR https://a.test/")
		assert.Contains(t, string(raw), "0 passed, 0 failed, 1 errored")
	})

	t.Run("InvalidTarget", func(t *testing.T) {
		factory, _ := stubFactory(t)
		_, err := executeCommand(t, "audit", "ftp://a.test/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme must be http, https or file")
		assert.Zero(t, factory.sessions, "no browser is started for invalid input")
	})

	t.Run("InvalidViewport", func(t *testing.T) {
		stubFactory(t)
		_, err := executeCommand(t, "audit", "--viewport", "wide", "https://a.test/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "want WIDTHxHEIGHT")
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		stubFactory(t)
		_, err := executeCommand(t, "audit", "--backend", "webkit", "https://a.test/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})

	t.Run("RequiresTarget", func(t *testing.T) {
		_, err := executeCommand(t, "audit")
		assert.Error(t, err)
	})
}

func TestConfigFileIsRead(t *testing.T) {
	factory, captured := stubFactory(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pageprobe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
engine:
  worker_concurrency: 3
audit:
  probes: [clipboard, document_lang]
  contrast_threshold: 7
`), 0o600))

	_, err := executeCommand(t, "--config", cfgPath, "audit", "--output", filepath.Join(dir, "out.txt"), "https://a.test/")
	require.NoError(t, err)
	cfg := *captured
	require.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.Engine.WorkerConcurrency)
	assert.Equal(t, []string{"clipboard", "document_lang"}, cfg.Audit.Probes)
	assert.Equal(t, 7.0, cfg.Audit.ContrastThreshold)
	assert.Equal(t, 1, factory.sessions)
}
