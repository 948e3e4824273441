// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "pageprobe", cfg.Logger.ServiceName)
	assert.Equal(t, BackendChromedp, cfg.Browser.Backend)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Network.StepTimeout)
	assert.Equal(t, 4.5, cfg.Audit.ContrastThreshold)
	assert.Equal(t, 3.0, cfg.Audit.LargeTextThreshold)
	assert.Equal(t, 60, cfg.Audit.TabWalker.MaxSteps)
	assert.Equal(t, 30, cfg.Audit.TabWalker.StepsBeforeSuspicion)
	assert.Equal(t, 5, cfg.Audit.TabWalker.MinDistinctBeforeSuspicion)
	assert.Equal(t, 0.7, cfg.Audit.TabWalker.IndicatorCoverage)
	assert.Equal(t, 4, cfg.Engine.WorkerConcurrency)
	assert.Contains(t, cfg.Audit.ContrastSelectors, "body")

	assert.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		invalidEngine := *cfg
		invalidEngine.Engine.WorkerConcurrency = 0
		err := invalidEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")

		invalidRate := *cfg
		invalidRate.Engine.RateLimit = -1
		err = invalidRate.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.rate_limit must not be negative")
	})

	t.Run("Browser Validation", func(t *testing.T) {
		b := BrowserConfig{Backend: "rod"}
		assert.NoError(t, b.Validate())

		b.Backend = "ROD"
		assert.NoError(t, b.Validate(), "backend names are case-insensitive")

		b.Backend = "playwright"
		err := b.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})

	t.Run("Audit Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Audit
		assert.NoError(t, valid.Validate())

		lowContrast := valid
		lowContrast.ContrastThreshold = 0.5
		err := lowContrast.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "contrast_threshold must be between 1 and 21")

		highLarge := valid
		highLarge.LargeTextThreshold = 22
		err = highLarge.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "large_text_threshold")
	})

	t.Run("Tab Walker Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Audit.TabWalker
		assert.NoError(t, valid.Validate())

		noSteps := valid
		noSteps.MaxSteps = 0
		err := noSteps.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tab_walker.max_steps must be greater than 0")

		noWindow := valid
		noWindow.LookbackWindow = 0
		assert.Error(t, noWindow.Validate())

		negative := valid
		negative.StepsBeforeSuspicion = -3
		assert.Error(t, negative.Validate())

		coverage := valid
		coverage.IndicatorCoverage = 1.5
		err = coverage.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "indicator_coverage")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  backend: rod
engine:
  worker_concurrency: 8
audit:
  heading_filter: 'Text != "Tools"'
  viewports: ["1280x800", "375x667"]
  tab_walker:
    max_steps: 90
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, BackendRod, cfg.Browser.Backend)
		assert.Equal(t, 8, cfg.Engine.WorkerConcurrency)
		assert.Equal(t, `Text != "Tools"`, cfg.Audit.HeadingFilter)
		assert.Equal(t, []string{"1280x800", "375x667"}, cfg.Audit.Viewports)
		assert.Equal(t, 90, cfg.Audit.TabWalker.MaxSteps)
		// Defaults survive partial overrides of the same section.
		assert.Equal(t, 5, cfg.Audit.TabWalker.LookbackWindow)
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.worker_concurrency", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("PAGEPROBE_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database.URL, "env var must override the config file")
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/pageprobe.log
network:
  navigation_timeout: 12s
audit:
  contrast_selectors: ["main p", ".card"]
metrics:
  textfile: /tmp/pageprobe.prom
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/pageprobe.log", cfg.Logger.LogFile)
	assert.Equal(t, 12*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, []string{"main p", ".card"}, cfg.Audit.ContrastSelectors)
	assert.Equal(t, "/tmp/pageprobe.prom", cfg.Metrics.Textfile)
}
