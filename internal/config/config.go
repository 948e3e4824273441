// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Audit    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Supported browser backends.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
)

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Backend         string         `mapstructure:"backend" yaml:"backend"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Stealth         bool           `mapstructure:"stealth" yaml:"stealth"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig bounds every suspension point of a page audit.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// AuditConfig configures what a single page audit checks.
type AuditConfig struct {
	Probes             []string        `mapstructure:"probes" yaml:"probes"`
	ContrastSelectors  []string        `mapstructure:"contrast_selectors" yaml:"contrast_selectors"`
	ContrastThreshold  float64         `mapstructure:"contrast_threshold" yaml:"contrast_threshold"`
	LargeTextThreshold float64         `mapstructure:"large_text_threshold" yaml:"large_text_threshold"`
	HeadingFilter      string          `mapstructure:"heading_filter" yaml:"heading_filter"`
	Viewports          []string        `mapstructure:"viewports" yaml:"viewports"`
	OfflineCheck       bool            `mapstructure:"offline_check" yaml:"offline_check"`
	TabWalker          TabWalkerConfig `mapstructure:"tab_walker" yaml:"tab_walker"`
}

// TabWalkerConfig holds the keyboard trap heuristic policy.
type TabWalkerConfig struct {
	MaxSteps                   int     `mapstructure:"max_steps" yaml:"max_steps"`
	MinStepsBeforeEnd          int     `mapstructure:"min_steps_before_end" yaml:"min_steps_before_end"`
	LookbackWindow             int     `mapstructure:"lookback_window" yaml:"lookback_window"`
	StepsBeforeSuspicion       int     `mapstructure:"steps_before_suspicion" yaml:"steps_before_suspicion"`
	MinDistinctBeforeSuspicion int     `mapstructure:"min_distinct_before_suspicion" yaml:"min_distinct_before_suspicion"`
	TextPrefixLen              int     `mapstructure:"text_prefix_len" yaml:"text_prefix_len"`
	IndicatorCoverage          float64 `mapstructure:"indicator_coverage" yaml:"indicator_coverage"`
}

// EngineConfig configures the batch runner.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	RateLimit         float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	JobTimeout        time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig controls where run metrics are written.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// RunConfig holds settings populated from CLI flags for a specific audit run.
type RunConfig struct {
	Targets     []string
	Output      string
	Format      string
	FailOnError bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pageprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.stealth", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "500ms")
	v.SetDefault("network.step_timeout", "5s")
	v.SetDefault("network.probe_timeout", "5s")

	// -- Audit --
	v.SetDefault("audit.probes", []string{})
	v.SetDefault("audit.viewports", []string{})
	v.SetDefault("audit.contrast_selectors", []string{"body", "main", "p", "a", "button", "h1", "h2", "label"})
	v.SetDefault("audit.contrast_threshold", 4.5)
	v.SetDefault("audit.large_text_threshold", 3.0)
	v.SetDefault("audit.heading_filter", "")
	v.SetDefault("audit.offline_check", false)
	v.SetDefault("audit.tab_walker.max_steps", 60)
	v.SetDefault("audit.tab_walker.min_steps_before_end", 3)
	v.SetDefault("audit.tab_walker.lookback_window", 5)
	v.SetDefault("audit.tab_walker.steps_before_suspicion", 30)
	v.SetDefault("audit.tab_walker.min_distinct_before_suspicion", 5)
	v.SetDefault("audit.tab_walker.text_prefix_len", 30)
	v.SetDefault("audit.tab_walker.indicator_coverage", 0.7)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.rate_limit", 0.0)
	v.SetDefault("engine.job_timeout", "3m")

	// -- Metrics --
	v.SetDefault("metrics.textfile", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "PAGEPROBE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.RateLimit < 0 {
		return fmt.Errorf("engine.rate_limit must not be negative")
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser backend selection.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.Backend) {
	case BackendChromedp, BackendRod:
		return nil
	default:
		return fmt.Errorf("unsupported backend %q (want %q or %q)", b.Backend, BackendChromedp, BackendRod)
	}
}

// Validate checks contrast thresholds and the tab walker policy.
func (a *AuditConfig) Validate() error {
	if a.ContrastThreshold < 1 || a.ContrastThreshold > 21 {
		return fmt.Errorf("contrast_threshold must be between 1 and 21")
	}
	if a.LargeTextThreshold < 1 || a.LargeTextThreshold > 21 {
		return fmt.Errorf("large_text_threshold must be between 1 and 21")
	}
	return a.TabWalker.Validate()
}

// Validate checks the TabWalkerConfig settings.
func (t *TabWalkerConfig) Validate() error {
	if t.MaxSteps <= 0 {
		return fmt.Errorf("tab_walker.max_steps must be greater than 0")
	}
	if t.LookbackWindow <= 0 {
		return fmt.Errorf("tab_walker.lookback_window must be greater than 0")
	}
	if t.MinStepsBeforeEnd < 0 || t.StepsBeforeSuspicion < 0 || t.MinDistinctBeforeSuspicion < 0 {
		return fmt.Errorf("tab_walker step thresholds must not be negative")
	}
	if t.IndicatorCoverage < 0 || t.IndicatorCoverage > 1 {
		return fmt.Errorf("tab_walker.indicator_coverage must be between 0.0 and 1.0")
	}
	return nil
}
