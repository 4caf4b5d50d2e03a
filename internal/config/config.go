// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Consumers depend on it so tests can hand in a trimmed down config.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Settle() SettleConfig
	Proxy() ProxyConfig
	Shelly() ShellyConfig
	Metrics() MetricsConfig
	Database() DatabaseConfig
	Report() ReportConfig
	Run() RunConfig

	SetHost(string)
	SetFilter(string)
	SetCI(bool)
	SetLaunch([]string)
	SetParams(map[string]string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	SettleCfg   SettleConfig   `mapstructure:"settle" yaml:"settle"`
	ProxyCfg    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	ShellyCfg   ShellyConfig   `mapstructure:"shelly" yaml:"shelly"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	// RunCfg carries the top level keys (host, filter, ci, launch...).
	RunCfg RunConfig `mapstructure:",squash" yaml:",inline"`
}

// -- Getters --

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Settle() SettleConfig     { return c.SettleCfg }
func (c *Config) Proxy() ProxyConfig       { return c.ProxyCfg }
func (c *Config) Shelly() ShellyConfig     { return c.ShellyCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Run() RunConfig           { return c.RunCfg }

// -- Setters --

func (c *Config) SetHost(h string)              { c.RunCfg.Host = h }
func (c *Config) SetFilter(f string)            { c.RunCfg.Filter = f }
func (c *Config) SetCI(b bool)                  { c.RunCfg.CI = b }
func (c *Config) SetLaunch(l []string)          { c.RunCfg.Launch = l }
func (c *Config) SetParams(p map[string]string) { c.RunCfg.Params = p }
func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }

// RunConfig holds the per-invocation settings most often given on the command line.
type RunConfig struct {
	Host     string   `mapstructure:"host" yaml:"host"`
	Filter   string   `mapstructure:"filter" yaml:"filter"`
	CI       bool     `mapstructure:"ci" yaml:"ci"`
	Launch   []string `mapstructure:"launch" yaml:"launch"`
	Debug    bool     `mapstructure:"debug" yaml:"debug"`
	TestsDir string   `mapstructure:"tests_dir" yaml:"tests_dir"`
	Seed     string   `mapstructure:"seed" yaml:"seed"`
	// Params are the free form key=value arguments passed after the command.
	Params map[string]string `mapstructure:"params" yaml:"params"`
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
	// BookSize caps the number of entries held by the in-memory log book. Zero means unbounded.
	BookSize int `mapstructure:"book_size" yaml:"book_size"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browsers the harness launches.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	WindowWidth     int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int      `mapstructure:"window_height" yaml:"window_height"`
	// ActionTimeout is the default deadline for visit, click, reload and redirect waits.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// EvalTimeout bounds a single script evaluation inside the page.
	EvalTimeout time.Duration `mapstructure:"eval_timeout" yaml:"eval_timeout"`
}

// SettleConfig tunes the page settlement detector.
type SettleConfig struct {
	NetworkGrace     time.Duration `mapstructure:"network_grace" yaml:"network_grace"`
	NetworkIdle      time.Duration `mapstructure:"network_idle" yaml:"network_idle"`
	NetworkPoll      time.Duration `mapstructure:"network_poll" yaml:"network_poll"`
	ElementTimeout   time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	ElementInterval  time.Duration `mapstructure:"element_interval" yaml:"element_interval"`
	QuiescencePoll   time.Duration `mapstructure:"quiescence_poll" yaml:"quiescence_poll"`
	Environments     []string      `mapstructure:"environments" yaml:"environments"`
	QuiescenceScript string        `mapstructure:"quiescence_script" yaml:"quiescence_script"`
	HealthScript     string        `mapstructure:"health_script" yaml:"health_script"`
}

// ProxyConfig configures the reverse proxy that fronts the application under test.
type ProxyConfig struct {
	Listen             string `mapstructure:"listen" yaml:"listen"`
	StripSecureCookies bool   `mapstructure:"strip_secure_cookies" yaml:"strip_secure_cookies"`
	StripAuthPrompt    bool   `mapstructure:"strip_auth_prompt" yaml:"strip_auth_prompt"`
	CORS               bool   `mapstructure:"cors" yaml:"cors"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// ShellyConfig configures the command execution endpoint.
type ShellyConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Shell          string        `mapstructure:"shell" yaml:"shell"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds the database connection details for result persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig controls the CI report output.
type ReportConfig struct {
	JUnitPath string `mapstructure:"junit_path" yaml:"junit_path"`
}

// KnownLaunchers lists the browser names accepted by the launch setting.
var KnownLaunchers = map[string]bool{
	"chrome":   true,
	"chromium": true,
	"firefox":  true,
	"webkit":   true,
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for the configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Run --
	v.SetDefault("ci", false)
	v.SetDefault("debug", false)
	v.SetDefault("tests_dir", "tests")
	v.SetDefault("launch", []string{"chrome"})

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "afterburner")
	v.SetDefault("logger.log_file", "afterburner.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.book_size", 0)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.action_timeout", "1m")
	v.SetDefault("browser.eval_timeout", "10s")

	// -- Settle --
	v.SetDefault("settle.network_grace", "1s")
	v.SetDefault("settle.network_idle", "1s")
	v.SetDefault("settle.network_poll", "1s")
	v.SetDefault("settle.element_timeout", "6s")
	v.SetDefault("settle.element_interval", "100ms")
	v.SetDefault("settle.quiescence_poll", "100ms")

	// -- Proxy --
	v.SetDefault("proxy.listen", "127.0.0.1:3000")
	v.SetDefault("proxy.strip_secure_cookies", true)
	v.SetDefault("proxy.strip_auth_prompt", false)
	v.SetDefault("proxy.cors", false)
	v.SetDefault("proxy.insecure_skip_verify", true)

	// -- Shelly --
	v.SetDefault("shelly.enabled", true)
	v.SetDefault("shelly.shell", "/bin/sh")
	v.SetDefault("shelly.default_timeout", "60s")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/afterburner/metrics")

	// -- Report --
	v.SetDefault("report.junit_path", "afterburner-results.xml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL usually carries credentials, so it gets its own env var.
	_ = v.BindEnv("database.url", "AFTERBURNER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values. The host is validated
// separately by ValidateHost because only some commands need it.
func (c *Config) Validate() error {
	if c.BrowserCfg.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if c.SettleCfg.NetworkPoll <= 0 || c.SettleCfg.ElementInterval <= 0 {
		return fmt.Errorf("settle.network_poll and settle.element_interval must be positive durations")
	}
	if c.SettleCfg.NetworkGrace < 0 || c.SettleCfg.NetworkIdle < 0 {
		return fmt.Errorf("settle.network_grace and settle.network_idle cannot be negative")
	}
	if c.ProxyCfg.Listen == "" {
		return fmt.Errorf("proxy.listen is required")
	}
	if c.ShellyCfg.Enabled && c.ShellyCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("shelly.default_timeout must be a positive duration")
	}
	for _, l := range c.RunCfg.Launch {
		if !KnownLaunchers[strings.ToLower(strings.TrimSpace(l))] {
			return fmt.Errorf("launch: unknown browser %q", l)
		}
	}
	return nil
}

// ValidateHost checks that the host is set and is a full URL with a scheme.
func (c *Config) ValidateHost() error {
	return ValidateHostURL(c.RunCfg.Host)
}

// ValidateHostURL is ValidateHost for a bare value.
func ValidateHostURL(host string) error {
	if host == "" {
		return fmt.Errorf("host argument is required or must be set in afterburner-config.yaml")
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("host is invalid. must be a full URL with scheme, such as: https://example.com")
	}
	return nil
}

// SplitLaunch turns a comma separated launcher list into normalized names.
func SplitLaunch(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Hostname returns the hostname part of the configured host, or the empty string.
func (r RunConfig) Hostname() string {
	u, err := url.Parse(r.Host)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ExpandPath resolves a leading ~ in user supplied paths. On failure the
// path is returned unchanged.
func ExpandPath(p string) string {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}
