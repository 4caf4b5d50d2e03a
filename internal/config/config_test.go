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

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "afterburner", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, time.Minute, cfg.Browser().ActionTimeout)
	assert.Equal(t, time.Second, cfg.Settle().NetworkGrace)
	assert.Equal(t, time.Second, cfg.Settle().NetworkIdle)
	assert.Equal(t, 6*time.Second, cfg.Settle().ElementTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Settle().ElementInterval)
	assert.Equal(t, "127.0.0.1:3000", cfg.Proxy().Listen)
	assert.True(t, cfg.Proxy().StripSecureCookies)
	assert.Equal(t, 60*time.Second, cfg.Shelly().DefaultTimeout)
	assert.Equal(t, []string{"chrome"}, cfg.Run().Launch)
	assert.Equal(t, "tests", cfg.Run().TestsDir)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Unknown launcher", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetLaunch([]string{"chrome", "netscape"})
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown browser "netscape"`)
	})

	t.Run("Non-positive action timeout", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BrowserCfg.ActionTimeout = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.action_timeout must be a positive duration")
	})

	t.Run("Negative network grace", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SettleCfg.NetworkGrace = -time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("Shelly timeout only checked when enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ShellyCfg.DefaultTimeout = 0
		assert.Error(t, cfg.Validate())
		cfg.ShellyCfg.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}

func TestValidateHost(t *testing.T) {
	cfg := NewDefaultConfig()

	err := cfg.ValidateHost()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host argument is required")

	cfg.SetHost("example.com")
	err = cfg.ValidateHost()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a full URL with scheme")

	cfg.SetHost("https://example.com:8443/app")
	assert.NoError(t, cfg.ValidateHost())
	assert.Equal(t, "example.com", cfg.Run().Hostname())
}

func TestSplitLaunch(t *testing.T) {
	assert.Equal(t, []string{"chrome", "firefox"}, SplitLaunch("Chrome, Firefox,"))
	assert.Nil(t, SplitLaunch(""))
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
host: "http://localhost:4200"
filter: "Login"
launch: ["chrome", "firefox"]
settle:
  network_grace: 250ms
  environments: ["ember"]
proxy:
  cors: true
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:4200", cfg.Run().Host)
		assert.Equal(t, "Login", cfg.Run().Filter)
		assert.Equal(t, []string{"chrome", "firefox"}, cfg.Run().Launch)
		assert.Equal(t, 250*time.Millisecond, cfg.Settle().NetworkGrace)
		assert.Equal(t, []string{"ember"}, cfg.Settle().Environments)
		assert.True(t, cfg.Proxy().CORS)
		// Defaults survive alongside file values.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("proxy.listen", "")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "proxy.listen is required")
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
		t.Setenv("AFTERBURNER_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database().URL)
	})
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "/tmp/x.log", ExpandPath("/tmp/x.log"))
	assert.NotContains(t, ExpandPath("~/x.log"), "~")
	assert.Equal(t, "~other/x", ExpandPath("~other/x"), "unsupported forms are returned unchanged")
}
