// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/shelly"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Settle() config.SettleConfig {
	args := m.Called()
	return args.Get(0).(config.SettleConfig)
}

func (m *MockConfig) Proxy() config.ProxyConfig {
	args := m.Called()
	return args.Get(0).(config.ProxyConfig)
}

func (m *MockConfig) Shelly() config.ShellyConfig {
	args := m.Called()
	return args.Get(0).(config.ShellyConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

func (m *MockConfig) Run() config.RunConfig {
	args := m.Called()
	return args.Get(0).(config.RunConfig)
}

// --- Setters ---

func (m *MockConfig) SetHost(h string)              { m.Called(h) }
func (m *MockConfig) SetFilter(f string)            { m.Called(f) }
func (m *MockConfig) SetCI(b bool)                  { m.Called(b) }
func (m *MockConfig) SetLaunch(l []string)          { m.Called(l) }
func (m *MockConfig) SetParams(p map[string]string) { m.Called(p) }
func (m *MockConfig) SetBrowserHeadless(b bool)     { m.Called(b) }

// -- Command Runner Mock --

// MockCommandRunner mocks shelly.Runner.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) ExecuteCommand(ctx context.Context, command string, opts shelly.CommandOptions) (shelly.Result, error) {
	args := m.Called(ctx, command, opts)
	return args.Get(0).(shelly.Result), args.Error(1)
}
