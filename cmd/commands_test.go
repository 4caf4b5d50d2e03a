// File: cmd/commands_test.go
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/mocks"
	"github.com/xkilldash9x/afterburner/internal/scaffold"
	"github.com/xkilldash9x/afterburner/internal/store"
)

func TestNewCmd(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := execute(t, "new", "myApp")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "myApp", "afterburner-config.yaml"))
	assert.DirExists(t, filepath.Join(dir, "myApp", ".git"))

	resetForTest(t)
	_, err = execute(t, "new", "myApp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app directory already exists")

	resetForTest(t)
	_, err = execute(t, "new")
	assert.ErrorIs(t, err, scaffold.ErrMissingName)
}

func TestTestCmd_RequiresHost(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	_, err := execute(t, "--config", path, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host argument is required")

	resetForTest(t)
	_, err = execute(t, "--config", path, "--host", "localhost:4200", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a full URL with scheme")
}

func TestTestCmd_MissingTestsDir(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "host: http://127.0.0.1:4200\ntests_dir: "+filepath.Join(dir, "nope")+"\n")

	_, err := execute(t, "--config", path, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tests directory not found")
}

// fakeLauncher hands out in-memory browsers serving a single page.
func fakeLauncher(launched *[]string) func(context.Context, string, config.BrowserConfig, *zap.Logger) (harness.Driver, error) {
	return func(_ context.Context, name string, _ config.BrowserConfig, _ *zap.Logger) (harness.Driver, error) {
		*launched = append(*launched, name)
		d := mocks.NewFakeDriver()
		d.Routes["/"] = &mocks.FakeDocument{
			HTML: "<html><body>hello world</body></html>",
			Elements: []mocks.FakeElement{
				{Selector: "body", Element: harness.Element{Tag: "body", Text: "hello world", Visible: true}},
			},
		}
		return d, nil
	}
}

func writeSuite(t *testing.T, dir string, scenarios map[string]string) string {
	t.Helper()
	tests := filepath.Join(dir, "tests")
	require.NoError(t, os.MkdirAll(tests, 0o755))
	for name, body := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(tests, name), []byte(body), 0o644))
	}
	return tests
}

func runConfig(t *testing.T, dir, host, tests, launch, extra string) string {
	t.Helper()
	return writeConfig(t, dir, fmt.Sprintf(`host: %s
tests_dir: %s
launch: [%s]
proxy:
  listen: 127.0.0.1:0
shelly:
  enabled: false
metrics:
  enabled: false
settle:
  network_grace: 10ms
  network_idle: 10ms
  network_poll: 10ms
  element_timeout: 200ms
  element_interval: 10ms
report:
  junit_path: %s
%s`, host, tests, launch, filepath.Join(dir, "reports", "junit.xml"), extra))
}

func TestTestCmd_RunsScenarios(t *testing.T) {
	resetForTest(t)
	var launched []string
	launchBrowser = fakeLauncher(&launched)

	app := httptest.NewServer(http.NotFoundHandler())
	defer app.Close()

	dir := t.TempDir()
	tests := writeSuite(t, dir, map[string]string{
		"home.yaml": `
module: Acceptance | Home
tests:
  - name: greets
    steps:
      - visit: /
      - assert: {dom: body, includesText: "${word}"}
      - assert: {currentPage: /}
`,
	})
	path := runConfig(t, dir, app.URL, tests, "chrome, firefox", "ci: true\n")

	out, err := execute(t, "--config", path, "--seed", "abcdefghij", "test", "word=hello")
	require.NoError(t, err)

	assert.Equal(t, []string{"chrome", "firefox"}, launched)
	assert.Contains(t, out, "Seed value: abcdefghij")
	assert.Contains(t, out, "Host: "+app.URL)
	assert.Contains(t, out, "Total: 2, Failed: 0, Passed: 2")

	report, err := os.ReadFile(filepath.Join(dir, "reports", "junit.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(report), `name="chrome: Acceptance | Home"`)
	assert.Contains(t, string(report), `name="firefox: Acceptance | Home"`)
}

func TestTestCmd_DebugShowsFrames(t *testing.T) {
	resetForTest(t)
	var drivers []*mocks.FakeDriver
	launchBrowser = func(ctx context.Context, name string, cfg config.BrowserConfig, logger *zap.Logger) (harness.Driver, error) {
		assert.False(t, cfg.Headless, "debug runs launch a visible browser")
		var launched []string
		d, err := fakeLauncher(&launched)(ctx, name, cfg, logger)
		drivers = append(drivers, d.(*mocks.FakeDriver))
		return d, err
	}

	dir := t.TempDir()
	tests := writeSuite(t, dir, map[string]string{
		"home.yaml": "module: M\ntests:\n  - name: loads\n    steps:\n      - visit: /\n      - assert: {dom: body, exists: true}\n",
	})
	path := runConfig(t, dir, "http://127.0.0.1:4200", tests, "chrome", "")

	_, err := execute(t, "--config", path, "--debug", "test")
	require.NoError(t, err)

	require.Len(t, drivers, 1)
	pages := drivers[0].Pages()
	require.NotEmpty(t, pages)
	for _, p := range pages {
		assert.Equal(t, 1, p.Reveals())
	}
}

func TestTestCmd_FailingScenario(t *testing.T) {
	resetForTest(t)
	var launched []string
	launchBrowser = fakeLauncher(&launched)

	dir := t.TempDir()
	tests := writeSuite(t, dir, map[string]string{
		"ghost.yaml": `
module: Acceptance | Ghost
tests:
  - name: finds nothing
    steps:
      - visit: /
      - assert: {dom: "#ghost", exists: true}
`,
	})
	path := runConfig(t, dir, "http://127.0.0.1:4200", tests, "chrome", "")

	out, err := execute(t, "--config", path, "test")
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, out, "#ghost yielded 0 elements")
	assert.NoFileExists(t, filepath.Join(dir, "reports", "junit.xml"), "reports are only written in ci mode")
}

func TestTestCmd_PersistsResults(t *testing.T) {
	resetForTest(t)
	var launched []string
	launchBrowser = fakeLauncher(&launched)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS afterburner_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO afterburner_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom([]string{"afterburner_results"}, []string{"run_id", "module", "test", "skipped", "passed", "failed", "runtime_ms", "failure"}).
		WillReturnResult(1)
	mock.ExpectCommit()
	mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)
	newPool = func(context.Context, string) (store.DBPool, func(), error) {
		return mock, mock.Close, nil
	}

	dir := t.TempDir()
	tests := writeSuite(t, dir, map[string]string{
		"home.yaml": "module: M\ntests:\n  - name: loads\n    steps:\n      - visit: /\n      - assert: {dom: body, exists: true}\n",
	})
	path := runConfig(t, dir, "http://127.0.0.1:4200", tests, "chrome", "database:\n  url: postgres://afterburner@localhost/results\n")

	_, err = execute(t, "--config", path, "test")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogsCmd(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	out, err := execute(t, "--config", path, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "no logs yet at: "+filepath.Join(dir, "afterburner.log"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "afterburner.log"), []byte("line one\nline two\n"), 0o644))
	resetForTest(t)
	out, err = execute(t, "--config", path, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "line one\nline two\n")
}

func TestHistoryCmd(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()

	_, err := execute(t, "--config", writeConfig(t, dir, ""), "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results database configured")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	mock.ExpectPing()
	mock.ExpectQuery("FROM afterburner_runs").WithArgs(5).WillReturnRows(
		pgxmock.NewRows([]string{"id", "host", "browser", "seed", "passed", "failed", "runtime_ms", "started_at"}).
			AddRow(uuid.New(), "http://localhost:4200", "chrome", "seed000001", 12, 1, int64(61500), started),
	)

	resetForTest(t)
	newPool = func(context.Context, string) (store.DBPool, func(), error) {
		return mock, mock.Close, nil
	}
	path := writeConfig(t, dir, "database:\n  url: postgres://afterburner@localhost/results\n")
	out, err := execute(t, "--config", path, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "BROWSER")
	assert.Contains(t, out, "seed000001")
	assert.Contains(t, out, "61.5s")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTestSite(t *testing.T) {
	resetForTest(t)
	cfg := config.NewDefaultConfig()

	err := withTestSite(context.Background(), cfg, func(*zap.Logger) error {
		resp, err := http.Get(cfg.Run().Host + "/form.html")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, cfg.Run().Host, "http://127.0.0.1:")
}

func TestAppTestsDir(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.Equal(t, filepath.Join("/tmp/app", "tests"), appTestsDir("/tmp/app", cfg))

	mockCfg := &mocks.MockConfig{}
	mockCfg.On("Run").Return(config.RunConfig{TestsDir: "/srv/acceptance"})
	assert.Equal(t, "/srv/acceptance", appTestsDir("/tmp/app", mockCfg))
	mockCfg.AssertExpectations(t)
}
