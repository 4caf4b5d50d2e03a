// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/afterburner/internal/observability"
)

// resetForTest restores package state touched by a command run.
func resetForTest(t *testing.T) {
	t.Helper()
	launch, pool := launchBrowser, newPool
	observability.ResetForTest()
	t.Cleanup(func() {
		launchBrowser, newPool = launch, pool
		observability.ResetForTest()
	})
}

// execute runs a fresh command tree and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes an afterburner config file into dir and returns its path.
// The log file always lands in dir.
func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "afterburner-config.yaml")
	content := "logger:\n  level: info\n  log_file: " + filepath.Join(dir, "afterburner.log") + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
