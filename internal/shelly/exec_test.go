// File: internal/shelly/exec_test.go
package shelly

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/afterburner/internal/config"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(config.ShellyConfig{Shell: "/bin/sh", DefaultTimeout: 10 * time.Second}, zaptest.NewLogger(t))
}

func TestExecutor_Run(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	t.Run("success is trimmed", func(t *testing.T) {
		res, err := e.Run(ctx, Request{Command: "echo hello"})
		require.NoError(t, err)
		assert.Equal(t, Result{ExitCode: 0, Stdout: "hello", Stderr: ""}, res)
		assert.NoError(t, res.Err())
	})

	t.Run("missing command", func(t *testing.T) {
		res, err := e.Run(ctx, Request{Command: "thisCommandDoesNotExist"})
		require.NoError(t, err)
		assert.Equal(t, 127, res.ExitCode)
		assert.Contains(t, res.Stderr, "not found")

		var cmdErr *CommandExecutionError
		require.ErrorAs(t, res.Err(), &cmdErr)
		assert.Equal(t, 127, cmdErr.ExitCode)
	})

	t.Run("non-zero exit keeps output", func(t *testing.T) {
		res, err := e.Run(ctx, Request{Command: "echo partial; echo oops >&2; exit 3"})
		require.NoError(t, err)
		assert.Equal(t, Result{ExitCode: 3, Stdout: "partial", Stderr: "oops"}, res)
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		res, err := e.Run(ctx, Request{Command: "pwd", Dir: dir})
		require.NoError(t, err)
		assert.Equal(t, dir, res.Stdout)
	})

	t.Run("timeout kills the command", func(t *testing.T) {
		start := time.Now()
		res, err := e.Run(ctx, Request{Command: "sleep 5 | cat", Timeout: 100 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, exitTimedOut, res.ExitCode)
		assert.Contains(t, res.Stderr, "command timed out after 100ms")
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("detached returns immediately", func(t *testing.T) {
		start := time.Now()
		res, err := e.Run(ctx, Request{Command: "sleep 1", Mode: ModeDetached, Timeout: 2 * time.Second})
		require.NoError(t, err)
		assert.Zero(t, res.ExitCode)
		assert.True(t, strings.HasPrefix(res.Stdout, "started pid "))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("missing shell", func(t *testing.T) {
		broken := NewExecutor(config.ShellyConfig{Shell: "/does/not/exist"}, zaptest.NewLogger(t))
		_, err := broken.Run(ctx, Request{Command: "true"})
		assert.Error(t, err)
	})
}

func TestNewExecutor_Defaults(t *testing.T) {
	e := NewExecutor(config.ShellyConfig{}, nil)
	assert.Equal(t, "/bin/sh", e.shell)
	assert.Equal(t, 60*time.Second, e.defaultTimeout)
}
