// File: internal/shelly/exec.go
package shelly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
)

// Mode selects whether the endpoint waits for the command.
type Mode string

const (
	ModeSync     Mode = "sync"
	ModeDetached Mode = "detached"
)

// exitTimedOut is reported when a command is killed for running past its timeout.
const exitTimedOut = 124

// Request is one decoded command invocation.
type Request struct {
	Command string
	Dir     string
	Timeout time.Duration
	Mode    Mode
}

// Result is the outcome of a command, as returned over the wire.
type Result struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Err returns a *CommandExecutionError for a non-zero exit, nil otherwise.
func (r Result) Err() error {
	if r.ExitCode == 0 {
		return nil
	}
	return &CommandExecutionError{ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr}
}

// CommandExecutionError describes a command that exited non-zero.
type CommandExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Executor runs shell commands on the harness host.
type Executor struct {
	shell          string
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewExecutor builds an executor from the shelly config section.
func NewExecutor(cfg config.ShellyConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Executor{shell: shell, defaultTimeout: timeout, logger: logger.Named("shelly")}
}

func (e *Executor) command(ctx context.Context, req Request) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.shell, "-c", req.Command)
	cmd.Dir = req.Dir
	// Own process group so a timeout kills the whole pipeline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	return cmd
}

// Run executes req. Only failures to start the shell are returned as errors;
// a command that runs and fails is reported through Result.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if req.Timeout <= 0 {
		req.Timeout = e.defaultTimeout
	}
	if req.Mode == ModeDetached {
		return e.detach(req)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := e.command(ctx, req)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.ExitCode = exitTimedOut
		result.Stderr = strings.TrimSpace(result.Stderr + fmt.Sprintf("\ncommand timed out after %s", req.Timeout))
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return Result{}, fmt.Errorf("failed to run command: %w", err)
	}

	e.logger.Debug("Command finished.",
		zap.String("command", req.Command),
		zap.String("dir", req.Dir),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// detach starts the command and returns immediately. The process is reaped
// in the background and killed once its timeout elapses.
func (e *Executor) detach(req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), req.Timeout)
	cmd := e.command(ctx, req)
	if err := cmd.Start(); err != nil {
		cancel()
		return Result{}, fmt.Errorf("failed to start detached command: %w", err)
	}
	pid := cmd.Process.Pid
	go func() {
		defer cancel()
		err := cmd.Wait()
		e.logger.Debug("Detached command exited.", zap.String("command", req.Command), zap.Int("pid", pid), zap.Error(err))
	}()
	return Result{Stdout: fmt.Sprintf("started pid %d", pid)}, nil
}
