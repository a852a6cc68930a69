package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gridrun/internal/logging"
)

// DirectExecutor executes commands directly on the host using os/exec.
type DirectExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig

	// auditCallback is called for execution events
	auditCallback func(AuditEvent)
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.ExecDebug("Creating DirectExecutor: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &DirectExecutor{config: config}
}

// SetAuditCallback sets the callback for audit events.
func (e *DirectExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

func (e *DirectExecutor) emitAudit(event AuditEvent) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(event)
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	return nil
}

// Execute runs a command directly on the host.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := e.Validate(cmd); err != nil {
		logging.ExecWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	timeout := time.Duration(cmd.Limits.TimeoutMs) * time.Millisecond

	logging.ExecDebug("Executing: %s (dir=%s, timeout=%s)", cmd.CommandString(), cmd.WorkingDirectory, timeout)

	result := &ExecutionResult{
		ExitCode: -1,
		Command:  &cmd,
	}

	e.emitAudit(AuditEvent{Type: AuditEventStart, Timestamp: time.Now(), Command: cmd})

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: cmd.Limits.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: cmd.Limits.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.ExecWarn("Command output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = 0
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Success = true
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
		logging.ExecWarn("Command killed (timeout): %s after %s", cmd.Binary, timeout)
		e.emitAudit(AuditEvent{Type: AuditEventKilled, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil
	case errors.Is(execCtx.Err(), context.Canceled):
		result.Success = true
		result.Killed = true
		result.KillReason = "context canceled"
		logging.ExecDebug("Command canceled: %s", cmd.Binary)
		e.emitAudit(AuditEvent{Type: AuditEventKilled, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil
	case errors.As(err, &exitErr):
		result.Success = true
		result.ExitCode = exitErr.ExitCode()
		logging.ExecDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
	default:
		result.Success = false
		result.Error = err.Error()
		logging.ExecError("Command failed: %s - %v", cmd.Binary, err)
		e.emitAudit(AuditEvent{Type: AuditEventError, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil
	}

	e.emitAudit(AuditEvent{Type: AuditEventComplete, Timestamp: time.Now(), Command: cmd, Result: result})
	logging.ExecDebug("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Binary, result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// buildEnvironment creates the environment variable list.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	var env []string
	if e.config.InheritEnvironment {
		env = os.Environ()
	} else {
		for _, key := range e.config.AllowedEnvironment {
			if val := os.Getenv(key); val != "" {
				env = append(env, key+"="+val)
			}
		}
	}
	return append(env, cmdEnv...)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 {
		written, err := lw.w.Write(p)
		lw.written += int64(written)
		return written, err
	}

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
