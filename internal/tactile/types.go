// Package tactile is the subprocess layer of gridrun.
// Every interaction with the outside world (the grid submission CLI, the
// scheduler status query, the merge tool, Kerberos tools, local analysis
// executables) goes through an Executor so that callers get a uniform
// ExecutionResult and tests can substitute a scripted executor.
package tactile

import (
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "hadd", "sh").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to add (in KEY=VALUE format).
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Limits specifies resource constraints for execution.
	Limits *ResourceLimits `json:"limits,omitempty"`

	// Tags are arbitrary key-value pairs for audit (run ID, batch ID...).
	Tags map[string]string `json:"tags,omitempty"`
}

// Shell wraps a shell command line. Grid commands are kept as strings
// because resubmit files store them verbatim.
func Shell(line string) Command {
	return Command{Binary: "sh", Arguments: []string{"-c", line}}
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if c.Binary == "sh" && len(c.Arguments) == 2 && c.Arguments[0] == "-c" {
		return c.Arguments[1]
	}
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ResourceLimits defines constraints on command execution.
type ResourceLimits struct {
	// TimeoutMs is the maximum execution time in milliseconds.
	// Zero means use the executor's default timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MaxOutputBytes limits captured stdout and stderr each.
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// ExecutionResult is the comprehensive output of command execution.
type ExecutionResult struct {
	// Success indicates whether the command completed without an
	// infrastructure error. A non-zero exit still has Success=true.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the command was terminated by timeout or cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`

	// Command is a copy of the command that was executed (for audit).
	Command *Command `json:"command,omitempty"`
}

// IsError returns true if the execution failed (infrastructure error).
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the command ran but returned non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && r.ExitCode != 0
}

// OK reports a clean run: executed, not killed, exit code zero.
func (r *ExecutionResult) OK() bool {
	return r.Success && !r.Killed && r.ExitCode == 0
}

// Output returns stdout and stderr joined.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Quiet reports whether the command ran and wrote nothing to stderr.
// Several lab tools exit zero on failure and only complain on stderr.
func Quiet(r *ExecutionResult) bool {
	return r != nil && r.Success && !r.Killed && strings.TrimSpace(r.Stderr) == ""
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxTimeout caps all timeout values (0 = no cap).
	MaxTimeout time.Duration `json:"max_timeout"`

	// InheritEnvironment passes the whole parent environment through.
	// Grid tools need Kerberos and X509 variables we cannot enumerate.
	InheritEnvironment bool `json:"inherit_environment"`

	// AllowedEnvironment lists variables to pass when not inheriting.
	AllowedEnvironment []string `json:"allowed_environment"`

	// MaxOutputBytes caps output capture (default 10MB).
	MaxOutputBytes int64 `json:"max_output_bytes"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:  "",
		DefaultTimeout:     10 * time.Minute,
		MaxTimeout:         24 * time.Hour,
		InheritEnvironment: true,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "KRB5CCNAME"},
		MaxOutputBytes:     10 * 1024 * 1024, // 10MB
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}

	limits := ResourceLimits{}
	if cmd.Limits != nil {
		limits = *cmd.Limits
	}
	if limits.TimeoutMs == 0 {
		limits.TimeoutMs = c.DefaultTimeout.Milliseconds()
	}
	if limits.MaxOutputBytes == 0 {
		limits.MaxOutputBytes = c.MaxOutputBytes
	}
	if c.MaxTimeout > 0 && limits.TimeoutMs > c.MaxTimeout.Milliseconds() {
		limits.TimeoutMs = c.MaxTimeout.Milliseconds()
	}
	result.Limits = &limits

	return result
}
