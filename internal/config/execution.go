package config

// ExecutionConfig configures the subprocess layer.
type ExecutionConfig struct {
	// Default timeout for commands
	DefaultTimeout string `yaml:"default_timeout"`

	// Captured stdout/stderr are truncated beyond this many bytes
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Working directory
	WorkingDirectory string `yaml:"working_directory"`
}
