package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gridrun configuration.
type Config struct {
	// Software release tag, embedded in every output and log file name.
	Release string `yaml:"release"`

	// Scratch area for submission logs and the ledger.
	WorkDir string `yaml:"work_dir"`

	Grid       GridConfig       `yaml:"grid"`
	Credential CredentialConfig `yaml:"credential"`
	Merge      MergeConfig      `yaml:"merge"`
	Store      StoreConfig      `yaml:"store"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GridConfig configures submission and status polling.
type GridConfig struct {
	// Tracker is the per-run analysis launcher invoked by every grid command.
	Tracker string `yaml:"tracker"`

	// StatusCommand lists the user's currently queued/running jobs.
	StatusCommand string `yaml:"status_command"`

	MaxFailRounds int    `yaml:"max_fail_rounds"` // rounds with zero successes before giving up
	RetryDelay    string `yaml:"retry_delay"`
	ETAEvery      int    `yaml:"eta_every"`
	MaxJobsPerRun int    `yaml:"max_jobs_per_run"`

	// SubmissionLog receives abandoned commands when no --errlog is given.
	SubmissionLog string `yaml:"submission_log"`

	// Concurrency bounds parallel per-run status checks.
	Concurrency int `yaml:"concurrency"`
}

// CredentialConfig configures the Kerberos ticket guard.
type CredentialConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CacheTemplate string `yaml:"cache_template"` // {user} is substituted
	Realm         string `yaml:"realm"`
	CheckInterval string `yaml:"check_interval"`
	RenewInterval string `yaml:"renew_interval"`
}

// MergeConfig configures hadd-style merging and event counting.
type MergeConfig struct {
	Tool string `yaml:"tool"`

	// CounterCommand prints "saved [expected]" event counts for {file}.
	// Empty disables event-count checks.
	CounterCommand string `yaml:"counter_command"`

	EventTolerance int64 `yaml:"event_tolerance"`
}

// StoreConfig configures the SQLite submission ledger.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	workDir := filepath.Join(homeDir(), "tmp")
	return &Config{
		Release: "R005",
		WorkDir: workDir,

		Grid: GridConfig{
			Tracker:       "runKTracker.py",
			StatusCommand: "qstate All",
			MaxFailRounds: 10,
			RetryDelay:    "30s",
			ETAEvery:      10,
			MaxJobsPerRun: 10,
			Concurrency:   8,
		},

		Credential: CredentialConfig{
			Enabled:       true,
			CacheTemplate: "/e906/app/users/{user}/.krbcc/my_cert",
			Realm:         "FNAL.GOV",
			CheckInterval: "1m",
			RenewInterval: "10h",
		},

		Merge: MergeConfig{
			Tool:           "hadd",
			EventTolerance: 1000,
		},

		Execution: ExecutionConfig{
			DefaultTimeout: "10m",
			MaxOutputBytes: 10 * 1024 * 1024,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if rel := os.Getenv("SEAQUEST_RELEASE"); rel != "" {
		c.Release = rel
	}
	if path := os.Getenv("GRIDRUN_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("GRIDRUN_WORKDIR"); dir != "" {
		c.WorkDir = dir
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Release) == "" {
		return fmt.Errorf("release not configured (set release or SEAQUEST_RELEASE)")
	}
	if c.Grid.Tracker == "" {
		return fmt.Errorf("grid.tracker must not be empty")
	}
	if c.Grid.MaxFailRounds < 0 {
		return fmt.Errorf("grid.max_fail_rounds must be >= 0")
	}
	if c.Merge.Tool == "" {
		return fmt.Errorf("merge.tool must not be empty")
	}
	if c.Credential.Enabled && c.Credential.Realm == "" {
		return fmt.Errorf("credential.realm is required when the guard is enabled")
	}
	return nil
}

// GetRetryDelay returns the pause between submission rounds.
func (c *Config) GetRetryDelay() time.Duration {
	return parseDuration(c.Grid.RetryDelay, 30*time.Second)
}

// GetCheckInterval returns how often the credential guard wakes up.
func (c *Config) GetCheckInterval() time.Duration {
	return parseDuration(c.Credential.CheckInterval, time.Minute)
}

// GetRenewInterval returns how often the Kerberos ticket is renewed.
func (c *Config) GetRenewInterval() time.Duration {
	return parseDuration(c.Credential.RenewInterval, 10*time.Hour)
}

// GetExecutionTimeout returns the default subprocess timeout.
func (c *Config) GetExecutionTimeout() time.Duration {
	return parseDuration(c.Execution.DefaultTimeout, 10*time.Minute)
}

// SubmissionLogPath returns where abandoned commands are appended.
func (c *Config) SubmissionLogPath() string {
	if c.Grid.SubmissionLog != "" {
		return c.Grid.SubmissionLog
	}
	return filepath.Join(c.WorkDir, "log")
}

// StorePath returns the ledger database path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.WorkDir, "gridrun.db")
}

// CredentialCache returns the Kerberos cache path for user.
func (c *Config) CredentialCache(user string) string {
	return strings.ReplaceAll(c.Credential.CacheTemplate, "{user}", user)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}
