package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"gridrun/internal/config"
	"gridrun/internal/grid"
	"gridrun/internal/logging"
	"gridrun/internal/store"
	"gridrun/internal/tactile"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gridrun",
	Short: "Submit, monitor and merge grid reconstruction jobs",
	Long: `gridrun drives the per-run reconstruction workflow on the grid.

It builds tracker commands for a run list (optionally split into event
ranges), submits them with retries, checks job logs and outputs against
the scheduler's queue, resubmits failures and merges split outputs.
Local batches, timing-table shifts and alignment trend reports are
available as auxiliary commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: logging.ParseCategories(cfg.Logging.Categories),
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.BootDebug("config loaded from %q, release %s", configPath, cfg.Release)
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "gridrun settings file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(timeshiftCmd)
	rootCmd.AddCommand(alignCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("GRIDRUN_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.gridrun.yaml"
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func executorConfig() tactile.ExecutorConfig {
	ec := tactile.DefaultExecutorConfig()
	ec.DefaultTimeout = cfg.GetExecutionTimeout()
	if cfg.Execution.MaxOutputBytes > 0 {
		ec.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	ec.DefaultWorkingDir = cfg.Execution.WorkingDirectory
	return ec
}

// newExecutor returns the subprocess executor configured from cfg, with
// every command recorded in the exec log category.
func newExecutor() *tactile.DirectExecutor {
	return newExecutorWithConfig(executorConfig())
}

func newExecutorWithConfig(ec tactile.ExecutorConfig) *tactile.DirectExecutor {
	exec := tactile.NewDirectExecutorWithConfig(ec)
	exec.SetAuditCallback(tactile.NewAuditTrail(1000).Record)
	return exec
}

// openLedger opens the submission ledger. A ledger that cannot be opened
// is reported and treated as absent so submission still works.
func openLedger() *store.Store {
	s, err := store.Open(cfg.StorePath())
	if err != nil {
		logging.StoreWarn("ledger disabled: %v", err)
		return nil
	}
	return s
}

func ledgerOf(s *store.Store) grid.Ledger {
	if s == nil {
		return nil
	}
	return s
}

// withGuard runs fn while a Kerberos ticket guard keeps credentials fresh.
func withGuard(ctx context.Context, exec tactile.Executor, fn func() error) error {
	if !cfg.Credential.Enabled {
		return fn()
	}
	user := os.Getenv("USER")
	guard := grid.NewGuard(exec, grid.GuardOptions{
		User:          user,
		Realm:         cfg.Credential.Realm,
		Cache:         cfg.CredentialCache(user),
		CheckInterval: cfg.GetCheckInterval(),
		RenewInterval: cfg.GetRenewInterval(),
	})
	if err := guard.Init(ctx); err != nil {
		return fmt.Errorf("grid credential: %w", err)
	}
	guard.Start(ctx)
	defer guard.Stop()
	return fn()
}

// readRunList reads one run ID per line; blank lines and '#' comments are skipped.
func readRunList(path string) ([]int, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	runIDs := make([]int, 0, len(lines))
	for _, line := range lines {
		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%s: bad run ID %q", path, line)
		}
		runIDs = append(runIDs, id)
	}
	return runIDs, nil
}

func readLines(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no list file given")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
