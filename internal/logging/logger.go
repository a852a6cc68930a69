// Package logging provides categorized logging for gridrun.
// Every subsystem logs through its own category so operators can filter a
// long submission session down to, say, only the credential guard.
// Output goes through a single zap logger configured by Initialize; until
// then every call is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategorySubmit     Category = "submit"     // Grid submission loop
	CategoryStatus     Category = "status"     // Per-run status checks
	CategoryJobs       Category = "jobs"       // Scheduler job list refresh
	CategoryMerge      Category = "merge"      // hadd-style merges
	CategoryCredential Category = "credential" // Kerberos ticket guard
	CategoryStore      Category = "store"      // Submission ledger
	CategoryExec       Category = "exec"       // Subprocess execution
	CategoryTables     Category = "tables"     // Timing table rewriting
	CategoryAlign      Category = "align"      // Alignment trend summary
	CategoryLocal      Category = "local"      // Local batch runner
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional extra sink
	Categories map[string]bool // per-category toggles, missing = enabled
}

// Logger is a category-scoped sugared zap logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	loggers    = make(map[Category]*Logger)
	categories map[string]bool
)

// Initialize builds the process-wide zap logger from opts.
func Initialize(opts Options) error {
	var cfg zap.Config
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	Use(logger, opts.Categories)
	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s file=%s", level, opts.Format, opts.File)
	return nil
}

// Use installs an already built zap logger. Tests pass an observer core here.
func Use(logger *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = logger
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Reset drops back to the no-op logger.
func Reset() {
	Use(zap.NewNop(), nil)
}

// Sync flushes buffered entries. Call at shutdown.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

// IsCategoryEnabled reports whether a category is switched on.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// ParseCategories turns "submit,status" into a toggle map with only those enabled.
func ParseCategories(list string) map[string]bool {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	all := []Category{
		CategoryBoot, CategorySubmit, CategoryStatus, CategoryJobs, CategoryMerge,
		CategoryCredential, CategoryStore, CategoryExec, CategoryTables, CategoryAlign, CategoryLocal,
	}
	m := make(map[string]bool, len(all))
	for _, c := range all {
		m[string(c)] = false
	}
	for _, name := range strings.Split(list, ",") {
		m[strings.TrimSpace(name)] = true
	}
	return m
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Submit(format string, args ...interface{})      { Get(CategorySubmit).Info(format, args...) }
func SubmitDebug(format string, args ...interface{}) { Get(CategorySubmit).Debug(format, args...) }
func SubmitWarn(format string, args ...interface{})  { Get(CategorySubmit).Warn(format, args...) }
func SubmitError(format string, args ...interface{}) { Get(CategorySubmit).Error(format, args...) }

func Status(format string, args ...interface{})      { Get(CategoryStatus).Info(format, args...) }
func StatusDebug(format string, args ...interface{}) { Get(CategoryStatus).Debug(format, args...) }
func StatusWarn(format string, args ...interface{})  { Get(CategoryStatus).Warn(format, args...) }

func Jobs(format string, args ...interface{})      { Get(CategoryJobs).Info(format, args...) }
func JobsDebug(format string, args ...interface{}) { Get(CategoryJobs).Debug(format, args...) }
func JobsWarn(format string, args ...interface{})  { Get(CategoryJobs).Warn(format, args...) }

func Merge(format string, args ...interface{})      { Get(CategoryMerge).Info(format, args...) }
func MergeDebug(format string, args ...interface{}) { Get(CategoryMerge).Debug(format, args...) }
func MergeWarn(format string, args ...interface{})  { Get(CategoryMerge).Warn(format, args...) }

func Credential(format string, args ...interface{})      { Get(CategoryCredential).Info(format, args...) }
func CredentialDebug(format string, args ...interface{}) { Get(CategoryCredential).Debug(format, args...) }
func CredentialWarn(format string, args ...interface{})  { Get(CategoryCredential).Warn(format, args...) }
func CredentialError(format string, args ...interface{}) { Get(CategoryCredential).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }

func Exec(format string, args ...interface{})      { Get(CategoryExec).Info(format, args...) }
func ExecDebug(format string, args ...interface{}) { Get(CategoryExec).Debug(format, args...) }
func ExecWarn(format string, args ...interface{})  { Get(CategoryExec).Warn(format, args...) }
func ExecError(format string, args ...interface{}) { Get(CategoryExec).Error(format, args...) }

func Tables(format string, args ...interface{})      { Get(CategoryTables).Info(format, args...) }
func TablesDebug(format string, args ...interface{}) { Get(CategoryTables).Debug(format, args...) }

func Align(format string, args ...interface{})      { Get(CategoryAlign).Info(format, args...) }
func AlignDebug(format string, args ...interface{}) { Get(CategoryAlign).Debug(format, args...) }

func Local(format string, args ...interface{})      { Get(CategoryLocal).Info(format, args...) }
func LocalDebug(format string, args ...interface{}) { Get(CategoryLocal).Debug(format, args...) }
func LocalWarn(format string, args ...interface{})  { Get(CategoryLocal).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
