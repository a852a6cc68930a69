package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"gridrun/internal/config"
	"gridrun/internal/grid"
	"gridrun/internal/logging"
	"gridrun/internal/store"
	"gridrun/internal/tactile"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so runs do not leak
// state into each other through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with a private config and ledger and
// returns what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SEAQUEST_RELEASE", "R005")
	t.Setenv("GRIDRUN_WORKDIR", dir)
	if os.Getenv("GRIDRUN_DB") == "" {
		t.Setenv("GRIDRUN_DB", filepath.Join(dir, "ledger.db"))
	}
	t.Cleanup(logging.Reset)

	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	if !slices.Contains(args, "--config") {
		args = append(args, "--config", filepath.Join(dir, "absent.yaml"))
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"submit", "status", "merge", "local", "timeshift", "align", "history"} {
		assert.Contains(t, names, want)
	}
}

func TestReadRunList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "runs.txt"), "12345\n\n# skipped\n  12346  \n")

	ids, err := readRunList(path)
	require.NoError(t, err)
	assert.Equal(t, []int{12345, 12346}, ids)

	bad := writeFile(t, filepath.Join(dir, "bad.txt"), "12345\nrun7\n")
	_, err = readRunList(bad)
	assert.ErrorContains(t, err, "run7")

	_, err = readRunList("")
	assert.Error(t, err)
}

func TestTimeshiftCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "hodo.tsv"),
		"header line\n1\t2\t3\t4\t5\t100\nbad row\n")
	out := filepath.Join(dir, "shifted.tsv")

	_, err := runCLI(t, "timeshift", in, "hodo", "2.6", out)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "header line\n1\t2\t3\t4\t5\t103\nbad row\n", string(got))
}

func TestTimeshiftCommand_UnknownMode(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "t.tsv"), "h\n1 2 3 4 5\n")

	_, err := runCLI(t, "timeshift", in, "laser", "1", filepath.Join(dir, "o.tsv"))
	assert.ErrorContains(t, err, "chamber")
}

func submitFixture(t *testing.T) (list, jobConf, outDir string) {
	t.Helper()
	dir := t.TempDir()
	outDir = filepath.Join(dir, "out")
	list = writeFile(t, filepath.Join(dir, "runs.txt"), "12345\n12346\n")
	jobConf = writeFile(t, filepath.Join(dir, "track.conf"),
		fmt.Sprintf("indir = /data\ninv = R004\noutdir = %s\nsqlite\n", outDir))
	return list, jobConf, outDir
}

func TestSubmitDryRun(t *testing.T) {
	list, jobConf, _ := submitFixture(t)

	out, err := runCLI(t, "submit", "-l", list, "-j", "track", "-c", jobConf, "--dry-run")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "runKTracker.py --grid --track --run=12345 --input=/data/digit/R004/01/23/digit_012345_R004.root"), lines[0])
	assert.Contains(t, lines[0], "--sqlite")
	assert.NotContains(t, lines[0], "--outtag")
	assert.Contains(t, lines[1], "--run=12346")
}

func TestSubmitDryRun_SplitWritesOpts(t *testing.T) {
	list, jobConf, outDir := submitFixture(t)

	out, err := runCLI(t, "submit", "-l", list, "-j", "track", "-c", jobConf,
		"-s", "100000", "--nevents", "250000", "--write-opts", "--dry-run")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "--n-events=83333 --first-event=0 --outtag=0")
	assert.Contains(t, lines[2], "--n-events=84333 --first-event=166666 --outtag=2")

	layout := grid.Layout{OutDir: outDir, Release: "R005"}
	attr, err := grid.ParseOptsFile(layout.OptsFile(grid.JobTrack, 12346, "1"), "R005")
	require.NoError(t, err)
	assert.Equal(t, grid.JobAttr{RunID: 12346, Outtag: "1", FirstEvent: 83333, NEvents: 83333}, attr)
}

func TestSubmitSplit_NeedsEventCount(t *testing.T) {
	list, jobConf, _ := submitFixture(t)

	out, err := runCLI(t, "submit", "-l", list, "-j", "track", "-c", jobConf, "-s", "100000", "--dry-run")
	require.ErrorIs(t, err, grid.ErrCounterUnavailable)
	assert.ErrorContains(t, err, "counter_command")
	assert.NotContains(t, out, "runKTracker.py")
}

func TestSubmitSplit_CounterFailureSubmitsWholeRun(t *testing.T) {
	list, jobConf, _ := submitFixture(t)
	settings := writeFile(t, filepath.Join(t.TempDir(), "gridrun.yaml"),
		"merge:\n  counter_command: \"exit 3 # {file}\"\n")

	out, err := runCLI(t, "submit", "-l", list, "-j", "track", "-c", jobConf, "-s", "100000",
		"--dry-run", "--config", settings)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "--run=12345")
	assert.NotContains(t, lines[0], "--outtag")
	assert.Contains(t, lines[1], "--run=12346")
}

func TestSubmitResubmitDryRun(t *testing.T) {
	dir := t.TempDir()
	errlog := writeFile(t, filepath.Join(dir, "err.log"),
		"2024-01-02 03:04:05.000000\nrunKTracker.py --grid --track --run=1\n\nrunKTracker.py --grid --track --run=2\n")

	out, err := runCLI(t, "submit", "-r", errlog, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "runKTracker.py --grid --track --run=1\nrunKTracker.py --grid --track --run=2\n", out)
}

func TestSubmit_BadJobType(t *testing.T) {
	list, jobConf, _ := submitFixture(t)
	_, err := runCLI(t, "submit", "-l", list, "-j", "muon", "-c", jobConf, "--dry-run")
	assert.Error(t, err)
}

func TestAlignCommand(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 3; i++ {
		var b strings.Builder
		for d := 0; d < 24; d++ {
			// detector 1 still moves in the last step, all others are flat
			shift := 0.0
			if d == 0 {
				shift = float64(i) * 0.1
			}
			fmt.Fprintf(&b, "%g 0.5 %g\n", shift, float64(d))
		}
		writeFile(t, filepath.Join(dir, fmt.Sprintf("align_mille_%d.txt", i)), b.String())
	}
	pdf := filepath.Join(dir, "trend.pdf")

	out, err := runCLI(t, "align", "3", "--dir", dir, "--pdf", pdf, "--tolerance", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 72 parameters changed by more than 0.01")

	info, err := os.Stat(pdf)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestHistoryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("GRIDRUN_DB", db)

	s, err := store.Open(db)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.RecordSubmission(ctx, store.Submission{
		BatchID: "batch-1", Command: "cmd a", JobID: "42", Accepted: true, At: time.Now(),
	}))
	require.NoError(t, s.RecordAbandoned(ctx, "batch-1", []string{"cmd b"}))
	require.NoError(t, s.Close())

	out, err := runCLI(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "batch-1")

	out, err = runCLI(t, "history", "--batch", "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "cmd b\n", out)
}

func TestLocalExecutorConfig_KeepsLongTimeouts(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.DefaultConfig()

	long := 48 * time.Hour
	cmd := localExecutorConfig(long).Merge(tactile.Command{
		Binary: "kFastTracking",
		Limits: &tactile.ResourceLimits{TimeoutMs: long.Milliseconds()},
	})
	assert.Equal(t, long.Milliseconds(), cmd.Limits.TimeoutMs)

	// shorter job timeouts keep the default cap
	assert.Equal(t, tactile.DefaultExecutorConfig().MaxTimeout, localExecutorConfig(time.Hour).MaxTimeout)
}

func TestReportRows(t *testing.T) {
	reports := []grid.Report{
		// all finished, one with a bad log
		{RunID: 12345, Total: 3, Finished: 3, FailedOpts: []string{"a.opts"}, FailedOuts: []string{"a.root"}},
		{RunID: 12346, Total: 4, Finished: 1, Running: 2, FailedOpts: []string{"b.opts"}, FailedOuts: []string{"b.root"}},
	}

	assert.Equal(t, [][]string{
		{"12345", "3", "3", "0", "1"},
		{"12346", "4", "1", "2", "1"},
		{"all", "7", "4", "2", "2"},
	}, reportRows(reports))

	out := renderReports(reports)
	assert.Contains(t, out, "running")
	assert.NotContains(t, out, "-1")
}

func TestChangedRuns(t *testing.T) {
	byDir := map[string][]int{
		"/log/01/23": {12345, 12346},
		"/log/01/24": {12400},
	}
	got := changedRuns([]string{
		"/log/01/23/track_from_digit_012346_R005_0.log",
		"/log/01/24/other.log",
		"/log/01/23/track_from_digit_012346_R005_1.log",
		"/log/09/99/track_from_digit_099999_R005.log",
	}, byDir)
	assert.Equal(t, []int{12346, 12400}, got)
}
