package main

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gridrun/internal/config"
	"gridrun/internal/grid"
	"gridrun/internal/logging"
	"gridrun/internal/tactile"

	"github.com/spf13/cobra"
)

var (
	statusList      string
	statusJob       string
	statusJobConfig string
	statusResubmit  bool
	statusFailedOut string
	statusWatch     bool
	statusDebounce  time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check finished, running and failed jobs of a run list",
	Long: `For every run of the list, compares the opts files written at
submission with the job logs and outputs. Unfinished jobs that the
scheduler no longer holds count as failed, as do finished jobs whose log
does not end successfully or whose output lost too many events.

--resubmit rebuilds the failed commands from their opts files and submits
them again. --failed-out writes the outputs of failed jobs to a file so
they can be removed before resubmission. --watch re-checks a run whenever
one of its logs changes.`,
	RunE: runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVarP(&statusList, "list", "l", "", "List of run IDs")
	f.StringVarP(&statusJob, "job", "j", "", "Type of job: track or vertex")
	f.StringVarP(&statusJobConfig, "job-config", "c", "", "Tracker I/O configuration file (outdir)")
	f.BoolVarP(&statusResubmit, "resubmit", "r", false, "Resubmit failed jobs")
	f.StringVar(&statusFailedOut, "failed-out", "", "Write the outputs of failed jobs to this file")
	f.BoolVarP(&statusWatch, "watch", "w", false, "Re-check runs whenever their logs change")
	f.DurationVar(&statusDebounce, "debounce", 5*time.Second, "Quiet period before a changed run is re-checked")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	jobType, err := grid.ParseJobType(statusJob)
	if err != nil {
		return err
	}
	runIDs, err := readRunList(statusList)
	if err != nil {
		return err
	}
	jc, err := config.LoadJobConfig(statusJobConfig)
	if err != nil {
		return err
	}
	layout := grid.Layout{OutDir: jc.Value("outdir"), Release: cfg.Release}
	if layout.OutDir == "" {
		return fmt.Errorf("no outdir in job config %q", statusJobConfig)
	}

	exec := newExecutor()
	jobs := grid.NewJobList(exec, cfg.Grid.StatusCommand, cfg.Release)
	if err := jobs.Refresh(ctx); err != nil {
		logging.JobsWarn("job list unavailable, unfinished jobs count as failed: %v", err)
	}

	ledger := openLedger()
	if ledger != nil {
		defer ledger.Close()
	}
	checker := &grid.Checker{
		Layout:    layout,
		Jobs:      jobs,
		Counter:   grid.NewCounter(exec, cfg.Merge.CounterCommand),
		Tolerance: cfg.Merge.EventTolerance,
		Ledger:    ledgerOf(ledger),
		BatchID:   "status-" + grid.Timestamp(time.Now()),
	}

	reports, err := checker.CheckAll(ctx, jobType, runIDs, cfg.Grid.Concurrency)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))

	var failedOpts, failedOuts []string
	for _, r := range reports {
		failedOpts = append(failedOpts, r.FailedOpts...)
		failedOuts = append(failedOuts, r.FailedOuts...)
	}
	if statusFailedOut != "" {
		if err := writeLines(statusFailedOut, failedOuts); err != nil {
			return err
		}
		logging.Status("wrote %d failed outputs to %s", len(failedOuts), statusFailedOut)
	}
	if statusResubmit && len(failedOpts) > 0 {
		if err := resubmitFailed(ctx, exec, jobType, jc, failedOpts); err != nil {
			return err
		}
	}

	if statusWatch {
		return watchRuns(ctx, cmd, checker, jobs, jobType, layout, runIDs)
	}
	return nil
}

func renderReports(reports []grid.Report) string {
	return renderTable([]string{"run", "jobs", "finished", "running", "failed"}, reportRows(reports), func(row int) bool {
		return row < len(reports) && reports[row].Failed() > 0
	})
}

// reportRows gives one row per run plus a totals row. Finished jobs that
// failed their checks count in both "finished" and "failed".
func reportRows(reports []grid.Report) [][]string {
	rows := make([][]string, 0, len(reports)+1)
	var sum grid.Report
	for _, r := range reports {
		rows = append(rows, reportRow(strconv.Itoa(r.RunID), r))
		sum.Total += r.Total
		sum.Finished += r.Finished
		sum.Running += r.Running
		sum.FailedOpts = append(sum.FailedOpts, r.FailedOpts...)
	}
	return append(rows, reportRow("all", sum))
}

func reportRow(name string, r grid.Report) []string {
	return []string{
		name,
		strconv.Itoa(r.Total),
		strconv.Itoa(r.Finished),
		strconv.Itoa(r.Running),
		strconv.Itoa(r.Failed()),
	}
}

// resubmitFailed rebuilds commands from the opts files of failed jobs and
// submits them under the credential guard.
func resubmitFailed(ctx context.Context, exec tactile.Executor, jobType grid.JobType, jc *config.JobConfig, optsFiles []string) error {
	builder := grid.CommandBuilder{Tracker: cfg.Grid.Tracker, Config: jc}
	cmds := make([]string, 0, len(optsFiles))
	for _, opts := range optsFiles {
		c, err := builder.FromOpts(jobType, opts, cfg.Release)
		if err != nil {
			logging.StatusWarn("cannot resubmit %s: %v", opts, err)
			continue
		}
		cmds = append(cmds, c)
	}
	logging.Status("resubmitting %d failed jobs", len(cmds))

	ledger := openLedger()
	if ledger != nil {
		defer ledger.Close()
	}
	return withGuard(ctx, exec, func() error {
		s := grid.NewSubmitter(exec, grid.SubmitOptions{
			MaxFailRounds: cfg.Grid.MaxFailRounds,
			RetryDelay:    cfg.GetRetryDelay(),
			ETAEvery:      cfg.Grid.ETAEvery,
			ErrLog:        cfg.SubmissionLogPath(),
		}, ledgerOf(ledger))
		return s.SubmitAll(ctx, cmds)
	})
}

// watchRuns re-checks a run each time logs in its log directory settle.
func watchRuns(ctx context.Context, cmd *cobra.Command, checker *grid.Checker, jobs *grid.JobList, jobType grid.JobType, layout grid.Layout, runIDs []int) error {
	dirs := make([]string, 0, len(runIDs))
	byDir := make(map[string][]int)
	for _, id := range runIDs {
		dir := layout.LogDir(id)
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}
		byDir[dir] = append(byDir[dir], id)
	}

	w, err := grid.NewWatcher(dirs, statusDebounce, func(ctx context.Context, paths []string) {
		changed := changedRuns(paths, byDir)
		if len(changed) == 0 {
			return
		}
		if err := jobs.Refresh(ctx); err != nil {
			logging.JobsWarn("job list refresh failed: %v", err)
		}
		reports, err := checker.CheckAll(ctx, jobType, changed, cfg.Grid.Concurrency)
		if err != nil {
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
	})
	if err != nil {
		return err
	}
	logging.Status("watching %d log directories, interrupt to stop", len(dirs))
	return w.Run(ctx)
}

// changedRuns maps changed log paths back to run IDs, in first-seen order.
func changedRuns(paths []string, byDir map[string][]int) []int {
	seen := make(map[int]bool)
	var runs []int
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			runs = append(runs, id)
		}
	}
	for _, p := range paths {
		candidates := byDir[filepath.Dir(p)]
		if id, ok := grid.RunIDFromName(p); ok && slices.Contains(candidates, id) {
			add(id)
			continue
		}
		for _, id := range candidates {
			add(id)
		}
	}
	return runs
}
