package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gridrun/internal/grid"
	"gridrun/internal/logging"
	"gridrun/internal/tactile"

	"golang.org/x/sync/errgroup"
)

// Options controls how a batch runs.
type Options struct {
	// MaxJobs bounds the processes running at once.
	MaxJobs int
	// Refresh is the progress report period.
	Refresh time.Duration
	// MergeOutput, when set, receives all outputs merged after the batch.
	MergeOutput string
	// Notify is mailed a summary when it looks like an address.
	Notify string
	// Nice runs every job under nice.
	Nice bool
	// JobTimeout bounds one job; default 24h.
	JobTimeout time.Duration
}

// Result summarises a finished batch.
type Result struct {
	Jobs      int
	Succeeded int
	Failed    []Job
	Merged    string
	Elapsed   time.Duration
}

// Runner executes local batches.
type Runner struct {
	exec   tactile.Executor
	merger *grid.Merger
	opts   Options
}

// NewRunner creates a runner. merger may be nil when no merge is wanted.
func NewRunner(exec tactile.Executor, merger *grid.Merger, opts Options) *Runner {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 6
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 30 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 24 * time.Hour
	}
	return &Runner{exec: exec, merger: merger, opts: opts}
}

// Run executes jobs, at most MaxJobs at a time, then merges and notifies.
// A failing job does not stop the others.
func (r *Runner) Run(ctx context.Context, plan Plan, jobs []Job) (Result, error) {
	start := time.Now()
	res := Result{Jobs: len(jobs)}

	var started, running atomic.Int32
	var mu sync.Mutex
	ok := make([]bool, len(jobs))

	progressDone := make(chan struct{})
	stopProgress := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(r.opts.Refresh)
		defer ticker.Stop()
		for {
			select {
			case <-stopProgress:
				return
			case <-ticker.C:
				logging.Local("%s: %.1f minutes passed, %d/%d started, %d running ...",
					plan.Executable, time.Since(start).Minutes(), started.Load(), len(jobs), running.Load())
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxJobs)
	for i, job := range jobs {
		g.Go(func() error {
			started.Add(1)
			running.Add(1)
			defer running.Add(-1)

			if err := r.runJob(gctx, job); err != nil {
				logging.LocalWarn("%s: %v", job.CommandLine(), err)
				return nil
			}
			mu.Lock()
			ok[i] = true
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	close(stopProgress)
	<-progressDone

	// plan order, so divided outputs merge in event order
	var succeeded []Job
	for i, job := range jobs {
		if ok[i] {
			succeeded = append(succeeded, job)
		} else {
			res.Failed = append(res.Failed, job)
		}
	}

	res.Succeeded = len(succeeded)
	res.Elapsed = time.Since(start)
	logging.Local("%s: %d/%d jobs finished successfully in %.1f minutes",
		plan.Executable, res.Succeeded, res.Jobs, res.Elapsed.Minutes())

	if err := ctx.Err(); err != nil {
		return res, err
	}

	var mergeErr error
	if r.opts.MergeOutput != "" {
		mergeErr = r.merge(ctx, succeeded)
		if mergeErr == nil {
			res.Merged = r.opts.MergeOutput
		}
	}

	if strings.Contains(r.opts.Notify, "@") {
		if err := r.notify(ctx, plan, jobs, res); err != nil {
			logging.LocalWarn("notification to %s failed: %v", r.opts.Notify, err)
		}
	}
	return res, mergeErr
}

func (r *Runner) runJob(ctx context.Context, job Job) error {
	cmd := tactile.Command{Binary: job.Binary, Arguments: job.Args, Tags: map[string]string{"schema": job.Schema}}
	if r.opts.Nice {
		cmd = tactile.Command{Binary: "nice", Arguments: append([]string{job.Binary}, job.Args...), Tags: cmd.Tags}
	}
	cmd.Limits = &tactile.ResourceLimits{TimeoutMs: r.opts.JobTimeout.Milliseconds()}
	logging.LocalDebug("%s", job.CommandLine())

	res, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if job.Log != "" {
		if dir := filepath.Dir(job.Log); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
		}
		if err := os.WriteFile(job.Log, []byte(res.Output()), 0644); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	if !res.OK() {
		return fmt.Errorf("exit code %d %s", res.ExitCode, res.KillReason+res.Error)
	}
	return nil
}

func (r *Runner) merge(ctx context.Context, jobs []Job) error {
	if r.merger == nil {
		return fmt.Errorf("merge requested but no merge tool configured")
	}
	sources := make([]string, 0, len(jobs))
	for _, j := range jobs {
		sources = append(sources, j.Output)
	}
	return r.merger.Merge(ctx, r.opts.MergeOutput, sources, false)
}

// notify sends one summary mail for the whole batch.
func (r *Runner) notify(ctx context.Context, plan Plan, jobs []Job, res Result) error {
	subject := fmt.Sprintf("%s finished successfully on %d/%d jobs after %.1f minutes",
		plan.Executable, res.Succeeded, res.Jobs, res.Elapsed.Minutes())

	var body strings.Builder
	fmt.Fprintf(&body, "schemas: %s\n", strings.Join(plan.Schemas, ", "))
	for _, j := range res.Failed {
		fmt.Fprintf(&body, "FAILED: %s\n", j.CommandLine())
	}
	for _, j := range jobs {
		fmt.Fprintln(&body, j.CommandLine())
	}

	out, err := r.exec.Execute(ctx, tactile.Command{
		Binary:    "mail",
		Arguments: []string{"-s", subject, r.opts.Notify},
		Stdin:     body.String(),
	})
	if err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("mail exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}
