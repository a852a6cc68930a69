package grid

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gridrun/internal/logging"
	"gridrun/internal/store"

	"golang.org/x/sync/errgroup"
)

// a finished job log ends with at least this many lines, the first of
// which reports success
const logCheckpoint = 3

// Report is the status of all (sub-)jobs of one run.
type Report struct {
	JobType    JobType
	RunID      int
	Total      int
	Finished   int
	// Running counts jobs without a usable log that the scheduler still holds.
	Running    int
	FailedOpts []string
	FailedOuts []string
}

// Failed returns the number of failed jobs.
func (r Report) Failed() int {
	return len(r.FailedOpts)
}

func (r *Report) fail(opts, out string) {
	r.FailedOpts = append(r.FailedOpts, opts)
	r.FailedOuts = append(r.FailedOuts, out)
}

// RunningJobs answers whether the scheduler still holds a job.
type RunningJobs interface {
	Contains(key JobKey) bool
}

// Checker inspects the opts, log and output files of runs.
type Checker struct {
	Layout  Layout
	Jobs    RunningJobs
	Counter EventCounter
	// Tolerance is how many expected events may be missing from an output.
	Tolerance int64

	Ledger  Ledger
	BatchID string
}

// Check returns the status of every job of one run. A job whose log is
// missing or too short is still running when the scheduler lists it and
// failed otherwise.
func (c *Checker) Check(ctx context.Context, jobType JobType, runID int) (Report, error) {
	report := Report{JobType: jobType, RunID: runID}

	optsFiles, err := c.optsFiles(jobType, runID)
	if err != nil {
		return report, err
	}
	report.Total = len(optsFiles)

	for _, opts := range optsFiles {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		tag := Outtag(opts, c.Layout.Release, ".opts")
		logFile := c.Layout.LogFile(jobType, runID, tag)
		outFile := c.Layout.OutputFile(jobType, runID, tag)

		lines, err := readLines(logFile)
		if err != nil || len(lines) < logCheckpoint {
			key := JobKey{Type: jobType, RunID: runID, Tag: tag}
			if c.Jobs != nil && c.Jobs.Contains(key) {
				report.Running++
				continue
			}
			logging.StatusDebug("%s: no usable log and not queued", key)
			report.fail(opts, outFile)
			continue
		}

		report.Finished++
		switch {
		case !strings.Contains(lines[len(lines)-logCheckpoint], "successfully"):
			logging.StatusDebug("%s: log does not report success", logFile)
			report.fail(opts, outFile)
		case !fileExists(outFile):
			logging.StatusDebug("%s: output missing", outFile)
			report.fail(opts, outFile)
		case !c.eventsComplete(ctx, outFile):
			report.fail(opts, outFile)
		}
	}

	return report, nil
}

func (c *Checker) eventsComplete(ctx context.Context, outFile string) bool {
	if c.Counter == nil {
		return true
	}
	count, err := c.Counter.Count(ctx, outFile)
	if errors.Is(err, ErrCounterUnavailable) {
		return true
	}
	if err != nil {
		logging.StatusWarn("%s: %v", outFile, err)
		return false
	}
	if count.Expected >= 0 && count.Expected-count.Saved > c.Tolerance {
		logging.StatusDebug("%s: saved %d of %d events", outFile, count.Saved, count.Expected)
		return false
	}
	return true
}

func (c *Checker) optsFiles(jobType JobType, runID int) ([]string, error) {
	dir := c.Layout.OptsDir(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read opts directory: %w", err)
	}

	run := RunTag(runID)
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.Contains(name, run) || !strings.Contains(name, jobType.AuxPrefix()) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

// CheckAll checks runs concurrently, at most limit at a time. Reports come
// back in the order of runIDs; a run whose opts directory cannot be read
// yields an empty report and a warning.
func (c *Checker) CheckAll(ctx context.Context, jobType JobType, runIDs []int, limit int) ([]Report, error) {
	reports := make([]Report, len(runIDs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, runID := range runIDs {
		g.Go(func() error {
			r, err := c.Check(gctx, jobType, runID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.StatusWarn("run %d: %v", runID, err)
			}
			reports[i] = r
			c.recordReport(gctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Checker) recordReport(ctx context.Context, r Report) {
	if c.Ledger == nil {
		return
	}
	err := c.Ledger.RecordReport(ctx, store.StatusReport{
		BatchID:       c.BatchID,
		JobType:       string(r.JobType),
		RunID:         r.RunID,
		Total:         r.Total,
		Finished:      r.Finished,
		Failed:        r.Failed(),
		FailedOutputs: r.FailedOuts,
	})
	if err != nil {
		logging.StatusWarn("ledger: %v", err)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
