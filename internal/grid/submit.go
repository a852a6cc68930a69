package grid

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gridrun/internal/logging"
	"gridrun/internal/store"
	"gridrun/internal/tactile"

	"github.com/google/uuid"
)

var clusterPattern = regexp.MustCompile(`cluster (\d+)`)

// Ledger records what submission and status checks did.
// *store.Store implements it.
type Ledger interface {
	RecordSubmission(ctx context.Context, sub store.Submission) error
	RecordAbandoned(ctx context.Context, batchID string, cmds []string) error
	RecordReport(ctx context.Context, r store.StatusReport) error
}

// SubmitOptions tunes the retry loop.
type SubmitOptions struct {
	// MaxFailRounds is how many rounds without a single accepted job are
	// tolerated before the remaining commands are abandoned.
	MaxFailRounds int
	RetryDelay    time.Duration
	// ETAEvery logs an ETA after every n submissions; 0 disables it.
	ETAEvery int
	// ErrLog receives abandoned commands.
	ErrLog string
}

// Submitter pushes shell commands to the grid, retrying the rejected ones.
type Submitter struct {
	exec    tactile.Executor
	opts    SubmitOptions
	ledger  Ledger
	batchID string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSubmitter creates a submitter with a fresh batch ID. ledger may be nil.
func NewSubmitter(exec tactile.Executor, opts SubmitOptions, ledger Ledger) *Submitter {
	return &Submitter{
		exec:    exec,
		opts:    opts,
		ledger:  ledger,
		batchID: uuid.NewString(),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// BatchID identifies this submitter's attempts in the ledger.
func (s *Submitter) BatchID() string {
	return s.batchID
}

// SubmitOne runs cmd and returns the scheduler's cluster ID. A command is
// accepted only when its output names a cluster.
func (s *Submitter) SubmitOne(ctx context.Context, cmd string) (string, error) {
	return s.submit(ctx, cmd, 0)
}

func (s *Submitter) submit(ctx context.Context, cmd string, round int) (string, error) {
	c := tactile.Shell(cmd)
	c.Tags = map[string]string{"batch": s.batchID}

	res, err := s.exec.Execute(ctx, c)
	if err != nil {
		return "", fmt.Errorf("submit %q: %w", cmd, err)
	}

	var jobID string
	if m := clusterPattern.FindStringSubmatch(res.Stdout); m != nil {
		jobID = m[1]
	}
	s.record(ctx, store.Submission{
		BatchID:  s.batchID,
		Command:  cmd,
		JobID:    jobID,
		Accepted: jobID != "",
		Round:    round,
		At:       s.now(),
	})

	if jobID == "" {
		logging.SubmitWarn("%s failed, will try again later", cmd)
		return "", fmt.Errorf("%w: %s", ErrNotSubmitted, cmd)
	}
	logging.Submit("%s successful, jobID = %s", cmd, jobID)
	return jobID, nil
}

func (s *Submitter) record(ctx context.Context, sub store.Submission) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordSubmission(ctx, sub); err != nil {
		logging.SubmitWarn("ledger: %v", err)
	}
}

// SubmitAll submits every command, retrying rejected ones in rounds
// separated by RetryDelay. When MaxFailRounds rounds pass without any
// accepted job, or ctx ends, the remaining commands are appended to the
// error log and ErrAbandoned (or the context error) is returned.
func (s *Submitter) SubmitAll(ctx context.Context, cmds []string) error {
	pending := append([]string(nil), cmds...)
	failRounds := 0
	timer := logging.StartTimer(logging.CategorySubmit, "SubmitAll")
	defer timer.StopWithInfo()

	for round := 1; len(pending) > 0; round++ {
		var rejected []string
		start := s.now()

		for i, cmd := range pending {
			if err := ctx.Err(); err != nil {
				// commands accepted earlier in this round are on the grid
				s.abandon(append(rejected, pending[i:]...))
				return err
			}

			logging.SubmitDebug("%d/%d", i+1, len(pending))
			if _, err := s.submit(ctx, cmd, round); err != nil {
				rejected = append(rejected, cmd)
			}

			if done := i + 1; s.opts.ETAEvery > 0 && done%s.opts.ETAEvery == 0 {
				elapsed := s.now().Sub(start)
				remain := elapsed / time.Duration(done) * time.Duration(len(pending)-done)
				logging.Submit("%d/%d submitted, ETA: %.2f minutes", done, len(pending), remain.Minutes())
			}
		}

		if len(rejected) == len(pending) {
			failRounds++
			if failRounds > s.opts.MaxFailRounds {
				s.abandon(pending)
				return fmt.Errorf("%w: %d commands after %d rounds without success",
					ErrAbandoned, len(pending), failRounds)
			}
		}

		pending = rejected
		if len(pending) == 0 {
			break
		}

		logging.Submit("%d commands left, sleep for %s ...", len(pending), s.opts.RetryDelay)
		if err := s.sleep(ctx, s.opts.RetryDelay); err != nil {
			s.abandon(pending)
			return err
		}
	}

	logging.Submit("all %d commands submitted (batch %s)", len(cmds), s.batchID)
	return nil
}

// abandon appends a timestamp line and the commands to the error log and
// records them in the ledger.
func (s *Submitter) abandon(cmds []string) {
	logging.SubmitError("giving up on %d commands, see %s", len(cmds), s.opts.ErrLog)

	if s.opts.ErrLog != "" {
		if err := appendLines(s.opts.ErrLog, s.now().Format("2006-01-02 15:04:05.000000"), cmds); err != nil {
			logging.SubmitError("failed to write error log: %v", err)
		}
	}
	if s.ledger != nil {
		// the caller's context may already be cancelled
		if err := s.ledger.RecordAbandoned(context.Background(), s.batchID, cmds); err != nil {
			logging.SubmitWarn("ledger: %v", err)
		}
	}
}

func appendLines(path, header string, lines []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, header)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCommands reads a resubmit file: one command per line, blank lines
// ignored. Timestamp headers written by an abandoned batch are skipped too.
func LoadCommands(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open command list: %w", err)
	}
	defer f.Close()

	var cmds []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isTimestampLine(line) {
			continue
		}
		cmds = append(cmds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read command list: %w", err)
	}
	return cmds, nil
}

func isTimestampLine(line string) bool {
	_, err := time.Parse("2006-01-02 15:04:05.000000", line)
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
