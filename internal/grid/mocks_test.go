package grid

import (
	"context"
	"sync"

	"gridrun/internal/store"
	"gridrun/internal/tactile"
)

// scriptedExecutor answers commands from a handler and remembers them.
type scriptedExecutor struct {
	mu      sync.Mutex
	calls   []tactile.Command
	handler func(cmd tactile.Command) (*tactile.ExecutionResult, error)
}

func (e *scriptedExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, cmd)
	handler := e.handler
	e.mu.Unlock()

	if handler == nil {
		return okResult(""), nil
	}
	return handler(cmd)
}

func (e *scriptedExecutor) Validate(tactile.Command) error { return nil }

func (e *scriptedExecutor) lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.CommandString()
	}
	return out
}

func okResult(stdout string) *tactile.ExecutionResult {
	return &tactile.ExecutionResult{Success: true, Stdout: stdout}
}

func result(stdout, stderr string, exit int) *tactile.ExecutionResult {
	return &tactile.ExecutionResult{Success: true, Stdout: stdout, Stderr: stderr, ExitCode: exit}
}

// recordingLedger keeps ledger calls in memory.
type recordingLedger struct {
	mu          sync.Mutex
	submissions []store.Submission
	abandoned   map[string][]string
	reports     []store.StatusReport
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{abandoned: make(map[string][]string)}
}

func (l *recordingLedger) RecordSubmission(_ context.Context, sub store.Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions = append(l.submissions, sub)
	return nil
}

func (l *recordingLedger) RecordAbandoned(_ context.Context, batchID string, cmds []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.abandoned[batchID] = append(l.abandoned[batchID], cmds...)
	return nil
}

func (l *recordingLedger) RecordReport(_ context.Context, r store.StatusReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
	return nil
}

// mapCounter serves event counts by file name.
type mapCounter map[string]EventCount

func (m mapCounter) Count(_ context.Context, file string) (EventCount, error) {
	if c, ok := m[file]; ok {
		return c, nil
	}
	return EventCount{}, ErrCounterUnavailable
}

type fixedJobs map[JobKey]bool

func (f fixedJobs) Contains(key JobKey) bool { return f[key] }
