package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gridrun/internal/grid"
	"gridrun/internal/tactile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []tactile.Command
	handler func(tactile.Command) *tactile.ExecutionResult
}

func (f *fakeExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return &tactile.ExecutionResult{Success: true, Stdout: "ok\n"}, nil
	}
	return h(cmd), nil
}

func (f *fakeExecutor) Validate(tactile.Command) error { return nil }

func (f *fakeExecutor) byBinary(bin string) []tactile.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tactile.Command
	for _, c := range f.calls {
		if c.Binary == bin {
			out = append(out, c)
		}
	}
	return out
}

type fixedCounter map[string]int64

func (f fixedCounter) Count(_ context.Context, file string) (grid.EventCount, error) {
	n, ok := f[file]
	if !ok {
		return grid.EventCount{}, errors.New("no such file")
	}
	return grid.EventCount{Saved: n, Expected: -1}, nil
}

func TestPlan_Jobs(t *testing.T) {
	p := Plan{
		Executable:    "kTracker",
		InputPattern:  "/data/digit_?.root",
		OutputPattern: "/data/track_?.root",
		ExtraArgs:     "--run ? --fast",
		Schemas:       []string{"run_001", "run_002"},
		LogDir:        "/logs",
	}
	jobs, err := p.Jobs(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, Job{
		Schema: "run_001",
		Binary: "./kTracker",
		Args:   []string{"/data/digit_run_001.root", "/data/track_run_001.root", "--run", "run_001", "--fast"},
		Output: "/data/track_run_001.root",
		Log:    "/logs/log_kTracker_run_001",
	}, jobs[0])
	assert.Equal(t,
		"./kTracker /data/digit_run_002.root /data/track_run_002.root --run run_002 --fast > /logs/log_kTracker_run_002",
		jobs[1].CommandLine())
}

func TestPlan_JobsDivided(t *testing.T) {
	p := Plan{
		Executable:    "/opt/bin/kVertex",
		InputPattern:  "in_?.root",
		OutputPattern: "out_?",
		Schemas:       []string{"a", "b", "c"},
		Divide:        400,
	}
	counter := fixedCounter{"in_a.root": 1000, "in_b.root": 100}

	jobs, err := p.Jobs(context.Background(), counter)
	require.NoError(t, err)
	require.Len(t, jobs, 4, "a splits in three, b fits one job, c cannot be counted")

	assert.Equal(t, "/opt/bin/kVertex", jobs[0].Binary)
	assert.Equal(t, []string{"in_a.root", "out_a_000.root", "0", "333"}, jobs[0].Args)
	assert.Equal(t, []string{"in_a.root", "out_a_002.root", "666", "1333"}, jobs[2].Args)
	assert.Equal(t, "log_kVertex_a_002", jobs[2].Log)
	assert.Equal(t, "b", jobs[3].Schema)
	assert.Equal(t, []string{"in_b.root", "out_b_000.root", "0", "1100"}, jobs[3].Args)

	_, err = p.Jobs(context.Background(), nil)
	assert.Error(t, err)
}

func TestReadSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.txt")
	require.NoError(t, os.WriteFile(path, []byte("run_1\n\n run_2 \n"), 0644))
	schemas, err := ReadSchemas(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_1", "run_2"}, schemas)
}

func TestRunner_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	logDir := t.TempDir()
	var running, peak atomic.Int32
	exec := &fakeExecutor{handler: func(cmd tactile.Command) *tactile.ExecutionResult {
		if cmd.Binary == "./ana" || cmd.Binary == "nice" {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}
		if len(cmd.Arguments) > 0 && cmd.Arguments[len(cmd.Arguments)-1] == "in_bad.root" {
			return &tactile.ExecutionResult{Success: true, ExitCode: 2, Stderr: "crash"}
		}
		return &tactile.ExecutionResult{Success: true, Stdout: "done\n"}
	}}

	plan := Plan{
		Executable:    "ana",
		InputPattern:  "in_?.root",
		OutputPattern: "out_?.root",
		Schemas:       []string{"1", "2", "3", "4", "5"},
		LogDir:        logDir,
	}
	jobs, err := plan.Jobs(context.Background(), nil)
	require.NoError(t, err)
	jobs[2].Args = []string{"out_3.root", "in_bad.root"}

	merger := &grid.Merger{Exec: exec, Tool: "hadd", Release: "R005"}
	r := NewRunner(exec, merger, Options{
		MaxJobs:     2,
		Refresh:     time.Millisecond,
		MergeOutput: "all.root",
		Notify:      "shifter@fnal.gov",
	})

	res, err := r.Run(context.Background(), plan, jobs)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Jobs)
	assert.Equal(t, 4, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "3", res.Failed[0].Schema)
	assert.Equal(t, "all.root", res.Merged)
	assert.LessOrEqual(t, peak.Load(), int32(2))

	log, err := os.ReadFile(filepath.Join(logDir, "log_ana_1"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(log))

	hadd := exec.byBinary("hadd")
	require.Len(t, hadd, 1)
	assert.Equal(t, []string{"all.root", "out_1.root", "out_2.root", "out_4.root", "out_5.root"}, hadd[0].Arguments)

	mails := exec.byBinary("mail")
	require.Len(t, mails, 1, "one notification per batch")
	assert.Equal(t, "shifter@fnal.gov", mails[0].Arguments[2])
	assert.Contains(t, mails[0].Arguments[1], "4/5 jobs")
	assert.Contains(t, mails[0].Stdin, "FAILED: ./ana out_3.root in_bad.root")
}

func TestRunner_MergesDividedOutputsInPlanOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &fakeExecutor{handler: func(cmd tactile.Command) *tactile.ExecutionResult {
		// the first range finishes last
		if len(cmd.Arguments) > 1 && strings.HasSuffix(cmd.Arguments[1], "_000.root") {
			time.Sleep(30 * time.Millisecond)
		}
		return &tactile.ExecutionResult{Success: true}
	}}
	plan := Plan{
		Executable:    "ana",
		InputPattern:  "in_?.root",
		OutputPattern: "out_?.root",
		Schemas:       []string{"1"},
		Divide:        100,
		LogDir:        t.TempDir(),
	}
	jobs, err := plan.Jobs(context.Background(), fixedCounter{"in_1.root": 250})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	merger := &grid.Merger{Exec: exec, Tool: "hadd", Release: "R005"}
	r := NewRunner(exec, merger, Options{MaxJobs: 3, MergeOutput: "all.root"})
	res, err := r.Run(context.Background(), plan, jobs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)

	hadd := exec.byBinary("hadd")
	require.Len(t, hadd, 1)
	assert.Equal(t, []string{"all.root", "out_1_000.root", "out_1_001.root", "out_1_002.root"}, hadd[0].Arguments)
}

func TestRunner_NiceAndNoNotify(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &fakeExecutor{}
	r := NewRunner(exec, nil, Options{Nice: true, Notify: "nobody"})
	plan := Plan{Executable: "ana", InputPattern: "i", OutputPattern: "o", Schemas: []string{"x"}, LogDir: t.TempDir()}
	jobs, err := plan.Jobs(context.Background(), nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), plan, jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	nice := exec.byBinary("nice")
	require.Len(t, nice, 1)
	assert.Equal(t, []string{"./ana", "i", "o.root"}, nice[0].Arguments)
	require.NotNil(t, nice[0].Limits)
	assert.Equal(t, (24 * time.Hour).Milliseconds(), nice[0].Limits.TimeoutMs)
	assert.Empty(t, exec.byBinary("mail"))
}

func TestRunner_MergeWithoutTool(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	r := NewRunner(&fakeExecutor{}, nil, Options{MergeOutput: "all.root"})
	plan := Plan{Executable: "ana", InputPattern: "i", OutputPattern: "o", Schemas: []string{"x"}, LogDir: dir}
	jobs, _ := plan.Jobs(context.Background(), nil)

	_, err := r.Run(context.Background(), plan, jobs)
	assert.Error(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(&fakeExecutor{}, nil, Options{})
	plan := Plan{Executable: "ana", InputPattern: "i", OutputPattern: "o", Schemas: []string{"x"}, LogDir: t.TempDir()}
	jobs, _ := plan.Jobs(ctx, nil)

	_, err := r.Run(ctx, plan, jobs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, strings.Contains(err.Error(), "merge"))
}
