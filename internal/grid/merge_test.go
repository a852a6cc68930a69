package grid

import (
	"context"
	"os"
	"testing"

	"gridrun/internal/tactile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerger_OrdersByOuttag(t *testing.T) {
	exec := &scriptedExecutor{}
	m := &Merger{Exec: exec, Tool: "hadd", Release: "R005"}

	err := m.Merge(context.Background(), "t.root", []string{
		"track_000001_R005_10.root",
		"track_000001_R005_2.root",
		"track_000001_R005_1.root",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hadd t.root track_000001_R005_1.root track_000001_R005_2.root track_000001_R005_10.root",
	}, exec.lines())
}

func TestMerger_IgnoreCorrupted(t *testing.T) {
	exec := &scriptedExecutor{}
	m := &Merger{Exec: exec, Tool: "hadd", Release: "R005"}

	require.NoError(t, m.Merge(context.Background(), "t.root", []string{"a_R005_0.root"}, true))
	assert.Equal(t, []string{"hadd -k -f t.root a_R005_0.root"}, exec.lines())
}

func TestMerger_StderrRules(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		exit   int
		ok     bool
	}{
		{"clean", "", 0, true},
		{"dictionary notices", "Warning: no dictionary for class A\n\nWarning: no dictionary for class B\n", 0, true},
		{"other complaint", "Warning: no dictionary for class A\nError: file is corrupt\n", 0, false},
		{"bad exit", "", 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &scriptedExecutor{handler: func(tactile.Command) (*tactile.ExecutionResult, error) {
				return result("", tc.stderr, tc.exit), nil
			}}
			m := &Merger{Exec: exec, Tool: "hadd", Release: "R005"}
			err := m.Merge(context.Background(), "t.root", []string{"s_R005_0.root"}, false)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMergeFailed)
			}
		})
	}
}

func TestMerger_NoSources(t *testing.T) {
	m := &Merger{Exec: &scriptedExecutor{}, Tool: "hadd", Release: "R005"}
	assert.ErrorIs(t, m.Merge(context.Background(), "t.root", nil, false), ErrMergeFailed)
}

func TestMerger_MergeRun(t *testing.T) {
	l := Layout{OutDir: t.TempDir(), Release: "R005"}
	require.NoError(t, os.MkdirAll(l.OutputDir(JobTrack, 12345), 0755))
	for _, tag := range []string{"1", "0", "11", "2"} {
		require.NoError(t, os.WriteFile(l.OutputFile(JobTrack, 12345, tag), nil, 0644))
	}
	// the merged file itself must not be picked up again
	require.NoError(t, os.WriteFile(l.OutputFile(JobTrack, 12345, ""), nil, 0644))

	exec := &scriptedExecutor{}
	m := &Merger{Exec: exec, Tool: "hadd", Release: "R005"}

	target, err := m.MergeRun(context.Background(), l, JobTrack, 12345, false)
	require.NoError(t, err)
	assert.Equal(t, l.OutputFile(JobTrack, 12345, ""), target)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{
		target,
		l.OutputFile(JobTrack, 12345, "0"),
		l.OutputFile(JobTrack, 12345, "1"),
		l.OutputFile(JobTrack, 12345, "2"),
		l.OutputFile(JobTrack, 12345, "11"),
	}, exec.calls[0].Arguments)

	_, err = m.MergeRun(context.Background(), l, JobTrack, 999, false)
	assert.ErrorIs(t, err, ErrMergeFailed)
}
