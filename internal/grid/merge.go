package grid

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gridrun/internal/logging"
	"gridrun/internal/tactile"
)

// Merger concatenates outputs of split jobs with an hadd-style tool.
type Merger struct {
	Exec    tactile.Executor
	Tool    string
	Release string
}

// Merge writes sources into target. Sources are ordered by outtag so the
// merged events keep their original order. With ignoreCorrupted the tool
// skips unreadable sources and overwrites target.
//
// The merge succeeds when the tool exits 0 and every stderr line it
// printed is a missing-dictionary notice.
func (m *Merger) Merge(ctx context.Context, target string, sources []string, ignoreCorrupted bool) error {
	if len(sources) == 0 {
		return fmt.Errorf("%w: no sources for %s", ErrMergeFailed, target)
	}

	sorted := append([]string(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return CompareOuttags(Outtag(sorted[i], m.Release, ".root"), Outtag(sorted[j], m.Release, ".root")) < 0
	})

	args := make([]string, 0, len(sorted)+3)
	if ignoreCorrupted {
		args = append(args, "-k", "-f")
	}
	args = append(args, target)
	args = append(args, sorted...)

	timer := logging.StartTimer(logging.CategoryMerge, "Merge "+filepath.Base(target))
	defer timer.Stop()

	res, err := m.Exec.Execute(ctx, tactile.Command{Binary: m.Tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("merge %s: %w", target, err)
	}
	if res.IsError() || res.Killed || res.ExitCode != 0 {
		return fmt.Errorf("%w: %s exited %d: %s", ErrMergeFailed, m.Tool, res.ExitCode,
			strings.TrimSpace(res.Stderr+" "+res.Error))
	}
	for _, line := range strings.Split(res.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.Contains(line, "dictionary") {
			return fmt.Errorf("%w: %s", ErrMergeFailed, line)
		}
	}

	logging.Merge("merged %d files into %s", len(sorted), target)
	return nil
}

// MergeRun merges the tagged outputs of a split run into its untagged
// output file and returns that file.
func (m *Merger) MergeRun(ctx context.Context, layout Layout, jobType JobType, runID int, ignoreCorrupted bool) (string, error) {
	pattern := filepath.Join(layout.OutputDir(jobType, runID),
		fmt.Sprintf("%s_%s_%s_*.root", jobType, RunTag(runID), layout.Release))
	sources, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(sources) == 0 {
		return "", fmt.Errorf("%w: no tagged outputs match %s", ErrMergeFailed, pattern)
	}

	target := layout.OutputFile(jobType, runID, "")
	if err := m.Merge(ctx, target, sources, ignoreCorrupted); err != nil {
		return "", err
	}
	return target, nil
}
