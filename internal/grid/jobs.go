package grid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gridrun/internal/logging"
	"gridrun/internal/tactile"
)

// JobKey identifies a (sub-)job independent of its scheduler ID.
type JobKey struct {
	Type  JobType
	RunID int
	Tag   string
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s-%06d-%s", k.Type, k.RunID, k.Tag)
}

// JobStatus is one line of the scheduler status listing.
type JobStatus struct {
	JobKey
	URL      string
	Time     string
	State    string
	FullName string
	Raw      string
}

// ParseStatusLine parses a scheduler status line. Field 0 is the job URL,
// 4 the run time, 5 the state and 8 the submitted script name, e.g.
// track_from_digit_012345_R005_3.sh_20160101_123456_1.
func ParseStatusLine(line, release string) (JobStatus, error) {
	raw := strings.TrimSpace(line)
	f := strings.Fields(raw)
	if len(f) < 9 {
		return JobStatus{}, fmt.Errorf("%w: %d fields in %q", ErrBadStatusLine, len(f), raw)
	}
	st := JobStatus{URL: f[0], Time: f[4], State: f[5], FullName: f[8], Raw: raw}

	var aux string
	for _, jt := range JobTypes {
		if strings.Contains(st.FullName, jt.AuxPrefix()) {
			st.Type = jt
			aux = jt.AuxPrefix()
			break
		}
	}
	if aux == "" {
		return JobStatus{}, fmt.Errorf("%w: unknown job name %q", ErrBadStatusLine, st.FullName)
	}

	if len(st.FullName) < len(aux)+7 {
		return JobStatus{}, fmt.Errorf("%w: no run ID in %q", ErrBadStatusLine, st.FullName)
	}
	runID, err := strconv.Atoi(st.FullName[len(aux)+1 : len(aux)+7])
	if err != nil {
		return JobStatus{}, fmt.Errorf("%w: no run ID in %q", ErrBadStatusLine, st.FullName)
	}
	st.RunID = runID

	marker := release + "_"
	if i := strings.Index(st.FullName, marker); i >= 0 {
		rest := st.FullName[i+len(marker):]
		if j := strings.Index(rest, ".sh_"); j >= 0 {
			st.Tag = rest[:j]
		}
	}
	return st, nil
}

// JobList caches the set of jobs the scheduler currently knows about.
type JobList struct {
	mu            sync.RWMutex
	jobs          map[JobKey]JobStatus
	exec          tactile.Executor
	statusCommand string
	release       string
}

// NewJobList creates an empty list refreshed by statusCommand.
func NewJobList(exec tactile.Executor, statusCommand, release string) *JobList {
	return &JobList{
		jobs:          make(map[JobKey]JobStatus),
		exec:          exec,
		statusCommand: statusCommand,
		release:       release,
	}
}

// Refresh re-reads the job list from the scheduler. When the query fails or
// writes to stderr the previous list is kept and an error is returned.
func (l *JobList) Refresh(ctx context.Context) error {
	res, err := l.exec.Execute(ctx, tactile.Shell(l.statusCommand))
	if err == nil && !tactile.Quiet(res) {
		err = fmt.Errorf("%s: %s", l.statusCommand, strings.TrimSpace(res.Stderr+" "+res.Error))
	}
	if err != nil {
		logging.JobsWarn("refreshing job list failed, will use the old one with %d jobs: %v", l.Len(), err)
		return fmt.Errorf("refresh job list: %w", err)
	}

	jobs := make(map[JobKey]JobStatus)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	// the last line is the scheduler's summary
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		st, err := ParseStatusLine(line, l.release)
		if err != nil {
			logging.JobsDebug("skipping status line: %v", err)
			continue
		}
		jobs[st.JobKey] = st
	}

	l.mu.Lock()
	l.jobs = jobs
	l.mu.Unlock()
	logging.Jobs("refreshed the job list, currently has %d jobs", len(jobs))
	return nil
}

// Contains reports whether the scheduler still knows the job.
func (l *JobList) Contains(key JobKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.jobs[key]
	return ok
}

// Len returns the number of cached jobs.
func (l *JobList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.jobs)
}

// Set replaces the cached jobs.
func (l *JobList) Set(statuses []JobStatus) {
	jobs := make(map[JobKey]JobStatus, len(statuses))
	for _, st := range statuses {
		jobs[st.JobKey] = st
	}
	l.mu.Lock()
	l.jobs = jobs
	l.mu.Unlock()
}

// Jobs returns a snapshot of the cached statuses.
func (l *JobList) Jobs() []JobStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]JobStatus, 0, len(l.jobs))
	for _, st := range l.jobs {
		out = append(out, st)
	}
	return out
}
