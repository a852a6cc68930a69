package grid

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// JobType is the reconstruction stage a grid job runs.
type JobType string

const (
	JobTrack  JobType = "track"
	JobVertex JobType = "vertex"
)

// JobTypes lists the supported job types.
var JobTypes = []JobType{JobTrack, JobVertex}

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, error) {
	for _, jt := range JobTypes {
		if string(jt) == s {
			return jt, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q (valid: track, vertex)", s)
}

// InputPrefix is the file prefix of the stage's input data.
func (t JobType) InputPrefix() string {
	switch t {
	case JobTrack:
		return "digit"
	case JobVertex:
		return "track"
	}
	return ""
}

// AuxPrefix names the stage's opts, log and scheduler job files.
func (t JobType) AuxPrefix() string {
	switch t {
	case JobTrack:
		return "track_from_digit"
	case JobVertex:
		return "vertex_from_track"
	}
	return ""
}

// RunTag formats a run ID the way every file name carries it.
func RunTag(runID int) string {
	return fmt.Sprintf("%06d", runID)
}

// SubDir returns the two-level directory a run's files live in:
// run 12345 -> "01/23".
func SubDir(runID int) string {
	s := RunTag(runID)
	return s[0:2] + "/" + s[2:4]
}

// Layout resolves file locations for one output tree and release.
type Layout struct {
	OutDir  string
	Release string
}

func (l Layout) stageDir(kind string, runID int) string {
	return filepath.Join(l.OutDir, kind, l.Release, filepath.FromSlash(SubDir(runID)))
}

// OptsDir is the directory holding a run's opts files.
func (l Layout) OptsDir(runID int) string {
	return l.stageDir("opts", runID)
}

// LogDir is the directory holding a run's job logs.
func (l Layout) LogDir(runID int) string {
	return l.stageDir("log", runID)
}

// OutputDir is the directory holding a run's outputs for a job type.
func (l Layout) OutputDir(jobType JobType, runID int) string {
	return l.stageDir(string(jobType), runID)
}

func tagSuffix(tag string) string {
	if tag == "" {
		return ""
	}
	return "_" + tag
}

// OptsFile is the opts file of one (sub-)job.
func (l Layout) OptsFile(jobType JobType, runID int, tag string) string {
	name := fmt.Sprintf("%s_%s_%s%s.opts", jobType.AuxPrefix(), RunTag(runID), l.Release, tagSuffix(tag))
	return filepath.Join(l.OptsDir(runID), name)
}

// LogFile is the job log of one (sub-)job.
func (l Layout) LogFile(jobType JobType, runID int, tag string) string {
	name := fmt.Sprintf("%s_%s_%s%s.log", jobType.AuxPrefix(), RunTag(runID), l.Release, tagSuffix(tag))
	return filepath.Join(l.LogDir(runID), name)
}

// OutputFile is the output of one (sub-)job.
func (l Layout) OutputFile(jobType JobType, runID int, tag string) string {
	name := fmt.Sprintf("%s_%s_%s%s.root", jobType, RunTag(runID), l.Release, tagSuffix(tag))
	return filepath.Join(l.OutputDir(jobType, runID), name)
}

// InputFile is the input data of a run:
// <inDir>/<inputPrefix>/<inv>/<AB>/<CD>/<inputPrefix>_<run>_<inv>.root
func InputFile(inDir, inputVersion string, jobType JobType, runID int) string {
	prefix := jobType.InputPrefix()
	name := fmt.Sprintf("%s_%s_%s.root", prefix, RunTag(runID), inputVersion)
	return filepath.Join(inDir, prefix, inputVersion, filepath.FromSlash(SubDir(runID)), name)
}

// Outtag extracts the sub-job tag from a file name: the text between
// "_<release>_" and ext. Untagged names give "".
func Outtag(name, release, ext string) string {
	base := filepath.Base(name)
	marker := "_" + release + "_"
	i := strings.Index(base, marker)
	if i < 0 {
		return ""
	}
	rest := base[i+len(marker):]
	j := strings.Index(rest, ext)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// CompareOuttags orders tags numerically component by component, so
// "2_10" sorts after "2_9" and "10" after "9". Non-numeric components
// fall back to string order.
func CompareOuttags(a, b string) int {
	pa := strings.Split(a, "_")
	pb := strings.Split(b, "_")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		if errA == nil && errB == nil {
			if na != nb {
				return na - nb
			}
			continue
		}
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}

// Timestamp formats t as yymmdd-HHMM, the suffix used for error logs.
func Timestamp(t time.Time) string {
	return t.Format("060102-1504")
}
