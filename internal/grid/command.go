package grid

import (
	"fmt"
	"strings"

	"gridrun/internal/config"
)

// Range is the slice of a run a command processes. The zero value with
// FirstEvent -1 means the whole run; see WholeRun.
type Range struct {
	FirstEvent int64
	NEvents    int64
	Outtag     string
}

// WholeRun is the range of an unsplit job.
var WholeRun = Range{FirstEvent: -1, NEvents: -1}

func (r Range) split() bool {
	return r.FirstEvent >= 0 && r.NEvents > 0 && r.Outtag != ""
}

// CommandBuilder formats tracker invocations for grid submission.
type CommandBuilder struct {
	Tracker string
	Config  *config.JobConfig
}

// Build returns the submission command for one (sub-)job. infile may be
// empty, in which case the tracker locates the input from the run ID.
func (b CommandBuilder) Build(jobType JobType, runID int, r Range, infile string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s --grid --%s --run=%d", b.Tracker, jobType, runID)
	if infile != "" {
		fmt.Fprintf(&sb, " --input=%s", infile)
	}
	if r.split() {
		fmt.Fprintf(&sb, " --n-events=%d --first-event=%d --outtag=%s", r.NEvents, r.FirstEvent, r.Outtag)
	}
	return sb.String() + b.configArgs(runID)
}

// FromOpts rebuilds the command of a job from its opts file, for resubmission.
func (b CommandBuilder) FromOpts(jobType JobType, optsFile, release string) (string, error) {
	attr, err := ParseOptsFile(optsFile, release)
	if err != nil {
		return "", err
	}
	r := Range{FirstEvent: attr.FirstEvent, NEvents: attr.NEvents, Outtag: attr.Outtag}
	return b.Build(jobType, attr.RunID, r, ""), nil
}

// BuildSplit returns one command per event range, tagged 0, 1, 2...
func (b CommandBuilder) BuildSplit(jobType JobType, runID int, sizes []EventRange, infile string) []string {
	cmds := make([]string, 0, len(sizes))
	for tag, size := range sizes {
		r := Range{FirstEvent: size.FirstEvent, NEvents: size.NEvents, Outtag: fmt.Sprint(tag)}
		cmds = append(cmds, b.Build(jobType, runID, r, infile))
	}
	return cmds
}

func (b CommandBuilder) configArgs(runID int) string {
	if b.Config == nil || !b.Config.Inited() {
		return ""
	}
	return strings.ReplaceAll(b.Config.Args(), "${RUN}", RunTag(runID))
}
