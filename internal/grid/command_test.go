package grid

import (
	"path/filepath"
	"testing"

	"gridrun/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilder_Build(t *testing.T) {
	b := CommandBuilder{Tracker: "runKTracker.py"}

	assert.Equal(t,
		"runKTracker.py --grid --track --run=12345",
		b.Build(JobTrack, 12345, WholeRun, ""))

	assert.Equal(t,
		"runKTracker.py --grid --vertex --run=12345 --input=/in/track_012345_R005.root",
		b.Build(JobVertex, 12345, WholeRun, "/in/track_012345_R005.root"))

	assert.Equal(t,
		"runKTracker.py --grid --track --run=12345 --n-events=250 --first-event=500 --outtag=2",
		b.Build(JobTrack, 12345, Range{FirstEvent: 500, NEvents: 250, Outtag: "2"}, ""))
}

func TestCommandBuilder_IncompleteRangeIgnored(t *testing.T) {
	b := CommandBuilder{Tracker: "runKTracker.py"}
	for _, r := range []Range{
		{FirstEvent: -1, NEvents: 10, Outtag: "0"},
		{FirstEvent: 0, NEvents: 0, Outtag: "0"},
		{FirstEvent: 0, NEvents: 10, Outtag: ""},
	} {
		assert.Equal(t, "runKTracker.py --grid --track --run=1", b.Build(JobTrack, 1, r, ""), "%+v", r)
	}
}

func TestCommandBuilder_ConfigArgs(t *testing.T) {
	jc := config.NewJobConfig()
	jc.Set("outdir", "/pnfs/out")
	jc.Set("alignment", "align_${RUN}.txt")
	jc.AddSwitch("sqlite")

	b := CommandBuilder{Tracker: "runKTracker.py", Config: jc}
	assert.Equal(t,
		"runKTracker.py --grid --track --run=42 --outdir=/pnfs/out --alignment=align_000042.txt --sqlite ",
		b.Build(JobTrack, 42, WholeRun, ""))

	uninit, err := config.LoadJobConfig("")
	require.NoError(t, err)
	b.Config = uninit
	assert.Equal(t, "runKTracker.py --grid --track --run=42", b.Build(JobTrack, 42, WholeRun, ""))
}

func TestCommandBuilder_BuildSplit(t *testing.T) {
	b := CommandBuilder{Tracker: "trk"}
	cmds := b.BuildSplit(JobTrack, 7, OptimizedSizes(1000, 600, 10), "in.root")
	assert.Equal(t, []string{
		"trk --grid --track --run=7 --input=in.root --n-events=500 --first-event=0 --outtag=0",
		"trk --grid --track --run=7 --input=in.root --n-events=1500 --first-event=500 --outtag=1",
	}, cmds)
}

func TestCommandBuilder_FromOpts(t *testing.T) {
	l := Layout{OutDir: t.TempDir(), Release: "R005"}
	split := l.OptsFile(JobTrack, 12345, "1")
	require.NoError(t, WriteOptsFile(split, EventRange{FirstEvent: 2500, NEvents: 2500}))
	whole := filepath.Join(l.OptsDir(12345), "track_from_digit_012345_R005.opts")
	require.NoError(t, WriteOptsFile(whole, EventRange{FirstEvent: 0, NEvents: -1}))

	b := CommandBuilder{Tracker: "runKTracker.py"}

	cmd, err := b.FromOpts(JobTrack, split, "R005")
	require.NoError(t, err)
	assert.Equal(t, "runKTracker.py --grid --track --run=12345 --n-events=2500 --first-event=2500 --outtag=1", cmd)

	cmd, err = b.FromOpts(JobTrack, whole, "R005")
	require.NoError(t, err)
	assert.Equal(t, "runKTracker.py --grid --track --run=12345", cmd)
}
