package grid

import "gridrun/internal/logging"

// lastRangePadding extends the final range so events not covered by the
// integer division are still processed.
const lastRangePadding = 1000

// EventRange is the slice of a run one sub-job processes.
type EventRange struct {
	FirstEvent int64
	NEvents    int64
}

// OptimizedSizes splits nEvents into ranges of at most about nEvtMax events.
// At most nJobsMax ranges are produced when nJobsMax > 0. The last range
// is padded so rounding never drops events.
func OptimizedSizes(nEvents, nEvtMax int64, nJobsMax int) []EventRange {
	if nEvents < 1 || nEvtMax < 1 {
		return nil
	}

	nJobs := nEvents/nEvtMax + 1
	if nJobsMax > 0 && nJobs > int64(nJobsMax) {
		logging.SubmitWarn("%d events need more than %d jobs, reduced the number of jobs to %d",
			nEvents, nJobsMax, nJobsMax)
		nJobs = int64(nJobsMax)
	}
	per := nEvents / nJobs

	sizes := make([]EventRange, 0, nJobs)
	for i := int64(0); i < nJobs-1; i++ {
		sizes = append(sizes, EventRange{FirstEvent: per * i, NEvents: per})
	}
	sizes = append(sizes, EventRange{FirstEvent: per * (nJobs - 1), NEvents: per + lastRangePadding})
	return sizes
}
