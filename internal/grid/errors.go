package grid

import "errors"

var (
	// ErrCounterUnavailable means no event counter is configured.
	ErrCounterUnavailable = errors.New("event counter unavailable")

	// ErrAbandoned is returned when submission gave up on the remaining commands.
	ErrAbandoned = errors.New("submission abandoned")

	// ErrBadStatusLine marks a scheduler status line that cannot be parsed.
	ErrBadStatusLine = errors.New("malformed status line")

	// ErrNotSubmitted means the grid CLI did not report a cluster ID.
	ErrNotSubmitted = errors.New("job not accepted by scheduler")

	// ErrMergeFailed means the merge tool exited badly or complained on stderr.
	ErrMergeFailed = errors.New("merge failed")
)
