package buffer

import "errors"

var (
	// ErrStale is returned for a snapshot whose ToTick is not newer than the
	// last confirmed tick.
	ErrStale = errors.New("snapshot is older than the last confirmed tick")
	// ErrDuplicate is returned when a snapshot with the same ToTick is buffered.
	ErrDuplicate = errors.New("snapshot with the same to-tick is already buffered")
	// ErrLateBaseline is returned while awaiting a baseline for snapshots that
	// cannot be used: baselines older than the requested tick, and deltas that
	// are not newer than the held baseline.
	ErrLateBaseline = errors.New("snapshot predates the requested baseline")
	// ErrNeedsResync is returned when the snapshot was accepted but the buffer
	// grew past its maximum. A snapshot the client needs was most likely lost
	// and a fresh baseline must be requested.
	ErrNeedsResync = errors.New("state buffer overflow, full state required")
	// ErrMalformedDelta is raised for a delta that could not be resolved against
	// any cached or implicit full value.
	ErrMalformedDelta = errors.New("delta could not be resolved")
)
