// Package metrics exposes counters and gauges of the state sync loop.
package metrics

// Rejection reasons reported through Recorder.SnapshotRejected.
const (
	ReasonStale        = "stale"
	ReasonDuplicate    = "duplicate"
	ReasonLateBaseline = "late_baseline"
)

// Resync reasons reported through Recorder.Resync.
const (
	ResyncOverflow        = "overflow"
	ResyncMissingMetadata = "missing_metadata"
	ResyncManual          = "manual"
)

// Recorder receives sync loop measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	SnapshotReceived(bytes int)
	SnapshotRejected(reason string)
	BufferSize(n int)
	StatesApplied(n int)
	Resync(reason string)
	EntitiesReset(n int)
	TicksPredicted(n int)
	PendingInputs(n int)
	TickAdjustment(v float32)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SnapshotReceived(int)    {}
func (Nop) SnapshotRejected(string) {}
func (Nop) BufferSize(int)          {}
func (Nop) StatesApplied(int)       {}
func (Nop) Resync(string)           {}
func (Nop) EntitiesReset(int)       {}
func (Nop) TicksPredicted(int)      {}
func (Nop) PendingInputs(int)       {}
func (Nop) TickAdjustment(float32)  {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
