package gamestate

import (
	"math"
	"time"
)

// Tick identifies one discrete simulation step.
type Tick uint32

// ZeroTick is never a real simulation tick; it marks "none" and the base of a
// full snapshot.
const ZeroTick Tick = 0

// Timing is the tick clock shared by the buffer, the dirty tracker and the sync
// manager. It is only touched from the simulation goroutine.
type Timing struct {
	// CurTick is the tick currently being simulated, possibly predicted.
	CurTick Tick
	// LastRealTick is the last tick confirmed by an applied server snapshot.
	LastRealTick Tick
	// LastProcessedTick is the last tick the apply loop advanced to. It can run
	// ahead of LastRealTick when a missing snapshot is skipped.
	LastProcessedTick Tick
	// TickRate is the simulation rate in ticks per second.
	TickRate uint32
	// TickTimingAdjustment nudges the host tick period to keep the buffer near
	// its target size.
	TickTimingAdjustment float32

	pastPrediction int
	applyingState  int
}

func NewTiming(tickRate uint32) *Timing {
	if tickRate == 0 {
		tickRate = 30
	}
	return &Timing{TickRate: tickRate}
}

// TickPeriod is the duration of one tick at the nominal rate.
func (t *Timing) TickPeriod() time.Duration {
	return time.Second / time.Duration(t.TickRate)
}

// AdjustedTickPeriod applies TickTimingAdjustment to the nominal period.
func (t *Timing) AdjustedTickPeriod() time.Duration {
	ratio := 1 / (1 + float64(t.TickTimingAdjustment))
	if ratio <= 0 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return t.TickPeriod()
	}
	return time.Duration(float64(t.TickPeriod()) * ratio)
}

// InPrediction reports whether the current tick is a re-simulated tick that the
// server has not confirmed yet.
func (t *Timing) InPrediction() bool {
	return t.pastPrediction > 0 && t.CurTick > t.LastRealTick
}

// ApplyingState reports whether authoritative data is being written.
func (t *Timing) ApplyingState() bool {
	return t.applyingState > 0
}

// StartPastPrediction opens a prediction scope. The returned func closes it.
func (t *Timing) StartPastPrediction() func() {
	t.pastPrediction++
	return func() { t.pastPrediction-- }
}

// StartStateApplication opens a state application scope. The returned func closes it.
func (t *Timing) StartStateApplication() func() {
	t.applyingState++
	return func() { t.applyingState-- }
}

// Reset rewinds the clock to the zero tick.
func (t *Timing) Reset() {
	t.CurTick = ZeroTick
	t.LastRealTick = ZeroTick
	t.LastProcessedTick = ZeroTick
	t.TickTimingAdjustment = 0
}
