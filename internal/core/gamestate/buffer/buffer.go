// Package buffer holds received server snapshots until the simulation is ready
// for them, picks the snapshot to apply for each tick, and caches the last fully
// resolved server value of every networked component.
package buffer

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/pkg/sequence"
)

// Selection is the result of SelectSnapshotsForTick.
type Selection struct {
	// Current is the snapshot to apply. Nil when the tick has no snapshot of its
	// own but a later buffered snapshot is already applicable.
	Current *gamestate.Snapshot
	// Next is the snapshot after Current, when interpolating.
	Next *gamestate.Snapshot
	// Bootstrap is set when Current is the baseline that ends a resync.
	Bootstrap bool
}

// Buffer is owned by the simulation goroutine and is not safe for concurrent use.
type Buffer struct {
	timing *gamestate.Timing
	cfg    Config
	logger log.Log

	// Retained order carries no meaning: eviction swaps with the last element.
	states []*gamestate.Snapshot

	awaitingBaseline bool
	requestedTick    gamestate.Tick
	baseline         *gamestate.Snapshot
	highestReceived  gamestate.Tick

	fullRep fullRepresentation

	detach       *sequence.PriorityQueue[*gamestate.DetachEntry]
	detachByTick map[gamestate.Tick]*gamestate.DetachEntry
}

func New(timing *gamestate.Timing, cfg Config, logger log.Log) *Buffer {
	b := &Buffer{
		timing:  timing,
		cfg:     cfg.normalized(),
		logger:  log.OrNop(logger).With(log.String("component", "state_buffer")),
		fullRep: newFullRepresentation(),
		detach: sequence.NewPriorityQueue(func(a, b *gamestate.DetachEntry) bool {
			return a.Tick < b.Tick
		}),
		detachByTick: make(map[gamestate.Tick]*gamestate.DetachEntry),
	}
	b.Reset()
	return b
}

func (b *Buffer) Config() Config {
	return b.cfg
}

func (b *Buffer) SetConfig(cfg Config) {
	b.cfg = cfg.normalized()
}

func (b *Buffer) TargetBufferSize() int {
	return b.cfg.TargetBufferSize
}

// Len returns the number of buffered snapshots, not counting a held baseline.
func (b *Buffer) Len() int {
	return len(b.states)
}

// AwaitingBaseline reports whether playback is paused until a full snapshot arrives.
func (b *Buffer) AwaitingBaseline() bool {
	return b.awaitingBaseline
}

// RequestedTick is the tick a pending full-state request was made at.
func (b *Buffer) RequestedTick() gamestate.Tick {
	return b.requestedTick
}

// HighestReceivedTick is the highest ToTick ever accepted.
func (b *Buffer) HighestReceivedTick() gamestate.Tick {
	return b.highestReceived
}

// AddSnapshot buffers s. A nil error means accepted. ErrNeedsResync also means
// accepted, but the caller must request a full state.
func (b *Buffer) AddSnapshot(s *gamestate.Snapshot) error {
	if s.ToTick <= b.timing.LastRealTick {
		if b.cfg.Logging {
			b.logger.Debug("Received stale snapshot",
				log.Tick("last_real_tick", b.timing.LastRealTick),
				log.Tick("from", s.FromTick),
				log.Tick("to", s.ToTick),
				log.Int("size", s.PayloadSize),
				log.Int("buffered", len(b.states)))
		}
		return ErrStale
	}

	if b.isBuffered(s.ToTick) {
		if b.cfg.Logging {
			b.logger.Debug("Received duplicate snapshot",
				log.Tick("from", s.FromTick),
				log.Tick("to", s.ToTick),
				log.Int("buffered", len(b.states)))
		}
		return ErrDuplicate
	}

	if b.awaitingBaseline {
		if b.baseline == nil && s.IsBaseline() {
			if s.ToTick >= b.requestedTick {
				b.baseline = s
				b.noteReceived(s)
				b.logger.Info("Received full state",
					log.Tick("to", s.ToTick),
					log.Int("size", s.PayloadSize))
				return nil
			}
			b.logger.Info("Received a late full state",
				log.Tick("received", s.ToTick),
				log.Tick("requested", b.requestedTick))
			return ErrLateBaseline
		}

		if b.baseline != nil && s.ToTick <= b.baseline.ToTick {
			if b.cfg.Logging {
				b.logger.Debug("Dropping snapshot older than the pending full state",
					log.Tick("to", s.ToTick),
					log.Tick("baseline", b.baseline.ToTick))
			}
			return ErrLateBaseline
		}
	}

	b.states = append(b.states, s)
	b.noteReceived(s)

	if b.cfg.Logging {
		b.logger.Debug("Received snapshot",
			log.Tick("from", s.FromTick),
			log.Tick("to", s.ToTick),
			log.Int("size", s.PayloadSize),
			log.Int("buffered", len(b.states)))
	}

	if len(b.states) > b.cfg.MaxBufferSize {
		b.logger.Warn("State buffer exceeded its maximum size",
			log.Int("buffered", len(b.states)),
			log.Int("max", b.cfg.MaxBufferSize),
			log.Tick("last_real_tick", b.timing.LastRealTick))
		return ErrNeedsResync
	}
	return nil
}

func (b *Buffer) isBuffered(to gamestate.Tick) bool {
	if b.baseline != nil && b.baseline.ToTick == to {
		return true
	}
	for _, s := range b.states {
		if s.ToTick == to {
			return true
		}
	}
	return false
}

func (b *Buffer) noteReceived(s *gamestate.Snapshot) {
	if s.ToTick > b.highestReceived {
		b.highestReceived = s.ToTick
	}
}

// SelectSnapshotsForTick picks the snapshot that brings the simulation to tick,
// which is the tick about to be applied. It returns false when nothing can be
// applied this frame.
func (b *Buffer) SelectSnapshotsForTick(tick gamestate.Tick) (Selection, bool) {
	if b.awaitingBaseline {
		return b.selectBaseline()
	}
	return b.selectDelta(tick)
}

func (b *Buffer) selectBaseline() (Selection, bool) {
	if b.baseline == nil {
		return Selection{}, false
	}

	var next *gamestate.Snapshot
	nextTick := b.baseline.ToTick + 1
	for i := 0; i < len(b.states); {
		s := b.states[i]
		if s.ToTick <= b.baseline.ToTick {
			b.removeAt(i)
			continue
		}
		if b.cfg.Interpolation && s.ToTick == nextTick {
			next = s
		}
		i++
	}

	if len(b.states) < b.cfg.TargetBufferSize || (b.cfg.Interpolation && next == nil) {
		if b.cfg.Logging {
			b.logger.Debug("Have full state, filling buffer",
				log.Int("buffered", len(b.states)),
				log.Int("target", b.cfg.TargetBufferSize))
		}
		return Selection{}, false
	}

	current := b.baseline
	b.baseline = nil
	b.awaitingBaseline = false
	b.requestedTick = gamestate.ZeroTick

	if b.cfg.Logging {
		b.logger.Debug("Resync to full state", log.Tick("to", current.ToTick))
	}
	return Selection{Current: current, Next: next, Bootstrap: true}, true
}

func (b *Buffer) selectDelta(tick gamestate.Tick) (Selection, bool) {
	var (
		current, next *gamestate.Snapshot
		lowestFuture  gamestate.Tick
		haveFuture    bool
	)
	lastReal := b.timing.LastRealTick

	for i := 0; i < len(b.states); {
		s := b.states[i]

		// ToTick is unique across the buffer, so at most one entry matches.
		if s.ToTick == tick && s.FromTick <= lastReal {
			current = s
			i++
			continue
		}

		if b.cfg.Interpolation && s.ToTick == tick+1 {
			next = s
		}

		if s.ToTick > tick {
			if !haveFuture || s.FromTick < lowestFuture {
				lowestFuture = s.FromTick
				haveFuture = true
			}
			i++
			continue
		}

		if s.ToTick <= lastReal {
			b.removeAt(i)
			continue
		}
		i++
	}

	if current != nil {
		return Selection{Current: current, Next: next}, true
	}

	// The snapshot for this tick is missing, but a later one only depends on
	// data we already have, so the tick can be skipped.
	if haveFuture && lowestFuture <= lastReal {
		return Selection{Next: next}, true
	}
	return Selection{}, false
}

func (b *Buffer) removeAt(i int) {
	last := len(b.states) - 1
	b.states[i] = b.states[last]
	b.states[last] = nil
	b.states = b.states[:last]
}

// ApplicableStateCount counts how many consecutive ticks after fromTick can be
// resolved from buffered snapshots.
func (b *Buffer) ApplicableStateCount(fromTick gamestate.Tick) int {
	next := fromTick
	for {
		found := false
		for _, s := range b.states {
			if s.FromTick <= next && next < s.ToTick {
				found = true
				next++
			}
		}
		if !found {
			break
		}
	}
	return int(next - fromTick)
}

// RequestFullState drops every buffered snapshot and the component cache and
// pauses playback until a baseline at or after the last confirmed tick arrives.
func (b *Buffer) RequestFullState() {
	clear(b.states)
	b.states = b.states[:0]
	b.baseline = nil
	b.awaitingBaseline = true
	b.requestedTick = b.timing.LastRealTick
	b.fullRep.clear()
}

// Reset returns the buffer to its initial state: empty, awaiting a baseline
// from tick zero.
func (b *Buffer) Reset() {
	clear(b.states)
	b.states = b.states[:0]
	b.baseline = nil
	b.awaitingBaseline = true
	b.requestedTick = gamestate.ZeroTick
	b.highestReceived = gamestate.ZeroTick
	b.fullRep.clear()
	b.detach.Clear()
	clear(b.detachByTick)
}
