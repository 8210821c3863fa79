// Package manager drives the client side of state synchronization: it applies
// buffered server snapshots, rolls predicted entities back to server data and
// replays unconfirmed input ahead of the server.
package manager

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zeusync/statesync/internal/core/events/bus"
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
	"github.com/zeusync/statesync/internal/core/gamestate/dirty"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/observability/metrics"
	"github.com/zeusync/statesync/pkg/sequence"
)

// ErrNoEntityApplier is returned by New when Collaborators.Entities is nil.
var ErrNoEntityApplier = errors.New("entity applier is required")

// Manager is owned by the simulation goroutine. Only Inbox, Stats, Subscribe
// and Unsubscribe may be used from other goroutines.
type Manager struct {
	timing  *gamestate.Timing
	buffer  *buffer.Buffer
	tracker *dirty.Tracker
	c       Collaborators
	cfg     Config
	logger  log.Log
	metrics metrics.Recorder

	inbox         *sequence.Mailbox[gamestate.Message]
	inboxCapacity int
	applied       *bus.Bus[StateApplied]

	pendingCapacity    int
	pendingInputs      *sequence.Queue[gamestate.InputCommand]
	pendingMessages    *sequence.Queue[gamestate.PendingMessage]
	nextSequence       uint32
	lastProcessedInput uint32

	receivedSinceAck bool

	totals struct {
		applied   uint64
		requests  uint64
		predicted uint64
		reset     uint64
	}
	stats atomic.Pointer[Stats]
}

func New(
	timing *gamestate.Timing,
	buf *buffer.Buffer,
	tracker *dirty.Tracker,
	c Collaborators,
	cfg Config,
	logger log.Log,
	opts ...Option,
) (*Manager, error) {
	if c.Entities == nil {
		return nil, ErrNoEntityApplier
	}

	m := &Manager{
		timing:          timing,
		buffer:          buf,
		tracker:         tracker,
		c:               c,
		logger:          log.OrNop(logger).With(log.String("component", "sync_manager")),
		metrics:         metrics.Nop{},
		inboxCapacity:   64,
		pendingCapacity: 64,
		applied:         bus.New[StateApplied](),
		nextSequence:    1,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.inbox == nil {
		m.inbox = sequence.NewMailbox[gamestate.Message](m.inboxCapacity)
	}
	m.pendingInputs = sequence.NewQueue[gamestate.InputCommand](m.pendingCapacity)
	m.pendingMessages = sequence.NewQueue[gamestate.PendingMessage](m.pendingCapacity)
	m.SetConfig(cfg)
	m.publishStats()
	return m, nil
}

// Inbox is where the network layer posts decoded messages. It never blocks.
func (m *Manager) Inbox() *sequence.Mailbox[gamestate.Message] {
	return m.inbox
}

func (m *Manager) Config() Config {
	return m.cfg
}

// SetConfig applies a new configuration, including the buffer's. Safe to call
// between ticks.
func (m *Manager) SetConfig(cfg Config) {
	cfg = cfg.normalized()
	if m.cfg.Prediction && !cfg.Prediction {
		// Nothing will be replayed anymore, so nothing should be kept for it.
		m.pendingInputs.Clear()
		m.pendingMessages.Clear()
	}
	m.cfg = cfg
	m.buffer.SetConfig(cfg.Buffer)
}

// Subscribe registers fn to be called after every applied snapshot.
func (m *Manager) Subscribe(fn func(StateApplied) error) bus.Subscription {
	return m.applied.Subscribe(fn)
}

func (m *Manager) Unsubscribe(sub bus.Subscription) error {
	return m.applied.Unsubscribe(sub)
}

// Stats returns the view published at the end of the last Tick.
func (m *Manager) Stats() Stats {
	return *m.stats.Load()
}

// HandleSnapshot adds s to the state buffer. The returned error is the
// buffer's verdict; an overflow has already triggered a full state request.
func (m *Manager) HandleSnapshot(s *gamestate.Snapshot) error {
	m.receivedSinceAck = true
	m.metrics.SnapshotReceived(s.PayloadSize)

	err := m.buffer.AddSnapshot(s)
	switch {
	case err == nil:
	case errors.Is(err, buffer.ErrNeedsResync):
		m.requestFullState(metrics.ResyncOverflow, nil)
	case errors.Is(err, buffer.ErrStale):
		m.metrics.SnapshotRejected(metrics.ReasonStale)
	case errors.Is(err, buffer.ErrDuplicate):
		m.metrics.SnapshotRejected(metrics.ReasonDuplicate)
	case errors.Is(err, buffer.ErrLateBaseline):
		m.metrics.SnapshotRejected(metrics.ReasonLateBaseline)
	}
	m.metrics.BufferSize(m.buffer.Len())
	return err
}

// HandleLeavePVS queues entities that left the client's PVS for detaching
// once msg.Tick has been applied.
func (m *Manager) HandleLeavePVS(msg *gamestate.LeavePVS) {
	m.buffer.QueueDetach(msg.Tick, msg.Entities)
}

func (m *Manager) drainInbox() {
	for _, msg := range m.inbox.Drain() {
		switch v := msg.(type) {
		case *gamestate.Snapshot:
			_ = m.HandleSnapshot(v)
		case *gamestate.LeavePVS:
			m.HandleLeavePVS(v)
		}
	}
}

// InputCommandDispatched records a local input for replay and returns the
// sequence it was assigned. Without prediction nothing is recorded and zero
// is returned.
func (m *Manager) InputCommandDispatched(cmd gamestate.InputCommand) uint32 {
	if !m.cfg.Prediction {
		return 0
	}
	if cmd.Tick == gamestate.ZeroTick {
		cmd.Tick = m.timing.CurTick
	}
	cmd.Sequence = m.nextSequence
	m.nextSequence++
	m.pendingInputs.Enqueue(cmd)
	return cmd.Sequence
}

// SystemMessageDispatched records a local system message for replay. Inputs
// and messages share one sequence counter.
func (m *Manager) SystemMessageDispatched(msg any) uint32 {
	if !m.cfg.Prediction {
		return 0
	}
	seq := m.nextSequence
	m.nextSequence++
	m.pendingMessages.Enqueue(gamestate.PendingMessage{
		Sequence: seq,
		Tick:     m.timing.CurTick,
		Message:  msg,
	})
	return seq
}

// PendingInputs returns a copy of the unconfirmed inputs, oldest first.
func (m *Manager) PendingInputs() []gamestate.InputCommand {
	out := make([]gamestate.InputCommand, m.pendingInputs.Len())
	for i := range out {
		out[i] = m.pendingInputs.At(i)
	}
	return out
}

func (m *Manager) trimPending() {
	last := m.lastProcessedInput
	m.pendingInputs.DequeueWhile(func(cmd gamestate.InputCommand) bool {
		return cmd.Sequence <= last
	})
	m.pendingMessages.DequeueWhile(func(msg gamestate.PendingMessage) bool {
		return msg.Sequence <= last
	})
	m.metrics.PendingInputs(m.pendingInputs.Len())
}

// RequestFullState drops buffered data and asks the server for a new
// baseline. missing names entities the client could not create, if any.
func (m *Manager) RequestFullState(missing ...gamestate.EntityID) {
	m.requestFullState(metrics.ResyncManual, missing)
}

func (m *Manager) requestFullState(reason string, missing []gamestate.EntityID) {
	m.logger.Info("Requesting full server state",
		log.String("reason", reason),
		log.Tick("last_real_tick", m.timing.LastRealTick),
		log.Int("missing", len(missing)))

	m.buffer.RequestFullState()
	m.totals.requests++
	m.metrics.Resync(reason)

	if m.c.Sender == nil {
		return
	}
	if err := m.c.Sender.SendFullStateRequest(m.timing.LastRealTick, missing); err != nil {
		m.logger.Warn("Failed to send full state request", log.Error(err))
	}
}

// Reset returns the manager, its buffer, tracker and clock to the state of a
// fresh connection.
func (m *Manager) Reset() {
	m.inbox.Drain()
	m.buffer.Reset()
	m.tracker.Reset()
	m.timing.Reset()
	m.pendingInputs.Clear()
	m.pendingMessages.Clear()
	m.nextSequence = 1
	m.lastProcessedInput = 0
	m.receivedSinceAck = false
	m.publishStats()
}

func (m *Manager) publishStats() {
	m.stats.Store(&Stats{
		CurTick:              m.timing.CurTick,
		LastRealTick:         m.timing.LastRealTick,
		LastProcessedTick:    m.timing.LastProcessedTick,
		HighestReceivedTick:  m.buffer.HighestReceivedTick(),
		Buffered:             m.buffer.Len(),
		AwaitingBaseline:     m.buffer.AwaitingBaseline(),
		PendingInputs:        m.pendingInputs.Len(),
		PendingMessages:      m.pendingMessages.Len(),
		LastProcessedInput:   m.lastProcessedInput,
		TickTimingAdjustment: m.timing.TickTimingAdjustment,
		StatesApplied:        m.totals.applied,
		FullRequests:         m.totals.requests,
		TicksPredicted:       m.totals.predicted,
		EntitiesReset:        m.totals.reset,
	})
}

func wrapApply(stage string, tick gamestate.Tick, err error) error {
	return fmt.Errorf("apply %s for tick %d: %w", stage, tick, err)
}
