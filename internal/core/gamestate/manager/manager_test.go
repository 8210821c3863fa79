package manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
	"github.com/zeusync/statesync/internal/core/gamestate/dirty"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/pkg/sequence"
)

type fakeEntities struct {
	applied  []gamestate.Tick
	nexts    map[gamestate.Tick]gamestate.Tick
	created  map[gamestate.Tick][]gamestate.EntityID
	fail     map[gamestate.Tick]error
	detached []gamestate.DetachEntry
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		nexts:   make(map[gamestate.Tick]gamestate.Tick),
		created: make(map[gamestate.Tick][]gamestate.EntityID),
		fail:    make(map[gamestate.Tick]error),
	}
}

func (f *fakeEntities) ApplyEntityStates(cur, next *gamestate.Snapshot) ([]gamestate.EntityID, error) {
	if err := f.fail[cur.ToTick]; err != nil {
		return nil, err
	}
	f.applied = append(f.applied, cur.ToTick)
	if next != nil {
		f.nexts[cur.ToTick] = next.ToTick
	}
	return f.created[cur.ToTick], nil
}

func (f *fakeEntities) DetachEntities(entries []gamestate.DetachEntry) {
	f.detached = append(f.detached, entries...)
}

type fullRequest struct {
	tick    gamestate.Tick
	missing []gamestate.EntityID
}

type fakeSender struct {
	acks     []gamestate.Tick
	requests []fullRequest
}

func (f *fakeSender) SendAck(tick gamestate.Tick) error {
	f.acks = append(f.acks, tick)
	return nil
}

func (f *fakeSender) SendFullStateRequest(tick gamestate.Tick, missing []gamestate.EntityID) error {
	f.requests = append(f.requests, fullRequest{tick: tick, missing: missing})
	return nil
}

type replayed struct {
	kind string
	seq  uint32
	tick gamestate.Tick
}

type fakeInput struct {
	timing *gamestate.Timing
	calls  []replayed
}

func (f *fakeInput) PredictInputCommand(cmd gamestate.InputCommand) {
	f.calls = append(f.calls, replayed{kind: "input", seq: cmd.Sequence, tick: f.timing.CurTick})
}

func (f *fakeInput) RaiseLocalMessage(msg gamestate.PendingMessage) {
	f.calls = append(f.calls, replayed{kind: "message", seq: msg.Sequence, tick: f.timing.CurTick})
}

type fakeSim struct {
	timing *gamestate.Timing
	ticks  []gamestate.Tick
}

func (f *fakeSim) TickUpdate(_ time.Duration, _ bool) {
	f.ticks = append(f.ticks, f.timing.CurTick)
}

type fakeLatency time.Duration

func (f fakeLatency) RTT() time.Duration { return time.Duration(f) }

type fakeResetter struct {
	reset    map[gamestate.EntityID]gamestate.Tick
	implicit map[gamestate.EntityID]gamestate.ComponentStates
}

func (f *fakeResetter) ResetPredicted(entity gamestate.EntityID, _ gamestate.ComponentStates, since gamestate.Tick, _ []gamestate.ComponentID) bool {
	f.reset[entity] = since
	return true
}

func (f *fakeResetter) ImplicitStates(entities []gamestate.EntityID) map[gamestate.EntityID]gamestate.ComponentStates {
	out := make(map[gamestate.EntityID]gamestate.ComponentStates)
	for _, id := range entities {
		if v, ok := f.implicit[id]; ok {
			out[id] = v
		}
	}
	return out
}

type marker struct{ v int }

func (marker) Component() gamestate.ComponentID { return 1 }

type harness struct {
	timing   *gamestate.Timing
	buf      *buffer.Buffer
	tracker  *dirty.Tracker
	entities *fakeEntities
	sender   *fakeSender
	input    *fakeInput
	sim      *fakeSim
	resetter *fakeResetter
	m        *Manager
}

func testConfig() Config {
	return Config{
		Buffer:    buffer.Config{TargetBufferSize: 0, MaxBufferSize: 64},
		ResetMode: ResetDirty,
	}
}

func newHarness(t *testing.T, cfg Config, latency time.Duration) *harness {
	t.Helper()
	timing := gamestate.NewTiming(20)
	h := &harness{
		timing:   timing,
		buf:      buffer.New(timing, cfg.Buffer, log.NewNop()),
		tracker:  dirty.New(timing, 64),
		entities: newFakeEntities(),
		sender:   &fakeSender{},
		input:    &fakeInput{timing: timing},
		sim:      &fakeSim{timing: timing},
		resetter: &fakeResetter{reset: make(map[gamestate.EntityID]gamestate.Tick)},
	}
	m, err := New(timing, h.buf, h.tracker, Collaborators{
		Entities:   h.entities,
		Resetter:   h.resetter,
		Input:      h.input,
		Simulation: h.sim,
		Sender:     h.sender,
		Latency:    fakeLatency(latency),
	}, cfg, log.NewNop())
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) add(t *testing.T, snaps ...*gamestate.Snapshot) {
	t.Helper()
	for _, s := range snaps {
		require.NoError(t, h.m.HandleSnapshot(s))
	}
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	n, err := h.m.Tick()
	require.NoError(t, err)
	return n
}

func snap(from, to gamestate.Tick) *gamestate.Snapshot {
	return &gamestate.Snapshot{FromTick: from, ToTick: to}
}

func deltas(from, to gamestate.Tick) []*gamestate.Snapshot {
	var out []*gamestate.Snapshot
	for t := from + 1; t <= to; t++ {
		out = append(out, snap(t-1, t))
	}
	return out
}

func TestNewRequiresEntityApplier(t *testing.T) {
	timing := gamestate.NewTiming(30)
	_, err := New(timing, buffer.New(timing, buffer.DefaultConfig(), nil), dirty.New(timing, 0), Collaborators{}, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNoEntityApplier)
}

func TestTickBootstrapsFromBaseline(t *testing.T) {
	h := newHarness(t, testConfig(), 0)

	assert.Zero(t, h.tick(t), "nothing received yet")

	h.add(t, snap(0, 10))
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, []gamestate.Tick{10}, h.entities.applied)
	assert.Equal(t, gamestate.Tick(10), h.timing.LastRealTick)
	assert.Equal(t, gamestate.Tick(10), h.timing.LastProcessedTick)
	assert.Equal(t, gamestate.Tick(10), h.timing.CurTick)
	assert.False(t, h.buf.AwaitingBaseline())
	assert.Equal(t, []gamestate.Tick{10}, h.sender.acks)
}

func TestTickAppliesOneStatePerFrameWithinThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.TargetBufferSize = 2
	cfg.MergeThreshold = 5
	h := newHarness(t, cfg, 0)

	h.add(t, snap(0, 10))
	h.add(t, deltas(10, 14)...)
	h.tick(t)

	// 4 buffered, target 2, threshold 5: no catch up.
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, gamestate.Tick(11), h.timing.LastRealTick)
}

func TestTickCatchesUpPastMergeThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.TargetBufferSize = 2
	cfg.Buffer.Interpolation = true
	cfg.MergeThreshold = 5
	h := newHarness(t, cfg, 0)

	h.add(t, snap(0, 10))
	h.add(t, deltas(10, 20)...)
	assert.Equal(t, 1, h.tick(t))

	// 10 buffered, target 2, threshold 5: three states this frame.
	assert.Equal(t, 3, h.tick(t))
	assert.Equal(t, []gamestate.Tick{10, 11, 12, 13}, h.entities.applied)
	assert.Equal(t, gamestate.Tick(13), h.timing.LastRealTick)

	// Only the last state of the frame is interpolated.
	assert.NotContains(t, h.entities.nexts, gamestate.Tick(11))
	assert.NotContains(t, h.entities.nexts, gamestate.Tick(12))
	assert.Equal(t, gamestate.Tick(14), h.entities.nexts[13])
}

func TestTickSkipsRecoverableGap(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	// Tick 12 is never sent, but 13 only depends on 11.
	h.add(t, snap(10, 11), snap(11, 13))

	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, gamestate.Tick(11), h.timing.LastRealTick)
	assert.Equal(t, gamestate.Tick(12), h.timing.LastProcessedTick)

	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, gamestate.Tick(13), h.timing.LastRealTick)
	assert.Equal(t, []gamestate.Tick{10, 11, 13}, h.entities.applied)
}

func TestTickUnderrunWaits(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	h.add(t, snap(11, 12))
	assert.Zero(t, h.tick(t))
	assert.Equal(t, gamestate.Tick(10), h.timing.LastRealTick)

	h.add(t, snap(10, 11))
	assert.Equal(t, 2, h.tick(t))
	assert.Equal(t, gamestate.Tick(12), h.timing.LastRealTick)
}

func TestOverflowRequestsFullState(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.MaxBufferSize = 4
	h := newHarness(t, cfg, 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	// Tick 11 is lost.
	for to := gamestate.Tick(12); to <= 15; to++ {
		require.NoError(t, h.m.HandleSnapshot(snap(to-1, to)))
	}
	assert.ErrorIs(t, h.m.HandleSnapshot(snap(15, 16)), buffer.ErrNeedsResync)

	require.Len(t, h.sender.requests, 1)
	assert.Equal(t, gamestate.Tick(10), h.sender.requests[0].tick)
	assert.Zero(t, h.buf.Len())
	assert.True(t, h.buf.AwaitingBaseline())

	h.add(t, snap(0, 20))
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, gamestate.Tick(20), h.timing.LastRealTick)
	assert.Equal(t, uint64(1), h.m.Stats().FullRequests)
}

func TestMissingMetadataRequestsFullState(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	h.entities.fail[11] = &gamestate.MissingMetadataError{Entity: 42}
	h.add(t, snap(10, 11), snap(11, 12))

	n, err := h.m.Tick()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, h.sender.requests, 1)
	assert.Equal(t, []gamestate.EntityID{42}, h.sender.requests[0].missing)
	assert.True(t, h.buf.AwaitingBaseline())
}

func TestApplyErrorIsReturned(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	boom := errors.New("boom")
	h.entities.fail[11] = boom
	h.add(t, snap(10, 11))

	_, err := h.m.Tick()
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.buf.AwaitingBaseline())
}

func TestAckHighestReceivedEvenWhenLate(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.add(t, snap(0, 10))
	h.tick(t)
	require.Equal(t, []gamestate.Tick{10}, h.sender.acks)

	h.tick(t)
	assert.Len(t, h.sender.acks, 1, "nothing new arrived")

	assert.ErrorIs(t, h.m.HandleSnapshot(snap(8, 9)), buffer.ErrStale)
	h.tick(t)
	assert.Equal(t, []gamestate.Tick{10, 10}, h.sender.acks)

	h.add(t, snap(12, 13))
	h.tick(t)
	assert.Equal(t, []gamestate.Tick{10, 10, 13}, h.sender.acks)
}

func TestInboxIsDrainedOnTick(t *testing.T) {
	h := newHarness(t, testConfig(), 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.m.Inbox().Post(snap(0, 10))
		h.m.Inbox().Post(&gamestate.LeavePVS{Tick: 10, Entities: []gamestate.EntityID{3}})
	}()
	wg.Wait()

	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, []gamestate.DetachEntry{{Tick: 10, Entities: []gamestate.EntityID{3}}}, h.entities.detached)
	assert.Zero(t, h.m.Inbox().Len())
}

func TestWithInboxUsesSharedMailbox(t *testing.T) {
	timing := gamestate.NewTiming(30)
	inbox := sequence.NewMailbox[gamestate.Message](4)
	entities := newFakeEntities()
	m, err := New(timing, buffer.New(timing, testConfig().Buffer, nil), dirty.New(timing, 8),
		Collaborators{Entities: entities}, testConfig(), nil, WithInbox(inbox))
	require.NoError(t, err)
	require.Same(t, inbox, m.Inbox())

	inbox.Post(snap(0, 4))
	n, err := m.Tick()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []gamestate.Tick{4}, entities.applied)
}

func TestLeavePVSIsDetachedOnceApplied(t *testing.T) {
	cfg := testConfig()
	cfg.DetachBudget = 2
	h := newHarness(t, cfg, 0)
	h.add(t, snap(0, 10))
	h.tick(t)

	h.m.HandleLeavePVS(&gamestate.LeavePVS{Tick: 12, Entities: []gamestate.EntityID{1, 2, 3}})
	h.add(t, snap(10, 11))
	h.tick(t)
	assert.Empty(t, h.entities.detached)

	h.add(t, snap(11, 12))
	h.tick(t)
	require.Len(t, h.entities.detached, 1)
	assert.Len(t, h.entities.detached[0].Entities, 2)

	// The remainder goes out on the next frame even without a new state.
	h.tick(t)
	require.Len(t, h.entities.detached, 2)
	assert.Len(t, h.entities.detached[1].Entities, 1)
}

func TestStateAppliedSubscribers(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.entities.created[10] = []gamestate.EntityID{5}

	var events []StateApplied
	sub := h.m.Subscribe(func(e StateApplied) error {
		events = append(events, e)
		return nil
	})

	h.add(t, snap(0, 10), snap(10, 11))
	h.tick(t)
	require.Len(t, events, 1)
	assert.True(t, events[0].Bootstrap)
	assert.Equal(t, []gamestate.EntityID{5}, events[0].Created)

	h.tick(t)
	require.Len(t, events, 2)
	assert.False(t, events[1].Bootstrap)
	assert.Equal(t, gamestate.Tick(11), events[1].Snapshot.ToTick)

	require.NoError(t, h.m.Unsubscribe(sub))
	h.add(t, snap(11, 12))
	h.tick(t)
	assert.Len(t, events, 2)
}

func TestImplicitStatesReachFullRepresentation(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	h.entities.created[10] = []gamestate.EntityID{5}
	h.resetter.implicit = map[gamestate.EntityID]gamestate.ComponentStates{
		5: {1: marker{v: 9}},
	}

	h.add(t, snap(0, 10))
	h.tick(t)

	v, ok := h.buf.CachedComponent(5, 1)
	require.True(t, ok)
	assert.Equal(t, marker{v: 9}, v)
}

func TestTimingAdjustment(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.TargetBufferSize = 1
	h := newHarness(t, cfg, 0)

	h.add(t, snap(0, 10))
	h.tick(t)
	assert.Zero(t, h.timing.TickTimingAdjustment, "awaiting a full state")

	h.add(t, deltas(10, 13)...)
	h.tick(t)
	// Three applicable states against a target of one.
	assert.InDelta(t, 0.2, h.timing.TickTimingAdjustment, 1e-6)
}

func TestInputDispatchRequiresPrediction(t *testing.T) {
	h := newHarness(t, testConfig(), 0)
	assert.Zero(t, h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 3}))
	assert.Zero(t, h.m.SystemMessageDispatched("hello"))
	assert.Empty(t, h.m.PendingInputs())
}

func TestInputAndMessageShareSequence(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)

	assert.Equal(t, uint32(1), h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 3}))
	assert.Equal(t, uint32(2), h.m.SystemMessageDispatched("hello"))
	assert.Equal(t, uint32(3), h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 3}))

	h.timing.CurTick = 7
	h.m.InputCommandDispatched(gamestate.InputCommand{})
	pending := h.m.PendingInputs()
	require.Len(t, pending, 3)
	assert.Equal(t, gamestate.Tick(7), pending[2].Tick, "untagged input takes the current tick")
}

func TestConfirmedInputIsNeverReplayed(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 500*time.Millisecond)

	h.add(t, snap(0, 5))
	h.tick(t)
	// 20 ticks per second and half a second of latency.
	assert.Equal(t, gamestate.Tick(15), h.timing.CurTick)

	for i := 0; i < 6; i++ {
		h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 8})
	}
	seq := h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 10})
	require.Equal(t, uint32(7), seq)
	h.input.calls = nil

	s := snap(5, 6)
	s.LastProcessedInput = 6
	h.add(t, s)
	h.tick(t)
	assert.Equal(t, []replayed{{kind: "input", seq: 7, tick: 10}}, h.input.calls)
	assert.Len(t, h.m.PendingInputs(), 1)

	h.input.calls = nil
	s = snap(6, 7)
	s.LastProcessedInput = 7
	h.add(t, s)
	h.tick(t)
	assert.Empty(t, h.input.calls)
	assert.Empty(t, h.m.PendingInputs())
	assert.Equal(t, uint32(7), h.m.Stats().LastProcessedInput)
}

func TestPredictTicksReplaysInSequenceOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.timing.LastRealTick = 5
	h.timing.LastProcessedTick = 5

	h.timing.CurTick = 6
	h.m.InputCommandDispatched(gamestate.InputCommand{})
	h.m.SystemMessageDispatched("a")
	h.m.InputCommandDispatched(gamestate.InputCommand{})
	h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 7})

	n := h.m.PredictTicks(9)
	assert.Equal(t, 4, n)
	assert.Equal(t, []replayed{
		{kind: "input", seq: 1, tick: 6},
		{kind: "message", seq: 2, tick: 6},
		{kind: "input", seq: 3, tick: 6},
		{kind: "input", seq: 4, tick: 7},
	}, h.input.calls)
	assert.Equal(t, []gamestate.Tick{6, 7, 8}, h.sim.ticks, "the target tick is left to the host loop")
	assert.Equal(t, gamestate.Tick(9), h.timing.CurTick)
}

func TestNoPredictionWithoutAppliedState(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.add(t, snap(0, 5))
	h.tick(t)

	h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 6})
	h.input.calls = nil
	h.sim.ticks = nil

	assert.Zero(t, h.tick(t))
	assert.Empty(t, h.input.calls)
	assert.Empty(t, h.sim.ticks)
}

func TestPredictedEntitiesAreResetBeforeApply(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.add(t, &gamestate.Snapshot{
		ToTick: 5,
		EntityStates: []gamestate.EntityState{
			{ID: 1, Changes: []gamestate.ComponentChange{{ID: 1, Value: gamestate.Full{Value: marker{v: 1}}}}},
			{ID: 2, Changes: []gamestate.ComponentChange{{ID: 1, Value: gamestate.Full{Value: marker{v: 2}}}}},
		},
	})
	h.tick(t)

	// Entity 1 and a client-only entity change during prediction.
	h.timing.CurTick = 6
	done := h.timing.StartPastPrediction()
	h.tracker.MarkDirty(1)
	h.tracker.MarkDirty(99)
	done()

	h.add(t, snap(5, 6))
	h.tick(t)
	assert.Equal(t, map[gamestate.EntityID]gamestate.Tick{1: 5}, h.resetter.reset)
	assert.Empty(t, h.tracker.Query(0))
}

func TestResetFullVisitsCachedEntities(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	cfg.ResetMode = ResetFull
	h := newHarness(t, cfg, 0)
	h.add(t, &gamestate.Snapshot{
		ToTick: 5,
		EntityStates: []gamestate.EntityState{
			{ID: 1, Changes: []gamestate.ComponentChange{{ID: 1, Value: gamestate.Full{Value: marker{v: 1}}}}},
			{ID: 2, Changes: []gamestate.ComponentChange{{ID: 1, Value: gamestate.Full{Value: marker{v: 2}}}}},
		},
	})
	h.tick(t)

	h.add(t, snap(5, 6))
	h.tick(t)
	assert.Equal(t, map[gamestate.EntityID]gamestate.Tick{1: 5, 2: 5}, h.resetter.reset)

	assert.True(t, h.m.ResetEntity(2))
	assert.Equal(t, gamestate.ZeroTick, h.resetter.reset[2])
	assert.False(t, h.m.ResetEntity(404))
}

func TestSetConfigDisablingPredictionDropsPending(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 1})
	h.m.SystemMessageDispatched("x")

	cfg.Prediction = false
	cfg.Buffer.TargetBufferSize = 3
	h.m.SetConfig(cfg)
	assert.Empty(t, h.m.PendingInputs())
	assert.Equal(t, 3, h.buf.TargetBufferSize())
}

func TestResetReturnsToInitialState(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.add(t, snap(0, 5), snap(5, 6))
	h.tick(t)
	h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 6})

	h.m.Reset()
	stats := h.m.Stats()
	assert.Zero(t, stats.LastRealTick)
	assert.Zero(t, stats.CurTick)
	assert.Zero(t, stats.Buffered)
	assert.Zero(t, stats.PendingInputs)
	assert.True(t, stats.AwaitingBaseline)
	assert.Equal(t, uint32(1), h.m.InputCommandDispatched(gamestate.InputCommand{Tick: 1}))
}

func TestSimulateAdvancesClock(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction = true
	h := newHarness(t, cfg, 0)
	h.timing.CurTick = 4

	h.m.Simulate()
	assert.Equal(t, []gamestate.Tick{4}, h.sim.ticks)
	assert.Equal(t, gamestate.Tick(5), h.timing.CurTick)
}
