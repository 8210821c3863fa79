package manager_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
	"github.com/zeusync/statesync/internal/core/gamestate/dirty"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/world"
)

const (
	player gamestate.EntityID = 1
	crate  gamestate.EntityID = 2
)

type latency time.Duration

func (l latency) RTT() time.Duration { return time.Duration(l) }

type client struct {
	timing *gamestate.Timing
	world  *world.World
	m      *manager.Manager
}

func newClient(t *testing.T, mode manager.ResetMode, rtt time.Duration) *client {
	t.Helper()
	timing := gamestate.NewTiming(20)
	tracker := dirty.New(timing, dirty.DefaultWindow)
	w := world.New(timing, tracker, nil, log.NewNop())

	cfg := manager.DefaultConfig()
	cfg.Buffer = buffer.Config{TargetBufferSize: 0, MaxBufferSize: 64}
	cfg.Prediction = true
	cfg.PredictTickBias = 0
	cfg.ResetMode = mode

	m, err := manager.New(timing, buffer.New(timing, cfg.Buffer, log.NewNop()), tracker, manager.Collaborators{
		Entities:   w,
		Resetter:   w,
		Maps:       w,
		Players:    w,
		Input:      w,
		Simulation: w,
		Latency:    latency(rtt),
	}, cfg, log.NewNop())
	require.NoError(t, err)
	return &client{timing: timing, world: w, m: m}
}

func fullChange(v gamestate.ComponentState) gamestate.ComponentChange {
	return gamestate.ComponentChange{ID: v.Component(), Value: gamestate.Full{Value: v}}
}

func baseline(tick gamestate.Tick) *gamestate.Snapshot {
	return &gamestate.Snapshot{
		ToTick: tick,
		EntityStates: []gamestate.EntityState{
			{ID: player, Changes: []gamestate.ComponentChange{
				fullChange(world.Metadata{Prototype: "player"}),
				fullChange(world.Position{X: 0, Y: 0}),
			}},
			{ID: crate, Changes: []gamestate.ComponentChange{
				fullChange(world.Metadata{Prototype: "crate"}),
				fullChange(world.Position{X: 3, Y: 3}),
			}},
		},
	}
}

type worldState = map[gamestate.EntityID]gamestate.ComponentStates

func (c *client) state() worldState {
	out := make(worldState)
	for _, id := range c.world.Entities() {
		out[id], _ = c.world.Components(id)
	}
	return out
}

// predict runs fn as simulation code of the unconfirmed tick.
func (c *client) predict(tick gamestate.Tick, fn func()) {
	c.timing.CurTick = tick
	done := c.timing.StartPastPrediction()
	defer done()
	fn()
}

// captureApplied records the world as seen right after each applied state.
func (c *client) captureApplied() *worldState {
	var applied worldState
	c.m.Subscribe(func(manager.StateApplied) error {
		applied = c.state()
		return nil
	})
	return &applied
}

func (c *client) tick(t *testing.T, s *gamestate.Snapshot) {
	t.Helper()
	if s != nil {
		require.NoError(t, c.m.HandleSnapshot(s))
	}
	_, err := c.m.Tick()
	require.NoError(t, err)
}

func TestRollbackRestoresEntityOmittedFromSnapshot(t *testing.T) {
	c := newClient(t, manager.ResetDirty, 0)
	c.tick(t, baseline(5))

	// The host simulates tick 6 ahead of the server and moves the crate.
	c.timing.CurTick = 6
	done := c.timing.StartPastPrediction()
	require.True(t, c.world.SetComponent(crate, world.Position{X: 100, Y: 100}))
	done()

	var seen gamestate.ComponentState
	c.m.Subscribe(func(manager.StateApplied) error {
		seen, _ = c.world.Component(crate, world.PositionID)
		return nil
	})

	// The server state for tick 6 does not mention the crate.
	c.tick(t, &gamestate.Snapshot{FromTick: 5, ToTick: 6})
	assert.Equal(t, world.Position{X: 3, Y: 3}, seen)
}

func TestDeltaAppliesOntoServerValueAfterRollback(t *testing.T) {
	c := newClient(t, manager.ResetDirty, 0)
	c.tick(t, baseline(5))

	c.timing.CurTick = 6
	done := c.timing.StartPastPrediction()
	c.world.SetComponent(player, world.Position{X: 50, Y: 0})
	done()

	c.tick(t, &gamestate.Snapshot{FromTick: 5, ToTick: 6, EntityStates: []gamestate.EntityState{
		{ID: player, Changes: []gamestate.ComponentChange{
			{ID: world.PositionID, Value: gamestate.Delta{Value: world.PositionDelta{DX: 1}}},
		}},
	}})

	pos, _ := c.world.Component(player, world.PositionID)
	assert.Equal(t, world.Position{X: 1, Y: 0}, pos)
}

func TestMissingMetadataTriggersFullState(t *testing.T) {
	c := newClient(t, manager.ResetDirty, 0)
	c.tick(t, baseline(5))

	c.tick(t, &gamestate.Snapshot{FromTick: 5, ToTick: 6, EntityStates: []gamestate.EntityState{
		{ID: 77, Changes: []gamestate.ComponentChange{fullChange(world.Position{})}},
	}})
	stats := c.m.Stats()
	assert.True(t, stats.AwaitingBaseline)
	assert.Equal(t, uint64(1), stats.FullRequests)
	assert.False(t, c.world.Exists(77))
}

// runShort plays a short prediction with an input and a removal and returns
// the world as seen right after the last server state was applied, and at the
// end of the frame.
func runShort(t *testing.T, mode manager.ResetMode) (applied, final worldState) {
	c := newClient(t, mode, 500*time.Millisecond)
	c.world.SetMessageHandler(func(w *world.World, msg gamestate.PendingMessage) {
		w.RemoveComponent(crate, world.PositionID)
	})

	c.tick(t, baseline(5))
	require.Equal(t, gamestate.Tick(15), c.timing.CurTick)

	c.m.InputCommandDispatched(gamestate.InputCommand{
		Tick:     6,
		Function: world.FuncMoveRight,
		Pressed:  true,
		Target:   player,
	})
	c.m.SystemMessageDispatched("drop crate")

	c.tick(t, &gamestate.Snapshot{FromTick: 5, ToTick: 6})
	_, ok := c.world.Component(crate, world.PositionID)
	require.False(t, ok, "prediction removed the crate position")
	pos, _ := c.world.Component(player, world.PositionID)
	require.Greater(t, pos.(world.Position).X, 0.0, "prediction moved the player")

	seen := c.captureApplied()
	c.tick(t, &gamestate.Snapshot{FromTick: 6, ToTick: 7, EntityStates: []gamestate.EntityState{
		{ID: player, Changes: []gamestate.ComponentChange{
			{ID: world.PositionID, Value: gamestate.Delta{Value: world.PositionDelta{DX: 1}}},
		}},
	}})
	return *seen, c.state()
}

// runPastWindow moves the crate on the first unconfirmed tick, then keeps
// predicting the player for longer than the dirty window before the server
// state for that first tick arrives.
func runPastWindow(t *testing.T, mode manager.ResetMode) (applied, final worldState) {
	c := newClient(t, mode, 0)
	c.tick(t, baseline(5))

	c.predict(6, func() {
		require.True(t, c.world.SetComponent(crate, world.Position{X: 100, Y: 100}))
	})
	for tick := gamestate.Tick(7); tick <= 6+dirty.DefaultWindow; tick++ {
		c.predict(tick, func() {
			c.world.SetComponent(player, world.Position{X: float64(tick)})
		})
	}

	seen := c.captureApplied()
	c.tick(t, &gamestate.Snapshot{FromTick: 5, ToTick: 6})
	return *seen, c.state()
}

// runResync predicts a component onto the crate and removes one from the
// player, then resyncs to a new baseline.
func runResync(t *testing.T, mode manager.ResetMode) (applied, final worldState) {
	c := newClient(t, mode, 0)
	c.tick(t, baseline(5))

	c.predict(6, func() {
		require.True(t, c.world.SetComponent(crate, world.Velocity{X: 9}))
		require.True(t, c.world.RemoveComponent(player, world.VelocityID))
	})
	c.m.RequestFullState()

	seen := c.captureApplied()
	c.tick(t, baseline(10))
	require.False(t, c.m.Stats().AwaitingBaseline)
	return *seen, c.state()
}

func TestDirtyResetMatchesFullReset(t *testing.T) {
	tests := []struct {
		name  string
		run   func(*testing.T, manager.ResetMode) (worldState, worldState)
		check func(t *testing.T, applied worldState)
	}{
		{
			name: "short prediction",
			run:  runShort,
			check: func(t *testing.T, applied worldState) {
				assert.Equal(t, world.Position{X: 1, Y: 0}, applied[player][world.PositionID])
				assert.Equal(t, world.Velocity{}, applied[player][world.VelocityID])
				assert.Equal(t, world.Position{X: 3, Y: 3}, applied[crate][world.PositionID])
			},
		},
		{
			name: "prediction longer than the dirty window",
			run:  runPastWindow,
			check: func(t *testing.T, applied worldState) {
				assert.Equal(t, world.Position{X: 3, Y: 3}, applied[crate][world.PositionID])
				assert.Equal(t, world.Position{}, applied[player][world.PositionID])
			},
		},
		{
			name: "resync to a new baseline",
			run:  runResync,
			check: func(t *testing.T, applied worldState) {
				assert.Equal(t, gamestate.ComponentStates{
					world.MetadataID: world.Metadata{Prototype: "crate"},
					world.PositionID: world.Position{X: 3, Y: 3},
				}, applied[crate])
				assert.Equal(t, world.Velocity{}, applied[player][world.VelocityID])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dirtyApplied, dirtyFinal := tt.run(t, manager.ResetDirty)
			fullApplied, fullFinal := tt.run(t, manager.ResetFull)

			assert.Equal(t, fullApplied, dirtyApplied)
			assert.Equal(t, fullFinal, dirtyFinal)
			tt.check(t, dirtyApplied)
		})
	}
}
