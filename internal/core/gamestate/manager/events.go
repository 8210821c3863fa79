package manager

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
)

// StateApplied is published once per applied server snapshot.
type StateApplied struct {
	Snapshot *gamestate.Snapshot
	// Bootstrap is set for the baseline that ended a resync.
	Bootstrap bool
	// Created lists entities the snapshot created.
	Created []gamestate.EntityID
	// Detached lists PVS departures processed with this snapshot.
	Detached []gamestate.DetachEntry
}

// Stats is a point in time view of the manager, safe to read from any
// goroutine.
type Stats struct {
	CurTick              gamestate.Tick `json:"cur_tick"`
	LastRealTick         gamestate.Tick `json:"last_real_tick"`
	LastProcessedTick    gamestate.Tick `json:"last_processed_tick"`
	HighestReceivedTick  gamestate.Tick `json:"highest_received_tick"`
	Buffered             int            `json:"buffered"`
	AwaitingBaseline     bool           `json:"awaiting_baseline"`
	PendingInputs        int            `json:"pending_inputs"`
	PendingMessages      int            `json:"pending_messages"`
	LastProcessedInput   uint32         `json:"last_processed_input"`
	TickTimingAdjustment float32        `json:"tick_timing_adjustment"`

	StatesApplied  uint64 `json:"states_applied"`
	FullRequests   uint64 `json:"full_requests"`
	TicksPredicted uint64 `json:"ticks_predicted"`
	EntitiesReset  uint64 `json:"entities_reset"`
}
