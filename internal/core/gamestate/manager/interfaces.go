package manager

import (
	"time"

	"github.com/zeusync/statesync/internal/core/gamestate"
)

// EntityApplier writes authoritative entity data into the simulation.
type EntityApplier interface {
	// ApplyEntityStates applies cur and returns the entities it created. next is
	// the following snapshot when interpolating, nil otherwise. A baseline must
	// also remove every networked entity it does not mention.
	ApplyEntityStates(cur, next *gamestate.Snapshot) ([]gamestate.EntityID, error)
	// DetachEntities hides entities that left the client's PVS. Entities that
	// received a state newer than an entry's tick must be skipped.
	DetachEntities(entries []gamestate.DetachEntry)
}

// PredictionResetter rolls predicted entities back to server data.
type PredictionResetter interface {
	// ResetPredicted restores entity to last, undoing every component change made
	// after since. removed lists components prediction removed that existed on
	// the server. It reports whether the entity was changed.
	ResetPredicted(entity gamestate.EntityID, last gamestate.ComponentStates, since gamestate.Tick, removed []gamestate.ComponentID) bool
	// ImplicitStates returns, for newly created entities, the component values
	// the server leaves out because the client derives them itself.
	ImplicitStates(entities []gamestate.EntityID) map[gamestate.EntityID]gamestate.ComponentStates
}

type MapApplier interface {
	ApplyMapDataPre(data *gamestate.MapData) error
	ApplyMapDataPost(data *gamestate.MapData) error
}

type PlayerApplier interface {
	ApplyPlayerStates(players []gamestate.PlayerState) error
}

// InputPredictor replays unconfirmed client actions during prediction.
type InputPredictor interface {
	PredictInputCommand(cmd gamestate.InputCommand)
	RaiseLocalMessage(msg gamestate.PendingMessage)
}

// Simulation runs one step of the client simulation.
type Simulation interface {
	TickUpdate(period time.Duration, predicting bool)
}

// Sender delivers client to server control messages.
type Sender interface {
	SendAck(tick gamestate.Tick) error
	SendFullStateRequest(tick gamestate.Tick, missing []gamestate.EntityID) error
}

// LatencySource reports the current round trip time to the server.
type LatencySource interface {
	RTT() time.Duration
}

// Collaborators groups the outbound contracts of the manager. Only Entities is
// required; nil members are skipped.
type Collaborators struct {
	Entities   EntityApplier
	Resetter   PredictionResetter
	Maps       MapApplier
	Players    PlayerApplier
	Input      InputPredictor
	Simulation Simulation
	Sender     Sender
	Latency    LatencySource
}
