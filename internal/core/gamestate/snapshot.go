package gamestate

// Snapshot is an authoritative description of the world change between two
// ticks. FromTick == ZeroTick marks a baseline; anything else is a delta
// relative to FromTick.
type Snapshot struct {
	FromTick Tick
	ToTick   Tick

	EntityStates    []EntityState
	EntityDeletions []EntityID

	// PlayerStates is nil when the player list did not change.
	PlayerStates []PlayerState
	// MapData is nil when no map changed.
	MapData *MapData

	// LastProcessedInput is the highest input sequence the server had processed
	// when it produced this snapshot.
	LastProcessedInput uint32

	// PayloadSize is the encoded size in bytes, for diagnostics.
	PayloadSize int
}

// IsBaseline reports whether the snapshot has no prior dependency.
func (s *Snapshot) IsBaseline() bool {
	return s.FromTick == ZeroTick
}

// Entity returns the state for id, if the snapshot carries one.
func (s *Snapshot) Entity(id EntityID) (EntityState, bool) {
	for _, es := range s.EntityStates {
		if es.ID == id {
			return es, true
		}
	}
	return EntityState{}, false
}

// PlayerState is the server view of one player session.
type PlayerState struct {
	SessionID        string   `json:"session_id"`
	Name             string   `json:"name"`
	ControlledEntity EntityID `json:"controlled_entity,omitempty"`
	Ping             uint16   `json:"ping"`
	Status           string   `json:"status"`
}

// MapID identifies a map.
type MapID uint32

// GridState is an opaque blob of tile data for one grid of a map.
type GridState struct {
	Grid    uint32 `json:"grid"`
	Map     MapID  `json:"map"`
	Payload []byte `json:"payload"`
}

// MapData describes map creations, deletions and grid changes.
type MapData struct {
	Created []MapID     `json:"created,omitempty"`
	Deleted []MapID     `json:"deleted,omitempty"`
	Grids   []GridState `json:"grids,omitempty"`
}

// LeavePVS notifies the client that entities left its potentially visible set
// at Tick.
type LeavePVS struct {
	Tick     Tick
	Entities []EntityID
}

// DetachEntry is a batch of entities to detach once Tick is confirmed.
type DetachEntry struct {
	Tick     Tick
	Entities []EntityID
}
