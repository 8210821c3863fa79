package protocol

import (
	"encoding/json"

	"github.com/zeusync/statesync/internal/core/gamestate"
)

// MessageType names the payload carried by an Envelope.
type MessageType string

// Server to client
const (
	TypeState    MessageType = "state"
	TypeLeavePVS MessageType = "state_leave_pvs"
	TypePong     MessageType = "pong"
)

// Client to server
const (
	TypeAck              MessageType = "state_ack"
	TypeFullStateRequest MessageType = "state_request_full"
	TypePing             MessageType = "ping"
)

// Envelope is the JSON object inside every frame.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ValueKind tags a component entry of a state message.
type ValueKind string

const (
	KindFull    ValueKind = "full"
	KindDelta   ValueKind = "delta"
	KindRemoved ValueKind = "removed"
)

type ComponentMessage struct {
	ID   gamestate.ComponentID `json:"id"`
	Kind ValueKind             `json:"kind"`
	Data json.RawMessage       `json:"data,omitempty"`
}

// EntityMessage is the wire form of gamestate.EntityState. NetComponents is
// encoded as null when the set was not sent.
type EntityMessage struct {
	ID            gamestate.EntityID      `json:"id"`
	LastModified  gamestate.Tick          `json:"last_modified"`
	Components    []ComponentMessage      `json:"components,omitempty"`
	NetComponents []gamestate.ComponentID `json:"net_components"`
}

// StateMessage is the wire form of gamestate.Snapshot. Players is null when
// the player list did not change.
type StateMessage struct {
	From               gamestate.Tick          `json:"from"`
	To                 gamestate.Tick          `json:"to"`
	Entities           []EntityMessage         `json:"entities,omitempty"`
	Deletions          []gamestate.EntityID    `json:"deletions,omitempty"`
	Players            []gamestate.PlayerState `json:"players"`
	Map                *gamestate.MapData      `json:"map,omitempty"`
	LastProcessedInput uint32                  `json:"last_input"`
}

type LeavePVSMessage struct {
	Tick     gamestate.Tick       `json:"tick"`
	Entities []gamestate.EntityID `json:"entities"`
}

type AckMessage struct {
	Tick gamestate.Tick `json:"tick"`
}

// FullStateRequestMessage asks the server for a baseline at or after Tick.
// Missing lists entities the client could not create.
type FullStateRequestMessage struct {
	Tick    gamestate.Tick       `json:"tick"`
	Missing []gamestate.EntityID `json:"missing,omitempty"`
}

// PingMessage carries the client send time in unix nanoseconds. The server
// echoes it back in a PongMessage.
type PingMessage struct {
	Seq    uint32 `json:"seq"`
	SentAt int64  `json:"sent_at"`
}

type PongMessage struct {
	Seq    uint32 `json:"seq"`
	SentAt int64  `json:"sent_at"`
}
