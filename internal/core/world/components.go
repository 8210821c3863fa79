package world

import (
	"fmt"

	"github.com/zeusync/statesync/internal/core/gamestate"
)

// Network ids of the built-in components.
const (
	MetadataID gamestate.ComponentID = iota + 1
	PositionID
	VelocityID
)

// Metadata names the prototype an entity is created from. The server must send
// it with the first state of every entity.
type Metadata struct {
	Prototype string `json:"prototype"`
	Name      string `json:"name,omitempty"`
}

func (Metadata) Component() gamestate.ComponentID { return MetadataID }

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Component() gamestate.ComponentID { return PositionID }

// PositionDelta moves a known Position.
type PositionDelta struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (PositionDelta) Component() gamestate.ComponentID { return PositionID }

func (d PositionDelta) ApplyTo(full gamestate.ComponentState) (gamestate.ComponentState, error) {
	p, ok := full.(Position)
	if !ok {
		return nil, fmt.Errorf("position delta onto %T: %w", full, gamestate.ErrStateMismatch)
	}
	return Position{X: p.X + d.DX, Y: p.Y + d.DY}, nil
}

type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Velocity) Component() gamestate.ComponentID { return VelocityID }

// DefaultPrototypes returns the prototypes known to the demo client.
func DefaultPrototypes() map[string]gamestate.ComponentStates {
	return map[string]gamestate.ComponentStates{
		"player": {
			PositionID: Position{},
			VelocityID: Velocity{},
		},
		"crate": {
			PositionID: Position{},
		},
	}
}
