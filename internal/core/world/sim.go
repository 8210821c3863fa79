package world

import (
	"time"

	"github.com/zeusync/statesync/internal/core/gamestate"
)

// Input functions understood by MoveInput.
const (
	FuncMoveUp uint32 = iota + 1
	FuncMoveDown
	FuncMoveLeft
	FuncMoveRight
)

// MoveSpeed is the velocity set by a pressed movement input, in units per second.
const MoveSpeed = 4.0

// TickUpdate advances every attached entity with a position and a velocity.
func (w *World) TickUpdate(period time.Duration, _ bool) {
	dt := period.Seconds()
	for id, e := range w.entities {
		if e.detached {
			continue
		}
		vc, ok := e.comps[VelocityID]
		if !ok {
			continue
		}
		v, ok := vc.value.(Velocity)
		if !ok || (v.X == 0 && v.Y == 0) {
			continue
		}
		pc, ok := e.comps[PositionID]
		if !ok {
			continue
		}
		p, ok := pc.value.(Position)
		if !ok {
			continue
		}
		w.SetComponent(id, Position{X: p.X + v.X*dt, Y: p.Y + v.Y*dt})
	}
}

func (w *World) PredictInputCommand(cmd gamestate.InputCommand) {
	if w.onInput != nil {
		w.onInput(w, cmd)
	}
}

func (w *World) RaiseLocalMessage(msg gamestate.PendingMessage) {
	if w.onMessage != nil {
		w.onMessage(w, msg)
	}
}

// MoveInput sets the velocity of cmd.Target from directional inputs.
func MoveInput(w *World, cmd gamestate.InputCommand) {
	cur, _ := w.Component(cmd.Target, VelocityID)
	v, ok := cur.(Velocity)
	if !ok {
		return
	}

	speed := 0.0
	if cmd.Pressed {
		speed = MoveSpeed
	}
	switch cmd.Function {
	case FuncMoveUp:
		v.Y = speed
	case FuncMoveDown:
		v.Y = -speed
	case FuncMoveLeft:
		v.X = -speed
	case FuncMoveRight:
		v.X = speed
	default:
		return
	}
	w.SetComponent(cmd.Target, v)
}
