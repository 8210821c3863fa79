// Package world is an in-memory entity store that implements the collaborator
// contracts of the sync manager. It is the reference client simulation used
// by cmd/client and the end-to-end tests.
package world

import (
	"sort"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/dirty"
	"github.com/zeusync/statesync/internal/core/observability/log"
)

type component struct {
	value    gamestate.ComponentState
	created  gamestate.Tick
	modified gamestate.Tick
}

type entity struct {
	id        gamestate.EntityID
	prototype string
	comps     map[gamestate.ComponentID]*component

	lastModified     gamestate.Tick
	lastStateApplied gamestate.Tick
	detached         bool

	// next holds full values from the following snapshot, for interpolation.
	next gamestate.ComponentStates
}

// InputHandler applies one input command to the world.
type InputHandler func(w *World, cmd gamestate.InputCommand)

// MessageHandler applies one local system message to the world.
type MessageHandler func(w *World, msg gamestate.PendingMessage)

// World is owned by the simulation goroutine and is not safe for concurrent use.
type World struct {
	timing     *gamestate.Timing
	tracker    *dirty.Tracker
	logger     log.Log
	prototypes map[string]gamestate.ComponentStates

	entities map[gamestate.EntityID]*entity
	players  map[string]gamestate.PlayerState
	maps     map[gamestate.MapID]map[uint32][]byte

	onInput   InputHandler
	onMessage MessageHandler
}

func New(timing *gamestate.Timing, tracker *dirty.Tracker, prototypes map[string]gamestate.ComponentStates, logger log.Log) *World {
	if prototypes == nil {
		prototypes = DefaultPrototypes()
	}
	return &World{
		timing:     timing,
		tracker:    tracker,
		logger:     log.OrNop(logger).With(log.String("component", "world")),
		prototypes: prototypes,
		entities:   make(map[gamestate.EntityID]*entity),
		players:    make(map[string]gamestate.PlayerState),
		maps:       make(map[gamestate.MapID]map[uint32][]byte),
		onInput:    MoveInput,
	}
}

func (w *World) SetInputHandler(h InputHandler) {
	w.onInput = h
}

func (w *World) SetMessageHandler(h MessageHandler) {
	w.onMessage = h
}

// Len returns the number of entities, detached ones included.
func (w *World) Len() int {
	return len(w.entities)
}

func (w *World) Exists(id gamestate.EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// Detached reports whether id is hidden after leaving the PVS.
func (w *World) Detached(id gamestate.EntityID) bool {
	e, ok := w.entities[id]
	return ok && e.detached
}

// Entities lists entity ids in ascending order.
func (w *World) Entities() []gamestate.EntityID {
	out := make([]gamestate.EntityID, 0, len(w.entities))
	for id := range w.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) Component(id gamestate.EntityID, comp gamestate.ComponentID) (gamestate.ComponentState, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	c, ok := e.comps[comp]
	if !ok {
		return nil, false
	}
	return c.value, true
}

// Components copies the current component values of id.
func (w *World) Components(id gamestate.EntityID) (gamestate.ComponentStates, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	out := make(gamestate.ComponentStates, len(e.comps))
	for cid, c := range e.comps {
		out[cid] = c.value
	}
	return out, true
}

// Next returns the interpolation target of a component, if the last applied
// snapshot came with one.
func (w *World) Next(id gamestate.EntityID, comp gamestate.ComponentID) (gamestate.ComponentState, bool) {
	e, ok := w.entities[id]
	if !ok || e.next == nil {
		return nil, false
	}
	v, ok := e.next[comp]
	return v, ok
}

// SetComponent writes a component from simulation code. During prediction the
// change is recorded for rollback.
func (w *World) SetComponent(id gamestate.EntityID, value gamestate.ComponentState) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	tick := w.timing.CurTick
	cid := value.Component()
	if c, exists := e.comps[cid]; exists {
		c.value = value
		c.modified = tick
	} else {
		e.comps[cid] = &component{value: value, created: tick, modified: tick}
	}
	e.lastModified = tick
	w.tracker.MarkDirty(id)
	return true
}

// RemoveComponent removes a component from simulation code.
func (w *World) RemoveComponent(id gamestate.EntityID, comp gamestate.ComponentID) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	c, ok := e.comps[comp]
	if !ok {
		return false
	}
	delete(e.comps, comp)
	e.lastModified = w.timing.CurTick
	w.tracker.MarkComponentRemoved(id, comp, c.created)
	w.tracker.MarkDirty(id)
	return true
}

// Spawn creates a client-only entity. Client ids must not collide with server
// ids; the server never sends them, so they are never rolled back.
func (w *World) Spawn(id gamestate.EntityID, prototype string) bool {
	if _, exists := w.entities[id]; exists {
		return false
	}
	e := w.instantiate(id, prototype, w.timing.CurTick)
	w.entities[id] = e
	return true
}

func (w *World) instantiate(id gamestate.EntityID, prototype string, tick gamestate.Tick) *entity {
	e := &entity{
		id:           id,
		prototype:    prototype,
		comps:        make(map[gamestate.ComponentID]*component),
		lastModified: tick,
	}
	for cid, v := range w.prototypes[prototype] {
		e.comps[cid] = &component{value: v, created: tick, modified: tick}
	}
	return e
}

func (w *World) Players() []gamestate.PlayerState {
	out := make([]gamestate.PlayerState, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (w *World) Maps() []gamestate.MapID {
	out := make([]gamestate.MapID, 0, len(w.maps))
	for id := range w.maps {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grid returns the tile payload of one grid.
func (w *World) Grid(mapID gamestate.MapID, grid uint32) ([]byte, bool) {
	m, ok := w.maps[mapID]
	if !ok {
		return nil, false
	}
	data, ok := m[grid]
	return data, ok
}
