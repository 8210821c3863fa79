package world

import (
	"fmt"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
)

// ApplyEntityStates writes cur into the world. A baseline removes every entity
// it does not mention, client-only entities included, and rebuilds the ones it
// does from their prototype so nothing predicted survives it.
func (w *World) ApplyEntityStates(cur, next *gamestate.Snapshot) ([]gamestate.EntityID, error) {
	tick := cur.ToTick

	if cur.IsBaseline() {
		keep := make(map[gamestate.EntityID]struct{}, len(cur.EntityStates))
		for _, es := range cur.EntityStates {
			keep[es.ID] = struct{}{}
		}
		for id, e := range w.entities {
			if _, ok := keep[id]; !ok {
				delete(w.entities, id)
				continue
			}
			w.entities[id] = w.rebuild(e, tick)
		}
	}

	for _, id := range cur.EntityDeletions {
		delete(w.entities, id)
	}

	var created []gamestate.EntityID
	for _, es := range cur.EntityStates {
		e, exists := w.entities[es.ID]
		if !exists {
			meta, ok := metadataOf(es)
			if !ok {
				return created, &gamestate.MissingMetadataError{Entity: es.ID}
			}
			e = w.instantiate(es.ID, meta.Prototype, tick)
			w.entities[es.ID] = e
			created = append(created, es.ID)
		}

		if err := w.applyEntity(e, es, tick); err != nil {
			return created, err
		}
		e.next = nil
	}

	if next != nil {
		for _, es := range next.EntityStates {
			e, ok := w.entities[es.ID]
			if !ok {
				continue
			}
			for _, change := range es.Changes {
				if f, isFull := change.Value.(gamestate.Full); isFull && !change.Removed {
					if e.next == nil {
						e.next = make(gamestate.ComponentStates)
					}
					e.next[change.ID] = f.Value
				}
			}
		}
	}
	return created, nil
}

func (w *World) applyEntity(e *entity, es gamestate.EntityState, tick gamestate.Tick) error {
	for _, change := range es.Changes {
		if change.Removed {
			delete(e.comps, change.ID)
			continue
		}

		c, exists := e.comps[change.ID]
		var base gamestate.ComponentState
		if exists {
			base = c.value
		}
		value, err := gamestate.Resolve(change.Value, base)
		if err != nil {
			return fmt.Errorf("entity %d: %w", e.id, err)
		}

		if exists {
			c.value = value
			c.modified = tick
		} else {
			e.comps[change.ID] = &component{value: value, created: tick, modified: tick}
		}
	}

	if es.NetComponents != nil {
		for cid := range e.comps {
			if !es.HasNetComponent(cid) {
				delete(e.comps, cid)
			}
		}
	}

	e.lastModified = tick
	e.lastStateApplied = tick
	e.detached = false
	return nil
}

// rebuild returns a fresh instance of e's prototype. Metadata is carried over,
// a baseline need not repeat it.
func (w *World) rebuild(e *entity, tick gamestate.Tick) *entity {
	fresh := w.instantiate(e.id, e.prototype, tick)
	if meta, ok := e.comps[MetadataID]; ok {
		fresh.comps[MetadataID] = &component{value: meta.value, created: tick, modified: tick}
	}
	return fresh
}

func metadataOf(es gamestate.EntityState) (Metadata, bool) {
	for _, change := range es.Changes {
		if change.ID != MetadataID || change.Removed {
			continue
		}
		if f, ok := change.Value.(gamestate.Full); ok {
			meta, ok := f.Value.(Metadata)
			return meta, ok
		}
	}
	return Metadata{}, false
}

// DetachEntities hides entities that left the PVS. An entity that received a
// state after the departure tick came back into view and stays attached.
func (w *World) DetachEntities(entries []gamestate.DetachEntry) {
	for _, entry := range entries {
		for _, id := range entry.Entities {
			e, ok := w.entities[id]
			if !ok || e.lastStateApplied > entry.Tick {
				continue
			}
			e.detached = true
		}
	}
}

func (w *World) ApplyPlayerStates(players []gamestate.PlayerState) error {
	clear(w.players)
	for _, p := range players {
		w.players[p.SessionID] = p
	}
	return nil
}

// ApplyMapDataPre creates new maps before entities that live on them arrive.
func (w *World) ApplyMapDataPre(data *gamestate.MapData) error {
	for _, id := range data.Created {
		if _, ok := w.maps[id]; !ok {
			w.maps[id] = make(map[uint32][]byte)
		}
	}
	for _, g := range data.Grids {
		m, ok := w.maps[g.Map]
		if !ok {
			return fmt.Errorf("grid %d on unknown map %d", g.Grid, g.Map)
		}
		m[g.Grid] = g.Payload
	}
	return nil
}

// ApplyMapDataPost deletes maps once entities on them are gone.
func (w *World) ApplyMapDataPost(data *gamestate.MapData) error {
	for _, id := range data.Deleted {
		delete(w.maps, id)
		w.logger.Debug("Map deleted", log.Uint64("map", uint64(id)))
	}
	return nil
}
