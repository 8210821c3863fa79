package world

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
)

// ResetPredicted rolls entity back to last. Components created after since
// that the server does not know about are removed, components modified after
// since are overwritten and components removed by prediction are restored.
func (w *World) ResetPredicted(id gamestate.EntityID, last gamestate.ComponentStates, since gamestate.Tick, removed []gamestate.ComponentID) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}

	changed := false
	for cid, c := range e.comps {
		serverValue, known := last[cid]
		if !known {
			if c.created > since {
				delete(e.comps, cid)
				changed = true
			}
			continue
		}
		if since == gamestate.ZeroTick || c.modified > since {
			c.value = serverValue
			c.modified = e.lastStateApplied
			changed = true
		}
	}

	for _, cid := range removed {
		if _, present := e.comps[cid]; present {
			continue
		}
		serverValue, known := last[cid]
		if !known {
			continue
		}
		e.comps[cid] = &component{value: serverValue, created: e.lastStateApplied, modified: e.lastStateApplied}
		changed = true
	}

	if changed {
		e.lastModified = e.lastStateApplied
	}
	return changed
}

// ImplicitStates returns the prototype values of the given entities, which the
// server leaves out of their first state.
func (w *World) ImplicitStates(entities []gamestate.EntityID) map[gamestate.EntityID]gamestate.ComponentStates {
	out := make(map[gamestate.EntityID]gamestate.ComponentStates, len(entities))
	for _, id := range entities {
		e, ok := w.entities[id]
		if !ok {
			continue
		}
		proto, ok := w.prototypes[e.prototype]
		if !ok {
			continue
		}
		out[id] = proto.Clone()
	}
	return out
}
