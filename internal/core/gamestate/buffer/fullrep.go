package buffer

import (
	"fmt"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
)

// fullRepresentation is the last fully resolved server value of every
// component. Deltas that arrive before any full value for their component are
// parked on the side until implicit data resolves them; they never enter the
// cache itself.
type fullRepresentation struct {
	entities map[gamestate.EntityID]gamestate.ComponentStates
	parked   map[gamestate.EntityID]map[gamestate.ComponentID]gamestate.DeltaState
}

func newFullRepresentation() fullRepresentation {
	return fullRepresentation{
		entities: make(map[gamestate.EntityID]gamestate.ComponentStates),
		parked:   make(map[gamestate.EntityID]map[gamestate.ComponentID]gamestate.DeltaState),
	}
}

func (r *fullRepresentation) clear() {
	clear(r.entities)
	clear(r.parked)
}

func (r *fullRepresentation) entity(id gamestate.EntityID) gamestate.ComponentStates {
	comps, ok := r.entities[id]
	if !ok {
		comps = make(gamestate.ComponentStates)
		r.entities[id] = comps
	}
	return comps
}

func (r *fullRepresentation) park(id gamestate.EntityID, comp gamestate.ComponentID, d gamestate.DeltaState) {
	set, ok := r.parked[id]
	if !ok {
		set = make(map[gamestate.ComponentID]gamestate.DeltaState)
		r.parked[id] = set
	}
	set[comp] = d
}

func (r *fullRepresentation) unpark(id gamestate.EntityID, comp gamestate.ComponentID) (gamestate.DeltaState, bool) {
	set, ok := r.parked[id]
	if !ok {
		return nil, false
	}
	d, ok := set[comp]
	if !ok {
		return nil, false
	}
	delete(set, comp)
	if len(set) == 0 {
		delete(r.parked, id)
	}
	return d, true
}

// UpdateFullRepresentation folds s into the component cache. A baseline
// replaces the cache, a delta updates it entity by entity.
func (b *Buffer) UpdateFullRepresentation(s *gamestate.Snapshot) {
	rep := &b.fullRep
	if s.IsBaseline() {
		rep.clear()
	} else {
		for _, id := range s.EntityDeletions {
			delete(rep.entities, id)
			delete(rep.parked, id)
		}
	}

	for _, es := range s.EntityStates {
		comps := rep.entity(es.ID)

		for _, change := range es.Changes {
			if change.Removed {
				delete(comps, change.ID)
				rep.unpark(es.ID, change.ID)
				continue
			}

			switch v := change.Value.(type) {
			case gamestate.Full:
				comps[change.ID] = v.Value
				rep.unpark(es.ID, change.ID)
			case gamestate.Delta:
				base, ok := comps[change.ID]
				if !ok {
					// Usually a newly created entity: the server only sends what
					// differs from the prototype. Resolved by MergeImplicitData.
					rep.park(es.ID, change.ID, v.Value)
					continue
				}
				resolved, err := v.Value.ApplyTo(base)
				if err != nil {
					b.malformed(es.ID, change.ID, err)
					continue
				}
				comps[change.ID] = resolved
			default:
				b.malformed(es.ID, change.ID, fmt.Errorf("unexpected component value %T", change.Value))
			}
		}

		if es.NetComponents == nil {
			continue
		}
		for id := range comps {
			if !es.HasNetComponent(id) {
				delete(comps, id)
			}
		}
		for id := range rep.parked[es.ID] {
			if !es.HasNetComponent(id) {
				rep.unpark(es.ID, id)
			}
		}
	}
}

// MergeImplicitData fills in a component value the server omitted because the
// client can infer it, typically prototype defaults of a new entity. Server
// data already in the cache wins. A parked delta for the component is folded
// onto value first.
func (b *Buffer) MergeImplicitData(entity gamestate.EntityID, component gamestate.ComponentID, value gamestate.ComponentState) {
	comps := b.fullRep.entity(entity)
	if _, ok := comps[component]; ok {
		return
	}

	if d, ok := b.fullRep.unpark(entity, component); ok {
		resolved, err := d.ApplyTo(value)
		if err != nil {
			b.malformed(entity, component, err)
			comps[component] = value
			return
		}
		comps[component] = resolved
		return
	}
	comps[component] = value
}

// MergeImplicitStates is MergeImplicitData for many entities at once.
func (b *Buffer) MergeImplicitStates(data map[gamestate.EntityID]gamestate.ComponentStates) {
	for entity, comps := range data {
		for id, value := range comps {
			b.MergeImplicitData(entity, id, value)
		}
	}
}

// DropUnresolved discards deltas that are still parked and reports how many
// were dropped. Called once implicit data had its chance to resolve them.
func (b *Buffer) DropUnresolved() int {
	n := 0
	for entity, set := range b.fullRep.parked {
		for comp := range set {
			b.malformed(entity, comp, gamestate.ErrNoBaseState)
			n++
		}
	}
	clear(b.fullRep.parked)
	return n
}

func (b *Buffer) malformed(entity gamestate.EntityID, component gamestate.ComponentID, cause error) {
	if b.cfg.StrictDeltas {
		panic(fmt.Errorf("%w: entity %d component %d: %v", ErrMalformedDelta, entity, component, cause))
	}
	b.logger.Warn("Skipping unresolvable component delta",
		log.Uint64("entity", uint64(entity)),
		log.Int("component", int(component)),
		log.Error(cause))
}

// LastServerState returns the cached server components of entity. The map is
// owned by the buffer and must not be modified.
func (b *Buffer) LastServerState(entity gamestate.EntityID) (gamestate.ComponentStates, bool) {
	comps, ok := b.fullRep.entities[entity]
	return comps, ok
}

// CachedComponent returns one cached component value.
func (b *Buffer) CachedComponent(entity gamestate.EntityID, component gamestate.ComponentID) (gamestate.ComponentState, bool) {
	comps, ok := b.fullRep.entities[entity]
	if !ok {
		return nil, false
	}
	v, ok := comps[component]
	return v, ok
}

// FullRepresentationEntities lists every entity with cached server state.
func (b *Buffer) FullRepresentationEntities() []gamestate.EntityID {
	out := make([]gamestate.EntityID, 0, len(b.fullRep.entities))
	for id := range b.fullRep.entities {
		out = append(out, id)
	}
	return out
}

// FullRepresentationSnapshot copies the whole cache.
func (b *Buffer) FullRepresentationSnapshot() map[gamestate.EntityID]gamestate.ComponentStates {
	out := make(map[gamestate.EntityID]gamestate.ComponentStates, len(b.fullRep.entities))
	for id, comps := range b.fullRep.entities {
		out[id] = comps.Clone()
	}
	return out
}
