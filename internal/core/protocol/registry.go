package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeusync/statesync/internal/core/gamestate"
)

type registration struct {
	full  func(json.RawMessage) (gamestate.ComponentState, error)
	delta func(json.RawMessage) (gamestate.DeltaState, error)
}

// Registry maps component network ids to their concrete payload types.
type Registry struct {
	mu      sync.RWMutex
	entries map[gamestate.ComponentID]*registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[gamestate.ComponentID]*registration)}
}

// RegisterFull registers T as the full payload of component id.
func RegisterFull[T gamestate.ComponentState](r *Registry, id gamestate.ComponentID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(id).full = func(data json.RawMessage) (gamestate.ComponentState, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		if v.Component() != id {
			return nil, fmt.Errorf("%T is component %d, not %d: %w", v, v.Component(), id, ErrInvalidComponent)
		}
		return v, nil
	}
}

// RegisterDelta registers T as the delta payload of component id.
func RegisterDelta[T gamestate.DeltaState](r *Registry, id gamestate.ComponentID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(id).delta = func(data json.RawMessage) (gamestate.DeltaState, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		if v.Component() != id {
			return nil, fmt.Errorf("%T is component %d, not %d: %w", v, v.Component(), id, ErrInvalidComponent)
		}
		return v, nil
	}
}

func (r *Registry) entry(id gamestate.ComponentID) *registration {
	e, ok := r.entries[id]
	if !ok {
		e = &registration{}
		r.entries[id] = e
	}
	return e
}

// Known reports whether a full payload is registered for id.
func (r *Registry) Known(id gamestate.ComponentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.full != nil
}

// DecodeChange turns a wire component entry into a ComponentChange.
func (r *Registry) DecodeChange(m ComponentMessage) (gamestate.ComponentChange, error) {
	if m.Kind == KindRemoved {
		return gamestate.ComponentChange{ID: m.ID, Removed: true}, nil
	}

	r.mu.RLock()
	e, ok := r.entries[m.ID]
	r.mu.RUnlock()
	if !ok {
		return gamestate.ComponentChange{}, fmt.Errorf("component %d: %w", m.ID, ErrUnknownComponent)
	}

	switch m.Kind {
	case KindFull:
		if e.full == nil {
			return gamestate.ComponentChange{}, fmt.Errorf("component %d has no full payload: %w", m.ID, ErrUnknownComponent)
		}
		v, err := e.full(m.Data)
		if err != nil {
			return gamestate.ComponentChange{}, fmt.Errorf("decode component %d: %w", m.ID, err)
		}
		return gamestate.ComponentChange{ID: m.ID, Value: gamestate.Full{Value: v}}, nil
	case KindDelta:
		if e.delta == nil {
			return gamestate.ComponentChange{}, fmt.Errorf("component %d has no delta payload: %w", m.ID, ErrUnknownComponent)
		}
		v, err := e.delta(m.Data)
		if err != nil {
			return gamestate.ComponentChange{}, fmt.Errorf("decode component %d delta: %w", m.ID, err)
		}
		return gamestate.ComponentChange{ID: m.ID, Value: gamestate.Delta{Value: v}}, nil
	default:
		return gamestate.ComponentChange{}, fmt.Errorf("component %d kind %q: %w", m.ID, m.Kind, ErrInvalidComponent)
	}
}

// EncodeChange is the inverse of DecodeChange.
func (r *Registry) EncodeChange(c gamestate.ComponentChange) (ComponentMessage, error) {
	if c.Removed {
		return ComponentMessage{ID: c.ID, Kind: KindRemoved}, nil
	}
	if !r.Known(c.ID) {
		return ComponentMessage{}, fmt.Errorf("component %d: %w", c.ID, ErrUnknownComponent)
	}

	var kind ValueKind
	switch c.Value.(type) {
	case gamestate.Full:
		kind = KindFull
	case gamestate.Delta:
		kind = KindDelta
	default:
		return ComponentMessage{}, fmt.Errorf("component %d value %T: %w", c.ID, c.Value, ErrInvalidComponent)
	}

	data, err := json.Marshal(c.Value.State())
	if err != nil {
		return ComponentMessage{}, fmt.Errorf("encode component %d: %w", c.ID, err)
	}
	return ComponentMessage{ID: c.ID, Kind: kind, Data: data}, nil
}

// Snapshot converts a decoded state message. size is the encoded frame length.
func (r *Registry) Snapshot(m *StateMessage, size int) (*gamestate.Snapshot, error) {
	if m.To <= m.From {
		return nil, fmt.Errorf("state %d..%d: %w", m.From, m.To, ErrInvalidEnvelope)
	}

	s := &gamestate.Snapshot{
		FromTick:           m.From,
		ToTick:             m.To,
		EntityDeletions:    m.Deletions,
		PlayerStates:       m.Players,
		MapData:            m.Map,
		LastProcessedInput: m.LastProcessedInput,
		PayloadSize:        size,
	}

	if len(m.Entities) > 0 {
		s.EntityStates = make([]gamestate.EntityState, 0, len(m.Entities))
	}
	for _, em := range m.Entities {
		es := gamestate.EntityState{
			ID:            em.ID,
			LastModified:  em.LastModified,
			NetComponents: em.NetComponents,
		}
		for _, cm := range em.Components {
			change, err := r.DecodeChange(cm)
			if err != nil {
				return nil, fmt.Errorf("entity %d: %w", em.ID, err)
			}
			es.Changes = append(es.Changes, change)
		}
		s.EntityStates = append(s.EntityStates, es)
	}
	return s, nil
}

// StateMessage converts a snapshot to its wire form.
func (r *Registry) StateMessage(s *gamestate.Snapshot) (*StateMessage, error) {
	m := &StateMessage{
		From:               s.FromTick,
		To:                 s.ToTick,
		Deletions:          s.EntityDeletions,
		Players:            s.PlayerStates,
		Map:                s.MapData,
		LastProcessedInput: s.LastProcessedInput,
	}
	for _, es := range s.EntityStates {
		em := EntityMessage{
			ID:            es.ID,
			LastModified:  es.LastModified,
			NetComponents: es.NetComponents,
		}
		for _, c := range es.Changes {
			cm, err := r.EncodeChange(c)
			if err != nil {
				return nil, fmt.Errorf("entity %d: %w", es.ID, err)
			}
			em.Components = append(em.Components, cm)
		}
		m.Entities = append(m.Entities, em)
	}
	return m, nil
}
