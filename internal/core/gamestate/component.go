package gamestate

import "fmt"

// EntityID identifies a networked entity. Client-only entities use ids the server
// never sends, so they never appear in the full representation cache.
type EntityID uint64

// ComponentID is the network id of a component kind.
type ComponentID uint16

// ComponentState is an opaque, fully resolved component payload. Its concrete
// shape belongs to the entity layer.
type ComponentState interface {
	Component() ComponentID
}

// DeltaState is a partial component payload. It can only be turned into a
// ComponentState by folding it onto a previously known full value.
type DeltaState interface {
	ComponentState
	ApplyTo(full ComponentState) (ComponentState, error)
}

// ComponentValue is either Full or Delta. The set of variants is closed;
// consumers switch over it exhaustively.
type ComponentValue interface {
	isComponentValue()
	State() ComponentState
}

// Full carries a complete component value.
type Full struct {
	Value ComponentState
}

// Delta carries a partial component value that needs a cached Full to resolve.
type Delta struct {
	Value DeltaState
}

func (Full) isComponentValue()  {}
func (Delta) isComponentValue() {}

func (f Full) State() ComponentState  { return f.Value }
func (d Delta) State() ComponentState { return d.Value }

// Resolve folds v onto base and returns the resulting full state. base may be nil
// for a Full value.
func Resolve(v ComponentValue, base ComponentState) (ComponentState, error) {
	switch value := v.(type) {
	case Full:
		return value.Value, nil
	case Delta:
		if base == nil {
			return nil, fmt.Errorf("component %d: %w", value.Value.Component(), ErrNoBaseState)
		}
		resolved, err := value.Value.ApplyTo(base)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", value.Value.Component(), err)
		}
		return resolved, nil
	default:
		return nil, fmt.Errorf("unknown component value %T", v)
	}
}

// ComponentChange is one entry of an entity state: a new value, or a removal.
type ComponentChange struct {
	ID      ComponentID
	Value   ComponentValue
	Removed bool
}

// EntityState describes the authoritative changes to a single entity.
type EntityState struct {
	ID           EntityID
	LastModified Tick
	Changes      []ComponentChange

	// NetComponents is the complete set of networked components the entity has
	// on the server. Nil when the server did not send it.
	NetComponents []ComponentID
}

// HasNetComponent reports whether id is part of the entity's NetComponents set.
func (s EntityState) HasNetComponent(id ComponentID) bool {
	for _, c := range s.NetComponents {
		if c == id {
			return true
		}
	}
	return false
}

// ComponentStates is the per-entity cache shape: component id to full state.
type ComponentStates map[ComponentID]ComponentState

// Clone returns a shallow copy of the map.
func (c ComponentStates) Clone() ComponentStates {
	out := make(ComponentStates, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
