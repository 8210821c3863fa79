// Package dirty records which entities and components were touched while the
// client re-simulated ticks the server has not confirmed yet.
package dirty

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
)

// DefaultWindow bounds how many distinct predicted ticks are remembered at once.
const DefaultWindow = 256

type slot struct {
	tick     gamestate.Tick
	used     bool
	entities map[gamestate.EntityID]struct{}
}

// Tracker keeps one entity set per predicted tick in a fixed ring indexed by
// tick % window. Sets are cleared and reused, never reallocated.
type Tracker struct {
	timing  *gamestate.Timing
	slots   []slot
	removed map[gamestate.EntityID]map[gamestate.ComponentID]struct{}
	overrun int
	// lossy is set once an unconfirmed tick was evicted; Query may then miss
	// entities until Reset.
	lossy bool
}

func New(timing *gamestate.Timing, window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{
		timing:  timing,
		slots:   make([]slot, window),
		removed: make(map[gamestate.EntityID]map[gamestate.ComponentID]struct{}),
	}
	for i := range t.slots {
		t.slots[i].entities = make(map[gamestate.EntityID]struct{})
	}
	return t
}

// MarkDirty records entity under the current tick. It is a no-op outside of an
// unconfirmed predicted tick.
func (t *Tracker) MarkDirty(entity gamestate.EntityID) {
	if !t.timing.InPrediction() {
		return
	}
	tick := t.timing.CurTick
	s := &t.slots[int(tick)%len(t.slots)]
	if !s.used || s.tick != tick {
		if s.used {
			// A prediction run longer than the window evicts its own oldest
			// ticks.
			t.overrun++
			if len(s.entities) > 0 && s.tick > t.timing.LastRealTick {
				t.lossy = true
			}
		}
		clear(s.entities)
		s.tick = tick
		s.used = true
	}
	s.entities[entity] = struct{}{}
}

// MarkComponentRemoved records a predicted removal of component from entity.
// Components created after the last confirmed tick were added by prediction
// itself and need no undo.
func (t *Tracker) MarkComponentRemoved(entity gamestate.EntityID, component gamestate.ComponentID, creationTick gamestate.Tick) {
	if !t.timing.InPrediction() {
		return
	}
	if creationTick > t.timing.LastRealTick {
		return
	}
	set, ok := t.removed[entity]
	if !ok {
		set = make(map[gamestate.ComponentID]struct{})
		t.removed[entity] = set
	}
	set[component] = struct{}{}
}

// Query returns the union of entities recorded at or after fromTick.
func (t *Tracker) Query(fromTick gamestate.Tick) []gamestate.EntityID {
	seen := make(map[gamestate.EntityID]struct{})
	var out []gamestate.EntityID
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used || s.tick < fromTick {
			continue
		}
		for e := range s.entities {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// RemovedComponents returns the components of entity removed during prediction.
func (t *Tracker) RemovedComponents(entity gamestate.EntityID) []gamestate.ComponentID {
	set := t.removed[entity]
	if len(set) == 0 {
		return nil
	}
	out := make([]gamestate.ComponentID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Overruns reports how many times a predicted tick evicted an older predicted
// tick that was still recorded.
func (t *Tracker) Overruns() int {
	return t.overrun
}

// Lossy reports whether history of a tick the server has not confirmed yet was
// overwritten since the last Reset. Query is incomplete while it is set.
func (t *Tracker) Lossy() bool {
	return t.lossy
}

// Window returns the ring size.
func (t *Tracker) Window() int {
	return len(t.slots)
}

// Reset clears all history.
func (t *Tracker) Reset() {
	for i := range t.slots {
		clear(t.slots[i].entities)
		t.slots[i].used = false
		t.slots[i].tick = gamestate.ZeroTick
	}
	clear(t.removed)
	t.lossy = false
}
