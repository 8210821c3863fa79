package buffer

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
)

// QueueDetach schedules entities to be detached once tick is applied. Entries
// for the same tick are merged.
func (b *Buffer) QueueDetach(tick gamestate.Tick, entities []gamestate.EntityID) {
	if len(entities) == 0 {
		return
	}
	if entry, ok := b.detachByTick[tick]; ok {
		entry.Entities = append(entry.Entities, entities...)
		return
	}
	entry := &gamestate.DetachEntry{
		Tick:     tick,
		Entities: append([]gamestate.EntityID(nil), entities...),
	}
	b.detachByTick[tick] = entry
	b.detach.Enqueue(entry)
}

// DrainDetach returns queued entities with a tick at or before uptoTick, in
// tick order, at most budget entities in total. A tick with more entities than
// the remaining budget is split and the rest stays queued. budget <= 0 means
// no limit.
func (b *Buffer) DrainDetach(uptoTick gamestate.Tick, budget int) []gamestate.DetachEntry {
	var out []gamestate.DetachEntry
	unlimited := budget <= 0

	for unlimited || budget > 0 {
		entry, ok := b.detach.Peek()
		if !ok || entry.Tick > uptoTick {
			break
		}

		if unlimited || len(entry.Entities) <= budget {
			b.detach.Dequeue()
			delete(b.detachByTick, entry.Tick)
			out = append(out, *entry)
			budget -= len(entry.Entities)
			continue
		}

		split := len(entry.Entities) - budget
		taken := append([]gamestate.EntityID(nil), entry.Entities[split:]...)
		entry.Entities = entry.Entities[:split]
		out = append(out, gamestate.DetachEntry{Tick: entry.Tick, Entities: taken})
		break
	}
	return out
}

// PendingDetach counts queued entities.
func (b *Buffer) PendingDetach() int {
	n := 0
	for _, entry := range b.detachByTick {
		n += len(entry.Entities)
	}
	return n
}
