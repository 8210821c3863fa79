package manager

import (
	"errors"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/observability/metrics"
)

// timingAdjustmentGain converts buffer size error into a tick rate correction.
const timingAdjustmentGain = 0.10

// Tick runs one frame of the synchronization loop: drain the inbox, apply as
// many buffered snapshots as allowed, acknowledge, trim confirmed input and
// predict ahead. It returns the number of snapshots applied. Errors are
// reported after the frame has recovered; they are never fatal.
func (m *Manager) Tick() (int, error) {
	m.drainInbox()

	applied, err := m.applyStates()

	m.sendAck()
	m.updateTimingAdjustment()

	if applied == 0 {
		if detached := m.drainDetach(m.timing.LastRealTick); len(detached) > 0 {
			m.c.Entities.DetachEntities(detached)
		}
		m.publishStats()
		return 0, err
	}

	m.trimPending()

	if m.cfg.Prediction {
		m.PredictTicks(m.predictionTarget())
	}

	m.publishStats()
	return applied, err
}

func (m *Manager) applyStates() (int, error) {
	target := m.buffer.TargetBufferSize()
	steps := max(1, m.buffer.Len()-target-m.cfg.MergeThreshold)
	targetProcessed := m.timing.LastProcessedTick + gamestate.Tick(steps)

	// Ticks skipped over a gap last frame are walked again from the last
	// confirmed tick.
	m.timing.LastProcessedTick = m.timing.LastRealTick

	applied := 0
	for m.timing.LastProcessedTick < targetProcessed {
		sel, ok := m.buffer.SelectSnapshotsForTick(m.timing.LastProcessedTick + 1)
		if !ok {
			if m.cfg.Logging {
				m.logger.Debug("No applicable state",
					log.Tick("tick", m.timing.LastProcessedTick+1),
					log.Int("buffered", m.buffer.Len()))
			}
			break
		}
		if sel.Current == nil {
			m.timing.LastProcessedTick++
			continue
		}

		if applied == 0 && m.cfg.Prediction {
			m.ResetPredictedEntities()
		}

		cur := sel.Current
		if sel.Bootstrap {
			m.timing.LastProcessedTick = cur.ToTick
			m.tracker.Reset()
		} else {
			m.timing.LastProcessedTick++
		}
		m.timing.CurTick = m.timing.LastProcessedTick
		m.timing.LastRealTick = m.timing.LastProcessedTick

		m.buffer.UpdateFullRepresentation(cur)

		next := sel.Next
		if m.timing.LastProcessedTick < targetProcessed {
			// Interpolation only matters for the last state of the frame.
			next = nil
		}

		event, err := m.applyState(cur, next)
		if err != nil {
			var missing *gamestate.MissingMetadataError
			if errors.As(err, &missing) {
				m.logger.Warn("Server state references an entity without metadata",
					log.Uint64("entity", uint64(missing.Entity)),
					log.Tick("tick", cur.ToTick))
				m.requestFullState(metrics.ResyncMissingMetadata, []gamestate.EntityID{missing.Entity})
				return applied, nil
			}
			m.logger.Error("Failed to apply server state", log.Tick("tick", cur.ToTick), log.Error(err))
			m.requestFullState(metrics.ResyncManual, nil)
			return applied, err
		}
		event.Bootstrap = sel.Bootstrap

		if cur.LastProcessedInput > m.lastProcessedInput {
			m.lastProcessedInput = cur.LastProcessedInput
		}

		applied++
		m.totals.applied++
		m.metrics.StatesApplied(1)

		if err = m.applied.Publish(event); err != nil {
			m.logger.Warn("State applied subscriber failed", log.Tick("tick", cur.ToTick), log.Error(err))
		}
	}

	m.metrics.BufferSize(m.buffer.Len())
	return applied, nil
}

func (m *Manager) applyState(cur, next *gamestate.Snapshot) (StateApplied, error) {
	done := m.timing.StartStateApplication()
	defer done()

	if m.cfg.Logging {
		m.logger.Debug("Applying state",
			log.Tick("from", cur.FromTick),
			log.Tick("to", cur.ToTick),
			log.Int("entities", len(cur.EntityStates)),
			log.Int("deletions", len(cur.EntityDeletions)))
	}

	if cur.MapData != nil && m.c.Maps != nil {
		if err := m.c.Maps.ApplyMapDataPre(cur.MapData); err != nil {
			return StateApplied{}, wrapApply("map data", cur.ToTick, err)
		}
	}

	created, err := m.c.Entities.ApplyEntityStates(cur, next)
	if err != nil {
		return StateApplied{}, wrapApply("entity states", cur.ToTick, err)
	}

	implicit := created
	if cur.IsBaseline() {
		// The baseline replaced the cache, surviving entities need their
		// prototype data merged again too.
		implicit = make([]gamestate.EntityID, 0, len(cur.EntityStates))
		for _, es := range cur.EntityStates {
			implicit = append(implicit, es.ID)
		}
	}
	if len(implicit) > 0 && m.c.Resetter != nil {
		m.buffer.MergeImplicitStates(m.c.Resetter.ImplicitStates(implicit))
	}
	if n := m.buffer.DropUnresolved(); n > 0 {
		m.logger.Warn("Dropped unresolved component deltas", log.Int("count", n), log.Tick("tick", cur.ToTick))
	}

	if cur.PlayerStates != nil && m.c.Players != nil {
		if err = m.c.Players.ApplyPlayerStates(cur.PlayerStates); err != nil {
			return StateApplied{}, wrapApply("player states", cur.ToTick, err)
		}
	}

	if cur.MapData != nil && m.c.Maps != nil {
		if err = m.c.Maps.ApplyMapDataPost(cur.MapData); err != nil {
			return StateApplied{}, wrapApply("map data", cur.ToTick, err)
		}
	}

	detached := m.drainDetach(cur.ToTick)
	if len(detached) > 0 {
		m.c.Entities.DetachEntities(detached)
	}

	return StateApplied{Snapshot: cur, Created: created, Detached: detached}, nil
}

func (m *Manager) drainDetach(upto gamestate.Tick) []gamestate.DetachEntry {
	return m.buffer.DrainDetach(upto, m.cfg.DetachBudget)
}

// sendAck acknowledges the highest received snapshot whenever anything
// arrived since the last ack, including snapshots that were rejected as late.
func (m *Manager) sendAck() {
	if !m.receivedSinceAck {
		return
	}
	m.receivedSinceAck = false

	tick := m.buffer.HighestReceivedTick()
	if tick == gamestate.ZeroTick || m.c.Sender == nil {
		return
	}
	if err := m.c.Sender.SendAck(tick); err != nil {
		m.logger.Warn("Failed to acknowledge state", log.Tick("tick", tick), log.Error(err))
	}
}

func (m *Manager) updateTimingAdjustment() {
	if m.buffer.AwaitingBaseline() {
		m.timing.TickTimingAdjustment = 0
	} else {
		available := m.buffer.ApplicableStateCount(m.timing.LastRealTick)
		m.timing.TickTimingAdjustment = float32(available-m.buffer.TargetBufferSize()) * timingAdjustmentGain
	}
	m.metrics.TickAdjustment(m.timing.TickTimingAdjustment)
}

// Simulate runs the host loop's own simulation step for CurTick and then
// advances the clock by one tick. With prediction enabled the step counts as
// predicted, so the dirty tracker sees its changes.
func (m *Manager) Simulate() {
	if m.c.Simulation != nil {
		period := m.timing.TickPeriod()
		if m.cfg.Prediction {
			done := m.timing.StartPastPrediction()
			m.c.Simulation.TickUpdate(period, true)
			done()
		} else {
			m.c.Simulation.TickUpdate(period, false)
		}
	}
	m.timing.CurTick++
}
