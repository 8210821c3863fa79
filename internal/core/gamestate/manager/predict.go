package manager

import (
	"math"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
)

// predictionTarget is the tick the client should be simulating so that its
// input reaches the server just in time: the last applied tick, plus the
// buffer the server keeps for us, plus the round trip in ticks, plus bias.
func (m *Manager) predictionTarget() gamestate.Tick {
	lag := m.cfg.PredictLagBias
	if m.c.Latency != nil {
		lag += m.c.Latency.RTT()
	}
	lagTicks := int(math.Ceil(float64(m.timing.TickRate) * lag.Seconds()))

	ahead := m.buffer.TargetBufferSize() + lagTicks + m.cfg.PredictTickBias
	if ahead < 0 {
		ahead = 0
	}
	return m.timing.LastProcessedTick + gamestate.Tick(ahead)
}

// PredictTicks re-simulates from the last processed tick up to target,
// replaying pending inputs and messages at the tick they were issued on, in
// sequence order. The simulation step of target itself is left to the host
// loop. It returns the number of ticks advanced.
func (m *Manager) PredictTicks(target gamestate.Tick) int {
	done := m.timing.StartPastPrediction()
	defer done()

	var (
		inputs   = m.pendingInputs
		messages = m.pendingMessages
		i, j     int
		ticks    int
		period   = m.timing.TickPeriod()
	)

	for tick := m.timing.LastProcessedTick + 1; tick <= target; tick++ {
		m.timing.CurTick = tick

		for {
			hasInput := i < inputs.Len() && inputs.At(i).Tick <= tick
			hasMessage := j < messages.Len() && messages.At(j).Tick <= tick
			if !hasInput && !hasMessage {
				break
			}
			if hasInput && (!hasMessage || inputs.At(i).Sequence < messages.At(j).Sequence) {
				if m.c.Input != nil {
					m.c.Input.PredictInputCommand(inputs.At(i))
				}
				i++
				continue
			}
			if m.c.Input != nil {
				m.c.Input.RaiseLocalMessage(messages.At(j))
			}
			j++
		}

		if tick != target && m.c.Simulation != nil {
			m.c.Simulation.TickUpdate(period, true)
		}
		ticks++
	}

	if m.cfg.Logging && ticks > 0 {
		m.logger.Debug("Predicted ticks",
			log.Tick("from", m.timing.LastProcessedTick+1),
			log.Tick("to", target),
			log.Int("inputs", i),
			log.Int("messages", j))
	}
	m.totals.predicted += uint64(ticks)
	m.metrics.TicksPredicted(ticks)
	return ticks
}

// ResetPredictedEntities rolls every entity changed during prediction back to
// its last server state. Entities without cached server state exist only on
// the client and are left alone.
func (m *Manager) ResetPredictedEntities() int {
	var candidates []gamestate.EntityID
	switch {
	case m.cfg.ResetMode == ResetFull:
		candidates = m.buffer.FullRepresentationEntities()
	case m.tracker.Lossy():
		m.logger.Warn("Prediction outran the dirty window, resetting every entity",
			log.Int("window", m.tracker.Window()),
			log.Tick("last_real_tick", m.timing.LastRealTick))
		candidates = m.buffer.FullRepresentationEntities()
	default:
		candidates = m.tracker.Query(m.timing.LastRealTick + 1)
	}

	n := m.resetEntities(candidates, m.timing.LastRealTick)
	m.tracker.Reset()
	return n
}

// ResetEntity forces entity back to its last server state, regardless of when
// it was changed.
func (m *Manager) ResetEntity(entity gamestate.EntityID) bool {
	return m.resetEntities([]gamestate.EntityID{entity}, gamestate.ZeroTick) > 0
}

// ResetAllEntities rolls back every entity with cached server state.
func (m *Manager) ResetAllEntities() int {
	n := m.resetEntities(m.buffer.FullRepresentationEntities(), m.timing.LastRealTick)
	m.tracker.Reset()
	return n
}

func (m *Manager) resetEntities(entities []gamestate.EntityID, since gamestate.Tick) int {
	if m.c.Resetter == nil || len(entities) == 0 {
		return 0
	}

	done := m.timing.StartStateApplication()
	defer done()

	n := 0
	for _, id := range entities {
		last, ok := m.buffer.LastServerState(id)
		if !ok {
			continue
		}
		if m.c.Resetter.ResetPredicted(id, last, since, m.tracker.RemovedComponents(id)) {
			n++
		}
	}

	if m.cfg.Logging && n > 0 {
		m.logger.Debug("Reset predicted entities",
			log.Int("reset", n),
			log.Int("candidates", len(entities)),
			log.Tick("since", since))
	}
	m.totals.reset += uint64(n)
	m.metrics.EntitiesReset(n)
	return n
}
