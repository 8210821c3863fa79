package manager

import (
	"time"

	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
)

// ResetMode selects which entities are rolled back before server data is applied.
type ResetMode string

const (
	// ResetDirty only visits entities the dirty tracker saw change during
	// prediction. It behaves like ResetFull when the tracker lost history.
	ResetDirty ResetMode = "dirty"
	// ResetFull visits every entity with cached server state.
	ResetFull ResetMode = "full"
)

type Config struct {
	Buffer buffer.Config

	// Prediction enables input replay ahead of the server.
	Prediction bool
	// PredictTickBias is added to the number of ticks predicted ahead.
	PredictTickBias int
	// PredictLagBias is added to the round trip time when converting latency
	// into ticks.
	PredictLagBias time.Duration
	// MergeThreshold is how far the buffer may grow past its target before
	// several states are applied in one frame.
	MergeThreshold int
	// DetachBudget caps how many PVS departures are processed per applied
	// state. Zero or less means no limit.
	DetachBudget int
	ResetMode    ResetMode
	// InterpolationRatio is passed to the host through StateApplied.
	InterpolationRatio float32
	// Logging enables per-tick debug logs.
	Logging bool
}

func DefaultConfig() Config {
	return Config{
		Buffer:             buffer.DefaultConfig(),
		Prediction:         true,
		PredictTickBias:    1,
		PredictLagBias:     0,
		MergeThreshold:     5,
		DetachBudget:       500,
		ResetMode:          ResetDirty,
		InterpolationRatio: 1,
	}
}

func (c Config) normalized() Config {
	if c.MergeThreshold < 0 {
		c.MergeThreshold = 0
	}
	switch c.ResetMode {
	case ResetDirty, ResetFull:
	default:
		c.ResetMode = ResetDirty
	}
	return c
}
