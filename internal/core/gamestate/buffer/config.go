package buffer

// Config controls buffering and selection. All fields can change at runtime
// through Buffer.SetConfig.
type Config struct {
	// TargetBufferSize is how many snapshots beyond the baseline must be
	// buffered before playback starts, and the steady-state size the client
	// aims for.
	TargetBufferSize int
	// MaxBufferSize is the number of buffered snapshots past which the client
	// gives up waiting for a missing one and requests a full state.
	MaxBufferSize int
	// Interpolation makes selection also return the snapshot after the current one.
	Interpolation bool
	// StrictDeltas panics on unresolved deltas instead of logging and skipping
	// them. Meant for debug builds and tests.
	StrictDeltas bool
	// Logging enables per-snapshot debug logs.
	Logging bool
}

func DefaultConfig() Config {
	return Config{
		TargetBufferSize: 2,
		MaxBufferSize:    512,
		Interpolation:    false,
	}
}

func (c Config) normalized() Config {
	if c.TargetBufferSize < 0 {
		c.TargetBufferSize = 0
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultConfig().MaxBufferSize
	}
	return c
}
