// Package config loads the client configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server   Server   `yaml:"server"`
	Sync     Sync     `yaml:"sync"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Debug    Debug    `yaml:"debug"`
	Recorder Recorder `yaml:"recorder"`
}

type Server struct {
	// Transport is "ws" or "quic".
	Transport            string        `yaml:"transport"`
	Address              string        `yaml:"address"`
	InsecureSkipVerify   bool          `yaml:"insecure_skip_verify"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	MaxFrameSize         int           `yaml:"max_frame_size"`
	SchemaValidation     bool          `yaml:"schema_validation"`
}

// Sync holds the state synchronization settings. Every key except tick_rate
// and dirty_window is applied on reload.
type Sync struct {
	TickRate           uint32        `yaml:"tick_rate"`
	DirtyWindow        int           `yaml:"dirty_window"`
	TargetBufferSize   int           `yaml:"target_buffer_size"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	Interpolation      bool          `yaml:"interpolation"`
	InterpolationRatio float32       `yaml:"interpolation_ratio"`
	Prediction         bool          `yaml:"prediction"`
	PredictTickBias    int           `yaml:"predict_tick_bias"`
	PredictLagBias     time.Duration `yaml:"predict_lag_bias"`
	MergeThreshold     int           `yaml:"merge_threshold"`
	DetachBudget       int           `yaml:"pvs_detach_budget"`
	ResetMode          string        `yaml:"reset_mode"`
	StrictDeltas       bool          `yaml:"strict_deltas"`
	Logging            bool          `yaml:"logging"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Metrics struct {
	Namespace string `yaml:"namespace"`
}

// Debug configures the debug HTTP server. An empty Addr disables it.
type Debug struct {
	Addr string `yaml:"addr"`
}

// Recorder configures the net state recorder. An empty Path disables it.
type Recorder struct {
	Path string `yaml:"path"`
}

func Default() Config {
	mc := manager.DefaultConfig()
	return Config{
		Server: Server{
			Transport:            "ws",
			Address:              "ws://127.0.0.1:8080/sync",
			PingInterval:         time.Second,
			CompressionThreshold: 1024,
			MaxFrameSize:         4 << 20,
		},
		Sync: Sync{
			TickRate:           30,
			DirtyWindow:        64,
			TargetBufferSize:   mc.Buffer.TargetBufferSize,
			MaxBufferSize:      mc.Buffer.MaxBufferSize,
			Interpolation:      mc.Buffer.Interpolation,
			InterpolationRatio: mc.InterpolationRatio,
			Prediction:         mc.Prediction,
			PredictTickBias:    mc.PredictTickBias,
			PredictLagBias:     mc.PredictLagBias,
			MergeThreshold:     mc.MergeThreshold,
			DetachBudget:       mc.DetachBudget,
			ResetMode:          string(mc.ResetMode),
		},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Namespace: "statesync"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Server.Transport {
	case "ws", "quic":
	default:
		fail("server.transport %q must be ws or quic", c.Server.Transport)
	}
	if c.Server.Address == "" {
		fail("server.address is required")
	}
	if c.Sync.TickRate == 0 {
		fail("sync.tick_rate must be positive")
	}
	if c.Sync.DirtyWindow <= 0 {
		fail("sync.dirty_window must be positive")
	}
	if c.Sync.TargetBufferSize < 0 {
		fail("sync.target_buffer_size must not be negative")
	}
	if c.Sync.MaxBufferSize <= c.Sync.TargetBufferSize {
		fail("sync.max_buffer_size %d must exceed target_buffer_size %d", c.Sync.MaxBufferSize, c.Sync.TargetBufferSize)
	}
	if c.Sync.MergeThreshold < 0 {
		fail("sync.merge_threshold must not be negative")
	}
	switch manager.ResetMode(c.Sync.ResetMode) {
	case manager.ResetDirty, manager.ResetFull:
	default:
		fail("sync.reset_mode %q must be dirty or full", c.Sync.ResetMode)
	}
	return errors.Join(errs...)
}

// ManagerConfig maps the sync section onto the sync manager settings.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		Buffer: buffer.Config{
			TargetBufferSize: c.Sync.TargetBufferSize,
			MaxBufferSize:    c.Sync.MaxBufferSize,
			Interpolation:    c.Sync.Interpolation,
			StrictDeltas:     c.Sync.StrictDeltas,
			Logging:          c.Sync.Logging,
		},
		Prediction:         c.Sync.Prediction,
		PredictTickBias:    c.Sync.PredictTickBias,
		PredictLagBias:     c.Sync.PredictLagBias,
		MergeThreshold:     c.Sync.MergeThreshold,
		DetachBudget:       c.Sync.DetachBudget,
		ResetMode:          manager.ResetMode(c.Sync.ResetMode),
		InterpolationRatio: c.Sync.InterpolationRatio,
		Logging:            c.Sync.Logging,
	}
}

// RestartRequired lists the keys that differ between c and next but only take
// effect on restart.
func (c Config) RestartRequired(next Config) []string {
	var keys []string
	if c.Server != next.Server {
		keys = append(keys, "server")
	}
	if c.Sync.TickRate != next.Sync.TickRate {
		keys = append(keys, "sync.tick_rate")
	}
	if c.Sync.DirtyWindow != next.Sync.DirtyWindow {
		keys = append(keys, "sync.dirty_window")
	}
	if c.Metrics != next.Metrics {
		keys = append(keys, "metrics")
	}
	if c.Debug != next.Debug {
		keys = append(keys, "debug")
	}
	if c.Recorder != next.Recorder {
		keys = append(keys, "recorder")
	}
	return keys
}
