package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/statesync/internal/core/gamestate/manager"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  transport: quic
  address: 127.0.0.1:4433
sync:
  interpolation: true
  predict_lag_bias: 25ms
  reset_mode: full
  pvs_detach_budget: 50
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "quic", cfg.Server.Transport)
	assert.Equal(t, "127.0.0.1:4433", cfg.Server.Address)
	assert.Equal(t, time.Second, cfg.Server.PingInterval, "untouched keys keep defaults")
	assert.True(t, cfg.Sync.Interpolation)
	assert.Equal(t, 25*time.Millisecond, cfg.Sync.PredictLagBias)
	assert.Equal(t, uint32(30), cfg.Sync.TickRate)
	assert.Equal(t, "debug", cfg.Log.Level)

	mc := cfg.ManagerConfig()
	assert.Equal(t, manager.ResetFull, mc.ResetMode)
	assert.Equal(t, 50, mc.DetachBudget)
	assert.True(t, mc.Buffer.Interpolation)
	assert.Equal(t, 25*time.Millisecond, mc.PredictLagBias)
	assert.True(t, mc.Prediction)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "sync: [not, a, map]"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)

	_, err = Load(writeFile(t, "sync:\n  reset_mode: sometimes\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"transport", func(c *Config) { c.Server.Transport = "udp" }, "server.transport"},
		{"address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"tick rate", func(c *Config) { c.Sync.TickRate = 0 }, "sync.tick_rate"},
		{"dirty window", func(c *Config) { c.Sync.DirtyWindow = 0 }, "sync.dirty_window"},
		{"buffer sizes", func(c *Config) { c.Sync.MaxBufferSize = c.Sync.TargetBufferSize }, "sync.max_buffer_size"},
		{"merge threshold", func(c *Config) { c.Sync.MergeThreshold = -1 }, "sync.merge_threshold"},
		{"reset mode", func(c *Config) { c.Sync.ResetMode = "" }, "sync.reset_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Transport = "udp"
	cfg.Sync.TickRate = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.transport")
	assert.Contains(t, err.Error(), "sync.tick_rate")
}

func TestRestartRequired(t *testing.T) {
	a := Default()
	b := a
	b.Sync.Interpolation = true
	b.Sync.MergeThreshold = 9
	assert.Empty(t, a.RestartRequired(b))

	b.Sync.TickRate = 60
	b.Server.Address = "ws://elsewhere"
	b.Debug.Addr = ":6060"
	assert.Equal(t, []string{"server", "sync.tick_rate", "debug"}, a.RestartRequired(b))
}

func TestStore_Reload(t *testing.T) {
	path := writeFile(t, "sync:\n  merge_threshold: 3\n")
	s, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, 3, s.Current().Sync.MergeThreshold)

	require.NoError(t, os.WriteFile(path, []byte("sync:\n  merge_threshold: 7\n"), 0o600))
	cfg, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.MergeThreshold)
	assert.Equal(t, uint64(2), s.Version())

	require.NoError(t, os.WriteFile(path, []byte("sync:\n  merge_threshold: -4\n"), 0o600))
	cfg, err = s.Reload()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 7, cfg.Sync.MergeThreshold, "a failed reload keeps the current config")
	assert.Equal(t, 7, s.Current().Sync.MergeThreshold)
	assert.Equal(t, uint64(2), s.Version())
}
