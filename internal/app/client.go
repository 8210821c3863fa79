// Package app assembles the sync client and runs its frame loop.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/statesync/internal/config"
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/world"
	"github.com/zeusync/statesync/internal/diag/httpdebug"
	"github.com/zeusync/statesync/internal/transport"
	"github.com/zeusync/statesync/pkg/sequence"
)

// Conn is a connected client transport.
type Conn interface {
	manager.Sender
	manager.LatencySource
	Run(ctx context.Context) error
	Stats() transport.Stats
	Close() error
}

// InputSource returns the local input issued on tick.
type InputSource func(tick gamestate.Tick) []gamestate.InputCommand

// Client runs the simulation goroutine. Only Run, Reload and Command may be
// called from other goroutines.
type Client struct {
	store   *config.Store
	startup config.Config
	logger  *log.Logger
	timing  *gamestate.Timing
	world   *world.World
	manager *manager.Manager
	conn    Conn
	debug   *httpdebug.Server

	commands *sequence.Mailbox[httpdebug.Command]
	input    InputSource
	version  uint64
}

func NewClient(
	store *config.Store,
	cfg config.Config,
	logger *log.Logger,
	timing *gamestate.Timing,
	w *world.World,
	m *manager.Manager,
	conn Conn,
	debug *httpdebug.Server,
	commands *sequence.Mailbox[httpdebug.Command],
) *Client {
	c := &Client{
		store:    store,
		startup:  cfg,
		logger:   logger,
		timing:   timing,
		world:    w,
		manager:  m,
		conn:     conn,
		debug:    debug,
		commands: commands,
	}
	if store != nil {
		c.version = store.Version()
	}
	return c
}

func (c *Client) Manager() *manager.Manager {
	return c.manager
}

func (c *Client) World() *world.World {
	return c.world
}

// SetInputSource must be called before Run.
func (c *Client) SetInputSource(src InputSource) {
	c.input = src
}

// Command queues an operator command for the next frame.
func (c *Client) Command(cmd httpdebug.Command) {
	c.commands.Post(cmd)
}

// Reload re-reads the config file. The new values are applied at the start of
// the next frame.
func (c *Client) Reload() error {
	if c.store == nil {
		return nil
	}
	_, err := c.store.Reload()
	if err != nil {
		c.logger.Error("Config reload failed, keeping current config", log.String("path", c.store.Path()), log.Error(err))
		return err
	}
	c.logger.Info("Config reloaded", log.Uint64("version", c.store.Version()))
	return nil
}

// Run drives the transport, the debug server and the frame loop until ctx is
// done or one of them fails.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.conn.Run(ctx)
	})
	if c.debug != nil {
		g.Go(func() error {
			return c.debug.ListenAndServe(ctx)
		})
	}
	g.Go(func() error {
		c.loop(ctx)
		return nil
	})

	return g.Wait()
}

func (c *Client) loop(ctx context.Context) {
	timer := time.NewTimer(c.timing.AdjustedTickPeriod())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.Frame()
		timer.Reset(c.timing.AdjustedTickPeriod())
	}
}

// Frame runs one client frame: pending config and operator commands, local
// input, state application with prediction, then one simulation step.
func (c *Client) Frame() {
	c.applyConfig()
	c.runCommands()

	if c.input != nil {
		for _, cmd := range c.input(c.timing.CurTick) {
			cmd.Tick = c.timing.CurTick
			if cmd.Sequence = c.manager.InputCommandDispatched(cmd); cmd.Sequence != 0 {
				done := c.timing.StartPastPrediction()
				c.world.PredictInputCommand(cmd)
				done()
			}
		}
	}

	if _, err := c.manager.Tick(); err != nil {
		c.logger.Warn("Frame recovered from an apply error", log.Tick("cur_tick", c.timing.CurTick), log.Error(err))
	}
	c.manager.Simulate()
}

func (c *Client) applyConfig() {
	if c.store == nil {
		return
	}
	version := c.store.Version()
	if version == c.version {
		return
	}
	c.version = version

	cfg := c.store.Current()
	if keys := c.startup.RestartRequired(cfg); len(keys) > 0 {
		c.logger.Warn("Changed config keys need a restart", log.Any("keys", keys))
	}
	c.manager.SetConfig(cfg.ManagerConfig())
	c.logger.SetLevel(log.ParseLevel(cfg.Log.Level))
}

func (c *Client) runCommands() {
	for _, cmd := range c.commands.Drain() {
		switch cmd {
		case httpdebug.CommandResync:
			c.manager.RequestFullState()
		case httpdebug.CommandResetEntities:
			n := c.manager.ResetAllEntities()
			c.logger.Info("Reset all entities", log.Int("reset", n))
		}
	}
}
