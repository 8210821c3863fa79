package app

import (
	"context"
	"fmt"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/statesync/internal/config"
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/buffer"
	"github.com/zeusync/statesync/internal/core/gamestate/dirty"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/observability/metrics"
	"github.com/zeusync/statesync/internal/core/protocol"
	"github.com/zeusync/statesync/internal/core/world"
	"github.com/zeusync/statesync/internal/diag/httpdebug"
	"github.com/zeusync/statesync/internal/diag/recorder"
	"github.com/zeusync/statesync/internal/transport"
	quictransport "github.com/zeusync/statesync/internal/transport/quic"
	"github.com/zeusync/statesync/internal/transport/ws"
	"github.com/zeusync/statesync/pkg/sequence"
)

var ProviderSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideTiming,
	ProvideTracker,
	ProvideBuffer,
	ProvideWorld,
	ProvideRegistry,
	ProvideCodec,
	ProvideInbox,
	ProvideDispatcher,
	ProvideConn,
	ProvidePrometheus,
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	ProvideMetrics,
	ProvideRecorder,
	ProvideManager,
	ProvideCommands,
	ProvideDebugServer,
	NewClient,
)

// ProvideConfig returns the current config, or the defaults without a store.
func ProvideConfig(store *config.Store) config.Config {
	if store == nil {
		return config.Default()
	}
	return store.Current()
}

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideTiming(cfg config.Config) *gamestate.Timing {
	return gamestate.NewTiming(cfg.Sync.TickRate)
}

func ProvideTracker(timing *gamestate.Timing, cfg config.Config) *dirty.Tracker {
	return dirty.New(timing, cfg.Sync.DirtyWindow)
}

func ProvideBuffer(timing *gamestate.Timing, cfg config.Config, logger log.Log) *buffer.Buffer {
	return buffer.New(timing, cfg.ManagerConfig().Buffer, logger)
}

func ProvideWorld(timing *gamestate.Timing, tracker *dirty.Tracker, logger log.Log) *world.World {
	return world.New(timing, tracker, world.DefaultPrototypes(), logger)
}

func ProvideRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	world.RegisterComponents(r)
	return r
}

func ProvideCodec(r *protocol.Registry, cfg config.Config) (*protocol.Codec, func(), error) {
	codec, err := protocol.NewCodec(r,
		protocol.WithCompressionThreshold(cfg.Server.CompressionThreshold),
		protocol.WithMaxFrameSize(cfg.Server.MaxFrameSize),
		protocol.WithSchemaValidation(cfg.Server.SchemaValidation),
	)
	if err != nil {
		return nil, nil, err
	}
	return codec, codec.Close, nil
}

func ProvideInbox() *sequence.Mailbox[gamestate.Message] {
	return sequence.NewMailbox[gamestate.Message](64)
}

func ProvideDispatcher(codec *protocol.Codec, inbox *sequence.Mailbox[gamestate.Message], logger log.Log) *transport.Dispatcher {
	return transport.NewDispatcher(codec, inbox, logger)
}

// ProvideConn dials the server with the configured transport.
func ProvideConn(ctx context.Context, cfg config.Config, d *transport.Dispatcher, logger log.Log) (Conn, func(), error) {
	var (
		conn Conn
		err  error
	)
	switch cfg.Server.Transport {
	case "ws":
		wc := ws.DefaultConfig(cfg.Server.Address)
		wc.PingInterval = cfg.Server.PingInterval
		wc.ReadLimit = int64(cfg.Server.MaxFrameSize)
		conn, err = ws.Dial(ctx, wc, d, logger)
	case "quic":
		qc := quictransport.DefaultConfig(cfg.Server.Address)
		qc.PingInterval = cfg.Server.PingInterval
		qc.MaxFrameSize = int64(cfg.Server.MaxFrameSize)
		qc.InsecureSkipVerify = cfg.Server.InsecureSkipVerify
		conn, err = quictransport.Dial(ctx, qc, d, logger)
	default:
		return nil, nil, fmt.Errorf("transport %q: %w", cfg.Server.Transport, config.ErrInvalid)
	}
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close() }, nil
}

func ProvidePrometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry, cfg config.Config) metrics.Recorder {
	return metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
}

// ProvideRecorder opens the net state recorder, or returns nil when it is
// disabled.
func ProvideRecorder(cfg config.Config, logger log.Log) (*recorder.Recorder, func(), error) {
	if cfg.Recorder.Path == "" {
		return nil, func() {}, nil
	}
	rec, err := recorder.Open(cfg.Recorder.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	return rec, func() { _ = rec.Close() }, nil
}

func ProvideManager(
	timing *gamestate.Timing,
	buf *buffer.Buffer,
	tracker *dirty.Tracker,
	w *world.World,
	conn Conn,
	inbox *sequence.Mailbox[gamestate.Message],
	rec metrics.Recorder,
	netlog *recorder.Recorder,
	cfg config.Config,
	logger log.Log,
) (*manager.Manager, error) {
	m, err := manager.New(timing, buf, tracker, manager.Collaborators{
		Entities:   w,
		Resetter:   w,
		Maps:       w,
		Players:    w,
		Input:      w,
		Simulation: w,
		Sender:     conn,
		Latency:    conn,
	}, cfg.ManagerConfig(), logger, manager.WithInbox(inbox), manager.WithMetrics(rec))
	if err != nil {
		return nil, err
	}
	if netlog != nil {
		m.Subscribe(netlog.OnStateApplied)
	}
	return m, nil
}

func ProvideCommands() *sequence.Mailbox[httpdebug.Command] {
	return sequence.NewMailbox[httpdebug.Command](4)
}

// ProvideDebugServer returns nil when no debug address is configured.
func ProvideDebugServer(
	cfg config.Config,
	reg prometheus.Gatherer,
	m *manager.Manager,
	conn Conn,
	netlog *recorder.Recorder,
	commands *sequence.Mailbox[httpdebug.Command],
	logger log.Log,
) *httpdebug.Server {
	if cfg.Debug.Addr == "" {
		return nil
	}
	deps := httpdebug.Deps{
		Gatherer:  reg,
		Sync:      m,
		Transport: conn,
		Commands:  commands.Post,
	}
	if netlog != nil {
		deps.States = netlog
	}
	return httpdebug.New(cfg.Debug.Addr, deps, logger)
}
