// Package quic is the QUIC client transport. The server sends every state on
// its own unidirectional stream so a lost packet only delays that state. Acks
// and pings travel as datagrams; full state requests use a stream.
package quic

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/transport"
)

// NextProto is the ALPN protocol id both sides must offer.
const NextProto = "statesync-quic"

var (
	_ manager.Sender        = (*Client)(nil)
	_ manager.LatencySource = (*Client)(nil)
)

type Config struct {
	Addr               string
	ServerName         string
	InsecureSkipVerify bool
	TLS                *tls.Config
	MaxFrameSize       int64
	PingInterval       time.Duration
	IdleTimeout        time.Duration
	KeepAlivePeriod    time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:            addr,
		MaxFrameSize:    4 << 20,
		PingInterval:    time.Second,
		IdleTimeout:     30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func (c Config) tlsConfig() *tls.Config {
	if c.TLS != nil {
		return c.TLS
	}
	return &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		NextProtos:         []string{NextProto},
	}
}

// Client is a QUIC connection to the game server.
type Client struct {
	cfg    Config
	conn   *quic.Conn
	d      *transport.Dispatcher
	logger log.Log

	datagrams bool
	closed    atomic.Bool
	done      chan struct{}
	pingSeq   atomic.Uint32
	streams   sync.WaitGroup
}

func Dial(ctx context.Context, cfg Config, d *transport.Dispatcher, logger log.Log) (*Client, error) {
	conn, err := quic.DialAddr(ctx, cfg.Addr, cfg.tlsConfig(), &quic.Config{
		MaxIdleTimeout:  cfg.IdleTimeout,
		KeepAlivePeriod: cfg.KeepAlivePeriod,
		EnableDatagrams: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", cfg.Addr)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		d:         d,
		logger:    log.OrNop(logger).With(log.String("component", "quic_client"), log.String("addr", cfg.Addr)),
		datagrams: conn.ConnectionState().SupportsDatagrams,
		done:      make(chan struct{}),
	}
	c.logger.Info("Connected to server", log.Bool("datagrams", c.datagrams))
	return c, nil
}

// Run accepts state streams, reads datagrams and sends pings until ctx is
// done or the connection fails. The connection is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.acceptLoop(ctx)
	})
	if c.datagrams {
		g.Go(func() error {
			return c.datagramLoop(ctx)
		})
	}
	g.Go(func() error {
		return c.pingLoop(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return c.Close()
		case <-c.done:
			return nil
		}
	})

	err := g.Wait()
	c.streams.Wait()
	return err
}

func (c *Client) acceptLoop(ctx context.Context) error {
	for {
		str, err := c.conn.AcceptUniStream(ctx)
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to accept stream")
		}

		c.streams.Add(1)
		go func() {
			defer c.streams.Done()
			c.readStream(str)
		}()
	}
}

func (c *Client) readStream(str *quic.ReceiveStream) {
	data, err := io.ReadAll(io.LimitReader(str, c.cfg.MaxFrameSize+1))
	if err != nil {
		if !c.closed.Load() {
			c.logger.Warn("Failed to read stream", log.Error(err))
		}
		return
	}
	if int64(len(data)) > c.cfg.MaxFrameSize {
		str.CancelRead(0)
		c.logger.Warn("Dropping oversized stream", log.Int64("limit", c.cfg.MaxFrameSize))
		return
	}
	if err = c.d.Dispatch(data); err != nil {
		c.logger.Warn("Dropping undecodable frame", log.Int("size", len(data)), log.Error(err))
	}
}

func (c *Client) datagramLoop(ctx context.Context) error {
	for {
		data, err := c.conn.ReceiveDatagram(ctx)
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive datagram")
		}
		if err = c.d.Dispatch(data); err != nil {
			c.logger.Warn("Dropping undecodable datagram", log.Int("size", len(data)), log.Error(err))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) error {
	if c.cfg.PingInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-ticker.C:
			frame, err := c.d.Codec().EncodePing(c.pingSeq.Add(1), time.Now())
			if err != nil {
				return errors.Wrap(err, "failed to encode ping")
			}
			if err = c.sendUnreliable(ctx, frame); err != nil {
				if c.closed.Load() {
					return nil
				}
				return err
			}
		}
	}
}

// sendUnreliable prefers a datagram and falls back to a stream when the peer
// has no datagram support or the frame does not fit.
func (c *Client) sendUnreliable(ctx context.Context, frame []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if c.datagrams {
		err := c.conn.SendDatagram(frame)
		if err == nil {
			c.d.Sent(len(frame))
			return nil
		}
		var tooLarge *quic.DatagramTooLargeError
		if !errors.As(err, &tooLarge) {
			return errors.Wrap(err, "failed to send datagram")
		}
	}
	return c.sendStream(ctx, frame)
}

func (c *Client) sendStream(ctx context.Context, frame []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	str, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open stream")
	}
	if _, err = str.Write(frame); err != nil {
		str.CancelWrite(0)
		return errors.Wrap(err, "failed to write stream")
	}
	if err = str.Close(); err != nil {
		return errors.Wrap(err, "failed to close stream")
	}
	c.d.Sent(len(frame))
	return nil
}

func (c *Client) SendAck(tick gamestate.Tick) error {
	frame, err := c.d.Codec().EncodeAck(tick)
	if err != nil {
		return errors.Wrap(err, "failed to encode ack")
	}
	return c.sendUnreliable(c.conn.Context(), frame)
}

func (c *Client) SendFullStateRequest(tick gamestate.Tick, missing []gamestate.EntityID) error {
	frame, err := c.d.Codec().EncodeFullStateRequest(tick, missing)
	if err != nil {
		return errors.Wrap(err, "failed to encode full state request")
	}
	return c.sendStream(c.conn.Context(), frame)
}

func (c *Client) RTT() time.Duration {
	return c.d.RTT()
}

func (c *Client) Stats() transport.Stats {
	return c.d.Stats()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.logger.Info("Disconnected from server")
	return c.conn.CloseWithError(0, "client closed")
}
