// Package ws is the websocket client transport. Every frame travels as one
// binary websocket message.
package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/transport"
)

var (
	_ manager.Sender        = (*Client)(nil)
	_ manager.LatencySource = (*Client)(nil)
)

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadLimit        int64
}

func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     time.Second,
		ReadLimit:        4 << 20,
	}
}

// Client is a websocket connection to the game server.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	d      *transport.Dispatcher
	logger log.Log

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	pingSeq atomic.Uint32
}

func Dial(ctx context.Context, cfg Config, d *transport.Dispatcher, logger log.Log) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", cfg.URL)
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		d:      d,
		done:   make(chan struct{}),
		logger: log.OrNop(logger).With(log.String("component", "ws_client"), log.String("url", cfg.URL)),
	}
	c.logger.Info("Connected to server")
	return c, nil
}

// Run reads frames and sends pings until ctx is done or the connection fails.
// The connection is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(c.readLoop)
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

	return g.Wait()
}

func (c *Client) readLoop() error {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			return errors.Wrap(err, "failed to read message")
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Warn("Ignoring non-binary message", log.Int("type", messageType))
			continue
		}
		if err = c.d.Dispatch(data); err != nil {
			c.logger.Warn("Dropping undecodable frame", log.Int("size", len(data)), log.Error(err))
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
			if err = c.send(frame); err != nil {
				if c.closed.Load() {
					return nil
				}
				return err
			}
		}
	}
}

func (c *Client) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return transport.ErrClosed
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	c.d.Sent(len(frame))
	return nil
}

func (c *Client) SendAck(tick gamestate.Tick) error {
	frame, err := c.d.Codec().EncodeAck(tick)
	if err != nil {
		return errors.Wrap(err, "failed to encode ack")
	}
	return c.send(frame)
}

func (c *Client) SendFullStateRequest(tick gamestate.Tick, missing []gamestate.EntityID) error {
	frame, err := c.d.Codec().EncodeFullStateRequest(tick, missing)
	if err != nil {
		return errors.Wrap(err, "failed to encode full state request")
	}
	return c.send(frame)
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

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.logger.Info("Disconnected from server")
	return c.conn.Close()
}
