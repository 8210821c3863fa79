// Package transport holds what the client transports share: routing decoded
// server frames to the sync manager and estimating round trip time.
package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/core/protocol"
	"github.com/zeusync/statesync/pkg/sequence"
)

var ErrClosed = errors.New("transport is closed")

// Stats are transport counters, safe to read from any goroutine.
type Stats struct {
	FramesSent     uint64        `json:"frames_sent"`
	FramesReceived uint64        `json:"frames_received"`
	BytesSent      uint64        `json:"bytes_sent"`
	BytesReceived  uint64        `json:"bytes_received"`
	DecodeErrors   uint64        `json:"decode_errors"`
	RTT            time.Duration `json:"rtt"`
}

// Dispatcher decodes server frames. Snapshots and PVS notices go to the inbox,
// pongs update the RTT estimate.
type Dispatcher struct {
	codec  *protocol.Codec
	inbox  *sequence.Mailbox[gamestate.Message]
	logger log.Log
	rtt    RTT
	now    func() time.Time

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	decodeErrors   atomic.Uint64
}

func NewDispatcher(codec *protocol.Codec, inbox *sequence.Mailbox[gamestate.Message], logger log.Log) *Dispatcher {
	return &Dispatcher{
		codec:  codec,
		inbox:  inbox,
		logger: log.OrNop(logger),
		now:    time.Now,
	}
}

func (d *Dispatcher) Codec() *protocol.Codec {
	return d.codec
}

// Dispatch handles one frame. Decode failures are counted and returned; the
// connection stays usable.
func (d *Dispatcher) Dispatch(frame []byte) error {
	d.framesReceived.Add(1)
	d.bytesReceived.Add(uint64(len(frame)))

	msg, err := d.codec.Decode(frame)
	if err != nil {
		d.decodeErrors.Add(1)
		return err
	}

	switch m := msg.(type) {
	case *gamestate.Snapshot:
		d.inbox.Post(m)
	case *gamestate.LeavePVS:
		d.inbox.Post(m)
	case protocol.PongMessage:
		sample := d.now().Sub(time.Unix(0, m.SentAt))
		if sample >= 0 {
			d.rtt.Observe(sample)
		}
	default:
		d.decodeErrors.Add(1)
		return fmt.Errorf("unexpected %T from server: %w", msg, protocol.ErrUnknownType)
	}
	return nil
}

// Sent records an outgoing frame.
func (d *Dispatcher) Sent(n int) {
	d.framesSent.Add(1)
	d.bytesSent.Add(uint64(n))
}

func (d *Dispatcher) RTT() time.Duration {
	return d.rtt.Value()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		FramesSent:     d.framesSent.Load(),
		FramesReceived: d.framesReceived.Load(),
		BytesSent:      d.bytesSent.Load(),
		BytesReceived:  d.bytesReceived.Load(),
		DecodeErrors:   d.decodeErrors.Load(),
		RTT:            d.rtt.Value(),
	}
}

// RTT is a smoothed round trip time: the first sample is taken as is, later
// samples move the estimate by 1/8 of the difference.
type RTT struct {
	v atomic.Int64
}

func (r *RTT) Observe(sample time.Duration) {
	for {
		old := r.v.Load()
		next := int64(sample)
		if old != 0 {
			next = old + (int64(sample)-old)/8
		}
		if r.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (r *RTT) Value() time.Duration {
	return time.Duration(r.v.Load())
}
