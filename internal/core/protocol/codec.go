package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/pkg/generic"
)

// Frame layout: version, flags, xxhash64 of the uncompressed body, body.
const (
	frameVersion   byte = 1
	flagCompressed byte = 1 << 0
	headerSize          = 1 + 1 + 8
)

// Codec turns messages into frames and back. It is safe for concurrent use.
type Codec struct {
	registry *Registry
	opts     options
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	schema   *jsonschema.Schema
	buffers  *generic.Pool[*bytes.Buffer]
}

func NewCodec(registry *Registry, opts ...Option) (*Codec, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(o.maxFrameSize)))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	c := &Codec{
		registry: registry,
		opts:     o,
		encoder:  encoder,
		decoder:  decoder,
		buffers: generic.NewPool(func() *bytes.Buffer {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		}, (*bytes.Buffer).Reset),
	}
	if o.validateSchema {
		c.schema, err = jsonschema.CompileString(envelopeSchemaURL, envelopeSchema)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("compile envelope schema: %w", err)
		}
	}
	return c, nil
}

func (c *Codec) Registry() *Registry {
	return c.registry
}

func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

// Marshal wraps payload in an envelope of type t and frames it.
func (c *Codec) Marshal(t MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)
	if err = json.NewEncoder(buf).Encode(Envelope{Type: t, Payload: raw}); err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	// The frame copies body, so buf can go back to the pool on return.
	body := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	var flags byte
	sum := xxhash.Sum64(body)
	if c.opts.compressionThreshold >= 0 && len(body) >= c.opts.compressionThreshold {
		body = c.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= flagCompressed
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	frame[0] = frameVersion
	frame[1] = flags
	binary.BigEndian.PutUint64(frame[2:headerSize], sum)
	frame = append(frame, body...)

	if len(frame) > c.opts.maxFrameSize {
		return nil, fmt.Errorf("%s frame of %d bytes: %w", t, len(frame), ErrFrameTooLarge)
	}
	return frame, nil
}

// Unmarshal verifies a frame and returns its envelope.
func (c *Codec) Unmarshal(frame []byte) (Envelope, error) {
	if len(frame) < headerSize {
		return Envelope{}, ErrShortFrame
	}
	if len(frame) > c.opts.maxFrameSize {
		return Envelope{}, fmt.Errorf("frame of %d bytes: %w", len(frame), ErrFrameTooLarge)
	}
	if frame[0] != frameVersion {
		return Envelope{}, fmt.Errorf("version %d: %w", frame[0], ErrUnsupportedVersion)
	}

	flags := frame[1]
	sum := binary.BigEndian.Uint64(frame[2:headerSize])
	body := frame[headerSize:]
	if flags&flagCompressed != 0 {
		var err error
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("decompress frame: %w", err)
		}
	}
	if xxhash.Sum64(body) != sum {
		return Envelope{}, ErrChecksumMismatch
	}

	if c.schema != nil {
		var doc any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		if err := c.schema.Validate(doc); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

// Decode unmarshals a frame into *gamestate.Snapshot, *gamestate.LeavePVS,
// AckMessage, FullStateRequestMessage, PingMessage or PongMessage.
func (c *Codec) Decode(frame []byte) (any, error) {
	env, err := c.Unmarshal(frame)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeState:
		var m StateMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		s, err := c.registry.Snapshot(&m, len(frame))
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeLeavePVS:
		var m LeavePVSMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode leave pvs: %w", err)
		}
		return &gamestate.LeavePVS{Tick: m.Tick, Entities: m.Entities}, nil
	case TypeAck:
		var m AckMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
		return m, nil
	case TypeFullStateRequest:
		var m FullStateRequestMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode full state request: %w", err)
		}
		return m, nil
	case TypePing:
		var m PingMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode ping: %w", err)
		}
		return m, nil
	case TypePong:
		var m PongMessage
		if err = json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode pong: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%q: %w", env.Type, ErrUnknownType)
	}
}

func (c *Codec) EncodeSnapshot(s *gamestate.Snapshot) ([]byte, error) {
	m, err := c.registry.StateMessage(s)
	if err != nil {
		return nil, err
	}
	return c.Marshal(TypeState, m)
}

func (c *Codec) EncodeLeavePVS(l *gamestate.LeavePVS) ([]byte, error) {
	return c.Marshal(TypeLeavePVS, LeavePVSMessage{Tick: l.Tick, Entities: l.Entities})
}

func (c *Codec) EncodeAck(tick gamestate.Tick) ([]byte, error) {
	return c.Marshal(TypeAck, AckMessage{Tick: tick})
}

func (c *Codec) EncodeFullStateRequest(tick gamestate.Tick, missing []gamestate.EntityID) ([]byte, error) {
	return c.Marshal(TypeFullStateRequest, FullStateRequestMessage{Tick: tick, Missing: missing})
}

func (c *Codec) EncodePing(seq uint32, at time.Time) ([]byte, error) {
	return c.Marshal(TypePing, PingMessage{Seq: seq, SentAt: at.UnixNano()})
}

// EncodePong answers ping.
func (c *Codec) EncodePong(ping PingMessage) ([]byte, error) {
	return c.Marshal(TypePong, PongMessage(ping))
}
