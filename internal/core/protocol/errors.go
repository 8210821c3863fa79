package protocol

import "errors"

var (
	// Frame errors

	ErrShortFrame         = errors.New("frame too short")
	ErrUnsupportedVersion = errors.New("unsupported frame version")
	ErrChecksumMismatch   = errors.New("frame checksum mismatch")
	ErrFrameTooLarge      = errors.New("frame too large")

	// Message errors

	ErrInvalidEnvelope  = errors.New("invalid envelope")
	ErrUnknownType      = errors.New("unknown message type")
	ErrUnknownComponent = errors.New("unknown component")
	ErrInvalidComponent = errors.New("invalid component value")
)
