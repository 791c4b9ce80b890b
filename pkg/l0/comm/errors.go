package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLong indicates a payload larger than DataSize.
	ErrPayloadTooLong = errors.New("payload too long")
	// ErrReservedPayload indicates a payload that would be read as ACK or RETX.
	ErrReservedPayload = errors.New("payload collides with a control frame")
	// ErrOutboxFull indicates the outbound buffer cannot take a whole frame.
	// The caller should Update and retry.
	ErrOutboxFull = errors.New("outbox full")
	// ErrNoTransport indicates the engine was created without a transport.
	ErrNoTransport = errors.New("no transport")
)

// FrameError reports a frame that can't be decoded.
type FrameError struct {
	Size     int
	CRC      byte
	Computed byte
}

// Error implements error.
func (e *FrameError) Error() string {
	if e.Size != FrameSize {
		return fmt.Sprintf("frame size %d, expect %d", e.Size, FrameSize)
	}
	return fmt.Sprintf("frame crc %#02x, computed %#02x", e.CRC, e.Computed)
}
