package comm

import "context"

// PacketReader reads packet payloads in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packet payloads in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packet payloads in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// PacketSender sends a payload down a link and waits for delivery.
type PacketSender interface {
	Send(ctx context.Context, payload []byte) error
}
