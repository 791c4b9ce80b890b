package comm

import (
	"fmt"
	"io"
)

// Frame layout.
const (
	// DataSize is the fixed size of the data region.
	DataSize = 16
	// FrameSize is the size of every frame on the wire.
	FrameSize = DataSize + 2
	// Padding fills the unused tail of the data region.
	Padding byte = 0xff

	crcInputSize = DataSize + 1
)

// Control frame markers, agreed by both peers. A control frame has
// Length == 1 and the marker in Data[0].
const (
	AckMarker  byte = 0x15
	RetxMarker byte = 0x19

	controlLength byte = 1
)

// Kind classifies a received frame.
type Kind int

const (
	// KindData is an application packet.
	KindData Kind = iota
	// KindAck acknowledges the peer's last data frame.
	KindAck
	// KindRetx asks the peer to send its last frame again.
	KindRetx
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindRetx:
		return "RETX"
	}
	return "DATA"
}

// Packet is the in-memory form of a frame.
type Packet struct {
	Length byte
	Data   [DataSize]byte
	CRC    byte
}

var (
	ackPacket  = newControlPacket(AckMarker)
	retxPacket = newControlPacket(RetxMarker)
)

func newControlPacket(marker byte) Packet {
	p := Packet{Length: controlLength}
	p.Data[0] = marker
	for i := 1; i < DataSize; i++ {
		p.Data[i] = Padding
	}
	p.Seal()
	return p
}

// AckPacket returns the ACK frame.
func AckPacket() Packet {
	return ackPacket
}

// RetxPacket returns the RETX frame.
func RetxPacket() Packet {
	return retxPacket
}

// NewPacket builds a sealed packet carrying payload.
func NewPacket(payload []byte) (*Packet, error) {
	if len(payload) > DataSize {
		return nil, ErrPayloadTooLong
	}
	if len(payload) == int(controlLength) &&
		(payload[0] == AckMarker || payload[0] == RetxMarker) {
		return nil, ErrReservedPayload
	}
	p := &Packet{Length: byte(len(payload))}
	n := copy(p.Data[:], payload)
	for ; n < DataSize; n++ {
		p.Data[n] = Padding
	}
	p.Seal()
	return p, nil
}

// ComputeCRC calculates the checksum over Length and all of Data.
func (p *Packet) ComputeCRC() byte {
	var b [crcInputSize]byte
	b[0] = p.Length
	copy(b[1:], p.Data[:])
	return CRC8(b[:])
}

// Seal stores the computed checksum into CRC.
func (p *Packet) Seal() {
	p.CRC = p.ComputeCRC()
}

// IsValid checks CRC against the content.
func (p *Packet) IsValid() bool {
	return p.CRC == p.ComputeCRC()
}

// Kind classifies the packet. Only Length and Data[0] are looked at.
func (p *Packet) Kind() Kind {
	if p.Length == controlLength {
		switch p.Data[0] {
		case AckMarker:
			return KindAck
		case RetxMarker:
			return KindRetx
		}
	}
	return KindData
}

// IsAck tells whether the packet is the ACK control frame.
func (p *Packet) IsAck() bool {
	return p.Kind() == KindAck
}

// IsRetx tells whether the packet is the RETX control frame.
func (p *Packet) IsRetx() bool {
	return p.Kind() == KindRetx
}

// Payload returns the logical payload. Length beyond DataSize is capped.
func (p *Packet) Payload() []byte {
	n := int(p.Length)
	if n > DataSize {
		n = DataSize
	}
	return p.Data[:n]
}

// Frame returns the wire encoding.
func (p *Packet) Frame() (f [FrameSize]byte) {
	f[0] = p.Length
	copy(f[1:], p.Data[:])
	f[FrameSize-1] = p.CRC
	return
}

// Bytes returns encoded bytes for sending.
func (p *Packet) Bytes() []byte {
	f := p.Frame()
	return f[:]
}

// WriteTo writes encoded bytes.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Bytes())
	return int64(n), err
}

// String implements fmt.Stringer.
func (p *Packet) String() string {
	if k := p.Kind(); k != KindData {
		return k.String()
	}
	return fmt.Sprintf("DATA len=%d % x", p.Length, p.Payload())
}

// DecodeFrame parses and validates a wire frame.
func DecodeFrame(b []byte) (*Packet, error) {
	if len(b) != FrameSize {
		return nil, &FrameError{Size: len(b)}
	}
	p := &Packet{Length: b[0], CRC: b[FrameSize-1]}
	copy(p.Data[:], b[1:FrameSize-1])
	if computed := p.ComputeCRC(); computed != p.CRC {
		return nil, &FrameError{Size: len(b), CRC: p.CRC, Computed: computed}
	}
	return p, nil
}
