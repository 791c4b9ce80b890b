package stream

import (
	"errors"
	"io"

	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
)

// ErrPacketSize indicates a length prefix beyond one packet payload.
var ErrPacketSize = errors.New("packet size out of range")

// ReadWriter implements PacketReadWriter.
// Each payload is prefixed by a single byte holding its length.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var size [1]byte
	if _, err := io.ReadFull(p, size[:]); err != nil {
		return nil, err
	}
	if size[0] > l0.DataSize {
		return nil, ErrPacketSize
	}
	pkt := make([]byte, size[0])
	if _, err := io.ReadFull(p, pkt); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return pkt, nil
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	if len(pkt) > l0.DataSize {
		return ErrPacketSize
	}
	buf := make([]byte, 0, len(pkt)+1)
	buf = append(buf, byte(len(pkt)))
	_, err := p.Write(append(buf, pkt...))
	return err
}

// Close implements io.Closer when the underlying stream does.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
