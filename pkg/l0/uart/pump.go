package uart

import (
	"context"
	"io"

	"github.com/golang/glog"
)

// DefaultChunkSize is how many bytes the pump moves per read or write.
const DefaultChunkSize = 64

// Pump plays the interrupt side of a Port against a byte stream: whatever
// is read from Conn is received into the port, whatever the port has to
// transmit is written to Conn.
//
// With Lossy set a full receive buffer discards bytes like the hardware
// does. Otherwise the pump stops reading until the polling side catches up,
// since a lost byte misaligns every following frame.
type Pump struct {
	Port      *Port
	Conn      io.ReadWriter
	ChunkSize int
	Lossy     bool
}

// NewPump creates a Pump.
func NewPump(port *Port, conn io.ReadWriter) *Pump {
	return &Pump{Port: port, Conn: conn, ChunkSize: DefaultChunkSize}
}

// Name implements framework.Named.
func (p *Pump) Name() string {
	return "uart-pump"
}

// Run implements framework.Runnable.
func (p *Pump) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.readLoop(subCtx, errCh)

	buf := make([]byte, p.chunkSize())
	for {
		if err := p.drain(buf); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-p.Port.TxReady():
		}
	}
}

func (p *Pump) chunkSize() int {
	if p.ChunkSize > 0 {
		return p.ChunkSize
	}
	return DefaultChunkSize
}

func (p *Pump) drain(buf []byte) error {
	for {
		n := p.Port.TransmitInto(buf)
		if n == 0 {
			return nil
		}
		if _, err := p.Conn.Write(buf[:n]); err != nil {
			return err
		}
		glog.V(4).Infof("TX % x", buf[:n])
	}
}

func (p *Pump) readLoop(ctx context.Context, errCh chan error) {
	buf := make([]byte, p.chunkSize())
	for {
		n, err := p.Conn.Read(buf)
		if n > 0 {
			glog.V(4).Infof("RX % x", buf[:n])
		}
		for _, b := range buf[:n] {
			if p.Lossy {
				if !p.Port.Receive(b) {
					glog.V(1).Infof("rx overrun, %d bytes lost so far", p.Port.Overruns())
				}
				continue
			}
			for !p.Port.Offer(b) {
				select {
				case <-ctx.Done():
					return
				case <-p.Port.RxSpace():
				}
			}
		}
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
