// Package uart provides the byte transport the L0 engine runs on: a pair of
// SPSC byte queues split between an interrupt side and a polling side, and
// a pump that plays the interrupt side against any io.ReadWriter.
package uart

import (
	"sync/atomic"

	"github.com/robotalks/bootlink/pkg/ring"
)

// Default buffer sizes, matching the firmware driver.
const (
	DefaultRxSize = 128
	DefaultTxSize = 128
)

// Port is a UART with receive and transmit buffers.
//
// Interrupt side: Receive, Offer, Transmit, TxReady, RxSpace.
// Polling side: HasByte, TakeByte, Put, RxReady.
// Each side must be driven by one goroutine.
type Port struct {
	rx *ring.ByteQueue
	tx *ring.ByteQueue

	overruns atomic.Uint64
	rxReady  chan struct{}
	rxSpace  chan struct{}
	txReady  chan struct{}
}

// NewPort creates a Port. Sizes must be powers of two.
func NewPort(rxSize, txSize int) (*Port, error) {
	rx, err := ring.NewByteQueue(rxSize)
	if err != nil {
		return nil, err
	}
	tx, err := ring.NewByteQueue(txSize)
	if err != nil {
		return nil, err
	}
	return &Port{
		rx:      rx,
		tx:      tx,
		rxReady: make(chan struct{}, 1),
		rxSpace: make(chan struct{}, 1),
		txReady: make(chan struct{}, 1),
	}, nil
}

// NewDefaultPort creates a Port with default buffer sizes.
func NewDefaultPort() *Port {
	p, err := NewPort(DefaultRxSize, DefaultTxSize)
	if err != nil {
		panic(err)
	}
	return p
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Receive stores a byte arriving from the line. When the receive buffer is
// full the byte is discarded and counted as an overrun.
func (p *Port) Receive(b byte) bool {
	if !p.rx.PutByte(b) {
		p.overruns.Add(1)
		return false
	}
	signal(p.rxReady)
	return true
}

// Offer stores a byte arriving from the line if there is room, without
// counting an overrun otherwise.
func (p *Port) Offer(b byte) bool {
	if !p.rx.PutByte(b) {
		return false
	}
	signal(p.rxReady)
	return true
}

// RxSpace is signalled after TakeByte freed room in the receive buffer.
func (p *Port) RxSpace() <-chan struct{} {
	return p.rxSpace
}

// Transmit takes the next byte to put on the line.
func (p *Port) Transmit() (byte, bool) {
	return p.tx.GetByte()
}

// TransmitInto takes up to len(buf) bytes to put on the line.
func (p *Port) TransmitInto(buf []byte) int {
	return p.tx.Get(buf)
}

// TxReady is signalled after Put accepted bytes.
func (p *Port) TxReady() <-chan struct{} {
	return p.txReady
}

// HasByte implements comm.Transport.
func (p *Port) HasByte() bool {
	return !p.rx.Empty()
}

// TakeByte implements comm.Transport. It returns 0 if nothing was received.
func (p *Port) TakeByte() byte {
	b, ok := p.rx.GetByte()
	if ok {
		signal(p.rxSpace)
	}
	return b
}

// Put implements comm.Transport.
func (p *Port) Put(data []byte) int {
	n := p.tx.Put(data)
	if n > 0 {
		signal(p.txReady)
	}
	return n
}

// RxReady is signalled after Receive stored a byte.
func (p *Port) RxReady() <-chan struct{} {
	return p.rxReady
}

// Overruns counts bytes lost to a full receive buffer.
func (p *Port) Overruns() uint64 {
	return p.overruns.Load()
}

// Buffered returns the bytes waiting in the receive and transmit buffers.
func (p *Port) Buffered() (rx, tx int) {
	return p.rx.Len(), p.tx.Len()
}
