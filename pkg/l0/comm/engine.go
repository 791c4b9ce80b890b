package comm

import (
	"github.com/golang/glog"

	"github.com/robotalks/bootlink/pkg/ring"
)

// Transport is the byte-level link the engine runs on. None of the methods
// may block.
type Transport interface {
	// HasByte tells whether TakeByte has a byte to return.
	HasByte() bool
	// TakeByte removes one received byte. Only valid after HasByte.
	TakeByte() byte
	// Put queues bytes for transmission and returns how many were
	// accepted. A short count is backpressure, not an error.
	Put(p []byte) int
}

type recvState int

const (
	stateLength recvState = iota // waiting for length byte
	stateData                    // collecting DataSize data bytes
	stateCRC                     // waiting for checksum byte
)

// Defaults.
const (
	DefaultQueueCapacity = 8
	DefaultOutboxFrames  = 4
)

// Stats counts what the engine has seen and done.
type Stats struct {
	FramesReceived uint64
	Delivered      uint64
	AcksReceived   uint64
	RetxReceived   uint64
	CRCErrors      uint64
	LengthClamped  uint64
	QueueOverflows uint64
	FramesSent     uint64
	ControlSent    uint64
	Retransmits    uint64
	OutboxDrops    uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueCapacity sets the packet queue capacity, a power of two.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		e.queueCap = n
	}
}

// WithOverflowPolicy sets what happens when the packet queue is full.
func WithOverflowPolicy(p ring.OverflowPolicy) Option {
	return func(e *Engine) {
		e.overflow = p
	}
}

// WithOutboxFrames sets how many whole frames the outbox can hold while the
// transport applies backpressure.
func WithOutboxFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.outbox = make([]byte, 0, n*FrameSize)
		}
	}
}

// Engine reconstructs frames from the transport byte by byte, answers them
// with ACK/RETX, and keeps good application packets in a queue.
type Engine struct {
	transport Transport

	state  recvState
	offset int
	temp   Packet

	lastSent    Packet
	hasLastSent bool

	queue    *ring.Ring[Packet]
	queueCap int
	overflow ring.OverflowPolicy

	outbox []byte
	stats  Stats
}

// NewEngine creates an Engine over the transport.
func NewEngine(t Transport, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	e := &Engine{
		transport: t,
		queueCap:  DefaultQueueCapacity,
		overflow:  ring.DropOldest,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.outbox == nil {
		e.outbox = make([]byte, 0, DefaultOutboxFrames*FrameSize)
	}
	q, err := ring.New[Packet](e.queueCap, e.overflow)
	if err != nil {
		return nil, err
	}
	e.queue = q
	return e, nil
}

// Update flushes pending output, then consumes every byte the transport has,
// one state machine step per byte. It returns the number of bytes consumed.
func (e *Engine) Update() (n int) {
	e.Flush()
	for e.transport.HasByte() {
		e.step(e.transport.TakeByte())
		n++
	}
	return
}

func (e *Engine) step(b byte) {
	switch e.state {
	case stateLength:
		e.temp.Length = b
		e.offset = 0
		e.state = stateData
	case stateData:
		e.temp.Data[e.offset] = b
		e.offset++
		if e.offset >= DataSize {
			e.offset = 0
			e.state = stateCRC
		}
	case stateCRC:
		e.temp.CRC = b
		e.state = stateLength
		e.frameReady()
	default:
		e.offset = 0
		e.state = stateLength
	}
}

func (e *Engine) frameReady() {
	e.stats.FramesReceived++
	if !e.temp.IsValid() {
		e.stats.CRCErrors++
		glog.V(2).Infof("RCV bad crc %#02x, request RETX", e.temp.CRC)
		e.transmit(&retxPacket, false)
		return
	}
	switch e.temp.Kind() {
	case KindRetx:
		e.stats.RetxReceived++
		if !e.hasLastSent {
			glog.V(2).Info("RCV RETX, nothing sent yet")
			return
		}
		glog.V(2).Infof("RCV RETX, replay %s", &e.lastSent)
		e.stats.Retransmits++
		e.transmit(&e.lastSent, false)
	case KindAck:
		e.stats.AcksReceived++
		glog.V(3).Info("RCV ACK")
	default:
		if e.temp.Length > DataSize {
			e.stats.LengthClamped++
			glog.V(1).Infof("RCV length %d clamped to %d", e.temp.Length, DataSize)
			e.temp.Length = DataSize
		}
		if e.queue.Push(e.temp) || e.overflow == ring.DropOldest {
			e.stats.Delivered++
		}
		if e.queue.Dropped() != e.stats.QueueOverflows {
			e.stats.QueueOverflows = e.queue.Dropped()
			glog.Warningf("packet queue full (%s)", e.overflow)
		}
		glog.V(3).Infof("RCV %s", &e.temp)
		e.transmit(&ackPacket, true)
	}
}

// transmit queues the frame into the outbox and flushes. Only data frames
// and ACK go into the last-sent cache, never RETX or a replay.
func (e *Engine) transmit(p *Packet, cache bool) bool {
	if cap(e.outbox)-len(e.outbox) < FrameSize {
		e.stats.OutboxDrops++
		glog.Warningf("outbox full, drop %s", p)
		e.Flush()
		return false
	}
	e.outbox = append(e.outbox, p.Bytes()...)
	if cache {
		e.lastSent, e.hasLastSent = *p, true
	}
	if p.Kind() == KindData {
		e.stats.FramesSent++
	} else {
		e.stats.ControlSent++
	}
	e.Flush()
	return true
}

// Send seals and transmits an application packet. It fails with
// ErrOutboxFull if the transport is holding back too much output.
func (e *Engine) Send(p *Packet) error {
	if p.Kind() != KindData {
		return ErrReservedPayload
	}
	if p.Length > DataSize {
		return ErrPayloadTooLong
	}
	p.Seal()
	if cap(e.outbox)-len(e.outbox) < FrameSize {
		e.Flush()
		if cap(e.outbox)-len(e.outbox) < FrameSize {
			return ErrOutboxFull
		}
	}
	glog.V(3).Infof("SND %s", p)
	e.transmit(p, true)
	return nil
}

// SendPayload builds a packet from payload and sends it.
func (e *Engine) SendPayload(payload []byte) error {
	p, err := NewPacket(payload)
	if err != nil {
		return err
	}
	return e.Send(p)
}

// Flush hands as much pending output to the transport as it accepts. It
// returns true when nothing is left pending.
func (e *Engine) Flush() bool {
	if len(e.outbox) == 0 {
		return true
	}
	n := e.transport.Put(e.outbox)
	if n > 0 {
		rest := copy(e.outbox, e.outbox[n:])
		e.outbox = e.outbox[:rest]
	}
	return len(e.outbox) == 0
}

// Pending is the number of bytes waiting for the transport.
func (e *Engine) Pending() int {
	return len(e.outbox)
}

// Available tells whether a received packet is waiting.
func (e *Engine) Available() bool {
	return e.queue.Available()
}

// Read copies the oldest received packet into out. It returns false and
// leaves out untouched when nothing is waiting.
func (e *Engine) Read(out *Packet) bool {
	return e.queue.PopInto(out)
}

// Receive returns the oldest received packet.
func (e *Engine) Receive() (Packet, bool) {
	return e.queue.Pop()
}

// LastSent returns the frame a RETX would replay.
func (e *Engine) LastSent() (Packet, bool) {
	return e.lastSent, e.hasLastSent
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Reset drops the partial frame, the queue and pending output. The
// last-sent cache and counters are kept.
func (e *Engine) Reset() {
	e.state, e.offset = stateLength, 0
	e.queue.Reset()
	e.outbox = e.outbox[:0]
}
