// Package link runs the L0 engine against a byte stream: the stream is
// pumped into a UART port, and the engine polls the port from a single
// loop goroutine.
package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/uart"
	"github.com/robotalks/bootlink/pkg/ring"
)

var (
	// ErrNotRunning indicates Send was called while the link is not running.
	ErrNotRunning = errors.New("link not running")
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("link already running")
	// ErrAckTimeout indicates the peer didn't acknowledge a frame within
	// Config.AckTimeout. The frame may or may not have been delivered.
	ErrAckTimeout = errors.New("no ACK from peer")
)

// DefaultAckTimeout bounds the wait for the ACK of one frame.
const DefaultAckTimeout = time.Second

// PacketHandler is called on the loop goroutine for every received packet.
type PacketHandler interface {
	HandlePacket(context.Context, *comm.Packet)
}

// HandlePacketFunc is func type of PacketHandler.
type HandlePacketFunc func(context.Context, *comm.Packet)

// HandlePacket implements PacketHandler.
func (f HandlePacketFunc) HandlePacket(ctx context.Context, pkt *comm.Packet) {
	f(ctx, pkt)
}

// Config sizes the buffers of a link.
type Config struct {
	RxSize        int
	TxSize        int
	QueueCapacity int
	Overflow      ring.OverflowPolicy
	OutboxFrames  int
	Interval      time.Duration
	// AckTimeout releases the window when the ACK of the frame in flight
	// doesn't arrive in time. Zero waits for the caller's context only.
	AckTimeout time.Duration
	// Lossy makes the port drop bytes on receive overrun like hardware.
	Lossy bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		RxSize:        uart.DefaultRxSize,
		TxSize:        uart.DefaultTxSize,
		QueueCapacity: comm.DefaultQueueCapacity,
		Overflow:      ring.DropOldest,
		OutboxFrames:  comm.DefaultOutboxFrames,
		Interval:      fx.DefaultInterval,
		AckTimeout:    DefaultAckTimeout,
	}
}

// Stats is a snapshot of link counters.
type Stats struct {
	comm.Stats
	Overruns    uint64
	AckTimeouts uint64
	Pending     int
	InFlight    bool
}

type sendReq struct {
	ctx      context.Context
	pkt      *comm.Packet
	done     chan error
	deadline time.Time
}

// Link owns an Engine and the Port it runs on. At most one application
// frame is unacknowledged at a time; further sends wait their turn.
type Link struct {
	Handler PacketHandler

	conf   Config
	port   *uart.Port
	pump   *uart.Pump
	engine *comm.Engine

	// owned by the loop goroutine
	pending     []*sendReq
	inflight    *sendReq
	acks        uint64
	ackTimeouts uint64
	received    comm.Packet

	lock    sync.Mutex
	loop    *fx.Loop
	stopped chan struct{}
	stats   Stats
}

// New creates a Link over conn.
func New(conn io.ReadWriter, conf Config) (*Link, error) {
	port, err := uart.NewPort(conf.RxSize, conf.TxSize)
	if err != nil {
		return nil, err
	}
	engine, err := comm.NewEngine(port,
		comm.WithQueueCapacity(conf.QueueCapacity),
		comm.WithOverflowPolicy(conf.Overflow),
		comm.WithOutboxFrames(conf.OutboxFrames))
	if err != nil {
		return nil, err
	}
	pump := uart.NewPump(port, conn)
	pump.Lossy = conf.Lossy
	return &Link{
		conf:   conf,
		port:   port,
		pump:   pump,
		engine: engine,
	}, nil
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "link"
}

// AddToLoop implements framework.LoopAdder.
func (l *Link) AddToLoop(loop *fx.Loop) {
	l.lock.Lock()
	l.loop = loop
	l.stopped = make(chan struct{})
	l.lock.Unlock()
	loop.AddPoller(fx.PollFunc(l.Poll))
	loop.AddRunnable(l.pump, fx.NamedRun("rx-wake", fx.RunFunc(l.wakeOnRx)))
}

// Run runs the link in its own loop until ctx is done or the stream fails.
func (l *Link) Run(ctx context.Context) error {
	l.lock.Lock()
	running := l.loop != nil
	l.lock.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	loop := fx.NewLoop()
	loop.Interval = l.conf.Interval
	loop.Add(l)
	defer l.stop()
	return loop.Run(ctx)
}

func (l *Link) stop() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.stopped != nil {
		close(l.stopped)
	}
	l.loop, l.stopped = nil, nil
}

func (l *Link) wakeOnRx(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.stop()
			return ctx.Err()
		case <-l.port.RxReady():
			if ctl := fx.LoopCtlFrom(ctx); ctl != nil {
				ctl.TriggerNext()
			}
		}
	}
}

// Send transmits payload as one packet and waits until the peer
// acknowledges it, the ACK times out, ctx is done, or the link stops.
func (l *Link) Send(ctx context.Context, payload []byte) error {
	pkt, err := comm.NewPacket(payload)
	if err != nil {
		return err
	}
	l.lock.Lock()
	loop, stopped := l.loop, l.stopped
	l.lock.Unlock()
	if loop == nil {
		return ErrNotRunning
	}

	req := &sendReq{ctx: ctx, pkt: pkt, done: make(chan error, 1)}
	loop.Post(func(context.Context) {
		l.pending = append(l.pending, req)
	})
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		loop.TriggerNext()
		return ctx.Err()
	case <-stopped:
		return ErrNotRunning
	}
}

// Poll implements framework.Poller.
func (l *Link) Poll(ctx context.Context) error {
	l.engine.Update()

	stats := l.engine.Stats()
	if req := l.inflight; req != nil {
		if stats.AcksReceived > l.acks {
			req.done <- nil
			l.inflight = nil
		} else if err := req.ctx.Err(); err != nil {
			glog.V(1).Infof("give up waiting for ACK: %v", err)
			req.done <- err
			l.inflight = nil
		} else if !req.deadline.IsZero() && time.Now().After(req.deadline) {
			glog.Warningf("no ACK for %s in %s", req.pkt, l.conf.AckTimeout)
			l.ackTimeouts++
			req.done <- ErrAckTimeout
			l.inflight = nil
		}
	}
	l.acks = stats.AcksReceived

	for l.engine.Read(&l.received) {
		pkt := l.received
		if h := l.Handler; h != nil {
			h.HandlePacket(ctx, &pkt)
		}
	}

	for l.inflight == nil && len(l.pending) > 0 {
		req := l.pending[0]
		if err := req.ctx.Err(); err != nil {
			req.done <- err
			l.pending = l.pending[1:]
			continue
		}
		err := l.engine.Send(req.pkt)
		if err == comm.ErrOutboxFull {
			break
		}
		l.pending = l.pending[1:]
		if err != nil {
			req.done <- err
			continue
		}
		if l.conf.AckTimeout > 0 {
			req.deadline = time.Now().Add(l.conf.AckTimeout)
		}
		l.inflight = req
	}

	l.lock.Lock()
	l.stats = Stats{
		Stats:       l.engine.Stats(),
		Overruns:    l.port.Overruns(),
		AckTimeouts: l.ackTimeouts,
		Pending:     len(l.pending),
		InFlight:    l.inflight != nil,
	}
	l.lock.Unlock()
	return nil
}

// Stats returns the counters as of the last poll.
func (l *Link) Stats() Stats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stats
}

// PacketHandlers fans a packet out to several handlers in order.
type PacketHandlers []PacketHandler

// HandlePacket implements PacketHandler.
func (hs PacketHandlers) HandlePacket(ctx context.Context, pkt *comm.Packet) {
	for _, h := range hs {
		h.HandlePacket(ctx, pkt)
	}
}
