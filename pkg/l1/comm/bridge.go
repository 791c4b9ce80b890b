package comm

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/link"
)

// DefaultBacklog is the number of upstream payloads waiting for the writer.
const DefaultBacklog = 32

// BridgeStats counts forwarded payloads.
type BridgeStats struct {
	Up      uint64
	Down    uint64
	Dropped uint64
	Refused uint64
	// Unacked counts downstream packets the device never acknowledged.
	Unacked uint64
}

// Bridge forwards packets between a link and a PacketReadWriter. Payloads
// read from ReadWriter are sent down the link, packets received from the
// link are written to ReadWriter.
type Bridge struct {
	Sender     PacketSender
	ReadWriter PacketReadWriter
	Backlog    int

	upCh     chan []byte
	initOnce sync.Once

	up, down, dropped, refused, unacked atomic.Uint64
}

// NewBridge creates a Bridge.
func NewBridge(sender PacketSender, rw PacketReadWriter) *Bridge {
	return &Bridge{Sender: sender, ReadWriter: rw}
}

func (b *Bridge) init() {
	b.initOnce.Do(func() {
		n := b.Backlog
		if n <= 0 {
			n = DefaultBacklog
		}
		b.upCh = make(chan []byte, n)
	})
}

// HandlePacket queues a received packet for the writer. It never blocks
// as it's called from the link's loop.
func (b *Bridge) HandlePacket(_ context.Context, pkt *l0.Packet) {
	b.init()
	select {
	case b.upCh <- append([]byte(nil), pkt.Payload()...):
	default:
		b.dropped.Add(1)
		glog.Warningf("bridge backlog full, drop %s", pkt)
	}
}

// Stats returns forwarding counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Up:      b.up.Load(),
		Down:    b.down.Load(),
		Dropped: b.dropped.Load(),
		Refused: b.refused.Load(),
		Unacked: b.unacked.Load(),
	}
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "bridge"
}

// Run implements Runnable.
func (b *Bridge) Run(parent context.Context) error {
	b.init()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writeDone := make(chan error, 1)
	go func() {
		err := b.writeLoop(ctx)
		cancel()
		writeDone <- err
	}()
	readErr := fx.RunWithContextCancel(ctx, func() { b.Close() }, func() error {
		return b.readLoop(ctx)
	})
	cancel()
	writeErr := <-writeDone

	var errs fx.AggregatedError
	for _, err := range []error{readErr, writeErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			errs.Add(err)
		}
	}
	if err := errs.Aggregate(); err != nil {
		return err
	}
	return parent.Err()
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		payload, err := b.ReadWriter.ReadPacket()
		if err != nil {
			return err
		}
		err = b.Sender.Send(ctx, payload)
		switch {
		case err == nil:
			b.down.Add(1)
		case errors.Is(err, l0.ErrPayloadTooLong), errors.Is(err, l0.ErrReservedPayload):
			b.refused.Add(1)
			glog.Warningf("refuse downstream packet %x: %v", payload, err)
		case errors.Is(err, link.ErrAckTimeout):
			b.unacked.Add(1)
			glog.Warningf("downstream packet %x not acknowledged", payload)
		default:
			return err
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-b.upCh:
			if err := b.ReadWriter.WritePacket(payload); err != nil {
				return err
			}
			b.up.Add(1)
		}
	}
}

// Close implements Closer.
func (b *Bridge) Close() error {
	if closer, ok := b.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// AddToLoop implements LoopAdder.
func (b *Bridge) AddToLoop(loop *fx.Loop) {
	if adder, ok := b.ReadWriter.(fx.LoopAdder); ok {
		loop.Add(adder)
	} else if runnable, ok := b.ReadWriter.(fx.Runnable); ok {
		loop.AddRunnable(runnable)
	}
	loop.AddRunnable(b)
}
