// Package sim simulates a device running the L0 protocol, for exercising
// hosts without hardware.
package sim

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/link"
)

// App produces the replies to a received payload.
type App func(payload []byte) [][]byte

// Echo replies with the same payload.
func Echo(payload []byte) [][]byte {
	return [][]byte{payload}
}

// Sink never replies.
func Sink([]byte) [][]byte {
	return nil
}

// Apps are the apps selectable by name.
var Apps = map[string]App{
	"echo": Echo,
	"sink": Sink,
}

// Device is a simulated device on a byte stream.
type Device struct {
	Link *link.Link
	App  App

	replyCh  chan []byte
	recvLock sync.Mutex
	received [][]byte
	replies  atomic.Uint64
}

// NewDevice creates a Device on conn.
func NewDevice(conn io.ReadWriter, conf link.Config, app App) (*Device, error) {
	l, err := link.New(conn, conf)
	if err != nil {
		return nil, err
	}
	if app == nil {
		app = Echo
	}
	d := &Device{Link: l, App: app, replyCh: make(chan []byte, 16)}
	l.Handler = d
	return d, nil
}

// HandlePacket implements link.PacketHandler.
func (d *Device) HandlePacket(_ context.Context, pkt *comm.Packet) {
	payload := append([]byte(nil), pkt.Payload()...)
	d.recvLock.Lock()
	d.received = append(d.received, payload)
	d.recvLock.Unlock()
	for _, reply := range d.App(payload) {
		select {
		case d.replyCh <- reply:
		default:
			glog.Warningf("sim: reply backlog full, drop % x", reply)
		}
	}
}

// Received returns payloads received so far.
func (d *Device) Received() [][]byte {
	d.recvLock.Lock()
	defer d.recvLock.Unlock()
	return append([][]byte(nil), d.received...)
}

// Replies is the number of acknowledged replies.
func (d *Device) Replies() uint64 {
	return d.replies.Load()
}

// AddToLoop implements framework.LoopAdder.
func (d *Device) AddToLoop(loop *fx.Loop) {
	loop.Add(d.Link)
	loop.AddRunnable(fx.NamedRun("sim-replier", fx.RunFunc(d.reply)))
}

// Run runs the device until ctx is done or the stream fails.
func (d *Device) Run(ctx context.Context) error {
	return fx.NewLoop().Add(d).Run(ctx)
}

func (d *Device) reply(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-d.replyCh:
			if err := d.Link.Send(ctx, payload); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				glog.Warningf("sim: reply % x: %v", payload, err)
				continue
			}
			d.replies.Add(1)
		}
	}
}
