package sh

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/link"
	"github.com/robotalks/bootlink/pkg/l1/comm"
	"github.com/robotalks/bootlink/pkg/ring"
)

// InboxSize is the number of received packets kept for recv.
const InboxSize = 64

// Session is an open link, either local on a port or remote via a bridge.
type Session struct {
	Name   string
	Ctx    context.Context
	Cancel func()
	Loop   *fx.Loop
	Sender comm.PacketSender
	// Stats returns a snapshot for display.
	Stats func() interface{}

	closer    io.Closer
	inboxLock sync.Mutex
	inbox     *ring.Ring[l0.Packet]
}

func newSession(name string, sender comm.PacketSender, closer io.Closer) *Session {
	inbox, err := ring.New[l0.Packet](InboxSize, ring.DropOldest)
	if err != nil {
		panic(err)
	}
	s := &Session{
		Name:   name,
		Loop:   fx.NewLoop(),
		Sender: sender,
		closer: closer,
		inbox:  inbox,
	}
	s.Ctx, s.Cancel = context.WithCancel(context.Background())
	return s
}

// NewLocalSession runs a link in a session.
func NewLocalSession(name string, l *link.Link, closer io.Closer) *Session {
	s := newSession(name, l, closer)
	l.Handler = s
	s.Stats = func() interface{} { return l.Stats() }
	s.Loop.Add(l)
	return s
}

// NewRemoteSession talks to a bridged device through rw. Sends are not
// acknowledged end to end.
func NewRemoteSession(name string, rw comm.PacketReadWriter, closer io.Closer) *Session {
	s := newSession(name, &writerSender{w: rw}, closer)
	if runnable, ok := rw.(fx.Runnable); ok {
		s.Loop.AddRunnable(runnable)
	}
	s.Loop.AddRunnable(fx.NamedRun("remote-reader", fx.RunFunc(func(ctx context.Context) error {
		return fx.RunWithContextCancel(ctx, func() {
			if c, ok := rw.(io.Closer); ok {
				c.Close()
			}
		}, func() error {
			for {
				payload, err := rw.ReadPacket()
				if err != nil {
					return err
				}
				pkt, err := l0.NewPacket(payload)
				if err != nil {
					glog.Warningf("%s: ignore payload %x: %v", name, payload, err)
					continue
				}
				s.HandlePacket(ctx, pkt)
			}
		})
	})))
	return s
}

// Start runs the session loop in background.
func (s *Session) Start() {
	go func() {
		if err := s.Loop.Run(s.Ctx); err != nil && s.Ctx.Err() == nil {
			glog.Errorf("%s: %v", s.Name, err)
		}
	}()
}

// Close stops the session.
func (s *Session) Close() error {
	s.Cancel()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// HandlePacket implements link.PacketHandler.
func (s *Session) HandlePacket(_ context.Context, pkt *l0.Packet) {
	s.inboxLock.Lock()
	s.inbox.Push(*pkt)
	s.inboxLock.Unlock()
}

// Received drains received packets, oldest first.
func (s *Session) Received() (pkts []l0.Packet) {
	s.inboxLock.Lock()
	defer s.inboxLock.Unlock()
	for {
		pkt, ok := s.inbox.Pop()
		if !ok {
			return
		}
		pkts = append(pkts, pkt)
	}
}

// Missed is the number of packets dropped from a full inbox.
func (s *Session) Missed() uint64 {
	s.inboxLock.Lock()
	defer s.inboxLock.Unlock()
	return s.inbox.Dropped()
}

type writerSender struct {
	w    comm.PacketWriter
	lock sync.Mutex
}

func (s *writerSender) Send(_ context.Context, payload []byte) error {
	if _, err := l0.NewPacket(payload); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.w.WritePacket(payload)
}
