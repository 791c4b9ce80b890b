package link

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/l0/comm"
)

type testPeer struct {
	link *Link
	rxCh chan comm.Packet
	done chan error
}

func startPair(t *testing.T) (*testPeer, *testPeer, func()) {
	connA, connB := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	start := func(conn net.Conn) *testPeer {
		conf := DefaultConfig()
		conf.Interval = time.Millisecond
		l, err := New(conn, conf)
		require.NoError(t, err)
		p := &testPeer{link: l, rxCh: make(chan comm.Packet, 64), done: make(chan error, 1)}
		l.Handler = HandlePacketFunc(func(_ context.Context, pkt *comm.Packet) {
			p.rxCh <- *pkt
		})
		go func() { p.done <- l.Run(ctx) }()
		return p
	}
	a, b := start(connA), start(connB)
	waitRunning(t, a.link)
	waitRunning(t, b.link)
	return a, b, func() {
		cancel()
		connA.Close()
		connB.Close()
		for _, p := range []*testPeer{a, b} {
			select {
			case <-p.done:
			case <-time.After(time.Second):
				t.Error("link didn't stop")
			}
		}
	}
}

func waitRunning(t *testing.T, l *Link) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.lock.Lock()
		running := l.loop != nil
		l.lock.Unlock()
		if running {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("link not running")
}

// waitStats polls the snapshot since it is refreshed at the end of a poll.
func waitStats(t *testing.T, l *Link, cond func(Stats) bool) Stats {
	deadline := time.Now().Add(time.Second)
	for {
		s := l.Stats()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected stats %+v", s)
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *testPeer) expect(t *testing.T, payload []byte) {
	select {
	case pkt := <-p.rxCh:
		require.Equal(t, payload, pkt.Payload())
		require.True(t, pkt.IsValid())
	case <-time.After(2 * time.Second):
		t.Fatalf("packet %q not received", payload)
	}
}

func TestLinkSendAcknowledged(t *testing.T) {
	a, b, stop := startPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.link.Send(ctx, []byte("hello")))
	b.expect(t, []byte("hello"))

	require.NoError(t, b.link.Send(ctx, []byte("world!")))
	a.expect(t, []byte("world!"))

	stats := waitStats(t, a.link, func(s Stats) bool {
		return s.AcksReceived == 1 && s.Delivered == 1
	})
	require.False(t, stats.InFlight)
	require.Zero(t, stats.CRCErrors)
}

func TestLinkSendsInOrder(t *testing.T) {
	a, b, stop := startPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payloads := [][]byte{
		[]byte("one"), []byte("two"), []byte("three"), []byte("four"),
		[]byte("five"), []byte("six"), []byte("seven"), []byte("eight"),
		[]byte("nine"), []byte("ten"),
	}
	for _, p := range payloads {
		require.NoError(t, a.link.Send(ctx, p))
	}
	for _, p := range payloads {
		b.expect(t, p)
	}
}

func TestLinkConcurrentSenders(t *testing.T) {
	a, b, stop := startPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- a.link.Send(ctx, []byte{'p', byte('0' + i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[byte]bool)
	for i := 0; i < 8; i++ {
		select {
		case pkt := <-b.rxCh:
			seen[pkt.Payload()[1]] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 8 packets", i)
		}
	}
	require.Len(t, seen, 8)
}

func TestLinkSendErrors(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, ErrNotRunning, l.Send(context.Background(), []byte("x")))
	require.Equal(t, comm.ErrPayloadTooLong, l.Send(context.Background(), make([]byte, 17)))
	require.Equal(t, comm.ErrReservedPayload, l.Send(context.Background(), []byte{comm.AckMarker}))
}

func TestLinkSendCanceledWithoutPeer(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	conf := DefaultConfig()
	conf.Interval = time.Millisecond
	l, err := New(local, conf)
	require.NoError(t, err)

	runCtx, stopRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(runCtx) }()
	waitRunning(t, l)

	// drain what the link writes but never answer.
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, l.Send(ctx, []byte("lost")))

	// the window is released once the caller gives up.
	stats := waitStats(t, l, func(s Stats) bool { return !s.InFlight })
	require.EqualValues(t, 1, stats.FramesSent)
	require.Zero(t, stats.AcksReceived)

	stopRun()
	local.Close()
	<-done
	require.Equal(t, ErrNotRunning, l.Send(context.Background(), []byte("late")))
}

func TestLinkRunTwice(t *testing.T) {
	a, _, stop := startPair(t)
	defer stop()
	require.Equal(t, ErrAlreadyRunning, a.link.Run(context.Background()))
}

func TestLinkInSharedLoop(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()
	conf := DefaultConfig()
	conf.Interval = time.Millisecond

	a, err := New(connA, conf)
	require.NoError(t, err)
	b, err := New(connB, conf)
	require.NoError(t, err)
	rxCh := make(chan comm.Packet, 4)
	b.Handler = HandlePacketFunc(func(_ context.Context, pkt *comm.Packet) {
		rxCh <- *pkt
	})

	// one loop hosting the link next to other runnables.
	loop := fx.NewLoop()
	loop.Interval = conf.Interval
	loop.Add(a)
	loop.AddRunnable(fx.RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	peerDone := make(chan error, 1)
	go func() { peerDone <- b.Run(ctx) }()
	waitRunning(t, b)

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	require.NoError(t, a.Send(sendCtx, []byte("shared")))
	select {
	case pkt := <-rxCh:
		require.Equal(t, []byte("shared"), pkt.Payload())
	case <-time.After(2 * time.Second):
		t.Fatal("packet not received")
	}

	cancel()
	require.Equal(t, context.Canceled, <-loopDone)
	<-peerDone
	require.Equal(t, ErrNotRunning, a.Send(context.Background(), []byte("late")))
}

func TestLinkRunStaysUp(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	l, err := New(local, DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestLinkAckTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	conf := DefaultConfig()
	conf.Interval = time.Millisecond
	conf.AckTimeout = 20 * time.Millisecond
	l, err := New(local, conf)
	require.NoError(t, err)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go l.Run(runCtx)
	waitRunning(t, l)
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Equal(t, ErrAckTimeout, l.Send(ctx, []byte("first")))
	// the window is free again for the next frame.
	require.Equal(t, ErrAckTimeout, l.Send(ctx, []byte("second")))
	require.NoError(t, ctx.Err())

	stats := waitStats(t, l, func(s Stats) bool { return s.AckTimeouts == 2 })
	require.False(t, stats.InFlight)
	require.EqualValues(t, 2, stats.FramesSent)
}
