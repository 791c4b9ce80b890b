package sh

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
)

type chanReadWriter struct {
	in  chan []byte
	out chan []byte
}

func (rw *chanReadWriter) ReadPacket() ([]byte, error) {
	pkt, ok := <-rw.in
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

func (rw *chanReadWriter) WritePacket(pkt []byte) error {
	rw.out <- pkt
	return nil
}

func TestSessionInbox(t *testing.T) {
	s := newSession("test", nil, nil)
	defer s.Close()
	for i := 0; i < InboxSize+6; i++ {
		pkt, err := l0.NewPacket([]byte{byte(i), 0})
		require.NoError(t, err)
		s.HandlePacket(context.Background(), pkt)
	}
	pkts := s.Received()
	require.Len(t, pkts, InboxSize)
	require.EqualValues(t, 6, pkts[0].Data[0])
	require.EqualValues(t, 6, s.Missed())
	require.Empty(t, s.Received())
}

func TestRemoteSession(t *testing.T) {
	rw := &chanReadWriter{in: make(chan []byte, 4), out: make(chan []byte, 4)}
	defer close(rw.in)
	s := NewRemoteSession("stm32/a1", rw, nil)
	s.Start()
	defer s.Close()

	require.NoError(t, s.Sender.Send(context.Background(), []byte("down")))
	require.Equal(t, []byte("down"), <-rw.out)
	require.Equal(t, l0.ErrPayloadTooLong, s.Sender.Send(context.Background(), make([]byte, 17)))

	rw.in <- []byte{l0.RetxMarker}
	rw.in <- []byte("up")
	deadline := time.Now().Add(time.Second)
	var pkts []l0.Packet
	for len(pkts) == 0 && time.Now().Before(deadline) {
		pkts = s.Received()
		time.Sleep(time.Millisecond)
	}
	require.Len(t, pkts, 1)
	require.Equal(t, []byte("up"), pkts[0].Payload())
}
