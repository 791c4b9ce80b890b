package uart

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startPump(t *testing.T, port *Port, lossy bool) (net.Conn, func()) {
	local, remote := net.Pipe()
	pump := NewPump(port, local)
	pump.ChunkSize = 8
	pump.Lossy = lossy
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()
	return remote, func() {
		cancel()
		local.Close()
		remote.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("pump didn't stop")
		}
	}
}

func TestPumpTransmit(t *testing.T) {
	port := NewDefaultPort()
	remote, stop := startPump(t, port, false)
	defer stop()

	data := []byte("a frame worth of bytes to send")
	require.Equal(t, len(data), port.Put(data))
	got := make([]byte, len(data))
	remote.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(remote, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPumpReceiveLossless(t *testing.T) {
	port, err := NewPort(16, 16)
	require.NoError(t, err)
	remote, stop := startPump(t, port, false)
	defer stop()

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	go remote.Write(data)

	var got []byte
	deadline := time.After(2 * time.Second)
	for len(got) < len(data) {
		for port.HasByte() {
			got = append(got, port.TakeByte())
		}
		if len(got) >= len(data) {
			break
		}
		select {
		case <-port.RxReady():
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("received %d of %d bytes", len(got), len(data))
		}
	}
	require.Equal(t, data, got)
	require.Zero(t, port.Overruns())
}

func TestPumpReceiveLossy(t *testing.T) {
	port, err := NewPort(16, 16)
	require.NoError(t, err)
	remote, stop := startPump(t, port, true)
	defer stop()

	remote.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = remote.Write(make([]byte, 40))
	require.NoError(t, err)
	deadline := time.Now().Add(time.Second)
	for port.Overruns() < 24 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.EqualValues(t, 24, port.Overruns())
	rx, _ := port.Buffered()
	require.Equal(t, 16, rx)
}

func TestPumpStopsOnReadError(t *testing.T) {
	local, remote := net.Pipe()
	pump := NewPump(NewDefaultPort(), local)
	done := make(chan error, 1)
	go func() { done <- pump.Run(context.Background()) }()
	remote.Close()
	select {
	case err := <-done:
		require.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("pump didn't stop")
	}
	local.Close()
}
