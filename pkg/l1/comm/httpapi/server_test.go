package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l1/comm/websocket"
)

type sendFunc func(context.Context, []byte) error

func (f sendFunc) Send(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

func TestStats(t *testing.T) {
	s := NewServer("", nil, func() interface{} {
		return map[string]int{"delivered": 3}
	})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 3, stats["delivered"])

	resp, err = http.Post(srv.URL+"/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatsMissing(t *testing.T) {
	srv := httptest.NewServer(NewServer("", nil, nil).Router())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPackets(t *testing.T) {
	sent := make(chan []byte, 4)
	s := NewServer("", sendFunc(func(_ context.Context, payload []byte) error {
		if len(payload) > l0.DataSize {
			return l0.ErrPayloadTooLong
		}
		sent <- payload
		return nil
	}), nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	rw, err := websocket.Dial("ws" + strings.TrimPrefix(srv.URL, "http") + "/packets")
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, rw.WritePacket(make([]byte, 20)))
	require.NoError(t, rw.WritePacket([]byte("down")))
	select {
	case payload := <-sent:
		require.Equal(t, []byte("down"), payload)
	case <-time.After(time.Second):
		t.Fatal("packet not sent")
	}

	deadline := time.Now().Add(time.Second)
	for s.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, s.Subscribers())
	pkt, err := l0.NewPacket([]byte("up"))
	require.NoError(t, err)
	s.HandlePacket(context.Background(), pkt)
	payload, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte("up"), payload)

	rw.Close()
	deadline = time.Now().Add(time.Second)
	for s.Subscribers() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Zero(t, s.Subscribers())
}
