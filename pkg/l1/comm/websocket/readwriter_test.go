package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestReadWriterEcho(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		rw := New(conn)
		for {
			pkt, err := rw.ReadPacket()
			if err != nil {
				return
			}
			if err = rw.WritePacket(append([]byte("re:"), pkt...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rw, err := Dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, rw.WritePacket([]byte{1, 2, 3}))
	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{'r', 'e', ':', 1, 2, 3}, pkt)
}
