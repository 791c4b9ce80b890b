// Package httpapi exposes a link over HTTP: counters as JSON and a
// websocket carrying packet payloads both ways.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	xws "golang.org/x/net/websocket"

	fx "github.com/robotalks/bootlink/pkg/framework"
	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/link"
	"github.com/robotalks/bootlink/pkg/l1/comm"
	"github.com/robotalks/bootlink/pkg/l1/comm/websocket"
)

// subscriberBacklog is the number of packets buffered per websocket client.
const subscriberBacklog = 16

// Server serves the HTTP routes.
type Server struct {
	Addr   string
	Sender comm.PacketSender
	// Stats returns a JSON serializable snapshot.
	Stats func() interface{}

	subsLock sync.Mutex
	subs     map[chan []byte]struct{}
}

// NewServer creates a Server.
func NewServer(addr string, sender comm.PacketSender, stats func() interface{}) *Server {
	return &Server{
		Addr:   addr,
		Sender: sender,
		Stats:  stats,
		subs:   make(map[chan []byte]struct{}),
	}
}

// Router creates the routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.Handle("/packets", xws.Handler(s.servePackets)).Methods("GET")
	return r
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "http"
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Router()}
	glog.Infof("http listening on %s", s.Addr)
	return fx.RunWithContextCancel(ctx, func() { srv.Close() }, func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

// HandlePacket broadcasts a received packet to websocket clients. Slow
// clients miss packets.
func (s *Server) HandlePacket(_ context.Context, pkt *l0.Packet) {
	payload := append([]byte(nil), pkt.Payload()...)
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			glog.V(1).Infof("websocket client lagging, drop %s", pkt)
		}
	}
}

// Subscribers is the number of connected websocket clients.
func (s *Server) Subscribers() int {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	return len(s.subs)
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBacklog)
	s.subsLock.Lock()
	s.subs[ch] = struct{}{}
	s.subsLock.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.subsLock.Lock()
	delete(s.subs, ch)
	s.subsLock.Unlock()
	close(ch)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if s.Stats == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errorResponse{Error: "no stats"})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.Stats())
}

func (s *Server) servePackets(conn *xws.Conn) {
	rw := websocket.New(conn)
	defer rw.Close()
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	go func() {
		for payload := range ch {
			if err := rw.WritePacket(payload); err != nil {
				cancel()
				rw.Close()
				return
			}
		}
	}()

	for {
		payload, err := rw.ReadPacket()
		if err != nil {
			return
		}
		if s.Sender == nil {
			continue
		}
		err = s.Sender.Send(ctx, payload)
		switch {
		case err == nil:
		case errors.Is(err, l0.ErrPayloadTooLong), errors.Is(err, l0.ErrReservedPayload):
			glog.Warningf("websocket: refuse packet %x: %v", payload, err)
		case errors.Is(err, link.ErrAckTimeout):
			glog.Warningf("websocket: packet %x not acknowledged", payload)
		default:
			glog.Warningf("websocket: send failed: %v", err)
			return
		}
	}
}
