package sim

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/l0/link"
)

// Server accepts byte stream connections, one simulated device each.
type Server struct {
	Listener net.Listener
	Config   link.Config
	App      App
	// NoiseEvery corrupts every Nth byte the device writes.
	NoiseEvery int
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "sim-server"
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	return fx.RunWithContextCloser(ctx, s.Listener, func() error {
		for {
			conn, err := s.Listener.Accept()
			if err != nil {
				return err
			}
			glog.Infof("sim: device attached to %s", conn.RemoteAddr())
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serve(ctx, conn)
			}()
		}
	})
}

func (s *Server) serve(ctx context.Context, conn net.Conn) error {
	w := &NoisyWriter{ReadWriter: conn, Every: s.NoiseEvery}
	d, err := NewDevice(w, s.Config, s.App)
	if err != nil {
		conn.Close()
		return err
	}
	err = fx.RunWithContextCloser(ctx, conn, func() error {
		return d.Run(ctx)
	})
	if errors.Is(err, context.Canceled) {
		return err
	}
	glog.Infof("sim: device detached from %s: %v", conn.RemoteAddr(), err)
	return nil
}
