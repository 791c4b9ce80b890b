package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/env"
	"github.com/robotalks/bootlink/pkg/l0/link"
	"github.com/robotalks/bootlink/pkg/l1/comm"
	"github.com/robotalks/bootlink/pkg/l1/comm/httpapi"
)

func init() {
	env.SetupFlags()
}

type bridgeStats struct {
	Link   link.Stats       `json:"link"`
	Bridge comm.BridgeStats `json:"bridge"`
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.Default()
	l, port, err := conf.NewLink()
	if err != nil {
		glog.Exit(err)
	}
	defer port.Close()
	peer, err := conf.NewPeer()
	if err != nil {
		glog.Exit(err)
	}
	bridge := comm.NewBridge(l, peer.ReadWriter)
	handlers := link.PacketHandlers{bridge}

	loop := fx.NewLoop()
	loop.Interval = conf.Interval
	loop.Add(l, peer, bridge)
	if conf.HTTPAddr != "" {
		srv := httpapi.NewServer(conf.HTTPAddr, l, func() interface{} {
			return bridgeStats{Link: l.Stats(), Bridge: bridge.Stats()}
		})
		handlers = append(handlers, srv)
		loop.AddRunnable(srv)
	}
	l.Handler = handlers

	runner := fx.NewRunner().HandleSignals()
	if err := runner.Go(loop).Wait(); err != nil {
		glog.Exit(err)
	}
}
