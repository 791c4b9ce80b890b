package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"net"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/env"
	"github.com/robotalks/bootlink/pkg/sim"
)

var (
	listenAddr = "127.0.0.1:7000"
	appName    = "echo"
	noiseEvery int
)

func init() {
	env.SetupFlags()
	flag.StringVar(&listenAddr, "listen", listenAddr, "Listen address for host connections.")
	flag.StringVar(&appName, "app", appName, "Device app: echo or sink.")
	flag.IntVar(&noiseEvery, "noise", noiseEvery, "Flip a bit in every Nth byte sent, 0 disables.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	app, ok := sim.Apps[appName]
	if !ok {
		glog.Exitf("unknown app %q", appName)
	}
	conf, err := env.Default().LinkConfig()
	if err != nil {
		glog.Exit(err)
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		glog.Exit(err)
	}
	glog.Infof("simulated device on %s", ln.Addr())
	srv := &sim.Server{Listener: ln, Config: conf, App: app, NoiseEvery: noiseEvery}
	if err := fx.NewRunner().HandleSignals().Go(srv).Wait(); err != nil {
		glog.Exit(err)
	}
}
