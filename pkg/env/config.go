// Package env builds links and bridges from flags and BOOTLINK_*
// environment variables.
package env

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/bootlink/pkg/framework"
	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
	"github.com/robotalks/bootlink/pkg/l0/link"
	"github.com/robotalks/bootlink/pkg/l0/uart"
	"github.com/robotalks/bootlink/pkg/l1"
	"github.com/robotalks/bootlink/pkg/l1/comm"
	"github.com/robotalks/bootlink/pkg/l1/comm/mqtt"
	"github.com/robotalks/bootlink/pkg/l1/comm/stream"
	"github.com/robotalks/bootlink/pkg/l1/comm/websocket"
	"github.com/robotalks/bootlink/pkg/ring"
)

// ErrNoPort indicates no serial device or stream address is configured.
var ErrNoPort = errors.New("port not specified")

// Config provides common options to setup links and bridges.
type Config struct {
	// Port is a serial device, or tcp://host:port for a raw byte stream.
	Port string
	Baud int

	Device      l1.DeviceRef
	Description string

	// PeerURL is the far side of the bridge:
	// mqtt://host:port/prefix, ws://host:port/path or tcp://host:port.
	PeerURL string
	// BrokerURL is the MQTT broker used by discovery and monitoring.
	BrokerURL string
	// HTTPAddr serves stats and a packet websocket when not empty.
	HTTPAddr string

	QueueCapacity int
	Overflow      string
	OutboxFrames  int
	Interval      time.Duration
	AckTimeout    time.Duration
	Lossy         bool
}

var defaultConfig = Config{
	Baud:          uart.DefaultBaud,
	Device:        l1.DeviceRef{Type: "bootlink"},
	BrokerURL:     "mqtt://localhost:1883/" + mqtt.DefaultTopicPrefix,
	QueueCapacity: l0.DefaultQueueCapacity,
	Overflow:      ring.DropOldest.String(),
	OutboxFrames:  l0.DefaultOutboxFrames,
	Interval:      fx.DefaultInterval,
	AckTimeout:    link.DefaultAckTimeout,
}

func init() {
	if val := os.Getenv("BOOTLINK_PORT"); val != "" {
		defaultConfig.Port = val
	}
	if val, err := strconv.Atoi(os.Getenv("BOOTLINK_BAUD")); err == nil && val > 0 {
		defaultConfig.Baud = val
	}
	if val := os.Getenv("BOOTLINK_TYPE"); val != "" {
		defaultConfig.Device.Type = val
	}
	if val := os.Getenv("BOOTLINK_ID"); val != "" {
		defaultConfig.Device.ID = val
	} else {
		defaultConfig.Device.ID = MachineID()
	}
	if val := os.Getenv("BOOTLINK_PEER"); val != "" {
		defaultConfig.PeerURL = val
	}
	if val := os.Getenv("BOOTLINK_BROKER"); val != "" {
		defaultConfig.BrokerURL = val
	}
	if val := os.Getenv("BOOTLINK_HTTP"); val != "" {
		defaultConfig.HTTPAddr = val
	}
	if val, err := strconv.Atoi(os.Getenv("BOOTLINK_QUEUE")); err == nil {
		defaultConfig.QueueCapacity = val
	}
	if val := os.Getenv("BOOTLINK_OVERFLOW"); val != "" {
		defaultConfig.Overflow = val
	}
	if val, err := time.ParseDuration(os.Getenv("BOOTLINK_ACK_TIMEOUT")); err == nil {
		defaultConfig.AckTimeout = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Port, "port", defaultConfig.Port, "Serial device or tcp://host:port.")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Serial baud rate.")
	flag.StringVar(&defaultConfig.Device.Type, "type", defaultConfig.Device.Type, "Device type.")
	flag.StringVar(&defaultConfig.Device.ID, "id", defaultConfig.Device.ID, "Device ID.")
	flag.StringVar(&defaultConfig.Description, "desc", defaultConfig.Description, "Device description.")
	flag.StringVar(&defaultConfig.PeerURL, "peer", defaultConfig.PeerURL, "Bridge peer URL (mqtt://, ws://, tcp://).")
	flag.StringVar(&defaultConfig.BrokerURL, "mqtt", defaultConfig.BrokerURL, "MQTT broker URL.")
	flag.StringVar(&defaultConfig.HTTPAddr, "http", defaultConfig.HTTPAddr, "HTTP listen address.")
	flag.IntVar(&defaultConfig.QueueCapacity, "queue", defaultConfig.QueueCapacity, "Receive queue capacity, power of two.")
	flag.StringVar(&defaultConfig.Overflow, "overflow", defaultConfig.Overflow, "Queue overflow policy: drop-oldest or drop-newest.")
	flag.DurationVar(&defaultConfig.Interval, "poll", defaultConfig.Interval, "Poll interval.")
	flag.DurationVar(&defaultConfig.AckTimeout, "ack-timeout", defaultConfig.AckTimeout, "Wait for the ACK of one frame, 0 waits forever.")
	flag.BoolVar(&defaultConfig.Lossy, "lossy", defaultConfig.Lossy, "Drop received bytes on overrun like hardware.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// LinkConfig converts to link.Config.
func (c *Config) LinkConfig() (link.Config, error) {
	conf := link.DefaultConfig()
	policy, err := ring.ParseOverflowPolicy(c.Overflow)
	if err != nil {
		return conf, err
	}
	if !ring.IsPowerOfTwo(c.QueueCapacity) {
		return conf, fmt.Errorf("queue capacity %d: %w", c.QueueCapacity, ring.ErrCapacity)
	}
	conf.QueueCapacity = c.QueueCapacity
	conf.Overflow = policy
	if c.OutboxFrames > 0 {
		conf.OutboxFrames = c.OutboxFrames
	}
	if c.Interval > 0 {
		conf.Interval = c.Interval
	}
	if c.AckTimeout >= 0 {
		conf.AckTimeout = c.AckTimeout
	}
	conf.Lossy = c.Lossy
	return conf, nil
}

// Info returns the DeviceInfo published for the link.
func (c *Config) Info() l1.DeviceInfo {
	return l1.DeviceInfo{
		Ref: c.Device,
		Meta: l1.DeviceMeta{
			Description: c.Description,
			Port:        c.Port,
			Baud:        c.Baud,
		},
	}
}

// OpenPort opens the serial device or byte stream.
func (c *Config) OpenPort() (io.ReadWriteCloser, error) {
	if c.Port == "" {
		return nil, ErrNoPort
	}
	if strings.HasPrefix(c.Port, "tcp://") {
		conn, err := net.Dial("tcp", strings.TrimPrefix(c.Port, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", c.Port, err)
		}
		return conn, nil
	}
	return uart.OpenSerial(uart.SerialConfig{Device: c.Port, Baud: c.Baud})
}

// NewLink opens the port and creates a link on it. The returned Closer
// closes the port.
func (c *Config) NewLink() (*link.Link, io.Closer, error) {
	conf, err := c.LinkConfig()
	if err != nil {
		return nil, nil, err
	}
	port, err := c.OpenPort()
	if err != nil {
		return nil, nil, err
	}
	l, err := link.New(port, conf)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	glog.Infof("link open on %s", c.Port)
	return l, port, nil
}

// Peer is the far side of a bridge.
type Peer struct {
	ReadWriter comm.PacketReadWriter
	Registrar  *mqtt.Registrar
}

// AddToLoop implements LoopAdder.
func (p *Peer) AddToLoop(loop *fx.Loop) {
	if p.Registrar != nil {
		loop.Add(p.Registrar)
	}
}

// NewPeer creates the bridge peer selected by the scheme of PeerURL.
func (c *Config) NewPeer() (*Peer, error) {
	if c.PeerURL == "" {
		return nil, fmt.Errorf("bridge peer not specified")
	}
	u, err := url.Parse(c.PeerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid peer URL: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "mqtts":
		if !c.Device.IsValid() {
			return nil, fmt.Errorf("invalid device %q", c.Device.Name())
		}
		reg, err := mqtt.NewRegistrar(c.PeerURL, c.Info())
		if err != nil {
			return nil, err
		}
		return &Peer{ReadWriter: reg.PacketReadWriter(), Registrar: reg}, nil
	case "ws", "wss":
		rw, err := websocket.Dial(c.PeerURL)
		if err != nil {
			return nil, err
		}
		return &Peer{ReadWriter: rw}, nil
	case "tcp":
		conn, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return &Peer{ReadWriter: stream.New(conn)}, nil
	default:
		return nil, fmt.Errorf("unknown peer URL scheme: %q", u.Scheme)
	}
}

// NewDiscoverer creates a Discoverer on BrokerURL.
func (c *Config) NewDiscoverer() (l1.Discoverer, error) {
	return mqtt.NewDiscoverer(c.BrokerURL)
}
