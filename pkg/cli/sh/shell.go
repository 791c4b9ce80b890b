package sh

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/bootlink/pkg/env"
	"github.com/robotalks/bootlink/pkg/l1"
	"github.com/robotalks/bootlink/pkg/l1/comm/mqtt"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

const (
	shellKey     = "$shell"
	closedPrompt = "[none] > "
)

var (
	// ErrNoSession indicates no link is open.
	ErrNoSession = errors.New("no link open")

	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&OpenCmd,
		&ConnectCmd,
		&CloseCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func requires an open session.
func MustBeOpen(fn func(c *ishell.Context, session *Session)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		session := ShellFrom(c).Session
		if session == nil {
			c.Err(ErrNoSession)
			return
		}
		fn(c, session)
	}
}

// Print prints v as JSON or with the fallback formatter.
func Print(c *ishell.Context, v interface{}, text func() string) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text())
}

// FormatInfo prints DeviceInfo into friendly string for display.
func FormatInfo(info l1.DeviceInfo) string {
	str := info.Ref.Name()
	if info.Meta.Port != "" {
		str += fmt.Sprintf(" [%s@%d]", info.Meta.Port, info.Meta.Baud)
	}
	if info.Meta.Description != "" {
		str += ": " + info.Meta.Description
	}
	return str
}

// WithAutoOpen sets AutoOpen.
func (s *Shell) WithAutoOpen(en bool) *Shell {
	s.AutoOpen = en
	return s
}

func (s *Shell) replace(session *Session) {
	if s.Session != nil {
		s.Session.Close()
	}
	s.Session = session
	session.Start()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", session.Name))
}

// Open opens a local link on port.
func (s *Shell) Open(port string) error {
	conf := *s.Config
	if port != "" {
		conf.Port = port
	}
	l, closer, err := conf.NewLink()
	if err != nil {
		return err
	}
	s.replace(NewLocalSession(conf.Port, l, closer))
	return nil
}

// Connect talks to a device bridged over MQTT.
func (s *Shell) Connect(ref l1.DeviceRef) error {
	q, err := mqtt.NewQueueFromURL(s.Config.BrokerURL)
	if err != nil {
		return err
	}
	if err = q.ConnectAndWait(); err != nil {
		return err
	}
	rw := mqtt.NewPacketReadWriter(q).ForClient(ref)
	s.replace(NewRemoteSession(ref.Name(), rw, q))
	return nil
}

// CloseSession closes current session.
func (s *Shell) CloseSession() {
	if s.Session != nil {
		s.Session.Close()
		s.Session = nil
		s.Shell.SetPrompt(closedPrompt)
	}
}

// Discover lists devices registered on the broker.
func (s *Shell) Discover() ([]l1.DeviceInfo, error) {
	d, err := s.Config.NewDiscoverer()
	if err != nil {
		return nil, err
	}
	return d.Discover(context.Background())
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen && s.Config.Port != "" {
		if s.Interactive {
			s.Shell.Printf("Opening %s ...\n", s.Config.Port)
		}
		if err := s.Open(""); err != nil {
			log.Fatalf("open %q failed: %v", s.Config.Port, err)
		}
	}
	defer s.CloseSession()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd lists devices registered on the broker.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "list bridged devices",
		Func: func(c *ishell.Context) {
			infoList, err := ShellFrom(c).Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if infoList == nil {
				infoList = []l1.DeviceInfo{}
			}
			Print(c, infoList, func() string {
				if len(infoList) == 0 {
					return "No devices found"
				}
				var out string
				for n, info := range infoList {
					if n > 0 {
						out += "\n"
					}
					out += FormatInfo(info)
				}
				return out
			})
		},
	}

	// OpenCmd opens a local link.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[DEVICE|tcp://HOST:PORT]",
		Func: func(c *ishell.Context) {
			var port string
			if len(c.Args) > 0 {
				port = c.Args[0]
			}
			if err := ShellFrom(c).Open(port); err != nil {
				c.Err(err)
			}
		},
	}

	// ConnectCmd connects a bridged device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "TYPE/ID",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("device TYPE/ID expected"))
				return
			}
			ref, ok := l1.ParseDeviceRef(c.Args[0])
			if !ok {
				c.Err(fmt.Errorf("invalid device %q", c.Args[0]))
				return
			}
			if err := ShellFrom(c).Connect(ref); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes current session.
	CloseCmd = ishell.Cmd{
		Name:    "close",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).CloseSession()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoOpen(true).Run(flag.Args()...)
}
