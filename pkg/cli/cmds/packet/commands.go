package packet

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/bootlink/pkg/cli/sh"
	l0 "github.com/robotalks/bootlink/pkg/l0/comm"
)

// SendTimeout bounds waiting for the ACK of a sent packet.
var SendTimeout = 2 * time.Second

// ParseHex decodes a payload like "5a 41 42" or "5a4142".
func ParseHex(args []string) ([]byte, error) {
	payload, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return payload, nil
}

// FormatPacket prints a packet as hex with the printable text.
func FormatPacket(pkt *l0.Packet) string {
	payload := pkt.Payload()
	text := make([]byte, len(payload))
	for n, b := range payload {
		if b >= 0x20 && b < 0x7f {
			text[n] = b
		} else {
			text[n] = '.'
		}
	}
	return fmt.Sprintf("% x  |%s|", payload, text)
}

func send(c *ishell.Context, session *sh.Session, payload []byte) {
	ctx, cancel := context.WithTimeout(session.Ctx, SendTimeout)
	defer cancel()
	if err := session.Sender.Send(ctx, payload); err != nil {
		c.Err(err)
		return
	}
	c.Println("OK")
}

type packetOutput struct {
	Length  byte   `json:"length"`
	Payload []byte `json:"payload"`
}

var (
	// SendCmd sends text as a packet.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "TEXT (at most 16 bytes)",
		Func: sh.MustBeOpen(func(c *ishell.Context, session *sh.Session) {
			send(c, session, []byte(strings.Join(c.Args, " ")))
		}),
	}

	// SendHexCmd sends hex bytes as a packet.
	SendHexCmd = ishell.Cmd{
		Name:    "sendhex",
		Aliases: []string{"sx"},
		Help:    "HEX...",
		Func: sh.MustBeOpen(func(c *ishell.Context, session *sh.Session) {
			payload, err := ParseHex(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			send(c, session, payload)
		}),
	}

	// RecvCmd prints received packets.
	RecvCmd = ishell.Cmd{
		Name:    "recv",
		Aliases: []string{"r"},
		Help:    "",
		Func: sh.MustBeOpen(func(c *ishell.Context, session *sh.Session) {
			pkts := session.Received()
			out := make([]packetOutput, 0, len(pkts))
			for n := range pkts {
				out = append(out, packetOutput{Length: pkts[n].Length, Payload: pkts[n].Payload()})
			}
			sh.Print(c, out, func() string {
				if len(pkts) == 0 {
					return "No packets"
				}
				lines := make([]string, len(pkts))
				for n := range pkts {
					lines[n] = FormatPacket(&pkts[n])
				}
				return strings.Join(lines, "\n")
			})
		}),
	}

	// StatsCmd prints link counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: sh.MustBeOpen(func(c *ishell.Context, session *sh.Session) {
			out := map[string]interface{}{"missed": session.Missed()}
			if session.Stats != nil {
				out["link"] = session.Stats()
			}
			sh.Print(c, out, func() string {
				return fmt.Sprintf("%+v", out)
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&SendCmd,
		&SendHexCmd,
		&RecvCmd,
		&StatsCmd,
	)
}
