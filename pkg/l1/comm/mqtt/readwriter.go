package mqtt

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/bootlink/pkg/l1"
)

// Topic suffixes relative to the device name.
const (
	UpTopic   = "up"
	DownTopic = "down"
	MetaTopic = "meta"
)

// ReadWriter implements PacketReadWriter.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForDevice sets topics for the bridge in front of a device:
// SubTopic = type/id/down
// PubTopic = type/id/up
func (p *ReadWriter) ForDevice(ref l1.DeviceRef) *ReadWriter {
	prefix := ref.Name() + "/"
	return p.WithTopics(prefix+DownTopic, prefix+UpTopic)
}

// ForClient sets topics for a remote client talking to a device:
// SubTopic = type/id/up
// PubTopic = type/id/down
func (p *ReadWriter) ForClient(ref l1.DeviceRef) *ReadWriter {
	prefix := ref.Name() + "/"
	return p.WithTopics(prefix+UpTopic, prefix+DownTopic)
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	data, err := EncodePayload(pkt)
	if err != nil {
		return err
	}
	token := p.Queue.Pub(p.PubTopic, data)
	token.Wait()
	return token.Error()
}

// Close implements io.Closer. It doesn't close the Queue.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Name implements framework.Named.
func (p *ReadWriter) Name() string {
	return "mqtt:" + p.SubTopic
}

// Run implements Runnable.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Queue.Sub(p.SubTopic, Handler(p.handleMsg))
	defer sub.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

func (p *ReadWriter) handleMsg(topic string, data []byte) {
	payload, err := DecodePayload(data)
	if err != nil {
		glog.Warningf("%s: bad payload: %v", topic, err)
		return
	}
	select {
	case p.packetCh <- payload:
	case <-p.done:
	}
}
