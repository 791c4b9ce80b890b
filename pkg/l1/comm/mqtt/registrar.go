package mqtt

import (
	"context"
	"encoding/json"

	fx "github.com/robotalks/bootlink/pkg/framework"
	"github.com/robotalks/bootlink/pkg/l1"
)

// Registrar announces a bridged device on the broker. Its metadata is
// retained at type/id/meta while connected, and cleared by the will
// message when the connection drops.
type Registrar struct {
	Queue *Queue
	Info  l1.DeviceInfo

	metaJSON []byte
}

// NewRegistrar creates a Registrar.
func NewRegistrar(brokerURL string, info l1.DeviceInfo) (*Registrar, error) {
	meta, err := json.Marshal(&info.Meta)
	if err != nil {
		return nil, err
	}
	conf, err := ParseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}
	conf.Options.SetBinaryWill(conf.TopicPrefix+metaTopic(info.Ref), nil, 1, true)
	if conf.Options.ClientID == "" {
		conf.Options.SetClientID("bootlink:" + info.Ref.Name())
	}
	r := &Registrar{
		Queue:    NewQueue(conf),
		Info:     info,
		metaJSON: meta,
	}
	r.Queue.OnConnect = func(*Queue) { r.announce() }
	return r, nil
}

func metaTopic(ref l1.DeviceRef) string {
	return ref.Name() + "/" + MetaTopic
}

// PacketReadWriter creates a ReadWriter for the device on the same
// connection.
func (r *Registrar) PacketReadWriter() *ReadWriter {
	return NewPacketReadWriter(r.Queue).ForDevice(r.Info.Ref)
}

// Name implements framework.Named.
func (r *Registrar) Name() string {
	return "registrar"
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(r)
}

// Run implements Runnable.
func (r *Registrar) Run(ctx context.Context) error {
	if err := r.Queue.ConnectAndWait(); err != nil {
		return err
	}
	<-ctx.Done()
	r.Queue.PubWith(metaTopic(r.Info.Ref), nil, 1, true).Wait()
	r.Queue.Close()
	return ctx.Err()
}

func (r *Registrar) announce() {
	r.Queue.PubWith(metaTopic(r.Info.Ref), r.metaJSON, 1, true)
}
