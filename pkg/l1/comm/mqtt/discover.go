package mqtt

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/bootlink/pkg/l1"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Discoverer implements l1.Discoverer by collecting retained meta topics.
type Discoverer struct {
	Timeout time.Duration

	conf *BrokerConfig
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(brokerURL string) (*Discoverer, error) {
	conf, err := ParseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return &Discoverer{Timeout: DefaultDiscoverTimeout, conf: conf}, nil
}

// ParseMeta converts a meta message into DeviceInfo. An empty payload is
// a cleared registration.
func ParseMeta(topic string, payload []byte) (info l1.DeviceInfo, ok bool) {
	name := strings.TrimSuffix(topic, "/"+MetaTopic)
	if name == topic || len(payload) == 0 {
		return
	}
	if info.Ref, ok = l1.ParseDeviceRef(name); !ok {
		return
	}
	if err := json.Unmarshal(payload, &info.Meta); err != nil {
		glog.Warningf("%s: bad meta: %v", topic, err)
		return info, false
	}
	return info, true
}

// Discover implements l1.Discoverer.
func (d *Discoverer) Discover(ctx context.Context) ([]l1.DeviceInfo, error) {
	q := NewQueue(d.conf)
	if err := q.ConnectAndWait(); err != nil {
		return nil, err
	}
	defer q.Close()

	found := make(map[string]l1.DeviceInfo)
	infoCh := make(chan l1.DeviceInfo, 16)
	sub := q.Sub("+/+/"+MetaTopic, Handler(func(topic string, payload []byte) {
		if info, ok := ParseMeta(topic, payload); ok {
			select {
			case infoCh <- info:
			case <-ctx.Done():
			}
		}
	}))
	defer sub.Close()

	dur := d.Timeout
	if dur <= 0 {
		dur = DefaultDiscoverTimeout
	}
	timeout := time.After(dur)
	for {
		select {
		case info := <-infoCh:
			found[info.Ref.Name()] = info
		case <-timeout:
			res := make([]l1.DeviceInfo, 0, len(found))
			for _, info := range found {
				res = append(res, info)
			}
			sort.Slice(res, func(i, j int) bool {
				return res[i].Ref.Name() < res[j].Ref.Name()
			})
			return res, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
