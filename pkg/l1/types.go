package l1

import (
	"context"
	"strings"
)

// DeviceRef identifies a device behind a bridged link.
type DeviceRef struct {
	// Type is the board type, e.g. "stm32f0".
	Type string
	// ID is unique ID of the device.
	ID string
}

// Name retrieves the name from ref, also used as the topic prefix.
func (r DeviceRef) Name() string {
	return r.Type + "/" + r.ID
}

// IsValid indicates DeviceRef is valid.
func (r DeviceRef) IsValid() bool {
	return r.Type != "" && r.ID != "" &&
		!strings.ContainsAny(r.Type, "/+#") && !strings.ContainsAny(r.ID, "/+#")
}

// ParseDeviceRef parses "type/id".
func ParseDeviceRef(name string) (ref DeviceRef, ok bool) {
	items := strings.Split(name, "/")
	if len(items) != 2 {
		return
	}
	ref = DeviceRef{Type: items[0], ID: items[1]}
	return ref, ref.IsValid()
}

// DeviceMeta provides metadata published by a bridge.
type DeviceMeta struct {
	Description string            `json:"description,omitempty"`
	Port        string            `json:"port,omitempty"`
	Baud        int               `json:"baud,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// DeviceInfo provides information of a bridged device.
type DeviceInfo struct {
	Ref  DeviceRef
	Meta DeviceMeta
}

// Discoverer enumerates bridged devices.
type Discoverer interface {
	Discover(context.Context) ([]DeviceInfo, error)
}
