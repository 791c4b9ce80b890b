package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

const appID = "bootlink"

// MachineID retrieves an ID identifying the machine, hashed per
// application so it is safe to publish. It falls back to the hostname.
func MachineID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil && id != "" {
		if len(id) > 12 {
			id = id[:12]
		}
		return id
	}
	glog.V(1).Infof("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
