package gateway

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_blemanager._tcp"
	mdnsDomain      = "local."
)

// Advertise registers the dashboard on the LAN and returns its shutdown
// func.
func Advertise(name string, port int, info Info) (func(), error) {
	if name == "" {
		name = "blemanager"
	}
	server, err := zeroconf.Register(name, mdnsServiceType, mdnsDomain, port, txtRecords(info), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return server.Shutdown, nil
}

func txtRecords(info Info) []string {
	txt := []string{"path=/api/v1"}
	if info.Version != "" {
		txt = append(txt, "version="+info.Version)
	}
	if info.Backend != "" {
		txt = append(txt, "backend="+info.Backend)
	}
	return txt
}
