package ble

import "time"

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Devices   []Device         `json:"devices"`
	Active    *Device          `json:"active,omitempty"`
	Target    *Device          `json:"target,omitempty"`
	Status    ConnectionStatus `json:"status"`
	Since     time.Time        `json:"since"`
	Scanning  bool             `json:"scanning"`
	LastError string           `json:"last_error,omitempty"`
	Supported bool             `json:"supported"`
}

// Find returns the discovered device with the given ID.
func (s Snapshot) Find(id string) (Device, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// DeviceStatus is the status to show for one device: the global status for
// the connection target, disconnected for everything else.
func (s Snapshot) DeviceStatus(id string) ConnectionStatus {
	if s.Target != nil && s.Target.ID == id {
		return s.Status
	}
	return StatusDisconnected
}

// IsActive reports whether id is the connected device.
func (s Snapshot) IsActive(id string) bool {
	return s.Active != nil && s.Active.ID == id
}

// ConnectBlocked reports whether a connect action for id should be disabled.
func (s Snapshot) ConnectBlocked(id string) bool {
	return s.Status == StatusConnecting || !s.Supported || s.IsActive(id)
}
