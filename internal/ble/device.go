package ble

// UnknownDeviceName is shown for peripherals that did not advertise a name.
const UnknownDeviceName = "Unknown Device"

// ConnectionStatus is the single process-wide connection state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// Label is the human-readable badge text for s.
func (s ConnectionStatus) Label() string {
	switch s {
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Disconnected"
	}
}

// Device is one discovered peripheral.
type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Named bool   `json:"named"`

	handle Handle
}

func newDevice(h Handle) Device {
	d := Device{ID: h.ID(), Name: UnknownDeviceName, handle: h}
	if name, ok := h.Name(); ok && name != "" {
		d.Name = name
		d.Named = true
	}
	return d
}

// Handle returns the platform object backing d. It is nil for devices
// decoded from JSON.
func (d Device) Handle() Handle { return d.handle }

func (d *Device) clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
