package main

import "github.com/mil-ad/blemanager/internal/ble"

// IPC commands.
const (
	cmdStatus     = "status"
	cmdDevices    = "devices"
	cmdScan       = "scan"
	cmdConnect    = "connect"
	cmdDisconnect = "disconnect"
	cmdClearError = "clear_error"
)

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"`          // one of the cmd* constants
	Device  string `json:"device,omitempty"` // ID or name, for connect
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	State    string        `json:"state,omitempty"`  // connection status
	Device   string        `json:"device,omitempty"` // ID of the active device
	Snapshot *ble.Snapshot `json:"snapshot,omitempty"`
	Error    string        `json:"error,omitempty"`
}
