package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/mil-ad/blemanager/internal/ble"
)

var (
	colorOK    = color.New(color.FgGreen, color.Bold)
	colorBusy  = color.New(color.FgYellow)
	colorError = color.New(color.FgRed, color.Bold)
	colorDim   = color.New(color.Faint)
)

func ipcCall(req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `blemanager daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// runCommand sends req and prints the resulting state. Operation errors
// are printed after the state and returned.
func runCommand(req IPCRequest, jsonOut bool) error {
	resp, err := ipcCall(req)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
			return err
		}
	} else if resp.Snapshot != nil {
		if req.Command == cmdDevices {
			printDevices(os.Stdout, *resp.Snapshot)
		} else {
			printStatus(os.Stdout, *resp.Snapshot)
		}
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func runConnect(ref string, jsonOut bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := resolveDevice(cfg, ref)
	if err != nil {
		return err
	}
	return runCommand(IPCRequest{Command: cmdConnect, Device: id}, jsonOut)
}

func statusColor(s ble.ConnectionStatus) *color.Color {
	switch s {
	case ble.StatusConnected:
		return colorOK
	case ble.StatusConnecting:
		return colorBusy
	case ble.StatusError:
		return colorError
	default:
		return colorDim
	}
}

func printStatus(w io.Writer, snap ble.Snapshot) {
	if !snap.Supported {
		colorError.Fprintln(w, "Bluetooth is not available on this system")
	}
	fmt.Fprintf(w, "status:  %s\n", statusColor(snap.Status).Sprint(snap.Status.Label()))
	switch {
	case snap.Active != nil:
		fmt.Fprintf(w, "device:  %s (%s)\n", snap.Active.Name, snap.Active.ID)
	case snap.Target != nil:
		fmt.Fprintf(w, "target:  %s (%s)\n", snap.Target.Name, snap.Target.ID)
	}
	if snap.Scanning {
		colorBusy.Fprintln(w, "scanning...")
	}
	if snap.LastError != "" {
		fmt.Fprintf(w, "error:   %s\n", colorError.Sprint(snap.LastError))
	}
}

func printDevices(w io.Writer, snap ble.Snapshot) {
	if len(snap.Devices) == 0 {
		colorDim.Fprintln(w, "no devices discovered yet, run `blemanager scan`")
		return
	}
	width := 0
	for _, d := range snap.Devices {
		width = max(width, len(d.Name))
	}
	for _, d := range snap.Devices {
		status := snap.DeviceStatus(d.ID)
		marker := " "
		if snap.IsActive(d.ID) {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-*s  %s  %s\n", marker, width, d.Name, d.ID,
			statusColor(status).Sprint(strings.ToLower(status.Label())))
	}
}
