package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/logger"
	"github.com/mil-ad/blemanager/internal/picker"
	"github.com/mil-ad/blemanager/internal/platform/sim"
)

func newTestDaemon(t *testing.T) *daemon {
	t.Helper()
	a := sim.New(sim.Config{Peripherals: []sim.Peripheral{
		{ID: "AA:01", Name: "Thermometer", RSSI: -48},
		{ID: "AA:02", RSSI: -70},
		{ID: "AA:03", Name: "Flaky Tag", RSSI: -80, FailConnect: true},
	}}, picker.NewAuto(time.Second), logger.Discard())
	m := ble.NewManager(a, ble.Options{Logger: logger.Discard(), Events: eventlog.New(0)})
	return &daemon{manager: m, logger: logger.Discard()}
}

func scanAll(t *testing.T, d *daemon, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdScan})
		require.Empty(t, resp.Error)
	}
}

func TestHandleStatusInitial(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdStatus})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "disconnected", resp.State)
	assert.Empty(t, resp.Device)
	require.NotNil(t, resp.Snapshot)
	assert.True(t, resp.Snapshot.Supported)
	assert.Empty(t, resp.Snapshot.Devices)
}

func TestHandleScanAndConnectByName(t *testing.T) {
	d := newTestDaemon(t)
	scanAll(t, d, 2)

	resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdDevices})
	require.NotNil(t, resp.Snapshot)
	require.Len(t, resp.Snapshot.Devices, 2)
	assert.Equal(t, ble.UnknownDeviceName, resp.Snapshot.Devices[1].Name)

	resp = d.handleRequest(context.Background(), IPCRequest{Command: cmdConnect, Device: "thermometer"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, "AA:01", resp.Device)

	// switching replaces the active device
	resp = d.handleRequest(context.Background(), IPCRequest{Command: cmdConnect, Device: "aa:02"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "AA:02", resp.Device)

	resp = d.handleRequest(context.Background(), IPCRequest{Command: cmdDisconnect})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "disconnected", resp.State)
	assert.Empty(t, resp.Device)
}

func TestHandleConnectFailureAndClear(t *testing.T) {
	d := newTestDaemon(t)
	scanAll(t, d, 3)

	resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdConnect, Device: "Flaky Tag"})
	assert.Contains(t, resp.Error, "Failed to connect")
	assert.Equal(t, "error", resp.State)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, resp.Error, resp.Snapshot.LastError)

	resp = d.handleRequest(context.Background(), IPCRequest{Command: cmdClearError})
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.Snapshot.LastError)
}

func TestHandleConnectUnknownDevice(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdConnect, Device: "nope"})
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Device)
}

func TestHandleBadRequests(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleRequest(context.Background(), IPCRequest{Command: cmdConnect})
	assert.Equal(t, "device is required", resp.Error)

	resp = d.handleRequest(context.Background(), IPCRequest{Command: "toggle"})
	assert.Equal(t, `unknown command: "toggle"`, resp.Error)
	assert.Nil(t, resp.Snapshot)
}

func TestHandleConn(t *testing.T) {
	d := newTestDaemon(t)
	client, server := net.Pipe()
	go d.handleConn(context.Background(), server)
	defer client.Close()

	require.NoError(t, json.NewEncoder(client).Encode(IPCRequest{Command: cmdScan}))
	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Snapshot)
	assert.Len(t, resp.Snapshot.Devices, 1)
}

func TestHandleConnInvalidJSON(t *testing.T) {
	d := newTestDaemon(t)
	client, server := net.Pipe()
	go d.handleConn(context.Background(), server)
	defer client.Close()

	_, err := client.Write([]byte("not json\n"))
	require.NoError(t, err)
	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.Contains(t, resp.Error, "invalid request")
}

func TestLookupDevice(t *testing.T) {
	snap := ble.Snapshot{Devices: []ble.Device{
		{ID: "AA:01", Name: "Tag", Named: true},
		{ID: "AA:02", Name: "Tag", Named: true},
		{ID: "AA:03", Name: "Scale", Named: true},
		{ID: "AA:04", Name: ble.UnknownDeviceName},
	}}

	tests := []struct {
		ref  string
		want string
	}{
		{"AA:01", "AA:01"},
		{"aa:03", "AA:03"},
		{"scale", "AA:03"},
		{"Tag", "Tag"},
		{ble.UnknownDeviceName, ble.UnknownDeviceName},
		{"missing", "missing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lookupDevice(snap, tt.ref), tt.ref)
	}
}
