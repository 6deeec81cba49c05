package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/logger"
	"github.com/mil-ad/blemanager/internal/picker"
)

func testConfig() Config {
	return Config{Peripherals: []Peripheral{
		{ID: "AA:01", Name: "Thermometer", RSSI: -48},
		{ID: "AA:02", RSSI: -70},
		{ID: "AA:03", Name: "Flaky Tag", RSSI: -80, FailConnect: true},
	}}
}

func newManager(t *testing.T, a *Adapter) *ble.Manager {
	t.Helper()
	return ble.NewManager(a, ble.Options{Logger: logger.Discard(), Events: eventlog.New(0)})
}

func TestRequestDeviceUsesChooser(t *testing.T) {
	a := New(testConfig(), picker.NewAuto(time.Second), logger.Discard())

	h, err := a.RequestDevice(context.Background(), ble.Filter{AcceptAll: true})
	require.NoError(t, err)
	assert.Equal(t, "AA:01", h.ID())

	h, err = a.RequestDevice(context.Background(), ble.Filter{AcceptAll: true})
	require.NoError(t, err)
	assert.Equal(t, "AA:02", h.ID())
	_, named := h.Name()
	assert.False(t, named)
}

func TestRequestDeviceNamePrefix(t *testing.T) {
	a := New(testConfig(), picker.NewAuto(10*time.Millisecond), logger.Discard())

	h, err := a.RequestDevice(context.Background(), ble.Filter{AcceptAll: true, NamePrefix: "Flaky"})
	require.NoError(t, err)
	assert.Equal(t, "AA:03", h.ID())

	_, err = a.RequestDevice(context.Background(), ble.Filter{AcceptAll: true, NamePrefix: "nothing"})
	assert.True(t, errors.Is(err, ble.ErrUserCancelled))
}

func TestDisabledAdapter(t *testing.T) {
	cfg := testConfig()
	cfg.Disabled = true
	a := New(cfg, picker.NewAuto(time.Second), logger.Discard())

	assert.False(t, a.Available())
	_, err := a.RequestDevice(context.Background(), ble.Filter{AcceptAll: true})
	assert.ErrorIs(t, err, ble.ErrUnavailable)
}

func TestManagerScenarios(t *testing.T) {
	a := New(testConfig(), picker.NewAuto(time.Second), logger.Discard())
	m := newManager(t, a)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.ScanForDevices(ctx))
	}
	s := m.Snapshot()
	require.Len(t, s.Devices, 3)
	assert.Equal(t, ble.UnknownDeviceName, s.Devices[1].Name)

	require.NoError(t, m.Connect(ctx, "AA:01"))
	require.NoError(t, m.Connect(ctx, "AA:02"))
	assert.False(t, a.Linked("AA:01"))
	assert.True(t, a.Linked("AA:02"))
	assert.Equal(t, 1, a.LinkCount())

	require.NoError(t, a.DropLink("AA:02"))
	s = m.Snapshot()
	assert.Equal(t, ble.StatusDisconnected, s.Status)
	assert.Nil(t, s.Active)

	err := m.Connect(ctx, "AA:03")
	assert.True(t, ble.IsKind(err, ble.KindConnectFailure))
	assert.Equal(t, "Failed to connect: le-connection-abort-by-local", m.Snapshot().LastError)
	assert.Equal(t, 0, a.LinkCount())
}

func TestConnectDelayHonoursContext(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectDelay = time.Minute
	a := New(cfg, picker.NewAuto(time.Second), logger.Discard())
	h, ok := a.lookup("AA:01")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Connect(ctx), context.DeadlineExceeded)
	assert.False(t, a.Linked("AA:01"))
}

func TestDropLinkUnknown(t *testing.T) {
	a := New(testConfig(), picker.NewAuto(time.Second), logger.Discard())
	assert.Error(t, a.DropLink("nope"))
}
