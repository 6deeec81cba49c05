package ble

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/logger"
)

func newTestManager(t *testing.T, c Capability) *Manager {
	t.Helper()
	return NewManager(c, Options{Logger: logger.Discard(), Events: eventlog.New(0)})
}

// discover scans each handle into the manager.
func discover(t *testing.T, m *Manager, c *fakeCapability, handles ...*fakeHandle) {
	t.Helper()
	for _, h := range handles {
		c.push(requestResult{h: h})
		require.NoError(t, m.ScanForDevices(context.Background()))
	}
}

func deviceIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s.Devices))
	for _, d := range s.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestNewManagerInitialState(t *testing.T) {
	m := newTestManager(t, newFakeCapability())
	s := m.Snapshot()

	assert.Empty(t, s.Devices)
	assert.Nil(t, s.Active)
	assert.Nil(t, s.Target)
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.False(t, s.Scanning)
	assert.Empty(t, s.LastError)
	assert.True(t, s.Supported)
}

func TestScanSubstitutesUnknownName(t *testing.T) {
	c := newFakeCapability(requestResult{h: newFakeHandle("AA:BB", "")})
	m := newTestManager(t, c)

	require.NoError(t, m.ScanForDevices(context.Background()))

	s := m.Snapshot()
	require.Len(t, s.Devices, 1)
	assert.Equal(t, "AA:BB", s.Devices[0].ID)
	assert.Equal(t, UnknownDeviceName, s.Devices[0].Name)
	assert.False(t, s.Devices[0].Named)
	assert.False(t, s.Scanning)
	assert.Equal(t, []Filter{{AcceptAll: true}}, c.filters)
}

func TestScanIsIdempotentByID(t *testing.T) {
	a := newFakeHandle("A", "Alpha")
	b := newFakeHandle("B", "Bravo")
	c := newFakeCapability()
	m := newTestManager(t, c)

	discover(t, m, c, a, b)
	// Same ID, different handle and name: still a no-op.
	discover(t, m, c, a, newFakeHandle("B", "Renamed"))

	s := m.Snapshot()
	assert.Equal(t, []string{"A", "B"}, deviceIDs(s))
	assert.Equal(t, "Bravo", s.Devices[1].Name)
}

func TestScanUserCancelled(t *testing.T) {
	c := newFakeCapability(requestResult{err: fmt.Errorf("picker closed: %w", ErrUserCancelled)})
	m := newTestManager(t, c)

	err := m.ScanForDevices(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUserCancelled))
	assert.True(t, errors.Is(err, ErrUserCancelled))

	s := m.Snapshot()
	assert.Equal(t, "No device selected. Please try again.", s.LastError)
	assert.False(t, s.Scanning)
	assert.Empty(t, s.Devices)
	assert.Equal(t, StatusDisconnected, s.Status)
}

func TestScanPlatformFailure(t *testing.T) {
	c := newFakeCapability(requestResult{err: errors.New("adapter busy")})
	m := newTestManager(t, c)

	err := m.ScanForDevices(context.Background())
	assert.True(t, IsKind(err, KindScanFailure))

	s := m.Snapshot()
	assert.Equal(t, "Scan failed: adapter busy", s.LastError)
	assert.False(t, s.Scanning)
}

func TestScanUnknownFailureIsGeneric(t *testing.T) {
	c := newFakeCapability(requestResult{err: errors.New("")})
	m := newTestManager(t, c)

	_ = m.ScanForDevices(context.Background())
	assert.Equal(t, "An unknown error occurred during scanning.", m.Snapshot().LastError)
}

func TestScanClearsPreviousError(t *testing.T) {
	c := newFakeCapability(requestResult{err: errors.New("boom")})
	m := newTestManager(t, c)
	_ = m.ScanForDevices(context.Background())
	require.NotEmpty(t, m.Snapshot().LastError)

	seen := make(chan Snapshot, 1)
	h := newFakeHandle("A", "Alpha")
	c.push(requestResult{h: h})

	ch, cancel := m.Subscribe()
	defer cancel()
	<-ch
	go func() {
		for s := range ch {
			if s.Scanning {
				seen <- s
				return
			}
		}
	}()

	require.NoError(t, m.ScanForDevices(context.Background()))
	select {
	case s := <-seen:
		assert.Empty(t, s.LastError, "error must be cleared when the scan starts")
	case <-time.After(time.Second):
		// Coalescing may skip the scanning state; the settled state still
		// has no error.
	}
	assert.Empty(t, m.Snapshot().LastError)
}

func TestScanWhileScanningIsNoop(t *testing.T) {
	block := make(chan struct{})
	c := &blockingCapability{release: block, started: make(chan struct{}, 1), h: newFakeHandle("A", "Alpha")}
	m := newTestManager(t, c)

	done := make(chan error, 1)
	go func() { done <- m.ScanForDevices(context.Background()) }()
	<-c.started
	require.True(t, m.Snapshot().Scanning)

	require.NoError(t, m.ScanForDevices(context.Background()))
	assert.Equal(t, 1, c.calls())

	close(block)
	require.NoError(t, <-done)
	assert.False(t, m.Snapshot().Scanning)
}

func TestUnsupportedCapability(t *testing.T) {
	c := newFakeCapability(requestResult{h: newFakeHandle("A", "Alpha")})
	c.available = false
	m := newTestManager(t, c)
	require.False(t, m.Supported())

	err := m.ScanForDevices(context.Background())
	assert.True(t, IsKind(err, KindCapabilityUnavailable))
	assert.True(t, errors.Is(err, ErrUnavailable))

	s := m.Snapshot()
	assert.Contains(t, s.LastError, "not available")
	assert.Empty(t, s.Devices)
	assert.False(t, s.Scanning)
	assert.False(t, s.Supported)
	assert.Empty(t, c.filters, "platform must not be called")

	assert.True(t, IsKind(m.Connect(context.Background(), "A"), KindCapabilityUnavailable))
	assert.True(t, IsKind(m.Disconnect(context.Background()), KindCapabilityUnavailable))
	assert.Equal(t, StatusDisconnected, m.Snapshot().Status)
}

func TestNilCapabilityIsUnsupported(t *testing.T) {
	m := NewManager(nil, Options{Logger: logger.Discard()})
	assert.False(t, m.Supported())
	assert.True(t, IsKind(m.ScanForDevices(context.Background()), KindCapabilityUnavailable))
}

func TestConnectThenLinkLost(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	require.NoError(t, m.Connect(context.Background(), "X"))
	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "X", s.Active.ID)
	assert.Equal(t, 1, x.subscribers())

	x.drop()

	s = m.Snapshot()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Nil(t, s.Active)
	assert.Nil(t, s.Target)
	assert.Equal(t, 0, x.subscribers(), "subscription must be released")
}

func TestLinkLostFiredTwiceIsNoop(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	require.NoError(t, m.Connect(context.Background(), "X"))
	require.Len(t, x.registered, 1)
	stale := x.registered[0]

	stale()
	stale()
	assert.Equal(t, StatusDisconnected, m.Snapshot().Status)

	// Reconnect, then replay the old subscription: the new link stays up.
	require.NoError(t, m.Connect(context.Background(), "X"))
	stale()

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "X", s.Active.ID)
}

func TestLinkLostAfterManualDisconnectIsNoop(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	require.NoError(t, m.Connect(context.Background(), "X"))
	cb := x.registered[0]
	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, 0, x.subscribers())

	cb()
	s := m.Snapshot()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Nil(t, s.Active)
}

func TestStaleLinkLossAfterSwitchDoesNotClearNewDevice(t *testing.T) {
	y := newFakeHandle("Y", "Yankee")
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, y, x)

	require.NoError(t, m.Connect(context.Background(), "Y"))
	oldCB := y.registered[0]
	require.NoError(t, m.Connect(context.Background(), "X"))

	// The platform's confirmation for Y arrives late.
	oldCB()

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "X", s.Active.ID)
}

func TestConnectSwitchDisconnectsPreviousFirst(t *testing.T) {
	y := newFakeHandle("Y", "Yankee")
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, y, x)
	require.NoError(t, m.Connect(context.Background(), "Y"))

	var duringDisconnect, duringConnect Snapshot
	y.onDisconnect = func() { duringDisconnect = m.Snapshot() }
	x.onConnect = func() { duringConnect = m.Snapshot() }

	require.NoError(t, m.Connect(context.Background(), "X"))

	assert.Equal(t, StatusDisconnected, duringDisconnect.Status, "Y is dropped before X starts")
	assert.Nil(t, duringDisconnect.Active)
	assert.False(t, y.isLinked())

	assert.Equal(t, StatusConnecting, duringConnect.Status)
	require.NotNil(t, duringConnect.Target)
	assert.Equal(t, "X", duringConnect.Target.ID)

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "X", s.Active.ID)
	assert.Equal(t, 0, y.subscribers())
	assert.Equal(t, 1, x.subscribers())
}

func TestConnectSameDeviceIsNoop(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	require.NoError(t, m.Connect(context.Background(), "X"))
	require.NoError(t, m.Connect(context.Background(), "X"))

	connects, disconnects := x.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 0, disconnects)
	assert.Equal(t, 1, x.subscribers())
}

func TestConnectSameInFlightDeviceIsNoop(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	x.gate = make(chan error)
	x.started = make(chan struct{}, 1)
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "X") }()
	<-x.started

	require.NoError(t, m.Connect(context.Background(), "X"))
	x.gate <- nil
	require.NoError(t, <-done)

	connects, _ := x.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, StatusConnected, m.Snapshot().Status)
}

func TestConnectUnknownDevice(t *testing.T) {
	m := newTestManager(t, newFakeCapability())

	err := m.Connect(context.Background(), "nope")
	assert.True(t, IsKind(err, KindUnknownDevice))

	s := m.Snapshot()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Contains(t, s.LastError, "unknown device")
}

func TestConnectFailure(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	x.connectErr = errors.New("le-connection-abort-by-local")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)

	err := m.Connect(context.Background(), "X")
	assert.True(t, IsKind(err, KindConnectFailure))

	s := m.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Nil(t, s.Active)
	assert.Equal(t, "Failed to connect: le-connection-abort-by-local", s.LastError)
	assert.Equal(t, StatusError, s.DeviceStatus("X"))
	assert.Equal(t, 0, x.subscribers())

	// A retry is not swallowed by the same-target guard.
	x.connectErr = nil
	require.NoError(t, m.Connect(context.Background(), "X"))
	s = m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	assert.Empty(t, s.LastError)
}

func TestConnectSupersededBySuccess(t *testing.T) {
	a := newFakeHandle("A", "Alpha")
	a.gate = make(chan error)
	a.started = make(chan struct{}, 1)
	b := newFakeHandle("B", "Bravo")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, a, b)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "A") }()
	<-a.started

	require.NoError(t, m.Connect(context.Background(), "B"))
	a.gate <- nil
	require.NoError(t, <-done)

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "B", s.Active.ID)
	assert.False(t, a.isLinked(), "stale link is torn down")
	assert.True(t, b.isLinked())
	assert.Equal(t, 0, a.subscribers())
}

func TestConnectSupersededByFailure(t *testing.T) {
	a := newFakeHandle("A", "Alpha")
	a.gate = make(chan error)
	a.started = make(chan struct{}, 1)
	b := newFakeHandle("B", "Bravo")
	b.connectErr = errors.New("timeout")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, a, b)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "A") }()
	<-a.started

	assert.Error(t, m.Connect(context.Background(), "B"))
	a.gate <- nil
	require.NoError(t, <-done)

	s := m.Snapshot()
	assert.Nil(t, s.Active, "A's late success must not become active")
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "Failed to connect: timeout", s.LastError)
	assert.False(t, a.isLinked())
}

func TestStaleFailureDoesNotOverwrite(t *testing.T) {
	a := newFakeHandle("A", "Alpha")
	a.gate = make(chan error)
	a.started = make(chan struct{}, 1)
	b := newFakeHandle("B", "Bravo")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, a, b)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "A") }()
	<-a.started

	require.NoError(t, m.Connect(context.Background(), "B"))
	a.gate <- errors.New("late failure")
	require.NoError(t, <-done)

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	assert.Empty(t, s.LastError)
}

func TestDisconnectAbandonsInFlightConnect(t *testing.T) {
	a := newFakeHandle("A", "Alpha")
	a.gate = make(chan error)
	a.started = make(chan struct{}, 1)
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, a)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "A") }()
	<-a.started

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Snapshot().Status)

	a.gate <- nil
	require.NoError(t, <-done)

	s := m.Snapshot()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Nil(t, s.Active)
	assert.False(t, a.isLinked())
}

// reconnectRace abandons a first connect to A with Disconnect and starts a
// second one while the first is still pending.
func reconnectRace(t *testing.T) (m *Manager, a *fakeHandle, first, second chan error, done1, done2 chan error) {
	t.Helper()
	a = newFakeHandle("A", "Alpha")
	first, second = make(chan error), make(chan error)
	a.gates = []chan error{first, second}
	a.started = make(chan struct{}, 2)
	c := newFakeCapability()
	m = newTestManager(t, c)
	discover(t, m, c, a)

	done1, done2 = make(chan error, 1), make(chan error, 1)
	go func() { done1 <- m.Connect(context.Background(), "A") }()
	<-a.started
	require.NoError(t, m.Disconnect(context.Background()))
	go func() { done2 <- m.Connect(context.Background(), "A") }()
	<-a.started
	return m, a, first, second, done1, done2
}

func TestAdoptedLinkDroppedWhenRetryFails(t *testing.T) {
	m, a, first, second, done1, done2 := reconnectRace(t)

	first <- nil
	require.NoError(t, <-done1)
	assert.True(t, a.isLinked(), "pending retry adopts the link")

	second <- errors.New("timeout")
	require.Error(t, <-done2)

	s := m.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Nil(t, s.Active)
	assert.False(t, a.isLinked(), "no untracked link may remain")

	// A later switch must not leave two links behind.
	b := newFakeHandle("B", "Bravo")
	c := m.capability.(*fakeCapability)
	discover(t, m, c, b)
	require.NoError(t, m.Connect(context.Background(), "B"))
	assert.False(t, a.isLinked())
	assert.True(t, b.isLinked())
}

func TestLateLinkDroppedAfterRetryFailed(t *testing.T) {
	m, a, first, second, done1, done2 := reconnectRace(t)

	second <- errors.New("timeout")
	require.Error(t, <-done2)
	first <- nil
	require.NoError(t, <-done1)

	s := m.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Nil(t, s.Active)
	assert.False(t, a.isLinked())
}

func TestAdoptedLinkKeptWhenRetrySucceeds(t *testing.T) {
	m, a, first, second, done1, done2 := reconnectRace(t)

	first <- nil
	require.NoError(t, <-done1)
	second <- nil
	require.NoError(t, <-done2)

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	require.NotNil(t, s.Active)
	assert.Equal(t, "A", s.Active.ID)
	assert.True(t, a.isLinked())
	_, disconnects := a.counts()
	assert.Equal(t, 0, disconnects)
}

func TestDisconnectWithoutActiveIsNoop(t *testing.T) {
	m := newTestManager(t, newFakeCapability())

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Snapshot().Status)
}

func TestDisconnectFailureStillClearsActive(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	x.disconnectErr = errors.New("not connected")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, x)
	require.NoError(t, m.Connect(context.Background(), "X"))

	err := m.Disconnect(context.Background())
	assert.True(t, IsKind(err, KindDisconnectFailure))

	s := m.Snapshot()
	assert.Nil(t, s.Active)
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "Failed to disconnect: not connected", s.LastError)
	assert.Equal(t, 0, x.subscribers())
}

func TestSwitchAfterDisconnectFailureClearsError(t *testing.T) {
	y := newFakeHandle("Y", "Yankee")
	y.disconnectErr = errors.New("busy")
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, y, x)
	require.NoError(t, m.Connect(context.Background(), "Y"))

	require.NoError(t, m.Connect(context.Background(), "X"))

	s := m.Snapshot()
	assert.Equal(t, StatusConnected, s.Status)
	assert.Empty(t, s.LastError)
	require.NotNil(t, s.Active)
	assert.Equal(t, "X", s.Active.ID)
}

func TestClearError(t *testing.T) {
	c := newFakeCapability(requestResult{err: errors.New("boom")})
	m := newTestManager(t, c)
	_ = m.ScanForDevices(context.Background())
	require.NotEmpty(t, m.Snapshot().LastError)

	m.ClearError()
	assert.Empty(t, m.Snapshot().LastError)
	m.ClearError()
}

func TestSubscribeDeliversLatest(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	m := newTestManager(t, c)

	ch, cancel := m.Subscribe()
	first := <-ch
	assert.Equal(t, StatusDisconnected, first.Status)

	discover(t, m, c, x)
	require.NoError(t, m.Connect(context.Background(), "X"))

	latest := <-ch
	assert.Equal(t, StatusConnected, latest.Status)
	assert.Len(t, latest.Devices, 1)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestEventsRecorded(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	c := newFakeCapability()
	log := eventlog.New(0)
	m := NewManager(c, Options{Logger: logger.Discard(), Events: log})
	discover(t, m, c, x)
	require.NoError(t, m.Connect(context.Background(), "X"))
	x.drop()

	var kinds []string
	for _, e := range log.Entries() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{
		eventlog.KindScan,
		eventlog.KindDiscovered,
		eventlog.KindConnect,
		eventlog.KindConnect,
		eventlog.KindLinkLost,
	}, kinds)
}

func TestConnectHonoursOpTimeout(t *testing.T) {
	x := newFakeHandle("X", "Xray")
	x.gate = make(chan error)
	c := newFakeCapability()
	m := NewManager(c, Options{Logger: logger.Discard(), OpTimeout: 20 * time.Millisecond})
	discover(t, m, c, x)

	err := m.Connect(context.Background(), "X")
	assert.True(t, IsKind(err, KindConnectFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusError, m.Snapshot().Status)
}

// TestConcurrentOperationsSettle drives random interleavings and checks that
// the state always converges: never stuck connecting, never two links.
func TestConcurrentOperationsSettle(t *testing.T) {
	handles := []*fakeHandle{
		newFakeHandle("A", "Alpha"),
		newFakeHandle("B", "Bravo"),
		newFakeHandle("C", ""),
	}
	c := newFakeCapability()
	m := newTestManager(t, c)
	discover(t, m, c, handles...)

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				r := rand.New(rand.NewSource(seed))
				time.Sleep(time.Duration(r.Intn(200)) * time.Microsecond)
				switch r.Intn(4) {
				case 0:
					_ = m.Disconnect(context.Background())
				case 1:
					handles[r.Intn(len(handles))].drop()
				default:
					_ = m.Connect(context.Background(), handles[r.Intn(len(handles))].id)
				}
			}(int64(round*100 + i))
		}
		wg.Wait()

		s := m.Snapshot()
		assert.NotEqual(t, StatusConnecting, s.Status, "round %d", round)
		linked := 0
		for _, h := range handles {
			if h.isLinked() {
				linked++
			}
		}
		if s.Active != nil {
			assert.Equal(t, StatusConnected, s.Status, "round %d", round)
		}
		assert.LessOrEqual(t, linked, 1, "round %d: more than one platform link", round)
	}
}

type blockingCapability struct {
	release chan struct{}
	started chan struct{}
	h       Handle

	mu sync.Mutex
	n  int
}

func (c *blockingCapability) Available() bool { return true }

func (c *blockingCapability) RequestDevice(ctx context.Context, _ Filter) (Handle, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	c.started <- struct{}{}
	select {
	case <-c.release:
		return c.h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *blockingCapability) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
