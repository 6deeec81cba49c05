package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/tracer"
)

// Options configures a Manager.
type Options struct {
	Logger *slog.Logger
	Events *eventlog.Log
	// NamePrefix narrows the picker to matching advertised names.
	NamePrefix string
	// OpTimeout bounds a single platform connect. Zero leaves timeouts to
	// the platform.
	OpTimeout time.Duration
}

// attempt is one connect call; stale results are detected by identity.
type attempt struct {
	dev Device
	// inherited is set when a superseded attempt for the same device left
	// a platform link behind. The attempt owns that link from then on.
	inherited bool
}

// linkWatch is the disconnect subscription for the active device.
type linkWatch struct {
	deviceID    string
	unsubscribe func()
}

// Manager owns the session state. All mutation goes through ScanForDevices,
// Connect, Disconnect, ClearError and the link-loss callback. The lock is
// never held across a platform call.
type Manager struct {
	capability Capability
	supported  bool
	logger     *slog.Logger
	events     *eventlog.Log
	namePrefix string
	opTimeout  time.Duration
	now        func() time.Time

	mu        sync.Mutex
	devices   []Device
	active    *Device
	target    *attempt
	status    ConnectionStatus
	since     time.Time
	scanning  bool
	lastError string
	link      *linkWatch
	subs      map[uint64]chan Snapshot
	nextSub   uint64
}

// NewManager probes c once for availability and returns an idle manager.
func NewManager(c Capability, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		capability: c,
		supported:  c != nil && c.Available(),
		logger:     logger,
		events:     opts.Events,
		namePrefix: opts.NamePrefix,
		opTimeout:  opts.OpTimeout,
		now:        time.Now,
		status:     StatusDisconnected,
		subs:       make(map[uint64]chan Snapshot),
	}
	m.since = m.now()
	if !m.supported {
		logger.Warn("bluetooth capability unavailable")
	}
	return m
}

// Supported reports the result of the availability probe.
func (m *Manager) Supported() bool { return m.supported }

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot. The
// current state is delivered immediately. Intermediate states may be
// coalesced when the reader falls behind. The cancel func closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// ScanForDevices runs the platform picker and records the chosen device.
// Re-discovering a known ID leaves the device list untouched.
func (m *Manager) ScanForDevices(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "ble.scan")
	defer span.End()

	if !m.supported {
		return m.fail(span, &Error{Kind: KindCapabilityUnavailable, Op: "scan", Err: ErrUnavailable})
	}

	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return nil
	}
	m.lastError = ""
	m.scanning = true
	m.publishLocked()
	m.mu.Unlock()
	m.record(slog.LevelInfo, eventlog.KindScan, "", "scan started")

	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.publishLocked()
		m.mu.Unlock()
	}()

	h, err := m.capability.RequestDevice(ctx, Filter{AcceptAll: true, NamePrefix: m.namePrefix})
	if err != nil {
		e := classifyScan(err)
		if e.Kind == KindUserCancelled {
			m.setError(e)
			m.record(slog.LevelInfo, eventlog.KindScan, "", e.UserMessage())
			return e
		}
		return m.fail(span, e)
	}

	dev := newDevice(h)
	m.mu.Lock()
	added := m.addLocked(dev)
	m.publishLocked()
	m.mu.Unlock()

	if added {
		m.record(slog.LevelInfo, eventlog.KindDiscovered, dev.ID, fmt.Sprintf("discovered %s", dev.Name))
	} else {
		m.record(slog.LevelDebug, eventlog.KindDiscovered, dev.ID, fmt.Sprintf("%s already known", dev.Name))
	}
	tracer.SetOK(span)
	return nil
}

// Connect makes id the single active device. A different active device is
// disconnected first. Connecting to the current target is a no-op.
func (m *Manager) Connect(ctx context.Context, id string) error {
	ctx, span := tracer.StartSpan(ctx, "ble.connect", tracer.DeviceAttr(id))
	defer span.End()

	if !m.supported {
		return m.fail(span, &Error{Kind: KindCapabilityUnavailable, Op: "connect", Err: ErrUnavailable})
	}

	var dev Device
	for {
		m.mu.Lock()
		d, ok := m.lookupLocked(id)
		if !ok {
			m.mu.Unlock()
			return m.fail(span, &Error{Kind: KindUnknownDevice, Op: "connect", Err: fmt.Errorf("unknown device %q", id)})
		}
		if m.isTargetLocked(id) {
			m.mu.Unlock()
			return nil
		}
		if m.active == nil {
			dev = d
			break
		}
		prev := m.active.ID
		m.mu.Unlock()

		m.logger.Info("switching device, disconnecting old device", "from", prev, "to", id)
		// Disconnect clears the active device even when the platform call
		// fails, so this loop only repeats if another Connect won the race.
		_ = m.Disconnect(ctx)
	}

	a := &attempt{dev: dev}
	m.target = a
	m.lastError = ""
	m.setStatusLocked(StatusConnecting)
	m.publishLocked()
	m.mu.Unlock()
	m.record(slog.LevelInfo, eventlog.KindConnect, dev.ID, fmt.Sprintf("connecting to %s", dev.Name))

	cctx, cancel := m.withTimeout(ctx)
	err := dev.handle.Connect(cctx)
	cancel()

	m.mu.Lock()
	if m.target != a {
		linked := err == nil || a.inherited
		// Only a pending or connected attempt for the same device can adopt
		// the link. A failed one has already settled.
		handover := linked && m.target != nil && m.target.dev.ID == dev.ID &&
			(m.status == StatusConnecting || m.status == StatusConnected)
		if handover {
			m.target.inherited = true
		}
		m.mu.Unlock()
		m.logger.Debug("connect attempt superseded", "device", dev.ID, "error", err)
		if linked && !handover {
			m.dropLink(dev)
		}
		return nil
	}

	if err != nil {
		inherited := a.inherited
		e := &Error{Kind: KindConnectFailure, Op: "connect", Err: err}
		m.lastError = e.UserMessage()
		m.setStatusLocked(StatusError)
		m.publishLocked()
		m.mu.Unlock()
		m.logger.Error("bluetooth connect error", "device", dev.ID, "error", err)
		if inherited {
			m.dropLink(dev)
		}
		m.record(slog.LevelError, eventlog.KindError, dev.ID, e.UserMessage())
		tracer.RecordError(span, e)
		return e
	}

	active := dev
	m.active = &active
	m.setStatusLocked(StatusConnected)
	m.watchLocked(dev)
	m.publishLocked()
	m.mu.Unlock()
	m.record(slog.LevelInfo, eventlog.KindConnect, dev.ID, fmt.Sprintf("connected to %s", dev.Name))
	tracer.SetOK(span)
	return nil
}

// Disconnect drops the active device. State moves to disconnected before the
// platform confirms. An in-flight connect with no active device is abandoned.
func (m *Manager) Disconnect(ctx context.Context) error {
	_, span := tracer.StartSpan(ctx, "ble.disconnect")
	defer span.End()

	if !m.supported {
		return m.fail(span, &Error{Kind: KindCapabilityUnavailable, Op: "disconnect", Err: ErrUnavailable})
	}

	m.mu.Lock()
	if m.active == nil {
		if m.target != nil && m.status == StatusConnecting {
			abandoned := m.target.dev
			m.target = nil
			m.setStatusLocked(StatusDisconnected)
			m.publishLocked()
			m.mu.Unlock()
			m.record(slog.LevelInfo, eventlog.KindDisconnect, abandoned.ID, fmt.Sprintf("connect to %s abandoned", abandoned.Name))
			return nil
		}
		m.mu.Unlock()
		return nil
	}

	dev := *m.active
	m.releaseLinkLocked()
	m.active = nil
	m.target = nil
	m.setStatusLocked(StatusDisconnected)
	m.publishLocked()
	m.mu.Unlock()
	m.logger.Info("disconnecting", "device", dev.ID, "name", dev.Name)

	if err := dev.handle.Disconnect(); err != nil {
		e := &Error{Kind: KindDisconnectFailure, Op: "disconnect", Err: err}
		m.mu.Lock()
		if m.active == nil && m.target == nil {
			m.lastError = e.UserMessage()
			m.setStatusLocked(StatusError)
			m.publishLocked()
		}
		m.mu.Unlock()
		m.logger.Error("bluetooth disconnect error", "device", dev.ID, "error", err)
		m.record(slog.LevelError, eventlog.KindError, dev.ID, e.UserMessage())
		tracer.RecordError(span, e)
		return e
	}

	m.record(slog.LevelInfo, eventlog.KindDisconnect, dev.ID, fmt.Sprintf("disconnected from %s", dev.Name))
	tracer.SetOK(span)
	return nil
}

// dropLink tears down a platform link no state refers to.
func (m *Manager) dropLink(dev Device) {
	if err := dev.handle.Disconnect(); err != nil {
		m.logger.Warn("tear down untracked link", "device", dev.ID, "error", err)
	}
}

// ClearError dismisses the last error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	if m.lastError == "" {
		m.mu.Unlock()
		return
	}
	m.lastError = ""
	m.publishLocked()
	m.mu.Unlock()
	m.record(slog.LevelDebug, eventlog.KindError, "", "error dismissed")
}

// linkLost handles the platform's disconnect signal. Only the subscription
// for the current active device may change state; stale or repeated
// firings are ignored.
func (m *Manager) linkLost(w *linkWatch) {
	m.mu.Lock()
	if m.link != w {
		m.mu.Unlock()
		m.logger.Debug("ignoring stale disconnect signal", "device", w.deviceID)
		return
	}
	m.releaseLinkLocked()
	m.active = nil
	m.target = nil
	m.setStatusLocked(StatusDisconnected)
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("active device disconnected", "device", w.deviceID)
	m.record(slog.LevelWarn, eventlog.KindLinkLost, w.deviceID, "device disconnected")
}

func (m *Manager) watchLocked(dev Device) {
	w := &linkWatch{deviceID: dev.ID}
	w.unsubscribe = dev.handle.SubscribeDisconnected(func() { m.linkLost(w) })
	m.link = w
}

func (m *Manager) releaseLinkLocked() {
	if m.link == nil {
		return
	}
	if m.link.unsubscribe != nil {
		m.link.unsubscribe()
	}
	m.link = nil
}

func (m *Manager) isTargetLocked(id string) bool {
	if m.target == nil || m.target.dev.ID != id {
		return false
	}
	return m.status == StatusConnecting || m.status == StatusConnected
}

func (m *Manager) lookupLocked(id string) (Device, bool) {
	for _, d := range m.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

func (m *Manager) addLocked(dev Device) bool {
	if _, ok := m.lookupLocked(dev.ID); ok {
		return false
	}
	m.devices = append(m.devices, dev)
	return true
}

func (m *Manager) setStatusLocked(s ConnectionStatus) {
	if m.status != s {
		m.since = m.now()
	}
	m.status = s
}

func (m *Manager) snapshotLocked() Snapshot {
	devices := make([]Device, len(m.devices))
	copy(devices, m.devices)
	snap := Snapshot{
		Devices:   devices,
		Active:    m.active.clone(),
		Status:    m.status,
		Since:     m.since,
		Scanning:  m.scanning,
		LastError: m.lastError,
		Supported: m.supported,
	}
	if m.target != nil {
		snap.Target = m.target.dev.clone()
	}
	return snap
}

// publishLocked replaces each subscriber's pending snapshot. Sends cannot
// block: the buffer is drained first and all sends happen under m.mu.
func (m *Manager) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// setError stores e as the last error without touching the status.
func (m *Manager) setError(e *Error) {
	m.mu.Lock()
	m.lastError = e.UserMessage()
	m.publishLocked()
	m.mu.Unlock()
}

func (m *Manager) fail(span trace.Span, e *Error) error {
	m.setError(e)
	m.logger.Error("bluetooth "+e.Op+" error", "kind", e.Kind.String(), "error", e.Err)
	m.record(slog.LevelError, eventlog.KindError, "", e.UserMessage())
	tracer.RecordError(span, e)
	return e
}

func (m *Manager) record(level slog.Level, kind, device, msg string) {
	m.logger.Log(context.Background(), level, msg, "kind", kind, "device", device)
	if m.events != nil {
		m.events.Append(eventlog.Event{Level: level, Kind: kind, Device: device, Message: msg})
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opTimeout)
}
