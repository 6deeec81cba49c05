package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/picker"
)

// Config selects the BlueZ adapter.
type Config struct {
	Adapter string
}

// Adapter implements ble.Capability on top of one BlueZ adapter. BlueZ has
// no picker of its own, so discovery results are handed to a Chooser.
type Adapter struct {
	bus     *bus
	path    dbus.ObjectPath
	chooser picker.Chooser
	logger  *slog.Logger

	mu      sync.Mutex
	sink    chan picker.Candidate // non-nil while RequestDevice is discovering
	filter  ble.Filter
	known   map[string]picker.Candidate
	subs    map[string]map[uint64]func()
	nextSub uint64
}

func newAdapter(path dbus.ObjectPath, chooser picker.Chooser, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		path:    path,
		chooser: chooser,
		logger:  logger,
		known:   make(map[string]picker.Candidate),
		subs:    make(map[string]map[uint64]func()),
	}
}

// New connects to the system bus and starts the signal watcher.
func New(cfg Config, chooser picker.Chooser, logger *slog.Logger) (*Adapter, error) {
	b, err := dialSystemBus()
	if err != nil {
		return nil, err
	}
	sigCh, err := b.subscribe()
	if err != nil {
		b.close()
		return nil, err
	}
	a := newAdapter(adapterObjectPath(cfg.Adapter), chooser, logger)
	a.bus = b
	go a.watchSignals(sigCh)
	return a, nil
}

// Close releases the bus connection.
func (a *Adapter) Close() error {
	return a.bus.close()
}

// Available reports whether BlueZ is running and the adapter exists. It is
// polled by the watchdog, so failures are only logged at debug.
func (a *Adapter) Available() bool {
	if err := a.probe(); err != nil {
		a.logger.Debug("bluez unavailable", "adapter", a.path, "error", err)
		return false
	}
	return true
}

func (a *Adapter) probe() error {
	if a.bus == nil {
		return errors.New("system bus not connected")
	}
	ok, err := a.bus.hasBlueZ()
	if err != nil {
		return fmt.Errorf("look up org.bluez: %w", err)
	}
	if !ok {
		return errors.New("org.bluez not found on system bus, is bluetooth.service running?")
	}
	if _, err := a.bus.getProp(a.path, adapterIface, "Address"); err != nil {
		return fmt.Errorf("bluetooth adapter not found: %w", err)
	}
	return nil
}

// RequestDevice runs LE discovery and lets the chooser pick a peripheral.
func (a *Adapter) RequestDevice(ctx context.Context, f ble.Filter) (ble.Handle, error) {
	if !a.Available() {
		return nil, fmt.Errorf("bluez: %w", ble.ErrUnavailable)
	}
	if err := a.ensurePowered(); err != nil {
		return nil, err
	}

	sink := make(chan picker.Candidate, 64)
	a.mu.Lock()
	a.sink = sink
	a.filter = f
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.sink = nil
		a.mu.Unlock()
	}()

	leOnly := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if err := a.bus.call(a.path, adapterIface+".SetDiscoveryFilter", leOnly); err != nil {
		a.logger.Warn("set discovery filter", "error", err)
	}
	if err := a.bus.call(a.path, adapterIface+".StartDiscovery"); err != nil {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	defer func() {
		if err := a.bus.call(a.path, adapterIface+".StopDiscovery"); err != nil {
			a.logger.Warn("stop discovery", "error", err)
		}
	}()

	if err := a.seed(); err != nil {
		a.logger.Warn("seed discovery from cached objects", "error", err)
	}

	chosen, err := a.chooser.Choose(ctx, sink)
	if err != nil {
		return nil, err
	}
	return &handle{adapter: a, id: chosen.ID, name: chosen.Name, named: chosen.Named}, nil
}

func (a *Adapter) ensurePowered() error {
	powered, err := a.bus.getBool(a.path, adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("read adapter power: %w", err)
	}
	if powered {
		return nil
	}
	a.logger.Info("powering on adapter", "adapter", a.path)
	if err := a.bus.setProp(a.path, adapterIface, "Powered", true); err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	return nil
}

// seed offers devices BlueZ already holds with a live RSSI.
func (a *Adapter) seed() error {
	objs, err := a.bus.managedObjects()
	if err != nil {
		return err
	}
	for path, ifaces := range objs {
		a.deviceSeen(path, ifaces[deviceIface])
	}
	return nil
}

func (a *Adapter) subscribeDisconnected(mac string, cb func()) func() {
	a.mu.Lock()
	a.nextSub++
	id := a.nextSub
	if a.subs[mac] == nil {
		a.subs[mac] = make(map[uint64]func())
	}
	a.subs[mac][id] = cb
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[mac], id)
		if len(a.subs[mac]) == 0 {
			delete(a.subs, mac)
		}
	}
}

// handle is one BlueZ device object.
type handle struct {
	adapter *Adapter
	id      string
	name    string
	named   bool
}

func (h *handle) ID() string { return h.id }

func (h *handle) Name() (string, bool) { return h.name, h.named }

// Connect unblocks the device if needed and calls Device1.Connect.
func (h *handle) Connect(ctx context.Context) error {
	b := h.adapter.bus
	path := deviceObjectPath(h.adapter.path, h.id)
	if blocked, err := b.getBool(path, deviceIface, "Blocked"); err == nil && blocked {
		if err := b.setProp(path, deviceIface, "Blocked", false); err != nil {
			return fmt.Errorf("unblock: %w", err)
		}
	}
	obj := b.conn.Object(busName, path)
	if err := obj.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (h *handle) Disconnect() error {
	path := deviceObjectPath(h.adapter.path, h.id)
	if err := h.adapter.bus.call(path, deviceIface+".Disconnect"); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (h *handle) SubscribeDisconnected(cb func()) func() {
	return h.adapter.subscribeDisconnected(h.id, cb)
}

// Linked reads Device1.Connected for the watchdog.
func (a *Adapter) Linked(id string) bool {
	if a.bus == nil {
		return false
	}
	connected, err := a.bus.getBool(deviceObjectPath(a.path, id), deviceIface, "Connected")
	return err == nil && connected
}
