// Package tinyble implements the Bluetooth capability with
// tinygo.org/x/bluetooth, which covers Linux, macOS and Windows hosts.
package tinyble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/picker"
)

// radio is the part of *bluetooth.Adapter the capability uses.
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// Adapter implements ble.Capability on the default tinygo adapter.
type Adapter struct {
	radio   radio
	chooser picker.Chooser
	logger  *slog.Logger

	enableMu sync.Mutex
	enabled  bool

	mu        sync.Mutex
	addresses map[string]bluetooth.Address
	subs      map[string]map[uint64]func()
	nextSub   uint64
}

// New wraps bluetooth.DefaultAdapter.
func New(chooser picker.Chooser, logger *slog.Logger) *Adapter {
	return newAdapter(bluetooth.DefaultAdapter, chooser, logger)
}

func newAdapter(r radio, chooser picker.Chooser, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		radio:     r,
		chooser:   chooser,
		logger:    logger,
		addresses: make(map[string]bluetooth.Address),
		subs:      make(map[string]map[uint64]func()),
	}
}

// Available enables the BLE stack on first use. A failed enable is retried
// on the next call, so the stack can come up after startup.
func (a *Adapter) Available() bool {
	return a.enable() == nil
}

func (a *Adapter) enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.radio.Enable(); err != nil {
		a.logger.Debug("enable BLE stack", "error", err)
		return err
	}
	a.enabled = true
	a.radio.SetConnectHandler(a.onConnectChange)
	return nil
}

// RequestDevice scans while the chooser is deciding.
func (a *Adapter) RequestDevice(ctx context.Context, f ble.Filter) (ble.Handle, error) {
	if err := a.enable(); err != nil {
		return nil, fmt.Errorf("tinygo: %v: %w", err, ble.ErrUnavailable)
	}

	sink := make(chan picker.Candidate, 64)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- a.radio.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			name := r.LocalName()
			c := picker.Candidate{ID: r.Address.String(), Name: name, Named: name != "", RSSI: r.RSSI}
			a.mu.Lock()
			a.addresses[c.ID] = r.Address
			a.mu.Unlock()
			if !picker.Accept(f, c) {
				return
			}
			select {
			case sink <- c:
			default:
			}
		})
	}()

	chosen, chooseErr := a.chooser.Choose(ctx, sink)
	if err := a.radio.StopScan(); err != nil {
		a.logger.Warn("stop scan", "error", err)
	}
	if err := <-scanDone; err != nil && chooseErr == nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if chooseErr != nil {
		return nil, chooseErr
	}

	a.mu.Lock()
	addr := a.addresses[chosen.ID]
	a.mu.Unlock()
	return &handle{adapter: a, id: chosen.ID, name: chosen.Name, named: chosen.Named, addr: addr}, nil
}

func (a *Adapter) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := device.Address.String()
	a.logger.Info("device disconnected", "device", id)

	a.mu.Lock()
	cbs := make([]func(), 0, len(a.subs[id]))
	for _, cb := range a.subs[id] {
		cbs = append(cbs, cb)
	}
	a.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

func (a *Adapter) subscribe(id string, cb func()) func() {
	a.mu.Lock()
	a.nextSub++
	n := a.nextSub
	if a.subs[id] == nil {
		a.subs[id] = make(map[uint64]func())
	}
	a.subs[id][n] = cb
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[id], n)
		if len(a.subs[id]) == 0 {
			delete(a.subs, id)
		}
	}
}

type handle struct {
	adapter *Adapter
	id      string
	name    string
	named   bool
	addr    bluetooth.Address

	mu     sync.Mutex
	device *bluetooth.Device
}

func (h *handle) ID() string { return h.id }

func (h *handle) Name() (string, bool) { return h.name, h.named }

// Connect blocks in the stack until it answers. A cancelled ctx returns
// early, and a link that comes up afterwards is dropped.
func (h *handle) Connect(ctx context.Context) error {
	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := h.adapter.radio.Connect(h.addr, bluetooth.ConnectionParams{})
		done <- result{dev, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("connect: %w", r.err)
		}
		h.mu.Lock()
		h.device = &r.dev
		h.mu.Unlock()
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				if err := r.dev.Disconnect(); err != nil {
					h.adapter.logger.Warn("drop late link", "device", h.id, "error", err)
				}
			}
		}()
		return ctx.Err()
	}
}

func (h *handle) Disconnect() error {
	h.mu.Lock()
	dev := h.device
	h.device = nil
	h.mu.Unlock()
	if dev == nil {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (h *handle) SubscribeDisconnected(cb func()) func() {
	return h.adapter.subscribe(h.id, cb)
}
