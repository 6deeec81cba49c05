// Package sim is an in-process Bluetooth stack with configurable
// peripherals. It backs demos and the integration tests of the gateway and
// the daemon.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/picker"
)

// ErrConnectRefused is returned by peripherals configured with FailConnect.
var ErrConnectRefused = errors.New("le-connection-abort-by-local")

// Peripheral is one simulated advertiser.
type Peripheral struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	RSSI        int16  `yaml:"rssi"`
	FailConnect bool   `yaml:"fail_connect"`
}

// Config describes the simulated radio.
type Config struct {
	ConnectDelay time.Duration `yaml:"connect_delay"`
	// Disabled makes Available report false.
	Disabled    bool         `yaml:"disabled"`
	Peripherals []Peripheral `yaml:"peripherals"`
}

// Adapter implements ble.Capability.
type Adapter struct {
	cfg     Config
	chooser picker.Chooser
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// New returns a simulated adapter. chooser stands in for the platform picker.
func New(cfg Config, chooser picker.Chooser, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		cfg:     cfg,
		chooser: chooser,
		logger:  logger,
		handles: make(map[string]*handle),
	}
	for _, p := range cfg.Peripherals {
		a.handles[p.ID] = &handle{adapter: a, p: p, subs: make(map[uint64]func())}
	}
	return a
}

func (a *Adapter) Available() bool { return !a.cfg.Disabled }

// RequestDevice advertises every configured peripheral that passes f and
// lets the chooser pick one.
func (a *Adapter) RequestDevice(ctx context.Context, f ble.Filter) (ble.Handle, error) {
	if !a.Available() {
		return nil, fmt.Errorf("sim: %w", ble.ErrUnavailable)
	}

	ch := make(chan picker.Candidate, len(a.cfg.Peripherals))
	for _, p := range a.cfg.Peripherals {
		c := picker.Candidate{ID: p.ID, Name: p.Name, Named: p.Name != "", RSSI: p.RSSI}
		if picker.Accept(f, c) {
			ch <- c
		}
	}
	close(ch)

	chosen, err := a.chooser.Choose(ctx, ch)
	if err != nil {
		return nil, err
	}
	h, ok := a.lookup(chosen.ID)
	if !ok {
		return nil, fmt.Errorf("sim: chooser returned unknown peripheral %q", chosen.ID)
	}
	a.logger.Debug("sim picker chose peripheral", "device", chosen.ID)
	return h, nil
}

// DropLink simulates the peripheral going out of range.
func (a *Adapter) DropLink(id string) error {
	h, ok := a.lookup(id)
	if !ok {
		return fmt.Errorf("sim: unknown peripheral %q", id)
	}
	a.logger.Info("sim link dropped", "device", id)
	h.drop()
	return nil
}

// Linked reports whether the simulated radio holds a link to id.
func (a *Adapter) Linked(id string) bool {
	h, ok := a.lookup(id)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linked
}

// LinkCount is the number of peripherals currently linked.
func (a *Adapter) LinkCount() int {
	n := 0
	for _, p := range a.cfg.Peripherals {
		if a.Linked(p.ID) {
			n++
		}
	}
	return n
}

func (a *Adapter) lookup(id string) (*handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[id]
	return h, ok
}

type handle struct {
	adapter *Adapter
	p       Peripheral

	mu      sync.Mutex
	linked  bool
	subs    map[uint64]func()
	nextSub uint64
}

func (h *handle) ID() string { return h.p.ID }

func (h *handle) Name() (string, bool) { return h.p.Name, h.p.Name != "" }

func (h *handle) Connect(ctx context.Context) error {
	if d := h.adapter.cfg.ConnectDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if h.p.FailConnect {
		return ErrConnectRefused
	}
	h.mu.Lock()
	h.linked = true
	h.mu.Unlock()
	return nil
}

// Disconnect drops the link and, like a real stack, reports it to any
// remaining subscribers.
func (h *handle) Disconnect() error {
	h.drop()
	return nil
}

func (h *handle) SubscribeDisconnected(cb func()) func() {
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = cb
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// drop clears the link and fires subscribers outside the lock.
func (h *handle) drop() {
	h.mu.Lock()
	was := h.linked
	h.linked = false
	var cbs []func()
	if was {
		for _, cb := range h.subs {
			cbs = append(cbs, cb)
		}
	}
	h.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}
