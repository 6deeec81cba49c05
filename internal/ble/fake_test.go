package ble

import (
	"context"
	"sync"
)

type fakeHandle struct {
	id    string
	name  string
	named bool

	// gate, when set, blocks Connect until a result is sent.
	gate    chan error
	started chan struct{}
	// gates, when set, gives each Connect call its own gate in call order.
	gates []chan error

	connectErr    error
	disconnectErr error
	onConnect     func()
	onDisconnect  func()

	mu          sync.Mutex
	linked      bool
	connects    int
	disconnects int
	subs        map[int]func()
	registered  []func()
	nextSub     int
}

func newFakeHandle(id, name string) *fakeHandle {
	return &fakeHandle{id: id, name: name, named: name != "", subs: make(map[int]func())}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Name() (string, bool) { return h.name, h.named }

func (h *fakeHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	h.connects++
	gate := h.gate
	if n := h.connects; n <= len(h.gates) {
		gate = h.gates[n-1]
	}
	h.mu.Unlock()

	if h.onConnect != nil {
		h.onConnect()
	}

	err := h.connectErr
	if gate != nil {
		if h.started != nil {
			h.started <- struct{}{}
		}
		select {
		case err = <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.linked = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Disconnect() error {
	if h.onDisconnect != nil {
		h.onDisconnect()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	if h.disconnectErr != nil {
		return h.disconnectErr
	}
	h.linked = false
	return nil
}

func (h *fakeHandle) SubscribeDisconnected(cb func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = cb
	h.registered = append(h.registered, cb)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// drop simulates the peripheral going away.
func (h *fakeHandle) drop() {
	h.mu.Lock()
	h.linked = false
	cbs := make([]func(), 0, len(h.subs))
	for _, cb := range h.subs {
		cbs = append(cbs, cb)
	}
	h.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (h *fakeHandle) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *fakeHandle) isLinked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linked
}

func (h *fakeHandle) counts() (connects, disconnects int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects, h.disconnects
}

type requestResult struct {
	h   Handle
	err error
}

type fakeCapability struct {
	available bool

	mu      sync.Mutex
	results []requestResult
	filters []Filter
}

func newFakeCapability(results ...requestResult) *fakeCapability {
	return &fakeCapability{available: true, results: results}
}

func (c *fakeCapability) Available() bool { return c.available }

func (c *fakeCapability) RequestDevice(_ context.Context, filter Filter) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, filter)
	if len(c.results) == 0 {
		return nil, ErrUserCancelled
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r.h, r.err
}

func (c *fakeCapability) push(r requestResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}
