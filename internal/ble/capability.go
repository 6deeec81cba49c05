// Package ble holds the connection-state core: the platform capability
// contract, the discovered-device model, and the Manager that serializes
// scan, connect and disconnect against a single active peripheral.
package ble

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned (wrapped) by a platform that has no usable
	// Bluetooth stack.
	ErrUnavailable = errors.New("bluetooth capability unavailable")

	// ErrUserCancelled is returned (wrapped) by RequestDevice when the picker
	// was dismissed or nothing was chosen.
	ErrUserCancelled = errors.New("no device selected")
)

// Filter configures RequestDevice.
type Filter struct {
	// AcceptAll offers every advertising peripheral, with no service filter.
	AcceptAll bool
	// NamePrefix, when set, only offers peripherals whose advertised name
	// starts with it.
	NamePrefix string
}

// Capability is the host Bluetooth stack as seen by the Manager.
type Capability interface {
	// Available reports whether the stack exists in this environment.
	Available() bool
	// RequestDevice runs the user-mediated picker and returns the chosen
	// peripheral.
	RequestDevice(ctx context.Context, filter Filter) (Handle, error)
}

// Handle is the platform's live object for one peripheral.
type Handle interface {
	ID() string
	// Name returns the advertised name, if the peripheral sent one.
	Name() (string, bool)
	Connect(ctx context.Context) error
	Disconnect() error
	// SubscribeDisconnected registers cb for link loss on this peripheral.
	// The returned func removes the registration and is safe to call twice.
	// Implementations must not invoke cb synchronously from within
	// SubscribeDisconnected.
	SubscribeDisconnected(cb func()) (unsubscribe func())
}
