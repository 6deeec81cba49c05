package ble

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the Manager.
type ErrorKind int

const (
	KindCapabilityUnavailable ErrorKind = iota + 1
	KindUserCancelled
	KindScanFailure
	KindConnectFailure
	KindDisconnectFailure
	KindUnknownDevice
)

func (k ErrorKind) String() string {
	switch k {
	case KindCapabilityUnavailable:
		return "capability_unavailable"
	case KindUserCancelled:
		return "user_cancelled"
	case KindScanFailure:
		return "scan_failure"
	case KindConnectFailure:
		return "connect_failure"
	case KindDisconnectFailure:
		return "disconnect_failure"
	case KindUnknownDevice:
		return "unknown_device"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

const (
	msgUnavailable       = "Bluetooth is not available on this host. Check that an adapter is present and the bluetooth service is running."
	msgNoDeviceSelected  = "No device selected. Please try again."
	msgUnknownScan       = "An unknown error occurred during scanning."
	msgUnknownConnect    = "An unknown error occurred during connection."
	msgUnknownDisconnect = "An unknown error occurred during disconnection."
)

// Error is a failure converted at an operation boundary.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the single line stored as the session's last error.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindCapabilityUnavailable:
		return msgUnavailable
	case KindUserCancelled:
		return msgNoDeviceSelected
	case KindScanFailure:
		return withCause("Scan failed", e.Err, msgUnknownScan)
	case KindConnectFailure:
		return withCause("Failed to connect", e.Err, msgUnknownConnect)
	case KindDisconnectFailure:
		return withCause("Failed to disconnect", e.Err, msgUnknownDisconnect)
	case KindUnknownDevice:
		return withCause("Failed to connect", e.Err, msgUnknownConnect)
	}
	return e.Error()
}

// withCause coerces errors without a message to the generic text.
func withCause(prefix string, err error, unknown string) string {
	if err == nil || err.Error() == "" {
		return unknown
	}
	return prefix + ": " + err.Error()
}

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func classifyScan(err error) *Error {
	switch {
	case errors.Is(err, ErrUserCancelled):
		return &Error{Kind: KindUserCancelled, Op: "scan", Err: err}
	case errors.Is(err, ErrUnavailable):
		return &Error{Kind: KindCapabilityUnavailable, Op: "scan", Err: err}
	}
	return &Error{Kind: KindScanFailure, Op: "scan", Err: err}
}
