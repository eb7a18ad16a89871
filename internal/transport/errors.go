package transport

import (
	"errors"
	"fmt"

	"github.com/pizza-nz/print-agent/internal/models"
)

var (
	// ErrUnavailable means the host has no usable adapter for the backend.
	ErrUnavailable = errors.New("transport unavailable on this host")
	// ErrNoCandidates means discovery found nothing to connect to.
	ErrNoCandidates = errors.New("no authorized devices")
	// ErrNotConnected is returned by Send before a successful Connect.
	ErrNotConnected = errors.New("transport not connected")
	// ErrNoWritableCharacteristic means none of the known GATT services
	// or characteristics were found on the peripheral.
	ErrNoWritableCharacteristic = errors.New("no writable printer characteristic found")
	// ErrLinkDropped is reported when the adapter sees the device go away.
	ErrLinkDropped = errors.New("device dropped the connection")
	// ErrTimeout is returned when an operation exceeds its bound.
	ErrTimeout = errors.New("transport operation timed out")
)

// TransportError wraps a failure with the backend and operation it came from.
type TransportError struct {
	Op      string
	Backend models.BackendKind
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func opError(backend models.BackendKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Backend: backend, Err: err}
}
