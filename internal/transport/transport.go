// Package transport delivers ticket bytes to printers over BLE GATT, a
// serial port or a spooled browser-print document.
package transport

import (
	"context"

	"github.com/pizza-nz/print-agent/internal/models"
)

// Capabilities are reported by Connect and drive the chunking policy.
type Capabilities struct {
	SupportsUnacknowledgedWrite bool
	MTU                         int
}

// Transport is a single connection to one printer.
//
// Send either transmits the whole payload or returns a *TransportError;
// a failed Send must be retried from the beginning. Once Send starts
// writing it runs to completion, ctx is not consulted mid-transfer.
type Transport interface {
	Kind() models.BackendKind
	Connect(ctx context.Context, dev models.DeviceInfo) (Capabilities, error)
	Send(ctx context.Context, payload []byte) error
	Disconnect(ctx context.Context) error
	// OnUnexpectedDisconnect registers fn to be called once when the
	// device goes away without Disconnect being called.
	OnUnexpectedDisconnect(fn func(error))
}

// Discoverer lists the devices a backend is allowed to talk to.
type Discoverer interface {
	Kind() models.BackendKind
	ListAuthorized(ctx context.Context) ([]models.DeviceInfo, error)
}
