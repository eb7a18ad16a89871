//go:build !linux && !darwin && !windows

package transport

import (
	"context"
	"time"
)

type unsupportedCentral struct{}

// NewBluetoothCentral returns a central that reports ErrUnavailable: the
// host has no supported Bluetooth stack.
func NewBluetoothCentral() GATTCentral { return unsupportedCentral{} }

func (unsupportedCentral) Scan(ctx context.Context, window time.Duration) ([]Advertisement, error) {
	return nil, ErrUnavailable
}

func (unsupportedCentral) Connect(ctx context.Context, address string) (GATTPeripheral, error) {
	return nil, ErrUnavailable
}
