//go:build linux || darwin || windows

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// bluetoothCentral adapts the host adapter from tinygo.org/x/bluetooth.
// Connect only accepts addresses seen by a previous Scan. GATT access after
// connecting is platform specific, see open.
type bluetoothCentral struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu   sync.Mutex
	seen map[string]bluetooth.Address

	handlersMu sync.Mutex
	handlers   map[string]func()
}

// NewBluetoothCentral returns a GATTCentral backed by the default adapter.
func NewBluetoothCentral() GATTCentral {
	c := &bluetoothCentral{
		adapter:  bluetooth.DefaultAdapter,
		seen:     make(map[string]bluetooth.Address),
		handlers: make(map[string]func()),
	}
	// Must be set before the first Connect.
	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			c.disconnected(device.Address.String())
		}
	})
	return c
}

func (c *bluetoothCentral) enable() error {
	c.enableOnce.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	})
	return c.enableErr
}

func (c *bluetoothCentral) Scan(ctx context.Context, window time.Duration) ([]Advertisement, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		mu    sync.Mutex
		found []Advertisement
	)
	scanDone := make(chan struct{})
	go func() {
		select {
		case <-scanCtx.Done():
		case <-scanDone:
			return
		}
		// StopScan fails until Scan has actually started.
		for {
			if err := c.adapter.StopScan(); err == nil {
				return
			}
			select {
			case <-scanDone:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		c.mu.Lock()
		c.seen[addr] = result.Address
		c.mu.Unlock()

		mu.Lock()
		found = append(found, Advertisement{Address: addr, Name: result.LocalName()})
		mu.Unlock()
	})
	close(scanDone)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

func (c *bluetoothCentral) Connect(ctx context.Context, address string) (GATTPeripheral, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	addr, ok := c.seen[address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s has not been seen in a scan", address)
	}

	dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	p, err := c.open(ctx, dev, address)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}
	return p, nil
}

func (c *bluetoothCentral) watch(address string, fn func()) {
	c.handlersMu.Lock()
	c.handlers[address] = fn
	c.handlersMu.Unlock()
}

func (c *bluetoothCentral) unwatch(address string) {
	c.handlersMu.Lock()
	delete(c.handlers, address)
	c.handlersMu.Unlock()
}

// disconnected runs the handler registered for address at most once.
func (c *bluetoothCentral) disconnected(address string) {
	c.handlersMu.Lock()
	fn := c.handlers[address]
	delete(c.handlers, address)
	c.handlersMu.Unlock()
	if fn != nil {
		fn()
	}
}
