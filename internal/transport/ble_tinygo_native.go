//go:build darwin || windows

package transport

import (
	"context"
	"fmt"

	"tinygo.org/x/bluetooth"
)

func (c *bluetoothCentral) open(ctx context.Context, dev bluetooth.Device, address string) (GATTPeripheral, error) {
	return &bluetoothPeripheral{central: c, address: address, dev: dev}, nil
}

type bluetoothPeripheral struct {
	central *bluetoothCentral
	address string
	dev     bluetooth.Device
}

func (p *bluetoothPeripheral) Service(uuid string) (GATTService, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	services, err := p.dev.DiscoverServices([]bluetooth.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service %s not found", uuid)
	}
	return &bluetoothService{svc: services[0]}, nil
}

func (p *bluetoothPeripheral) OnDisconnect(fn func()) {
	p.central.watch(p.address, fn)
}

func (p *bluetoothPeripheral) Disconnect() error {
	p.central.unwatch(p.address)
	return p.dev.Disconnect()
}

type bluetoothService struct {
	svc bluetooth.DeviceService
}

func (s *bluetoothService) Characteristic(uuid string) (GATTCharacteristic, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return &bluetoothCharacteristic{ch: chars[0]}, nil
}

type bluetoothCharacteristic struct {
	ch bluetooth.DeviceCharacteristic
}

func (c *bluetoothCharacteristic) Properties() WriteProperties {
	return characteristicProperties(c.ch)
}

func (c *bluetoothCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	return c.ch.WriteWithoutResponse(p)
}

func (c *bluetoothCharacteristic) Write(p []byte) (int, error) {
	return c.ch.Write(p)
}
