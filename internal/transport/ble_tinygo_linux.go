package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// On Linux GATT access goes straight to BlueZ over D-Bus: the adapter
// library only issues write commands there, and printers that declare
// acknowledged writes need write requests.
const (
	bluezBus         = "org.bluez"
	bluezAdapterPath = "/org/bluez/hci0"
	bluezDevice      = "org.bluez.Device1"
	bluezGattService = "org.bluez.GattService1"
	bluezGattChar    = "org.bluez.GattCharacteristic1"
	dbusProperties   = "org.freedesktop.DBus.Properties"

	servicesResolveTimeout = 10 * time.Second
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func (c *bluetoothCentral) open(ctx context.Context, dev bluetooth.Device, address string) (GATTPeripheral, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p := &bluezPeripheral{
		central:    c,
		address:    address,
		conn:       conn,
		path:       dbus.ObjectPath(bluezAdapterPath + "/dev_" + strings.ReplaceAll(dev.Address.MAC.String(), ":", "_")),
		disconnect: dev.Disconnect,
		stop:       make(chan struct{}),
	}
	if err := p.waitServicesResolved(ctx); err != nil {
		return nil, err
	}
	if err := p.watchConnected(); err != nil {
		return nil, err
	}
	return p, nil
}

type bluezPeripheral struct {
	central    *bluetoothCentral
	address    string
	conn       *dbus.Conn
	path       dbus.ObjectPath
	disconnect func() error

	signals   chan *dbus.Signal
	match     []dbus.MatchOption
	stop      chan struct{}
	closeOnce sync.Once
}

func (p *bluezPeripheral) waitServicesResolved(ctx context.Context) error {
	deadline := time.Now().Add(servicesResolveTimeout)
	obj := p.conn.Object(bluezBus, p.path)
	for {
		v, err := obj.GetProperty(bluezDevice + ".ServicesResolved")
		if err != nil {
			return err
		}
		if resolved, _ := v.Value().(bool); resolved {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout waiting for GATT services")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// watchConnected reports the device's Connected property turning false.
func (p *bluezPeripheral) watchConnected() error {
	p.match = []dbus.MatchOption{
		dbus.WithMatchObjectPath(p.path),
		dbus.WithMatchInterface(dbusProperties),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := p.conn.AddMatchSignal(p.match...); err != nil {
		return err
	}
	p.signals = make(chan *dbus.Signal, 16)
	p.conn.Signal(p.signals)

	go func() {
		for {
			select {
			case <-p.stop:
				return
			case sig := <-p.signals:
				if sig == nil || sig.Path != p.path || !deviceDisconnected(sig) {
					continue
				}
				p.central.disconnected(p.address)
				return
			}
		}
	}()
	return nil
}

func deviceDisconnected(sig *dbus.Signal) bool {
	if len(sig.Body) < 2 {
		return false
	}
	if iface, _ := sig.Body[0].(string); iface != bluezDevice {
		return false
	}
	changes, _ := sig.Body[1].(map[string]dbus.Variant)
	v, ok := changes["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}

func (p *bluezPeripheral) objects() (managedObjects, error) {
	var objs managedObjects
	err := p.conn.Object(bluezBus, "/").Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objs)
	return objs, err
}

// find returns the object below prefix that implements iface with the
// given UUID, along with its properties.
func (p *bluezPeripheral) find(prefix, iface, uuid string) (dbus.ObjectPath, map[string]dbus.Variant, error) {
	objs, err := p.objects()
	if err != nil {
		return "", nil, err
	}
	paths := make([]string, 0, len(objs))
	for path := range objs {
		paths = append(paths, string(path))
	}
	sort.Strings(paths)

	for _, path := range paths {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		props, ok := objs[dbus.ObjectPath(path)][iface]
		if !ok {
			continue
		}
		if id, _ := props["UUID"].Value().(string); strings.EqualFold(id, uuid) {
			return dbus.ObjectPath(path), props, nil
		}
	}
	return "", nil, fmt.Errorf("%s %s not found", iface, uuid)
}

func (p *bluezPeripheral) Service(uuid string) (GATTService, error) {
	path, _, err := p.find(string(p.path)+"/service", bluezGattService, uuid)
	if err != nil {
		return nil, err
	}
	return &bluezService{peripheral: p, path: path}, nil
}

func (p *bluezPeripheral) OnDisconnect(fn func()) {
	p.central.watch(p.address, fn)
}

func (p *bluezPeripheral) Disconnect() error {
	p.central.unwatch(p.address)
	p.closeOnce.Do(func() {
		close(p.stop)
		p.conn.RemoveSignal(p.signals)
		_ = p.conn.RemoveMatchSignal(p.match...)
	})
	return p.disconnect()
}

type bluezService struct {
	peripheral *bluezPeripheral
	path       dbus.ObjectPath
}

func (s *bluezService) Characteristic(uuid string) (GATTCharacteristic, error) {
	path, props, err := s.peripheral.find(string(s.path)+"/char", bluezGattChar, uuid)
	if err != nil {
		return nil, err
	}
	flags, _ := props["Flags"].Value().([]string)
	return &bluezCharacteristic{
		obj:   s.peripheral.conn.Object(bluezBus, path),
		props: writePropertiesFromFlags(flags),
	}, nil
}

func writePropertiesFromFlags(flags []string) WriteProperties {
	props := WriteProperties{Known: flags != nil}
	for _, f := range flags {
		switch f {
		case "write":
			props.Write = true
		case "write-without-response":
			props.WriteWithoutResponse = true
		}
	}
	return props
}

type bluezCharacteristic struct {
	obj   dbus.BusObject
	props WriteProperties
}

func (c *bluezCharacteristic) Properties() WriteProperties { return c.props }

func (c *bluezCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	return c.write(p, "command")
}

func (c *bluezCharacteristic) Write(p []byte) (int, error) {
	return c.write(p, "request")
}

func (c *bluezCharacteristic) write(p []byte, kind string) (int, error) {
	options := map[string]dbus.Variant{"type": dbus.MakeVariant(kind)}
	if err := c.obj.Call(bluezGattChar+".WriteValue", 0, p, options).Err; err != nil {
		return 0, err
	}
	return len(p), nil
}
