package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
	"github.com/pizza-nz/print-agent/internal/models"
)

// GATT layouts used by common ESC/POS thermal printers, tried in order.
var (
	PrinterServiceUUIDs = []string{
		"000018f0-0000-1000-8000-00805f9b34fb",
		"0000fff0-0000-1000-8000-00805f9b34fb",
		"0000ffe0-0000-1000-8000-00805f9b34fb",
	}
	PrinterCharacteristicUUIDs = []string{
		"00002af1-0000-1000-8000-00805f9b34fb",
		"0000fff2-0000-1000-8000-00805f9b34fb",
		"0000ffe1-0000-1000-8000-00805f9b34fb",
	}
)

// Characteristics known to accept write commands. Used in "auto" mode when
// the platform does not report characteristic properties.
var unacknowledgedCharacteristics = map[string]bool{
	"00002af1-0000-1000-8000-00805f9b34fb": true,
	"0000fff2-0000-1000-8000-00805f9b34fb": true,
	"0000ffe1-0000-1000-8000-00805f9b34fb": true,
}

// Advertisement is one peripheral seen during a scan.
type Advertisement struct {
	Address string
	Name    string
}

// GATTCentral is the host Bluetooth adapter.
type GATTCentral interface {
	Scan(ctx context.Context, window time.Duration) ([]Advertisement, error)
	Connect(ctx context.Context, address string) (GATTPeripheral, error)
}

// GATTPeripheral is a connected printer.
type GATTPeripheral interface {
	Service(uuid string) (GATTService, error)
	// OnDisconnect registers fn to run when the adapter reports that the
	// link dropped. It is not called after Disconnect.
	OnDisconnect(fn func())
	Disconnect() error
}

type GATTService interface {
	Characteristic(uuid string) (GATTCharacteristic, error)
}

// WriteProperties are the write procedures a characteristic declares.
// Known is false when the platform does not expose them.
type WriteProperties struct {
	Known                bool
	Write                bool
	WriteWithoutResponse bool
}

type GATTCharacteristic interface {
	Properties() WriteProperties
	// WriteWithoutResponse sends a write command.
	WriteWithoutResponse(p []byte) (int, error)
	// Write sends a write request and waits for the acknowledgement.
	Write(p []byte) (int, error)
}

// BLE sends tickets to a printer over a GATT characteristic.
type BLE struct {
	central GATTCentral
	cfg     config.BLE
	sleep   Sleeper
	logger  *zap.Logger

	mu         sync.Mutex
	peripheral GATTPeripheral
	char       GATTCharacteristic
	caps       Capabilities
	device     models.DeviceInfo
	onLost     func(error)
	lostOnce   *sync.Once
}

func NewBLE(central GATTCentral, cfg config.BLE, logger *zap.Logger) *BLE {
	return &BLE{
		central: central,
		cfg:     cfg,
		sleep:   time.Sleep,
		logger:  logger.Named("ble"),
	}
}

func (b *BLE) Kind() models.BackendKind { return models.BackendBLE }

// Connect opens the GATT link and locates the first known printer
// characteristic.
func (b *BLE) Connect(ctx context.Context, dev models.DeviceInfo) (Capabilities, error) {
	address := dev.Address
	if address == "" {
		address = dev.ID
	}

	p, err := b.central.Connect(ctx, address)
	if err != nil {
		return Capabilities{}, opError(models.BackendBLE, "connect", err)
	}

	charUUID, ch, err := resolveCharacteristic(p)
	if err != nil {
		if derr := p.Disconnect(); derr != nil {
			b.logger.Debug("disconnect after failed lookup", zap.Error(derr))
		}
		return Capabilities{}, opError(models.BackendBLE, "connect", err)
	}

	props := ch.Properties()
	caps := Capabilities{SupportsUnacknowledgedWrite: b.unacknowledged(charUUID, props)}

	b.mu.Lock()
	b.peripheral = p
	b.char = ch
	b.caps = caps
	b.device = dev
	b.lostOnce = &sync.Once{}
	b.mu.Unlock()

	p.OnDisconnect(func() { b.dropped(p) })

	b.logger.Info("printer connected",
		zap.String("address", address),
		zap.String("name", dev.Name),
		zap.String("characteristic", charUUID),
		zap.Bool("write_without_response", caps.SupportsUnacknowledgedWrite),
		zap.Bool("properties_known", props.Known),
	)
	return caps, nil
}

func resolveCharacteristic(p GATTPeripheral) (string, GATTCharacteristic, error) {
	for _, svcUUID := range PrinterServiceUUIDs {
		svc, err := p.Service(svcUUID)
		if err != nil || svc == nil {
			continue
		}
		for _, charUUID := range PrinterCharacteristicUUIDs {
			ch, err := svc.Characteristic(charUUID)
			if err != nil || ch == nil {
				continue
			}
			return charUUID, ch, nil
		}
		// Only the first service found is searched.
		break
	}
	return "", nil, ErrNoWritableCharacteristic
}

func (b *BLE) unacknowledged(charUUID string, props WriteProperties) bool {
	switch b.cfg.WriteWithoutResponse {
	case "on":
		return true
	case "off":
		return false
	}
	if props.Known {
		return props.WriteWithoutResponse
	}
	return unacknowledgedCharacteristics[strings.ToLower(charUUID)]
}

// Send writes payload using the chunking the characteristic supports. A
// failed transfer is restarted once from the first byte with small
// acknowledged writes. If that also fails the link is reported lost.
func (b *BLE) Send(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	ch, caps := b.char, b.caps
	b.mu.Unlock()
	if ch == nil {
		return opError(models.BackendBLE, "send", ErrNotConnected)
	}

	chunker, write := BLEAcknowledged, ch.Write
	if caps.SupportsUnacknowledgedWrite {
		chunker, write = BLEUnacknowledged, ch.WriteWithoutResponse
	}

	sent, err := sendChunks(payload, chunker, b.sleep, fullWrite(write))
	if err == nil {
		return nil
	}
	b.logger.Warn("transfer failed, restarting with small acknowledged writes",
		zap.Int("sent", sent), zap.Int("total", len(payload)), zap.Error(err))

	if _, rerr := sendChunks(payload, BLERecovery, b.sleep, fullWrite(ch.Write)); rerr != nil {
		var result *multierror.Error
		result = multierror.Append(result, err, fmt.Errorf("retry: %w", rerr))
		b.lost(nil, result)
		return opError(models.BackendBLE, "send", result.ErrorOrNil())
	}
	return nil
}

// Disconnect closes the GATT link. Calling it when not connected is a no-op.
func (b *BLE) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	p := b.peripheral
	b.peripheral = nil
	b.char = nil
	b.mu.Unlock()

	if p == nil {
		return nil
	}
	return opError(models.BackendBLE, "disconnect", p.Disconnect())
}

func (b *BLE) OnUnexpectedDisconnect(fn func(error)) {
	b.mu.Lock()
	b.onLost = fn
	b.mu.Unlock()
}

// dropped handles a disconnect reported by the adapter for p. Reports for a
// link that was already closed or replaced are ignored.
func (b *BLE) dropped(p GATTPeripheral) {
	b.lost(p, ErrLinkDropped)
}

// lost tears down the link and fires the loss callback once. A non-nil
// expect limits it to that peripheral.
func (b *BLE) lost(expect GATTPeripheral, cause error) {
	b.mu.Lock()
	p, fn, once := b.peripheral, b.onLost, b.lostOnce
	if p == nil || (expect != nil && p != expect) {
		b.mu.Unlock()
		return
	}
	b.peripheral = nil
	b.char = nil
	b.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		_ = p.Disconnect()
		b.logger.Warn("printer link lost", zap.Error(cause))
		if fn != nil {
			fn(cause)
		}
	})
}

func fullWrite(write func([]byte) (int, error)) func([]byte) error {
	return func(chunk []byte) error {
		n, err := write(chunk)
		if err != nil {
			return err
		}
		if n < len(chunk) {
			return io.ErrShortWrite
		}
		return nil
	}
}

// BLEDiscoverer lists nearby printers whose advertised name matches one of
// the configured prefixes.
type BLEDiscoverer struct {
	central GATTCentral
	cfg     config.BLE
}

func NewBLEDiscoverer(central GATTCentral, cfg config.BLE) *BLEDiscoverer {
	return &BLEDiscoverer{central: central, cfg: cfg}
}

func (d *BLEDiscoverer) Kind() models.BackendKind { return models.BackendBLE }

func (d *BLEDiscoverer) ListAuthorized(ctx context.Context) ([]models.DeviceInfo, error) {
	ads, err := d.central.Scan(ctx, d.cfg.ScanWindow)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, opError(models.BackendBLE, "scan", err)
	}

	seen := make(map[string]bool)
	var matched []Advertisement
	for _, ad := range ads {
		if ad.Address == "" || seen[ad.Address] || !d.matches(ad.Name) {
			continue
		}
		seen[ad.Address] = true
		matched = append(matched, ad)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Address < matched[j].Address })

	devices := make([]models.DeviceInfo, 0, len(matched))
	for i, ad := range matched {
		devices = append(devices, models.DeviceInfo{
			ID:      ad.Address,
			Name:    ad.Name,
			Backend: models.BackendBLE,
			Address: ad.Address,
			Index:   i,
		})
	}
	return devices, nil
}

func (d *BLEDiscoverer) matches(name string) bool {
	if len(d.cfg.NamePrefixes) == 0 {
		return true
	}
	for _, prefix := range d.cfg.NamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
