package transport

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
	"github.com/pizza-nz/print-agent/internal/models"
)

// SerialPort is the part of serial.Port the printer needs.
type SerialPort interface {
	Write(p []byte) (int, error)
	Close() error
}

// SerialOpener opens name at baud, 8N1.
type SerialOpener func(name string, baud int) (SerialPort, error)

// PortLister returns the names of the ports currently present.
type PortLister func() ([]string, error)

func openSerialPort(name string, baud int) (SerialPort, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Serial sends tickets to a USB or RS-232 printer.
type Serial struct {
	open   SerialOpener
	list   PortLister
	cfg    config.Serial
	sleep  Sleeper
	logger *zap.Logger

	// writeMu is the exclusive writer lock; see acquireWriter.
	writeMu  sync.Mutex
	releases atomic.Int64

	mu        sync.Mutex
	port      SerialPort
	name      string
	baud      int
	onLost    func(error)
	stopWatch chan struct{}
	watchDone chan struct{}
}

func NewSerial(cfg config.Serial, logger *zap.Logger) *Serial {
	return newSerial(openSerialPort, serial.GetPortsList, cfg, logger)
}

func newSerial(open SerialOpener, list PortLister, cfg config.Serial, logger *zap.Logger) *Serial {
	return &Serial{
		open:   open,
		list:   list,
		cfg:    cfg,
		sleep:  time.Sleep,
		logger: logger.Named("serial"),
	}
}

func (s *Serial) Kind() models.BackendKind { return models.BackendSerial }

// Connect opens dev.ID at each configured baud rate in turn until one
// succeeds, then watches for the port disappearing.
func (s *Serial) Connect(ctx context.Context, dev models.DeviceInfo) (Capabilities, error) {
	if err := s.Disconnect(ctx); err != nil {
		s.logger.Debug("closing previous port", zap.Error(err))
	}

	var errs *multierror.Error
	for _, baud := range s.cfg.BaudRates {
		port, err := s.open(dev.ID, baud)
		if err != nil {
			s.logger.Debug("open failed", zap.String("port", dev.ID), zap.Int("baud", baud), zap.Error(err))
			errs = multierror.Append(errs, fmt.Errorf("open at %d baud: %w", baud, err))
			continue
		}

		stop, done := make(chan struct{}), make(chan struct{})
		s.mu.Lock()
		s.port = port
		s.name = dev.ID
		s.baud = baud
		s.stopWatch = stop
		s.watchDone = done
		s.mu.Unlock()
		go s.watch(dev.ID, stop, done)

		s.logger.Info("port opened", zap.String("port", dev.ID), zap.Int("baud", baud))
		return Capabilities{MTU: SerialChunks.Size}, nil
	}
	return Capabilities{}, opError(models.BackendSerial, "connect", errs.ErrorOrNil())
}

// portWriter holds the writer lock until release is called. release is
// safe to call more than once.
type portWriter struct {
	port    SerialPort
	release func()
}

func (s *Serial) acquireWriter() (*portWriter, error) {
	s.writeMu.Lock()

	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		s.writeMu.Unlock()
		return nil, ErrNotConnected
	}

	var once sync.Once
	return &portWriter{
		port: port,
		release: func() {
			once.Do(func() {
				s.releases.Add(1)
				s.writeMu.Unlock()
			})
		},
	}, nil
}

// Send writes payload in 128-byte chunks. A failure is returned at once;
// the caller restarts from the beginning.
func (s *Serial) Send(ctx context.Context, payload []byte) error {
	w, err := s.acquireWriter()
	if err != nil {
		return opError(models.BackendSerial, "send", err)
	}
	defer w.release()

	sent, err := sendChunks(payload, SerialChunks, s.sleep, func(chunk []byte) error {
		return writeAll(w.port, chunk)
	})
	if err != nil {
		return opError(models.BackendSerial, "send", fmt.Errorf("after %d of %d bytes: %w", sent, len(payload), err))
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Disconnect waits for an in-flight Send, then closes the port.
func (s *Serial) Disconnect(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	port, stop, done := s.port, s.stopWatch, s.watchDone
	s.port = nil
	s.stopWatch = nil
	s.watchDone = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if port == nil {
		return nil
	}
	return opError(models.BackendSerial, "disconnect", port.Close())
}

func (s *Serial) OnUnexpectedDisconnect(fn func(error)) {
	s.mu.Lock()
	s.onLost = fn
	s.mu.Unlock()
}

func (s *Serial) watch(name string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if s.cfg.WatchInterval <= 0 || s.list == nil {
		return
	}

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			names, err := s.list()
			if err != nil {
				s.logger.Debug("listing ports", zap.Error(err))
				continue
			}
			if !slices.Contains(names, name) {
				s.lost(fmt.Errorf("port %s removed", name))
				return
			}
		}
	}
}

func (s *Serial) lost(cause error) {
	s.mu.Lock()
	port, fn := s.port, s.onLost
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return
	}
	_ = port.Close()
	s.logger.Warn("printer port lost", zap.Error(cause))
	if fn != nil {
		fn(cause)
	}
}

// PortDetailsLister enumerates ports with their USB identity.
type PortDetailsLister func() ([]*enumerator.PortDetails, error)

// SerialDiscoverer lists the USB serial ports present on the host, plus
// any non-USB port named in the configured allowlist.
type SerialDiscoverer struct {
	list    PortDetailsLister
	allowed map[string]bool
}

func NewSerialDiscoverer(cfg config.Serial) *SerialDiscoverer {
	return &SerialDiscoverer{list: enumerator.GetDetailedPortsList, allowed: allowlist(cfg.Ports)}
}

func allowlist(ports []string) map[string]bool {
	allowed := make(map[string]bool, len(ports))
	for _, p := range ports {
		allowed[p] = true
	}
	return allowed
}

func (d *SerialDiscoverer) Kind() models.BackendKind { return models.BackendSerial }

func (d *SerialDiscoverer) ListAuthorized(ctx context.Context) ([]models.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, opError(models.BackendSerial, "list", err)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	devices := make([]models.DeviceInfo, 0, len(ports))
	for _, p := range ports {
		if !p.IsUSB && !d.allowed[p.Name] {
			continue
		}
		dev := models.DeviceInfo{
			ID:      p.Name,
			Name:    p.Name,
			Backend: models.BackendSerial,
			Index:   len(devices),
		}
		if p.IsUSB {
			dev.VendorID = parseUSBID(p.VID)
			dev.ProductID = parseUSBID(p.PID)
			if p.Product != "" {
				dev.Name = p.Product
			}
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
