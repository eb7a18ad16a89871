// Package registry owns the printer connection of every role: which device
// it resolves to, the open transport, and the persisted preference.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/db/repository"
	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/transport"
)

var (
	ErrUnknownRole    = errors.New("unknown printer role")
	ErrConnecting     = errors.New("connection attempt already in progress")
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoDiscoverer   = errors.New("backend cannot discover devices")
	// ErrConnectAborted means the role was disconnected while the
	// connection attempt was still running.
	ErrConnectAborted = errors.New("connection attempt aborted by disconnect")
)

// PreferenceStore persists the device preference of each role.
type PreferenceStore interface {
	Get(ctx context.Context, role models.Role) (*models.Preference, error)
	Save(ctx context.Context, pref models.Preference) error
	SetAutoConnect(ctx context.Context, role models.Role, enabled bool) error
}

// StatusListener is told about every connection state change. It must not
// block.
type StatusListener interface {
	PrinterStatusChanged(state models.ConnectionState)
}

// Factory creates an unconnected transport for a backend.
type Factory func(kind models.BackendKind) (transport.Transport, error)

type Options struct {
	Store        PreferenceStore
	Discoverers  []transport.Discoverer
	NewTransport Factory
	// Backends is the backend used by a role with no stored preference.
	Backends map[models.Role]models.BackendKind
	// Timeout bounds every transport operation.
	Timeout time.Duration
	Logger  *zap.Logger
}

// State of one role's connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type entry struct {
	role models.Role

	// printSem allows one in-flight send per role.
	printSem chan struct{}

	mu          sync.Mutex
	state       State
	backend     models.BackendKind
	device      *models.DeviceInfo
	caps        transport.Capabilities
	handle      transport.Transport
	autoConnect bool
	lastErr     string
	// attempt changes on every connect, disconnect and close so a slow
	// connect can tell it was superseded.
	attempt uint64
}

// Registry is passed explicitly to whoever needs printers; there is no
// package-level instance.
type Registry struct {
	store        PreferenceStore
	discoverers  map[models.BackendKind]transport.Discoverer
	newTransport Factory
	timeout      time.Duration
	logger       *zap.Logger

	entries map[models.Role]*entry

	listenersMu sync.RWMutex
	listeners   []StatusListener
}

func New(opts Options) *Registry {
	r := &Registry{
		store:        opts.Store,
		discoverers:  make(map[models.BackendKind]transport.Discoverer),
		newTransport: opts.NewTransport,
		timeout:      opts.Timeout,
		logger:       opts.Logger.Named("registry"),
		entries:      make(map[models.Role]*entry),
	}
	for _, d := range opts.Discoverers {
		r.discoverers[d.Kind()] = d
	}
	for _, role := range models.Roles {
		backend := opts.Backends[role]
		if backend == "" {
			backend = models.BackendSerial
		}
		r.entries[role] = &entry{
			role:        role,
			printSem:    make(chan struct{}, 1),
			backend:     backend,
			autoConnect: true,
		}
	}
	return r
}

// AddListener registers l for status changes.
func (r *Registry) AddListener(l StatusListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

func (r *Registry) entry(role models.Role) (*entry, error) {
	e, ok := r.entries[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return e, nil
}

// Connect returns the role's device, connecting to the preferred one when
// no connection is open.
func (r *Registry) Connect(ctx context.Context, role models.Role) (models.DeviceInfo, error) {
	return r.connect(ctx, role, true)
}

func (r *Registry) connect(ctx context.Context, role models.Role, explicit bool) (models.DeviceInfo, error) {
	e, err := r.entry(role)
	if err != nil {
		return models.DeviceInfo{}, err
	}

	e.mu.Lock()
	if e.state == StateConnected && e.handle != nil {
		dev := *e.device
		e.mu.Unlock()
		return dev, nil
	}
	if e.state == StateConnecting {
		e.mu.Unlock()
		return models.DeviceInfo{}, ErrConnecting
	}
	e.state = StateConnecting
	e.lastErr = ""
	e.attempt++
	attempt := e.attempt
	e.mu.Unlock()
	r.publish(e)

	pref := r.preference(ctx, e)
	dev, t, caps, err := r.open(ctx, pref.Backend, func(candidates []models.DeviceInfo) (models.DeviceInfo, error) {
		return Resolve(pref, candidates)
	})
	if err != nil {
		r.fail(e, attempt, err)
		return models.DeviceInfo{}, err
	}

	if !r.attach(ctx, e, attempt, t, dev, caps) {
		return models.DeviceInfo{}, ErrConnectAborted
	}
	if explicit {
		r.setAutoConnect(ctx, e, true)
	}
	r.logger.Info("printer connected",
		zap.String("role", string(role)),
		zap.String("backend", string(dev.Backend)),
		zap.String("device", dev.ID),
		zap.Bool("explicit", explicit))
	return dev, nil
}

// SelectDevice connects role to the device with deviceID on backend,
// replacing any open connection, and stores it as the role's preference.
func (r *Registry) SelectDevice(ctx context.Context, role models.Role, backend models.BackendKind, deviceID string) (models.DeviceInfo, error) {
	e, err := r.entry(role)
	if err != nil {
		return models.DeviceInfo{}, err
	}

	e.mu.Lock()
	if e.state == StateConnecting {
		e.mu.Unlock()
		return models.DeviceInfo{}, ErrConnecting
	}
	old := e.handle
	e.handle = nil
	e.device = nil
	e.state = StateConnecting
	e.lastErr = ""
	e.attempt++
	attempt := e.attempt
	e.mu.Unlock()
	r.publish(e)

	if old != nil {
		r.closeTransport(ctx, old)
	}

	dev, t, caps, err := r.open(ctx, backend, func(candidates []models.DeviceInfo) (models.DeviceInfo, error) {
		for _, c := range candidates {
			if c.ID == deviceID {
				return c, nil
			}
		}
		return models.DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	})
	if err != nil {
		r.fail(e, attempt, err)
		return models.DeviceInfo{}, err
	}

	if !r.attach(ctx, e, attempt, t, dev, caps) {
		return models.DeviceInfo{}, ErrConnectAborted
	}
	if err := r.store.Save(ctx, models.PreferenceFor(role, dev)); err != nil {
		r.logger.Error("failed to save preference", zap.String("role", string(role)), zap.Error(err))
	}
	e.mu.Lock()
	e.autoConnect = true
	e.mu.Unlock()
	r.publish(e)

	r.logger.Info("printer selected",
		zap.String("role", string(role)),
		zap.String("backend", string(backend)),
		zap.String("device", dev.ID))
	return dev, nil
}

// Disconnect closes the role's connection and disables auto-connect for it.
func (r *Registry) Disconnect(ctx context.Context, role models.Role) error {
	e, err := r.entry(role)
	if err != nil {
		return err
	}

	e.mu.Lock()
	t := e.handle
	e.handle = nil
	e.device = nil
	e.state = StateDisconnected
	e.attempt++
	e.mu.Unlock()

	if t != nil {
		r.closeTransport(ctx, t)
	}
	r.setAutoConnect(ctx, e, false)
	r.publish(e)
	r.logger.Info("printer disconnected", zap.String("role", string(role)))
	return nil
}

// ListAuthorizedDevices lists the devices backend can connect to.
func (r *Registry) ListAuthorizedDevices(ctx context.Context, backend models.BackendKind) ([]models.DeviceInfo, error) {
	d, ok := r.discoverers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDiscoverer, backend)
	}

	var devices []models.DeviceInfo
	var mu sync.Mutex
	err := transport.WithTimeout(ctx, r.timeout, func(opCtx context.Context) error {
		found, err := d.ListAuthorized(opCtx)
		mu.Lock()
		devices = found
		mu.Unlock()
		return err
	})
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// PrintText sends payload to the role's printer, connecting first when
// needed. Sends for one role never overlap.
func (r *Registry) PrintText(ctx context.Context, role models.Role, payload []byte) (models.BackendKind, error) {
	e, err := r.entry(role)
	if err != nil {
		return "", err
	}

	handle, backend := e.connected()
	if handle == nil {
		if _, err := r.Connect(ctx, role); err != nil {
			return "", err
		}
		handle, backend = e.connected()
		if handle == nil {
			return "", transport.ErrNotConnected
		}
	}

	if err := r.acquirePrint(ctx, e); err != nil {
		return backend, err
	}
	err = transport.WithTimeout(ctx, r.timeout, func(opCtx context.Context) error {
		defer func() { <-e.printSem }()
		return handle.Send(opCtx, payload)
	})
	if err != nil {
		r.logger.Warn("print failed",
			zap.String("role", string(role)),
			zap.String("backend", string(backend)),
			zap.Int("bytes", len(payload)),
			zap.Error(err))
		return backend, err
	}
	r.logger.Debug("print sent",
		zap.String("role", string(role)),
		zap.String("backend", string(backend)),
		zap.Int("bytes", len(payload)))
	return backend, nil
}

func (r *Registry) acquirePrint(ctx context.Context, e *entry) error {
	var timeout <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case e.printSem <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w waiting for the previous print on %s", transport.ErrTimeout, e.role)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether role has an open physical connection.
func (r *Registry) IsConnected(role models.Role) bool {
	e, err := r.entry(role)
	if err != nil {
		return false
	}
	handle, _ := e.connected()
	return handle != nil
}

// Status returns the current state of role.
func (r *Registry) Status(role models.Role) (models.ConnectionState, error) {
	e, err := r.entry(role)
	if err != nil {
		return models.ConnectionState{}, err
	}
	return e.snapshot(), nil
}

// Statuses returns the state of every role.
func (r *Registry) Statuses() []models.ConnectionState {
	states := make([]models.ConnectionState, 0, len(models.Roles))
	for _, role := range models.Roles {
		states = append(states, r.entries[role].snapshot())
	}
	return states
}

// AutoConnect tries once per role to reconnect the preferred device,
// skipping roles the operator explicitly disconnected.
func (r *Registry) AutoConnect(ctx context.Context) {
	var wg sync.WaitGroup
	for _, role := range models.Roles {
		e := r.entries[role]
		pref := r.preference(ctx, e)
		if !pref.AutoConnect {
			r.logger.Info("auto-connect disabled", zap.String("role", string(role)))
			continue
		}

		wg.Add(1)
		go func(role models.Role) {
			defer wg.Done()
			if _, err := r.connect(ctx, role, false); err != nil {
				r.logger.Warn("auto-connect failed", zap.String("role", string(role)), zap.Error(err))
			}
		}(role)
	}
	wg.Wait()
}

// Close releases every open connection. Auto-connect flags are kept so the
// next start reconnects.
func (r *Registry) Close(ctx context.Context) {
	for _, role := range models.Roles {
		e := r.entries[role]
		e.mu.Lock()
		t := e.handle
		e.handle = nil
		e.device = nil
		e.state = StateDisconnected
		e.attempt++
		e.mu.Unlock()
		if t != nil {
			r.closeTransport(ctx, t)
		}
	}
}

func (r *Registry) preference(ctx context.Context, e *entry) models.Preference {
	e.mu.Lock()
	backend := e.backend
	e.mu.Unlock()

	pref := models.Preference{Role: e.role, Backend: backend, AutoConnect: true}
	stored, err := r.store.Get(ctx, e.role)
	switch {
	case err == nil:
		pref = *stored
		if pref.Backend == "" {
			pref.Backend = backend
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		r.logger.Warn("failed to load preference", zap.String("role", string(e.role)), zap.Error(err))
	}

	e.mu.Lock()
	e.autoConnect = pref.AutoConnect
	e.mu.Unlock()
	return pref
}

func (r *Registry) setAutoConnect(ctx context.Context, e *entry, enabled bool) {
	e.mu.Lock()
	e.autoConnect = enabled
	backend := e.backend
	e.mu.Unlock()

	err := r.store.SetAutoConnect(ctx, e.role, enabled)
	if errors.Is(err, repository.ErrNotFound) {
		err = r.store.Save(ctx, models.Preference{Role: e.role, Backend: backend, AutoConnect: enabled})
	}
	if err != nil {
		r.logger.Error("failed to persist auto-connect",
			zap.String("role", string(e.role)), zap.Bool("enabled", enabled), zap.Error(err))
	}
}

// open discovers candidates on backend, picks one and connects to it.
func (r *Registry) open(ctx context.Context, backend models.BackendKind, pick func([]models.DeviceInfo) (models.DeviceInfo, error)) (models.DeviceInfo, transport.Transport, transport.Capabilities, error) {
	candidates, err := r.ListAuthorizedDevices(ctx, backend)
	if err != nil {
		return models.DeviceInfo{}, nil, transport.Capabilities{}, err
	}
	dev, err := pick(candidates)
	if err != nil {
		return models.DeviceInfo{}, nil, transport.Capabilities{}, err
	}

	t, err := r.newTransport(backend)
	if err != nil {
		return models.DeviceInfo{}, nil, transport.Capabilities{}, err
	}
	caps, err := r.connectTransport(ctx, t, dev)
	if err != nil {
		return models.DeviceInfo{}, nil, transport.Capabilities{}, err
	}
	return dev, t, caps, nil
}

// connectTransport bounds t.Connect by the operation timeout. A connection
// that completes after the caller gave up is closed again.
func (r *Registry) connectTransport(ctx context.Context, t transport.Transport, dev models.DeviceInfo) (transport.Capabilities, error) {
	var (
		mu        sync.Mutex
		abandoned bool
		done      bool
		caps      transport.Capabilities
		connErr   error
	)
	err := transport.WithTimeout(ctx, r.timeout, func(opCtx context.Context) error {
		c, err := t.Connect(opCtx, dev)
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil {
				_ = t.Disconnect(opCtx)
			}
			return err
		}
		done, caps, connErr = true, c, err
		return err
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		abandoned = true
		if done && connErr == nil {
			go func() { _ = t.Disconnect(context.WithoutCancel(ctx)) }()
		}
		return transport.Capabilities{}, err
	}
	return caps, nil
}

func (r *Registry) closeTransport(ctx context.Context, t transport.Transport) {
	err := transport.WithTimeout(ctx, r.timeout, t.Disconnect)
	if err != nil {
		r.logger.Warn("error closing printer connection", zap.String("backend", string(t.Kind())), zap.Error(err))
	}
}

// attach installs t as the role's connection. It returns false and closes t
// when the role was disconnected or reconnected since attempt started.
func (r *Registry) attach(ctx context.Context, e *entry, attempt uint64, t transport.Transport, dev models.DeviceInfo, caps transport.Capabilities) bool {
	t.OnUnexpectedDisconnect(func(cause error) { r.lost(e, t, cause) })

	e.mu.Lock()
	if e.attempt != attempt || e.state != StateConnecting {
		e.mu.Unlock()
		r.logger.Info("discarding connection finished after disconnect",
			zap.String("role", string(e.role)), zap.String("device", dev.ID))
		r.closeTransport(ctx, t)
		return false
	}
	e.handle = t
	e.device = &dev
	e.caps = caps
	e.backend = dev.Backend
	e.state = StateConnected
	e.lastErr = ""
	e.mu.Unlock()
	r.publish(e)
	return true
}

func (r *Registry) fail(e *entry, attempt uint64, err error) {
	e.mu.Lock()
	if e.attempt != attempt {
		e.mu.Unlock()
		return
	}
	e.state = StateDisconnected
	e.lastErr = err.Error()
	e.mu.Unlock()
	r.publish(e)
}

// lost handles a disconnect fired by the transport itself.
func (r *Registry) lost(e *entry, t transport.Transport, cause error) {
	e.mu.Lock()
	if e.handle != t {
		e.mu.Unlock()
		return
	}
	e.handle = nil
	e.device = nil
	e.state = StateDisconnected
	if cause != nil {
		e.lastErr = cause.Error()
	}
	e.mu.Unlock()

	r.logger.Warn("printer disconnected unexpectedly", zap.String("role", string(e.role)), zap.Error(cause))
	r.publish(e)
}

func (r *Registry) publish(e *entry) {
	state := e.snapshot()
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, l := range r.listeners {
		l.PrinterStatusChanged(state)
	}
}

func (e *entry) connected() (transport.Transport, models.BackendKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConnected {
		return nil, e.backend
	}
	return e.handle, e.backend
}

func (e *entry) snapshot() models.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := models.ConnectionState{
		Role:         e.role,
		Backend:      e.backend,
		IsConnected:  e.state == StateConnected && e.handle != nil,
		IsConnecting: e.state == StateConnecting,
		AutoConnect:  e.autoConnect,
		LastError:    e.lastErr,
	}
	if e.device != nil {
		dev := *e.device
		s.Device = &dev
	}
	return s
}
