// Package daemon prints kitchen tickets for orders announced by push events.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/notify"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/ticket"
)

var (
	ErrAutoPrintDisabled = errors.New("auto-print disabled")
	ErrNoItems           = errors.New("no printable items")
)

// Orders completes partial order payloads
type Orders interface {
	EnsureTicketReady(ctx context.Context, orderID string, partial *models.Order) (*models.Order, error)
}

// Printer prints formatted orders
type Printer interface {
	AutoPrintEnabled() bool
	AutoPrintRole() models.Role
	PrintTicket(ctx context.Context, job service.Job) (models.PrintResult, error)
}

// Result is the outcome of handling one event
type Result struct {
	JobID   string
	OrderID string
	Backend models.BackendKind
	Err     error
}

type stage string

const (
	stageIdle          stage = "idle"
	stageAwaitingOrder stage = "awaiting-order-data"
	stageFormatting    stage = "formatting"
	stagePrinting      stage = "printing"
)

// Daemon reads events from a notification source and prints each one in
// its own goroutine.
type Daemon struct {
	source  notify.Source
	orders  Orders
	printer Printer
	logger  *zap.Logger
	newID   func() string

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	jobs     sync.WaitGroup
}

// New creates a print daemon
func New(source notify.Source, orders Orders, printer Printer, logger *zap.Logger) *Daemon {
	return &Daemon{
		source:  source,
		orders:  orders,
		printer: printer,
		logger:  logger.Named("daemon"),
		newID:   uuid.NewString,
	}
}

// Start subscribes to the source and begins dispatching. It may be called once.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("daemon already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan notify.Event, 16)
	if err := d.source.Subscribe(ctx, events); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to push notifications: %w", err)
	}

	d.started = true
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	go d.dispatch(ctx, events)
	d.logger.Info("print daemon started")
	return nil
}

// Stop cancels the dispatcher, waits for in-flight jobs and closes the source.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.loopDone
	d.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	d.jobs.Wait()
	if err := d.source.Close(); err != nil {
		d.logger.Warn("failed to close notification source", zap.Error(err))
	}
	d.logger.Info("print daemon stopped")
}

func (d *Daemon) dispatch(ctx context.Context, events <-chan notify.Event) {
	defer close(d.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			d.jobs.Add(1)
			go func() {
				defer d.jobs.Done()
				d.run(ctx, evt)
			}()
		}
	}
}

// run handles one event and discards its result after logging it.
func (d *Daemon) run(ctx context.Context, evt notify.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("print job panicked",
				zap.String("kind", string(evt.Kind)),
				zap.String("order_id", evt.OrderID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	res := d.Handle(ctx, evt)
	fields := []zap.Field{
		zap.String("job_id", res.JobID),
		zap.String("kind", string(evt.Kind)),
		zap.String("order_id", res.OrderID),
		zap.String("backend", string(res.Backend)),
	}
	switch {
	case res.Err == nil:
		d.logger.Info("ticket printed", fields...)
	case errors.Is(res.Err, ErrAutoPrintDisabled), errors.Is(res.Err, ErrNoItems):
		d.logger.Debug("event skipped", append(fields, zap.Error(res.Err))...)
	default:
		d.logger.Error("ticket not printed", append(fields, zap.Error(res.Err))...)
	}
}

// Handle takes one event through fetch, format and print.
func (d *Daemon) Handle(ctx context.Context, evt notify.Event) Result {
	res := Result{JobID: d.newID(), OrderID: evt.OrderID}
	log := d.logger.With(zap.String("job_id", res.JobID), zap.String("order_id", evt.OrderID))

	if !d.printer.AutoPrintEnabled() {
		res.Err = ErrAutoPrintDisabled
		return res
	}

	var partial *models.Order
	switch evt.Kind {
	case notify.KindNewOrder:
		partial = evt.Order
	case notify.KindItemsAdded:
		if len(evt.AddedItems) == 0 {
			res.Err = ErrNoItems
			return res
		}
		partial = subOrder(evt)
	default:
		res.Err = fmt.Errorf("%w: %q", notify.ErrUnknownEvent, evt.Kind)
		return res
	}

	d.transition(log, stageIdle, stageAwaitingOrder)
	order, err := d.orders.EnsureTicketReady(ctx, evt.OrderID, partial)
	if err != nil {
		res.Err = fmt.Errorf("failed to load order: %w", err)
		return res
	}
	if evt.Kind == notify.KindItemsAdded {
		// The fetched order lists every item; only the new ones go to the kitchen.
		order = order.WithItems(evt.AddedItems)
	}
	if res.OrderID == "" {
		res.OrderID = order.OrderID.String()
	}

	d.transition(log, stageAwaitingOrder, stageFormatting)
	if ticket.PrintableItems(order.Items) == 0 {
		d.transition(log, stageFormatting, stageIdle)
		res.Err = ErrNoItems
		return res
	}
	payload := ticket.Format(order)

	d.transition(log, stageFormatting, stagePrinting)
	printed, err := d.printer.PrintTicket(ctx, service.Job{
		ID:      res.JobID,
		OrderID: res.OrderID,
		Role:    d.printer.AutoPrintRole(),
		Payload: payload,
	})
	d.transition(log, stagePrinting, stageIdle)
	res.Backend = printed.Backend
	res.Err = err
	return res
}

// subOrder keeps the parent's tables, delivery flag and customer but only
// the items that were just added.
func subOrder(evt notify.Event) *models.Order {
	parent := evt.Order
	if parent == nil {
		parent = &models.Order{OrderID: models.FlexibleID(evt.OrderID)}
	}
	return parent.WithItems(evt.AddedItems)
}

func (d *Daemon) transition(log *zap.Logger, from, to stage) {
	log.Debug("job stage", zap.String("from", string(from)), zap.String("to", string(to)))
}
