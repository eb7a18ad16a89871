package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/ticket"
)

var (
	ErrNothingToPrint = errors.New("order has no printable items")
	// ErrFallbackUsed accompanies a physical failure when the ticket still
	// printed through the fallback.
	ErrFallbackUsed = errors.New("printed via browser fallback")
)

// Printers is the part of the device registry the printer service drives
type Printers interface {
	IsConnected(role models.Role) bool
	PrintText(ctx context.Context, role models.Role, payload []byte) (models.BackendKind, error)
	Statuses() []models.ConnectionState
}

// Fallback prints without a physical device
type Fallback interface {
	Send(ctx context.Context, payload []byte) error
}

// ResultPublisher is told about every print attempt and auto-print toggle
type ResultPublisher interface {
	PrintCompleted(result models.PrintResult)
	AutoPrintChanged(enabled bool)
}

// Journal stores the outcome of every print attempt
type Journal interface {
	Record(ctx context.Context, result models.PrintResult) error
}

// Job is one ticket headed for a printer role
type Job struct {
	ID      string
	OrderID string
	Role    models.Role
	Payload []byte
}

// PrinterService routes tickets to the physical printer of a role and falls
// back to browser printing when that is not possible.
type PrinterService struct {
	printers  Printers
	fallback  Fallback
	publisher ResultPublisher
	journal   Journal
	autoPrint atomic.Bool
	autoRole  models.Role
	now       func() time.Time
	logger    *zap.Logger
}

// NewPrinterService creates a new printer service
func NewPrinterService(printers Printers, fallback Fallback, autoPrint bool, autoRole models.Role, logger *zap.Logger) *PrinterService {
	s := &PrinterService{
		printers: printers,
		fallback: fallback,
		autoRole: autoRole,
		now:      time.Now,
		logger:   logger.Named("printer"),
	}
	s.autoPrint.Store(autoPrint)
	return s
}

// SetPublisher attaches the status hub. It must be called before printing
// starts.
func (s *PrinterService) SetPublisher(p ResultPublisher) {
	s.publisher = p
}

// SetJournal attaches the print history store. It must be called before
// printing starts.
func (s *PrinterService) SetJournal(j Journal) {
	s.journal = j
}

// AutoPrintEnabled reports whether push events should be printed
func (s *PrinterService) AutoPrintEnabled() bool {
	return s.autoPrint.Load()
}

// AutoPrintRole is the role push-event tickets are printed on
func (s *PrinterService) AutoPrintRole() models.Role {
	return s.autoRole
}

// SetAutoPrint toggles automatic printing of push events
func (s *PrinterService) SetAutoPrint(enabled bool) {
	if s.autoPrint.Swap(enabled) == enabled {
		return
	}
	s.logger.Info("auto-print changed", zap.Bool("enabled", enabled))
	if s.publisher != nil {
		s.publisher.AutoPrintChanged(enabled)
	}
}

// Statuses returns the registry state of every role with the auto-print flag filled in
func (s *PrinterService) Statuses() []models.ConnectionState {
	states := s.printers.Statuses()
	auto := s.AutoPrintEnabled()
	for i := range states {
		states[i].AutoPrint = auto
	}
	return states
}

// PrintTicket sends a ticket on the role's printer when one is connected and
// uses the fallback otherwise, or when the physical send fails. It never
// connects on demand. The returned error is set only when nothing printed.
func (s *PrinterService) PrintTicket(ctx context.Context, job Job) (models.PrintResult, error) {
	return s.print(ctx, job, false)
}

// PrintOrder formats order as a kitchen ticket and prints it like PrintTicket.
func (s *PrinterService) PrintOrder(ctx context.Context, jobID string, role models.Role, order *models.Order) (models.PrintResult, error) {
	if ticket.PrintableItems(order.Items) == 0 {
		return models.PrintResult{JobID: jobID, OrderID: order.OrderID.String(), Role: role, At: s.now()}, ErrNothingToPrint
	}
	return s.PrintTicket(ctx, Job{
		ID:      jobID,
		OrderID: order.OrderID.String(),
		Role:    role,
		Payload: ticket.Format(order),
	})
}

// ManualPrint prints a ticket on behalf of an operator. Unlike PrintTicket
// it connects the role's printer if needed, and the physical failure is
// returned even when the fallback printed.
func (s *PrinterService) ManualPrint(ctx context.Context, job Job) (models.PrintResult, error) {
	return s.print(ctx, job, true)
}

func (s *PrinterService) print(ctx context.Context, job Job, manual bool) (models.PrintResult, error) {
	result := models.PrintResult{JobID: job.ID, OrderID: job.OrderID, Role: job.Role}

	var errs *multierror.Error
	if manual || s.printers.IsConnected(job.Role) {
		backend, err := s.printers.PrintText(ctx, job.Role, job.Payload)
		result.Backend = backend
		if err == nil {
			return s.finish(ctx, result, nil), nil
		}
		errs = multierror.Append(errs, fmt.Errorf("failed to print on %s printer: %w", job.Role, err))
		s.logger.Warn("physical print failed, falling back to browser",
			zap.String("job_id", job.ID),
			zap.String("role", string(job.Role)),
			zap.Error(err))
	}

	result.Backend = models.BackendBrowser
	result.Fallback = true
	if err := s.fallback.Send(ctx, job.Payload); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to print via browser: %w", err))
		all := errs.ErrorOrNil()
		return s.finish(ctx, result, all), all
	}

	if manual {
		err := fmt.Errorf("%w: %w", ErrFallbackUsed, errs.ErrorOrNil())
		return s.finish(ctx, result, err), err
	}
	if physical := errs.ErrorOrNil(); physical != nil {
		result.Error = physical.Error()
	}
	return s.finish(ctx, result, nil), nil
}

func (s *PrinterService) finish(ctx context.Context, result models.PrintResult, err error) models.PrintResult {
	result.At = s.now()
	if err != nil {
		result.Error = err.Error()
	}
	s.logger.Info("print job finished",
		zap.String("job_id", result.JobID),
		zap.String("order_id", result.OrderID),
		zap.String("role", string(result.Role)),
		zap.String("backend", string(result.Backend)),
		zap.Bool("fallback", result.Fallback),
		zap.String("error", result.Error))
	if s.journal != nil {
		if err := s.journal.Record(context.WithoutCancel(ctx), result); err != nil {
			s.logger.Warn("failed to record print job", zap.String("job_id", result.JobID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.PrintCompleted(result)
	}
	return result
}
