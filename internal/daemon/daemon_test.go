package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/notify"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/ticket"
)

type MockOrders struct {
	EnsureTicketReadyFunc func(ctx context.Context, orderID string, partial *models.Order) (*models.Order, error)
}

func (m *MockOrders) EnsureTicketReady(ctx context.Context, orderID string, partial *models.Order) (*models.Order, error) {
	return m.EnsureTicketReadyFunc(ctx, orderID, partial)
}

type MockPrinter struct {
	mu        sync.Mutex
	autoPrint bool
	jobs      []service.Job
	err       error
}

func (m *MockPrinter) AutoPrintEnabled() bool { return m.autoPrint }
func (m *MockPrinter) AutoPrintRole() models.Role { return models.RoleKitchen }

func (m *MockPrinter) PrintTicket(ctx context.Context, job service.Job) (models.PrintResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return models.PrintResult{JobID: job.ID, Backend: models.BackendBLE}, m.err
}

func (m *MockPrinter) printed() []service.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Job(nil), m.jobs...)
}

type fetchCounter struct {
	mu    sync.Mutex
	calls int
	order *models.Order
	err   error
}

func (f *fetchCounter) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.order, f.err
}

func fullOrder() *models.Order {
	return &models.Order{
		OrderID: "10",
		Tables:  []models.Table{{Number: 3}, {Number: 1}},
		Items: []models.OrderItem{
			{Quantity: 1, Name: "Arroz chaufa"},
			{Quantity: 2, Name: "Inca Kola"},
		},
	}
}

func TestHandleNewOrderFetchesPartialOnce(t *testing.T) {
	fetcher := &fetchCounter{order: fullOrder()}
	printer := &MockPrinter{autoPrint: true}
	d := New(nil, service.NewOrderService(fetcher, zap.NewNop()), printer, zap.NewNop())

	res := d.Handle(context.Background(), notify.Event{
		Kind:    notify.KindNewOrder,
		OrderID: "10",
		Order:   &models.Order{OrderID: "10"},
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
	jobs := printer.printed()
	if len(jobs) != 1 {
		t.Fatalf("printed %d jobs", len(jobs))
	}
	text := ticket.PlainText(jobs[0].Payload)
	if !strings.Contains(text, "MESAS: 1, 3") || !strings.Contains(text, "2  Inca Kola") {
		t.Errorf("unexpected ticket:\n%s", text)
	}
	if jobs[0].Role != models.RoleKitchen || jobs[0].ID != res.JobID {
		t.Errorf("job = %+v", jobs[0])
	}
}

func TestHandleCompletePayloadSkipsFetch(t *testing.T) {
	fetcher := &fetchCounter{}
	printer := &MockPrinter{autoPrint: true}
	d := New(nil, service.NewOrderService(fetcher, zap.NewNop()), printer, zap.NewNop())

	res := d.Handle(context.Background(), notify.Event{Kind: notify.KindNewOrder, OrderID: "10", Order: fullOrder()})
	if res.Err != nil || res.Backend != models.BackendBLE {
		t.Fatalf("res = %+v", res)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.calls)
	}
}

func TestHandleAutoPrintDisabled(t *testing.T) {
	orders := &MockOrders{EnsureTicketReadyFunc: func(context.Context, string, *models.Order) (*models.Order, error) {
		t.Fatal("order must not be loaded while auto-print is off")
		return nil, nil
	}}
	printer := &MockPrinter{autoPrint: false}
	d := New(nil, orders, printer, zap.NewNop())

	res := d.Handle(context.Background(), notify.Event{Kind: notify.KindNewOrder, OrderID: "1"})
	if !errors.Is(res.Err, ErrAutoPrintDisabled) {
		t.Fatalf("err = %v", res.Err)
	}
	if len(printer.printed()) != 0 {
		t.Error("nothing should print")
	}
}

func TestHandleItemsAddedPrintsOnlyNewItems(t *testing.T) {
	fetcher := &fetchCounter{order: fullOrder()}
	printer := &MockPrinter{autoPrint: true}
	d := New(nil, service.NewOrderService(fetcher, zap.NewNop()), printer, zap.NewNop())

	res := d.Handle(context.Background(), notify.Event{
		Kind:       notify.KindItemsAdded,
		OrderID:    "10",
		AddedItems: []models.OrderItem{{Quantity: 1, Name: "Suspiro", Comment: "sin canela"}},
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
	text := ticket.PlainText(printer.printed()[0].Payload)
	if strings.Contains(text, "Arroz chaufa") {
		t.Errorf("parent items leaked into the sub-ticket:\n%s", text)
	}
	if !strings.Contains(text, "1  Suspiro") || !strings.Contains(text, ">> sin canela") || !strings.Contains(text, "MESAS: 1, 3") {
		t.Errorf("unexpected ticket:\n%s", text)
	}
}

func TestHandleItemsAddedWithParentContext(t *testing.T) {
	fetcher := &fetchCounter{}
	printer := &MockPrinter{autoPrint: true}
	d := New(nil, service.NewOrderService(fetcher, zap.NewNop()), printer, zap.NewNop())

	parent := &models.Order{OrderID: "5", IsDelivery: true, CustomerName: "Rosa"}
	res := d.Handle(context.Background(), notify.Event{
		Kind:       notify.KindItemsAdded,
		OrderID:    "5",
		Order:      parent,
		AddedItems: []models.OrderItem{{Quantity: 1, Name: "Taper"}, {Quantity: 3, Name: "Anticucho"}},
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.calls)
	}
	if len(parent.Items) != 0 {
		t.Error("parent order was mutated")
	}
	text := ticket.PlainText(printer.printed()[0].Payload)
	if !strings.Contains(text, "PARA LLEVAR") || strings.Contains(text, "Taper") {
		t.Errorf("unexpected ticket:\n%s", text)
	}
}

func TestHandleNothingPrintable(t *testing.T) {
	fetcher := &fetchCounter{err: errors.New("offline")}
	printer := &MockPrinter{autoPrint: true}
	d := New(nil, service.NewOrderService(fetcher, zap.NewNop()), printer, zap.NewNop())

	res := d.Handle(context.Background(), notify.Event{
		Kind:    notify.KindNewOrder,
		OrderID: "2",
		Order:   &models.Order{OrderID: "2", Items: []models.OrderItem{{Quantity: 1, Name: "Delivery"}}},
	})
	if !errors.Is(res.Err, ErrNoItems) {
		t.Fatalf("err = %v", res.Err)
	}
	if len(printer.printed()) != 0 {
		t.Error("nothing should print")
	}
}

type chanSource struct {
	events []notify.Event
	closed bool
}

func (s *chanSource) Subscribe(ctx context.Context, out chan<- notify.Event) error {
	go func() {
		for _, evt := range s.events {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *chanSource) Close() error {
	s.closed = true
	return nil
}

func TestDaemonDispatchesEvents(t *testing.T) {
	src := &chanSource{events: []notify.Event{
		{Kind: notify.KindNewOrder, OrderID: "a", Order: fullOrder()},
		{Kind: notify.KindNewOrder, OrderID: "b", Order: fullOrder()},
	}}
	printer := &MockPrinter{autoPrint: true}
	d := New(src, service.NewOrderService(&fetchCounter{}, zap.NewNop()), printer, zap.NewNop())

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(printer.printed()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	d.Stop()

	if got := len(printer.printed()); got != 2 {
		t.Errorf("printed %d jobs, want 2", got)
	}
	if !src.closed {
		t.Error("source not closed on Stop")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	orders := &MockOrders{EnsureTicketReadyFunc: func(context.Context, string, *models.Order) (*models.Order, error) {
		panic("boom")
	}}
	d := New(nil, orders, &MockPrinter{autoPrint: true}, zap.NewNop())
	d.run(context.Background(), notify.Event{Kind: notify.KindNewOrder, OrderID: "x"})
}
