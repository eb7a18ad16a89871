package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
)

type MockOrderFetcher struct {
	FetchOrderFunc func(ctx context.Context, orderID string) (*models.Order, error)
	calls          int
}

func (m *MockOrderFetcher) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.calls++
	return m.FetchOrderFunc(ctx, orderID)
}

func readyOrder(id string) *models.Order {
	return &models.Order{
		OrderID: models.FlexibleID(id),
		Tables:  []models.Table{{Number: 4}},
		Items:   []models.OrderItem{{Quantity: 1, Name: "Lomo saltado"}},
	}
}

func TestEnsureTicketReady(t *testing.T) {
	fetchErr := errors.New("backend down")

	tests := []struct {
		name      string
		orderID   string
		partial   *models.Order
		fetch     func(ctx context.Context, orderID string) (*models.Order, error)
		wantCalls int
		wantItems int
		wantErr   bool
	}{
		{
			name:      "ready payload is not fetched",
			orderID:   "1",
			partial:   readyOrder("1"),
			wantCalls: 0,
			wantItems: 1,
		},
		{
			name:    "partial payload is fetched once",
			orderID: "2",
			partial: &models.Order{OrderID: "2"},
			fetch: func(ctx context.Context, orderID string) (*models.Order, error) {
				return readyOrder(orderID), nil
			},
			wantCalls: 1,
			wantItems: 1,
		},
		{
			name:    "fetch failure falls back to partial",
			orderID: "3",
			partial: &models.Order{OrderID: "3", Items: []models.OrderItem{{Quantity: 2, Name: "Causa"}}},
			fetch: func(ctx context.Context, orderID string) (*models.Order, error) {
				return nil, fetchErr
			},
			wantCalls: 1,
			wantItems: 1,
		},
		{
			name:    "no payload and failed fetch",
			orderID: "4",
			fetch: func(ctx context.Context, orderID string) (*models.Order, error) {
				return nil, fetchErr
			},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:    "incomplete backend answer is merged",
			orderID: "5",
			partial: &models.Order{OrderID: "5", Tables: []models.Table{{Number: 2}}},
			fetch: func(ctx context.Context, orderID string) (*models.Order, error) {
				return &models.Order{Items: []models.OrderItem{{Quantity: 1, Name: "Te"}}}, nil
			},
			wantCalls: 1,
			wantItems: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &MockOrderFetcher{FetchOrderFunc: tt.fetch}
			svc := NewOrderService(fetcher, zap.NewNop())

			order, err := svc.EnsureTicketReady(context.Background(), tt.orderID, tt.partial)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if fetcher.calls != tt.wantCalls {
				t.Errorf("fetch calls = %d, want %d", fetcher.calls, tt.wantCalls)
			}
			if tt.wantErr {
				return
			}
			if len(order.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(order.Items), tt.wantItems)
			}
		})
	}
}

func TestHTTPOrderClient(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/orders/missing":
			http.NotFound(w, r)
		case "/api/orders/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"A 1","tables":[{"number":7}],"orderDetails":[{"quantity":1,"product":{"name":"Pisco"}}]}`))
		}
	}))
	defer srv.Close()

	client := NewHTTPOrderClient(srv.URL+"/", time.Second, func() (string, error) { return "tok", nil })

	order, err := client.FetchOrder(context.Background(), "A 1")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/orders/A%201" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !order.TicketReady() || order.Items[0].Product.Name != "Pisco" {
		t.Errorf("unexpected order: %+v", order)
	}

	if _, err := client.FetchOrder(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
	if _, err := client.FetchOrder(context.Background(), "broken"); err == nil {
		t.Error("expected error on 500")
	}
}
