package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderFetcher loads a complete order from the POS backend
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// HTTPOrderClient fetches orders from GET {base}/api/orders/{id}
type HTTPOrderClient struct {
	baseURL string
	token   func() (string, error)
	client  *http.Client
}

// NewHTTPOrderClient creates a new backend order client. token is called
// for every request so short-lived service tokens can be used.
func NewHTTPOrderClient(baseURL string, timeout time.Duration, token func() (string, error)) *HTTPOrderClient {
	return &HTTPOrderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchOrder retrieves an order by id
func (c *HTTPOrderClient) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	endpoint := c.baseURL + "/api/orders/" + url.PathEscape(orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return nil, fmt.Errorf("failed to get service token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to fetch order %s: status %d: %s", orderID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	if order.OrderID == "" {
		order.OrderID = models.FlexibleID(orderID)
	}
	return &order, nil
}

// OrderService completes partial push payloads before printing
type OrderService struct {
	fetcher OrderFetcher
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(fetcher OrderFetcher, logger *zap.Logger) *OrderService {
	return &OrderService{
		fetcher: fetcher,
		logger:  logger.Named("orders"),
	}
}

// EnsureTicketReady returns partial when it already carries items plus
// tables or the delivery flag. Otherwise the order is fetched once; when the
// fetch fails or returns nothing usable the partial payload is returned.
// An error is only returned when there is no order data at all.
func (s *OrderService) EnsureTicketReady(ctx context.Context, orderID string, partial *models.Order) (*models.Order, error) {
	if partial.TicketReady() {
		return partial, nil
	}
	if orderID == "" && partial != nil {
		orderID = partial.OrderID.String()
	}
	if orderID == "" {
		if partial == nil {
			return nil, errors.New("event carries neither an order id nor order data")
		}
		return partial, nil
	}

	full, err := s.fetcher.FetchOrder(ctx, orderID)
	if err != nil {
		if partial == nil {
			return nil, err
		}
		s.logger.Warn("order fetch failed, printing partial payload",
			zap.String("order_id", orderID), zap.Error(err))
		return partial, nil
	}
	if !full.TicketReady() && partial != nil {
		return mergeOrder(partial, full), nil
	}
	return full, nil
}

// mergeOrder fills the gaps of partial with whatever the backend returned.
func mergeOrder(partial, full *models.Order) *models.Order {
	merged := *partial
	if len(merged.Items) == 0 {
		merged.Items = full.Items
	}
	if len(merged.Tables) == 0 {
		merged.Tables = full.Tables
	}
	merged.IsDelivery = merged.IsDelivery || full.IsDelivery
	if merged.CustomerName == "" {
		merged.CustomerName = full.CustomerName
	}
	if merged.Timestamp.IsZero() {
		merged.Timestamp = full.Timestamp
	}
	return &merged
}
