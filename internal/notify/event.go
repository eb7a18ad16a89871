// Package notify turns backend push notifications into order events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pizza-nz/print-agent/internal/models"
)

// Kind tags the two events the print daemon reacts to.
type Kind string

const (
	KindNewOrder   Kind = "new-order"
	KindItemsAdded Kind = "order-items-added"
)

// JoinRoom is emitted once per Socket.IO session to subscribe to a
// restaurant.
const JoinRoom = "join-restaurant"

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one push notification. Order may be partial or nil; AddedItems
// is only set for KindItemsAdded.
type Event struct {
	Kind       Kind
	OrderID    string
	Order      *models.Order
	AddedItems []models.OrderItem
	ReceivedAt time.Time
	Source     string
}

// Source delivers events until ctx is cancelled or Close is called.
// Subscribe must be called at most once.
type Source interface {
	Subscribe(ctx context.Context, out chan<- Event) error
	Close() error
}

// Envelope is the framed form used on Kafka when the message key does not
// name the event: {"type": "new-order", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseKind maps an event name to its Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNewOrder, KindItemsAdded:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
}

// DecodeEnvelope decodes a framed event.
func DecodeEnvelope(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("invalid envelope: %w", err)
	}
	kind, err := ParseKind(env.Type)
	if err != nil {
		return Event{}, err
	}
	return DecodePayload(kind, env.Data)
}

// DecodePayload decodes {orderId, orderData, addedItems}. The order id is
// taken from orderId, falling back to the id inside orderData. addedItems
// may be a list or a single item.
func DecodePayload(kind Kind, data []byte) (Event, error) {
	var p struct {
		OrderID    models.FlexibleID `json:"orderId"`
		OrderData  json.RawMessage   `json:"orderData"`
		AddedItems json.RawMessage   `json:"addedItems"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("invalid %s payload: %w", kind, err)
	}

	evt := Event{Kind: kind, OrderID: p.OrderID.String(), ReceivedAt: time.Now()}

	if present(p.OrderData) {
		var order models.Order
		if err := json.Unmarshal(p.OrderData, &order); err != nil {
			return Event{}, fmt.Errorf("invalid orderData: %w", err)
		}
		evt.Order = &order
		if evt.OrderID == "" {
			evt.OrderID = order.OrderID.String()
		}
	}

	if kind == KindItemsAdded {
		items, err := decodeItems(p.AddedItems)
		if err != nil {
			return Event{}, err
		}
		evt.AddedItems = items
	}
	return evt, nil
}

func decodeItems(raw json.RawMessage) ([]models.OrderItem, error) {
	if !present(raw) {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '[' {
		var items []models.OrderItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("invalid addedItems: %w", err)
		}
		return items, nil
	}
	var item models.OrderItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("invalid addedItems: %w", err)
	}
	return []models.OrderItem{item}, nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func deliver(ctx context.Context, out chan<- Event, evt Event) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
