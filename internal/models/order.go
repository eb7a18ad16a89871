package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// PriceType represents how an item was sold
type PriceType string

const (
	PriceTypePersonal PriceType = "personal"
	PriceTypeFuente   PriceType = "fuente"
)

// Product is the catalogue entry an order item points to
type Product struct {
	ID   FlexibleID `json:"id,omitempty"`
	Name string     `json:"name"`
}

// OrderItem represents a line on a kitchen ticket
type OrderItem struct {
	Quantity  int       `json:"quantity"`
	Name      string    `json:"name,omitempty"`
	Product   *Product  `json:"product,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	PriceType PriceType `json:"priceType,omitempty"`
}

// Table represents a dining table attached to an order
type Table struct {
	Number int `json:"number"`
}

// Order represents a POS order as delivered by the backend or a push event.
// Only the fields needed to print a kitchen ticket are kept.
type Order struct {
	OrderID      FlexibleID  `json:"orderId"`
	IsDelivery   bool        `json:"isDelivery"`
	Tables       []Table     `json:"tables,omitempty"`
	CustomerName string      `json:"customerName,omitempty"`
	Items        []OrderItem `json:"items"`
	Timestamp    time.Time   `json:"timestamp,omitempty"`
}

// TicketReady reports whether the order carries enough data to print a
// complete kitchen ticket: items plus either tables or the delivery flag.
func (o *Order) TicketReady() bool {
	if o == nil || len(o.Items) == 0 {
		return false
	}
	return o.IsDelivery || len(o.Tables) > 0
}

// WithItems returns a shallow copy of the order carrying only items.
func (o *Order) WithItems(items []OrderItem) *Order {
	sub := *o
	sub.Items = items
	return &sub
}

// TableNumbers returns the table numbers in the order they were received.
func (o *Order) TableNumbers() []int {
	nums := make([]int, 0, len(o.Tables))
	for _, t := range o.Tables {
		nums = append(nums, t.Number)
	}
	return nums
}

// UnmarshalJSON accepts the aliases the backend and the push channel use:
// id/orderId, orderDetails/items and createdAt/timestamp. Unparseable
// timestamps are dropped instead of failing the whole order.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID      FlexibleID  `json:"orderId"`
		ID           FlexibleID  `json:"id"`
		IsDelivery   bool        `json:"isDelivery"`
		Tables       []Table     `json:"tables"`
		CustomerName string      `json:"customerName"`
		Items        []OrderItem `json:"items"`
		OrderDetails []OrderItem `json:"orderDetails"`
		Timestamp    string      `json:"timestamp"`
		CreatedAt    string      `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*o = Order{
		OrderID:      raw.OrderID,
		IsDelivery:   raw.IsDelivery,
		Tables:       raw.Tables,
		CustomerName: raw.CustomerName,
		Items:        raw.Items,
	}
	if o.OrderID == "" {
		o.OrderID = raw.ID
	}
	if len(o.Items) == 0 && len(raw.OrderDetails) > 0 {
		o.Items = raw.OrderDetails
	}

	ts := raw.Timestamp
	if ts == "" {
		ts = raw.CreatedAt
	}
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			o.Timestamp = t
		}
	}
	return nil
}

// UnmarshalJSON accepts a full item object; the quantity may be a number or
// a numeric string.
func (i *OrderItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Quantity  flexInt   `json:"quantity"`
		Name      string    `json:"name"`
		Product   *Product  `json:"product"`
		Comment   string    `json:"comment"`
		PriceType PriceType `json:"priceType"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = OrderItem{
		Quantity:  int(raw.Quantity),
		Name:      raw.Name,
		Product:   raw.Product,
		Comment:   raw.Comment,
		PriceType: PriceType(strings.ToLower(string(raw.PriceType))),
	}
	return nil
}

// UnmarshalJSON accepts either {"number": 4} or a bare 4.
func (t *Table) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw struct {
			Number flexInt `json:"number"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		t.Number = int(raw.Number)
		return nil
	}
	var n flexInt
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	t.Number = int(n)
	return nil
}

// FlexibleID is an identifier that may arrive as a JSON number or string.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string { return string(id) }

type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}
