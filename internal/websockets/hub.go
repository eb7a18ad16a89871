package websockets

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/models"
)

type reply struct {
	client  *Client
	message []byte
}

// Hub fans printer status and print results out to every connected
// dashboard.
type Hub struct {
	clients map[*Client]bool

	register chan *Client

	unregister chan *Client

	broadcast chan []byte

	replies chan reply

	snapshot func() []models.ConnectionState

	done chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan reply, 16),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// SetSnapshot installs the function answering printer.status requests.
// It must be called before Run.
func (h *Hub) SetSnapshot(fn func() []models.ConnectionState) {
	h.snapshot = fn
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("status client connected", zap.String("user_id", client.userID))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case r := <-h.replies:
			if h.clients[r.client] {
				h.deliver(r.client, r.message)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

// deliver drops clients that stopped reading.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn("dropping slow status client", zap.String("user_id", client.userID))
	}
}

// Publish broadcasts a message without blocking the caller. When the hub is
// backed up the message is dropped.
func (h *Hub) Publish(t MessageType, data any) {
	msg, err := encode(t, data)
	if err != nil {
		h.logger.Error("failed to encode status message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("status broadcast dropped", zap.String("type", string(t)))
	}
}

// PrinterStatusChanged implements registry.StatusListener
func (h *Hub) PrinterStatusChanged(state models.ConnectionState) {
	h.Publish(TypePrinterStatus, state)
}

// PrintCompleted implements service.ResultPublisher
func (h *Hub) PrintCompleted(result models.PrintResult) {
	h.Publish(TypePrintResult, result)
}

// AutoPrintChanged implements service.ResultPublisher
func (h *Hub) AutoPrintChanged(enabled bool) {
	h.Publish(TypeAutoPrintChanged, struct {
		Enabled bool `json:"enabled"`
	}{enabled})
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) replyTo(client *Client, t MessageType, data any) {
	msg, err := encode(t, data)
	if err != nil {
		h.logger.Error("failed to encode reply", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case h.replies <- reply{client: client, message: msg}:
	case <-h.done:
	}
}

func encode(t MessageType, data any) ([]byte, error) {
	msg := Message{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
