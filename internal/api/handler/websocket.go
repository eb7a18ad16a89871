package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-nz/print-agent/internal/middleware"
	"github.com/pizza-nz/print-agent/internal/websockets"
)

// WebSocketHandler upgrades dashboard connections onto the status hub
type WebSocketHandler struct {
	hub *websockets.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *websockets.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.HandleWebSocket)
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	conn, err := websockets.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		return
	}

	websockets.ServeWs(h.hub, conn, userID)
}
