package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pizza-nz/print-agent/internal/api"
	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/ticket"
)

// TicketPrinter prints on behalf of an operator
type TicketPrinter interface {
	ManualPrint(ctx context.Context, job service.Job) (models.PrintResult, error)
}

// OrderHandler handles manual ticket printing
type OrderHandler struct {
	printer TicketPrinter
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(printer TicketPrinter) *OrderHandler {
	return &OrderHandler{printer: printer}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/orders/print", h.PrintOrder)
}

// PrintOrder formats and prints the posted order. Printer failures are
// returned to the caller together with the print result.
func (h *OrderHandler) PrintOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order *models.Order `json:"order"`
		Role  string        `json:"role"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}
	if req.Order == nil {
		api.BadRequest(w, "order is required")
		return
	}

	role := models.RoleKitchen
	if req.Role != "" {
		parsed, err := models.ParseRole(req.Role)
		if err != nil {
			api.BadRequest(w, err.Error())
			return
		}
		role = parsed
	}

	if ticket.PrintableItems(req.Order.Items) == 0 {
		api.Fail(w, service.ErrNothingToPrint)
		return
	}

	result, err := h.printer.ManualPrint(r.Context(), service.Job{
		ID:      uuid.NewString(),
		OrderID: req.Order.OrderID.String(),
		Role:    role,
		Payload: ticket.Format(req.Order),
	})
	if err != nil {
		status := api.StatusFor(err)
		if errors.Is(err, service.ErrFallbackUsed) {
			status = http.StatusAccepted
		}
		api.RespondJSON(w, status, struct {
			models.PrintResult
			Message string `json:"message"`
		}{result, err.Error()})
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}
