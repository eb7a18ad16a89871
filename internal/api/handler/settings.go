package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-nz/print-agent/internal/api"
)

// AutoPrintSwitch toggles automatic printing of push events
type AutoPrintSwitch interface {
	AutoPrintEnabled() bool
	SetAutoPrint(enabled bool)
}

type autoPrintBody struct {
	Enabled *bool `json:"enabled"`
}

// SettingsHandler handles runtime settings
type SettingsHandler struct {
	autoPrint AutoPrintSwitch
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(autoPrint AutoPrintSwitch) *SettingsHandler {
	return &SettingsHandler{autoPrint: autoPrint}
}

func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/settings/auto-print", h.GetAutoPrint)
	r.Put("/settings/auto-print", h.SetAutoPrint)
}

func (h *SettingsHandler) GetAutoPrint(w http.ResponseWriter, r *http.Request) {
	enabled := h.autoPrint.AutoPrintEnabled()
	api.RespondJSON(w, http.StatusOK, autoPrintBody{Enabled: &enabled})
}

func (h *SettingsHandler) SetAutoPrint(w http.ResponseWriter, r *http.Request) {
	var req autoPrintBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil || req.Enabled == nil {
		api.BadRequest(w, "enabled is required")
		return
	}

	h.autoPrint.SetAutoPrint(*req.Enabled)
	h.GetAutoPrint(w, r)
}
