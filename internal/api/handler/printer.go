package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/api"
	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/ticket"
)

const MaxBodyBytes = 1 << 20

// Devices is the device registry as seen by the API
type Devices interface {
	Connect(ctx context.Context, role models.Role) (models.DeviceInfo, error)
	SelectDevice(ctx context.Context, role models.Role, backend models.BackendKind, deviceID string) (models.DeviceInfo, error)
	Disconnect(ctx context.Context, role models.Role) error
	ListAuthorizedDevices(ctx context.Context, backend models.BackendKind) ([]models.DeviceInfo, error)
	PrintText(ctx context.Context, role models.Role, payload []byte) (models.BackendKind, error)
}

// StatusReporter lists the connection state of every role
type StatusReporter interface {
	Statuses() []models.ConnectionState
}

// PreferenceLister lists the stored device preferences
type PreferenceLister interface {
	List(ctx context.Context) ([]models.Preference, error)
}

// PrinterHandler handles printer-related requests
type PrinterHandler struct {
	devices Devices
	status  StatusReporter
	prefs   PreferenceLister
	now     func() time.Time
	logger  *zap.Logger
}

// NewPrinterHandler creates a new printer handler
func NewPrinterHandler(devices Devices, status StatusReporter, prefs PreferenceLister, logger *zap.Logger) *PrinterHandler {
	return &PrinterHandler{
		devices: devices,
		status:  status,
		prefs:   prefs,
		now:     time.Now,
		logger:  logger.Named("api.printers"),
	}
}

func (h *PrinterHandler) RegisterRoutes(r chi.Router) {
	r.Route("/printers", func(r chi.Router) {
		r.Get("/", h.ListPrinters)
		r.Get("/devices", h.ListDevices)
		r.Get("/preferences", h.ListPreferences)
		r.Post("/{role}/connect", h.Connect)
		r.Post("/{role}/select", h.Select)
		r.Post("/{role}/disconnect", h.Disconnect)
		r.Post("/{role}/print", h.Print)
		r.Post("/{role}/test", h.TestPage)
	})
}

// ListPrinters returns the status of every role
func (h *PrinterHandler) ListPrinters(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, h.status.Statuses())
}

// ListDevices returns the devices a backend is allowed to use
func (h *PrinterHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	backend, err := models.ParseBackend(r.URL.Query().Get("backend"))
	if err != nil || !backend.Physical() {
		api.BadRequest(w, "backend must be serial or ble")
		return
	}

	devices, err := h.devices.ListAuthorizedDevices(r.Context(), backend)
	if err != nil {
		api.Fail(w, err)
		return
	}
	if devices == nil {
		devices = []models.DeviceInfo{}
	}
	api.RespondJSON(w, http.StatusOK, devices)
}

// ListPreferences returns the persisted device choice of each role
func (h *PrinterHandler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list preferences", zap.Error(err))
		api.Fail(w, err)
		return
	}
	if prefs == nil {
		prefs = []models.Preference{}
	}
	api.RespondJSON(w, http.StatusOK, prefs)
}

// Connect connects the role's preferred printer
func (h *PrinterHandler) Connect(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	dev, err := h.devices.Connect(r.Context(), role)
	if err != nil {
		api.Fail(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, dev)
}

// Select binds a specific device to the role
func (h *PrinterHandler) Select(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	var req struct {
		DeviceID string `json:"deviceId"`
		Backend  string `json:"backend"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}
	backend, err := models.ParseBackend(req.Backend)
	if err != nil || !backend.Physical() {
		api.BadRequest(w, "backend must be serial or ble")
		return
	}
	if req.DeviceID == "" {
		api.BadRequest(w, "deviceId is required")
		return
	}

	dev, err := h.devices.SelectDevice(r.Context(), role, backend, req.DeviceID)
	if err != nil {
		api.Fail(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, dev)
}

// Disconnect closes the role's printer and turns off auto-connect
func (h *PrinterHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	if err := h.devices.Disconnect(r.Context(), role); err != nil {
		api.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Print sends raw bytes, or the text field of a JSON body, to the printer.
func (h *PrinterHandler) Print(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}
	payload := body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			api.BadRequest(w, "Invalid request body")
			return
		}
		payload = []byte(req.Text)
	}
	if len(payload) == 0 {
		api.BadRequest(w, "nothing to print")
		return
	}

	h.print(w, r, role, payload)
}

// TestPage prints a short check page
func (h *PrinterHandler) TestPage(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	h.print(w, r, role, ticket.TestPage(role, h.now()))
}

func (h *PrinterHandler) print(w http.ResponseWriter, r *http.Request, role models.Role, payload []byte) {
	backend, err := h.devices.PrintText(r.Context(), role, payload)
	if err != nil {
		h.logger.Warn("print request failed", zap.String("role", string(role)), zap.Error(err))
		api.Fail(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"backend": backend,
		"bytes":   len(payload),
	})
}

func roleParam(w http.ResponseWriter, r *http.Request) (models.Role, bool) {
	role, err := models.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		api.RespondError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return role, true
}
