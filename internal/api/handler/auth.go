package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-nz/print-agent/internal/api"
)

// PinLogin exchanges an operator PIN for a token
type PinLogin interface {
	Login(pin string) (string, error)
}

// AuthHandler handles operator login
type AuthHandler struct {
	auth PinLogin
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth PinLogin) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// Login handles operator login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}

	token, err := h.auth.Login(req.Pin)
	if err != nil {
		api.Fail(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}
