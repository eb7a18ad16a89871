package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/api"
	"github.com/pizza-nz/print-agent/internal/api/handler"
	"github.com/pizza-nz/print-agent/internal/middleware"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/websockets"
)

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the services the HTTP API exposes
type Deps struct {
	Auth        *service.AuthService
	Devices     handler.Devices
	Preferences handler.PreferenceLister
	Jobs        handler.JobHistory
	Printer     *service.PrinterService
	Hub         *websockets.Hub
	Health      HealthChecker
	Logger      *zap.Logger
}

// New creates the agent's HTTP handler
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	authHandler := handler.NewAuthHandler(d.Auth)
	printerHandler := handler.NewPrinterHandler(d.Devices, d.Printer, d.Preferences, d.Logger)
	orderHandler := handler.NewOrderHandler(d.Printer)
	settingsHandler := handler.NewSettingsHandler(d.Printer)
	jobHandler := handler.NewJobHandler(d.Jobs)
	wsHandler := handler.NewWebSocketHandler(d.Hub)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", health(d.Health))
		authHandler.RegisterRoutes(r)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.Auth))
			r.Use(middleware.RequireRole(service.RoleOperator))
			printerHandler.RegisterRoutes(r)
			orderHandler.RegisterRoutes(r)
			settingsHandler.RegisterRoutes(r)
			jobHandler.RegisterRoutes(r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.Auth))
		wsHandler.RegisterRoutes(r)
	})

	return r
}

func health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if checker != nil {
			if err := checker.HealthCheck(ctx); err != nil {
				api.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
