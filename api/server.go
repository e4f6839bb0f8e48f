/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the desktop frontend

ROUTE GROUPS:
  /api/patients/*   Patient records, composite save, sessions, payments
  /api/sessions/*   Unsaved-session delete
  /api/debts        Open-debt report
  /api/admin/*      Repair operations
  /health           Liveness probe
  /metrics          Prometheus (when enabled)

SECURITY NOTE:
  No authentication middleware. The server is meant to sit on localhost
  behind the desktop frontend.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/clinicd/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured. A nil
// h.Metrics leaves /metrics unmounted.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:1420", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Patient routes
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Get("/search", h.SearchPatients)
			r.Post("/save", h.SavePatient)
			r.Get("/{id}", h.GetPatient)
			r.Post("/{id}/save", h.SavePatient)
			r.Get("/{id}/sessions", h.GetSessions)
			r.Post("/{id}/debt/archive", h.ArchiveDebt)
			r.Post("/{id}/debt/unarchive", h.UnarchiveDebt)
			r.Post("/{id}/contacted", h.MarkContacted)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.AddPayment)
		})

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteSession)
		})

		// Debt report
		r.Get("/debts", h.ListDebts)

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Delete("/{id}", h.DeletePayment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/repair-debts", h.RepairDebts)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Metrics (private registry, see metrics.go)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.HTTPHandler())
	}

	return r
}
