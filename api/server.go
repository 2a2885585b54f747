/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions
  for the reconciliation engine's inbound triggers. This is the wiring
  layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/sales/*            Sale reads
  /api/withdrawals/*      Withdrawal refresh + audit trail
  /api/admin/*            Operator actions (resync, run-now, rebuild)
  /api/events             Per-user SSE stream

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Get("/by-task/{taskID}", h.GetSaleByTask)
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/{taskID}/refresh", h.RefreshWithdrawal)
			r.Get("/{taskID}/audit", h.WithdrawalAudit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sales/{orderID}/resync", h.ResyncSale)
			r.Post("/schedule/run", h.RunScheduleNow)
			r.Post("/indexes/rebuild", h.RebuildIndexes)
		})

		r.Get("/events", h.Events)
	})

	return r
}
