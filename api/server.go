/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/transactions/*   Transaction mutations and history
  /api/accounts/*       Account sync and derived balances
  /api/categories/*     Category sync and aggregate totals
  /api/series/*         Recurring series and projection
  /api/admin/*          Rebuild and flush operations
  /api/health           Liveness probe

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
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

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.AddTransaction)
			r.Post("/bulk", h.BulkAddTransactions)
			r.Post("/transfer", h.CreateTransfer)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/sync", h.SyncAccounts)
			r.Get("/{id}/balance", h.GetBalance)
		})

		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Post("/sync", h.SyncCategories)
			r.Get("/totals", h.GetCategoryTotals)
		})

		// Recurring series routes
		r.Route("/series", func(r chi.Router) {
			r.Get("/", h.ListSeries)
			r.Post("/", h.CreateSeries)
			r.Post("/materialize", h.Materialize)
			r.Put("/{id}", h.UpdateSeries)
			r.Delete("/{id}", h.DeleteSeries)
			r.Post("/{id}/stop", h.StopSeries)
			r.Get("/{id}/planned", h.GetPlannedTransactions)
			r.Get("/{id}/next-charge", h.GetNextCharge)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalculate", h.Recalculate)
			r.Post("/flush", h.Flush)
		})

		r.Get("/health", h.Health)
	})

	return r
}
