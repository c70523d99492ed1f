/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/cases/*            Cases and their resolutions
  /api/resolutions/*      Resolution read/update/delete
  /api/fee-rates/*        Fee table
  /api/specifications/*   Specifications
  /api/statuses           Resolution statuses
  /api/item-kinds         Item kinds
  /api/admin/*            Advancement job, seeding
  /api/scenarios/*        Demo scenarios
  /health                 Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins is used when no origins are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Case routes
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.CreateCase)
			r.Get("/{id}", h.GetCase)
			r.Put("/{id}", h.UpdateCase)
			r.Get("/{id}/resolutions", h.ListResolutions)
			r.Post("/{id}/resolutions", h.CreateResolution)
		})

		// Resolution routes
		r.Route("/resolutions", func(r chi.Router) {
			r.Get("/{id}", h.GetResolution)
			r.Put("/{id}", h.UpdateResolution)
			r.Delete("/{id}", h.DeleteResolution)
		})

		// Fee table routes
		r.Route("/fee-rates", func(r chi.Router) {
			r.Get("/", h.ListFeeRates)
			r.Put("/{year}", h.UpsertFeeRate)
			r.Delete("/{year}", h.DeleteFeeRate)
		})

		// Specification routes
		r.Route("/specifications", func(r chi.Router) {
			r.Get("/", h.ListSpecifications)
			r.Post("/", h.CreateSpecification)
		})

		r.Get("/statuses", h.ListStatuses)
		r.Get("/item-kinds", h.ListItemKinds)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/advancement", h.TriggerAdvancement)
			r.Get("/advancement/runs", h.ListAdvancementRuns)
			r.Post("/seed", h.SeedReferenceData)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
