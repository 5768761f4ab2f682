/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request log (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the station dashboard
  5. Actor:      Bearer token or X-Actor-ID header -> acting user

ROUTE GROUPS:
  /api/tanks/*           Tank registry, ledger, stock in, calibration, readings
  /api/adjustments/*     Adjustment approval workflow
  /api/sales/*           Sale registration, verification, deduction
  /api/reconciliation/*  Expected stock and discrepancy reports
  /api/notifications     Alert feed
  /api/audit             Audit trail
  /api/admin/reset       Database reset (only when Options.AllowReset)
  /api/scenarios/*       Demo station loaders (only when Options.AllowReset)
  /healthz               Liveness + store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// AuthSecret enables HS256 bearer tokens. Empty means the X-Actor-ID header is trusted.
	AuthSecret string
	AllowReset bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(NewAuthenticator(opts.AuthSecret).Middleware)

		r.Route("/tanks", func(r chi.Router) {
			r.Get("/", h.ListTanks)
			r.Post("/", h.CreateTank)
			r.Get("/{id}", h.GetTank)
			r.Delete("/{id}", h.DeactivateTank)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/verify", h.VerifyProjection)
			r.Post("/{id}/purchases", h.RecordPurchase)
			r.Post("/{id}/deliveries", h.RecordDelivery)
			r.Post("/{id}/calibration", h.UploadCalibration)
			r.Put("/{id}/calibration/points", h.AddCalibrationPoint)
			r.Get("/{id}/volume", h.CalculateVolume)
			r.Post("/{id}/readings", h.RecordReading)
		})

		r.Route("/adjustments", func(r chi.Router) {
			r.Post("/", h.ProposeAdjustment)
			r.Get("/pending", h.ListPendingAdjustments)
			r.Get("/{id}", h.GetAdjustment)
			r.Post("/{id}/decision", h.DecideAdjustment)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.RegisterSale)
			r.Post("/{id}/verify", h.VerifySale)
			r.Post("/{id}/deduct", h.DeductSale)
		})

		r.Route("/reconciliation/{product}", func(r chi.Router) {
			r.Get("/expected", h.GetExpectedStock)
			r.Get("/discrepancies", h.FindDiscrepancies)
		})

		r.Get("/notifications", h.ListNotifications)
		r.Get("/audit", h.ListAudit)

		if opts.AllowReset {
			r.Post("/admin/reset", h.ResetDatabase)
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
