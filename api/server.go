/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the bursar UI
  5. Tenant:     X-School-ID / X-Actor-ID on school-scoped routes

ROUTE GROUPS:
  /healthz              Liveness probe
  /api/invoices/*       Generation, queries, corrections, payments
  /api/payments/*       Payment removal
  /api/terms/*          Term lookups
  /api/catalog/*        Fee schedule import
  /api/admin/*          Overdue sweep
  /api/scenarios/*      Demo scenarios (not school-scoped)

SECURITY NOTE:
  No authentication middleware. X-School-ID and X-Actor-ID are trusted as
  sent; put the service behind a gateway that sets them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/fee-engine/billing"
	"go.uber.org/zap"
)

const (
	HeaderSchoolID = "X-School-ID"
	HeaderActorID  = "X-Actor-ID"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderSchoolID, HeaderActorID},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.Group(func(r chi.Router) {
			r.Use(tenant)

			// Invoice routes
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.ListInvoices)
				r.Post("/generate", h.GenerateInvoice)
				r.Post("/bulk-generate", h.BulkGenerate)
				r.Get("/{id}", h.GetInvoice)
				r.Delete("/{id}", h.DeleteInvoice)
				r.Post("/{id}/recalculate", h.RecalculateInvoice)
				r.Patch("/{id}/line-items", h.UpdateLineItems)
				r.Post("/{id}/payments", h.RecordPayment)
			})

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Delete("/{id}", h.DeletePayment)
			})

			r.Get("/terms/active", h.GetActiveTerm)
			r.Post("/catalog/import", h.ImportCatalog)

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Post("/overdue", h.TriggerOverdueSweep)
				r.Get("/overdue/runs", h.ListOverdueRuns)
			})
		})
	})

	return r
}

// =============================================================================
// TENANCY
// =============================================================================

type ctxKey int

const (
	schoolKey ctxKey = iota
	actorKey
)

// tenant requires X-School-ID and carries it, plus the optional actor, in
// the request context.
func tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		school := strings.TrimSpace(r.Header.Get(HeaderSchoolID))
		if school == "" {
			writeError(w, http.StatusBadRequest, HeaderSchoolID+" header is required", billing.KindValidation, nil)
			return
		}
		ctx := context.WithValue(r.Context(), schoolKey, billing.SchoolID(school))
		ctx = context.WithValue(ctx, actorKey, strings.TrimSpace(r.Header.Get(HeaderActorID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func schoolID(ctx context.Context) billing.SchoolID {
	school, _ := ctx.Value(schoolKey).(billing.SchoolID)
	return school
}

func actorID(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

func requestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("school_id", r.Header.Get(HeaderSchoolID)),
					zap.String("request_id", requestID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
