// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/compliance-engine/cmd/compliance-api/handlers"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

// NewRouter creates the API router. requestTimeout bounds each request, including the
// reasoning calls it triggers.
func NewRouter(logger *observability.Logger, h *handlers.ComplianceHandler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"compliance-engine"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.AllowContentType("application/json"))

		r.Post("/extract", h.Extract)
		r.Post("/rank", h.Rank)
		r.Post("/compare", h.Compare)
		r.Post("/analyze", h.Analyze)
		r.Get("/meters/{model}", h.Meter)
	})

	return r
}

// requestLogger logs each request through the structured logger.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	logger = observability.OrNop(logger).WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}
