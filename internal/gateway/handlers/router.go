package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts every gateway route. metricsHandler may be nil.
func NewRouter(m *Middleware, h *PredictHandler, metricsHandler http.Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestIDMiddleware)
	r.Use(m.LoggingMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(m.CORSMiddleware)

	// Public routes
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Authenticated, rate-limited routes
	r.Group(func(r chi.Router) {
		r.Use(m.AuthMiddleware)
		r.Use(m.RateLimitMiddleware)

		r.Get("/predict/steel-rebar-price", h.HandlePredict)
		r.Get("/predict/steel-rebar-price/extended", h.HandlePredictExtended)
		r.Post("/predict/steel-rebar-price/batch", h.HandleBatch)
	})

	// Authenticated, not counted against the quota
	r.Group(func(r chi.Router) {
		r.Use(m.AuthMiddleware)

		r.Get("/model/info", h.HandleModelInfo)
	})

	return r
}
