package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe in handleHealth.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/session", s.handleGetSession)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleSubscribe)
			r.Delete("/", s.handleUnsubscribe)
		})

		r.Post("/publish", s.handlePublish)

		r.Get("/messages", s.handleListMessages)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// Component health values reported by handleHealth.
const (
	componentOK       = "ok"
	componentDisabled = "disabled"
)

// handleHealth reports the session state and probes each optional store.
//
// The status is "ok" with 200 when the session is connected and every
// enabled component answers, otherwise "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]string{
		"mqtt":     componentOK,
		"database": componentDisabled,
		"influxdb": componentDisabled,
	}
	healthy := true

	if err := s.session.HealthCheck(ctx); err != nil {
		components["mqtt"] = err.Error()
		healthy = false
	}

	if s.db != nil {
		components["database"] = componentOK
		if err := s.db.HealthCheck(ctx); err != nil {
			components["database"] = err.Error()
			healthy = false
		}
	}

	if s.influx != nil {
		components["influxdb"] = componentOK
		if err := s.influx.HealthCheck(ctx); err != nil {
			components["influxdb"] = err.Error()
			healthy = false
		}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"session":    s.session.State().String(),
		"components": components,
	})
}
