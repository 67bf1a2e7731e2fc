// Package ops serves the operational HTTP surface: Prometheus metrics and
// health checks. It is internal-only and guarded by a static token.
package ops

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Checker is a single readiness probe for one collaborator.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// MetricsHandler creates an HTTP handler for the Prometheus metrics endpoint.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// InternalAuthMiddleware restricts access to requests with a valid token.
// If token is empty, no authentication is required. The token is checked
// against the X-Internal-Token header using constant-time comparison.
func InternalAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get("X-Internal-Token")
			if subtle.ConstantTimeCompare([]byte(headerToken), []byte(token)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HealthHandler answers readiness probes, running each registered checker
// with a short per-request timeout.
func HealthHandler(checkers map[string]Checker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for name, c := range checkers {
			if err := c.HealthCheck(ctx); err != nil {
				logger.Warn("health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy","check":"` + name + `"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}

// NewServer builds the ops HTTP server with /metrics (token-guarded) and
// /healthz routes.
func NewServer(addr string, reg *prometheus.Registry, token string, checkers map[string]Checker, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", InternalAuthMiddleware(token)(MetricsHandler(reg)))
	mux.Handle("/healthz", HealthHandler(checkers, logger))

	return &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(mux, "ops"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
