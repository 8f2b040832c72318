// Package http exposes the invocation handler as a long-lived HTTP service.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalogpolicy/internal/platform/middleware"
	"catalogpolicy/pkg/platform/middleware/requesttime"
)

type routerConfig struct {
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

type RouterOption func(*routerConfig)

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(c *routerConfig) {
		c.logger = logger
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(c *routerConfig) {
		c.gatherer = g
	}
}

// NewRouter mounts the invocation, health and metrics routes.
func NewRouter(h *Handler, opts ...RouterOption) http.Handler {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(cfg.logger))

	h.Register(r)
	r.Get("/healthz", health)
	r.Handle("/metrics", metricsHandler(cfg.gatherer))
	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{Timeout: 5 * time.Second})
}
