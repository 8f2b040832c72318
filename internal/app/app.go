// Package app wires configuration, the policy store, the reconciler and the
// invocation handler so every entrypoint shares the same graph.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"catalogpolicy/internal/customresource"
	"catalogpolicy/internal/platform/config"
	"catalogpolicy/internal/policystore/factory"
	"catalogpolicy/internal/reconcile"
	"catalogpolicy/internal/reconcile/metrics"
)

type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Backend    *factory.Backend
	Reconciler *reconcile.Reconciler
	Handler    *customresource.Handler
}

type Option func(*options)

type options struct {
	backend *factory.Backend
}

// WithBackend uses an already opened backend instead of the one cfg selects.
func WithBackend(b *factory.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// New validates cfg and builds the dependency graph. Metrics register on reg;
// nil means the default registry.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var m *metrics.Metrics
	if reg == nil {
		m = metrics.New()
	} else {
		m = metrics.NewWithRegisterer(reg)
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = factory.New(ctx, cfg); err != nil {
			return nil, err
		}
	}

	physicalID := cfg.Reconcile.PhysicalResourceID
	if physicalID == "" {
		physicalID = reconcile.PhysicalResourceID(backend.Identity)
	}

	rec, err := reconcile.New(backend.Store,
		reconcile.WithMaxAttempts(cfg.Reconcile.MaxAttempts),
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(m),
		reconcile.WithPhysicalResourceID(physicalID),
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("build reconciler: %w", err)
	}

	handler, err := customresource.New(rec,
		customresource.WithLogger(logger),
		customresource.WithMetrics(m),
		customresource.WithTimeout(cfg.Reconcile.Timeout),
		customresource.WithCallbackTimeout(cfg.Reconcile.CallbackTimeout),
		customresource.WithCallbackReserve(cfg.Reconcile.CallbackReserve),
		customresource.WithAllowedCallbackHosts(cfg.Reconcile.CallbackAllowedHosts...),
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("build handler: %w", err)
	}

	logger.Info("policy reconciler ready",
		"backend", cfg.Store.Backend,
		"identity", backend.Identity,
		"physical_resource_id", physicalID,
		"max_attempts", cfg.Reconcile.MaxAttempts,
	)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Backend:    backend,
		Reconciler: rec,
		Handler:    handler,
	}, nil
}

func (a *App) Close() error {
	return a.Backend.Close()
}
