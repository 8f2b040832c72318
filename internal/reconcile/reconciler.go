// Package reconcile merges one owner's statements into the shared policy
// document under optimistic concurrency.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"catalogpolicy/internal/observability"
	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
	"catalogpolicy/internal/reconcile/metrics"
)

// Store is the remote document the reconciler reads and conditionally replaces.
type Store interface {
	Fetch(ctx context.Context) (*policy.Document, policystore.Version, error)
	Replace(ctx context.Context, doc *policy.Document, precondition policystore.Version) error
}

const DefaultMaxAttempts = 5

// physicalIDNamespace seeds PhysicalResourceID so ids are stable across deploys.
var physicalIDNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("catalogpolicy/resource-policy"))

// PhysicalResourceID derives a stable identifier for the policy resource from
// the identity of the document it manages, never from its content.
func PhysicalResourceID(identity string) string {
	return "catalog-policy-" + uuid.NewSHA1(physicalIDNamespace, []byte(identity)).String()
}

// Reconciler runs fetch, merge and conditional replace cycles against a Store.
// It holds no per-invocation state and is safe for concurrent use.
type Reconciler struct {
	store       Store
	maxAttempts int
	backoff     BackoffConfig
	random      func() float64
	physicalID  string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Reconciler)

// WithMaxAttempts bounds the number of fetch/merge/write cycles per call.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		r.maxAttempts = n
	}
}

func WithBackoff(cfg BackoffConfig) Option {
	return func(r *Reconciler) {
		r.backoff = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithPhysicalResourceID sets the identifier reported on every outcome.
func WithPhysicalResourceID(id string) Option {
	return func(r *Reconciler) {
		r.physicalID = id
	}
}

// New constructs a Reconciler.
func New(store Store, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	r := &Reconciler{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		random:      rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", r.maxAttempts)
	}
	if r.physicalID == "" {
		r.physicalID = PhysicalResourceID("default")
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

// PhysicalID is the identifier carried on every outcome.
func (r *Reconciler) PhysicalID() string {
	return r.physicalID
}

// Reconcile brings the remote document to the state req asks for. It never
// panics and never returns an error: every failure is folded into the Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	out = Outcome{CorrelationID: req.RequestID, PhysicalResourceID: r.physicalID}

	defer func() {
		if rec := recover(); rec != nil {
			out.Success = false
			out.Reason = fmt.Sprintf("internal error: %v", rec)
		}
		r.finish(ctx, req, out, start)
	}()

	if err := req.Validate(); err != nil {
		out.Reason = err.Error()
		return out
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.wait(ctx, attempt-1); err != nil {
				out.Reason = ReasonDeadlineExceeded
				return out
			}
		}
		out.Attempts = attempt

		written, err := r.cycle(ctx, req, attempt)
		switch {
		case err == nil:
			out.Success = true
			out.Written = written
			return out
		case ctx.Err() != nil:
			// A store client timeout while ctx is live falls through to default.
			out.Reason = ReasonDeadlineExceeded
			return out
		case policystore.IsConflict(err):
			r.metrics.IncrementConflicts()
			r.logger.InfoContext(ctx, "policy document changed concurrently, retrying",
				"request_id", req.RequestID,
				"operation", string(req.Operation),
				"attempt", attempt,
				"error", err,
			)
		default:
			out.Reason = err.Error()
			return out
		}
	}

	out.Reason = ReasonConflictExhausted
	return out
}

// cycle runs one fetch, merge, write pass and reports whether it wrote.
func (r *Reconciler) cycle(ctx context.Context, req Request, attempt int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	current, version, err := r.store.Fetch(ctx)
	if policystore.IsNotFound(err) {
		current, version, err = policy.NewDocument(), policystore.NoVersion, nil
	}
	if err != nil {
		return false, err
	}

	merged := Merge(current, req)
	if merged.Equal(current) {
		r.metrics.IncrementSkippedWrites()
		r.logger.DebugContext(ctx, "policy document already reconciled",
			"request_id", req.RequestID,
			"operation", string(req.Operation),
			"attempt", attempt,
		)
		return false, nil
	}

	r.logger.DebugContext(ctx, "writing policy document",
		"request_id", req.RequestID,
		"operation", string(req.Operation),
		"attempt", attempt,
		"owned_sids", req.Owned(),
		"statements", len(merged.Statements),
		"precondition", string(version),
	)
	if err := r.store.Replace(ctx, merged, version); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) wait(ctx context.Context, retry int) error {
	delay := NextBackoffDelay(r.backoff, retry, r.random)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Reconciler) finish(ctx context.Context, req Request, out Outcome, start time.Time) {
	r.metrics.ObserveOutcome(string(req.Operation), out.Status(), out.Attempts, start)

	attrs := []any{
		"request_id", req.RequestID,
		"operation", string(req.Operation),
		"owned_sids", req.Owned(),
		"attempt", out.Attempts,
		"status", out.Status(),
		"written", out.Written,
		"duration", time.Since(start),
	}
	if out.Success {
		observability.LogAudit(ctx, r.logger, observability.EventPolicyReconciled, attrs...)
		return
	}
	observability.LogAudit(ctx, r.logger, observability.EventPolicyReconcileFailed,
		append(attrs, "reason", out.Reason)...)
}
