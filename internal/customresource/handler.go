// Package customresource answers orchestrator invocations: it validates the
// event, runs one reconciliation and reports the outcome exactly once.
package customresource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/cfn"

	"catalogpolicy/internal/observability"
	"catalogpolicy/internal/reconcile"
	"catalogpolicy/internal/reconcile/metrics"
	"catalogpolicy/internal/report"
	"catalogpolicy/pkg/requestcontext"
)

// DefaultCallbackReserve is the slice of the invocation deadline kept back so
// the callback can still be sent after reconciliation gives up.
const DefaultCallbackReserve = 5 * time.Second

type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) reconcile.Outcome
	PhysicalID() string
}

// ReporterFactory returns the sink for one invocation's outcome.
type ReporterFactory func(event cfn.Event) (report.Reporter, error)

type Handler struct {
	reconciler      Reconciler
	reporterFor     ReporterFactory
	logger          *slog.Logger
	metrics         *metrics.Metrics
	callbackReserve time.Duration
	callbackTimeout time.Duration
	callbackHosts   []string
	timeout         time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReporterFactory replaces the default callback reporter.
func WithReporterFactory(f ReporterFactory) Option {
	return func(h *Handler) {
		h.reporterFor = f
	}
}

func WithCallbackReserve(d time.Duration) Option {
	return func(h *Handler) {
		h.callbackReserve = d
	}
}

func WithCallbackTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.callbackTimeout = d
	}
}

// WithAllowedCallbackHosts restricts the default reporter to response URLs on
// these hosts. See report.WithAllowedHosts for the pattern syntax.
func WithAllowedCallbackHosts(hosts ...string) Option {
	return func(h *Handler) {
		h.callbackHosts = hosts
	}
}

// WithTimeout caps each reconciliation regardless of the invocation deadline.
// Zero leaves only the invocation deadline in force.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// New constructs a Handler.
func New(reconciler Reconciler, opts ...Option) (*Handler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	h := &Handler{
		reconciler:      reconciler,
		callbackReserve: DefaultCallbackReserve,
		callbackTimeout: report.DefaultCallbackTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.reporterFor == nil {
		h.reporterFor = h.defaultReporter
	}
	return h, nil
}

// Handle is the Lambda entrypoint. The outcome travels through the callback, so
// Handle returns nil once it has been reported and the runtime never retries.
func (h *Handler) Handle(ctx context.Context, event cfn.Event) error {
	h.Invoke(ctx, event)
	return nil
}

// Invoke processes one invocation and returns the outcome it reported.
func (h *Handler) Invoke(ctx context.Context, event cfn.Event) (out reconcile.Outcome) {
	// Downstream writes are stamped with the invocation start.
	start := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, start)
	ctx = requestcontext.WithRequestID(ctx, event.RequestID)
	ctx = requestcontext.WithResource(ctx, event.StackID, event.LogicalResourceID)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "reconciliation panicked", "panic", rec)
			out = reconcile.Failed(event.RequestID, fmt.Sprintf("internal error: %v", rec))
		}
		out.CorrelationID = event.RequestID
		out.PhysicalResourceID = h.physicalID(event)
		h.report(ctx, event, out)
	}()

	req, err := BuildRequest(event)
	if err != nil {
		out = reconcile.Failed(event.RequestID, err.Error())
		h.metrics.ObserveOutcome(string(event.RequestType), out.Status(), 0, start)
		observability.LogAudit(ctx, h.logger, observability.EventPolicyReconcileFailed,
			"operation", string(event.RequestType),
			"status", out.Status(),
			"reason", out.Reason,
		)
		return out
	}

	if err := unreadableStatements(event); err != nil {
		h.logger.WarnContext(ctx, "delete releases OwnedSids only",
			"property", PropertyOwnedStatements,
			"error", err,
		)
	}

	rctx, cancel := h.reconcileContext(ctx)
	defer cancel()
	return h.reconciler.Reconcile(rctx, req)
}

// reconcileContext leaves callbackReserve of the invocation deadline unused and
// applies the configured timeout.
func (h *Handler) reconcileContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cancels := make([]context.CancelFunc, 0, 2)
	if deadline, ok := ctx.Deadline(); ok && h.callbackReserve > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-h.callbackReserve))
		cancels = append(cancels, cancel)
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		cancels = append(cancels, cancel)
	}
	return ctx, func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// physicalID echoes the id the orchestrator already tracks so it never sees a
// replacement.
func (h *Handler) physicalID(event cfn.Event) string {
	if event.RequestType != cfn.RequestCreate && event.PhysicalResourceID != "" {
		return event.PhysicalResourceID
	}
	return h.reconciler.PhysicalID()
}

// report delivers out once. Failures are logged and go no further.
func (h *Handler) report(ctx context.Context, event cfn.Event, out reconcile.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			h.callbackFailed(ctx, out, fmt.Errorf("reporter panicked: %v", rec))
		}
	}()

	reporter, err := h.reporterFor(event)
	if err != nil {
		h.callbackFailed(ctx, out, err)
		return
	}
	// The reconcile deadline may already have passed; the reporter bounds its own call.
	if err := reporter.Report(context.WithoutCancel(ctx), out); err != nil {
		h.callbackFailed(ctx, out, err)
	}
}

func (h *Handler) callbackFailed(ctx context.Context, out reconcile.Outcome, err error) {
	h.metrics.IncrementCallbackFailures()
	observability.LogAudit(ctx, h.logger, observability.EventCallbackFailed,
		"status", out.Status(),
		"reason", out.Reason,
		"error", err.Error(),
	)
}

func (h *Handler) defaultReporter(event cfn.Event) (report.Reporter, error) {
	target := report.TargetFromEvent(event)
	if target.ResponseURL == "" {
		return report.NewLogReporter(h.logger, target), nil
	}
	return report.NewCallbackReporter(target,
		report.WithTimeout(h.callbackTimeout),
		report.WithAllowedHosts(h.callbackHosts...),
	)
}
