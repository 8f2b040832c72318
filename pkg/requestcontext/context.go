// Package requestcontext provides transport-independent context accessors for
// invocation-scoped values.
//
// Entry points (the Lambda handler, the HTTP middleware, the CLI) set these values;
// the reconciler and stores only read them, so they never import a transport.
//
//	ctx = requestcontext.WithRequestID(ctx, event.RequestID)
//	ctx = requestcontext.WithResource(ctx, event.StackID, event.LogicalResourceID)
//	requestID := requestcontext.RequestID(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	stackIDKey     struct{}
	logicalIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyStackID     = stackIDKey{}
	ContextKeyLogicalID   = logicalIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// RequestID retrieves the orchestrator request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// StackID retrieves the owning stack identifier, if any.
func StackID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyStackID).(string); ok {
		return v
	}
	return ""
}

// LogicalResourceID retrieves the orchestrator's logical resource name, if any.
func LogicalResourceID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyLogicalID).(string); ok {
		return v
	}
	return ""
}

// WithResource injects the stack and logical resource identifiers into the context.
func WithResource(ctx context.Context, stackID, logicalResourceID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyStackID, stackID)
	return context.WithValue(ctx, ContextKeyLogicalID, logicalResourceID)
}

// Now retrieves the invocation-scoped time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
