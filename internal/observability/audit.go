// Package observability provides audit logging helpers for reconciliation.
package observability

import (
	"context"
	"log/slog"

	"catalogpolicy/pkg/requestcontext"
)

// Audit events emitted once per invocation.
const (
	EventPolicyReconciled      = "policy_reconciled"
	EventPolicyReconcileFailed = "policy_reconcile_failed"
	EventCallbackFailed        = "callback_failed"
)

// LogAudit logs an audit event enriched with the correlation fields carried on
// ctx. Keys already present in attrList win over the context values.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrList ...any) {
	if logger == nil {
		return
	}
	attrList = appendMissing(attrList, "request_id", requestcontext.RequestID(ctx))
	attrList = appendMissing(attrList, "stack_id", requestcontext.StackID(ctx))
	attrList = appendMissing(attrList, "logical_resource_id", requestcontext.LogicalResourceID(ctx))

	args := append(attrList, "event", event, "log_type", "audit")

	level := slog.LevelInfo
	if event != EventPolicyReconciled {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, event, args...)
}

func appendMissing(attrList []any, key, value string) []any {
	if value == "" || ExtractString(attrList, key) != "" {
		return attrList
	}
	return append(attrList, key, value)
}

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}
