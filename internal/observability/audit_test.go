package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogpolicy/pkg/requestcontext"
)

func TestLogAuditEnrichesFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithResource(ctx, "stack-1", "CatalogPolicy")

	LogAudit(ctx, logger, EventPolicyReconciled, "status", "SUCCESS")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, EventPolicyReconciled, line["event"])
	assert.Equal(t, "audit", line["log_type"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "stack-1", line["stack_id"])
	assert.Equal(t, "CatalogPolicy", line["logical_resource_id"])
	assert.Equal(t, "SUCCESS", line["status"])
}

func TestLogAuditKeepsExplicitRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := requestcontext.WithRequestID(context.Background(), "from-ctx")

	LogAudit(ctx, logger, EventCallbackFailed, "request_id", "explicit")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"request_id"`)))
	assert.Contains(t, buf.String(), `"request_id":"explicit"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestLogAuditNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogAudit(context.Background(), nil, EventPolicyReconcileFailed)
	})
}

func TestExtractString(t *testing.T) {
	attrs := []any{"attempt", 2, "reason", "conflict retry exhausted", 7, "x"}
	assert.Equal(t, "conflict retry exhausted", ExtractString(attrs, "reason"))
	assert.Empty(t, ExtractString(attrs, "attempt"))
	assert.Empty(t, ExtractString(attrs, "missing"))
}
