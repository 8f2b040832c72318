// Package report delivers reconciliation outcomes to the orchestrator.
package report

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/cfn"

	"catalogpolicy/internal/reconcile"
)

// Reporter is the sink for the single terminal outcome of an invocation.
type Reporter interface {
	Report(ctx context.Context, out reconcile.Outcome) error
}

// Target identifies the orchestrator request an outcome answers. The ids are
// echoed verbatim.
type Target struct {
	ResponseURL       string
	StackID           string
	RequestID         string
	LogicalResourceID string
}

// TargetFromEvent copies the correlation fields out of an invocation.
func TargetFromEvent(event cfn.Event) Target {
	return Target{
		ResponseURL:       event.ResponseURL,
		StackID:           event.StackID,
		RequestID:         event.RequestID,
		LogicalResourceID: event.LogicalResourceID,
	}
}

// LogReporter writes outcomes to a structured logger. It never fails.
type LogReporter struct {
	logger *slog.Logger
	target Target
}

func NewLogReporter(logger *slog.Logger, target Target) *LogReporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogReporter{logger: logger, target: target}
}

func (r *LogReporter) Report(ctx context.Context, out reconcile.Outcome) error {
	level := slog.LevelInfo
	if !out.Success {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "reconciliation outcome",
		"status", out.Status(),
		"reason", out.Reason,
		"physical_resource_id", out.PhysicalResourceID,
		"request_id", r.target.RequestID,
		"stack_id", r.target.StackID,
		"logical_resource_id", r.target.LogicalResourceID,
		"attempts", out.Attempts,
		"written", out.Written,
	)
	return nil
}
