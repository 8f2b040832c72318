package policystore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"catalogpolicy/internal/policy"
)

const tracerName = "catalogpolicy/internal/policystore"

// instrumented decorates a Store with one span per remote call.
type instrumented struct {
	next    Store
	backend string
	tracer  trace.Tracer
}

// Instrument wraps store so every Fetch and Replace is traced through the global
// OpenTelemetry tracer provider.
func Instrument(store Store, backend string) Store {
	return &instrumented{
		next:    store,
		backend: backend,
		tracer:  otel.Tracer(tracerName),
	}
}

func (s *instrumented) Fetch(ctx context.Context) (*policy.Document, Version, error) {
	ctx, span := s.tracer.Start(ctx, "policystore.Fetch",
		trace.WithAttributes(attribute.String("policystore.backend", s.backend)))
	defer span.End()

	doc, version, err := s.next.Fetch(ctx)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("policy.statements", len(doc.Statements)))
	case IsNotFound(err):
		span.SetAttributes(attribute.Bool("policy.absent", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return doc, version, err
}

func (s *instrumented) Replace(ctx context.Context, doc *policy.Document, precondition Version) error {
	ctx, span := s.tracer.Start(ctx, "policystore.Replace",
		trace.WithAttributes(
			attribute.String("policystore.backend", s.backend),
			attribute.Bool("policystore.conditional", !precondition.IsAbsent()),
			attribute.Int("policy.statements", len(doc.Statements)),
		))
	defer span.End()

	err := s.next.Replace(ctx, doc, precondition)
	switch {
	case err == nil:
	case IsConflict(err):
		span.SetAttributes(attribute.Bool("policystore.conflict", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
