package tracing

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/source"
)

// StartItemSpan starts a span for one item handled by the given action.
func StartItemSpan(ctx context.Context, tracer trace.Tracer, action string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, action+" item",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("crankfeed.action", action))
	if seq, ok := runner.SeqFromContext(ctx); ok {
		span.SetAttributes(attribute.Int64("crankfeed.item.seq", seq))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

type tracedActor struct {
	inner  runner.Actor
	tracer trace.Tracer
	action string
}

// WrapActor records one span per item. A nil tracer returns actor unchanged.
func WrapActor(actor runner.Actor, tracer trace.Tracer, action string) runner.Actor {
	if tracer == nil {
		return actor
	}
	return &tracedActor{inner: actor, tracer: tracer, action: action}
}

func (a *tracedActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	ctx, span := StartItemSpan(ctx, a.tracer, a.action)
	out, err := a.inner.Do(ctx, rec)

	attrs := []attribute.KeyValue{attribute.Int("crankfeed.record.fields", len(rec))}
	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) {
		attrs = append(attrs, attribute.Int("http.response.status_code", httpErr.StatusCode))
	}
	EndSpan(span, err, attrs...)
	return out, err
}

type tracedSource struct {
	source.Source
	tracer trace.Tracer
}

// WrapSource records one span per fetch. A nil tracer returns src unchanged.
func WrapSource(src source.Source, tracer trace.Tracer) source.Source {
	if tracer == nil {
		return src
	}
	return &tracedSource{Source: src, tracer: tracer}
}

func (s *tracedSource) Next(ctx context.Context, max int) ([]source.Record, error) {
	ctx, span := s.tracer.Start(ctx, "source fetch",
		trace.WithAttributes(attribute.Int("crankfeed.batch.requested", max)),
	)
	recs, err := s.Source.Next(ctx, max)
	EndSpan(span, err, attribute.Int("crankfeed.batch.size", len(recs)))
	return recs, err
}
