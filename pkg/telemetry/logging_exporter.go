package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanLogger emits completed spans as structured log entries. Used when no
// OTLP collector is configured.
type spanLogger struct {
	logger zerolog.Logger
}

func newSpanLogger(logger zerolog.Logger) sdktrace.SpanExporter {
	return &spanLogger{logger: logger.With().Str("component", "tracing").Logger()}
}

func (s *spanLogger) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		event := s.logger.Debug().
			Str("span", span.Name()).
			Str("kind", span.SpanKind().String()).
			Dur("duration", span.EndTime().Sub(span.StartTime()))
		if sc.TraceID().IsValid() {
			event = event.Str("trace_id", sc.TraceID().String())
		}
		if sc.SpanID().IsValid() {
			event = event.Str("span_id", sc.SpanID().String())
		}
		if parent := span.Parent(); parent.IsValid() {
			event = event.Str("parent_span_id", parent.SpanID().String())
		}
		for _, attr := range span.Attributes() {
			event = event.Str(string(attr.Key), attr.Value.Emit())
		}
		event.Msg("span completed")
	}
	return nil
}

func (s *spanLogger) Shutdown(context.Context) error { return nil }

var _ sdktrace.SpanExporter = (*spanLogger)(nil)
