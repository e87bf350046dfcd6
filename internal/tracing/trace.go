// Package tracing provides request tracing for the management API.
//
// Trace context propagates via the X-Trace-ID and X-Span-ID headers so a
// frontend can correlate a terminal session's management calls with its
// stream. Spans are processed asynchronously through a buffered collector
// and land in the structured log.
package tracing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/shared/id"
)

// TraceID identifies an entire request flow.
type TraceID string

// SpanID identifies one operation within a trace.
type SpanID string

// Span is a single traced operation.
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	StatusCode int
	Err        error
}

// Tracer collects spans and logs them asynchronously.
type Tracer struct {
	service string
	log     *logging.Logger
	spans   chan *Span
}

// New creates a tracer and starts its collector.
func New(service string, log *logging.Logger) *Tracer {
	if log == nil {
		log = logging.NewNop()
	}
	t := &Tracer{
		service: service,
		log:     log.Named("trace"),
		spans:   make(chan *Span, 1000),
	}
	go t.collect()
	return t
}

// StartSpan opens a span, inheriting the trace from ctx when present.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	parentID, _ := ctx.Value(spanIDKey).(SpanID)

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.NewRequestID()),
		ParentID:  parentID,
		Name:      name,
		StartTime: time.Now(),
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Finish closes the span and hands it to the collector. A full buffer drops
// the span rather than blocking the request path.
func (t *Tracer) Finish(span *Span) {
	span.Duration = time.Since(span.StartTime)
	select {
	case t.spans <- span:
	default:
		t.log.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)))
	}
}

func (t *Tracer) collect() {
	for span := range t.spans {
		fields := []zap.Field{
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
			zap.String("operation", span.Name),
			zap.String("service", t.service),
			zap.Duration("duration", span.Duration),
			zap.Int("status", span.StatusCode),
		}
		if span.ParentID != "" {
			fields = append(fields, zap.String("parent_id", string(span.ParentID)))
		}
		if span.Err != nil {
			fields = append(fields, zap.Error(span.Err))
			t.log.Error("span completed with error", fields...)
			continue
		}
		t.log.Debug("span completed", fields...)
	}
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context.
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID retrieves the span ID from context.
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}
