package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span is a named unit of work whose duration and outcome are logged on End.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	attrs  []any
}

// StartSpan derives a child span from ctx. The returned context carries a
// logger tagged with trace, span and parent span identifiers.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = RequestIDFromContext(ctx)
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if TraceIDFromContext(ctx) == "" {
		ctx = WithTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	spanID := uuid.NewString()
	logger = logger.With(slog.String("span_id", spanID), slog.String("span_name", name))
	if parent := SpanIDFromContext(ctx); parent != "" {
		logger = logger.With(slog.String("parent_span_id", parent))
	}

	ctx = WithSpanID(WithLogger(ctx, logger), spanID)
	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Annotate attaches key/value pairs to the completion entry.
func (s *Span) Annotate(args ...any) {
	if s == nil {
		return
	}
	s.attrs = append(s.attrs, args...)
}

// End emits the completion entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	args := append([]any{slog.Duration("duration", time.Since(s.start))}, s.attrs...)
	s.logger.Info("span completed", args...)
}
