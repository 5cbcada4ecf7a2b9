package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/r3e-labs/docbackbone/pkg/metrics"
)

var tracer = otel.Tracer("docbackbone/engine/bus")

// RecoverMiddleware converts a handler panic into an error so one bad
// subscriber can't kill its delivery goroutine.
func RecoverMiddleware(next Handler) Handler {
	return func(ctx context.Context, e Event) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("event handler panicked on %s: %v", e.Type, r)
			}
		}()
		return next(ctx, e)
	}
}

// LoggingMiddleware logs handler failures at warn level with the event's
// correlation id attached, so a failure can be traced back through logs.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, e Event) error {
			err := next(ctx, e)
			if err != nil {
				logger.Warn("event handler error", "event", e.Type, "correlation_id", e.CorrelationID, "error", err)
			}
			return err
		}
	}
}

// MetricsMiddleware records handler duration in m, by event type.
func MetricsMiddleware(m *metrics.Registry) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, e Event) error {
			start := time.Now()
			err := next(ctx, e)
			if m != nil {
				m.EventHandlerDuration.WithLabelValues(string(e.Type)).Observe(time.Since(start).Seconds())
			}
			return err
		}
	}
}

// TracingMiddleware wraps handler execution in an OTel span named after the
// event type, matching pkg/fn's TracedStage convention for pipeline stages.
func TracingMiddleware(next Handler) Handler {
	return func(ctx context.Context, e Event) error {
		ctx, span := tracer.Start(ctx, "bus.handle."+string(e.Type),
			trace.WithAttributes(attribute.String("correlation_id", e.CorrelationID.String())))
		defer span.End()
		err := next(ctx, e)
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}
