package h2bridge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig defines the configuration options for the tracing delivery
// decorator.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "h2bridge")
	TracerName string
}

// DefaultTracingConfig returns a TracingConfig with sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{TracerName: "h2bridge"}
}

// TraceDelivery wraps next with an OpenTelemetry span per delivered message
// using default configuration.
func TraceDelivery(next DeliverFunc) DeliverFunc {
	return TraceDeliveryWithConfig(DefaultTracingConfig(), next)
}

// TraceDeliveryWithConfig wraps next with an OpenTelemetry span per
// delivered message.
func TraceDeliveryWithConfig(config TracingConfig, next DeliverFunc) DeliverFunc {
	if config.TracerName == "" {
		config.TracerName = "h2bridge"
	}
	tracer := otel.Tracer(config.TracerName)

	return func(msg *Message) {
		_, span := tracer.Start(context.Background(), "h2bridge.deliver",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.Int64("http2.stream_id", int64(msg.StreamID)),
				attribute.String("message.type", msg.Type.String()),
				attribute.Int("message.body_bytes", msg.Body.Len()),
			),
		)
		defer span.End()

		next(msg)
	}
}
