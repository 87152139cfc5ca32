package mqttclient

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/vitalvas/mqttclient"

// Span attribute keys.
const (
	attrClientID   = attribute.Key("mqtt.client_id")
	attrTopic      = attribute.Key("mqtt.topic")
	attrQoS        = attribute.Key("mqtt.qos")
	attrPacketID   = attribute.Key("mqtt.packet_id")
	attrReasonCode = attribute.Key("mqtt.reason_code")
	attrFilters    = attribute.Key("mqtt.filters")
	attrVersion    = attribute.Key("mqtt.protocol_version")
)

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// traceResult starts a span for r that ends when r completes.
func (c *Client) traceResult(ctx context.Context, r *Result, attrs ...attribute.KeyValue) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(attrs, attrClientID.String(c.ClientID()))
	_, span := c.tracer.Start(ctx, "mqtt."+r.Kind().String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	r.onComplete(func(r *Result) {
		span.SetAttributes(
			attrPacketID.Int(int(r.PacketID())),
			attrReasonCode.Int(int(r.ReasonCode())),
		)
		if err := r.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	})
}
