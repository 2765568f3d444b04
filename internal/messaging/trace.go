package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// injectTrace stores the span context of ctx in the message headers so the
// worker's span continues the trace of the transition that queued it.
// Existing headers with the same key are replaced.
func injectTrace(ctx context.Context, msg *kafka.Message) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	kept := msg.Headers[:0]
	for _, h := range msg.Headers {
		if _, ok := carrier[h.Key]; !ok {
			kept = append(kept, h)
		}
	}
	for k, v := range carrier {
		kept = append(kept, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg.Headers = kept
}

func extractTrace(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := make(propagation.MapCarrier, len(headers))
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
