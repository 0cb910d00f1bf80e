package messaging

import (
	"context"

	"go.uber.org/zap"
)

// ChannelPublisher is an in-process FactsPublisher for broker-less
// deployments and tests. Publish and the events channel share one process,
// so delivery is a non-blocking channel send with the same drop-oldest
// policy as the RabbitMQ consumer.
type ChannelPublisher struct {
	events chan FactsReadyPayload
	logger *zap.Logger
}

// NewChannelPublisher creates an in-process facts channel.
func NewChannelPublisher(logger *zap.Logger) *ChannelPublisher {
	return &ChannelPublisher{
		events: make(chan FactsReadyPayload, factsEventBuffer),
		logger: logger.Named("FactsChannel"),
	}
}

// Events returns the channel consumers drain.
func (p *ChannelPublisher) Events() <-chan FactsReadyPayload {
	return p.events
}

// Publish delivers the payload to the in-process channel. It never blocks.
func (p *ChannelPublisher) Publish(_ context.Context, payload FactsReadyPayload) error {
	select {
	case p.events <- payload:
		return nil
	default:
	}

	select {
	case <-p.events:
	default:
	}
	select {
	case p.events <- payload:
	default:
	}
	p.logger.Warn("Facts event buffer full, dropped oldest event",
		zap.String("traceId", payload.TraceID))
	return nil
}
