package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// FactsPublisher announces facts-ready events to any interested consumers.
type FactsPublisher interface {
	Publish(ctx context.Context, payload FactsReadyPayload) error
}

// rabbitMQPublisher broadcasts facts-ready events on a fanout exchange.
// The channel is assumed open; its lifecycle belongs to the caller.
type rabbitMQPublisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQPublisher declares the facts-ready exchange and returns a
// publisher bound to it.
func NewRabbitMQPublisher(ch *amqp.Channel, exchange string, logger *zap.Logger) (FactsPublisher, error) {
	err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	return &rabbitMQPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger.Named("FactsPublisher"),
	}, nil
}

// Publish broadcasts the payload. Fanout delivery has no routing key.
func (p *rabbitMQPublisher) Publish(ctx context.Context, payload FactsReadyPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal facts-ready payload for trace '%s': %w", payload.TraceID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		"", // routing key (not used for fanout)
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
			AppId:       "storyboard-engine",
			MessageId:   payload.TraceID + "-facts",
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish facts-ready event",
			zap.String("traceId", payload.TraceID), zap.Error(err))
		return fmt.Errorf("failed to publish facts-ready event for trace '%s': %w", payload.TraceID, err)
	}

	p.logger.Debug("Published facts-ready event",
		zap.String("traceId", payload.TraceID),
		zap.String("status", payload.Status))
	return nil
}
