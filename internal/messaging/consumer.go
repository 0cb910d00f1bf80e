package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// factsEventBuffer bounds the in-memory backlog of facts-ready events. The
// context builder drains without blocking; if it falls behind, old events are
// dropped rather than stalling the consumer.
const factsEventBuffer = 64

// FactsConsumer subscribes to the facts-ready exchange through a temporary
// exclusive queue and exposes received payloads on a buffered channel.
type FactsConsumer struct {
	conn    *amqp.Connection
	logger  *zap.Logger
	events  chan FactsReadyPayload
	done    chan struct{}
	channel *amqp.Channel
}

// NewFactsConsumer creates a FactsConsumer. Start must be called before
// Events yields anything.
func NewFactsConsumer(conn *amqp.Connection, logger *zap.Logger) *FactsConsumer {
	return &FactsConsumer{
		conn:   conn,
		logger: logger.Named("FactsConsumer"),
		events: make(chan FactsReadyPayload, factsEventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of received facts-ready payloads.
func (c *FactsConsumer) Events() <-chan FactsReadyPayload {
	return c.events
}

// Start binds an exclusive auto-delete queue to the facts-ready exchange and
// begins consuming in a background goroutine.
func (c *FactsConsumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		ExchangeFactsReady,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Temporary exclusive queue; RabbitMQ generates the name.
	q, err := c.channel.QueueDeclare(
		"",    // name (empty for auto-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(q.Name, "", ExchangeFactsReady, false, nil)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	c.logger.Info("Bound queue to facts-ready exchange", zap.String("queueName", q.Name))

	// auto-ack: events are advisory, a lost one only delays cache pickup.
	msgs, err := c.channel.Consume(
		q.Name,
		"",    // consumer (auto-generated)
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic recovered in facts consumer goroutine", zap.Any("panic", r))
			}
			close(c.done)
			if c.channel != nil {
				_ = c.channel.Close()
			}
		}()

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("Facts consumer channel closed, exiting goroutine")
					return
				}
				c.handleMessage(msg)
			case <-ctx.Done():
				c.logger.Info("Context cancelled, stopping facts consumer")
				return
			}
		}
	}()

	return nil
}

func (c *FactsConsumer) handleMessage(msg amqp.Delivery) {
	var payload FactsReadyPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal facts-ready event",
			zap.Error(err), zap.String("messageBody", string(msg.Body)))
		return
	}

	select {
	case c.events <- payload:
	default:
		// Buffer full: drop the oldest event to make room for the newest.
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- payload:
		default:
		}
		c.logger.Warn("Facts event buffer full, dropped oldest event",
			zap.String("traceId", payload.TraceID))
	}
}

// Stop cancels the subscription and waits briefly for the goroutine to exit.
func (c *FactsConsumer) Stop() error {
	if c.channel != nil {
		if err := c.channel.Cancel("", false); err != nil {
			c.logger.Error("Error cancelling facts consumer", zap.Error(err))
		}
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Timeout waiting for facts consumer goroutine to stop")
	}
	return nil
}
