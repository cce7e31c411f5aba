package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/logger"
)

// ErrPoison marks a message that can never be processed; it is dropped instead of requeued
var ErrPoison = errors.New("unprocessable message")

// MessageHandler defines the interface for processing messages
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer handles message consumption from RabbitMQ
type Consumer struct {
	conn        *Connection
	logger      *logger.Logger
	queueName   string
	consumerTag string
	prefetch    int
}

func NewConsumer(conn *Connection, log *logger.Logger, queueName, consumerTag string, prefetch int) *Consumer {
	return &Consumer{
		conn:        conn,
		logger:      log,
		queueName:   queueName,
		consumerTag: consumerTag,
		prefetch:    prefetch,
	}
}

// StartConsuming blocks until ctx is cancelled or the connection cannot be restored
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	if c.conn.IsClosed() {
		if err := c.conn.Reconnect(ctx); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	ch := c.conn.Channel()
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(c.queueName, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer_started",
		fmt.Sprintf("Started consuming from queue %s", c.queueName),
		"", map[string]interface{}{
			"queue":    c.queueName,
			"consumer": c.consumerTag,
			"prefetch": c.prefetch,
		})

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer_stopped", "Consumer stopped by context", "", nil)
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				c.logger.Error("consumer_channel_closed", "Message channel closed, attempting to reconnect", "", nil, nil)
				if err := c.conn.Reconnect(ctx); err != nil {
					return fmt.Errorf("failed to reconnect after channel closed: %w", err)
				}
				return c.StartConsuming(ctx, handler)
			}

			c.processMessage(ctx, d, handler)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, delivery amqp091.Delivery, handler MessageHandler) {
	startTime := time.Now()

	c.logger.Debug("message_received",
		"Processing message",
		"", map[string]interface{}{
			"queue":        c.queueName,
			"routing_key":  delivery.RoutingKey,
			"message_size": len(delivery.Body),
			"delivery_tag": delivery.DeliveryTag,
		})

	processingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := handler(processingCtx, delivery.Body)
	fields := map[string]interface{}{
		"queue":        c.queueName,
		"routing_key":  delivery.RoutingKey,
		"duration_ms":  time.Since(startTime).Milliseconds(),
		"delivery_tag": delivery.DeliveryTag,
	}

	if err != nil {
		c.logger.Error("message_processing_failed", "Failed to process message", "", err, fields)

		requeue := !errors.Is(err, ErrPoison) && !delivery.Redelivered
		if nackErr := delivery.Nack(false, requeue); nackErr != nil {
			c.logger.Error("message_nack_failed", "Failed to nack message", "", nackErr, nil)
		}
		return
	}

	c.logger.Debug("message_processed", "Successfully processed message", "", fields)
	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("message_ack_failed", "Failed to ack message", "", ackErr, nil)
	}
}

// ParseMessage decodes a JSON body; decode failures are poison
func ParseMessage(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	return nil
}

// Close stops consuming messages
func (c *Consumer) Close() error {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Channel().Cancel(c.consumerTag, false); err != nil {
			c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
		}
		return c.conn.Close()
	}
	return nil
}
