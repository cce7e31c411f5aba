package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
)

// Exchanges and queues of the POS topology
const (
	EventsExchange        = "pos_events"
	NotificationsExchange = "pos_notifications"

	KitchenQueue = "pos_kitchen_queue"
	AuditQueue   = "pos_audit_queue"
	PrintQueue   = "pos_print_queue"
)

// Connection wraps RabbitMQ connection with reconnection logic
type Connection struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *logger.Logger
	url     string
}

// New connects and declares the topology
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Connection, error) {
	conn := &Connection{
		logger: log,
		url:    cfg.RabbitMQURL(),
	}

	if err := conn.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to establish initial connection: %w", err)
	}
	return conn, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Connection) connect(ctx context.Context) error {
	maxRetries := 5
	var err error

	for i := 0; i < maxRetries; i++ {
		c.conn, err = amqp091.Dial(c.url)
		if err == nil {
			c.channel, err = c.conn.Channel()
			if err == nil {
				if setupErr := c.setupTopology(); setupErr != nil {
					c.logger.Error("rabbitmq_setup_failed", "Failed to set up topology", "startup", setupErr, nil)
					c.close()
					err = setupErr
				} else {
					c.logger.Info("rabbitmq_connected", "Connected to RabbitMQ", "startup", nil)
					return nil
				}
			} else {
				c.conn.Close()
			}
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * 2 * time.Second
			c.logger.Error("rabbitmq_connection_failed",
				fmt.Sprintf("Failed to connect to RabbitMQ, retrying in %v", waitTime),
				"startup", err, nil)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// setupTopology creates exchanges and queues
func (c *Connection) setupTopology() error {
	// routing keys look like pos.<restaurant>.<branch>.<event>
	err := c.channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", EventsExchange, err)
	}

	err = c.channel.ExchangeDeclare(NotificationsExchange, "fanout", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", NotificationsExchange, err)
	}

	queues := []struct {
		name string
		args amqp091.Table
	}{
		{KitchenQueue, amqp091.Table{"x-message-ttl": 300000}},
		{AuditQueue, nil},
		{PrintQueue, amqp091.Table{"x-message-ttl": 600000}},
	}
	for _, q := range queues {
		if _, err := c.channel.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}

	bindings := []struct {
		queue      string
		routingKey string
		exchange   string
	}{
		{KitchenQueue, "pos.*.*.items_added", EventsExchange},
		{KitchenQueue, "pos.*.*.line_cancelled", EventsExchange},
		{KitchenQueue, "pos.*.*.kitchen_updated", EventsExchange},
		{AuditQueue, "pos.#", EventsExchange},
		{PrintQueue, "", NotificationsExchange},
	}
	for _, b := range bindings {
		if err := c.channel.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s with routing key %q: %w", b.queue, b.routingKey, err)
		}
	}

	return nil
}

// Channel returns the current channel
func (c *Connection) Channel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

func (c *Connection) close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsClosed checks if the connection is closed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == nil || c.conn.IsClosed()
}

// Reconnect attempts to reconnect to RabbitMQ
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close()
	return c.connect(ctx)
}
