package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	mu     sync.Mutex
	conn   *Connection
	logger *logger.Logger
}

func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishEvent sends a committed change to the topic exchange. Kitchen tickets
// and settlements are also fanned out to the print agent queue.
func (p *Publisher) PublishEvent(ctx context.Context, event *models.Event) error {
	if err := p.publishMessage(ctx, EventsExchange, event.RoutingKey(), event, true); err != nil {
		return err
	}
	if event.IsKitchenTicket() || event.Type == models.EventOrderSettled {
		return p.publishMessage(ctx, NotificationsExchange, "", event, false)
	}
	return nil
}

func (p *Publisher) publishMessage(ctx context.Context, exchange, routingKey string, message interface{}, persistent bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn.IsClosed() {
		if err := p.conn.Reconnect(ctx); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	deliveryMode := amqp091.Transient
	if persistent {
		deliveryMode = amqp091.Persistent
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: deliveryMode,
		Timestamp:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	requestID := logger.RequestIDFromContext(ctx)
	err = p.conn.Channel().PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", exchange),
			requestID, err, map[string]interface{}{
				"exchange":    exchange,
				"routing_key": routingKey,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", exchange),
		requestID, map[string]interface{}{
			"exchange":     exchange,
			"routing_key":  routingKey,
			"message_size": len(body),
		})

	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
