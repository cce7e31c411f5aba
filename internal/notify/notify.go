// Package notify delivers committed POS events to printers and downstream consumers.
// Delivery is best effort: failures are logged and counted, never returned to callers
// of the business operations.
package notify

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"restaurant-pos/internal/messaging"
	"restaurant-pos/internal/models"
)

// Notifier delivers one event synchronously
type Notifier interface {
	Notify(ctx context.Context, event *models.Event) error
}

// Publisher is what services see: it never blocks and never fails
type Publisher interface {
	Publish(ctx context.Context, event *models.Event)
}

type Nop struct{}

func (Nop) Notify(context.Context, *models.Event) error { return nil }
func (Nop) Publish(context.Context, *models.Event) {}

// AMQP publishes events to the pos_events exchange
type AMQP struct {
	pub *messaging.Publisher
}

func NewAMQP(pub *messaging.Publisher) *AMQP {
	return &AMQP{pub: pub}
}

func (a *AMQP) Notify(ctx context.Context, event *models.Event) error {
	if err := a.pub.PublishEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// Multi delivers to every notifier concurrently and returns the first failure
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event *models.Event) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range m {
		n := n
		g.Go(func() error {
			return n.Notify(ctx, event)
		})
	}
	return g.Wait()
}
