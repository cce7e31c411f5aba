// Package notification drains the print queue and hands each ticket to the
// local print agent.
package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/messaging"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/notify"
)

// Printer delivers a rendered ticket
type Printer interface {
	Print(ctx context.Context, ticket notify.Ticket) error
}

// Consumer feeds raw deliveries to a handler until ctx ends
type Consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

type Subscriber struct {
	consumer Consumer
	printer  Printer
	console  io.Writer
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewSubscriber(consumer Consumer, printer Printer, console io.Writer, m *metrics.Metrics, log *logger.Logger) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		printer:  printer,
		console:  console,
		metrics:  m,
		logger:   log,
	}
}

// Start consumes until ctx is cancelled, then closes the consumer
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, map[string]interface{}{
		"queue": messaging.PrintQueue,
	})

	err := s.consumer.StartConsuming(ctx, s.Handle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.logger.Info("graceful_shutdown", "Stopping notification subscriber", requestID, nil)
	if closeErr := s.consumer.Close(); closeErr != nil {
		s.logger.Error("consumer_close_failed", "Failed to close consumer", requestID, closeErr, nil)
	}
	return err
}

// Handle prints one queued event. Undecodable bodies are poison and dropped;
// print agent failures are returned so the delivery is retried once.
func (s *Subscriber) Handle(ctx context.Context, body []byte) error {
	var event models.Event
	if err := messaging.ParseMessage(body, &event); err != nil {
		s.metrics.Notification("poison")
		return err
	}
	ticket, ok := notify.TicketFor(&event)
	if !ok {
		s.logger.Debug("notification_skipped", fmt.Sprintf("Nothing to print for %s", event.Type), event.RequestID, map[string]interface{}{
			"event_id": event.ID,
		})
		return nil
	}

	if err := s.printer.Print(ctx, ticket); err != nil {
		s.metrics.Notification("failed")
		return fmt.Errorf("failed to print %s for order %d: %w", ticket.Kind, ticket.OrderID, err)
	}
	s.metrics.Notification("printed")

	if s.console != nil {
		fmt.Fprintln(s.console, formatTicket(ticket))
	}
	s.logger.Info("ticket_printed", "Ticket sent to print agent", event.RequestID, map[string]interface{}{
		"event_id": ticket.EventID,
		"kind":     ticket.Kind,
		"order_id": ticket.OrderID,
		"tables":   ticket.TableNumbers,
		"total":    ticket.Total.String(),
	})
	return nil
}

// formatTicket renders the one-line console echo of a printed ticket
func formatTicket(t notify.Ticket) string {
	timestamp := t.PrintedAt.Format("2006-01-02 15:04:05")
	tables := make([]string, 0, len(t.TableNumbers))
	for _, n := range t.TableNumbers {
		tables = append(tables, fmt.Sprint(n))
	}
	where := "Mesa " + strings.Join(tables, "+")
	if len(tables) == 0 && t.ServiceType != "" {
		where = strings.ToUpper(t.ServiceType[:1]) + t.ServiceType[1:]
	}

	switch t.Kind {
	case notify.TicketComanda:
		items := 0
		for _, l := range models.ActiveLines(t.Lines) {
			items += l.Quantity
		}
		return fmt.Sprintf("[%s] %s: comanda for order %d, %d item(s)", timestamp, where, t.OrderID, items)
	case notify.TicketReceipt:
		return fmt.Sprintf("[%s] %s: receipt for order %d, total %s (%s)", timestamp, where, t.OrderID, t.Total, t.Status)
	default:
		return fmt.Sprintf("[%s] %s: %s for order %d", timestamp, where, t.Kind, t.OrderID)
	}
}
