package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/models"
)

// Ticket is the payload the print agent renders
type Ticket struct {
	Kind         string             `json:"kind"`
	EventID      string             `json:"event_id"`
	RestaurantID int64              `json:"restaurant_id"`
	BranchID     int64              `json:"branch_id"`
	OrderID      int64              `json:"order_id"`
	TableNumbers []int              `json:"table_numbers,omitempty"`
	ServiceType  string             `json:"service_type,omitempty"`
	Status       string             `json:"status,omitempty"`
	Total        models.Money       `json:"total"`
	Lines        []models.OrderLine `json:"lines,omitempty"`
	PrintedAt    time.Time          `json:"printed_at"`
}

const (
	TicketComanda = "comanda"
	TicketReceipt = "recibo"
)

// TicketFor maps an event onto a printable ticket; ok is false for events nothing prints
func TicketFor(event *models.Event) (Ticket, bool) {
	t := Ticket{
		EventID:      event.ID,
		RestaurantID: event.Venue.RestaurantID,
		BranchID:     event.Venue.BranchID,
		OrderID:      event.OrderID,
		TableNumbers: event.TableNumbers,
		ServiceType:  string(event.ServiceType),
		Status:       event.Status,
		Total:        event.Total,
		Lines:        event.Lines,
		PrintedAt:    time.Now().UTC(),
	}
	switch {
	case event.IsKitchenTicket():
		t.Kind = TicketComanda
	case event.Type == models.EventOrderSettled:
		t.Kind = TicketReceipt
	default:
		return Ticket{}, false
	}
	return t, true
}

// Webhook posts tickets to the local print agent
type Webhook struct {
	client *resty.Client
}

func NewWebhook(cfg config.PrintAgentConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Webhook{client: client}
}

func (w *Webhook) Notify(ctx context.Context, event *models.Event) error {
	ticket, ok := TicketFor(event)
	if !ok {
		return nil
	}
	return w.Print(ctx, ticket)
}

func (w *Webhook) Print(ctx context.Context, ticket Ticket) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", ticket.EventID).
		SetBody(ticket).
		Post("/tickets")
	if err != nil {
		return fmt.Errorf("failed to reach print agent: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("print agent rejected %s for order %d: %s", ticket.Kind, ticket.OrderID, resp.Status())
	}
	return nil
}
