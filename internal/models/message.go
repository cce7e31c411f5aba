package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a committed change that downstream consumers care about
type EventType string

const (
	EventTableOpened    EventType = "table_opened"
	EventItemsAdded     EventType = "items_added"
	EventLineCancelled  EventType = "line_cancelled"
	EventBillRequested  EventType = "bill_requested"
	EventTableReleased  EventType = "table_released"
	EventTablesMerged   EventType = "tables_merged"
	EventGroupSplit     EventType = "group_split"
	EventKitchenUpdated EventType = "kitchen_updated"
	EventOrderSettled   EventType = "order_settled"
	EventPaymentTaken   EventType = "payment_collected"
)

// Event is published after a transaction commits
type Event struct {
	ID              string      `json:"id"`
	Type            EventType   `json:"type"`
	Venue           Venue       `json:"venue"`
	OrderID         int64       `json:"order_id,omitempty"`
	GroupID         *int64      `json:"group_id,omitempty"`
	TableNumbers    []int       `json:"table_numbers,omitempty"`
	ServiceType     ServiceType `json:"service_type,omitempty"`
	StaffID         int64       `json:"staff_id"`
	Total           Money       `json:"total"`
	Status          string      `json:"status,omitempty"`
	Lines           []OrderLine `json:"lines,omitempty"`
	PaymentMethodID *int64      `json:"payment_method_id,omitempty"`
	RequestID       string      `json:"request_id,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// NewEvent stamps a fresh id and time
func NewEvent(eventType EventType, venue Venue, orderID, staffID int64) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Venue:      venue,
		OrderID:    orderID,
		StaffID:    staffID,
		OccurredAt: time.Now().UTC(),
	}
}

// RoutingKey generates the topic routing key, e.g. "pos.1.2.items_added"
func (e *Event) RoutingKey() string {
	return fmt.Sprintf("pos.%d.%d.%s", e.Venue.RestaurantID, e.Venue.BranchID, e.Type)
}

// IsKitchenTicket reports whether the event should print a comanda
func (e *Event) IsKitchenTicket() bool {
	return e.Type == EventItemsAdded || e.Type == EventLineCancelled
}
