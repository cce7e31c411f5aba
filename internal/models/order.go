package models

import "time"

// ServiceType distinguishes table service from direct sales
type ServiceType string

const (
	ServiceMesa      ServiceType = "mesa"
	ServiceMostrador ServiceType = "mostrador"
	ServiceDelivery  ServiceType = "delivery"
)

// BillingStatus is the payment-side state of an order
type BillingStatus string

const (
	BillingAbierta        BillingStatus = "abierta"
	BillingEnUso          BillingStatus = "en_uso"
	BillingPendienteCobro BillingStatus = "pendiente_cobro"
	BillingPendiente      BillingStatus = "pendiente"
	BillingPagado         BillingStatus = "pagado"
	BillingCompletada     BillingStatus = "completada"
	BillingCancelada      BillingStatus = "cancelada"
	BillingFusionada      BillingStatus = "fusionada"
)

// IsOpen reports whether lines may still be added or cancelled
func (s BillingStatus) IsOpen() bool {
	switch s {
	case BillingAbierta, BillingEnUso, BillingPendienteCobro:
		return true
	}
	return false
}

// IsSettled reports whether payment was taken or deferred
func (s BillingStatus) IsSettled() bool {
	switch s {
	case BillingPendiente, BillingPagado, BillingCompletada:
		return true
	}
	return false
}

// KitchenStatus is the preparation-side state of an order
type KitchenStatus string

const (
	KitchenRecibido        KitchenStatus = "recibido"
	KitchenEnPreparacion   KitchenStatus = "en_preparacion"
	KitchenListoParaServir KitchenStatus = "listo_para_servir"
	KitchenEntregado       KitchenStatus = "entregado"
	KitchenCancelado       KitchenStatus = "cancelado"
)

type LineStatus string

const (
	LineActiva    LineStatus = "activa"
	LineCancelada LineStatus = "cancelada"
)

// Order is a tab opened against a table or a group
type Order struct {
	ID              int64         `json:"id"`
	Venue           Venue         `json:"venue"`
	Status          BillingStatus `json:"status"`
	KitchenStatus   KitchenStatus `json:"kitchen_status"`
	ServiceType     ServiceType   `json:"service_type"`
	TableID         *int64        `json:"table_id,omitempty"`
	GroupID         *int64        `json:"group_id,omitempty"`
	StaffID         int64         `json:"staff_id"`
	Total           Money         `json:"total"`
	PaymentMethodID *int64        `json:"payment_method_id,omitempty"`
	OpenedAt        time.Time     `json:"opened_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	SettledAt       *time.Time    `json:"settled_at,omitempty"`
	SettledBy       *int64        `json:"settled_by,omitempty"`
	Lines           []OrderLine   `json:"lines,omitempty"`
}

// OrderLine is one ordered item within an order
type OrderLine struct {
	ID          int64      `json:"id"`
	OrderID     int64      `json:"order_id"`
	ProductID   int64      `json:"product_id"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity"`
	UnitPrice   Money      `json:"unit_price"`
	Notes       string     `json:"notes,omitempty"`
	Status      LineStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (l OrderLine) Subtotal() Money {
	return l.UnitPrice.Times(l.Quantity)
}

// SumLines re-sums quantity x unit_price over non-cancelled lines
func SumLines(lines []OrderLine) Money {
	var total Money
	for _, l := range lines {
		if l.Status == LineCancelada {
			continue
		}
		total += l.Subtotal()
	}
	return total
}

// ActiveLines returns the non-cancelled lines
func ActiveLines(lines []OrderLine) []OrderLine {
	active := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		if l.Status != LineCancelada {
			active = append(active, l)
		}
	}
	return active
}

// QuantitiesByProduct aggregates active line quantities per product
func QuantitiesByProduct(lines []OrderLine) map[int64]int64 {
	q := make(map[int64]int64)
	for _, l := range lines {
		if l.Status == LineCancelada {
			continue
		}
		q[l.ProductID] += int64(l.Quantity)
	}
	return q
}
