package models

import "time"

// Product is a sellable catalog item of a restaurant
type Product struct {
	ID           int64  `json:"id"`
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Price        Money  `json:"price"`
	Active       bool   `json:"active"`
}

// PaymentMethod is a global, venue-independent payment channel
type PaymentMethod struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Staff is a waiter or cashier. BranchID 0 means every branch of the restaurant.
type Staff struct {
	ID           int64  `json:"id"`
	RestaurantID int64  `json:"restaurant_id"`
	BranchID     int64  `json:"branch_id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
}

// BelongsTo reports whether the staff member may act in v
func (s Staff) BelongsTo(v Venue) bool {
	if !s.Active || s.RestaurantID != v.RestaurantID {
		return false
	}
	return s.BranchID == 0 || s.BranchID == v.BranchID
}

type MovementReason string

const (
	MovementSale       MovementReason = "venta"
	MovementAdjustment MovementReason = "ajuste"
)

// InventoryMovement records one stock change on a branch
type InventoryMovement struct {
	ID        int64          `json:"id"`
	BranchID  int64          `json:"branch_id"`
	ProductID int64          `json:"product_id"`
	Delta     int64          `json:"delta"`
	Before    int64          `json:"before"`
	After     int64          `json:"after"`
	Reason    MovementReason `json:"reason"`
	OrderID   *int64         `json:"order_id,omitempty"`
	StaffID   int64          `json:"staff_id"`
	CreatedAt time.Time      `json:"created_at"`
}

// Invoice is the fiscal document issued on settlement when the customer asks for one
type Invoice struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	TaxID        string    `json:"nit"`
	BusinessName string    `json:"business_name"`
	Total        Money     `json:"total"`
	IssuedAt     time.Time `json:"issued_at"`
}

// IntegrityViolation is a rejected write kept for audit
type IntegrityViolation struct {
	Rule      string    `json:"rule"`
	Entity    string    `json:"entity"`
	EntityID  int64     `json:"entity_id"`
	Venue     Venue     `json:"venue"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
