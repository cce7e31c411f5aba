package models

import "time"

// TableStatus is the lifecycle state of a physical table
type TableStatus string

const (
	TableLibre          TableStatus = "libre"
	TableEnUso          TableStatus = "en_uso"
	TablePendienteCobro TableStatus = "pendiente_cobro"
	TableReservada      TableStatus = "reservada"
	TableMantenimiento  TableStatus = "mantenimiento"
)

// Occupied reports whether the table is serving guests
func (s TableStatus) Occupied() bool {
	return s == TableEnUso || s == TablePendienteCobro
}

// Venue scopes every table and order to a restaurant branch
type Venue struct {
	RestaurantID int64 `json:"restaurant_id"`
	BranchID     int64 `json:"branch_id"`
}

// Table represents a physical seating unit
type Table struct {
	ID               int64       `json:"id"`
	Venue            Venue       `json:"venue"`
	Number           int         `json:"number"`
	Capacity         int         `json:"capacity"`
	Status           TableStatus `json:"status"`
	AccumulatedTotal Money       `json:"accumulated_total"`
	ActiveOrderID    *int64      `json:"active_order_id,omitempty"`
	GroupID          *int64      `json:"group_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Release clears the tab-related fields and frees the table
func (t *Table) Release() {
	t.Status = TableLibre
	t.AccumulatedTotal = 0
	t.ActiveOrderID = nil
	t.GroupID = nil
}

// TableStats counts tables per status for a venue
type TableStats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	OccupiedTotal Money          `json:"occupied_total"`
	GroupedTables int            `json:"grouped_tables"`
}

const DefaultTableCapacity = 4
