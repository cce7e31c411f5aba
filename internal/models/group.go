package models

import "time"

type GroupStatus string

const (
	GroupAbierto GroupStatus = "abierto"
	GroupCerrado GroupStatus = "cerrado"
)

// Group merges two or more tables into one shared tab
type Group struct {
	ID             int64       `json:"id"`
	Venue          Venue       `json:"venue"`
	PrimaryOrderID int64       `json:"primary_order_id"`
	StaffID        int64       `json:"staff_id"`
	Status         GroupStatus `json:"status"`
	TableIDs       []int64     `json:"table_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
}

// HasTable reports whether tableID is a member
func (g *Group) HasTable(tableID int64) bool {
	for _, id := range g.TableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

// GroupView is a group joined with its member tables and primary order total
type GroupView struct {
	Group
	Tables []Table `json:"tables"`
	Total  Money   `json:"total"`
}
