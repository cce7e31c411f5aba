// Package tab resolves a table or group reference to the rows that make up an
// open tab and keeps their totals consistent. Every mutating service goes
// through Lock so row locks are always taken group first, then tables in
// ascending id order.
package tab

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

// Tab is a table or group together with its active order
type Tab struct {
	Group  *models.Group
	Tables []*models.Table
	Order  *models.Order
}

// Table returns the single table of an ungrouped tab
func (t *Tab) Table() *models.Table {
	if t.Group != nil || len(t.Tables) == 0 {
		return nil
	}
	return t.Tables[0]
}

func (t *Tab) Numbers() []int {
	out := make([]int, 0, len(t.Tables))
	for _, tb := range t.Tables {
		out = append(out, tb.Number)
	}
	sort.Ints(out)
	return out
}

// Lowest returns the lowest table number, used in error messages
func (t *Tab) Lowest() int {
	nums := t.Numbers()
	if len(nums) == 0 {
		return 0
	}
	return nums[0]
}

func (t *Tab) HasOrder() bool {
	return t.Order != nil
}

// Lock resolves ref under row locks
func Lock(ctx context.Context, tx repository.Tx, venue models.Venue, ref models.TabRef, op string) (*Tab, error) {
	if ref.GroupID != nil {
		return lockGroup(ctx, tx, venue, *ref.GroupID, op)
	}
	table, err := tx.GetTableByNumber(ctx, venue, *ref.TableNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(op, "table %d not found", *ref.TableNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table %d: %w", *ref.TableNumber, err)
	}
	return lockFromTable(ctx, tx, table, op)
}

// LockByTableID is Lock for callers that only know the table id
func LockByTableID(ctx context.Context, tx repository.Tx, venue models.Venue, tableID int64, op string) (*Tab, error) {
	table, err := tx.GetTableByID(ctx, tableID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && table.Venue != venue) {
		return nil, apperr.NotFound(op, "table %d not found", tableID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table %d: %w", tableID, err)
	}
	return lockFromTable(ctx, tx, table, op)
}

// LockForOrder locks the tab the order is bound to
func LockForOrder(ctx context.Context, tx repository.Tx, venue models.Venue, order *models.Order, op string) (*Tab, error) {
	switch {
	case order.GroupID != nil:
		return lockGroup(ctx, tx, venue, *order.GroupID, op)
	case order.TableID != nil:
		return LockByTableID(ctx, tx, venue, *order.TableID, op)
	default:
		return nil, apperr.Validation(op, "order %d is not bound to a table", order.ID)
	}
}

func lockFromTable(ctx context.Context, tx repository.Tx, unlocked *models.Table, op string) (*Tab, error) {
	if unlocked.GroupID != nil {
		t, err := lockGroup(ctx, tx, unlocked.Venue, *unlocked.GroupID, op)
		if errors.Is(err, apperr.ErrConflict) {
			// split, ungrouped or settled after the table was read
			return nil, fmt.Errorf("group %d of table %d closed: %w", *unlocked.GroupID, unlocked.Number, repository.ErrRetryable)
		}
		if err != nil {
			return nil, err
		}
		// the table may have left the group before the lock was granted
		for _, tb := range t.Tables {
			if tb.ID == unlocked.ID {
				return t, nil
			}
		}
		return nil, fmt.Errorf("table %d left group %d: %w", unlocked.Number, *unlocked.GroupID, repository.ErrRetryable)
	}

	table, err := tx.LockTableByID(ctx, unlocked.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock table %d: %w", unlocked.Number, err)
	}
	if table.GroupID != nil {
		return nil, fmt.Errorf("table %d joined a group: %w", table.Number, repository.ErrRetryable)
	}

	t := &Tab{Tables: []*models.Table{table}}
	if table.ActiveOrderID != nil {
		order, err := tx.LockOrder(ctx, *table.ActiveOrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock order %d: %w", *table.ActiveOrderID, err)
		}
		t.Order = order
	}
	return t, nil
}

func lockGroup(ctx context.Context, tx repository.Tx, venue models.Venue, groupID int64, op string) (*Tab, error) {
	group, err := tx.LockGroup(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && group.Venue != venue) {
		return nil, apperr.NotFound(op, "group %d not found", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock group %d: %w", groupID, err)
	}
	if group.Status != models.GroupAbierto {
		return nil, apperr.Conflict(op, "group %d is closed", groupID)
	}

	ids := append([]int64(nil), group.TableIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	t := &Tab{Group: group}
	for _, id := range ids {
		table, err := tx.LockTableByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock table %d: %w", id, err)
		}
		t.Tables = append(t.Tables, table)
	}

	order, err := tx.LockOrder(ctx, group.PrimaryOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", group.PrimaryOrderID, err)
	}
	t.Order = order
	return t, nil
}

// Read resolves ref against a snapshot without locking
func Read(ctx context.Context, r repository.Reader, venue models.Venue, ref models.TabRef, op string) (*Tab, error) {
	var group *models.Group
	if ref.GroupID != nil {
		g, err := r.GetGroup(ctx, *ref.GroupID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && g.Venue != venue) {
			return nil, apperr.NotFound(op, "group %d not found", *ref.GroupID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read group %d: %w", *ref.GroupID, err)
		}
		group = g
	} else {
		table, err := r.GetTableByNumber(ctx, venue, *ref.TableNumber)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(op, "table %d not found", *ref.TableNumber)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read table %d: %w", *ref.TableNumber, err)
		}
		if table.GroupID == nil {
			t := &Tab{Tables: []*models.Table{table}}
			if table.ActiveOrderID != nil {
				if t.Order, err = r.GetOrder(ctx, *table.ActiveOrderID); err != nil {
					return nil, fmt.Errorf("failed to read order %d: %w", *table.ActiveOrderID, err)
				}
			}
			return t, nil
		}
		if group, err = r.GetGroup(ctx, *table.GroupID); err != nil {
			return nil, fmt.Errorf("failed to read group %d: %w", *table.GroupID, err)
		}
	}

	tables, err := r.ListTablesByGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables of group %d: %w", group.ID, err)
	}
	t := &Tab{Group: group}
	for i := range tables {
		t.Tables = append(t.Tables, &tables[i])
	}
	if group.Status == models.GroupAbierto {
		if t.Order, err = r.GetOrder(ctx, group.PrimaryOrderID); err != nil {
			return nil, fmt.Errorf("failed to read order %d: %w", group.PrimaryOrderID, err)
		}
	}
	return t, nil
}

// Recompute re-sums the order from its persisted lines and pushes the total
// onto every table of the tab
func Recompute(ctx context.Context, tx repository.Tx, t *Tab) error {
	if t.Order == nil {
		return nil
	}
	lines, err := tx.ListLines(ctx, t.Order.ID)
	if err != nil {
		return fmt.Errorf("failed to list lines of order %d: %w", t.Order.ID, err)
	}
	t.Order.Total = models.SumLines(lines)
	t.Order.Lines = lines
	if err := tx.UpdateOrder(ctx, t.Order); err != nil {
		return fmt.Errorf("failed to update order %d: %w", t.Order.ID, err)
	}
	for _, table := range t.Tables {
		table.AccumulatedTotal = t.Order.Total
		if err := tx.UpdateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to update table %d: %w", table.Number, err)
		}
	}
	return nil
}

// Event builds a notification describing the tab after a change
func Event(eventType models.EventType, t *Tab, staffID int64) *models.Event {
	var venue models.Venue
	if len(t.Tables) > 0 {
		venue = t.Tables[0].Venue
	}
	var orderID int64
	if t.Order != nil {
		orderID = t.Order.ID
		venue = t.Order.Venue
	}
	e := models.NewEvent(eventType, venue, orderID, staffID)
	e.TableNumbers = t.Numbers()
	if t.Group != nil {
		id := t.Group.ID
		e.GroupID = &id
	}
	if t.Order != nil {
		e.Total = t.Order.Total
		e.Status = string(t.Order.Status)
		e.PaymentMethodID = t.Order.PaymentMethodID
	}
	return e
}
