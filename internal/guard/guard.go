// Package guard checks cross-entity invariants before any table, order,
// line or group write reaches the repository.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

// Rule names, also used as metric labels and integrity_logs.rule
const (
	RuleTableStatus     = "table_status"
	RuleTableTransition = "table_transition"
	RuleTableTotal      = "table_total"
	RuleTableRelease    = "table_release"
	RuleTableOrder      = "table_order"
	RuleTableGroup      = "table_group"
	RuleTableVenue      = "table_venue"
	RuleOrderStatus     = "order_status"
	RuleOrderTransition = "order_transition"
	RuleOrderReference  = "order_reference"
	RuleOrderVenue      = "order_venue"
	RuleOrderImmutable  = "order_immutable"
	RuleStaffVenue      = "staff_venue"
	RuleLineQuantity    = "line_quantity"
	RuleLinePrice       = "line_price"
	RuleLineStatus      = "line_status"
	RuleLineOrderClosed = "line_order_closed"
	RuleGroupStatus     = "group_status"
	RuleGroupMembers    = "group_members"
)

type Guard struct {
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(log *logger.Logger, m *metrics.Metrics) *Guard {
	return &Guard{log: log, metrics: m}
}

// Wrap returns a Store whose transactions validate every write before it is applied
func (g *Guard) Wrap(store repository.Store) repository.Store {
	return &guardedStore{Store: store, g: g}
}

type guardedStore struct {
	repository.Store
	g *Guard
}

func (s *guardedStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	err := s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(&guardedTx{Tx: tx})
	})
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindIntegrity {
		s.g.reject(ctx, s.Store, e)
	}
	return err
}

// reject runs after rollback so the audit row survives
func (g *Guard) reject(ctx context.Context, store repository.Store, e *apperr.Error) {
	v := models.IntegrityViolation{Message: e.Message, CreatedAt: time.Now().UTC()}
	v.Rule, _ = e.Details["rule"].(string)
	v.Entity, _ = e.Details["entity"].(string)
	v.EntityID, _ = e.Details["entity_id"].(int64)
	if venue, ok := e.Details["venue"].(models.Venue); ok {
		v.Venue = venue
	}

	g.metrics.IntegrityRejected(v.Rule)
	requestID := logger.RequestIDFromContext(ctx)
	g.log.Warn("integrity_rejected", e.Message, requestID, map[string]interface{}{
		"rule":      v.Rule,
		"entity":    v.Entity,
		"entity_id": v.EntityID,
	})

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := store.RecordViolation(recordCtx, v); err != nil {
		g.log.Error("integrity_log_failed", "Failed to record integrity violation", requestID, err, nil)
	}
}

func violation(rule, entity string, id int64, venue models.Venue, format string, args ...interface{}) error {
	return apperr.Integrity("integrity_guard", rule, format, args...).
		WithDetail("entity", entity).
		WithDetail("entity_id", id).
		WithDetail("venue", venue)
}

// guardedTx intercepts writes; reads and locks pass through
type guardedTx struct {
	repository.Tx
}

func (tx *guardedTx) InsertTable(ctx context.Context, t *models.Table) error {
	if err := tx.checkTable(ctx, nil, t); err != nil {
		return err
	}
	return tx.Tx.InsertTable(ctx, t)
}

func (tx *guardedTx) UpdateTable(ctx context.Context, t *models.Table) error {
	prev, err := tx.Tx.GetTableByID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("failed to load table %d: %w", t.ID, err)
	}
	if err := tx.checkTable(ctx, prev, t); err != nil {
		return err
	}
	return tx.Tx.UpdateTable(ctx, t)
}

func (tx *guardedTx) checkTable(ctx context.Context, prev, t *models.Table) error {
	if !ValidTableStatus(t.Status) {
		return violation(RuleTableStatus, "table", t.ID, t.Venue, "table status %q is not recognised", t.Status)
	}
	if t.AccumulatedTotal < 0 {
		return violation(RuleTableTotal, "table", t.ID, t.Venue, "table %d accumulated total is negative", t.Number)
	}
	if prev != nil {
		if prev.Venue != t.Venue {
			return violation(RuleTableVenue, "table", t.ID, t.Venue, "table %d cannot change venue", t.Number)
		}
		if !CanMoveTable(prev.Status, t.Status) {
			return violation(RuleTableTransition, "table", t.ID, t.Venue,
				"table %d cannot move from %s to %s", t.Number, prev.Status, t.Status)
		}
	}

	if t.Status == models.TableLibre {
		if t.ActiveOrderID != nil || t.GroupID != nil || t.AccumulatedTotal != 0 {
			return violation(RuleTableRelease, "table", t.ID, t.Venue,
				"table %d cannot be libre while it still references a tab", t.Number)
		}
		// a group member leaving keeps the shared tab with the rest of the group
		if prev != nil && prev.ActiveOrderID != nil && prev.GroupID == nil {
			open, err := tx.orderHasOpenLines(ctx, *prev.ActiveOrderID)
			if err != nil {
				return err
			}
			if open {
				return violation(RuleTableRelease, "table", t.ID, t.Venue,
					"table %d still owns order %d with unsettled lines", t.Number, *prev.ActiveOrderID)
			}
		}
	}

	if t.ActiveOrderID != nil {
		order, err := tx.Tx.GetOrder(ctx, *t.ActiveOrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return violation(RuleTableOrder, "table", t.ID, t.Venue, "table %d references missing order %d", t.Number, *t.ActiveOrderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order %d: %w", *t.ActiveOrderID, err)
		}
		if order.Venue != t.Venue {
			return violation(RuleTableOrder, "table", t.ID, t.Venue, "table %d references order %d of another venue", t.Number, order.ID)
		}
		if !order.Status.IsOpen() {
			return violation(RuleTableOrder, "table", t.ID, t.Venue, "table %d references closed order %d", t.Number, order.ID)
		}
	}

	if t.GroupID != nil {
		group, err := tx.Tx.GetGroup(ctx, *t.GroupID)
		if errors.Is(err, repository.ErrNotFound) {
			return violation(RuleTableGroup, "table", t.ID, t.Venue, "table %d references missing group %d", t.Number, *t.GroupID)
		}
		if err != nil {
			return fmt.Errorf("failed to load group %d: %w", *t.GroupID, err)
		}
		if group.Venue != t.Venue || group.Status != models.GroupAbierto {
			return violation(RuleTableGroup, "table", t.ID, t.Venue, "table %d references group %d that is closed or foreign", t.Number, group.ID)
		}
	}
	return nil
}

func (tx *guardedTx) orderHasOpenLines(ctx context.Context, orderID int64) (bool, error) {
	order, err := tx.Tx.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if !order.Status.IsOpen() {
		return false, nil
	}
	lines, err := tx.Tx.ListLines(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to load lines of order %d: %w", orderID, err)
	}
	return len(models.ActiveLines(lines)) > 0, nil
}

func (tx *guardedTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := tx.checkOrder(ctx, nil, o); err != nil {
		return err
	}
	return tx.Tx.InsertOrder(ctx, o)
}

func (tx *guardedTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	prev, err := tx.Tx.GetOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", o.ID, err)
	}
	if err := tx.checkOrder(ctx, prev, o); err != nil {
		return err
	}
	return tx.Tx.UpdateOrder(ctx, o)
}

func (tx *guardedTx) checkOrder(ctx context.Context, prev, o *models.Order) error {
	if !ValidBillingStatus(o.Status) || !ValidKitchenStatus(o.KitchenStatus) {
		return violation(RuleOrderStatus, "order", o.ID, o.Venue,
			"order status %q/%q is outside the closed set", o.Status, o.KitchenStatus)
	}

	switch o.ServiceType {
	case models.ServiceMesa:
		if (o.TableID == nil) == (o.GroupID == nil) {
			return violation(RuleOrderReference, "order", o.ID, o.Venue,
				"table-service order must reference exactly one table or group")
		}
	case models.ServiceMostrador, models.ServiceDelivery:
		if o.TableID != nil || o.GroupID != nil {
			return violation(RuleOrderReference, "order", o.ID, o.Venue,
				"%s order cannot reference a table or group", o.ServiceType)
		}
	default:
		return violation(RuleOrderReference, "order", o.ID, o.Venue, "unknown service type %q", o.ServiceType)
	}

	if prev != nil {
		if prev.Venue != o.Venue {
			return violation(RuleOrderVenue, "order", o.ID, o.Venue, "order %d cannot change venue", o.ID)
		}
		if !CanMoveBilling(prev.Status, o.Status) || !CanMoveKitchen(prev.KitchenStatus, o.KitchenStatus) {
			return violation(RuleOrderTransition, "order", o.ID, o.Venue,
				"order %d cannot move from %s/%s to %s/%s", o.ID, prev.Status, prev.KitchenStatus, o.Status, o.KitchenStatus)
		}
		if !prev.Status.IsOpen() && prev.Total != o.Total {
			return violation(RuleOrderImmutable, "order", o.ID, o.Venue, "order %d is settled and cannot change its total", o.ID)
		}
	}

	if o.TableID != nil && (prev == nil || !sameRef(prev.TableID, o.TableID)) {
		table, err := tx.Tx.GetTableByID(ctx, *o.TableID)
		if errors.Is(err, repository.ErrNotFound) {
			return violation(RuleOrderVenue, "order", o.ID, o.Venue, "order references missing table %d", *o.TableID)
		}
		if err != nil {
			return fmt.Errorf("failed to load table %d: %w", *o.TableID, err)
		}
		if table.Venue != o.Venue {
			return violation(RuleOrderVenue, "order", o.ID, o.Venue, "order references table %d of another venue or branch", table.Number)
		}
	}

	if o.GroupID != nil && (prev == nil || !sameRef(prev.GroupID, o.GroupID)) {
		group, err := tx.Tx.GetGroup(ctx, *o.GroupID)
		if errors.Is(err, repository.ErrNotFound) {
			return violation(RuleOrderVenue, "order", o.ID, o.Venue, "order references missing group %d", *o.GroupID)
		}
		if err != nil {
			return fmt.Errorf("failed to load group %d: %w", *o.GroupID, err)
		}
		if group.Venue != o.Venue {
			return violation(RuleOrderVenue, "order", o.ID, o.Venue, "order references group %d of another venue", group.ID)
		}
	}

	if err := tx.checkStaff(ctx, o.StaffID, o); err != nil {
		return err
	}
	if o.SettledBy != nil && (prev == nil || !sameRef(prev.SettledBy, o.SettledBy)) {
		if err := tx.checkStaff(ctx, *o.SettledBy, o); err != nil {
			return err
		}
	}
	return nil
}

func (tx *guardedTx) checkStaff(ctx context.Context, staffID int64, o *models.Order) error {
	staff, err := tx.Tx.GetStaff(ctx, staffID)
	if errors.Is(err, repository.ErrNotFound) {
		return violation(RuleStaffVenue, "order", o.ID, o.Venue, "staff member %d does not exist", staffID)
	}
	if err != nil {
		return fmt.Errorf("failed to load staff %d: %w", staffID, err)
	}
	if !staff.BelongsTo(o.Venue) {
		return violation(RuleStaffVenue, "order", o.ID, o.Venue,
			"staff member %d does not belong to restaurant %d branch %d", staffID, o.Venue.RestaurantID, o.Venue.BranchID)
	}
	return nil
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (tx *guardedTx) InsertLine(ctx context.Context, l *models.OrderLine) error {
	if err := tx.checkLine(ctx, l.OrderID, l); err != nil {
		return err
	}
	return tx.Tx.InsertLine(ctx, l)
}

func (tx *guardedTx) UpdateLine(ctx context.Context, l *models.OrderLine) error {
	prev, err := tx.Tx.GetLine(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("failed to load line %d: %w", l.ID, err)
	}
	if prev.OrderID != l.OrderID {
		if err := tx.checkLine(ctx, prev.OrderID, l); err != nil {
			return err
		}
	}
	if err := tx.checkLine(ctx, l.OrderID, l); err != nil {
		return err
	}
	return tx.Tx.UpdateLine(ctx, l)
}

func (tx *guardedTx) checkLine(ctx context.Context, orderID int64, l *models.OrderLine) error {
	order, err := tx.Tx.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return violation(RuleLineOrderClosed, "order_line", l.ID, models.Venue{}, "line references missing order %d", orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if l.Quantity <= 0 {
		return violation(RuleLineQuantity, "order_line", l.ID, order.Venue, "quantity must be positive, got %d", l.Quantity)
	}
	if l.UnitPrice < 0 {
		return violation(RuleLinePrice, "order_line", l.ID, order.Venue, "unit price must not be negative")
	}
	if l.Status != models.LineActiva && l.Status != models.LineCancelada {
		return violation(RuleLineStatus, "order_line", l.ID, order.Venue, "line status %q is not recognised", l.Status)
	}
	if !order.Status.IsOpen() {
		return violation(RuleLineOrderClosed, "order_line", l.ID, order.Venue,
			"order %d is %s; its lines are immutable", order.ID, order.Status)
	}
	return nil
}

func (tx *guardedTx) InsertGroup(ctx context.Context, g *models.Group) error {
	if err := tx.checkGroup(ctx, g); err != nil {
		return err
	}
	return tx.Tx.InsertGroup(ctx, g)
}

func (tx *guardedTx) UpdateGroup(ctx context.Context, g *models.Group) error {
	if err := tx.checkGroup(ctx, g); err != nil {
		return err
	}
	return tx.Tx.UpdateGroup(ctx, g)
}

func (tx *guardedTx) checkGroup(ctx context.Context, g *models.Group) error {
	if g.Status != models.GroupAbierto && g.Status != models.GroupCerrado {
		return violation(RuleGroupStatus, "group", g.ID, g.Venue, "group status %q is not recognised", g.Status)
	}
	if g.Status == models.GroupAbierto && len(g.TableIDs) < 2 {
		return violation(RuleGroupMembers, "group", g.ID, g.Venue, "an open group needs at least two tables")
	}
	for _, id := range g.TableIDs {
		table, err := tx.Tx.GetTableByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return violation(RuleGroupMembers, "group", g.ID, g.Venue, "group references missing table %d", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load table %d: %w", id, err)
		}
		if table.Venue != g.Venue {
			return violation(RuleGroupMembers, "group", g.ID, g.Venue, "table %d belongs to another venue", table.Number)
		}
	}
	return nil
}
