// Package grupo merges tables into one shared tab and splits it back.
package grupo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/notify"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

type Service struct {
	store   repository.Store
	gate    plan.Gate
	events  notify.Publisher
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewService(store repository.Store, gate plan.Gate, events notify.Publisher, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		gate:    gate,
		events:  events,
		metrics: m,
		logger:  log,
	}
}

// SplitResult lists the orders and tables that came out of a closed group
type SplitResult struct {
	Group  *models.Group        `json:"group"`
	Orders []*models.Order      `json:"orders"`
	Tables []*models.Table      `json:"tables"`
	Totals map[int]models.Money `json:"totals"`
}

// MergeTables binds two or more tables to one primary order
func (s *Service) MergeTables(ctx context.Context, actor models.Actor, req models.MergeTablesRequest) (*models.GroupView, error) {
	const op = "grupo.merge"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureGroups); err != nil {
		return nil, err
	}

	var (
		t        *tab.Tab
		absorbed []int64
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		t, absorbed, err = s.merge(ctx, tx, actor, req, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tables_merged", fmt.Sprintf("Tables %v merged into group %d", t.Numbers(), t.Group.ID), actor.RequestID, map[string]interface{}{
		"group_id":         t.Group.ID,
		"primary_order_id": t.Order.ID,
		"absorbed_orders":  absorbed,
		"total":            t.Order.Total.String(),
	})
	s.events.Publish(ctx, tab.Event(models.EventTablesMerged, t, actor.StaffID))
	return view(t), nil
}

func (s *Service) merge(ctx context.Context, tx repository.Tx, actor models.Actor, req models.MergeTablesRequest, op string) (*tab.Tab, []int64, error) {
	unlocked := make([]*models.Table, 0, len(req.TableNumbers))
	for _, n := range req.TableNumbers {
		table, err := tx.GetTableByNumber(ctx, actor.Venue, n)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.NotFound(op, "table %d not found", n)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read table %d: %w", n, err)
		}
		unlocked = append(unlocked, table)
	}
	sort.Slice(unlocked, func(i, j int) bool { return unlocked[i].ID < unlocked[j].ID })

	t := &tab.Tab{}
	for _, u := range unlocked {
		table, err := tx.LockTableByID(ctx, u.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock table %d: %w", u.Number, err)
		}
		if table.GroupID != nil {
			return nil, nil, apperr.Conflict(op, "table %d already belongs to group %d", table.Number, *table.GroupID).
				WithDetail("group_id", *table.GroupID)
		}
		if err := guard.CheckTableTransition(op, table.Status, models.TableEnUso); err != nil {
			return nil, nil, err
		}
		t.Tables = append(t.Tables, table)
	}

	// orders are locked after every table, in table id order
	orders := make(map[int64]*models.Order)
	var withLines []int64
	for _, table := range t.Tables {
		if table.ActiveOrderID == nil {
			continue
		}
		order, err := tx.LockOrder(ctx, *table.ActiveOrderID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock order %d: %w", *table.ActiveOrderID, err)
		}
		if !order.Status.IsOpen() {
			return nil, nil, apperr.Conflict(op, "table %d points at order %d which is %s", table.Number, order.ID, order.Status)
		}
		lines, err := tx.ListLines(ctx, order.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list lines of order %d: %w", order.ID, err)
		}
		order.Lines = lines
		orders[order.ID] = order
		if len(models.ActiveLines(lines)) > 0 {
			withLines = append(withLines, order.ID)
		}
	}

	primary, err := pickPrimary(op, t, orders, withLines, req.SurvivingOrderID)
	if err != nil {
		return nil, nil, err
	}

	tableIDs := make([]int64, 0, len(t.Tables))
	for _, table := range t.Tables {
		tableIDs = append(tableIDs, table.ID)
	}
	group := &models.Group{
		Venue:    actor.Venue,
		StaffID:  actor.StaffID,
		Status:   models.GroupAbierto,
		TableIDs: tableIDs,
	}
	if primary != nil {
		group.PrimaryOrderID = primary.ID
	}
	if err := tx.InsertGroup(ctx, group); err != nil {
		return nil, nil, fmt.Errorf("failed to create group: %w", err)
	}
	groupID := group.ID
	t.Group = group

	if primary == nil {
		primary = &models.Order{
			Venue:         actor.Venue,
			Status:        models.BillingAbierta,
			KitchenStatus: models.KitchenRecibido,
			ServiceType:   models.ServiceMesa,
			GroupID:       &groupID,
			StaffID:       actor.StaffID,
		}
		if err := tx.InsertOrder(ctx, primary); err != nil {
			return nil, nil, fmt.Errorf("failed to open order for group %d: %w", groupID, err)
		}
		group.PrimaryOrderID = primary.ID
		if err := tx.UpdateGroup(ctx, group); err != nil {
			return nil, nil, fmt.Errorf("failed to update group %d: %w", groupID, err)
		}
	} else {
		primary.TableID = nil
		primary.GroupID = &groupID
		if primary.Status == models.BillingPendienteCobro {
			primary.Status = models.BillingEnUso
		}
		if err := tx.UpdateOrder(ctx, primary); err != nil {
			return nil, nil, fmt.Errorf("failed to bind order %d to group %d: %w", primary.ID, groupID, err)
		}
	}
	t.Order = primary

	// lines move before their order is closed
	var absorbed []int64
	for _, id := range sortedIDs(orders) {
		if id == primary.ID {
			continue
		}
		order := orders[id]
		for i := range order.Lines {
			line := order.Lines[i]
			line.OrderID = primary.ID
			if err := tx.UpdateLine(ctx, &line); err != nil {
				return nil, nil, fmt.Errorf("failed to move line %d: %w", line.ID, err)
			}
		}
		if err := guard.CheckBillingTransition(op, order.Status, models.BillingFusionada); err != nil {
			return nil, nil, err
		}
		order.Status = models.BillingFusionada
		order.Total = 0
		order.Lines = nil
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return nil, nil, fmt.Errorf("failed to close absorbed order %d: %w", order.ID, err)
		}
		absorbed = append(absorbed, order.ID)
	}

	primaryID := primary.ID
	for _, table := range t.Tables {
		table.Status = models.TableEnUso
		table.GroupID = &groupID
		table.ActiveOrderID = &primaryID
	}
	if err := tab.Recompute(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	return t, absorbed, nil
}

// pickPrimary returns the order that survives a merge, or nil when a fresh one is needed
func pickPrimary(op string, t *tab.Tab, orders map[int64]*models.Order, withLines []int64, surviving *int64) (*models.Order, error) {
	if surviving != nil {
		order, ok := orders[*surviving]
		if !ok {
			return nil, apperr.Validation(op, "order %d is not the active order of any merged table", *surviving).
				WithDetail("surviving_order_id", *surviving)
		}
		return order, nil
	}
	switch {
	case len(withLines) > 1:
		return nil, apperr.Conflict(op, "tables %v have %d orders with items; choose surviving_order_id", t.Numbers(), len(withLines)).
			WithDetail("order_ids", withLines)
	case len(withLines) == 1:
		return orders[withLines[0]], nil
	}
	// only empty tabs: keep the one on the lowest table id
	for _, table := range t.Tables {
		if table.ActiveOrderID != nil {
			return orders[*table.ActiveOrderID], nil
		}
	}
	return nil, nil
}

func sortedIDs(orders map[int64]*models.Order) []int64 {
	ids := make([]int64, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SplitGroup assigns every active line of the group tab to one member table and closes the group
func (s *Service) SplitGroup(ctx context.Context, actor models.Actor, groupID int64, req models.SplitGroupRequest) (*SplitResult, error) {
	const op = "grupo.split"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureGroups); err != nil {
		return nil, err
	}

	var result *SplitResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tab.Lock(ctx, tx, actor.Venue, models.GroupRef(groupID), op)
		if err != nil {
			return err
		}
		result, err = s.split(ctx, tx, actor, t, req.Assignments, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterSplit(ctx, actor, result)
	return result, nil
}

// Ungroup closes the group and keeps the whole tab on one member table
func (s *Service) Ungroup(ctx context.Context, actor models.Actor, groupID int64, req models.UngroupRequest) (*SplitResult, error) {
	const op = "grupo.ungroup"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureGroups); err != nil {
		return nil, err
	}

	var result *SplitResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tab.Lock(ctx, tx, actor.Venue, models.GroupRef(groupID), op)
		if err != nil {
			return err
		}
		target := req.TableNumber
		if target == 0 {
			target = t.Lowest()
		}
		lines, err := tx.ListLines(ctx, t.Order.ID)
		if err != nil {
			return fmt.Errorf("failed to list lines of order %d: %w", t.Order.ID, err)
		}
		ids := make([]int64, 0, len(lines))
		for _, l := range models.ActiveLines(lines) {
			ids = append(ids, l.ID)
		}
		result, err = s.split(ctx, tx, actor, t, map[int][]int64{target: ids}, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterSplit(ctx, actor, result)
	return result, nil
}

func (s *Service) afterSplit(ctx context.Context, actor models.Actor, result *SplitResult) {
	numbers := make([]int, 0, len(result.Tables))
	for _, table := range result.Tables {
		numbers = append(numbers, table.Number)
	}
	s.logger.Info("group_split", fmt.Sprintf("Group %d split into %d orders", result.Group.ID, len(result.Orders)), actor.RequestID, map[string]interface{}{
		"group_id": result.Group.ID,
		"tables":   numbers,
	})

	groupID := result.Group.ID
	event := models.NewEvent(models.EventGroupSplit, result.Group.Venue, result.Group.PrimaryOrderID, actor.StaffID)
	event.GroupID = &groupID
	event.TableNumbers = numbers
	for _, o := range result.Orders {
		event.Total += o.Total
	}
	s.events.Publish(ctx, event)
}

func (s *Service) split(ctx context.Context, tx repository.Tx, actor models.Actor, t *tab.Tab, assignments map[int][]int64, op string) (*SplitResult, error) {
	members := make(map[int]*models.Table, len(t.Tables))
	for _, table := range t.Tables {
		members[table.Number] = table
	}

	lines, err := tx.ListLines(ctx, t.Order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines of order %d: %w", t.Order.ID, err)
	}
	active := make(map[int64]models.OrderLine)
	for _, l := range models.ActiveLines(lines) {
		active[l.ID] = l
	}

	assigned := make(map[int64]int)
	var owners []int
	for number, ids := range assignments {
		if _, ok := members[number]; !ok {
			return nil, apperr.Validation(op, "table %d is not a member of group %d", number, t.Group.ID).
				WithDetail("table_number", number)
		}
		for _, id := range ids {
			if _, ok := active[id]; !ok {
				return nil, apperr.Validation(op, "line %d is not an active line of group %d", id, t.Group.ID).
					WithDetail("line_id", id)
			}
			if prev, dup := assigned[id]; dup {
				return nil, apperr.Validation(op, "line %d assigned to both table %d and table %d", id, prev, number)
			}
			assigned[id] = number
		}
		if len(ids) > 0 {
			owners = append(owners, number)
		}
	}
	var missing []int64
	for id := range active {
		if _, ok := assigned[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, apperr.Validation(op, "%d active lines are not assigned to any table", len(missing)).
			WithDetail("line_ids", missing)
	}
	sort.Ints(owners)

	primary := t.Order
	orderOf := make(map[int]*models.Order, len(owners))
	for i, number := range owners {
		if i == 0 {
			orderOf[number] = primary
			continue
		}
		tableID := members[number].ID
		order := &models.Order{
			Venue:         primary.Venue,
			Status:        models.BillingEnUso,
			KitchenStatus: primary.KitchenStatus,
			ServiceType:   models.ServiceMesa,
			TableID:       &tableID,
			StaffID:       actor.StaffID,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("failed to open order for table %d: %w", number, err)
		}
		orderOf[number] = order

		for _, id := range assignments[number] {
			line := active[id]
			line.OrderID = order.ID
			if err := tx.UpdateLine(ctx, &line); err != nil {
				return nil, fmt.Errorf("failed to move line %d: %w", id, err)
			}
		}
	}

	if len(owners) > 0 {
		keeperID := members[owners[0]].ID
		primary.GroupID = nil
		primary.TableID = &keeperID
		if err := guard.CheckBillingTransition(op, primary.Status, models.BillingEnUso); err != nil {
			return nil, err
		}
		primary.Status = models.BillingEnUso
	} else {
		// nothing left to bill
		primary.Status = models.BillingCancelada
		if guard.CanMoveKitchen(primary.KitchenStatus, models.KitchenCancelado) {
			primary.KitchenStatus = models.KitchenCancelado
		}
	}
	if err := tx.UpdateOrder(ctx, primary); err != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", primary.ID, err)
	}

	now := time.Now().UTC()
	group := t.Group
	group.Status = models.GroupCerrado
	group.ClosedAt = &now
	if err := tx.UpdateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to close group %d: %w", group.ID, err)
	}

	result := &SplitResult{Group: group, Totals: make(map[int]models.Money, len(t.Tables))}
	for _, table := range t.Tables {
		order, ok := orderOf[table.Number]
		if !ok {
			table.Release()
			if err := tx.UpdateTable(ctx, table); err != nil {
				return nil, fmt.Errorf("failed to release table %d: %w", table.Number, err)
			}
			result.Tables = append(result.Tables, table)
			result.Totals[table.Number] = 0
			continue
		}

		orderID := order.ID
		table.GroupID = nil
		table.ActiveOrderID = &orderID
		table.Status = models.TableEnUso
		single := &tab.Tab{Tables: []*models.Table{table}, Order: order}
		if err := tab.Recompute(ctx, tx, single); err != nil {
			return nil, err
		}
		result.Tables = append(result.Tables, table)
		result.Orders = append(result.Orders, order)
		result.Totals[table.Number] = order.Total
	}
	return result, nil
}

// AddTableToGroup seats another table on the group tab. The table must not carry items of its own.
func (s *Service) AddTableToGroup(ctx context.Context, actor models.Actor, groupID int64, req models.GroupTableRequest) (*models.GroupView, error) {
	const op = "grupo.add_table"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureGroups); err != nil {
		return nil, err
	}

	var t *tab.Tab
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if t, err = tab.Lock(ctx, tx, actor.Venue, models.GroupRef(groupID), op); err != nil {
			return err
		}
		if len(t.Group.TableIDs) >= models.MaxTablesPerGroup {
			return apperr.Conflict(op, "group %d already has %d tables", groupID, len(t.Group.TableIDs))
		}

		table, err := tx.LockTable(ctx, actor.Venue, req.Number)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "table %d not found", req.Number)
		}
		if err != nil {
			return fmt.Errorf("failed to lock table %d: %w", req.Number, err)
		}
		if table.GroupID != nil {
			return apperr.Conflict(op, "table %d already belongs to group %d", req.Number, *table.GroupID)
		}
		if err := guard.CheckTableTransition(op, table.Status, models.TableEnUso); err != nil {
			return err
		}

		if table.ActiveOrderID != nil {
			own, err := tx.LockOrder(ctx, *table.ActiveOrderID)
			if err != nil {
				return fmt.Errorf("failed to lock order %d: %w", *table.ActiveOrderID, err)
			}
			lines, err := tx.ListLines(ctx, own.ID)
			if err != nil {
				return fmt.Errorf("failed to list lines of order %d: %w", own.ID, err)
			}
			if n := len(models.ActiveLines(lines)); n > 0 {
				return apperr.Conflict(op, "table %d has %d items on its own tab; merge the tables instead", req.Number, n).
					WithDetail("order_id", own.ID)
			}
			own.Status = models.BillingCancelada
			if guard.CanMoveKitchen(own.KitchenStatus, models.KitchenCancelado) {
				own.KitchenStatus = models.KitchenCancelado
			}
			if err := tx.UpdateOrder(ctx, own); err != nil {
				return fmt.Errorf("failed to cancel order %d: %w", own.ID, err)
			}
		}

		t.Group.TableIDs = append(t.Group.TableIDs, table.ID)
		if err := tx.UpdateGroup(ctx, t.Group); err != nil {
			return fmt.Errorf("failed to update group %d: %w", groupID, err)
		}

		orderID := t.Order.ID
		table.Status = models.TableEnUso
		table.GroupID = &groupID
		table.ActiveOrderID = &orderID
		table.AccumulatedTotal = t.Order.Total
		if err := tx.UpdateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to update table %d: %w", req.Number, err)
		}
		t.Tables = append(t.Tables, table)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group_table_added", fmt.Sprintf("Table %d joined group %d", req.Number, groupID), actor.RequestID, nil)
	return view(t), nil
}

// RemoveTableFromGroup frees one member; the tab stays with the remaining tables
func (s *Service) RemoveTableFromGroup(ctx context.Context, actor models.Actor, groupID int64, req models.GroupTableRequest) (*models.GroupView, error) {
	const op = "grupo.remove_table"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureGroups); err != nil {
		return nil, err
	}

	var t *tab.Tab
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if t, err = tab.Lock(ctx, tx, actor.Venue, models.GroupRef(groupID), op); err != nil {
			return err
		}

		var (
			leaving *models.Table
			staying []*models.Table
		)
		for _, table := range t.Tables {
			if table.Number == req.Number {
				leaving = table
			} else {
				staying = append(staying, table)
			}
		}
		if leaving == nil {
			return apperr.Validation(op, "table %d is not a member of group %d", req.Number, groupID)
		}
		if len(staying) < 2 {
			return apperr.Conflict(op, "group %d cannot drop below two tables; ungroup it instead", groupID)
		}

		ids := make([]int64, 0, len(staying))
		for _, table := range staying {
			ids = append(ids, table.ID)
		}
		t.Group.TableIDs = ids
		if err := tx.UpdateGroup(ctx, t.Group); err != nil {
			return fmt.Errorf("failed to update group %d: %w", groupID, err)
		}

		leaving.Release()
		if err := tx.UpdateTable(ctx, leaving); err != nil {
			return fmt.Errorf("failed to release table %d: %w", req.Number, err)
		}
		t.Tables = staying
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group_table_removed", fmt.Sprintf("Table %d left group %d", req.Number, groupID), actor.RequestID, nil)
	return view(t), nil
}

// GetGroup returns a group with its tables; closed groups list their former members
func (s *Service) GetGroup(ctx context.Context, venue models.Venue, groupID int64) (*models.GroupView, error) {
	const op = "grupo.get"
	var v *models.GroupView
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		group, err := r.GetGroup(ctx, groupID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && group.Venue != venue) {
			return apperr.NotFound(op, "group %d not found", groupID)
		}
		if err != nil {
			return fmt.Errorf("failed to read group %d: %w", groupID, err)
		}
		v, err = readView(ctx, r, group)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) ListActiveGroups(ctx context.Context, venue models.Venue) ([]models.GroupView, error) {
	out := []models.GroupView{}
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		groups, err := r.ListActiveGroups(ctx, venue)
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		for i := range groups {
			v, err := readView(ctx, r, &groups[i])
			if err != nil {
				return err
			}
			out = append(out, *v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readView(ctx context.Context, r repository.Reader, group *models.Group) (*models.GroupView, error) {
	v := &models.GroupView{Group: *group, Tables: []models.Table{}}
	for _, id := range group.TableIDs {
		table, err := r.GetTableByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read table %d: %w", id, err)
		}
		v.Tables = append(v.Tables, *table)
	}
	sort.Slice(v.Tables, func(i, j int) bool { return v.Tables[i].Number < v.Tables[j].Number })

	if group.Status == models.GroupAbierto {
		order, err := r.GetOrder(ctx, group.PrimaryOrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to read order %d: %w", group.PrimaryOrderID, err)
		}
		v.Total = order.Total
	}
	return v, nil
}

func view(t *tab.Tab) *models.GroupView {
	v := &models.GroupView{Group: *t.Group, Tables: make([]models.Table, 0, len(t.Tables))}
	for _, table := range t.Tables {
		v.Tables = append(v.Tables, *table)
	}
	sort.Slice(v.Tables, func(i, j int) bool { return v.Tables[i].Number < v.Tables[j].Number })
	if t.Order != nil {
		v.Total = t.Order.Total
	}
	return v
}
