package mesa

import (
	"context"
	"errors"
	"fmt"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

// AddItems appends lines to the tab of a table or group, opening the tab when needed.
// The whole transaction is retried on serialization failures and deadlocks.
func (s *Service) AddItems(ctx context.Context, actor models.Actor, req models.AddItemsRequest) (*AddItemsResult, error) {
	const op = "mesa.add_items"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var (
		t     *tab.Tab
		added []models.OrderLine
	)
	attempts, err := repository.Retry(ctx, s.maxRetries, func() error {
		added = nil
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			var err error
			t, added, err = s.addItems(ctx, tx, actor, req, op)
			return err
		})
	})
	if attempts > 1 {
		for i := 1; i < attempts; i++ {
			s.metrics.TxRetried("add_items")
		}
		s.logger.Warn("add_items_retried", "Transaction retried after a conflict", actor.RequestID, map[string]interface{}{
			"attempts": attempts,
			"tab":      req.TabRef.String(),
		})
	}
	if err != nil {
		return nil, err
	}

	s.metrics.LinesAdded(len(added))
	s.logger.Debug("items_added", fmt.Sprintf("Added %d lines to order %d", len(added), t.Order.ID), actor.RequestID, map[string]interface{}{
		"order_id": t.Order.ID,
		"total":    t.Order.Total.String(),
		"tables":   t.Numbers(),
	})

	event := tab.Event(models.EventItemsAdded, t, actor.StaffID)
	event.Lines = added
	s.events.Publish(ctx, event)

	return &AddItemsResult{Order: t.Order, Tables: t.Tables, Added: len(added)}, nil
}

func (s *Service) addItems(ctx context.Context, tx repository.Tx, actor models.Actor, req models.AddItemsRequest, op string) (*tab.Tab, []models.OrderLine, error) {
	t, err := tab.Lock(ctx, tx, actor.Venue, req.TabRef, op)
	if err != nil {
		return nil, nil, err
	}

	for _, table := range t.Tables {
		if err := guard.CheckTableTransition(op, table.Status, models.TableEnUso); err != nil {
			return nil, nil, err
		}
	}

	products, err := tab.ResolveProducts(ctx, tx, actor.Venue, req.Items, op)
	if err != nil {
		return nil, nil, err
	}

	if t.Order == nil {
		table := t.Table()
		tableID := table.ID
		order := &models.Order{
			Venue:         actor.Venue,
			Status:        models.BillingEnUso,
			KitchenStatus: models.KitchenRecibido,
			ServiceType:   models.ServiceMesa,
			TableID:       &tableID,
			StaffID:       actor.StaffID,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return nil, nil, fmt.Errorf("failed to open order on table %d: %w", table.Number, err)
		}
		t.Order = order
	} else if t.Order.Status != models.BillingEnUso {
		// a merged primary starts abierta; pendiente_cobro reopens when more is ordered
		if err := guard.CheckBillingTransition(op, t.Order.Status, models.BillingEnUso); err != nil {
			return nil, nil, apperr.Conflict(op, "order %d is %s", t.Order.ID, t.Order.Status)
		}
		t.Order.Status = models.BillingEnUso
	}

	orderID := t.Order.ID
	for _, table := range t.Tables {
		table.Status = models.TableEnUso
		table.ActiveOrderID = &orderID
	}

	added, err := tab.InsertLines(ctx, tx, orderID, req.Items, products)
	if err != nil {
		return nil, nil, err
	}

	if err := tab.Recompute(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	return t, added, nil
}

// RemoveOrCancelLine cancels one line of an open order and recomputes the tab
func (s *Service) RemoveOrCancelLine(ctx context.Context, actor models.Actor, lineID int64) (*models.Order, error) {
	const op = "mesa.cancel_line"
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var (
		t    *tab.Tab
		line *models.OrderLine
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		line, err = tx.GetLine(ctx, lineID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "line %d not found", lineID)
		}
		if err != nil {
			return fmt.Errorf("failed to read line %d: %w", lineID, err)
		}
		order, err := tx.GetOrder(ctx, line.OrderID)
		if err != nil {
			return fmt.Errorf("failed to read order %d: %w", line.OrderID, err)
		}
		if order.Venue != actor.Venue {
			return apperr.NotFound(op, "line %d not found", lineID)
		}
		if !order.Status.IsOpen() {
			return apperr.Conflict(op, "order %d is %s; its lines can no longer change", order.ID, order.Status)
		}

		if t, err = tab.LockForOrder(ctx, tx, actor.Venue, order, op); err != nil {
			return err
		}
		if t.Order == nil || t.Order.ID != line.OrderID || !t.Order.Status.IsOpen() {
			return apperr.Conflict(op, "order %d is no longer the open tab of %v", line.OrderID, t.Numbers())
		}

		if line, err = tx.GetLine(ctx, lineID); err != nil {
			return fmt.Errorf("failed to read line %d: %w", lineID, err)
		}
		if line.Status == models.LineCancelada {
			return apperr.Conflict(op, "line %d is already cancelled", lineID)
		}
		line.Status = models.LineCancelada
		if err := tx.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("failed to cancel line %d: %w", lineID, err)
		}
		return tab.Recompute(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("line_cancelled", fmt.Sprintf("Line %d cancelled", lineID), actor.RequestID, map[string]interface{}{
		"order_id": t.Order.ID,
		"total":    t.Order.Total.String(),
	})
	event := tab.Event(models.EventLineCancelled, t, actor.StaffID)
	event.Lines = []models.OrderLine{*line}
	s.events.Publish(ctx, event)
	return t.Order, nil
}

// AdvanceKitchen moves the kitchen machine; a paid order whose food is delivered becomes completada
func (s *Service) AdvanceKitchen(ctx context.Context, actor models.Actor, orderID int64, status models.KitchenStatus) (*models.Order, error) {
	const op = "mesa.advance_kitchen"
	if !guard.ValidKitchenStatus(status) {
		return nil, apperr.Validation(op, "unknown kitchen status %q", status)
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && order.Venue != actor.Venue) {
			return apperr.NotFound(op, "order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order %d: %w", orderID, err)
		}
		if err := guard.CheckKitchenTransition(op, order.KitchenStatus, status); err != nil {
			return err
		}
		order.KitchenStatus = status
		order.Status = guard.ComposeBilling(order.Status, status)
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	event := models.NewEvent(models.EventKitchenUpdated, order.Venue, order.ID, actor.StaffID)
	event.Status = string(order.KitchenStatus)
	event.Total = order.Total
	s.events.Publish(ctx, event)
	return order, nil
}

// GetOrder returns an order with all its lines
func (s *Service) GetOrder(ctx context.Context, venue models.Venue, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		var err error
		if order, err = r.GetOrder(ctx, orderID); err != nil {
			return err
		}
		order.Lines, err = r.ListLines(ctx, orderID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) || (err == nil && order.Venue != venue) {
		return nil, apperr.NotFound("mesa.get_order", "order %d not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order %d: %w", orderID, err)
	}
	return order, nil
}
