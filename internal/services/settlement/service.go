// Package settlement closes a tab: it takes payment, deducts inventory, issues
// the optional invoice and frees the tables in one transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/inventory"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/notify"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

// PaymentMethods resolves an active payment method by id
type PaymentMethods interface {
	Resolve(ctx context.Context, id int64) (*models.PaymentMethod, error)
}

type Service struct {
	store    repository.Store
	gate     plan.Gate
	payments PaymentMethods
	ledger   *inventory.Ledger
	events   notify.Publisher
	metrics  *metrics.Metrics
	logger   *logger.Logger
	timeout  time.Duration
}

func NewService(store repository.Store, gate plan.Gate, payments PaymentMethods, ledger *inventory.Ledger,
	events notify.Publisher, m *metrics.Metrics, log *logger.Logger, cfg config.BillingConfig) *Service {
	return &Service{
		store:    store,
		gate:     gate,
		payments: payments,
		ledger:   ledger,
		events:   events,
		metrics:  m,
		logger:   log,
		timeout:  cfg.SettleTimeout,
	}
}

// Receipt is the closed order together with everything the settlement produced
type Receipt struct {
	Order         *models.Order              `json:"order"`
	Tables        []*models.Table            `json:"tables"`
	PaymentMethod *models.PaymentMethod      `json:"payment_method"`
	Movements     []models.InventoryMovement `json:"inventory_movements"`
	Invoice       *models.Invoice            `json:"invoice,omitempty"`
}

// Settle charges the open tab of a table or group. Either every effect commits or none does.
func (s *Service) Settle(ctx context.Context, actor models.Actor, req models.SettleRequest) (*Receipt, error) {
	const op = "settlement.settle"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	method, err := s.payments.Resolve(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}
	if req.Options.Invoice != nil {
		if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureInvoices); err != nil {
			return nil, err
		}
	}

	pre, err := s.preRead(ctx, actor, req.TabRef, op)
	if err != nil {
		return nil, err
	}

	txCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	orderID := pre.Order.ID
	var (
		receipt *Receipt
		t       *tab.Tab
	)
	// a group closed under a member ref re-reads the tab once
	_, err = repository.Retry(ctx, 1, func() error {
		if receipt != nil {
			var err error
			if pre, err = s.preRead(ctx, actor, req.TabRef, op); err != nil {
				return err
			}
		}
		receipt = &Receipt{PaymentMethod: method}
		return s.store.WithTx(txCtx, func(tx repository.Tx) error {
			var err error
			t, err = s.settle(txCtx, tx, actor, req, pre, receipt, op)
			return err
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		result := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
			s.logger.Warn("settle_timeout", fmt.Sprintf("Settlement of %s rolled back after %s", req.TabRef, elapsed), actor.RequestID, map[string]interface{}{
				"order_id": orderID,
			})
		}
		s.metrics.Settlement(result, elapsed)
		return nil, err
	}
	s.metrics.Settlement(string(receipt.Order.Status), elapsed)

	s.logger.Info("order_settled", fmt.Sprintf("Order %d settled with %s", receipt.Order.ID, method.Label), actor.RequestID, map[string]interface{}{
		"order_id":          receipt.Order.ID,
		"tables":            t.Numbers(),
		"total":             receipt.Order.Total.String(),
		"status":            receipt.Order.Status,
		"payment_method_id": method.ID,
		"invoice":           receipt.Invoice != nil,
		"duration_ms":       elapsed.Milliseconds(),
	})

	event := tab.Event(models.EventOrderSettled, t, actor.StaffID)
	event.Lines = receipt.Order.Lines
	s.events.Publish(ctx, event)
	return receipt, nil
}

// preRead checks the tab against committed state before any lock is taken
func (s *Service) preRead(ctx context.Context, actor models.Actor, ref models.TabRef, op string) (*tab.Tab, error) {
	var pre *tab.Tab
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		var err error
		if pre, err = tab.Read(ctx, r, actor.Venue, ref, op); err != nil {
			return err
		}
		if pre.Order == nil || !pre.Order.Status.IsOpen() {
			settled, err := lastSettled(ctx, r, pre)
			if err != nil {
				return err
			}
			if settled != nil {
				return apperr.ConcurrentSettlement(op, pre.Lowest()).WithDetail("order_id", settled.ID)
			}
			return apperr.Validation(op, "%s has no open tab to settle", ref)
		}
		for _, table := range pre.Tables {
			if !table.Status.Occupied() {
				return apperr.Validation(op, "table %d is %s", table.Number, table.Status)
			}
		}
		lines, err := r.ListLines(ctx, pre.Order.ID)
		if err != nil {
			return fmt.Errorf("failed to list lines of order %d: %w", pre.Order.ID, err)
		}
		if len(models.ActiveLines(lines)) == 0 {
			return apperr.Validation(op, "%s has nothing to charge", ref)
		}
		return nil
	})
	return pre, err
}

// lastSettled returns the order that already closed a tab with nothing open on it, if any
func lastSettled(ctx context.Context, r repository.Reader, t *tab.Tab) (*models.Order, error) {
	var order *models.Order
	switch {
	case t.Group != nil:
		if t.Group.Status == models.GroupAbierto {
			return nil, nil
		}
		o, err := r.GetOrder(ctx, t.Group.PrimaryOrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to read order %d: %w", t.Group.PrimaryOrderID, err)
		}
		order = o
		// released members no longer point at the group
		if len(t.Tables) == 0 {
			for _, id := range t.Group.TableIDs {
				table, err := r.GetTableByID(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("failed to read table %d: %w", id, err)
				}
				t.Tables = append(t.Tables, table)
			}
		}
	case t.Table() != nil && t.Table().Status == models.TableLibre:
		o, err := r.LatestOrderForTable(ctx, t.Table().ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read last order of table %d: %w", t.Table().Number, err)
		}
		order = o
	default:
		return nil, nil
	}
	if !order.Status.IsSettled() {
		return nil, nil
	}
	return order, nil
}

func (s *Service) settle(ctx context.Context, tx repository.Tx, actor models.Actor, req models.SettleRequest, pre *tab.Tab, receipt *Receipt, op string) (*tab.Tab, error) {
	t, err := tab.Lock(ctx, tx, actor.Venue, req.TabRef, op)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, apperr.ConcurrentSettlement(op, pre.Lowest())
	}
	if err != nil {
		return nil, err
	}
	order := t.Order
	if order == nil || order.ID != pre.Order.ID || !order.Status.IsOpen() {
		return nil, apperr.ConcurrentSettlement(op, pre.Lowest()).WithDetail("order_id", pre.Order.ID)
	}

	lines, err := tx.ListLines(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines of order %d: %w", order.ID, err)
	}
	active := models.ActiveLines(lines)
	if len(active) == 0 {
		return nil, apperr.Validation(op, "%s has nothing to charge", req.TabRef)
	}
	total := models.SumLines(active)
	if want := req.Options.ExpectedTotal; want != nil && *want != total {
		return nil, apperr.Conflict(op, "tab total is %s, expected %s", total, *want).
			WithDetail("expected_total", want.String()).
			WithDetail("total", total.String())
	}

	if receipt.Movements, err = s.ledger.DeductLines(ctx, tx, actor.Venue.BranchID, active, order.ID, actor.StaffID); err != nil {
		return nil, err
	}

	target := models.BillingPagado
	if req.Options.Deferred {
		target = models.BillingPendiente
	}
	if err := guard.CheckBillingTransition(op, order.Status, target); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	methodID := receipt.PaymentMethod.ID
	settledBy := actor.StaffID
	order.Status = target
	order.Total = total
	order.PaymentMethodID = &methodID
	order.SettledAt = &now
	order.SettledBy = &settledBy
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to close order %d: %w", order.ID, err)
	}
	if err := s.complete(ctx, tx, order); err != nil {
		return nil, err
	}
	order.Lines = lines

	if inv := req.Options.Invoice; inv != nil {
		invoice := &models.Invoice{
			OrderID:      order.ID,
			TaxID:        inv.TaxID,
			BusinessName: inv.BusinessName,
			Total:        total,
		}
		if err := tx.InsertInvoice(ctx, invoice); err != nil {
			return nil, fmt.Errorf("failed to issue invoice for order %d: %w", order.ID, err)
		}
		receipt.Invoice = invoice
	}

	for _, table := range t.Tables {
		if err := guard.CheckTableTransition(op, table.Status, models.TableLibre); err != nil {
			return nil, err
		}
		table.Release()
		if err := tx.UpdateTable(ctx, table); err != nil {
			return nil, fmt.Errorf("failed to release table %d: %w", table.Number, err)
		}
	}
	if t.Group != nil {
		t.Group.Status = models.GroupCerrado
		t.Group.ClosedAt = &now
		if err := tx.UpdateGroup(ctx, t.Group); err != nil {
			return nil, fmt.Errorf("failed to close group %d: %w", t.Group.ID, err)
		}
	}

	receipt.Order = order
	receipt.Tables = t.Tables
	return t, nil
}

// complete applies the paid-and-delivered rule as its own step of the billing machine
func (s *Service) complete(ctx context.Context, tx repository.Tx, order *models.Order) error {
	next := guard.ComposeBilling(order.Status, order.KitchenStatus)
	if next == order.Status {
		return nil
	}
	order.Status = next
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to complete order %d: %w", order.ID, err)
	}
	return nil
}

// CollectDeferred takes payment for an order settled as pendiente
func (s *Service) CollectDeferred(ctx context.Context, actor models.Actor, orderID, paymentMethodID int64) (*models.Order, error) {
	const op = "settlement.collect"
	if paymentMethodID <= 0 {
		return nil, apperr.Validation(op, "payment_method_id is required")
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}
	method, err := s.payments.Resolve(ctx, paymentMethodID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && order.Venue != actor.Venue) {
			return apperr.NotFound(op, "order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order %d: %w", orderID, err)
		}
		if order.Status != models.BillingPendiente {
			return apperr.InvalidTransition(op, "order", string(order.Status), string(models.BillingPagado))
		}

		now := time.Now().UTC()
		methodID := method.ID
		collector := actor.StaffID
		order.Status = models.BillingPagado
		order.PaymentMethodID = &methodID
		order.SettledAt = &now
		order.SettledBy = &collector
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order %d: %w", orderID, err)
		}
		return s.complete(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment_collected", fmt.Sprintf("Deferred payment of order %d collected", orderID), actor.RequestID, map[string]interface{}{
		"payment_method_id": method.ID,
		"total":             order.Total.String(),
	})
	event := models.NewEvent(models.EventPaymentTaken, order.Venue, order.ID, actor.StaffID)
	event.Total = order.Total
	event.Status = string(order.Status)
	event.PaymentMethodID = order.PaymentMethodID
	s.events.Publish(ctx, event)
	return order, nil
}
