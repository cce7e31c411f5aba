package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

// DirectSale rings up a counter or delivery order and charges it in the same transaction
func (s *Service) DirectSale(ctx context.Context, actor models.Actor, req models.DirectSaleRequest) (*Receipt, error) {
	const op = "settlement.direct_sale"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	method, err := s.payments.Resolve(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureSales); err != nil {
		return nil, err
	}
	if req.Options.Invoice != nil {
		if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureInvoices); err != nil {
			return nil, err
		}
	}

	txCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	receipt := &Receipt{PaymentMethod: method, Tables: []*models.Table{}}
	var added []models.OrderLine
	err = s.store.WithTx(txCtx, func(tx repository.Tx) error {
		var err error
		added, err = s.directSale(txCtx, tx, actor, req, receipt, op)
		return err
	})
	elapsed := time.Since(start)
	if err != nil {
		result := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
			s.logger.Warn("settle_timeout", fmt.Sprintf("Direct %s sale rolled back after %s", req.ServiceType, elapsed), actor.RequestID, nil)
		}
		s.metrics.Settlement(result, elapsed)
		return nil, err
	}
	s.metrics.Settlement(string(receipt.Order.Status), elapsed)
	s.metrics.LinesAdded(len(added))

	order := receipt.Order
	s.logger.Info("order_settled", fmt.Sprintf("Direct %s order %d settled with %s", order.ServiceType, order.ID, method.Label), actor.RequestID, map[string]interface{}{
		"order_id":          order.ID,
		"service_type":      order.ServiceType,
		"total":             order.Total.String(),
		"status":            order.Status,
		"payment_method_id": method.ID,
		"invoice":           receipt.Invoice != nil,
		"duration_ms":       elapsed.Milliseconds(),
	})

	t := &tab.Tab{Order: order}
	ticket := tab.Event(models.EventItemsAdded, t, actor.StaffID)
	ticket.ServiceType = order.ServiceType
	ticket.Lines = added
	s.events.Publish(ctx, ticket)

	event := tab.Event(models.EventOrderSettled, t, actor.StaffID)
	event.ServiceType = order.ServiceType
	event.Lines = order.Lines
	s.events.Publish(ctx, event)
	return receipt, nil
}

func (s *Service) directSale(ctx context.Context, tx repository.Tx, actor models.Actor, req models.DirectSaleRequest, receipt *Receipt, op string) ([]models.OrderLine, error) {
	products, err := tab.ResolveProducts(ctx, tx, actor.Venue, req.Items, op)
	if err != nil {
		return nil, err
	}
	order := &models.Order{
		Venue:         actor.Venue,
		Status:        models.BillingEnUso,
		KitchenStatus: models.KitchenRecibido,
		ServiceType:   req.ServiceType,
		StaffID:       actor.StaffID,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create %s order: %w", req.ServiceType, err)
	}
	lines, err := tab.InsertLines(ctx, tx, order.ID, req.Items, products)
	if err != nil {
		return nil, err
	}

	total := models.SumLines(lines)
	if want := req.Options.ExpectedTotal; want != nil && *want != total {
		return nil, apperr.Conflict(op, "sale total is %s, expected %s", total, *want).
			WithDetail("expected_total", want.String()).
			WithDetail("total", total.String())
	}
	if receipt.Movements, err = s.ledger.DeductLines(ctx, tx, actor.Venue.BranchID, lines, order.ID, actor.StaffID); err != nil {
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

	receipt.Order = order
	return lines, nil
}
