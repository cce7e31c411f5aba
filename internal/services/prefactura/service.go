// Package prefactura builds the non-binding bill preview of a table or group.
// Nothing here writes: every preview comes from one read snapshot.
package prefactura

import (
	"context"
	"fmt"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

type Service struct {
	store  repository.Store
	tax    models.TaxRule
	logger *logger.Logger
	now    func() time.Time
}

func NewService(store repository.Store, cfg config.BillingConfig, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		tax:    TaxRuleFrom(cfg),
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TaxRuleFrom reads the tax rule out of the billing configuration
func TaxRuleFrom(cfg config.BillingConfig) models.TaxRule {
	return models.TaxRule{Name: cfg.TaxName, RateBP: cfg.TaxRateBP, Inclusive: cfg.TaxInclusive}
}

// Generate previews the open tab of ref. A table without an open tab yields
// status sin_cuenta_abierta rather than an empty bill.
func (s *Service) Generate(ctx context.Context, actor models.Actor, ref models.TabRef) (*models.Prefactura, error) {
	const op = "prefactura.generate"
	if err := ref.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}

	var p *models.Prefactura
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		t, err := tab.Read(ctx, r, actor.Venue, ref, op)
		if err != nil {
			return err
		}
		p = &models.Prefactura{
			Status:       models.PrefacturaSinCuentaAbierta,
			Venue:        actor.Venue,
			TableNumbers: t.Numbers(),
			Lines:        []models.PrefacturaLine{},
			TaxRule:      s.tax,
			GeneratedAt:  s.now(),
		}
		if t.Group != nil && t.Group.Status == models.GroupAbierto {
			id := t.Group.ID
			p.GroupID = &id
		}
		if t.Order == nil || !t.Order.Status.IsOpen() {
			return nil
		}

		lines, err := r.ListLines(ctx, t.Order.ID)
		if err != nil {
			return fmt.Errorf("failed to list lines of order %d: %w", t.Order.ID, err)
		}
		fill(p, t.Order, lines, s.tax)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("prefactura_generated", "Prefactura generated for "+ref.String(), actor.RequestID, map[string]interface{}{
		"status": p.Status,
		"total":  p.Total.String(),
		"lines":  len(p.Lines),
	})
	return p, nil
}

func fill(p *models.Prefactura, order *models.Order, lines []models.OrderLine, rule models.TaxRule) {
	orderID := order.ID
	openedAt := order.OpenedAt
	p.Status = models.PrefacturaAbierta
	p.OrderID = &orderID
	p.OpenedAt = &openedAt

	active := models.ActiveLines(lines)
	for _, l := range active {
		p.Lines = append(p.Lines, models.PrefacturaLine{
			LineID:      l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal(),
			Notes:       l.Notes,
		})
	}
	p.Subtotal, p.Tax, p.Total = rule.Apply(models.SumLines(active))
}
