// Package payments resolves payment methods by id.
package payments

import (
	"context"
	"errors"
	"fmt"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

type Registry struct {
	store repository.Store
}

func NewRegistry(store repository.Store) *Registry {
	return &Registry{store: store}
}

// Resolve returns the active method with the given id or PaymentMethodUnknownError
func (r *Registry) Resolve(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	const op = "payments.resolve"

	var pm *models.PaymentMethod
	err := r.store.ReadSnapshot(ctx, func(rd repository.Reader) error {
		var err error
		pm, err = rd.GetPaymentMethod(ctx, id)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.PaymentMethodUnknown(op, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment method %d: %w", id, err)
	}
	if !pm.Active {
		return nil, apperr.PaymentMethodUnknown(op, id)
	}
	return pm, nil
}

func (r *Registry) IsActive(ctx context.Context, id int64) (bool, error) {
	_, err := r.Resolve(ctx, id)
	if errors.Is(err, apperr.ErrPaymentMethodUnknown) {
		return false, nil
	}
	return err == nil, err
}
