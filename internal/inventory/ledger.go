// Package inventory deducts branch stock and records the movements.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

// Ledger works inside the caller's transaction so stock and the sale commit together
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Deduct takes qty units of a product from the branch and records a sale movement
func (l *Ledger) Deduct(ctx context.Context, tx repository.Tx, branchID, productID, qty int64, orderID, staffID int64) (*models.InventoryMovement, error) {
	const op = "inventory.deduct"

	after, err := tx.DeductStock(ctx, branchID, productID, qty)
	if errors.Is(err, repository.ErrInsufficientStock) {
		return nil, apperr.InsufficientStock(op, productID, qty, after)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct stock of product %d: %w", productID, err)
	}

	movement := &models.InventoryMovement{
		BranchID:  branchID,
		ProductID: productID,
		Delta:     -qty,
		Before:    after + qty,
		After:     after,
		Reason:    models.MovementSale,
		OrderID:   &orderID,
		StaffID:   staffID,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, fmt.Errorf("failed to record movement of product %d: %w", productID, err)
	}
	return movement, nil
}

// DeductLines deducts every product of the active lines in ascending product id order
func (l *Ledger) DeductLines(ctx context.Context, tx repository.Tx, branchID int64, lines []models.OrderLine, orderID, staffID int64) ([]models.InventoryMovement, error) {
	quantities := models.QuantitiesByProduct(lines)
	products := make([]int64, 0, len(quantities))
	for id := range quantities {
		products = append(products, id)
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })

	movements := make([]models.InventoryMovement, 0, len(products))
	for _, productID := range products {
		m, err := l.Deduct(ctx, tx, branchID, productID, quantities[productID], orderID, staffID)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	return movements, nil
}
