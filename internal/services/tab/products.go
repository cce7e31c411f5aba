package tab

import (
	"context"
	"errors"
	"fmt"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

// ResolveProducts loads every requested product once and rejects inactive or foreign ones
func ResolveProducts(ctx context.Context, r repository.Reader, venue models.Venue, items []models.ItemInput, op string) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(items))
	for _, item := range items {
		if _, ok := products[item.ProductID]; ok {
			continue
		}
		p, err := r.GetProduct(ctx, item.ProductID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && (!p.Active || p.RestaurantID != venue.RestaurantID)) {
			return nil, apperr.Validation(op, "product %d is not available", item.ProductID).
				WithDetail("product_id", item.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read product %d: %w", item.ProductID, err)
		}
		products[item.ProductID] = p
	}
	return products, nil
}

// InsertLines writes one active line per item, priced from the catalog unless overridden
func InsertLines(ctx context.Context, tx repository.Tx, orderID int64, items []models.ItemInput, products map[int64]*models.Product) ([]models.OrderLine, error) {
	added := make([]models.OrderLine, 0, len(items))
	for _, item := range items {
		product := products[item.ProductID]
		price := product.Price
		if item.UnitPrice != nil {
			price = *item.UnitPrice
		}
		line := &models.OrderLine{
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   price,
			Notes:       item.Notes,
			Status:      models.LineActiva,
		}
		if err := tx.InsertLine(ctx, line); err != nil {
			return nil, fmt.Errorf("failed to add product %d: %w", item.ProductID, err)
		}
		added = append(added, *line)
	}
	return added, nil
}
