package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/store"
)

// validateCart checks every cart line against the live catalog and builds
// the enriched lines the allocator and commit consume. Lines are processed
// in cart order and the first failing line aborts the whole attempt.
// Duplicate product ids are validated independently per line; the
// commit-time re-check closes the combined-quantity gap.
func (s *Service) validateCart(ctx context.Context, items []domain.CartLine) ([]domain.ValidatedLine, float64, error) {
	if len(items) == 0 {
		return nil, 0, fmt.Errorf("%w: cart is empty", store.ErrInvalidInput)
	}

	lines := make([]domain.ValidatedLine, 0, len(items))
	cartTotal := 0.0
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, 0, fmt.Errorf("%w: line %d has no product id", store.ErrInvalidInput, i+1)
		}
		if item.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: line %d has non-positive quantity", store.ErrInvalidInput, i+1)
		}

		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, 0, s.classifyStorageError(err)
		}
		if product.Quantity < item.Quantity {
			return nil, 0, &store.InsufficientStockError{
				ProductID: product.ID,
				Available: product.Quantity,
				Requested: item.Quantity,
			}
		}

		lineTotal := round2(product.Price * float64(item.Quantity))
		lineProfit := round2((product.Price - product.CostPrice) * float64(item.Quantity))
		lines = append(lines, domain.ValidatedLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			UnitCost:    product.CostPrice,
			LineTotal:   lineTotal,
			LineProfit:  lineProfit,
		})
		cartTotal = round2(cartTotal + lineTotal)
	}

	return lines, cartTotal, nil
}

// round2 rounds a currency amount to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
