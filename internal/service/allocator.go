package service

import (
	"fmt"
	"math"

	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/store"
)

// reconcileEpsilon is the accepted gap between the declared payment and the
// computed cart total, covering float rounding on decimal currency amounts.
const reconcileEpsilon = 0.01

// allocatePayment reconciles the declared tenders against the cart total
// and splits each tender across the lines in proportion to each line's
// share of the total. Each per-line amount is rounded to two decimals
// independently; the sub-cent residue that rounding can leave is accepted,
// not redistributed.
func allocatePayment(declared domain.PaymentDeclaration, lines []domain.ValidatedLine, cartTotal float64) ([]map[string]float64, error) {
	declaredTotal := 0.0
	for tender, amount := range declared {
		if amount < 0 {
			return nil, fmt.Errorf("%w: negative amount for tender %s", store.ErrInvalidInput, tender)
		}
		declaredTotal += amount
	}
	if declaredTotal == 0 {
		return nil, fmt.Errorf("%w: no payment declared", store.ErrInvalidInput)
	}
	if cartTotal <= 0 {
		return nil, fmt.Errorf("%w: cart total must be positive", store.ErrInvalidInput)
	}

	if math.Abs(declaredTotal-cartTotal) > reconcileEpsilon {
		return nil, &store.PaymentMismatchError{CartTotal: cartTotal, Declared: declaredTotal}
	}

	allocations := make([]map[string]float64, 0, len(lines))
	for _, line := range lines {
		share := line.LineTotal / cartTotal
		split := make(map[string]float64, len(declared))
		for tender, amount := range declared {
			if amount == 0 {
				continue
			}
			split[tender] = round2(amount * share)
		}
		allocations = append(allocations, split)
	}

	return allocations, nil
}
