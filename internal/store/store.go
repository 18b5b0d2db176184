package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vibelounge/backend/internal/domain"
)

// Sentinel error kinds. Callers match with errors.Is; the structured types
// below carry the detail needed to correct and retry.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrPaymentMismatch    = errors.New("payment mismatch")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrUnauthorized       = errors.New("unauthorized")
)

// InsufficientStockError reports which product cannot cover a requested
// quantity, both at validation time and at commit-time re-check.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PaymentMismatchError reports a declared payment that does not reconcile
// with the computed cart total within the accepted tolerance.
type PaymentMismatchError struct {
	CartTotal float64
	Declared  float64
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("declared payment %.2f does not match cart total %.2f",
		e.Declared, e.CartTotal)
}

func (e *PaymentMismatchError) Unwrap() error { return ErrPaymentMismatch }

// Repository is the combined inventory store, sale ledger and user store.
// Implementations must make CommitSale and DeleteSale atomic: either every
// row write and stock mutation of the call happens, or none do.
type Repository interface {
	// Inventory store.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListLowStock(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	IncrementStock(ctx context.Context, id string, qty int) (*domain.StockLevel, error)

	// Sale ledger. CommitSale persists every record and decrements stock for
	// every line in one atomic step, re-checking availability at write time;
	// it returns the stored records and the post-decrement stock level of
	// each affected product. DeleteSale restores the sold quantity to the
	// referenced product and removes the record, also atomically.
	CommitSale(ctx context.Context, records []domain.SaleRecord) ([]domain.SaleRecord, []domain.StockLevel, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	DeleteSale(ctx context.Context, id string) (*domain.SaleRecord, *domain.StockLevel, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error)
	SalesSummary(ctx context.Context, soldBy string, from time.Time, to time.Time) (domain.SalesSummary, error)
	DailyAnalytics(ctx context.Context, from time.Time) ([]domain.DailyAnalytics, error)

	// User accounts, consumed by the identity collaborator.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
