// Package service implements the sale transaction processor: cart
// validation, split-tender allocation, atomic commit with stock decrement,
// reversal with stock restitution, and the reporting queries built on the
// resulting ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibelounge/backend/internal/cache"
	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/notify"
	"vibelounge/backend/internal/store"
)

const publishTimeout = 5 * time.Second

type Service struct {
	repo      store.Repository
	publisher notify.Publisher
	summaries cache.SummaryCache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

func New(repo store.Repository, publisher notify.Publisher, summaries cache.SummaryCache, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:      repo,
		publisher: publisher,
		summaries: summaries,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// CreateSale runs the full transaction flow: validate the cart against the
// live catalog, reconcile and allocate the declared payment, persist one
// record per line atomically with the stock decrements, then announce the
// committed sale. No write happens before every check has passed.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	lines, cartTotal, err := s.validateCart(ctx, req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	allocations, err := allocatePayment(req.Payment.Declaration(), lines, cartTotal)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	now := time.Now().UTC()
	records := make([]domain.SaleRecord, 0, len(lines))
	for i, line := range lines {
		records = append(records, domain.SaleRecord{
			ID:           uuid.NewString(),
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			QuantitySold: line.Quantity,
			UnitPrice:    line.UnitPrice,
			TotalPrice:   line.LineTotal,
			PaymentSplit: allocations[i],
			UnitCost:     line.UnitCost,
			Profit:       line.LineProfit,
			SoldBy:       req.Actor.ID,
			SoldByRole:   req.Actor.Role,
			CreatedAt:    now,
		})
	}

	stored, stockLevels, err := s.repo.CommitSale(ctx, records)
	if err != nil {
		return domain.SaleResponse{}, s.classifyStorageError(err)
	}

	summary := summarize(stored)
	s.invalidateSummaries(ctx, req.Actor.ID)

	s.publishAsync(notify.Event{
		Type:    notify.EventSaleCreated,
		Key:     stored[0].ID,
		Payload: notify.SaleCreatedPayload{Lines: stored, Summary: summary},
	})
	for _, level := range stockLevels {
		s.publishAsync(notify.Event{
			Type:    notify.EventStockUpdated,
			Key:     level.ProductID,
			Payload: level,
		})
	}

	return domain.SaleResponse{Lines: stored, Summary: summary}, nil
}

// ReverseSale deletes one sale record and restores its quantity to the
// product, atomically. Role policy is enforced by the identity collaborator
// before this entry point; the record id is the only argument the ledger
// needs.
func (s *Service) ReverseSale(ctx context.Context, req domain.ReversalRequest) (domain.ReversalResponse, error) {
	if strings.TrimSpace(req.SaleRecordID) == "" {
		return domain.ReversalResponse{}, fmt.Errorf("%w: sale record id required", store.ErrInvalidInput)
	}

	record, level, err := s.repo.DeleteSale(ctx, req.SaleRecordID)
	if err != nil {
		return domain.ReversalResponse{}, s.classifyStorageError(err)
	}
	if level == nil {
		// Product was removed from the catalog after the sale; the record is
		// gone but there is no stock row to restore.
		s.logger.Warn("reversed sale references missing product",
			zap.String("sale_record_id", record.ID),
			zap.String("product_id", record.ProductID))
	}

	s.invalidateSummaries(ctx, record.SoldBy)

	s.publishAsync(notify.Event{
		Type: notify.EventSaleDeleted,
		Key:  record.ID,
		Payload: notify.SaleDeletedPayload{
			SaleRecordID:     record.ID,
			ProductID:        record.ProductID,
			QuantityReturned: record.QuantitySold,
		},
	})
	if level != nil {
		s.publishAsync(notify.Event{
			Type:    notify.EventStockUpdated,
			Key:     level.ProductID,
			Payload: *level,
		})
	}

	return domain.ReversalResponse{
		SaleRecordID:     record.ID,
		ProductID:        record.ProductID,
		QuantityReturned: record.QuantitySold,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.SaleRecord{}, fmt.Errorf("%w: sale record id required", store.ErrInvalidInput)
	}
	record, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, s.classifyStorageError(err)
	}
	return *record, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, s.classifyStorageError(err)
	}
	return *product, nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListLowStock(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrUnauthorized)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category required", store.ErrInvalidInput)
	}
	if req.Price <= 0 || req.CostPrice < 0 || req.Quantity < 0 || req.ReorderLevel < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must be positive and quantities non-negative", store.ErrInvalidInput)
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Category:     req.Category,
		Price:        req.Price,
		CostPrice:    req.CostPrice,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
		Supplier:     strings.TrimSpace(req.Supplier),
		Barcode:      strings.TrimSpace(req.Barcode),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, s.classifyStorageError(err)
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrUnauthorized)
	}
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, s.classifyStorageError(err)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category cannot be empty", store.ErrInvalidInput)
		}
		updated.Category = category
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, fmt.Errorf("%w: cost price cannot be negative", store.ErrInvalidInput)
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.Product{}, fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
		}
		updated.Quantity = *req.Quantity
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: reorder level cannot be negative", store.ErrInvalidInput)
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, s.classifyStorageError(err)
	}

	if req.Quantity != nil && existing.Quantity != saved.Quantity {
		s.publishAsync(notify.Event{
			Type:    notify.EventStockUpdated,
			Key:     saved.ID,
			Payload: domain.StockLevel{ProductID: saved.ID, Quantity: saved.Quantity},
		})
	}

	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, actor domain.Actor, id string) error {
	if actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", store.ErrUnauthorized)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return s.classifyStorageError(err)
	}
	return nil
}

func (s *Service) RestockProduct(ctx context.Context, actor domain.Actor, id string, qty int) (domain.StockLevel, error) {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager {
		return domain.StockLevel{}, fmt.Errorf("%w: admin or manager role required", store.ErrUnauthorized)
	}
	if strings.TrimSpace(id) == "" || qty < 1 {
		return domain.StockLevel{}, fmt.Errorf("%w: product id and positive quantity required", store.ErrInvalidInput)
	}

	level, err := s.repo.IncrementStock(ctx, id, qty)
	if err != nil {
		return domain.StockLevel{}, s.classifyStorageError(err)
	}

	s.publishAsync(notify.Event{
		Type:    notify.EventStockUpdated,
		Key:     level.ProductID,
		Payload: *level,
	})
	return *level, nil
}

// summarize folds stored records into the per-sale summary returned to the
// caller and carried on the sale.created event.
func summarize(records []domain.SaleRecord) domain.SaleSummary {
	summary := domain.SaleSummary{PaymentTotals: make(map[string]float64)}
	for _, record := range records {
		summary.TotalRevenue = round2(summary.TotalRevenue + record.TotalPrice)
		summary.TotalProfit = round2(summary.TotalProfit + record.Profit)
		summary.TotalItems += record.QuantitySold
		for tender, amount := range record.PaymentSplit {
			summary.PaymentTotals[tender] = round2(summary.PaymentTotals[tender] + amount)
		}
	}
	return summary
}

// classifyStorageError keeps taxonomy errors intact and wraps everything
// else as a persistence failure so callers see one retriable category for
// infrastructure trouble.
func (s *Service) classifyStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrPaymentMismatch),
		errors.Is(err, store.ErrUnauthorized):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrPersistenceFailure, err)
	}
}

// publishAsync delivers one event on its own goroutine with its own
// deadline. The sale has already committed when this runs; a delivery
// failure is logged and swallowed, never surfaced to the caller.
func (s *Service) publishAsync(event notify.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("event publish failed",
				zap.String("event_type", event.Type),
				zap.String("event_key", event.Key),
				zap.Error(err))
		}
	}()
}
