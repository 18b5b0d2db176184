package notify

import (
	"context"

	"vibelounge/backend/internal/domain"
)

// Event types published after a committed sale or reversal.
const (
	EventSaleCreated  = "sale.created"
	EventSaleDeleted  = "sale.deleted"
	EventStockUpdated = "stock.updated"
)

// Event is the envelope delivered to observers. Key groups related events
// for partitioning (sale id or product id).
type Event struct {
	Type    string `json:"type"`
	Key     string `json:"-"`
	Payload any    `json:"payload"`
}

// SaleCreatedPayload mirrors the sale response so dashboards can render the
// sale without a follow-up query.
type SaleCreatedPayload struct {
	Lines   []domain.SaleRecord `json:"lines"`
	Summary domain.SaleSummary  `json:"summary"`
}

type SaleDeletedPayload struct {
	SaleRecordID     string `json:"sale_record_id"`
	ProductID        string `json:"product_id"`
	QuantityReturned int    `json:"quantity_returned"`
}

// Publisher delivers post-commit events to observers. Delivery is
// best-effort: the transaction that produced the event has already
// committed, so implementations must never block the caller indefinitely
// and errors are logged, not propagated.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error { return nil }
