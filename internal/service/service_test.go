package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vibelounge/backend/internal/cache"
	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/notify"
	"vibelounge/backend/internal/store"
	"vibelounge/backend/internal/store/memory"
)

// capturePublisher records every published event for assertion.
type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(_ context.Context, event notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) snapshot() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

func (p *capturePublisher) waitFor(t *testing.T, count int) []notify.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := p.snapshot()
		if len(events) >= count {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d published events, got %d", count, len(p.snapshot()))
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *capturePublisher) {
	t.Helper()
	repo := memory.New()
	publisher := &capturePublisher{}
	svc := New(repo, publisher, cache.NoopSummaryCache{}, time.Second, zap.NewNop())

	seed := []domain.Product{
		{ID: "p1", Name: "Nyama Choma Platter", Category: "food", Price: 1000, CostPrice: 600, Quantity: 10, ReorderLevel: 2},
		{ID: "p2", Name: "Tusker Lager 500ml", Category: "beer", Price: 300, CostPrice: 210, Quantity: 5, ReorderLevel: 2},
		{ID: "p3", Name: "Soda 500ml", Category: "soft-drink", Price: 100, CostPrice: 55, Quantity: 50, ReorderLevel: 10},
	}
	for _, p := range seed {
		if _, err := repo.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
	return svc, repo, publisher
}

func cashier() domain.Actor {
	return domain.Actor{ID: "cashier-1", Role: domain.RoleManager}
}

func TestCreateSaleSingleLine(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "p1", Quantity: 3}},
		Payment: domain.PaymentInput{Cash: 3000},
		Actor:   cashier(),
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if len(resp.Lines) != 1 {
		t.Fatalf("expected 1 sale record, got %d", len(resp.Lines))
	}
	line := resp.Lines[0]
	if line.TotalPrice != 3000 {
		t.Fatalf("expected total 3000, got %.2f", line.TotalPrice)
	}
	if line.Profit != 1200 {
		t.Fatalf("expected profit 1200, got %.2f", line.Profit)
	}
	if line.SoldBy != "cashier-1" || line.SoldByRole != domain.RoleManager {
		t.Fatalf("seller attribution wrong: %s/%s", line.SoldBy, line.SoldByRole)
	}
	if resp.Summary.TotalRevenue != 3000 || resp.Summary.TotalProfit != 1200 || resp.Summary.TotalItems != 3 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}

	product, err := repo.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", product.Quantity)
	}
}

func TestCreateSaleSplitTenderAllocation(t *testing.T) {
	svc, _, _ := newTestService(t)

	// Cart total 1000: line p2 is 600 (60%), line p3 is 400 (40%).
	resp, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		Items: []domain.CartLine{
			{ProductID: "p2", Quantity: 2},
			{ProductID: "p3", Quantity: 4},
		},
		Payment: domain.PaymentInput{Cash: 700, MobileMoney: 300},
		Actor:   cashier(),
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 sale records, got %d", len(resp.Lines))
	}

	first := resp.Lines[0].PaymentSplit
	if first[domain.TenderCash] != 420 || first[domain.TenderMobileMoney] != 180 {
		t.Fatalf("unexpected split for first line: %+v", first)
	}
	second := resp.Lines[1].PaymentSplit
	if second[domain.TenderCash] != 280 || second[domain.TenderMobileMoney] != 120 {
		t.Fatalf("unexpected split for second line: %+v", second)
	}

	cashTotal := first[domain.TenderCash] + second[domain.TenderCash]
	momoTotal := first[domain.TenderMobileMoney] + second[domain.TenderMobileMoney]
	if math.Abs(cashTotal-700) > 0.011 || math.Abs(momoTotal-300) > 0.011 {
		t.Fatalf("split totals drifted: cash=%.2f momo=%.2f", cashTotal, momoTotal)
	}
}

func TestCreateSalePaymentMismatchWritesNothing(t *testing.T) {
	svc, repo, publisher := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "p1", Quantity: 2}},
		Payment: domain.PaymentInput{Cash: 1500},
		Actor:   cashier(),
	})
	if !errors.Is(err, store.ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}

	var mismatch *store.PaymentMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected structured mismatch error, got %T", err)
	}
	if mismatch.CartTotal != 2000 || mismatch.Declared != 1500 {
		t.Fatalf("unexpected mismatch detail: %+v", mismatch)
	}

	product, _ := repo.GetProduct(ctx, "p1")
	if product.Quantity != 10 {
		t.Fatalf("stock must be untouched on abort, got %d", product.Quantity)
	}
	sales, _ := repo.ListSales(ctx, domain.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("no sale record may exist after abort, got %d", len(sales))
	}
	if len(publisher.snapshot()) != 0 {
		t.Fatalf("no events may be published on abort")
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "p2", Quantity: 6}},
		Payment: domain.PaymentInput{Cash: 1800},
		Actor:   cashier(),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var detail *store.InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("expected structured stock error, got %T", err)
	}
	if detail.ProductID != "p2" || detail.Available != 5 || detail.Requested != 6 {
		t.Fatalf("unexpected stock detail: %+v", detail)
	}
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "ghost", Quantity: 1}},
		Payment: domain.PaymentInput{Cash: 100},
		Actor:   cashier(),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateSaleRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.SaleRequest
	}{
		{"empty cart", domain.SaleRequest{
			Payment: domain.PaymentInput{Cash: 100}, Actor: cashier(),
		}},
		{"zero quantity", domain.SaleRequest{
			Items:   []domain.CartLine{{ProductID: "p1", Quantity: 0}},
			Payment: domain.PaymentInput{Cash: 100}, Actor: cashier(),
		}},
		{"missing product id", domain.SaleRequest{
			Items:   []domain.CartLine{{ProductID: "", Quantity: 1}},
			Payment: domain.PaymentInput{Cash: 100}, Actor: cashier(),
		}},
		{"negative tender", domain.SaleRequest{
			Items:   []domain.CartLine{{ProductID: "p3", Quantity: 1}},
			Payment: domain.PaymentInput{Cash: 200, MobileMoney: -100}, Actor: cashier(),
		}},
		{"zero payment", domain.SaleRequest{
			Items:   []domain.CartLine{{ProductID: "p3", Quantity: 1}},
			Payment: domain.PaymentInput{}, Actor: cashier(),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, tc.req)
			if !errors.Is(err, store.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCreateSaleDuplicateLinesCheckedCumulatively(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	// Each line alone fits the stock of 5; together they oversell it. The
	// commit-time re-check must reject the cart as a whole.
	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items: []domain.CartLine{
			{ProductID: "p2", Quantity: 3},
			{ProductID: "p2", Quantity: 3},
		},
		Payment: domain.PaymentInput{Cash: 1800},
		Actor:   cashier(),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	product, _ := repo.GetProduct(ctx, "p2")
	if product.Quantity != 5 {
		t.Fatalf("stock must be untouched, got %d", product.Quantity)
	}
	sales, _ := repo.ListSales(ctx, domain.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("partial records leaked: %d", len(sales))
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	// p2 has 5 units; two sales of 4 race. Exactly one may win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, domain.SaleRequest{
				Items:   []domain.CartLine{{ProductID: "p2", Quantity: 4}},
				Payment: domain.PaymentInput{Cash: 1200},
				Actor:   cashier(),
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("loser must see insufficient stock, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	product, _ := repo.GetProduct(ctx, "p2")
	if product.Quantity != 1 {
		t.Fatalf("expected stock 1 after the winning sale, got %d", product.Quantity)
	}
}

func TestReverseSaleRestoresStock(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "p1", Quantity: 4}},
		Payment: domain.PaymentInput{Cash: 4000},
		Actor:   cashier(),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	reversal, err := svc.ReverseSale(ctx, domain.ReversalRequest{
		SaleRecordID: resp.Lines[0].ID,
		Actor:        domain.Actor{ID: "boss", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("reverse sale: %v", err)
	}
	if reversal.ProductID != "p1" || reversal.QuantityReturned != 4 {
		t.Fatalf("unexpected reversal: %+v", reversal)
	}

	product, _ := repo.GetProduct(ctx, "p1")
	if product.Quantity != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.Quantity)
	}
	if _, err := repo.GetSale(ctx, resp.Lines[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("sale record must be gone, got %v", err)
	}
}

func TestReverseSaleUnknownRecord(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ReverseSale(context.Background(), domain.ReversalRequest{
		SaleRecordID: "nope",
		Actor:        domain.Actor{ID: "boss", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaleEventsPublishedAfterCommit(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items: []domain.CartLine{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p3", Quantity: 2},
		},
		Payment: domain.PaymentInput{Cash: 1200},
		Actor:   cashier(),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// One sale.created plus one stock.updated per product.
	events := publisher.waitFor(t, 3)
	counts := map[string]int{}
	for _, event := range events {
		counts[event.Type]++
	}
	if counts[notify.EventSaleCreated] != 1 {
		t.Fatalf("expected one sale.created, got %d", counts[notify.EventSaleCreated])
	}
	if counts[notify.EventStockUpdated] != 2 {
		t.Fatalf("expected two stock.updated, got %d", counts[notify.EventStockUpdated])
	}

	if _, err := svc.ReverseSale(ctx, domain.ReversalRequest{
		SaleRecordID: resp.Lines[0].ID,
		Actor:        domain.Actor{ID: "boss", Role: domain.RoleAdmin},
	}); err != nil {
		t.Fatalf("reverse sale: %v", err)
	}
	events = publisher.waitFor(t, 5)
	found := false
	for _, event := range events {
		if event.Type == notify.EventSaleDeleted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sale.deleted event after reversal")
	}
}

// failingPublisher simulates an unreachable broker.
type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPublisher) Publish(_ context.Context, _ notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("broker unreachable")
}

func TestPublishFailureDoesNotAffectSale(t *testing.T) {
	repo := memory.New()
	if _, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "p1", Name: "Guinness 500ml", Category: "beer", Price: 350, CostPrice: 250, Quantity: 10,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	publisher := &failingPublisher{}
	svc := New(repo, publisher, cache.NoopSummaryCache{}, time.Second, zap.NewNop())

	resp, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		Items:   []domain.CartLine{{ProductID: "p1", Quantity: 2}},
		Payment: domain.PaymentInput{MobileMoney: 700},
		Actor:   cashier(),
	})
	if err != nil {
		t.Fatalf("sale must succeed despite publish failure: %v", err)
	}
	if len(resp.Lines) != 1 {
		t.Fatalf("expected committed sale, got %d lines", len(resp.Lines))
	}

	product, _ := repo.GetProduct(context.Background(), "p1")
	if product.Quantity != 8 {
		t.Fatalf("stock decrement must survive publish failure, got %d", product.Quantity)
	}
}

func TestProductCRUDRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, cashier(), domain.ProductCreateRequest{
		Name: "Pilsner 500ml", Category: "beer", Price: 280, CostPrice: 200, Quantity: 48,
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("manager must not create products, got %v", err)
	}

	admin := domain.Actor{ID: "boss", Role: domain.RoleAdmin}
	created, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{
		Name: "Pilsner 500ml", Category: "beer", Price: 280, CostPrice: 200, Quantity: 48, ReorderLevel: 12,
	})
	if err != nil {
		t.Fatalf("admin create product: %v", err)
	}

	newPrice := 320.0
	updated, err := svc.UpdateProduct(ctx, admin, created.ID, domain.ProductUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if updated.Price != 320 {
		t.Fatalf("expected updated price 320, got %.2f", updated.Price)
	}

	if err := svc.DeleteProduct(ctx, admin, created.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if _, err := svc.GetProduct(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product gone, got %v", err)
	}
}

func TestRestockProduct(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	level, err := svc.RestockProduct(ctx, cashier(), "p2", 24)
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if level.Quantity != 29 {
		t.Fatalf("expected stock 29 after restock, got %d", level.Quantity)
	}
	publisher.waitFor(t, 1)

	if _, err := svc.RestockProduct(ctx, domain.Actor{ID: "x", Role: "cashier"}, "p2", 1); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("cashier role must not restock, got %v", err)
	}
}
