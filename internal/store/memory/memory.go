package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/store"
)

// Store is a mutex-guarded in-memory Repository used for development and
// tests. CommitSale and DeleteSale hold the write lock for their whole
// duration, which gives the same all-or-nothing visibility as the postgres
// implementation's transactions.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	salesByID       map[string]domain.SaleRecord
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use PostgreSQL and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]domain.SaleRecord),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with the lounge's demo catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "prod-tusker-500", Name: "Tusker Lager 500ml", Category: "beer", Price: 300, CostPrice: 210, Quantity: 120, ReorderLevel: 24},
		{ID: "prod-whitecap-500", Name: "White Cap 500ml", Category: "beer", Price: 300, CostPrice: 215, Quantity: 96, ReorderLevel: 24},
		{ID: "prod-guinness-500", Name: "Guinness 500ml", Category: "beer", Price: 350, CostPrice: 250, Quantity: 72, ReorderLevel: 18},
		{ID: "prod-chrome-250", Name: "Chrome Vodka 250ml", Category: "spirits", Price: 450, CostPrice: 320, Quantity: 40, ReorderLevel: 10},
		{ID: "prod-kc-750", Name: "Kenya Cane 750ml", Category: "spirits", Price: 1200, CostPrice: 880, Quantity: 24, ReorderLevel: 6},
		{ID: "prod-soda-500", Name: "Soda 500ml", Category: "soft-drink", Price: 100, CostPrice: 55, Quantity: 200, ReorderLevel: 48},
		{ID: "prod-water-500", Name: "Mineral Water 500ml", Category: "soft-drink", Price: 80, CostPrice: 40, Quantity: 150, ReorderLevel: 48},
		{ID: "prod-nyamachoma", Name: "Nyama Choma Platter", Category: "food", Price: 1000, CostPrice: 600, Quantity: 30, ReorderLevel: 5},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) ListLowStock(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 8)
	for _, p := range s.products {
		if p.IsLowStock() {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return a.Quantity - b.Quantity
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	for _, p := range s.products {
		if strings.EqualFold(p.Name, product.Name) {
			return nil, store.ErrInvalidInput
		}
	}

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) IncrementStock(_ context.Context, id string, qty int) (*domain.StockLevel, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Quantity += qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return &domain.StockLevel{ProductID: id, Quantity: product.Quantity}, nil
}

// CommitSale re-checks stock for every line under the write lock, then
// applies every insert and decrement together. Duplicate product lines are
// checked cumulatively here, so a cart that passed per-line validation can
// still be rejected if its combined quantity oversells one product.
func (s *Store) CommitSale(_ context.Context, records []domain.SaleRecord) ([]domain.SaleRecord, []domain.StockLevel, error) {
	if len(records) == 0 {
		return nil, nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needed := make(map[string]int, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" || rec.ProductID == "" || rec.QuantitySold < 1 {
			return nil, nil, store.ErrInvalidInput
		}
		if _, seen := needed[rec.ProductID]; !seen {
			order = append(order, rec.ProductID)
		}
		needed[rec.ProductID] += rec.QuantitySold
	}

	for _, productID := range order {
		product, ok := s.products[productID]
		if !ok {
			return nil, nil, store.ErrNotFound
		}
		if product.Quantity < needed[productID] {
			return nil, nil, &store.InsufficientStockError{
				ProductID: productID,
				Available: product.Quantity,
				Requested: needed[productID],
			}
		}
	}

	now := time.Now().UTC()
	stored := make([]domain.SaleRecord, 0, len(records))
	for _, rec := range records {
		s.salesByID[rec.ID] = rec
		stored = append(stored, rec)
	}
	levels := make([]domain.StockLevel, 0, len(order))
	for _, productID := range order {
		product := s.products[productID]
		product.Quantity -= needed[productID]
		product.UpdatedAt = now
		s.products[productID] = product
		levels = append(levels, domain.StockLevel{ProductID: productID, Quantity: product.Quantity})
	}

	return stored, levels, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) (*domain.SaleRecord, *domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.salesByID[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	var level *domain.StockLevel
	if product, exists := s.products[rec.ProductID]; exists {
		product.Quantity += rec.QuantitySold
		product.UpdatedAt = time.Now().UTC()
		s.products[rec.ProductID] = product
		level = &domain.StockLevel{ProductID: rec.ProductID, Quantity: product.Quantity}
	}

	delete(s.salesByID, id)
	deleted := rec
	return &deleted, level, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, 64)
	for _, rec := range s.salesByID {
		if !matchesFilter(rec, filter) {
			continue
		}
		result = append(result, rec)
	}
	slices.SortFunc(result, func(a, b domain.SaleRecord) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) SalesSummary(_ context.Context, soldBy string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{}
	for _, rec := range s.salesByID {
		if !matchesFilter(rec, domain.SaleFilter{SoldBy: soldBy, From: from, To: to}) {
			continue
		}
		summary.TotalRevenue += rec.TotalPrice
		summary.TotalProfit += rec.Profit
		summary.SalesCount++
	}
	return summary, nil
}

func (s *Store) DailyAnalytics(_ context.Context, from time.Time) ([]domain.DailyAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[string]*domain.DailyAnalytics, 8)
	for _, rec := range s.salesByID {
		if rec.CreatedAt.Before(from) {
			continue
		}
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &domain.DailyAnalytics{Date: day}
			byDay[day] = entry
		}
		entry.Revenue += rec.TotalPrice
		entry.Profit += rec.Profit
		entry.SalesCount++
	}

	result := make([]domain.DailyAnalytics, 0, len(byDay))
	for _, entry := range byDay {
		result = append(result, *entry)
	}
	slices.SortFunc(result, func(a, b domain.DailyAnalytics) int {
		return strings.Compare(a.Date, b.Date)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func matchesFilter(rec domain.SaleRecord, filter domain.SaleFilter) bool {
	if filter.SoldBy != "" && rec.SoldBy != filter.SoldBy {
		return false
	}
	if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && rec.CreatedAt.After(filter.To) {
		return false
	}
	return true
}
