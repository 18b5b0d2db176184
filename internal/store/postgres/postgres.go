package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vibelounge/backend/internal/domain"
	"vibelounge/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, cost_price, quantity, reorder_level, supplier, barcode, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.CostPrice, &p.Quantity, &p.ReorderLevel, &p.Supplier, &p.Barcode, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT id, name, category, price, cost_price, quantity, reorder_level, supplier, barcode, created_at, updated_at
		FROM products
		ORDER BY name
	`)
}

func (s *Store) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT id, name, category, price, cost_price, quantity, reorder_level, supplier, barcode, created_at, updated_at
		FROM products
		WHERE quantity <= reorder_level
		ORDER BY quantity ASC, name
	`)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.CostPrice, &p.Quantity, &p.ReorderLevel, &p.Supplier, &p.Barcode, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, cost_price, quantity, reorder_level, supplier, barcode, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.Name, product.Category, product.Price, product.CostPrice, product.Quantity,
		product.ReorderLevel, product.Supplier, product.Barcode, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, cost_price = $5, quantity = $6,
		    reorder_level = $7, supplier = $8, barcode = $9, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.CostPrice,
		product.Quantity, product.ReorderLevel, product.Supplier, product.Barcode)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementStock(ctx context.Context, id string, qty int) (*domain.StockLevel, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	var quantity int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING quantity
	`, id, qty).Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &domain.StockLevel{ProductID: id, Quantity: quantity}, nil
}

// CommitSale writes every sale record and decrements stock for every line in
// one serializable transaction. Product rows are locked up front and
// availability is re-checked against the locked quantities, so two carts
// racing for the same stock cannot both commit past zero.
func (s *Store) CommitSale(ctx context.Context, records []domain.SaleRecord) ([]domain.SaleRecord, []domain.StockLevel, error) {
	if len(records) == 0 {
		return nil, nil, store.ErrInvalidInput
	}

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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, quantity
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, order)
	if err != nil {
		return nil, nil, err
	}
	available := make(map[string]int, len(order))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		available[id] = qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, nil, err
	}
	_ = rows.Close()

	for _, productID := range order {
		qty, ok := available[productID]
		if !ok {
			return nil, nil, store.ErrNotFound
		}
		if qty < needed[productID] {
			return nil, nil, &store.InsufficientStockError{
				ProductID: productID,
				Available: qty,
				Requested: needed[productID],
			}
		}
	}

	for _, rec := range records {
		split, err := json.Marshal(rec.PaymentSplit)
		if err != nil {
			return nil, nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (id, product_id, product_name, quantity_sold, unit_price, total_price,
				payment_split, unit_cost, profit, sold_by, sold_by_role, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, rec.ID, rec.ProductID, rec.ProductName, rec.QuantitySold, rec.UnitPrice, rec.TotalPrice,
			split, rec.UnitCost, rec.Profit, rec.SoldBy, rec.SoldByRole, rec.CreatedAt)
		if err != nil {
			return nil, nil, err
		}
	}

	levels := make([]domain.StockLevel, 0, len(order))
	for _, productID := range order {
		var quantity int
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2, updated_at = now()
			WHERE id = $1 AND quantity >= $2
			RETURNING quantity
		`, productID, needed[productID]).Scan(&quantity)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, &store.InsufficientStockError{
					ProductID: productID,
					Available: available[productID],
					Requested: needed[productID],
				}
			}
			return nil, nil, err
		}
		levels = append(levels, domain.StockLevel{ProductID: productID, Quantity: quantity})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	return records, levels, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	rec, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, product_name, quantity_sold, unit_price, total_price,
			payment_split, unit_cost, profit, sold_by, sold_by_role, created_at
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// DeleteSale restores the sold quantity to the product and removes the
// record, atomically. A sale whose product has since been deleted from the
// catalog is still removable; no stock level is reported in that case.
func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.SaleRecord, *domain.StockLevel, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanSale(tx.QueryRowContext(ctx, `
		SELECT id, product_id, product_name, quantity_sold, unit_price, total_price,
			payment_split, unit_cost, profit, sold_by, sold_by_role, created_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	var level *domain.StockLevel
	var quantity int
	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING quantity
	`, rec.ProductID, rec.QuantitySold).Scan(&quantity)
	if err == nil {
		level = &domain.StockLevel{ProductID: rec.ProductID, Quantity: quantity}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	return rec, level, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity_sold, unit_price, total_price,
			payment_split, unit_cost, profit, sold_by, sold_by_role, created_at
		FROM sales
		WHERE ($1 = '' OR sold_by = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.SoldBy, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, limit)
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) SalesSummary(ctx context.Context, soldBy string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_price), 0), COALESCE(SUM(profit), 0), COUNT(*)
		FROM sales
		WHERE ($1 = '' OR sold_by = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
	`, soldBy, nullTime(from), nullTime(to)).Scan(&summary.TotalRevenue, &summary.TotalProfit, &summary.SalesCount)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return summary, nil
}

func (s *Store) DailyAnalytics(ctx context.Context, from time.Time) ([]domain.DailyAnalytics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COALESCE(SUM(total_price), 0), COALESCE(SUM(profit), 0), COUNT(*)
		FROM sales
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DailyAnalytics, 0, 8)
	for rows.Next() {
		var entry domain.DailyAnalytics
		if err := rows.Scan(&entry.Date, &entry.Revenue, &entry.Profit, &entry.SalesCount); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.SaleRecord, error) {
	var rec domain.SaleRecord
	var split []byte
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.ProductName, &rec.QuantitySold, &rec.UnitPrice,
		&rec.TotalPrice, &split, &rec.UnitCost, &rec.Profit, &rec.SoldBy, &rec.SoldByRole, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if len(split) > 0 {
		if err := json.Unmarshal(split, &rec.PaymentSplit); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
