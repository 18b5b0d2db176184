package domain

import "time"

// Tender identifies a payment instrument. The set is open: storage and
// allocation treat tenders as opaque keys, only the boundary input shape
// enumerates the ones the outlet currently accepts.
const (
	TenderCash        = "cash"
	TenderMobileMoney = "mobile-money"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// Actor is the caller identity resolved by the identity collaborator.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Price        float64   `json:"price"`
	CostPrice    float64   `json:"cost_price"`
	Quantity     int       `json:"quantity"`
	ReorderLevel int       `json:"reorder_level"`
	Supplier     string    `json:"supplier,omitempty"`
	Barcode      string    `json:"barcode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsLowStock reports whether the product has fallen to its reorder level.
func (p Product) IsLowStock() bool {
	return p.Quantity <= p.ReorderLevel
}

type ProductCreateRequest struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	CostPrice    float64 `json:"cost_price"`
	Quantity     int     `json:"quantity"`
	ReorderLevel int     `json:"reorder_level"`
	Supplier     string  `json:"supplier,omitempty"`
	Barcode      string  `json:"barcode,omitempty"`
}

type ProductUpdateRequest struct {
	Name         *string  `json:"name,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	CostPrice    *float64 `json:"cost_price,omitempty"`
	Quantity     *int     `json:"quantity,omitempty"`
	ReorderLevel *int     `json:"reorder_level,omitempty"`
	Supplier     *string  `json:"supplier,omitempty"`
	Barcode      *string  `json:"barcode,omitempty"`
}

// CartLine is one caller-supplied line of a proposed sale. Never persisted.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PaymentInput is the boundary shape of a declared payment. It is converted
// to a PaymentDeclaration once, before the core is entered.
type PaymentInput struct {
	Cash        float64 `json:"cash,omitempty"`
	MobileMoney float64 `json:"mobile_money,omitempty"`
}

// PaymentDeclaration maps tender to the amount declared for that tender.
type PaymentDeclaration map[string]float64

// Declaration expands the input shape into the open tender map.
func (p PaymentInput) Declaration() PaymentDeclaration {
	return PaymentDeclaration{
		TenderCash:        p.Cash,
		TenderMobileMoney: p.MobileMoney,
	}
}

// Total sums every declared tender amount.
func (d PaymentDeclaration) Total() float64 {
	total := 0.0
	for _, amount := range d {
		total += amount
	}
	return total
}

// ValidatedLine is a cart line enriched with live catalog data. It exists
// only inside one sale attempt and is discarded after commit or abort.
type ValidatedLine struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   float64
	UnitCost    float64
	LineTotal   float64
	LineProfit  float64
}

// SaleRecord is the persisted, auditable unit of a sale: one record per cart
// line. Lines of the same sale share SoldBy and CreatedAt but have no
// aggregate root. Immutable once written, except for deletion by reversal.
type SaleRecord struct {
	ID           string             `json:"id"`
	ProductID    string             `json:"product_id"`
	ProductName  string             `json:"product_name"`
	QuantitySold int                `json:"quantity_sold"`
	UnitPrice    float64            `json:"unit_price"`
	TotalPrice   float64            `json:"total_price"`
	PaymentSplit map[string]float64 `json:"payment_split"`
	UnitCost     float64            `json:"unit_cost"`
	Profit       float64            `json:"profit"`
	SoldBy       string             `json:"sold_by"`
	SoldByRole   string             `json:"sold_by_role"`
	CreatedAt    time.Time          `json:"created_at"`
}

type SaleRequest struct {
	Items   []CartLine   `json:"items"`
	Payment PaymentInput `json:"payment"`
	Actor   Actor        `json:"actor"`
}

type SaleSummary struct {
	TotalRevenue  float64            `json:"total_revenue"`
	TotalProfit   float64            `json:"total_profit"`
	TotalItems    int                `json:"total_items"`
	PaymentTotals map[string]float64 `json:"payment_totals"`
}

type SaleResponse struct {
	Lines   []SaleRecord `json:"lines"`
	Summary SaleSummary  `json:"summary"`
}

type ReversalRequest struct {
	SaleRecordID string `json:"sale_record_id"`
	Actor        Actor  `json:"actor"`
}

type ReversalResponse struct {
	SaleRecordID     string `json:"sale_record_id"`
	ProductID        string `json:"product_id"`
	QuantityReturned int    `json:"quantity_returned"`
}

// StockLevel is the post-mutation quantity of one product, published with
// stock.updated events.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SaleFilter narrows ledger queries. Zero values mean no constraint.
type SaleFilter struct {
	SoldBy string
	From   time.Time
	To     time.Time
	Limit  int
}

type SalesSummary struct {
	TotalRevenue float64 `json:"total_revenue"`
	TotalProfit  float64 `json:"total_profit"`
	SalesCount   int     `json:"sales_count"`
}

type DailyAnalytics struct {
	Date       string  `json:"date"`
	Revenue    float64 `json:"revenue"`
	Profit     float64 `json:"profit"`
	SalesCount int     `json:"sales_count"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
