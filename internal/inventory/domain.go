package inventory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbook/billbook/internal/shared"
)

// Direction enumerates ledger movement directions.
type Direction string

const (
	// DirectionIn increases stock.
	DirectionIn Direction = "IN"
	// DirectionOut decreases stock.
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is IN or OUT.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Source tags written on ledger entries.
const (
	SourceMaterialInward  = "MATERIAL_INWARD"
	SourceMaterialOutward = "MATERIAL_OUTWARD"
	SourceInvoice         = "INVOICE"
)

// Product is the catalog row as seen by the stock mutator.
type Product struct {
	ID              string          `json:"id"`
	Code            string          `json:"product_code"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	MinSellingPrice decimal.Decimal `json:"min_selling_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	Stock           int             `json:"stock"`
	MinStock        int             `json:"min_stock"`
}

// ProductRef identifies a product by SKU or id. SKU wins when both are set.
type ProductRef struct {
	ID  string
	SKU string
}

// Empty reports whether neither identifier is set.
func (r ProductRef) Empty() bool {
	return r.ID == "" && r.SKU == ""
}

func (r ProductRef) String() string {
	if r.SKU != "" {
		return "sku " + r.SKU
	}
	return "id " + r.ID
}

// Movement is one requested stock change.
type Movement struct {
	Product   ProductRef
	Direction Direction
	Quantity  int
	Source    string
	Reason    string
	ActorID   string
	// Reference points at the document that caused the movement, such as an invoice id.
	Reference string
}

// Entry is an immutable stock ledger record.
type Entry struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Direction   Direction `json:"type"`
	Quantity    int       `json:"quantity"`
	Source      string    `json:"source"`
	Reason      string    `json:"reason,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	StockBefore int       `json:"stock_before"`
	StockAfter  int       `json:"stock_after"`
	CreatedAt   time.Time `json:"created_at"`
}

// Applied is the result of one mutation: the ledger entry and the product after the write.
type Applied struct {
	Entry   Entry
	Product Product
}

// InwardInput describes a material inward adjustment.
type InwardInput struct {
	Product  ProductRef
	Quantity int
	Reason   string
	ActorID  string
}

// OutwardInput describes a material outward adjustment. Reason is mandatory.
type OutwardInput struct {
	Product  ProductRef
	Quantity int
	Reason   string
	ActorID  string
}

// TransactionFilter narrows the ledger history listing.
type TransactionFilter struct {
	ProductID string
	Direction Direction
	Days      int
	Page      int
	Limit     int
}

// TransactionRow is a ledger entry joined with product display fields.
type TransactionRow struct {
	Entry
	ProductName string `json:"product_name"`
	ProductCode string `json:"product_code"`
}

// TransactionPage is one page of ledger history.
type TransactionPage struct {
	Data  []TransactionRow `json:"data"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// LowStockItem is a product at or below its reorder level.
type LowStockItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
}

// MaxStock is the largest quantity or stock level the INTEGER columns can hold.
const MaxStock = math.MaxInt32

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than 0", shared.ErrInvalidArgument)

// ErrQuantityTooLarge indicates a quantity or resulting stock above MaxStock.
var ErrQuantityTooLarge = fmt.Errorf("%w: quantity exceeds the maximum stock of %d", shared.ErrInvalidArgument, MaxStock)

// ErrReasonRequired is returned by outward adjustments without a reason.
var ErrReasonRequired = fmt.Errorf("%w: reason is required for outward adjustments", shared.ErrInvalidArgument)

// ErrProductNotFound indicates the referenced product does not exist.
var ErrProductNotFound = fmt.Errorf("product %w", shared.ErrNotFound)

// InsufficientStockError reports a mutation that would drive stock negative.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}

// Unwrap ties the error to the shared taxonomy.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// ProblemExtensions exposes the offending product and quantities to HTTP clients.
func (e *InsufficientStockError) ProblemExtensions() map[string]any {
	return map[string]any{
		"product_id":   e.ProductID,
		"product_name": e.ProductName,
		"requested":    e.Requested,
		"available":    e.Available,
	}
}

// AsInsufficientStock extracts the typed error when present.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
