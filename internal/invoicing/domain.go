// Package invoicing composes invoices atomically with their stock ledger side effects.
package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/inventory"
	"github.com/billbook/billbook/internal/shared"
)

// PaymentStatus is the stored payment state of an invoice.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusCancelled PaymentStatus = "cancelled"
	// StatusOverdue is derived at read time and never stored.
	StatusOverdue PaymentStatus = "overdue"
)

// Stored reports whether s may be persisted.
func (s PaymentStatus) Stored() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// LineItem is one product line captured at invoice time.
type LineItem struct {
	ProductID   string          `json:"product_id"`
	SKU         string          `json:"sku,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
}

// Invoice is an issued invoice with its denormalised customer snapshot.
type Invoice struct {
	ID              string          `json:"id"`
	Number          string          `json:"invoice_number"`
	FiscalYear      string          `json:"fiscal_year"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	Items           []LineItem      `json:"items"`
	ItemsCorrupt    bool            `json:"items_corrupt,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"gst_amount"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	// DisplayStatus adds the derived overdue state for unsettled invoices from earlier days.
	DisplayStatus PaymentStatus `json:"display_status,omitempty"`
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ItemRequest asks for quantity units of a product. Any client price is ignored.
type ItemRequest struct {
	ProductID string
	SKU       string
	Quantity  int
}

func (r ItemRequest) ref() inventory.ProductRef {
	return inventory.ProductRef{ID: r.ProductID, SKU: r.SKU}
}

// CreateInvoiceInput is the request to issue an invoice.
type CreateInvoiceInput struct {
	Customer       customers.ResolveInput
	Items          []ItemRequest
	Tax            decimal.Decimal
	Discount       decimal.Decimal
	PaymentStatus  PaymentStatus
	ActorID        string
	IdempotencyKey string
}

// TotalsPolicy toggles optional validation of computed totals.
type TotalsPolicy struct {
	RejectNegativeTotal        bool
	RejectDiscountOverSubtotal bool
	// RejectNegativeAmounts refuses a negative tax or discount on input.
	RejectNegativeAmounts bool
}

// InvoicePage is one page of invoices.
type InvoicePage struct {
	Data  []Invoice `json:"data"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)
	// ErrNoItems rejects invoices without line items.
	ErrNoItems = fmt.Errorf("%w: at least one line item is required", shared.ErrInvalidArgument)
	// ErrCancelledTerminal rejects transitions out of cancelled.
	ErrCancelledTerminal = fmt.Errorf("%w: cancelled invoices cannot change status", shared.ErrConflict)
)
