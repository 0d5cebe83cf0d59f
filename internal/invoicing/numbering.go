package invoicing

import (
	"context"
	"fmt"
	"time"
)

// FiscalYear is identified by the calendar year its April starts in.
type FiscalYear int

// FiscalYearOf returns the April to March fiscal year containing t in loc.
func FiscalYearOf(t time.Time, loc *time.Location) FiscalYear {
	if loc != nil {
		t = t.In(loc)
	}
	if t.Month() >= time.April {
		return FiscalYear(t.Year())
	}
	return FiscalYear(t.Year() - 1)
}

// Label renders the fiscal year as "24-25".
func (fy FiscalYear) Label() string {
	return fmt.Sprintf("%02d-%02d", int(fy)%100, (int(fy)+1)%100)
}

// FormatNumber renders INV-yy-yy-nnnn.
func FormatNumber(fy FiscalYear, seq int) string {
	return fmt.Sprintf("INV-%s-%04d", fy.Label(), seq)
}

// Sequencer hands out the next per fiscal year sequence value inside the caller's transaction.
// The value must exceed every sequence already used in an invoice number of fy.
type Sequencer interface {
	NextSequence(ctx context.Context, fy FiscalYear) (int, error)
}

// NextNumber allocates the invoice number for asOf.
func NextNumber(ctx context.Context, seq Sequencer, asOf time.Time, loc *time.Location) (string, FiscalYear, error) {
	fy := FiscalYearOf(asOf, loc)
	n, err := seq.NextSequence(ctx, fy)
	if err != nil {
		return "", fy, fmt.Errorf("invoicing: next sequence: %w", err)
	}
	if n <= 0 {
		return "", fy, fmt.Errorf("invoicing: sequence returned %d", n)
	}
	return FormatNumber(fy, n), fy, nil
}
