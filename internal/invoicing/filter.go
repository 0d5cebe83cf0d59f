package invoicing

import (
	"fmt"
	"time"

	"github.com/billbook/billbook/internal/shared"
)

// Status filters accepted by the listing.
const (
	FilterPaid      = "paid"
	FilterCancelled = "cancelled"
	FilterOverdue   = "overdue"
	FilterEnding    = "ending"
)

// Range filters accepted by the listing.
const (
	RangeLast10 = "last10"
	RangeLast30 = "last30"
)

// endingWindow is how far ahead of the start of today "ending" reaches.
const endingWindow = 5 * 24 * time.Hour

// InvoiceFilter is the raw listing request.
type InvoiceFilter struct {
	Status string
	Range  string
	Month  string
	Page   int
	Limit  int
}

// ListQuery is the resolved storage query. Zero times are unbounded; To is exclusive.
type ListQuery struct {
	Status    PaymentStatus
	Unsettled bool
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Resolve turns the filter into absolute bounds using now in loc.
func (f InvoiceFilter) Resolve(now time.Time, loc *time.Location) (ListQuery, shared.PageRequest, error) {
	if loc == nil {
		loc = time.UTC
	}
	if f.Limit == 0 {
		f.Limit = 10
	}
	page, err := shared.PageRequest{Page: f.Page, Limit: f.Limit}.Normalize()
	if err != nil {
		return ListQuery{}, page, err
	}
	q := ListQuery{Limit: page.Limit, Offset: page.Offset()}

	local := now.In(loc)
	startOfToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch f.Status {
	case "":
	case FilterPaid:
		q.Status = StatusPaid
	case FilterCancelled:
		q.Status = StatusCancelled
	case FilterOverdue:
		q.Unsettled = true
		q.narrow(time.Time{}, startOfToday)
	case FilterEnding:
		q.Unsettled = true
		q.narrow(startOfToday, startOfToday.Add(endingWindow))
	default:
		return ListQuery{}, page, fmt.Errorf("%w: status must be one of paid, cancelled, overdue, ending", shared.ErrInvalidArgument)
	}

	switch f.Range {
	case "":
	case RangeLast10:
		q.narrow(startOfToday.AddDate(0, 0, -9), time.Time{})
	case RangeLast30:
		q.narrow(startOfToday.AddDate(0, 0, -29), time.Time{})
	default:
		return ListQuery{}, page, fmt.Errorf("%w: range must be last10 or last30", shared.ErrInvalidArgument)
	}

	if f.Month != "" {
		start, err := time.ParseInLocation("2006-01", f.Month, loc)
		if err != nil {
			return ListQuery{}, page, fmt.Errorf("%w: month must be YYYY-MM", shared.ErrInvalidArgument)
		}
		q.narrow(start, start.AddDate(0, 1, 0))
	}
	return q, page, nil
}

// narrow intersects the query window with [from, to).
func (q *ListQuery) narrow(from, to time.Time) {
	if !from.IsZero() && (q.From.IsZero() || from.After(q.From)) {
		q.From = from
	}
	if !to.IsZero() && (q.To.IsZero() || to.Before(q.To)) {
		q.To = to
	}
}

// DeriveDisplayStatus reports overdue for unsettled invoices created before today in loc.
func DeriveDisplayStatus(inv Invoice, now time.Time, loc *time.Location) PaymentStatus {
	if inv.PaymentStatus != StatusPending {
		return inv.PaymentStatus
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	startOfToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if inv.CreatedAt.Before(startOfToday) {
		return StatusOverdue
	}
	return StatusPending
}
