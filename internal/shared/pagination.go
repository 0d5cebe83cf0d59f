package shared

import (
	"fmt"
	"math"
)

const (
	// DefaultPerPage is used when a listing omits the limit.
	DefaultPerPage = 20
	// MaxPerPage caps the page size accepted from callers.
	MaxPerPage = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageRequest is the page/limit pair parsed from a listing request.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize fills defaults and rejects out-of-range values.
func (p PageRequest) Normalize() (PageRequest, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = DefaultPerPage
	}
	if p.Page < 1 {
		return p, fmt.Errorf("%w: page must be >= 1", ErrInvalidArgument)
	}
	if p.Limit < 1 || p.Limit > MaxPerPage {
		return p, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxPerPage)
	}
	return p, nil
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
