package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/billbook/billbook/internal/shared"
)

// Store is what Resolve needs from persistence.
type Store interface {
	Get(ctx context.Context, id string) (Customer, error)
	GetByPhone(ctx context.Context, phone string) (Customer, error)
	Create(ctx context.Context, c Customer) error
}

// ResolveInput carries the identifiers and fallback fields of an invoice request.
type ResolveInput struct {
	ID      string
	Phone   string
	Name    string
	Email   string
	Address string
}

// Factory builds the record created when no existing customer matches.
type Factory func(ResolveInput) Customer

// NewFactory returns a Factory stamping uuid ids and the clock's time.
func NewFactory(now func() time.Time) Factory {
	if now == nil {
		now = time.Now
	}
	return func(in ResolveInput) Customer {
		return Customer{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(in.Name),
			Email:     strings.TrimSpace(in.Email),
			Phone:     strings.TrimSpace(in.Phone),
			Address:   strings.TrimSpace(in.Address),
			CreatedAt: now(),
		}
	}
}

// Resolve finds the customer by id, then by phone, and creates one from the
// fallback fields when neither matches. The bool reports whether a record was created.
func Resolve(ctx context.Context, store Store, in ResolveInput, factory Factory) (Customer, bool, error) {
	if id := strings.TrimSpace(in.ID); id != "" {
		c, err := store.Get(ctx, id)
		switch {
		case err == nil:
			return c, false, nil
		case !errors.Is(err, shared.ErrNotFound):
			return Customer{}, false, err
		}
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		c, err := store.GetByPhone(ctx, phone)
		switch {
		case err == nil:
			return c, false, nil
		case !errors.Is(err, shared.ErrNotFound):
			return Customer{}, false, err
		}
	}
	if strings.TrimSpace(in.Name) == "" {
		return Customer{}, false, fmt.Errorf("%w: customer name is required to register a new customer", shared.ErrInvalidArgument)
	}
	if factory == nil {
		factory = NewFactory(nil)
	}
	c := factory(in)
	if err := store.Create(ctx, c); err != nil {
		return Customer{}, false, err
	}
	return c, true, nil
}
