package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/billbook/billbook/internal/platform/db"
)

// Repository reads and writes customers through any db.DBTX, so the invoice
// transaction can resolve customers on its own connection.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(q db.DBTX) *Repository {
	return &Repository{db: q}
}

const selectCustomer = `SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''), created_at FROM customers`

// Get fetches a customer by id.
func (r *Repository) Get(ctx context.Context, id string) (Customer, error) {
	return r.scanOne(ctx, selectCustomer+` WHERE id=$1`, id)
}

// GetByPhone fetches the oldest customer registered with phone.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (Customer, error) {
	return r.scanOne(ctx, selectCustomer+` WHERE phone=$1 ORDER BY created_at ASC, id ASC LIMIT 1`, phone)
}

// Create inserts a customer.
func (r *Repository) Create(ctx context.Context, c Customer) error {
	_, err := r.db.Exec(ctx, `INSERT INTO customers (id, name, email, phone, address, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Name, nullString(c.Email), nullString(c.Phone), nullString(c.Address), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("customers: create: %w", db.Classify(err))
	}
	return nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg string) (Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, db.Classify(err)
	}
	return c, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
