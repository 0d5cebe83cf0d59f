// Package customers resolves and stores the buyers invoices are issued to.
package customers

import (
	"fmt"
	"time"

	"github.com/billbook/billbook/internal/shared"
)

// Customer is a buyer record.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound indicates the customer does not exist.
var ErrNotFound = fmt.Errorf("customer %w", shared.ErrNotFound)
