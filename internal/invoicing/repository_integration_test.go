//go:build integration

package invoicing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/inventory"
	"github.com/billbook/billbook/internal/invoicing"
	"github.com/billbook/billbook/internal/shared"
	"github.com/billbook/billbook/internal/testing/pgtest"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func newService(pool *pgxpool.Pool, now time.Time) *invoicing.Service {
	clock := func() time.Time { return now }
	stock := inventory.NewService(nil, shared.NewAuditLogger(pool), inventory.ServiceConfig{Location: ist, Now: clock})
	return invoicing.NewService(invoicing.NewRepository(pool, 5*time.Second, nil), stock, invoicing.ServiceConfig{
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       shared.NewAuditLogger(pool),
		Location:    ist,
		Now:         clock,
	})
}

func TestPostgresConcurrentInvoicesGetUniqueNumbers(t *testing.T) {
	pool := pgtest.Pool(t)
	pgtest.SeedProducts(t, pool,
		pgtest.Product{ID: "pa", SKU: "A", Name: "Alpha", SellingPrice: "100", Stock: 100},
		pgtest.Product{ID: "pb", SKU: "B", Name: "Beta", SellingPrice: "50", Stock: 100})
	svc := newService(pool, time.Date(2024, time.August, 14, 10, 0, 0, 0, ist))

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			items := []invoicing.ItemRequest{{ProductID: "pa", Quantity: 1}, {ProductID: "pb", Quantity: 2}}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			_, errs[i] = svc.CreateInvoice(context.Background(), invoicing.CreateInvoiceInput{
				Customer: customers.ResolveInput{Name: fmt.Sprintf("Buyer %d", i), Phone: fmt.Sprintf("90000%05d", i)},
				Items:    items,
				ActorID:  "u1",
			})
		}(i)
	}
	close(start)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, n, pgtest.Count(t, pool, `SELECT COUNT(DISTINCT invoice_number) FROM invoices`))
	require.Equal(t, 1, pgtest.Count(t, pool, `SELECT COUNT(*) FROM invoices WHERE invoice_number=$1`, fmt.Sprintf("INV-24-25-%04d", n)))
	require.Equal(t, 100-n, pgtest.Stock(t, pool, "pa"))
	require.Equal(t, 100-2*n, pgtest.Stock(t, pool, "pb"))
	require.Equal(t, 2*n, pgtest.Count(t, pool, `SELECT COUNT(*) FROM inventory_transactions WHERE source='INVOICE'`))
}

func TestPostgresInvoiceRollsBackOnInsufficientStock(t *testing.T) {
	pool := pgtest.Pool(t)
	pgtest.SeedProducts(t, pool,
		pgtest.Product{ID: "pa", SKU: "A", Name: "Alpha", SellingPrice: "100", Stock: 10},
		pgtest.Product{ID: "pb", SKU: "B", Name: "Beta", SellingPrice: "50", Stock: 3})
	svc := newService(pool, time.Date(2024, time.August, 14, 10, 0, 0, 0, ist))

	_, err := svc.CreateInvoice(context.Background(), invoicing.CreateInvoiceInput{
		Customer:       customers.ResolveInput{Name: "New Buyer", Phone: "9000000001"},
		Items:          []invoicing.ItemRequest{{ProductID: "pa", Quantity: 2}, {ProductID: "pb", Quantity: 10}},
		IdempotencyKey: "rollback-1",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 10, pgtest.Stock(t, pool, "pa"))
	require.Equal(t, 3, pgtest.Stock(t, pool, "pb"))
	require.Zero(t, pgtest.Count(t, pool, `SELECT COUNT(*) FROM inventory_transactions`))
	require.Zero(t, pgtest.Count(t, pool, `SELECT COUNT(*) FROM invoices`))
	require.Zero(t, pgtest.Count(t, pool, `SELECT COUNT(*) FROM customers`))
	require.Zero(t, pgtest.Count(t, pool, `SELECT COUNT(*) FROM invoice_sequences`))
	require.Zero(t, pgtest.Count(t, pool, `SELECT COUNT(*) FROM idempotency_keys`))
}

func TestPostgresSequenceStartsAboveExistingNumbers(t *testing.T) {
	pool := pgtest.Pool(t)
	pgtest.SeedProducts(t, pool, pgtest.Product{ID: "pa", SKU: "A", Name: "Alpha", SellingPrice: "10", Stock: 10})
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO customers (id, name, created_at) VALUES ('c1', 'Legacy', NOW())`)
	require.NoError(t, err)
	for i, legacy := range []struct {
		number string
		fy     string
		at     time.Time
	}{
		{"INV-24-25-0001", "24-25", time.Date(2024, time.May, 1, 10, 0, 0, 0, ist)},
		{"INV-24-25-0003", "24-25", time.Date(2024, time.June, 1, 10, 0, 0, 0, ist)},
		{"INV-23-24-0042", "23-24", time.Date(2024, time.March, 1, 10, 0, 0, 0, ist)},
	} {
		_, err := pool.Exec(ctx, `INSERT INTO invoices (id, invoice_number, fiscal_year, customer_id, customer_name, items, subtotal, total, created_at)
VALUES ($1, $2, $3, 'c1', 'Legacy', $4, 10, 10, $5)`,
			fmt.Sprintf("legacy-%d", i), legacy.number, legacy.fy,
			`[{'product_id': 'pa', 'product_name': 'Alpha', 'quantity': 1, 'price': 10.0, 'total': 10.0}]`, legacy.at)
		require.NoError(t, err)
	}

	svc := newService(pool, time.Date(2024, time.August, 14, 10, 0, 0, 0, ist))
	inv, err := svc.CreateInvoice(ctx, invoicing.CreateInvoiceInput{
		Customer: customers.ResolveInput{ID: "c1"},
		Items:    []invoicing.ItemRequest{{SKU: "A", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "INV-24-25-0004", inv.Number)

	_, err = pool.Exec(ctx, `UPDATE invoice_sequences SET last_value = 1 WHERE fiscal_year = '24-25'`)
	require.NoError(t, err)
	next, err := svc.CreateInvoice(ctx, invoicing.CreateInvoiceInput{
		Customer: customers.ResolveInput{ID: "c1"},
		Items:    []invoicing.ItemRequest{{SKU: "A", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "INV-24-25-0005", next.Number)

	legacy, err := svc.GetInvoice(ctx, "legacy-0")
	require.NoError(t, err)
	require.False(t, legacy.ItemsCorrupt)
	require.Len(t, legacy.Items, 1)
	require.Equal(t, "10", legacy.Items[0].Price.String())

	_, err = pool.Exec(ctx, `UPDATE invoices SET items='garbage' WHERE id='legacy-1'`)
	require.NoError(t, err)
	broken, err := svc.GetInvoice(ctx, "legacy-1")
	require.NoError(t, err)
	require.True(t, broken.ItemsCorrupt)
	require.Empty(t, broken.Items)

	page, err := svc.ListInvoices(ctx, invoicing.InvoiceFilter{Month: "2024-08"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}

func TestPostgresPaymentStatusTransitions(t *testing.T) {
	pool := pgtest.Pool(t)
	pgtest.SeedProducts(t, pool, pgtest.Product{ID: "pa", SKU: "A", Name: "Alpha", SellingPrice: "10", Stock: 10})
	svc := newService(pool, time.Date(2024, time.August, 14, 10, 0, 0, 0, ist))
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, invoicing.CreateInvoiceInput{
		Customer: customers.ResolveInput{Name: "Buyer"},
		Items:    []invoicing.ItemRequest{{ProductID: "pa", Quantity: 4}},
	})
	require.NoError(t, err)
	_, err = svc.UpdatePaymentStatus(ctx, inv.ID, invoicing.StatusCancelled, "u1")
	require.NoError(t, err)
	_, err = svc.UpdatePaymentStatus(ctx, inv.ID, invoicing.StatusPaid, "u1")
	require.ErrorIs(t, err, invoicing.ErrCancelledTerminal)
	require.Equal(t, 6, pgtest.Stock(t, pool, "pa"))
	require.Equal(t, 2, pgtest.Count(t, pool, `SELECT COUNT(*) FROM audit_logs WHERE entity='invoice' AND entity_id=$1`, inv.ID))
}
