// Package pgtest starts a throwaway PostgreSQL for integration tests.
package pgtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/billbook/billbook/internal/platform/db"
	_ "github.com/billbook/billbook/internal/testing/guard"
)

var (
	sharedMu        sync.Mutex
	sharedContainer *tcpostgres.PostgresContainer
	sharedDSN       string
)

// DSN returns the connection string of a package-shared migrated container.
func DSN(t *testing.T) string {
	t.Helper()
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedContainer != nil {
		return sharedDSN
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("billbook_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")
	require.NoError(t, db.Migrate(dsn, false), "migrate")
	sharedContainer = container
	sharedDSN = dsn
	return dsn
}

// Pool opens a pool on the shared container with every table truncated.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := db.New(ctx, DSN(t), db.PoolConfig{MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE audit_logs, idempotency_keys, invoice_sequences, invoices, inventory_transactions, customers, products, categories CASCADE`)
	require.NoError(t, err)
	return pool
}

// Product is a seed row for the products table.
type Product struct {
	ID           string
	SKU          string
	Name         string
	SellingPrice string
	Stock        int
	MinStock     int
}

// SeedProducts inserts catalog rows.
func SeedProducts(t *testing.T, pool *pgxpool.Pool, products ...Product) {
	t.Helper()
	for _, p := range products {
		_, err := pool.Exec(context.Background(), `INSERT INTO products (id, product_code, sku, name, cost_price, min_selling_price, selling_price, stock, min_stock)
VALUES ($1, $2, $3, $4, 0, 0, $5::numeric, $6, $7)`, p.ID, "PRD-"+p.SKU, p.SKU, p.Name, p.SellingPrice, p.Stock, p.MinStock)
		require.NoError(t, err)
	}
}

// Stock reads the current stock of a product.
func Stock(t *testing.T, pool *pgxpool.Pool, productID string) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock))
	return stock
}

// Count runs a COUNT(*) query.
func Count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}
