package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/billbook/billbook/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool        db.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row-lock waits in WithTx.
func NewRepository(pool db.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// TxRepository exposes the transactional operations used by the stock mutator.
type TxRepository interface {
	LookupProductID(ctx context.Context, ref ProductRef) (string, error)
	GetProductForUpdate(ctx context.Context, ref ProductRef) (Product, error)
	UpdateStock(ctx context.Context, productID string, stock int) error
	InsertEntry(ctx context.Context, entry Entry) error
}

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds the transactional operations to q, normally a pgx.Tx.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q}
}

// WithTx executes the callback inside a read-committed transaction with the configured lock timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.TxConfig{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// LookupProductID resolves ref without taking a lock.
func (r *txRepository) LookupProductID(ctx context.Context, ref ProductRef) (string, error) {
	column, value := "id", ref.ID
	if ref.SKU != "" {
		column, value = "sku", ref.SKU
	}
	var id string
	if err := r.q.QueryRow(ctx, `SELECT id FROM products WHERE `+column+`=$1`, value).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrProductNotFound, ref)
		}
		return "", db.Classify(err)
	}
	return id, nil
}

const productColumns = `id, product_code, sku, name, cost_price, min_selling_price, selling_price, stock, min_stock`

func (r *txRepository) GetProductForUpdate(ctx context.Context, ref ProductRef) (Product, error) {
	column, value := "id", ref.ID
	if ref.SKU != "" {
		column, value = "sku", ref.SKU
	}
	var p Product
	err := r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE `+column+`=$1 FOR UPDATE`, value).
		Scan(&p.ID, &p.Code, &p.SKU, &p.Name, &p.CostPrice, &p.MinSellingPrice, &p.SellingPrice, &p.Stock, &p.MinStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
		}
		return Product{}, db.Classify(err)
	}
	return p, nil
}

func (r *txRepository) UpdateStock(ctx context.Context, productID string, stock int) error {
	tag, err := r.q.Exec(ctx, `UPDATE products SET stock=$2 WHERE id=$1`, productID, stock)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrProductNotFound, productID)
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.q.Exec(ctx, `INSERT INTO inventory_transactions (id, product_id, type, quantity, source, reason, reference, created_by, stock_before, stock_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, entry.ID, entry.ProductID, string(entry.Direction), entry.Quantity, entry.Source,
		nullString(entry.Reason), nullString(entry.Reference), nullString(entry.CreatedBy), entry.StockBefore, entry.StockAfter, entry.CreatedAt)
	return db.Classify(err)
}

// ListTransactions returns ledger history newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter, since time.Time) (TransactionPage, error) {
	if r == nil || r.pool == nil {
		return TransactionPage{}, errors.New("inventory repository not initialised")
	}
	where := []string{"1=1"}
	args := []any{}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("t.product_id=$%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		where = append(where, fmt.Sprintf("t.type=$%d", len(args)))
	}
	if !since.IsZero() {
		args = append(args, since)
		where = append(where, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	page := TransactionPage{Page: filter.Page, Limit: filter.Limit, Data: []TransactionRow{}}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transactions t WHERE `+clause, args...).Scan(&page.Total); err != nil {
		return TransactionPage{}, db.Classify(err)
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT t.id, t.product_id, t.type, t.quantity, t.source, t.reason, t.reference, t.created_by, t.stock_before, t.stock_after, t.created_at, p.name, p.product_code
FROM inventory_transactions t
JOIN products p ON p.id = t.product_id
WHERE %s
ORDER BY t.created_at DESC, t.id DESC
LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return TransactionPage{}, db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var row TransactionRow
		var reason, reference, createdBy *string
		var direction string
		if err := rows.Scan(&row.ID, &row.ProductID, &direction, &row.Quantity, &row.Source, &reason, &reference, &createdBy,
			&row.StockBefore, &row.StockAfter, &row.CreatedAt, &row.ProductName, &row.ProductCode); err != nil {
			return TransactionPage{}, err
		}
		row.Direction = Direction(direction)
		row.Reason = deref(reason)
		row.Reference = deref(reference)
		row.CreatedBy = deref(createdBy)
		page.Data = append(page.Data, row)
	}
	if err := rows.Err(); err != nil {
		return TransactionPage{}, err
	}
	return page, nil
}

// LowStock lists products whose stock is at or below min_stock, lowest headroom first.
func (r *Repository) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, stock, min_stock FROM products
WHERE stock <= min_stock
ORDER BY stock - min_stock ASC, name ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	items := []LowStockItem{}
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.Stock, &item.MinStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
