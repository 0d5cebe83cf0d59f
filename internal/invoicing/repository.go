package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/inventory"
	"github.com/billbook/billbook/internal/platform/db"
)

// TxRepository is everything invoice creation touches inside one transaction.
type TxRepository interface {
	inventory.TxRepository
	customers.Store
	Sequencer
	InsertInvoice(ctx context.Context, inv Invoice, items string) error
	GetStatusForUpdate(ctx context.Context, id string) (PaymentStatus, error)
	SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) error
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool        db.Pool
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewRepository constructs Repository.
func NewRepository(pool db.Pool, lockTimeout time.Duration, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{pool: pool, lockTimeout: lockTimeout, logger: logger}
}

type txRepository struct {
	inventory.TxRepository
	*customers.Repository
	q db.DBTX
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("invoice repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.TxConfig{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			TxRepository: inventory.NewTxRepository(tx),
			Repository:   customers.NewRepository(tx),
			q:            tx,
		})
	})
}

// NextSequence increments the fiscal year counter. The result is always above
// the highest INV-yy-yy-NNNN suffix already stored for the year, so a missing
// or lagging counter row cannot hand out a number that is taken.
func (r *txRepository) NextSequence(ctx context.Context, fy FiscalYear) (int, error) {
	label := fy.Label()
	var seq int
	err := r.q.QueryRow(ctx, `
		WITH existing AS (
			SELECT COALESCE(MAX(CAST(split_part(invoice_number, '-', 4) AS INTEGER)), 0) AS n
			FROM invoices
			WHERE invoice_number ~ $2
		)
		INSERT INTO invoice_sequences (fiscal_year, last_value)
		SELECT $1, n + 1 FROM existing
		ON CONFLICT (fiscal_year)
		DO UPDATE SET last_value = GREATEST(invoice_sequences.last_value, EXCLUDED.last_value - 1) + 1, updated_at = NOW()
		RETURNING last_value
	`, label, numberPattern(label)).Scan(&seq)
	if err != nil {
		return 0, db.Classify(err)
	}
	return seq, nil
}

// numberPattern matches the numbers FormatNumber produces for a fiscal year label.
func numberPattern(label string) string {
	return "^INV-" + label + "-[0-9]{1,9}$"
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice, items string) error {
	_, err := r.q.Exec(ctx, `INSERT INTO invoices (id, invoice_number, fiscal_year, customer_id, customer_name, customer_phone, customer_address, items, subtotal, gst_amount, discount, total, payment_status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		inv.ID, inv.Number, inv.FiscalYear, inv.CustomerID, inv.CustomerName, nullString(inv.CustomerPhone), nullString(inv.CustomerAddress),
		items, inv.Subtotal, inv.Tax, inv.Discount, inv.Total, string(inv.PaymentStatus), nullString(inv.CreatedBy), inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("invoicing: insert invoice: %w", db.Classify(err))
	}
	return nil
}

func (r *txRepository) GetStatusForUpdate(ctx context.Context, id string) (PaymentStatus, error) {
	var status string
	err := r.q.QueryRow(ctx, `SELECT payment_status FROM invoices WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvoiceNotFound
		}
		return "", db.Classify(err)
	}
	return PaymentStatus(status), nil
}

func (r *txRepository) SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) error {
	_, err := r.q.Exec(ctx, `UPDATE invoices SET payment_status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return db.Classify(err)
}

const invoiceColumns = `id, invoice_number, fiscal_year, customer_id, customer_name, COALESCE(customer_phone, ''), COALESCE(customer_address, ''), items, subtotal, gst_amount, discount, total, payment_status, COALESCE(created_by, ''), created_at`

// Get loads one invoice. Unreadable items are flagged rather than failing the read.
func (r *Repository) Get(ctx context.Context, id string) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id)
	inv, err := r.scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, db.Classify(err)
	}
	return inv, nil
}

// List returns invoices matching q newest first, plus the total match count.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]Invoice, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("payment_status=$%d", len(args)))
	}
	if q.Unsettled {
		where = append(where, "payment_status NOT IN ('paid', 'cancelled')")
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	args = append(args, q.Limit, q.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	out := []Invoice{}
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repository) scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var items, status string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.FiscalYear, &inv.CustomerID, &inv.CustomerName, &inv.CustomerPhone, &inv.CustomerAddress,
		&items, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &status, &inv.CreatedBy, &inv.CreatedAt); err != nil {
		return Invoice{}, err
	}
	inv.PaymentStatus = PaymentStatus(status)
	decoded, err := DecodeItems(items)
	if err != nil {
		r.logger.Warn("invoice items unreadable", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		inv.ItemsCorrupt = true
		decoded = []LineItem{}
	}
	inv.Items = decoded
	return inv, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
