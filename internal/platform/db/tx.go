package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxConfig controls transaction behaviour.
type TxConfig struct {
	// LockTimeout bounds row-lock waits inside the transaction. Zero leaves the server default.
	LockTimeout time.Duration
}

// WithTx executes fn within a READ COMMITTED transaction. Row-level locks taken with
// SELECT ... FOR UPDATE serialise writers on the same rows; any error rolls back.
func WithTx(ctx context.Context, b Beginner, cfg TxConfig, fn func(pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", Classify(err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", Classify(err))
		}
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", Classify(err))
	}

	return nil
}

// Pool is the subset of *pgxpool.Pool used by repositories that both query and open transactions.
type Pool interface {
	DBTX
	Beginner
}
