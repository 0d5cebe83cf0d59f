package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/billbook/billbook/internal/shared"
)

// PostgreSQL error codes mapped onto the shared taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Classify wraps driver errors with the shared sentinels. Errors that already
// carry a sentinel pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrContention) || errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrInvalidArgument) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeNumericOutOfRange:
		return fmt.Errorf("%w: %s", shared.ErrInvalidArgument, pgErr.Message)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", shared.ErrContention, pgErr.Message)
	}
	return err
}
