// Package postgres implements the order and out-of-stock stores on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

// isRetryable reports whether a serializable transaction lost a race and may be re-run.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// wrapError maps driver errors onto repositories.StoreError.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return repositories.NewConflictError(op, "transaction kept conflicting", err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewNotFoundError(op, "record not found")
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return repositories.NewUnavailableError(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return repositories.NewConflictError(op, pgErr.Message, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.TooManyConnections:
			return repositories.NewUnavailableError(op, err)
		}
	}
	return repositories.NewStoreError(op, err)
}
