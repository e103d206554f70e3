package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps record-store write errors to AuthError instances:
//   - Unique constraint violations → Conflict
//   - Check and NOT NULL violations → Validation
//   - Context timeouts/cancellations → Network
//   - Anything else PostgreSQL reports → Unknown
//
// Unrecognized errors are returned unchanged so callers can still wrap them.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &AuthError{
			Kind:    KindNetwork,
			Message: "The record store did not respond in time.",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AuthError{
			Kind:    KindConflict,
			Message: "A record for this user already exists.",
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return &AuthError{
			Kind:    KindValidation,
			Message: "The record was rejected as invalid.",
			Cause:   pgErr,
		}
	default:
		return &AuthError{
			Kind:    KindUnknown,
			Message: "The record store reported an error.",
			Cause:   pgErr,
		}
	}
}
