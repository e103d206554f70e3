package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindNetwork, "sign in failed")

	assert.Equal(t, "sign in failed: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestAuthError_ErrorWithoutCause(t *testing.T) {
	err := InvalidCredentials("Invalid login credentials")
	assert.Equal(t, "Invalid login credentials", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsInvalidCredentials(InvalidCredentials("bad password")))
	assert.True(t, IsNetwork(Network("unreachable")))
	assert.True(t, IsConflict(Conflict("duplicate")))
	assert.True(t, IsValidation(Validation("bad input")))
	assert.False(t, IsConflict(Network("unreachable")))
	assert.False(t, IsNetwork(errors.New("plain")))
}

func TestKindHelpers_Wrapped(t *testing.T) {
	inner := Conflict("role row exists")
	outer := fmt.Errorf("insert role: %w", inner)

	assert.True(t, IsConflict(outer))
	assert.Equal(t, KindConflict, GetKind(outer))
}

func TestFrom_PassesThroughAuthError(t *testing.T) {
	inner := Validation("email required")
	got := From(fmt.Errorf("sign up: %w", inner))
	assert.Same(t, inner, got)
}

func TestFrom_CoercesPlainError(t *testing.T) {
	plain := errors.New("boom")
	got := From(plain)
	require.NotNil(t, got)
	assert.Equal(t, KindUnknown, got.Kind)
	assert.Equal(t, plain, got.Cause)
}

func TestFrom_Nil(t *testing.T) {
	assert.Nil(t, From(nil))
}

func TestGetKind_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), GetKind(errors.New("plain")))
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "user_roles_pkey"}
	err := MapDBError(pgErr)

	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, pgErr))
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "role"}
	assert.True(t, IsValidation(MapDBError(pgErr)))
}

func TestMapDBError_CheckViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.CheckViolation}
	assert.True(t, IsValidation(MapDBError(pgErr)))
}

func TestMapDBError_ContextDeadline(t *testing.T) {
	err := MapDBError(fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.True(t, IsNetwork(err))
}

func TestMapDBError_UnrecognizedPassthrough(t *testing.T) {
	plain := errors.New("not a db error")
	assert.Equal(t, plain, MapDBError(plain))
}

func TestMapDBError_OtherPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	err := MapDBError(pgErr)
	assert.Equal(t, KindUnknown, GetKind(err))
}

func TestMapDBError_Nil(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
}
