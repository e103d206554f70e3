package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/target/portal-identity/internal/data/pgxutil"
	domainid "github.com/target/portal-identity/internal/domain/identity"
	apperrors "github.com/target/portal-identity/internal/errors"
	"github.com/target/portal-identity/internal/ports"
)

// RoleRepo provides database operations for the user_roles table.
type RoleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRoleRepo creates a RoleRepo with the real time provider.
func NewRoleRepo(db *sql.DB) *RoleRepo {
	return &RoleRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewRoleRepoWithTimeProvider creates a RoleRepo with a custom time provider.
func NewRoleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RoleRepo {
	return &RoleRepo{DB: db, timeProvider: tp}
}

var _ ports.RoleStore = (*RoleRepo)(nil)

// Get retrieves the role assignment for a user id.
func (r *RoleRepo) Get(ctx context.Context, userID string) (*domainid.RoleAssignment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	var out domainid.RoleAssignment
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT user_id, role, created_at
			FROM user_roles
			WHERE user_id = $1
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainid.RoleAssignment])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("get role assignment: %w", err)
	}
	return &out, nil
}

// Insert creates the role assignment row for a newly registered identity.
// A duplicate row surfaces as a conflict AuthError.
func (r *RoleRepo) Insert(ctx context.Context, assignment domainid.RoleAssignment) error {
	if strings.TrimSpace(assignment.UserID) == "" {
		return apperrors.Validation("role assignment user id is required")
	}
	if _, err := domainid.ParseRole(string(assignment.Role)); err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "invalid role assignment")
	}

	createdAt := assignment.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now().UTC()
	}

	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO user_roles (user_id, role, created_at)
			VALUES ($1, $2, $3)
		`, assignment.UserID, assignment.Role, createdAt)
		return err
	}); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}
