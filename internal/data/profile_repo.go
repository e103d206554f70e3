package data

// Package data implements the record-store ports against PostgreSQL. Each
// repo covers one table keyed by user id; point reads map a missing row to
// ports.ErrNotFound and writes map database errors to AuthError kinds.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/portal-identity/internal/data/pgxutil"
	domainid "github.com/target/portal-identity/internal/domain/identity"
	apperrors "github.com/target/portal-identity/internal/errors"
	"github.com/target/portal-identity/internal/ports"
)

// ProfileRepo provides database operations for the profiles table.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a ProfileRepo with the real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a ProfileRepo with a custom time
// provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

var _ ports.ProfileStore = (*ProfileRepo)(nil)

// Get retrieves a profile by user id.
func (r *ProfileRepo) Get(ctx context.Context, userID string) (*domainid.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	var out domainid.Profile
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT user_id, full_name, created_at
			FROM profiles
			WHERE user_id = $1
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainid.Profile])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &out, nil
}

// Insert creates the profile row for a newly registered identity.
func (r *ProfileRepo) Insert(ctx context.Context, profile domainid.Profile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return apperrors.Validation("profile user id is required")
	}

	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now().UTC()
	}

	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO profiles (user_id, full_name, created_at)
			VALUES ($1, $2, $3)
		`, profile.UserID, strings.TrimSpace(profile.FullName), createdAt)
		return err
	}); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// TimeProvider abstracts time.Now for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider returns the wall clock.
type RealTimeProvider struct{}

// Now implements TimeProvider.
func (*RealTimeProvider) Now() time.Time { return time.Now() }
