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

// InstitutionRepo provides database operations for the institutions table.
// Rows exist only for identities with the institution role; the fetcher
// never queries this table for other roles.
type InstitutionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewInstitutionRepo creates an InstitutionRepo with the real time provider.
func NewInstitutionRepo(db *sql.DB) *InstitutionRepo {
	return &InstitutionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewInstitutionRepoWithTimeProvider creates an InstitutionRepo with a
// custom time provider.
func NewInstitutionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *InstitutionRepo {
	return &InstitutionRepo{DB: db, timeProvider: tp}
}

var _ ports.InstitutionStore = (*InstitutionRepo)(nil)

// Get retrieves the institution record for a user id.
func (r *InstitutionRepo) Get(ctx context.Context, userID string) (*domainid.Institution, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	var out domainid.Institution
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT user_id, name, type, state, district, address, established_year, created_at
			FROM institutions
			WHERE user_id = $1
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainid.Institution])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("get institution: %w", err)
	}
	return &out, nil
}

// Insert creates the institution row for a newly registered institution
// identity, applying the domain defaults for omitted attributes.
func (r *InstitutionRepo) Insert(ctx context.Context, institution domainid.Institution) error {
	if strings.TrimSpace(institution.UserID) == "" {
		return apperrors.Validation("institution user id is required")
	}

	institution.Normalize()
	if institution.Name == "" {
		return apperrors.Validation("institution name is required")
	}

	createdAt := institution.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now().UTC()
	}

	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO institutions (
				user_id, name, type, state, district, address, established_year, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			institution.UserID,
			institution.Name,
			institution.Type,
			institution.State,
			institution.District,
			institution.Address,
			institution.EstablishedYear,
			createdAt,
		)
		return err
	}); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}
