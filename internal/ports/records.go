package ports

import (
	"context"

	domainid "github.com/target/portal-identity/internal/domain/identity"
)

// Record-store ports cover the three tables keyed by user id. Point reads
// return ErrNotFound when no row exists; a missing row is expected state,
// not a failure. Inserts map database errors through errors.MapDBError.

// ProfileStore reads and writes the profiles table.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domainid.Profile, error)
	Insert(ctx context.Context, profile domainid.Profile) error
}

// RoleStore reads and writes the user_roles table.
type RoleStore interface {
	Get(ctx context.Context, userID string) (*domainid.RoleAssignment, error)
	Insert(ctx context.Context, assignment domainid.RoleAssignment) error
}

// InstitutionStore reads and writes the institutions table.
type InstitutionStore interface {
	Get(ctx context.Context, userID string) (*domainid.Institution, error)
	Insert(ctx context.Context, institution domainid.Institution) error
}

// ErrNotFound is returned by record-store point reads when no row exists.
type notFoundError struct{}

func (notFoundError) Error() string { return "record not found" }

var ErrNotFound error = notFoundError{}
