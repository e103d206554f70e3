package service

// Package service orchestrates the identity core: derived-data fetching,
// session lifecycle reconciliation, and the caller-facing mutation
// operations.

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	"github.com/target/portal-identity/internal/observability/statsd"
	"github.com/target/portal-identity/internal/ports"
)

// DerivedDataServiceOptions groups dependencies for DerivedDataService.
type DerivedDataServiceOptions struct {
	Profiles     ports.ProfileStore
	Roles        ports.RoleStore
	Institutions ports.InstitutionStore
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// DerivedDataService retrieves the records derived from an identity:
// profile, role assignment, and (for the institution role only) the
// institution record.
type DerivedDataService struct {
	profiles     ports.ProfileStore
	roles        ports.RoleStore
	institutions ports.InstitutionStore
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewDerivedDataService constructs a DerivedDataService.
func NewDerivedDataService(opts DerivedDataServiceOptions) (*DerivedDataService, error) {
	if opts.Profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if opts.Roles == nil {
		return nil, errors.New("role store is required")
	}
	if opts.Institutions == nil {
		return nil, errors.New("institution store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DerivedDataService{
		profiles:     opts.Profiles,
		roles:        opts.Roles,
		institutions: opts.Institutions,
		logger:       logger,
		metrics:      opts.Metrics,
	}, nil
}

// Fetch retrieves the derived records for userID. It never returns an
// error: a missing row and a failed lookup both degrade the field to nil,
// failures are logged, and the remaining lookups still run. The
// institutions table is queried only when the fetched role is institution.
func (s *DerivedDataService) Fetch(ctx context.Context, userID string) domainid.Derived {
	start := time.Now()
	var derived domainid.Derived

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := s.profiles.Get(gctx, userID)
		switch {
		case err == nil:
			derived.Profile = profile
		case errors.Is(err, ports.ErrNotFound):
			// row may not exist yet; transient absence, not a failure
		default:
			s.degrade(gctx, "profile", userID, err)
		}
		return nil
	})
	g.Go(func() error {
		role, err := s.roles.Get(gctx, userID)
		switch {
		case err == nil:
			derived.Role = role
		case errors.Is(err, ports.ErrNotFound):
			// a role-less identity is valid but incomplete; the UI treats
			// authorization as undetermined
		default:
			s.degrade(gctx, "role", userID, err)
		}
		return nil
	})
	_ = g.Wait()

	if derived.Role != nil && derived.Role.Role == domainid.RoleInstitution {
		institution, err := s.institutions.Get(ctx, userID)
		switch {
		case err == nil:
			derived.Institution = institution
		case errors.Is(err, ports.ErrNotFound):
		default:
			s.degrade(ctx, "institution", userID, err)
		}
	}

	if s.metrics != nil {
		s.metrics.Timing("derived.fetch", time.Since(start), nil)
	}
	return derived
}

func (s *DerivedDataService) degrade(ctx context.Context, field, userID string, err error) {
	s.logger.WarnContext(ctx, "derived data fetch degraded",
		"field", field,
		"user_id", userID,
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.Count("derived.degraded", 1, map[string]string{"field": field})
	}
}
