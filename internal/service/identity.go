package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	apperrors "github.com/target/portal-identity/internal/errors"
	"github.com/target/portal-identity/internal/observability/statsd"
	"github.com/target/portal-identity/internal/ports"
	"github.com/target/portal-identity/internal/state"
)

// IdentityServiceOptions groups dependencies for IdentityService.
type IdentityServiceOptions struct {
	API          ports.IdentityAPI
	Profiles     ports.ProfileStore
	Roles        ports.RoleStore
	Institutions ports.InstitutionStore
	Derived      *DerivedDataService
	Store        *state.Store
	Logger       *slog.Logger
	Metrics      statsd.Sink

	// Now overrides the clock in tests.
	Now func() time.Time
}

// IdentityService exposes the caller-facing identity mutations: SignUp,
// SignIn, SignOut, and RefreshUserData. Every failure crossing this
// boundary is an *errors.AuthError; nothing panics or re-throws.
type IdentityService struct {
	api          ports.IdentityAPI
	profiles     ports.ProfileStore
	roles        ports.RoleStore
	institutions ports.InstitutionStore
	derived      *DerivedDataService
	store        *state.Store
	logger       *slog.Logger
	metrics      statsd.Sink
	now          func() time.Time
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(opts IdentityServiceOptions) (*IdentityService, error) {
	if opts.API == nil {
		return nil, errors.New("identity API is required")
	}
	if opts.Profiles == nil || opts.Roles == nil || opts.Institutions == nil {
		return nil, errors.New("record stores are required")
	}
	if opts.Derived == nil {
		return nil, errors.New("derived data service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &IdentityService{
		api:          opts.API,
		profiles:     opts.Profiles,
		roles:        opts.Roles,
		institutions: opts.Institutions,
		derived:      opts.Derived,
		store:        opts.Store,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
	}, nil
}

// InstitutionInput carries caller-supplied institution attributes.
// Omitted fields take the domain defaults on insert: type "college",
// state and district empty.
type InstitutionInput struct {
	Name            string
	Type            string
	State           string
	District        string
	Address         string
	EstablishedYear int
}

// SignUpInput groups parameters for SignUp. Institution is consulted only
// when Role is institution.
type SignUpInput struct {
	Email       string
	Password    string
	FullName    string
	Role        domainid.Role
	Institution *InstitutionInput
}

// SignUpResult contains the outcome of a successful sign-up.
type SignUpResult struct {
	Identity domainid.Identity
}

// SignUp registers a new identity, then writes its role assignment and,
// for the institution role with supplied data, the institution record.
//
// The steps are sequential and not transactional: the result reflects the
// first failure, and side effects from earlier steps persist. An identity
// whose role insert failed stays created and role-less; a caller retrying
// the whole sign-up must expect a conflict on the email. The profile row
// is a follow-up write whose failure only delays profile availability.
func (s *IdentityService) SignUp(ctx context.Context, input SignUpInput) (*SignUpResult, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, apperrors.Validation("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.Validation("password is required")
	}
	role, err := domainid.ParseRole(string(input.Role))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "sign up rejected")
	}

	ident, err := s.api.SignUp(ctx, email, input.Password, ports.SignUpMetadata{FullName: input.FullName})
	if err != nil {
		s.count("signup", "identity", err)
		return nil, apperrors.From(err)
	}

	createdAt := s.now().UTC()

	if perr := s.profiles.Insert(ctx, domainid.Profile{
		UserID:    ident.UserID,
		FullName:  strings.TrimSpace(input.FullName),
		CreatedAt: createdAt,
	}); perr != nil {
		// Transient absence, not a sign-up failure: the profile fetch
		// tolerates a missing row until it appears.
		s.logger.WarnContext(ctx, "profile insert failed after sign-up",
			"user_id", ident.UserID, "error", perr)
	}

	if rerr := s.roles.Insert(ctx, domainid.RoleAssignment{
		UserID:    ident.UserID,
		Role:      role,
		CreatedAt: createdAt,
	}); rerr != nil {
		s.count("signup", "role", rerr)
		return nil, apperrors.From(rerr)
	}

	if role == domainid.RoleInstitution && input.Institution != nil {
		institution := domainid.Institution{
			UserID:          ident.UserID,
			Name:            input.Institution.Name,
			Type:            input.Institution.Type,
			State:           input.Institution.State,
			District:        input.Institution.District,
			Address:         input.Institution.Address,
			EstablishedYear: input.Institution.EstablishedYear,
			CreatedAt:       createdAt,
		}
		if ierr := s.institutions.Insert(ctx, institution); ierr != nil {
			s.count("signup", "institution", ierr)
			return nil, apperrors.From(ierr)
		}
	}

	s.count("signup", "", nil)
	return &SignUpResult{Identity: ident}, nil
}

// SignIn authenticates with an email/password pair. On success the channel
// observes the resulting session asynchronously; the store is not written
// here.
func (s *IdentityService) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.Validation("email is required")
	}
	if password == "" {
		return apperrors.Validation("password is required")
	}

	if err := s.api.SignInWithPassword(ctx, email, password); err != nil {
		s.count("signin", "", err)
		return apperrors.From(err)
	}
	s.count("signin", "", nil)
	return nil
}

// SignOut revokes the session at the identity service and clears the
// local snapshot. The local clear is unconditional: state never retains a
// session the user attempted to end, even when the revocation call failed
// in transit.
func (s *IdentityService) SignOut(ctx context.Context) error {
	err := s.api.SignOut(ctx)
	s.store.Reset()
	if err != nil {
		s.count("signout", "", err)
		return apperrors.From(err)
	}
	s.count("signout", "", nil)
	return nil
}

// RefreshUserData re-runs the derived-data fetch for the current identity
// and overwrites the derived fields. It is a no-op when signed out, and a
// result for an identity that changed mid-fetch is discarded.
func (s *IdentityService) RefreshUserData(ctx context.Context) {
	snap := s.store.Snapshot()
	if snap.Identity == nil {
		return
	}

	userID := snap.Identity.UserID
	derived := s.derived.Fetch(ctx, userID)
	if !s.store.SetDerived(userID, derived) {
		s.logger.DebugContext(ctx, "refresh discarded; identity changed mid-fetch", "user_id", userID)
	}
}

func (s *IdentityService) count(op, step string, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"outcome": "success"}
	if err != nil {
		tags["outcome"] = "failure"
		tags["kind"] = string(apperrors.From(err).Kind)
	}
	if step != "" {
		tags["step"] = step
	}
	s.metrics.Count(op, 1, tags)
}
