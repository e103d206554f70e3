package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	apperrors "github.com/target/portal-identity/internal/errors"
	"github.com/target/portal-identity/internal/mocks"
	mockid "github.com/target/portal-identity/internal/mocks/identity"
	"github.com/target/portal-identity/internal/ports"
	"github.com/target/portal-identity/internal/state"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type identityFixture struct {
	api          *mockid.MockIdentityAPI
	profiles     *mocks.MockProfileStore
	roles        *mocks.MockRoleStore
	institutions *mocks.MockInstitutionStore
	store        *state.Store
	svc          *IdentityService
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &identityFixture{
		api:          &mockid.MockIdentityAPI{},
		profiles:     mocks.NewMockProfileStore(ctrl),
		roles:        mocks.NewMockRoleStore(ctrl),
		institutions: mocks.NewMockInstitutionStore(ctrl),
		store:        state.NewStore(),
	}
	derived, err := NewDerivedDataService(DerivedDataServiceOptions{
		Profiles:     f.profiles,
		Roles:        f.roles,
		Institutions: f.institutions,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	svc, err := NewIdentityService(IdentityServiceOptions{
		API:          f.api,
		Profiles:     f.profiles,
		Roles:        f.roles,
		Institutions: f.institutions,
		Derived:      derived,
		Store:        f.store,
		Logger:       testLogger(),
		Now:          func() time.Time { return testNow },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestIdentityService_SignUp_Officer(t *testing.T) {
	f := newIdentityFixture(t)
	f.api.SignUpFunc = func(_ context.Context, email, _ string, meta ports.SignUpMetadata) (domainid.Identity, error) {
		return domainid.Identity{UserID: "u1", Email: email, DisplayName: meta.FullName}, nil
	}

	f.profiles.EXPECT().
		Insert(gomock.Any(), domainid.Profile{UserID: "u1", FullName: "Pat Officer", CreatedAt: testNow}).
		Return(nil)
	f.roles.EXPECT().
		Insert(gomock.Any(), domainid.RoleAssignment{UserID: "u1", Role: domainid.RoleOfficer, CreatedAt: testNow}).
		Return(nil)

	res, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "pat@example.edu",
		Password: "hunter2!",
		FullName: "Pat Officer",
		Role:     domainid.RoleOfficer,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity.UserID)
	assert.Equal(t, "pat@example.edu", res.Identity.Email)
}

func TestIdentityService_SignUp_InstitutionRecordInserted(t *testing.T) {
	f := newIdentityFixture(t)
	f.api.SignUpFunc = func(_ context.Context, email, _ string, _ ports.SignUpMetadata) (domainid.Identity, error) {
		return domainid.Identity{UserID: "u2", Email: email}, nil
	}

	f.profiles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
	f.roles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)

	var got domainid.Institution
	f.institutions.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, institution domainid.Institution) error {
			got = institution
			return nil
		})

	_, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "registrar@ridge.edu",
		Password: "hunter2!",
		FullName: "Ridge Registrar",
		Role:     domainid.RoleInstitution,
		Institution: &InstitutionInput{
			Name:    "Ridge College",
			Address: "1 Campus Way",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, "Ridge College", got.Name)
	assert.Equal(t, "1 Campus Way", got.Address)
	assert.Equal(t, testNow, got.CreatedAt)
}

func TestIdentityService_SignUp_InstitutionRoleWithoutDetails(t *testing.T) {
	f := newIdentityFixture(t)

	f.profiles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
	f.roles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
	// no institution insert expected

	_, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "registrar@ridge.edu",
		Password: "hunter2!",
		Role:     domainid.RoleInstitution,
	})
	require.NoError(t, err)
}

func TestIdentityService_SignUp_ValidationRejectsBeforeAPICall(t *testing.T) {
	f := newIdentityFixture(t)

	cases := []SignUpInput{
		{Email: "", Password: "x", Role: domainid.RoleOfficer},
		{Email: "a@b.c", Password: "", Role: domainid.RoleOfficer},
		{Email: "a@b.c", Password: "x", Role: "superuser"},
	}
	for _, input := range cases {
		_, err := f.svc.SignUp(context.Background(), input)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	}
	assert.Equal(t, 0, f.api.SignUpCalls)
}

func TestIdentityService_SignUp_ConflictFromAPI(t *testing.T) {
	f := newIdentityFixture(t)
	f.api.SignUpFunc = func(context.Context, string, string, ports.SignUpMetadata) (domainid.Identity, error) {
		return domainid.Identity{}, apperrors.Conflict("email already registered")
	}

	_, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "dup@example.edu",
		Password: "hunter2!",
		Role:     domainid.RoleOfficer,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestIdentityService_SignUp_RoleInsertFailureSurfacesAfterIdentityCreated(t *testing.T) {
	f := newIdentityFixture(t)

	f.profiles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
	f.roles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(apperrors.Unknown("insert failed"))

	_, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "pat@example.edu",
		Password: "hunter2!",
		Role:     domainid.RoleOfficer,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknown, apperrors.GetKind(err))
	assert.Equal(t, 1, f.api.SignUpCalls)
}

func TestIdentityService_SignUp_ProfileInsertFailureTolerated(t *testing.T) {
	f := newIdentityFixture(t)

	f.profiles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(apperrors.Network("timeout"))
	f.roles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)

	res, err := f.svc.SignUp(context.Background(), SignUpInput{
		Email:    "pat@example.edu",
		Password: "hunter2!",
		Role:     domainid.RoleOfficer,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Identity.UserID)
}

func TestIdentityService_SignIn_DoesNotWriteStore(t *testing.T) {
	f := newIdentityFixture(t)

	err := f.svc.SignIn(context.Background(), "pat@example.edu", "hunter2!")
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.SignInCalls)

	// the snapshot only changes when the channel reports the new session
	snap := f.store.Snapshot()
	assert.Nil(t, snap.Identity)
	assert.True(t, snap.Loading)
}

func TestIdentityService_SignIn_InvalidCredentials(t *testing.T) {
	f := newIdentityFixture(t)
	f.api.SignInFunc = func(context.Context, string, string) error {
		return apperrors.InvalidCredentials("wrong password")
	}

	err := f.svc.SignIn(context.Background(), "pat@example.edu", "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidCredentials(err))
}

func TestIdentityService_SignIn_Validation(t *testing.T) {
	f := newIdentityFixture(t)

	assert.True(t, apperrors.IsValidation(f.svc.SignIn(context.Background(), "", "x")))
	assert.True(t, apperrors.IsValidation(f.svc.SignIn(context.Background(), "a@b.c", "")))
	assert.Equal(t, 0, f.api.SignInCalls)
}

func TestIdentityService_SignOut_ClearsStateEvenWhenRevocationFails(t *testing.T) {
	f := newIdentityFixture(t)
	f.api.SignOutFunc = func(context.Context) error {
		return apperrors.Network("connection reset")
	}
	f.store.SetSession(
		&domainid.Identity{UserID: "u1", Email: "pat@example.edu"},
		&domainid.Session{AccessToken: "tok"},
	)

	err := f.svc.SignOut(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))

	snap := f.store.Snapshot()
	assert.Nil(t, snap.Identity)
	assert.Nil(t, snap.Session)
	assert.False(t, snap.SignedIn())
}

func TestIdentityService_RefreshUserData(t *testing.T) {
	f := newIdentityFixture(t)
	f.store.SetSession(&domainid.Identity{UserID: "u1"}, &domainid.Session{AccessToken: "tok"})

	profile := &domainid.Profile{UserID: "u1", FullName: "Pat Officer"}
	role := &domainid.RoleAssignment{UserID: "u1", Role: domainid.RoleOfficer}
	f.profiles.EXPECT().Get(gomock.Any(), "u1").Return(profile, nil)
	f.roles.EXPECT().Get(gomock.Any(), "u1").Return(role, nil)

	f.svc.RefreshUserData(context.Background())

	snap := f.store.Snapshot()
	assert.Equal(t, profile, snap.Profile)
	assert.Equal(t, role, snap.Role)
}

func TestIdentityService_RefreshUserData_SignedOutNoop(t *testing.T) {
	f := newIdentityFixture(t)
	f.store.SetSession(nil, nil)

	// no store expectations; a fetch would fail the controller
	f.svc.RefreshUserData(context.Background())

	snap := f.store.Snapshot()
	assert.Nil(t, snap.Profile)
	assert.Nil(t, snap.Role)
}
