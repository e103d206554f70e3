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

type controllerFixture struct {
	channel      *mockid.MockAuthChannel
	profiles     *mocks.MockProfileStore
	roles        *mocks.MockRoleStore
	institutions *mocks.MockInstitutionStore
	store        *state.Store
	ctrl         *SessionController
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	mockCtrl := gomock.NewController(t)
	f := &controllerFixture{
		channel:      mockid.NewMockAuthChannel(),
		profiles:     mocks.NewMockProfileStore(mockCtrl),
		roles:        mocks.NewMockRoleStore(mockCtrl),
		institutions: mocks.NewMockInstitutionStore(mockCtrl),
		store:        state.NewStore(),
	}
	derived, err := NewDerivedDataService(DerivedDataServiceOptions{
		Profiles:     f.profiles,
		Roles:        f.roles,
		Institutions: f.institutions,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	ctrl, err := NewSessionController(SessionControllerOptions{
		Channel: f.channel,
		Derived: derived,
		Store:   f.store,
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func TestSessionController_Start_SubscribesBeforeInitialQuery(t *testing.T) {
	f := newControllerFixture(t)

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	require.Len(t, f.channel.Order, 2)
	assert.Equal(t, []string{"subscribe", "current_session"}, f.channel.Order)
}

func TestSessionController_Start_NoSessionResolvesLoading(t *testing.T) {
	f := newControllerFixture(t)

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Identity)
	assert.False(t, snap.SignedIn())
}

func TestSessionController_Start_RestoredSessionFetchesDerived(t *testing.T) {
	f := newControllerFixture(t)
	f.channel.State = ports.AuthState{
		Identity: &domainid.Identity{UserID: "u1", Email: "pat@example.edu"},
		Session:  &domainid.Session{AccessToken: "tok"},
	}

	profile := &domainid.Profile{UserID: "u1", FullName: "Pat Officer"}
	role := &domainid.RoleAssignment{UserID: "u1", Role: domainid.RoleOfficer}
	f.profiles.EXPECT().Get(gomock.Any(), "u1").Return(profile, nil)
	f.roles.EXPECT().Get(gomock.Any(), "u1").Return(role, nil)

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	// identity and session land synchronously
	snap := f.store.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "u1", snap.Identity.UserID)
	assert.True(t, snap.SignedIn())

	// derived data lands asynchronously from the worker
	assert.Eventually(t, func() bool {
		return f.store.Snapshot().Profile != nil
	}, 2*time.Second, 10*time.Millisecond)
	snap = f.store.Snapshot()
	assert.Equal(t, profile, snap.Profile)
	assert.Equal(t, role, snap.Role)
}

func TestSessionController_Start_InitialQueryFailureDegradesToSignedOut(t *testing.T) {
	f := newControllerFixture(t)
	f.channel.CurrentSessionFunc = func(context.Context) (ports.AuthState, error) {
		return ports.AuthState{}, apperrors.Network("gateway timeout")
	}

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.False(t, snap.SignedIn())
}

func TestSessionController_ChannelEventUpdatesStore(t *testing.T) {
	f := newControllerFixture(t)

	profile := &domainid.Profile{UserID: "u1", FullName: "Pat Officer"}
	f.profiles.EXPECT().Get(gomock.Any(), "u1").Return(profile, nil)
	f.roles.EXPECT().Get(gomock.Any(), "u1").Return(nil, ports.ErrNotFound)

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	f.channel.FireChange(ports.AuthState{
		Identity: &domainid.Identity{UserID: "u1"},
		Session:  &domainid.Session{AccessToken: "tok"},
	})

	snap := f.store.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "u1", snap.Identity.UserID)

	assert.Eventually(t, func() bool {
		return f.store.Snapshot().Profile != nil
	}, 2*time.Second, 10*time.Millisecond)

	f.channel.FireChange(ports.AuthState{})
	snap = f.store.Snapshot()
	assert.Nil(t, snap.Identity)
	assert.Nil(t, snap.Profile)
}

func TestSessionController_StaleFetchDiscarded(t *testing.T) {
	f := newControllerFixture(t)

	gate := make(chan struct{})
	fetchingA := make(chan struct{})

	f.profiles.EXPECT().Get(gomock.Any(), "userA").DoAndReturn(
		func(context.Context, string) (*domainid.Profile, error) {
			close(fetchingA)
			<-gate
			return &domainid.Profile{UserID: "userA", FullName: "First"}, nil
		})
	f.roles.EXPECT().Get(gomock.Any(), "userA").DoAndReturn(
		func(context.Context, string) (*domainid.RoleAssignment, error) {
			<-gate
			return nil, ports.ErrNotFound
		})
	f.profiles.EXPECT().Get(gomock.Any(), "userB").
		Return(&domainid.Profile{UserID: "userB", FullName: "Second"}, nil)
	f.roles.EXPECT().Get(gomock.Any(), "userB").Return(nil, ports.ErrNotFound)

	f.ctrl.Start(context.Background())
	defer f.ctrl.Stop()

	f.channel.FireChange(ports.AuthState{
		Identity: &domainid.Identity{UserID: "userA"},
		Session:  &domainid.Session{AccessToken: "a"},
	})

	// wait until the worker is inside userA's fetch, then switch identities
	select {
	case <-fetchingA:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started userA fetch")
	}
	f.channel.FireChange(ports.AuthState{
		Identity: &domainid.Identity{UserID: "userB"},
		Session:  &domainid.Session{AccessToken: "b"},
	})
	close(gate)

	assert.Eventually(t, func() bool {
		snap := f.store.Snapshot()
		return snap.Profile != nil && snap.Profile.UserID == "userB"
	}, 2*time.Second, 10*time.Millisecond)

	// userA's late result never overwrote userB's state
	snap := f.store.Snapshot()
	assert.Equal(t, "userB", snap.Identity.UserID)
	assert.Equal(t, "Second", snap.Profile.FullName)
}

func TestSessionController_Stop_Unsubscribes(t *testing.T) {
	f := newControllerFixture(t)

	f.ctrl.Start(context.Background())
	require.Equal(t, 1, f.channel.SubscriberCount())

	f.ctrl.Stop()
	assert.Equal(t, 0, f.channel.SubscriberCount())
}
