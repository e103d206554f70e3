package ports

// Package ports defines interfaces (hexagonal ports) for the identity core.
// Implementations live in internal/adapters and internal/data; orchestration
// in internal/service.

import (
	"context"

	domainid "github.com/target/portal-identity/internal/domain/identity"
)

// AuthState is the payload of a session-change notification and of the
// one-shot current-session query. Both fields are nil when no session is
// live; they are always both present or both absent.
type AuthState struct {
	Identity *domainid.Identity
	Session  *domainid.Session
}

// SignedIn reports whether the state carries a live session.
func (s AuthState) SignedIn() bool { return s.Identity != nil }

// SignUpMetadata carries profile attributes attached at identity creation.
type SignUpMetadata struct {
	FullName string
}

// IdentityAPI is the external identity service boundary for the three
// lifecycle mutations. Implementations return *errors.AuthError for every
// failure so callers get a closed failure-kind taxonomy.
type IdentityAPI interface {
	// SignUp creates a new identity. It does not establish a session; the
	// caller signs in separately and the channel reports the result.
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (domainid.Identity, error)

	// SignInWithPassword authenticates with an email/password pair. On
	// success the channel observes the resulting session asynchronously;
	// this call itself only reports pass/fail.
	SignInWithPassword(ctx context.Context, email, password string) error

	// SignOut revokes the live session. Local adapter state is cleared even
	// when the revocation call fails at the transport level.
	SignOut(ctx context.Context) error
}

// AuthChannel delivers session-change notifications from the identity
// service: sign-in, sign-out, and token refresh.
//
// Callbacks run on the channel's dispatch goroutine. They must not call
// back into the identity client synchronously; handlers that need further
// backend calls hand the work to their own goroutine or queue.
type AuthChannel interface {
	// Subscribe registers onChange and returns an unsubscribe handle.
	Subscribe(onChange func(AuthState)) (unsubscribe func())

	// CurrentSession returns the session state known at the time of the
	// call. It is a one-shot query and may race with a notification; both
	// carry authoritative payloads.
	CurrentSession(ctx context.Context) (AuthState, error)
}

// TokenCache persists the live session so an agent restart can resume it.
// Load returns (nil, nil) when nothing is cached.
type TokenCache interface {
	Load(ctx context.Context) (*domainid.Session, error)
	Save(ctx context.Context, sess domainid.Session) error
	Clear(ctx context.Context) error
}
