package identity

// Package identity contains simple hand-written test doubles for the
// identity ports. These are lightweight and suitable for unit tests
// without codegen.

import (
	"context"
	"sync"

	"github.com/google/uuid"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	"github.com/target/portal-identity/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthChannel = (*MockAuthChannel)(nil)
	_ ports.IdentityAPI = (*MockIdentityAPI)(nil)
	_ ports.TokenCache  = (*MemoryTokenCache)(nil)
)

// MockAuthChannel simulates the identity channel for tests. FireChange
// delivers an event synchronously to every subscriber, standing in for
// the dispatch goroutine of the real adapter.
type MockAuthChannel struct {
	CurrentSessionFunc func(ctx context.Context) (ports.AuthState, error)

	// State is returned by CurrentSession when CurrentSessionFunc is nil.
	State ports.AuthState

	mu     sync.Mutex
	subs   map[int]func(ports.AuthState)
	nextID int
	// Order records "subscribe" and "current_session" invocations so tests
	// can assert the listener is installed before the one-shot query.
	Order []string
}

// NewMockAuthChannel creates a MockAuthChannel with no live session.
func NewMockAuthChannel() *MockAuthChannel {
	return &MockAuthChannel{subs: make(map[int]func(ports.AuthState))}
}

func (m *MockAuthChannel) Subscribe(onChange func(ports.AuthState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Order = append(m.Order, "subscribe")
	id := m.nextID
	m.nextID++
	m.subs[id] = onChange

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *MockAuthChannel) CurrentSession(ctx context.Context) (ports.AuthState, error) {
	m.mu.Lock()
	m.Order = append(m.Order, "current_session")
	fn := m.CurrentSessionFunc
	st := m.State
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return st, nil
}

// FireChange delivers a session-change event to all current subscribers.
func (m *MockAuthChannel) FireChange(st ports.AuthState) {
	m.mu.Lock()
	handlers := make([]func(ports.AuthState), 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(st)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (m *MockAuthChannel) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// MockIdentityAPI simulates the identity service boundary.
type MockIdentityAPI struct {
	SignUpFunc  func(ctx context.Context, email, password string, meta ports.SignUpMetadata) (domainid.Identity, error)
	SignInFunc  func(ctx context.Context, email, password string) error
	SignOutFunc func(ctx context.Context) error

	mu           sync.Mutex
	SignUpCalls  int
	SignInCalls  int
	SignOutCalls int
}

func (m *MockIdentityAPI) SignUp(ctx context.Context, email, password string, meta ports.SignUpMetadata) (domainid.Identity, error) {
	m.mu.Lock()
	m.SignUpCalls++
	m.mu.Unlock()

	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, email, password, meta)
	}
	return domainid.Identity{
		UserID:      uuid.NewString(),
		Email:       email,
		DisplayName: meta.FullName,
	}, nil
}

func (m *MockIdentityAPI) SignInWithPassword(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.SignInCalls++
	m.mu.Unlock()

	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil
}

func (m *MockIdentityAPI) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.SignOutCalls++
	m.mu.Unlock()

	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

// MemoryTokenCache is an in-memory token cache for unit tests.
type MemoryTokenCache struct {
	mu   sync.Mutex
	sess *domainid.Session
}

func (m *MemoryTokenCache) Load(_ context.Context) (*domainid.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

func (m *MemoryTokenCache) Save(_ context.Context, sess domainid.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = &sess
	return nil
}

func (m *MemoryTokenCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}
