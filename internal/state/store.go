package state

// Package state holds the canonical session snapshot for one running portal
// agent. The Store is the single source of truth read by the rest of the
// application; writers are the session controller and the identity service.

import (
	"sync"

	domainid "github.com/target/portal-identity/internal/domain/identity"
)

// Store is the session state store. One Store exists per running
// application instance; it is constructed explicitly and passed by
// reference, never held as a package global.
//
// All mutation flows through SetSession, SetDerived, and Reset. Watchers
// receive a coalesced wake-up for every committed update.
type Store struct {
	mu       sync.Mutex
	snap     domainid.Snapshot
	watchers map[int]chan struct{}
	nextID   int
}

// NewStore creates a Store in the loading state: no identity is known until
// the controller resolves the first authoritative session update.
func NewStore() *Store {
	return &Store{
		snap:     domainid.Snapshot{Loading: true},
		watchers: make(map[int]chan struct{}),
	}
}

// Snapshot returns the current snapshot. Field values are shared and must
// be treated as immutable by readers.
func (s *Store) Snapshot() domainid.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Watch registers a wake-up channel that receives a signal after every
// committed update. The channel has capacity one; signals coalesce. The
// returned func unregisters and closes the channel.
func (s *Store) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	unwatch := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; !ok {
			return
		}
		delete(s.watchers, id)
		drainAndClose(ch)
	}
	return ch, unwatch
}

// SetSession replaces the identity/session fields with the latest
// authoritative payload and marks the snapshot resolved (loading=false).
//
// When the identity is absent, or belongs to a different user than before,
// the derived fields clear in the same update; stale derived data never
// survives a sign-out or an identity switch.
func (s *Store) SetSession(ident *domainid.Identity, sess *domainid.Session) {
	s.mu.Lock()

	prev := s.snap.Identity
	s.snap.Identity = ident
	s.snap.Session = sess
	s.snap.Loading = false

	if ident == nil || prev == nil || prev.UserID != ident.UserID {
		s.snap.Profile = nil
		s.snap.Role = nil
		s.snap.Institution = nil
	}

	s.broadcastLocked()
	s.mu.Unlock()
}

// SetDerived applies fetched derived records if userID still matches the
// current identity, and reports whether the update was applied. A mismatch
// means the result is stale (the identity changed while the fetch was in
// flight) and is discarded.
func (s *Store) SetDerived(userID string, derived domainid.Derived) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Identity == nil || s.snap.Identity.UserID != userID {
		return false
	}

	s.snap.Profile = derived.Profile
	s.snap.Role = derived.Role
	s.snap.Institution = derived.Institution
	s.broadcastLocked()
	return true
}

// Reset clears the whole snapshot. Used by sign-out: local state must not
// retain a session the user attempted to end, regardless of what the
// identity service reported.
func (s *Store) Reset() {
	s.mu.Lock()
	s.snap = domainid.Snapshot{}
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Store) broadcastLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered signal before closing so receivers
// observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
