package identity

// Package identity contains domain-level types for the portal's identity and
// session state. It is pure and free of adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role represents a portal authorization role.
// Keep string form for easy persistence in the user_roles table.
// Valid values are defined as constants below.
type Role string

const (
	RoleOfficer     Role = "officer"
	RoleInstitution Role = "institution"
	RoleAdmin       Role = "admin"
)

// ParseRole validates a raw role string against the closed role set.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleOfficer, RoleInstitution, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role: %q (valid options: officer, institution, admin)", raw)
	}
}

// Identity is the read-only cached copy of the identity service's user
// record. It is created by the service; the core never mutates it.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Session is the opaque proof of authentication bound to one Identity.
// The core only inspects presence or absence; token contents and validity
// are managed by the identity service adapter.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the session expires within d from now.
func (s Session) ExpiresWithin(d time.Duration) bool {
	return time.Until(s.ExpiresAt) <= d
}

// Profile holds the user-chosen attributes stored one-to-one with an
// Identity in the profiles table.
type Profile struct {
	UserID    string    `db:"user_id"`
	FullName  string    `db:"full_name"`
	CreatedAt time.Time `db:"created_at"`
}

// RoleAssignment is the single authorization role granted to an Identity,
// stored one-to-one in the user_roles table.
type RoleAssignment struct {
	UserID    string    `db:"user_id"`
	Role      Role      `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// DefaultInstitutionType is applied when a sign-up omits the institution type.
const DefaultInstitutionType = "college"

// Institution is the institution record stored one-to-one with an Identity
// in the institutions table. It exists only for RoleInstitution identities.
type Institution struct {
	UserID          string    `db:"user_id"`
	Name            string    `db:"name"`
	Type            string    `db:"type"`
	State           string    `db:"state"`
	District        string    `db:"district"`
	Address         string    `db:"address"`
	EstablishedYear int       `db:"established_year"`
	CreatedAt       time.Time `db:"created_at"`
}

// Normalize trims attribute whitespace and fills defaults for omitted
// fields. State and district intentionally default to the empty string.
func (i *Institution) Normalize() {
	i.Name = strings.TrimSpace(i.Name)
	i.Type = strings.TrimSpace(i.Type)
	if i.Type == "" {
		i.Type = DefaultInstitutionType
	}
	i.State = strings.TrimSpace(i.State)
	i.District = strings.TrimSpace(i.District)
	i.Address = strings.TrimSpace(i.Address)
}

// Derived groups the records fetched per Identity from the record store.
// Any field may be absent: a missing row and a failed fetch both degrade
// the field to nil.
type Derived struct {
	Profile     *Profile
	Role        *RoleAssignment
	Institution *Institution
}

// Snapshot is the canonical view of the current actor held by the session
// state store. All five data fields clear together whenever Identity
// becomes absent. Loading is true only between controller startup and the
// first authoritative session resolution.
//
// Field values are treated as immutable once stored; readers share them.
type Snapshot struct {
	Identity    *Identity
	Session     *Session
	Profile     *Profile
	Role        *RoleAssignment
	Institution *Institution
	Loading     bool
}

// SignedIn reports whether an identity is present.
func (s Snapshot) SignedIn() bool { return s.Identity != nil }

// RoleName returns the assigned role, or the empty string while
// authorization is undetermined. Callers must not substitute a default.
func (s Snapshot) RoleName() Role {
	if s.Role == nil {
		return ""
	}
	return s.Role.Role
}
