package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole_Valid(t *testing.T) {
	role, err := ParseRole("officer")
	require.NoError(t, err)
	assert.Equal(t, RoleOfficer, role)

	role, err = ParseRole("  Institution ")
	require.NoError(t, err)
	assert.Equal(t, RoleInstitution, role)

	role, err = ParseRole("ADMIN")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestParseRole_Invalid(t *testing.T) {
	_, err := ParseRole("superuser")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")

	_, err = ParseRole("")
	require.Error(t, err)
}

func TestInstitution_Normalize_Defaults(t *testing.T) {
	inst := Institution{
		UserID: "user-1",
		Name:   "  Ridge Valley College  ",
	}
	inst.Normalize()

	assert.Equal(t, "Ridge Valley College", inst.Name)
	assert.Equal(t, DefaultInstitutionType, inst.Type)
	assert.Empty(t, inst.State)
	assert.Empty(t, inst.District)
}

func TestInstitution_Normalize_KeepsSuppliedValues(t *testing.T) {
	inst := Institution{
		Name:     "Ridge Valley College",
		Type:     "university",
		State:    "MN",
		District: "Hennepin",
		Address:  " 12 Main St ",
	}
	inst.Normalize()

	assert.Equal(t, "university", inst.Type)
	assert.Equal(t, "MN", inst.State)
	assert.Equal(t, "Hennepin", inst.District)
	assert.Equal(t, "12 Main St", inst.Address)
}

func TestSession_ExpiresWithin(t *testing.T) {
	sess := Session{ExpiresAt: time.Now().Add(30 * time.Second)}
	assert.True(t, sess.ExpiresWithin(time.Minute))
	assert.False(t, sess.ExpiresWithin(time.Second))
}

func TestSnapshot_RoleName(t *testing.T) {
	var snap Snapshot
	assert.False(t, snap.SignedIn())
	assert.Empty(t, snap.RoleName())

	snap.Identity = &Identity{UserID: "user-1"}
	snap.Role = &RoleAssignment{UserID: "user-1", Role: RoleOfficer}
	assert.True(t, snap.SignedIn())
	assert.Equal(t, RoleOfficer, snap.RoleName())
}
