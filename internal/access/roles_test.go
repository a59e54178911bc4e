package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

// TestCreateRoleAuthority lets admins mint roles at or below their own
// SortOrder only.
func TestCreateRoleAuthority(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "alice", "alice@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "alice", "admin")

	// Above the admin's authority (SortOrder 10).
	_, err := e.svc.CreateRole(e.ctx, access.NewActor("alice"), org.ID, access.RoleInput{
		Name:      "superadmin",
		SortOrder: 5,
	})
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	role, err := e.svc.CreateRole(e.ctx, access.NewActor("alice"), org.ID, access.RoleInput{
		Name:        "support",
		Permissions: []access.Permission{access.PermOrgRead},
		SortOrder:   15,
	})
	require.NoError(t, err)
	assert.False(t, role.IsSystem)
	assert.Equal(t, 15, role.SortOrder)
}

// TestCreateRoleDuplicateName enforces per-org name uniqueness.
func TestCreateRoleDuplicateName(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	org := e.createOrg(t, "owner", "acme")

	_, err := e.svc.CreateRole(e.ctx, access.NewActor("owner"), org.ID, access.RoleInput{
		Name: "member", SortOrder: 30,
	})
	assert.ErrorIs(t, err, access.ErrDuplicateConflict)
}

// TestUpdateRoleSystemRename blocks renaming system roles but allows
// permission edits.
func TestUpdateRoleSystemRename(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	org := e.createOrg(t, "owner", "acme")
	member := e.roleByName(t, org.ID, "member")

	name := "basic"
	_, err := e.svc.UpdateRole(e.ctx, access.NewActor("owner"), member.ID, access.RoleUpdate{Name: &name})
	assert.ErrorIs(t, err, access.ErrInvalidState)

	updated, err := e.svc.UpdateRole(e.ctx, access.NewActor("owner"), member.ID, access.RoleUpdate{
		Permissions: []access.Permission{access.PermOrgRead, access.PermAuditRead},
	})
	require.NoError(t, err)
	assert.Contains(t, updated.Permissions, access.PermAuditRead)
}

// TestUpdateRoleAuthority prevents admins from editing roles above them or
// raising a role past their own rank.
func TestUpdateRoleAuthority(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "alice", "alice@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "alice", "admin")

	ownerRole := e.roleByName(t, org.ID, "owner")
	desc := "edited"
	_, err := e.svc.UpdateRole(e.ctx, access.NewActor("alice"), ownerRole.ID, access.RoleUpdate{Description: &desc})
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	support, err := e.svc.CreateRole(e.ctx, access.NewActor("alice"), org.ID, access.RoleInput{
		Name: "support", SortOrder: 20,
	})
	require.NoError(t, err)

	tooHigh := 3
	_, err = e.svc.UpdateRole(e.ctx, access.NewActor("alice"), support.ID, access.RoleUpdate{SortOrder: &tooHigh})
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	// The owner ranks at 0, so promoting a role all the way up is allowed.
	top := 0
	updated, err := e.svc.UpdateRole(e.ctx, access.NewActor("owner"), support.ID, access.RoleUpdate{SortOrder: &top})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.SortOrder)
}

// TestDeleteRoleBlockedByReferences refuses to delete roles still held or
// referenced by pending invitations.
func TestDeleteRoleBlockedByReferences(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")

	support, err := e.svc.CreateRole(e.ctx, access.NewActor("owner"), org.ID, access.RoleInput{
		Name: "support", SortOrder: 25,
	})
	require.NoError(t, err)

	e.addMember(t, "owner", org.ID, "bob", "support")
	err = e.svc.DeleteRole(e.ctx, access.NewActor("owner"), support.ID)
	assert.ErrorIs(t, err, access.ErrInvalidState)

	require.NoError(t, e.svc.RemoveMember(e.ctx, access.NewActor("owner"), org.ID, "bob"))

	// A pending invitation still pins the role.
	_, _, err = e.svc.CreateInvitation(e.ctx, access.NewActor("owner"), org.ID, access.InvitationInput{
		Email:  "new@example.com",
		RoleID: support.ID,
	})
	require.NoError(t, err)
	err = e.svc.DeleteRole(e.ctx, access.NewActor("owner"), support.ID)
	assert.ErrorIs(t, err, access.ErrInvalidState)
}

// TestDeleteSystemRole always fails.
func TestDeleteSystemRole(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	org := e.createOrg(t, "owner", "acme")
	member := e.roleByName(t, org.ID, "member")

	err := e.svc.DeleteRole(e.ctx, access.NewActor("owner"), member.ID)
	assert.ErrorIs(t, err, access.ErrInvalidState)
}

// TestListRolesOrderedByAuthority returns roles strongest first.
func TestListRolesOrderedByAuthority(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	org := e.createOrg(t, "owner", "acme")

	roles, err := e.svc.ListRoles(e.ctx, access.NewActor("owner"), org.ID)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, []string{"owner", "admin", "member"}, []string{roles[0].Name, roles[1].Name, roles[2].Name})
}
