package access_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

// TestUpdateMemberRoleHierarchy covers the strict outrank rules on both
// the target's old role and the new one.
func TestUpdateMemberRoleHierarchy(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "alice", "alice@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "alice", "admin")
	e.addMember(t, "owner", org.ID, "bob", "member")

	adminRole := e.roleByName(t, org.ID, "admin")
	memberRole := e.roleByName(t, org.ID, "member")
	ownerRole := e.roleByName(t, org.ID, "owner")

	// An admin cannot touch another admin (equal rank, not strictly above).
	e.seedUser(t, "carol", "carol@example.com")
	e.addMember(t, "owner", org.ID, "carol", "admin")
	err := e.svc.UpdateMemberRole(e.ctx, access.NewActor("alice"), org.ID, "carol", memberRole.ID)
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	// An admin cannot raise someone to owner.
	err = e.svc.UpdateMemberRole(e.ctx, access.NewActor("alice"), org.ID, "bob", ownerRole.ID)
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	// An admin may promote a member to admin.
	require.NoError(t, e.svc.UpdateMemberRole(e.ctx, access.NewActor("alice"), org.ID, "bob", adminRole.ID))
	m, err := e.store.Memberships().Find(e.ctx, org.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, m.RoleID)

	// Nobody changes their own role.
	err = e.svc.UpdateMemberRole(e.ctx, access.NewActor("alice"), org.ID, "alice", memberRole.ID)
	assert.ErrorIs(t, err, access.ErrInvalidInput)
}

// TestDemoteLastOwnerBlocked keeps a populated org from going ownerless.
func TestDemoteLastOwnerBlocked(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	// Force-remove ignores hierarchy but not the last-owner guard.
	err := e.svc.ForceRemoveMember(e.ctx, access.NewActor("admin"), org.ID, "owner")
	assert.ErrorIs(t, err, access.ErrLastOwner)
}

// TestRemoveMember covers outranking, self-removal and the happy path.
func TestRemoveMember(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "alice", "alice@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "alice", "admin")
	e.addMember(t, "owner", org.ID, "bob", "member")

	// Member cannot remove anyone.
	err := e.svc.RemoveMember(e.ctx, access.NewActor("bob"), org.ID, "alice")
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	// Admin cannot remove the owner.
	err = e.svc.RemoveMember(e.ctx, access.NewActor("alice"), org.ID, "owner")
	assert.ErrorIs(t, err, access.ErrAuthorityViolation)

	// Self-removal goes through LeaveOrg.
	err = e.svc.RemoveMember(e.ctx, access.NewActor("alice"), org.ID, "alice")
	assert.ErrorIs(t, err, access.ErrInvalidInput)

	require.NoError(t, e.svc.RemoveMember(e.ctx, access.NewActor("alice"), org.ID, "bob"))
	_, err = e.store.Memberships().Find(e.ctx, org.ID, "bob")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

// TestLeaveOrg lets everyone but the sole owner of a populated org go; the
// last member standing may always leave.
func TestLeaveOrg(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	// Sole owner with other members present cannot leave.
	err := e.svc.LeaveOrg(e.ctx, access.NewActor("owner"), org.ID)
	assert.ErrorIs(t, err, access.ErrLastOwner)

	require.NoError(t, e.svc.LeaveOrg(e.ctx, access.NewActor("bob"), org.ID))

	// Now the owner is the only member and may walk away.
	require.NoError(t, e.svc.LeaveOrg(e.ctx, access.NewActor("owner"), org.ID))
	count, err := e.store.Memberships().CountByOrg(e.ctx, org.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// TestLeaveOrgClearsActiveOrg resets the profile pointer on exit.
func TestLeaveOrgClearsActiveOrg(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	require.NoError(t, e.svc.SetActiveOrg(e.ctx, access.NewActor("bob"), org.ID))
	require.NoError(t, e.svc.LeaveOrg(e.ctx, access.NewActor("bob"), org.ID))

	profile, err := e.store.Profiles().Find(e.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, profile.ActiveOrgID)
}

// TestTransferOwnership demotes the old owners and promotes the new one.
func TestTransferOwnership(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	// Only a platform admin may transfer.
	err := e.svc.TransferOwnership(e.ctx, access.NewActor("owner"), org.ID, "bob")
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	require.NoError(t, e.svc.TransferOwnership(e.ctx, access.NewActor("admin"), org.ID, "bob"))

	ownerRole := e.roleByName(t, org.ID, "owner")
	adminRole := e.roleByName(t, org.ID, "admin")

	newOwner, err := e.store.Memberships().Find(e.ctx, org.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ownerRole.ID, newOwner.RoleID)

	prior, err := e.store.Memberships().Find(e.ctx, org.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, prior.RoleID)

	assert.Contains(t, e.auditActions(t, org.ID), "org.ownership_transferred")
}

// TestTransferOwnershipRecordsAllPriorOwners names every holder of the
// owner role in the audit metadata, the promoted co-owner included.
func TestTransferOwnershipRecordsAllPriorOwners(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	ownerRole := e.roleByName(t, org.ID, "owner")
	require.NoError(t, e.svc.UpdateMemberRole(e.ctx, access.NewActor("owner"), org.ID, "bob", ownerRole.ID))

	require.NoError(t, e.svc.TransferOwnership(e.ctx, access.NewActor("admin"), org.ID, "bob"))

	entries, err := e.store.Audit().ListByOrg(e.ctx, org.ID, 1000)
	require.NoError(t, err)
	var meta map[string]string
	for _, entry := range entries {
		if entry.Action == "org.ownership_transferred" {
			meta = entry.Metadata
			break
		}
	}
	require.NotNil(t, meta)
	assert.Equal(t, "bob", meta["new_owner"])
	assert.ElementsMatch(t, []string{"owner", "bob"}, strings.Split(meta["prior_owners"], ","))

	adminRole := e.roleByName(t, org.ID, "admin")
	demoted, err := e.store.Memberships().Find(e.ctx, org.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, demoted.RoleID)
	promoted, err := e.store.Memberships().Find(e.ctx, org.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ownerRole.ID, promoted.RoleID)
}

// TestListMembersRequiresMembership keeps the roster private.
func TestListMembersRequiresMembership(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "outsider", "out@example.com")
	org := e.createOrg(t, "owner", "acme")

	_, err := e.svc.ListMembers(e.ctx, access.NewActor("outsider"), org.ID)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	members, err := e.svc.ListMembers(e.ctx, access.NewActor("owner"), org.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
