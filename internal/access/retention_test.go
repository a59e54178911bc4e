package access_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

// TestPurgeDeletedUsersHonorsWindow leaves recent deletions alone and hard
// deletes profiles past the retention window.
func TestPurgeDeletedUsersHonorsWindow(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "bob", "bob@example.com")
	require.NoError(t, e.svc.DeleteProfile(e.ctx, access.NewActor("bob"), "bob"))

	e.clock.Advance(6 * 24 * time.Hour)
	n, err := e.svc.PurgeDeletedUsers(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = e.store.Profiles().FindAny(e.ctx, "bob")
	require.NoError(t, err)

	e.clock.Advance(2 * 24 * time.Hour)
	n, err = e.svc.PurgeDeletedUsers(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = e.store.Profiles().FindAny(e.ctx, "bob")
	assert.ErrorIs(t, err, access.ErrNotFound)

	// Nothing left for a second run.
	n, err = e.svc.PurgeDeletedUsers(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestPurgeDeletedOrgsCascades removes the org and everything attached to
// it once the window has passed.
func TestPurgeDeletedOrgsCascades(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")
	memberRole := e.roleByName(t, org.ID, "member")
	_, _, err := e.svc.CreateInvitation(e.ctx, access.NewActor("owner"), org.ID, access.InvitationInput{
		Email:  "carol@example.com",
		RoleID: memberRole.ID,
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteOrg(e.ctx, access.NewActor("owner"), org.ID))

	e.clock.Advance(6 * 24 * time.Hour)
	n, err := e.svc.PurgeDeletedOrgs(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(2 * 24 * time.Hour)
	n, err = e.svc.PurgeDeletedOrgs(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.store.Orgs().FindAny(e.ctx, org.ID)
	assert.ErrorIs(t, err, access.ErrNotFound)
	members, err := e.store.Memberships().ListByOrg(e.ctx, org.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	roles, err := e.store.Roles().ListByOrg(e.ctx, org.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
	invitations, err := e.store.Invitations().ListByOrg(e.ctx, org.ID)
	require.NoError(t, err)
	assert.Empty(t, invitations)
	entries, err := e.store.Audit().ListByOrg(e.ctx, org.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The slug is free for reuse after the purge.
	e.seedUser(t, "dana", "dana@example.com")
	_, err = e.svc.CreateOrg(e.ctx, access.NewActor("dana"), access.CreateOrgInput{Name: "acme", Slug: "acme"})
	require.NoError(t, err)
}

// TestExpireImpersonationSessions sweeps sessions past their deadline.
func TestExpireImpersonationSessions(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "bob", "bob@example.com")

	session, err := e.svc.StartImpersonation(e.ctx, "admin", "bob", "")
	require.NoError(t, err)

	n, err := e.svc.ExpireImpersonationSessions(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(2 * time.Hour)
	n, err = e.svc.ExpireImpersonationSessions(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := e.store.Impersonations().Find(e.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, access.SessionExpired, stored.Status)

	// Idempotent once everything has been swept.
	n, err = e.svc.ExpireImpersonationSessions(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
