package access_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

// TestSyncProfileUpsert covers create, update and the resurrection of a
// soft-deleted profile.
func TestSyncProfileUpsert(t *testing.T) {
	e := newEnv(t)

	p, err := e.svc.SyncProfile(e.ctx, "bob", access.ProfileInput{
		Email:       "Bob@Example.com",
		DisplayName: "Bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", p.Email)

	p, err = e.svc.SyncProfile(e.ctx, "bob", access.ProfileInput{
		Email:       "bob@example.com",
		DisplayName: "Robert",
	})
	require.NoError(t, err)
	assert.Equal(t, "Robert", p.DisplayName)

	require.NoError(t, e.svc.DeleteProfile(e.ctx, access.NewActor("bob"), "bob"))
	_, err = e.store.Profiles().Find(e.ctx, "bob")
	require.ErrorIs(t, err, access.ErrNotFound)

	// Signing up again before the purge brings the profile back.
	p, err = e.svc.SyncProfile(e.ctx, "bob", access.ProfileInput{
		Email: "bob@example.com",
	})
	require.NoError(t, err)
	assert.Nil(t, p.DeletedAt)
	_, err = e.store.Profiles().Find(e.ctx, "bob")
	require.NoError(t, err)
}

// TestSetActiveOrgRequiresMembership points the profile only at orgs the
// user belongs to.
func TestSetActiveOrgRequiresMembership(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")

	err := e.svc.SetActiveOrg(e.ctx, access.NewActor("bob"), org.ID)
	assert.ErrorIs(t, err, access.ErrInvalidInput)

	e.addMember(t, "owner", org.ID, "bob", "member")
	require.NoError(t, e.svc.SetActiveOrg(e.ctx, access.NewActor("bob"), org.ID))

	p, err := e.store.Profiles().Find(e.ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, org.ID, p.ActiveOrgID)
}

// TestBanUnban covers the admin-only ban flag, including the admin
// exemption.
func TestBanUnban(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedAdmin(t, "admin2", "admin2@example.com")
	e.seedUser(t, "bob", "bob@example.com")

	err := e.svc.BanUser(e.ctx, access.NewActor("bob"), "bob", "self")
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	err = e.svc.BanUser(e.ctx, access.NewActor("admin"), "admin2", "rivalry")
	assert.ErrorIs(t, err, access.ErrInvalidInput)

	require.NoError(t, e.svc.BanUser(e.ctx, access.NewActor("admin"), "bob", "abuse"))
	p, err := e.store.Profiles().Find(e.ctx, "bob")
	require.NoError(t, err)
	assert.True(t, p.IsBanned)
	assert.Equal(t, "abuse", p.BanReason)

	require.NoError(t, e.svc.UnbanUser(e.ctx, access.NewActor("admin"), "bob"))
	p, err = e.store.Profiles().Find(e.ctx, "bob")
	require.NoError(t, err)
	assert.False(t, p.IsBanned)
	assert.Empty(t, p.BanReason)
}

// TestDeleteProfileCascades soft-deletes the profile and removes the
// user's memberships and devices immediately.
func TestDeleteProfileCascades(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")
	require.NoError(t, e.svc.RegisterDevice(e.ctx, access.NewActor("bob"), "sess-1", access.DeviceMetadata{
		DeviceName: "phone",
	}, "10.0.0.5"))

	require.NoError(t, e.svc.DeleteProfile(e.ctx, access.NewActor("bob"), "bob"))

	_, err := e.store.Memberships().Find(e.ctx, org.ID, "bob")
	assert.ErrorIs(t, err, access.ErrNotFound)
	devices, err := e.store.Devices().ListByUser(e.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, devices)

	p, err := e.store.Profiles().FindAny(e.ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, p.DeletedAt)
	assert.Empty(t, p.ActiveOrgID)
}

// TestDeleteProfileBlockedForSoleOwner forces ownership transfer before
// account deletion.
func TestDeleteProfileBlockedForSoleOwner(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	err := e.svc.DeleteProfile(e.ctx, access.NewActor("owner"), "owner")
	assert.ErrorIs(t, err, access.ErrLastOwner)

	// After a platform admin transfers ownership the former owner may leave.
	require.NoError(t, e.svc.TransferOwnership(e.ctx, access.NewActor("admin"), org.ID, "bob"))
	require.NoError(t, e.svc.DeleteProfile(e.ctx, access.NewActor("owner"), "owner"))
}

// TestDeleteProfileRequiresSelfOrAdmin rejects third parties.
func TestDeleteProfileRequiresSelfOrAdmin(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	e.seedUser(t, "mallory", "mallory@example.com")

	err := e.svc.DeleteProfile(e.ctx, access.NewActor("mallory"), "bob")
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	require.NoError(t, e.svc.DeleteProfile(e.ctx, access.NewActor("admin"), "bob"))
}

// TestRegisterDeviceUpsertsBySession keeps one row per session id.
func TestRegisterDeviceUpsertsBySession(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "bob", "bob@example.com")

	require.NoError(t, e.svc.RegisterDevice(e.ctx, access.NewActor("bob"), "sess-1", access.DeviceMetadata{
		DeviceName: "phone",
		Browser:    "firefox",
	}, "10.0.0.5"))
	e.clock.Advance(time.Minute)
	require.NoError(t, e.svc.RegisterDevice(e.ctx, access.NewActor("bob"), "sess-1", access.DeviceMetadata{
		DeviceName: "phone",
		Browser:    "chromium",
	}, "10.0.0.6"))

	devices, err := e.store.Devices().ListByUser(e.ctx, "bob")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "chromium", devices[0].Browser)
	assert.Equal(t, "10.0.0.6", devices[0].IPAddress)
}

// TestLinkMigratedUser rewrites placeholder references to the real
// account and drops the placeholder profile.
func TestLinkMigratedUser(t *testing.T) {
	cfg := access.DefaultConfig()
	cfg.MigrationLinking = true
	e := newEnvWithConfig(t, cfg)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "legacy@example.com", "legacy@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "legacy@example.com", "member")
	require.NoError(t, e.svc.RegisterDevice(e.ctx, access.NewActor("legacy@example.com"), "sess-old", access.DeviceMetadata{}, ""))

	rows, err := e.svc.LinkMigratedUser(e.ctx, access.NewActor("admin"), "legacy@example.com", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	m, err := e.store.Memberships().Find(e.ctx, org.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", m.UserID)
	devices, err := e.store.Devices().ListByUser(e.ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	_, err = e.store.Profiles().FindAny(e.ctx, "legacy@example.com")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

// TestLinkMigratedUserGuards covers the feature flag and the placeholder
// convention.
func TestLinkMigratedUserGuards(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "bob", "bob@example.com")

	_, err := e.svc.LinkMigratedUser(e.ctx, access.NewActor("admin"), "legacy@example.com", "bob")
	assert.ErrorIs(t, err, access.ErrInvalidState)

	cfg := access.DefaultConfig()
	cfg.MigrationLinking = true
	e = newEnvWithConfig(t, cfg)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "ordinary", "ordinary@example.com")
	e.seedUser(t, "bob", "bob@example.com")

	// A regular profile never qualifies as a placeholder.
	_, err = e.svc.LinkMigratedUser(e.ctx, access.NewActor("admin"), "ordinary", "bob")
	assert.ErrorIs(t, err, access.ErrInvalidState)
}
