package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

// TestAuditByOrgRequiresPermission keeps the org trail behind audit:read.
func TestAuditByOrgRequiresPermission(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "owner", "owner@example.com")
	e.seedUser(t, "bob", "bob@example.com")
	e.seedUser(t, "outsider", "out@example.com")
	org := e.createOrg(t, "owner", "acme")
	e.addMember(t, "owner", org.ID, "bob", "member")

	_, err := e.svc.AuditByOrg(e.ctx, access.NewActor("outsider"), org.ID, 0)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	// The stock member role carries org:read only.
	_, err = e.svc.AuditByOrg(e.ctx, access.NewActor("bob"), org.ID, 0)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	entries, err := e.svc.AuditByOrg(e.ctx, access.NewActor("owner"), org.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

// TestAuditByOrgWhileImpersonating authorizes the read with the target's
// membership, matching every other org-scoped read.
func TestAuditByOrgWhileImpersonating(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "owner", "owner@example.com")
	org := e.createOrg(t, "owner", "acme")

	_, err := e.svc.StartImpersonation(e.ctx, "admin", "owner", "support")
	require.NoError(t, err)
	actor, err := e.svc.ResolveActor(e.ctx, "admin")
	require.NoError(t, err)
	require.True(t, actor.Impersonating())

	entries, err := e.svc.AuditByOrg(e.ctx, actor, org.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

// TestAuditGlobalFiltersAdminOnly reserves the cross-org views for platform
// admins.
func TestAuditGlobalFiltersAdminOnly(t *testing.T) {
	e := newEnv(t)
	e.seedAdmin(t, "admin", "admin@example.com")
	e.seedUser(t, "bob", "bob@example.com")

	_, err := e.svc.AuditByAction(e.ctx, access.NewActor("bob"), "user.synced", 0)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	entries, err := e.svc.AuditByAction(e.ctx, access.NewActor("admin"), "user.synced", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = e.svc.AuditByActor(e.ctx, access.NewActor("bob"), "admin", 0)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	entries, err = e.svc.AuditByActor(e.ctx, access.NewActor("admin"), "bob", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
