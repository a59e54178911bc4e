package access_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/store/mem"
)

// testClock is a movable time source shared by a test and its service.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// env bundles a service over the in-memory store with a fixed clock.
type env struct {
	ctx   context.Context
	svc   *access.Service
	store *mem.Store
	clock *testClock
}

func newEnv(t *testing.T, opts ...access.Option) *env {
	t.Helper()
	st := mem.New()
	clock := newTestClock()
	opts = append([]access.Option{access.WithClock(clock.Now)}, opts...)
	svc, err := access.NewService(st, access.DefaultConfig(), opts...)
	require.NoError(t, err)
	return &env{
		ctx:   context.Background(),
		svc:   svc,
		store: st,
		clock: clock,
	}
}

func newEnvWithConfig(t *testing.T, cfg access.Config, opts ...access.Option) *env {
	t.Helper()
	st := mem.New()
	clock := newTestClock()
	opts = append([]access.Option{access.WithClock(clock.Now)}, opts...)
	svc, err := access.NewService(st, cfg, opts...)
	require.NoError(t, err)
	return &env{
		ctx:   context.Background(),
		svc:   svc,
		store: st,
		clock: clock,
	}
}

// seedUser syncs a profile so the user exists before acting.
func (e *env) seedUser(t *testing.T, userID, email string) *access.UserProfile {
	t.Helper()
	profile, err := e.svc.SyncProfile(e.ctx, userID, access.ProfileInput{
		Email:       email,
		DisplayName: userID,
	})
	require.NoError(t, err)
	return profile
}

// seedAdmin syncs a profile and flips its platform admin flag directly in
// the store, the way an operator bootstrap would.
func (e *env) seedAdmin(t *testing.T, userID, email string) *access.UserProfile {
	t.Helper()
	e.seedUser(t, userID, email)
	profile, err := e.store.Profiles().Find(e.ctx, userID)
	require.NoError(t, err)
	profile.IsAdmin = true
	require.NoError(t, e.store.Profiles().Update(e.ctx, profile))
	return profile
}

// createOrg makes ownerID the owner of a fresh organization.
func (e *env) createOrg(t *testing.T, ownerID, slug string) *access.Organization {
	t.Helper()
	org, err := e.svc.CreateOrg(e.ctx, access.NewActor(ownerID), access.CreateOrgInput{
		Name: slug,
		Slug: slug,
	})
	require.NoError(t, err)
	return org
}

// roleByName resolves one of the organization's roles.
func (e *env) roleByName(t *testing.T, orgID, name string) *access.Role {
	t.Helper()
	role, err := e.store.Roles().FindByName(e.ctx, orgID, name)
	require.NoError(t, err)
	return role
}

// addMember joins userID to the org through an invite code at the given
// role, exercising the real join path instead of poking the store.
func (e *env) addMember(t *testing.T, ownerID, orgID, userID, roleName string) {
	t.Helper()
	role := e.roleByName(t, orgID, roleName)
	code, err := e.svc.CreateInviteCode(e.ctx, access.NewActor(ownerID), orgID, access.InviteCodeInput{
		RoleID:         role.ID,
		MaxRedemptions: 1,
	})
	require.NoError(t, err)
	_, err = e.svc.RedeemInviteCode(e.ctx, code.Code, userID)
	require.NoError(t, err)
}

// auditActions returns the actions recorded for an org, oldest first.
func (e *env) auditActions(t *testing.T, orgID string) []string {
	t.Helper()
	entries, err := e.store.Audit().ListByOrg(e.ctx, orgID, 1000)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		actions = append(actions, entries[i].Action)
	}
	return actions
}

// TestNewServiceRequiresStore verifies constructor validation.
func TestNewServiceRequiresStore(t *testing.T) {
	_, err := access.NewService(nil, access.DefaultConfig())
	require.Error(t, err)
}

// TestNewServiceRequiresOwnerSeed rejects configs without exactly one
// SortOrder-0 role.
func TestNewServiceRequiresOwnerSeed(t *testing.T) {
	cfg := access.DefaultConfig()
	cfg.SystemRoles = []access.RoleSeed{
		{Name: "admin", SortOrder: 10},
	}
	_, err := access.NewService(mem.New(), cfg)
	require.Error(t, err)

	cfg.SystemRoles = []access.RoleSeed{
		{Name: "owner", SortOrder: 0, Permissions: []access.Permission{access.PermAll}},
		{Name: "founder", SortOrder: 0, Permissions: []access.Permission{access.PermAll}},
	}
	_, err = access.NewService(mem.New(), cfg)
	require.Error(t, err)
}

// TestBannedUserIsRejectedEverywhere confirms a ban blocks org operations.
func TestBannedUserIsRejectedEverywhere(t *testing.T) {
	e := newEnv(t)
	admin := "admin-1"
	e.seedAdmin(t, admin, "admin@example.com")
	user := "user-1"
	e.seedUser(t, user, "user@example.com")
	org := e.createOrg(t, user, "acme")

	require.NoError(t, e.svc.BanUser(e.ctx, access.NewActor(admin), user, "abuse"))

	_, err := e.svc.GetOrg(e.ctx, access.NewActor(user), org.ID)
	require.ErrorIs(t, err, access.ErrBanned)

	_, err = e.svc.CreateOrg(e.ctx, access.NewActor(user), access.CreateOrgInput{Name: "x", Slug: "x"})
	require.ErrorIs(t, err, access.ErrBanned)
}
