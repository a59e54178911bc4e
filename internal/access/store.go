package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the engine. Every
// public service operation runs inside one Atomic call so a mutation and
// its audit entries commit together.
type Store interface {
	Orgs() OrgStore
	Roles() RoleStore
	Memberships() MembershipStore
	Invitations() InvitationStore
	InviteCodes() InviteCodeStore
	Profiles() ProfileStore
	Devices() DeviceStore
	Impersonations() ImpersonationStore
	Audit() AuditStore

	// Atomic runs fn against a transactional view of the store. If fn
	// returns an error nothing it wrote is kept.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	// RemapUserRef rewrites a user reference column for the one-time
	// migration linking routine. Entity and field must name a pair the
	// implementation whitelists.
	RemapUserRef(ctx context.Context, entity, field, fromID, toID string) (int64, error)
}

// OrgStore manages organizations. Find serves the live path; FindAny and
// FindBySlug also see suspended and soft-deleted rows.
type OrgStore interface {
	Insert(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	FindAny(ctx context.Context, id string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id string) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Organization, error)
}

// RoleStore manages per-organization roles.
type RoleStore interface {
	Insert(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, orgID, name string) (*Role, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}

// MembershipStore manages org memberships, at most one per (org, user).
type MembershipStore interface {
	Insert(ctx context.Context, m *Membership) error
	Find(ctx context.Context, orgID, userID string) (*Membership, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
	CountByRole(ctx context.Context, roleID string) (int, error)
	CountByOrg(ctx context.Context, orgID string) (int, error)
	Update(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, orgID, userID string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}

// InvitationStore manages token invitations.
type InvitationStore interface {
	Insert(ctx context.Context, inv *Invitation) error
	Find(ctx context.Context, id string) (*Invitation, error)
	FindByTokenHash(ctx context.Context, hash string) (*Invitation, error)
	FindPendingByEmail(ctx context.Context, orgID, email string) (*Invitation, error)
	FindPendingByPhone(ctx context.Context, orgID, phone string) (*Invitation, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Invitation, error)
	CountPendingByRole(ctx context.Context, roleID string) (int, error)
	Update(ctx context.Context, inv *Invitation) error
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}

// InviteCodeStore manages multi-redemption invite codes.
type InviteCodeStore interface {
	Insert(ctx context.Context, code *InvitationCode) error
	Find(ctx context.Context, id string) (*InvitationCode, error)
	FindByCode(ctx context.Context, code string) (*InvitationCode, error)
	ListByOrg(ctx context.Context, orgID string) ([]*InvitationCode, error)
	Update(ctx context.Context, code *InvitationCode) error
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}

// ProfileStore manages user profiles keyed by the external user id.
type ProfileStore interface {
	Insert(ctx context.Context, p *UserProfile) error
	Find(ctx context.Context, id string) (*UserProfile, error)
	FindAny(ctx context.Context, id string) (*UserProfile, error)
	Update(ctx context.Context, p *UserProfile) error
	Delete(ctx context.Context, id string) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*UserProfile, error)
}

// DeviceStore manages devices, upserted by session id.
type DeviceStore interface {
	Upsert(ctx context.Context, d *Device) error
	ListByUser(ctx context.Context, userID string) ([]*Device, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// ImpersonationStore manages impersonation sessions.
type ImpersonationStore interface {
	Insert(ctx context.Context, s *ImpersonationSession) error
	Find(ctx context.Context, id string) (*ImpersonationSession, error)
	FindActiveByAdmin(ctx context.Context, adminUserID string) (*ImpersonationSession, error)
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*ImpersonationSession, error)
	Update(ctx context.Context, s *ImpersonationSession) error
}

// AuditStore appends immutable entries and reads them newest first. Delete
// exists solely for the organization purge cascade.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*AuditEntry, error)
	ListByAction(ctx context.Context, action string, limit int) ([]*AuditEntry, error)
	ListByActor(ctx context.Context, actorUserID string, limit int) ([]*AuditEntry, error)
	ListByResourceType(ctx context.Context, resourceType string, limit int) ([]*AuditEntry, error)
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}
