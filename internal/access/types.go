package access

import "time"

// OrgStatus tracks the organization lifecycle.
type OrgStatus string

const (
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
	OrgDeleted   OrgStatus = "deleted"
)

// Organization is a tenant. A deleted organization keeps its row (and its
// slug reservation) until the retention purge removes it for good.
type Organization struct {
	ID         string
	Name       string
	Slug       string
	LogoURL    string
	Metadata   map[string]string
	CreatedBy  string
	IsPersonal bool
	Status     OrgStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Role groups permissions inside one organization. Lower SortOrder means
// more authority; the seeded owner role sits at SortOrder 0.
type Role struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	Permissions []Permission
	IsSystem    bool
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership links a user to an organization through exactly one role.
type Membership struct {
	ID        string
	OrgID     string
	UserID    string
	RoleID    string
	JoinedAt  time.Time
	InvitedBy string
}

// InvitationStatus tracks the token invitation state machine. Every status
// except pending is terminal.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation targets one email or phone with one role. Only a SHA-256 hash
// of the token is stored; the raw value is handed out exactly once.
type Invitation struct {
	ID         string
	OrgID      string
	Email      string
	Phone      string
	RoleID     string
	InvitedBy  string
	Status     InvitationStatus
	TokenHash  string
	ExpiresAt  time.Time
	AcceptedBy string
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// CodeStatus tracks the invite code state machine.
type CodeStatus string

const (
	CodeActive  CodeStatus = "active"
	CodeRevoked CodeStatus = "revoked"
)

// InvitationCode is a short human-typable code redeemable multiple times up
// to MaxRedemptions (zero means unlimited).
type InvitationCode struct {
	ID              string
	OrgID           string
	Code            string
	RoleID          string
	CreatedBy       string
	MaxRedemptions  int
	RedemptionCount int
	ExpiresAt       *time.Time
	Status          CodeStatus
	RevokedAt       *time.Time
	CreatedAt       time.Time
}

// UserProfile mirrors an externally authenticated user. The ID is the
// opaque identifier handed over by the identity provider.
type UserProfile struct {
	ID          string
	Email       string
	Phone       string
	DisplayName string
	AvatarURL   string
	Metadata    map[string]string
	ActiveOrgID string
	IsBanned    bool
	BanReason   string
	IsAdmin     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Device is one client session, upserted by session id.
type Device struct {
	ID           string
	UserID       string
	SessionID    string
	DeviceName   string
	DeviceType   string
	Browser      string
	OS           string
	IPAddress    string
	LastActiveAt time.Time
	CreatedAt    time.Time
}

// DeviceMetadata is the best-effort parsed user-agent tuple supplied by the
// boundary. Absent fields stay empty; parsing never fails into an error.
type DeviceMetadata struct {
	DeviceName string
	DeviceType string
	Browser    string
	OS         string
}

// SessionStatus tracks impersonation session state.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionEnded   SessionStatus = "ended"
)

// ImpersonationSession records an admin acting as another user. At most one
// active session exists per admin.
type ImpersonationSession struct {
	ID           string
	AdminUserID  string
	TargetUserID string
	Reason       string
	StartedAt    time.Time
	ExpiresAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
}

// AuditEntry is an append-only record of one state change. OrgID is empty
// for platform-level actions. EffectiveUserID is set only when the actor
// was impersonating someone.
type AuditEntry struct {
	ID              string
	OrgID           string
	ActorUserID     string
	EffectiveUserID string
	Action          string
	ResourceType    string
	ResourceID      string
	Metadata        map[string]string
	OccurredAt      time.Time
}
