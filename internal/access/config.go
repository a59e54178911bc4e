package access

import "time"

const (
	defaultInvitationTTL    = 7 * 24 * time.Hour
	defaultImpersonationTTL = time.Hour
	defaultRetentionWindow  = 7 * 24 * time.Hour
	defaultPurgeBatchSize   = 50
	defaultCodeLength       = 8
)

// RoleSeed describes one system role created for every new organization.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []Permission
	SortOrder   int
}

// Config carries per-deployment settings. It is threaded explicitly through
// NewService; nothing reads it from package state.
type Config struct {
	// SystemRoles seeds new organizations. Exactly one entry must have
	// SortOrder 0; it becomes the owner role.
	SystemRoles []RoleSeed

	InvitationTTL    time.Duration
	ImpersonationTTL time.Duration
	RetentionWindow  time.Duration
	PurgeBatchSize   int
	InviteCodeLength int

	// MigrationLinking enables the one-time LinkMigratedUser routine.
	MigrationLinking bool
}

// DefaultConfig returns the stock three-role hierarchy and retention
// settings.
func DefaultConfig() Config {
	return Config{
		SystemRoles: []RoleSeed{
			{
				Name:        "owner",
				Description: "Full control over the organization",
				Permissions: []Permission{PermAll},
				SortOrder:   0,
			},
			{
				Name:        "admin",
				Description: "Manage members, roles and invitations",
				Permissions: []Permission{
					PermOrgManage, PermOrgRead, PermRoleManage,
					PermMemberManage, PermInviteManage, PermAuditRead,
				},
				SortOrder: 10,
			},
			{
				Name:        "member",
				Description: "Regular organization member",
				Permissions: []Permission{PermOrgRead},
				SortOrder:   20,
			},
		},
		InvitationTTL:    defaultInvitationTTL,
		ImpersonationTTL: defaultImpersonationTTL,
		RetentionWindow:  defaultRetentionWindow,
		PurgeBatchSize:   defaultPurgeBatchSize,
		InviteCodeLength: defaultCodeLength,
	}
}

func (c Config) withDefaults() Config {
	if len(c.SystemRoles) == 0 {
		c.SystemRoles = DefaultConfig().SystemRoles
	}
	if c.InvitationTTL <= 0 {
		c.InvitationTTL = defaultInvitationTTL
	}
	if c.ImpersonationTTL <= 0 {
		c.ImpersonationTTL = defaultImpersonationTTL
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = defaultRetentionWindow
	}
	if c.PurgeBatchSize <= 0 {
		c.PurgeBatchSize = defaultPurgeBatchSize
	}
	if c.InviteCodeLength <= 0 {
		c.InviteCodeLength = defaultCodeLength
	}
	return c
}
