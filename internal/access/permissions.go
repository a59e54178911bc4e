package access

// Permission is a capability tag evaluated by exact match. PermAll grants
// every capability; no other pattern matching is supported.
type Permission string

const (
	PermAll Permission = "*"

	PermOrgManage    Permission = "org:manage"
	PermOrgRead      Permission = "org:read"
	PermRoleManage   Permission = "role:manage"
	PermMemberManage Permission = "member:manage"
	PermInviteManage Permission = "invite:manage"
	PermAuditRead    Permission = "audit:read"
)

// AllPermissions lists every capability the engine evaluates, PermAll aside.
var AllPermissions = []Permission{
	PermOrgManage,
	PermOrgRead,
	PermRoleManage,
	PermMemberManage,
	PermInviteManage,
	PermAuditRead,
}

// HasPermission reports whether perms grants required, either literally or
// through the catch-all wildcard.
func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == PermAll || p == required {
			return true
		}
	}
	return false
}
