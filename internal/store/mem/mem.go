// Package mem implements the access store in process memory. It backs the
// service tests and local development runs; the durable implementation
// lives in internal/store/pg.
package mem

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/access"
)

// Store keeps every entity in maps guarded by a read-write mutex. Atomic
// serializes whole operations with a second mutex and restores a snapshot
// when the callback fails, matching the transactional contract of the sql
// store.
type Store struct {
	opMu sync.Mutex
	mu   sync.RWMutex

	orgs        map[string]*access.Organization
	roles       map[string]*access.Role
	memberships map[string]*access.Membership
	invitations map[string]*access.Invitation
	codes       map[string]*access.InvitationCode
	profiles    map[string]*access.UserProfile
	devices     map[string]*access.Device // keyed by session id
	sessions    map[string]*access.ImpersonationSession
	audit       []*access.AuditEntry
}

var _ access.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		orgs:        make(map[string]*access.Organization),
		roles:       make(map[string]*access.Role),
		memberships: make(map[string]*access.Membership),
		invitations: make(map[string]*access.Invitation),
		codes:       make(map[string]*access.InvitationCode),
		profiles:    make(map[string]*access.UserProfile),
		devices:     make(map[string]*access.Device),
		sessions:    make(map[string]*access.ImpersonationSession),
	}
}

func (s *Store) Orgs() access.OrgStore                     { return orgStore{s} }
func (s *Store) Roles() access.RoleStore                   { return roleStore{s} }
func (s *Store) Memberships() access.MembershipStore       { return membershipStore{s} }
func (s *Store) Invitations() access.InvitationStore       { return invitationStore{s} }
func (s *Store) InviteCodes() access.InviteCodeStore       { return codeStore{s} }
func (s *Store) Profiles() access.ProfileStore             { return profileStore{s} }
func (s *Store) Devices() access.DeviceStore               { return deviceStore{s} }
func (s *Store) Impersonations() access.ImpersonationStore { return impersonationStore{s} }
func (s *Store) Audit() access.AuditStore                  { return auditStore{s} }

// Atomic serializes the whole operation and discards its writes when fn
// fails. Every sub-store replaces map entries with fresh copies instead of
// mutating them in place, so a shallow clone taken on entry is enough to
// restore the pre-operation state.
func (s *Store) Atomic(ctx context.Context, fn func(tx access.Store) error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	orgs        map[string]*access.Organization
	roles       map[string]*access.Role
	memberships map[string]*access.Membership
	invitations map[string]*access.Invitation
	codes       map[string]*access.InvitationCode
	profiles    map[string]*access.UserProfile
	devices     map[string]*access.Device
	sessions    map[string]*access.ImpersonationSession
	audit       []*access.AuditEntry
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		orgs:        maps.Clone(s.orgs),
		roles:       maps.Clone(s.roles),
		memberships: maps.Clone(s.memberships),
		invitations: maps.Clone(s.invitations),
		codes:       maps.Clone(s.codes),
		profiles:    maps.Clone(s.profiles),
		devices:     maps.Clone(s.devices),
		sessions:    maps.Clone(s.sessions),
		audit:       s.audit[:len(s.audit):len(s.audit)],
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = snap.orgs
	s.roles = snap.roles
	s.memberships = snap.memberships
	s.invitations = snap.invitations
	s.codes = snap.codes
	s.profiles = snap.profiles
	s.devices = snap.devices
	s.sessions = snap.sessions
	s.audit = snap.audit
}

// RemapUserRef rewrites a whitelisted user reference column. Matches are
// replaced with copies so Atomic's shallow snapshot stays intact.
func (s *Store) RemapUserRef(ctx context.Context, entity, field, fromID, toID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	switch entity + "." + field {
	case "organizations.created_by":
		for id, o := range s.orgs {
			if o.CreatedBy == fromID {
				cp := *o
				cp.CreatedBy = toID
				s.orgs[id] = &cp
				n++
			}
		}
	case "memberships.user_id":
		for id, m := range s.memberships {
			if m.UserID == fromID {
				cp := *m
				cp.UserID = toID
				s.memberships[id] = &cp
				n++
			}
		}
	case "memberships.invited_by":
		for id, m := range s.memberships {
			if m.InvitedBy == fromID {
				cp := *m
				cp.InvitedBy = toID
				s.memberships[id] = &cp
				n++
			}
		}
	case "invitations.invited_by":
		for id, inv := range s.invitations {
			if inv.InvitedBy == fromID {
				cp := *inv
				cp.InvitedBy = toID
				s.invitations[id] = &cp
				n++
			}
		}
	case "invitations.accepted_by":
		for id, inv := range s.invitations {
			if inv.AcceptedBy == fromID {
				cp := *inv
				cp.AcceptedBy = toID
				s.invitations[id] = &cp
				n++
			}
		}
	case "invitation_codes.created_by":
		for id, c := range s.codes {
			if c.CreatedBy == fromID {
				cp := *c
				cp.CreatedBy = toID
				s.codes[id] = &cp
				n++
			}
		}
	case "devices.user_id":
		for sid, d := range s.devices {
			if d.UserID == fromID {
				cp := *d
				cp.UserID = toID
				s.devices[sid] = &cp
				n++
			}
		}
	default:
		return 0, fmt.Errorf("mem: remap target %s.%s is not whitelisted", entity, field)
	}
	return n, nil
}

// --- organizations ---

type orgStore struct{ s *Store }

func (st orgStore) Insert(ctx context.Context, org *access.Organization) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.orgs[org.ID]; ok {
		return access.ErrDuplicateConflict
	}
	for _, o := range st.s.orgs {
		if o.Slug == org.Slug {
			return access.ErrDuplicateConflict
		}
	}
	cp := *org
	st.s.orgs[org.ID] = &cp
	return nil
}

func (st orgStore) Find(ctx context.Context, id string) (*access.Organization, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	org, ok := st.s.orgs[id]
	if !ok || org.Status == access.OrgDeleted {
		return nil, access.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (st orgStore) FindAny(ctx context.Context, id string) (*access.Organization, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	org, ok := st.s.orgs[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (st orgStore) FindBySlug(ctx context.Context, slug string) (*access.Organization, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, org := range st.s.orgs {
		if org.Slug == slug {
			cp := *org
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st orgStore) Update(ctx context.Context, org *access.Organization) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.orgs[org.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *org
	st.s.orgs[org.ID] = &cp
	return nil
}

func (st orgStore) Delete(ctx context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.orgs[id]; !ok {
		return access.ErrNotFound
	}
	delete(st.s.orgs, id)
	return nil
}

func (st orgStore) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.Organization, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Organization
	for _, org := range st.s.orgs {
		if org.Status != access.OrgDeleted || org.DeletedAt == nil || !org.DeletedAt.Before(cutoff) {
			continue
		}
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- roles ---

type roleStore struct{ s *Store }

func (st roleStore) Insert(ctx context.Context, role *access.Role) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[role.ID]; ok {
		return access.ErrDuplicateConflict
	}
	for _, r := range st.s.roles {
		if r.OrgID == role.OrgID && r.Name == role.Name {
			return access.ErrDuplicateConflict
		}
	}
	cp := *role
	cp.Permissions = append([]access.Permission(nil), role.Permissions...)
	st.s.roles[role.ID] = &cp
	return nil
}

func (st roleStore) Find(ctx context.Context, id string) (*access.Role, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	role, ok := st.s.roles[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]access.Permission(nil), role.Permissions...)
	return &cp, nil
}

func (st roleStore) FindByName(ctx context.Context, orgID, name string) (*access.Role, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, role := range st.s.roles {
		if role.OrgID == orgID && role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st roleStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Role, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Role
	for _, role := range st.s.roles {
		if role.OrgID != orgID {
			continue
		}
		cp := *role
		cp.Permissions = append([]access.Permission(nil), role.Permissions...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (st roleStore) Update(ctx context.Context, role *access.Role) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[role.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]access.Permission(nil), role.Permissions...)
	st.s.roles[role.ID] = &cp
	return nil
}

func (st roleStore) Delete(ctx context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[id]; !ok {
		return access.ErrNotFound
	}
	delete(st.s.roles, id)
	return nil
}

func (st roleStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, role := range st.s.roles {
		if role.OrgID == orgID {
			delete(st.s.roles, id)
			n++
		}
	}
	return n, nil
}

// --- memberships ---

type membershipStore struct{ s *Store }

func (st membershipStore) Insert(ctx context.Context, m *access.Membership) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.memberships {
		if existing.OrgID == m.OrgID && existing.UserID == m.UserID {
			return access.ErrDuplicateConflict
		}
	}
	cp := *m
	st.s.memberships[m.ID] = &cp
	return nil
}

func (st membershipStore) Find(ctx context.Context, orgID, userID string) (*access.Membership, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, m := range st.s.memberships {
		if m.OrgID == orgID && m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st membershipStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Membership, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Membership
	for _, m := range st.s.memberships {
		if m.OrgID == orgID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (st membershipStore) ListByUser(ctx context.Context, userID string) ([]*access.Membership, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Membership
	for _, m := range st.s.memberships {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (st membershipStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	n := 0
	for _, m := range st.s.memberships {
		if m.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (st membershipStore) CountByOrg(ctx context.Context, orgID string) (int, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	n := 0
	for _, m := range st.s.memberships {
		if m.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

func (st membershipStore) Update(ctx context.Context, m *access.Membership) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.memberships[m.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *m
	st.s.memberships[m.ID] = &cp
	return nil
}

func (st membershipStore) Delete(ctx context.Context, orgID, userID string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for id, m := range st.s.memberships {
		if m.OrgID == orgID && m.UserID == userID {
			delete(st.s.memberships, id)
			return nil
		}
	}
	return access.ErrNotFound
}

func (st membershipStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, m := range st.s.memberships {
		if m.UserID == userID {
			delete(st.s.memberships, id)
			n++
		}
	}
	return n, nil
}

func (st membershipStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, m := range st.s.memberships {
		if m.OrgID == orgID {
			delete(st.s.memberships, id)
			n++
		}
	}
	return n, nil
}

// --- invitations ---

type invitationStore struct{ s *Store }

func (st invitationStore) Insert(ctx context.Context, inv *access.Invitation) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.invitations[inv.ID]; ok {
		return access.ErrDuplicateConflict
	}
	cp := *inv
	st.s.invitations[inv.ID] = &cp
	return nil
}

func (st invitationStore) Find(ctx context.Context, id string) (*access.Invitation, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	inv, ok := st.s.invitations[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (st invitationStore) FindByTokenHash(ctx context.Context, hash string) (*access.Invitation, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, inv := range st.s.invitations {
		if inv.TokenHash == hash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st invitationStore) FindPendingByEmail(ctx context.Context, orgID, email string) (*access.Invitation, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, inv := range st.s.invitations {
		if inv.OrgID == orgID && inv.Email == email && inv.Status == access.InvitationPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st invitationStore) FindPendingByPhone(ctx context.Context, orgID, phone string) (*access.Invitation, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, inv := range st.s.invitations {
		if inv.OrgID == orgID && inv.Phone == phone && inv.Status == access.InvitationPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st invitationStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Invitation, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Invitation
	for _, inv := range st.s.invitations {
		if inv.OrgID == orgID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st invitationStore) CountPendingByRole(ctx context.Context, roleID string) (int, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	n := 0
	for _, inv := range st.s.invitations {
		if inv.RoleID == roleID && inv.Status == access.InvitationPending {
			n++
		}
	}
	return n, nil
}

func (st invitationStore) Update(ctx context.Context, inv *access.Invitation) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.invitations[inv.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *inv
	st.s.invitations[inv.ID] = &cp
	return nil
}

func (st invitationStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, inv := range st.s.invitations {
		if inv.OrgID == orgID {
			delete(st.s.invitations, id)
			n++
		}
	}
	return n, nil
}

// --- invitation codes ---

type codeStore struct{ s *Store }

func (st codeStore) Insert(ctx context.Context, code *access.InvitationCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, c := range st.s.codes {
		if c.Code == code.Code {
			return access.ErrDuplicateConflict
		}
	}
	cp := *code
	st.s.codes[code.ID] = &cp
	return nil
}

func (st codeStore) Find(ctx context.Context, id string) (*access.InvitationCode, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	code, ok := st.s.codes[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *code
	return &cp, nil
}

func (st codeStore) FindByCode(ctx context.Context, value string) (*access.InvitationCode, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, code := range st.s.codes {
		if code.Code == value {
			cp := *code
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st codeStore) ListByOrg(ctx context.Context, orgID string) ([]*access.InvitationCode, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.InvitationCode
	for _, code := range st.s.codes {
		if code.OrgID == orgID {
			cp := *code
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st codeStore) Update(ctx context.Context, code *access.InvitationCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.codes[code.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *code
	st.s.codes[code.ID] = &cp
	return nil
}

func (st codeStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, code := range st.s.codes {
		if code.OrgID == orgID {
			delete(st.s.codes, id)
			n++
		}
	}
	return n, nil
}

// --- profiles ---

type profileStore struct{ s *Store }

func (st profileStore) Insert(ctx context.Context, p *access.UserProfile) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.profiles[p.ID]; ok {
		return access.ErrDuplicateConflict
	}
	cp := *p
	st.s.profiles[p.ID] = &cp
	return nil
}

func (st profileStore) Find(ctx context.Context, id string) (*access.UserProfile, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	p, ok := st.s.profiles[id]
	if !ok || p.DeletedAt != nil {
		return nil, access.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (st profileStore) FindAny(ctx context.Context, id string) (*access.UserProfile, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	p, ok := st.s.profiles[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (st profileStore) Update(ctx context.Context, p *access.UserProfile) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.profiles[p.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *p
	st.s.profiles[p.ID] = &cp
	return nil
}

func (st profileStore) Delete(ctx context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.profiles[id]; !ok {
		return access.ErrNotFound
	}
	delete(st.s.profiles, id)
	return nil
}

func (st profileStore) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.UserProfile, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.UserProfile
	for _, p := range st.s.profiles {
		if p.DeletedAt == nil || !p.DeletedAt.Before(cutoff) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- devices ---

type deviceStore struct{ s *Store }

func (st deviceStore) Upsert(ctx context.Context, d *access.Device) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if existing, ok := st.s.devices[d.SessionID]; ok {
		cp := *d
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
		st.s.devices[d.SessionID] = &cp
		return nil
	}
	cp := *d
	st.s.devices[d.SessionID] = &cp
	return nil
}

func (st deviceStore) ListByUser(ctx context.Context, userID string) ([]*access.Device, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.Device
	for _, d := range st.s.devices {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (st deviceStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for sid, d := range st.s.devices {
		if d.UserID == userID {
			delete(st.s.devices, sid)
			n++
		}
	}
	return n, nil
}

// --- impersonation sessions ---

type impersonationStore struct{ s *Store }

func (st impersonationStore) Insert(ctx context.Context, session *access.ImpersonationSession) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.sessions[session.ID]; ok {
		return access.ErrDuplicateConflict
	}
	cp := *session
	st.s.sessions[session.ID] = &cp
	return nil
}

func (st impersonationStore) Find(ctx context.Context, id string) (*access.ImpersonationSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	session, ok := st.s.sessions[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (st impersonationStore) FindActiveByAdmin(ctx context.Context, adminUserID string) (*access.ImpersonationSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, session := range st.s.sessions {
		if session.AdminUserID == adminUserID && session.Status == access.SessionActive {
			cp := *session
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (st impersonationStore) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.ImpersonationSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.ImpersonationSession
	for _, session := range st.s.sessions {
		if session.Status != access.SessionActive || session.ExpiresAt.After(cutoff) {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st impersonationStore) Update(ctx context.Context, session *access.ImpersonationSession) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.sessions[session.ID]; !ok {
		return access.ErrNotFound
	}
	cp := *session
	st.s.sessions[session.ID] = &cp
	return nil
}

// --- audit ---

type auditStore struct{ s *Store }

func (st auditStore) Append(ctx context.Context, e *access.AuditEntry) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *e
	st.s.audit = append(st.s.audit, &cp)
	return nil
}

func (st auditStore) ListByOrg(ctx context.Context, orgID string, limit int) ([]*access.AuditEntry, error) {
	return st.filtered(func(e *access.AuditEntry) bool { return e.OrgID == orgID }, limit)
}

func (st auditStore) ListByAction(ctx context.Context, action string, limit int) ([]*access.AuditEntry, error) {
	return st.filtered(func(e *access.AuditEntry) bool { return e.Action == action }, limit)
}

func (st auditStore) ListByActor(ctx context.Context, actorUserID string, limit int) ([]*access.AuditEntry, error) {
	return st.filtered(func(e *access.AuditEntry) bool { return e.ActorUserID == actorUserID }, limit)
}

func (st auditStore) ListByResourceType(ctx context.Context, resourceType string, limit int) ([]*access.AuditEntry, error) {
	return st.filtered(func(e *access.AuditEntry) bool { return e.ResourceType == resourceType }, limit)
}

func (st auditStore) filtered(match func(*access.AuditEntry) bool, limit int) ([]*access.AuditEntry, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*access.AuditEntry
	for i := len(st.s.audit) - 1; i >= 0; i-- {
		if !match(st.s.audit[i]) {
			continue
		}
		cp := *st.s.audit[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (st auditStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var kept []*access.AuditEntry
	var n int64
	for _, e := range st.s.audit {
		if e.OrgID == orgID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	st.s.audit = kept
	return n, nil
}
