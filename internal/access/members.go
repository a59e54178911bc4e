package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// addOwner inserts the creator membership holding the owner role. Used by
// CreateOrg and TransferOwnership inside their transactions.
func (s *Service) addOwner(ctx context.Context, tx Store, orgID, ownerRoleID, userID string) error {
	m := &Membership{
		ID:       newID(),
		OrgID:    orgID,
		UserID:   userID,
		RoleID:   ownerRoleID,
		JoinedAt: s.now().UTC(),
	}
	return tx.Memberships().Insert(ctx, m)
}

// insertMembership adds a member and writes the member.added audit entry.
// Shared by invitation acceptance and code redemption.
func (s *Service) insertMembership(ctx context.Context, tx Store, actor Actor, orgID, userID, roleID, invitedBy, via string) (*Membership, error) {
	m := &Membership{
		ID:        newID(),
		OrgID:     orgID,
		UserID:    userID,
		RoleID:    roleID,
		JoinedAt:  s.now().UTC(),
		InvitedBy: invitedBy,
	}
	if err := tx.Memberships().Insert(ctx, m); err != nil {
		return nil, err
	}
	if err := s.writeAudit(ctx, tx, orgID, actor, "member.added", "membership", m.ID, map[string]string{
		"user_id": userID,
		"role_id": roleID,
		"via":     via,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMemberRole moves a member to a new role. The actor must strictly
// outrank the member's current role and must not assign a role above the
// actor's own authority. Actors cannot change their own role here.
func (s *Service) UpdateMemberRole(ctx context.Context, actor Actor, orgID, targetUserID, newRoleID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	targetUserID, err = requireID(targetUserID, "user_id")
	if err != nil {
		return err
	}
	newRoleID, err = requireID(newRoleID, "role_id")
	if err != nil {
		return err
	}
	if targetUserID == actor.Effective() {
		return fmt.Errorf("%w: cannot change your own role", ErrInvalidInput)
	}
	return s.op("member", "role_change", s.store.Atomic(ctx, func(tx Store) error {
		_, actorRole, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermMemberManage)
		if err != nil {
			return err
		}
		target, err := tx.Memberships().Find(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		oldRole, err := tx.Roles().Find(ctx, target.RoleID)
		if err != nil {
			return err
		}
		if actorRole.SortOrder >= oldRole.SortOrder {
			return fmt.Errorf("%w: member outranks you", ErrAuthorityViolation)
		}
		newRole, err := tx.Roles().Find(ctx, newRoleID)
		if err != nil {
			return err
		}
		if newRole.OrgID != orgID {
			return fmt.Errorf("%w: role belongs to a different organization", ErrInvalidInput)
		}
		if newRole.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot assign a role above your own authority", ErrAuthorityViolation)
		}
		if newRole.ID == oldRole.ID {
			return nil
		}
		if oldRole.SortOrder == 0 && newRole.SortOrder != 0 {
			if err := s.guardLastOwner(ctx, tx, orgID, oldRole.ID); err != nil {
				return err
			}
		}
		target.RoleID = newRole.ID
		if err := tx.Memberships().Update(ctx, target); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "member.role_changed", "membership", target.ID, map[string]string{
			"user_id":  targetUserID,
			"old_role": oldRole.Name,
			"new_role": newRole.Name,
		})
	}))
}

// RemoveMember removes another member the actor strictly outranks. Members
// leave their own org through LeaveOrg only.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, orgID, targetUserID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	targetUserID, err = requireID(targetUserID, "user_id")
	if err != nil {
		return err
	}
	if targetUserID == actor.Effective() {
		return fmt.Errorf("%w: use LeaveOrg to remove yourself", ErrInvalidInput)
	}
	return s.op("member", "remove", s.store.Atomic(ctx, func(tx Store) error {
		_, actorRole, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermMemberManage)
		if err != nil {
			return err
		}
		target, err := tx.Memberships().Find(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		targetRole, err := tx.Roles().Find(ctx, target.RoleID)
		if err != nil {
			return err
		}
		if actorRole.SortOrder >= targetRole.SortOrder {
			return fmt.Errorf("%w: member outranks you", ErrAuthorityViolation)
		}
		if targetRole.SortOrder == 0 {
			if err := s.guardLastOwner(ctx, tx, orgID, targetRole.ID); err != nil {
				return err
			}
		}
		if err := tx.Memberships().Delete(ctx, orgID, targetUserID); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "member.removed", "membership", target.ID, map[string]string{
			"user_id": targetUserID,
			"role":    targetRole.Name,
		})
	}))
}

// LeaveOrg removes the caller's own membership. The sole holder of the
// owner role cannot leave while other members remain.
func (s *Service) LeaveOrg(ctx context.Context, actor Actor, orgID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	return s.op("member", "leave", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requireLiveProfile(ctx, tx, actor.Effective()); err != nil {
			return err
		}
		m, err := tx.Memberships().Find(ctx, orgID, actor.Effective())
		if err != nil {
			return err
		}
		role, err := tx.Roles().Find(ctx, m.RoleID)
		if err != nil {
			return err
		}
		if role.SortOrder == 0 {
			if err := s.guardLastOwner(ctx, tx, orgID, role.ID); err != nil {
				return err
			}
		}
		if err := tx.Memberships().Delete(ctx, orgID, actor.Effective()); err != nil {
			return err
		}
		if err := s.clearActiveOrg(ctx, tx, actor.Effective(), orgID); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "member.left", "membership", m.ID, map[string]string{
			"user_id": actor.Effective(),
			"role":    role.Name,
		})
	}))
}

// ForceRemoveMember removes any member without hierarchy checks. Platform
// admin only; the last-owner guard still applies.
func (s *Service) ForceRemoveMember(ctx context.Context, actor Actor, orgID, targetUserID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	targetUserID, err = requireID(targetUserID, "user_id")
	if err != nil {
		return err
	}
	return s.op("member", "force_remove", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, actor.UserID); err != nil {
			return err
		}
		target, err := tx.Memberships().Find(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		role, err := tx.Roles().Find(ctx, target.RoleID)
		if err != nil {
			return err
		}
		if role.SortOrder == 0 {
			if err := s.guardLastOwner(ctx, tx, orgID, role.ID); err != nil {
				return err
			}
		}
		if err := tx.Memberships().Delete(ctx, orgID, targetUserID); err != nil {
			return err
		}
		if err := s.clearActiveOrg(ctx, tx, targetUserID, orgID); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "member.removed", "membership", target.ID, map[string]string{
			"user_id": targetUserID,
			"role":    role.Name,
			"forced":  "true",
		})
	}))
}

// TransferOwnership demotes every current owner to the admin-equivalent
// role and promotes the designated member. Platform admin only.
func (s *Service) TransferOwnership(ctx context.Context, actor Actor, orgID, newOwnerUserID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	newOwnerUserID, err = requireID(newOwnerUserID, "user_id")
	if err != nil {
		return err
	}
	return s.op("member", "transfer_ownership", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, actor.UserID); err != nil {
			return err
		}
		if _, err := tx.Orgs().Find(ctx, orgID); err != nil {
			return err
		}
		ownerRole, err := ownerRoleForOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		adminRole, err := adminEquivalentRole(ctx, tx, orgID)
		if err != nil {
			return err
		}
		newOwner, err := tx.Memberships().Find(ctx, orgID, newOwnerUserID)
		if err != nil {
			return err
		}

		members, err := tx.Memberships().ListByOrg(ctx, orgID)
		if err != nil {
			return err
		}
		// Record every holder of the owner role before any demotion, the
		// promoted member included.
		var priorOwners []string
		for _, m := range members {
			if m.RoleID != ownerRole.ID {
				continue
			}
			priorOwners = append(priorOwners, m.UserID)
			if m.UserID == newOwnerUserID {
				continue
			}
			m.RoleID = adminRole.ID
			if err := tx.Memberships().Update(ctx, m); err != nil {
				return err
			}
		}
		if newOwner.RoleID != ownerRole.ID {
			newOwner.RoleID = ownerRole.ID
			if err := tx.Memberships().Update(ctx, newOwner); err != nil {
				return err
			}
		}
		return s.writeAudit(ctx, tx, orgID, actor, "org.ownership_transferred", "organization", orgID, map[string]string{
			"new_owner":    newOwnerUserID,
			"prior_owners": strings.Join(priorOwners, ","),
		})
	}))
}

// ListMembers returns the organization's memberships.
func (s *Service) ListMembers(ctx context.Context, actor Actor, orgID string) ([]*Membership, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requirePermission(ctx, s.store, orgID, actor.Effective(), PermOrgRead); err != nil {
		return nil, err
	}
	return s.store.Memberships().ListByOrg(ctx, orgID)
}

// guardLastOwner fails when removing or demoting one more holder of the
// owner role would leave a populated organization ownerless.
func (s *Service) guardLastOwner(ctx context.Context, tx Store, orgID, ownerRoleID string) error {
	owners, err := tx.Memberships().CountByRole(ctx, ownerRoleID)
	if err != nil {
		return err
	}
	if owners > 1 {
		return nil
	}
	total, err := tx.Memberships().CountByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if total <= 1 {
		// The sole member may leave; the org ends up empty, not ownerless.
		return nil
	}
	return ErrLastOwner
}

// clearActiveOrg resets a profile's active org when it pointed at the org
// the user just left.
func (s *Service) clearActiveOrg(ctx context.Context, tx Store, userID, orgID string) error {
	profile, err := tx.Profiles().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if profile.ActiveOrgID != orgID {
		return nil
	}
	profile.ActiveOrgID = ""
	profile.UpdatedAt = s.now().UTC()
	return tx.Profiles().Update(ctx, profile)
}

// adminEquivalentRole picks the strongest non-owner system role.
func adminEquivalentRole(ctx context.Context, tx Store, orgID string) (*Role, error) {
	roles, err := tx.Roles().ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var best *Role
	for _, r := range roles {
		if !r.IsSystem || r.SortOrder == 0 {
			continue
		}
		if best == nil || r.SortOrder < best.SortOrder {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: organization has no admin role", ErrNotFound)
	}
	return best, nil
}
