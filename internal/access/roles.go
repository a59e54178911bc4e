package access

import (
	"context"
	"errors"
	"fmt"
)

// RoleInput carries the fields for a new custom role.
type RoleInput struct {
	Name        string
	Description string
	Permissions []Permission
	SortOrder   int
}

// RoleUpdate is a partial role update; nil fields stay untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions []Permission
	SortOrder   *int
}

// SeedSystemRoles inserts the configured system roles into an organization.
// CreateOrg does this automatically; the exported form exists for repairing
// organizations provisioned out of band.
func (s *Service) SeedSystemRoles(ctx context.Context, orgID string) ([]*Role, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	var roles []*Role
	err = s.store.Atomic(ctx, func(tx Store) error {
		if _, err := tx.Orgs().Find(ctx, orgID); err != nil {
			return err
		}
		roles, err = s.seedSystemRoles(ctx, tx, orgID)
		return err
	})
	return roles, s.op("role", "seed", err)
}

func (s *Service) seedSystemRoles(ctx context.Context, tx Store, orgID string) ([]*Role, error) {
	now := s.now().UTC()
	roles := make([]*Role, 0, len(s.cfg.SystemRoles))
	for _, seed := range s.cfg.SystemRoles {
		if _, err := tx.Roles().FindByName(ctx, orgID, seed.Name); err == nil {
			return nil, fmt.Errorf("%w: role %s already seeded", ErrDuplicateConflict, seed.Name)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		role := &Role{
			ID:          newID(),
			OrgID:       orgID,
			Name:        seed.Name,
			Description: seed.Description,
			Permissions: append([]Permission(nil), seed.Permissions...),
			IsSystem:    true,
			SortOrder:   seed.SortOrder,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Roles().Insert(ctx, role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// CreateRole adds a custom role. The actor needs role:manage and may only
// create roles at or below its own authority (SortOrder >= the actor's).
func (s *Service) CreateRole(ctx context.Context, actor Actor, orgID string, in RoleInput) (*Role, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	name := trimmed(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if in.SortOrder < 0 {
		return nil, fmt.Errorf("%w: sort order must not be negative", ErrInvalidInput)
	}

	var role *Role
	err = s.store.Atomic(ctx, func(tx Store) error {
		_, actorRole, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermRoleManage)
		if err != nil {
			return err
		}
		if in.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot create a role above your own authority", ErrAuthorityViolation)
		}
		if _, err := tx.Roles().FindByName(ctx, orgID, name); err == nil {
			return fmt.Errorf("%w: role %s already exists", ErrDuplicateConflict, name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		role = &Role{
			ID:          newID(),
			OrgID:       orgID,
			Name:        name,
			Description: trimmed(in.Description),
			Permissions: append([]Permission(nil), in.Permissions...),
			SortOrder:   in.SortOrder,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Roles().Insert(ctx, role); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "role.created", "role", role.ID, map[string]string{
			"name":       name,
			"sort_order": fmt.Sprint(in.SortOrder),
		})
	})
	return role, s.op("role", "create", err)
}

// UpdateRole edits a role. System roles keep their name; neither the role's
// current nor its new authority may exceed the actor's.
func (s *Service) UpdateRole(ctx context.Context, actor Actor, roleID string, upd RoleUpdate) (*Role, error) {
	roleID, err := requireID(roleID, "role_id")
	if err != nil {
		return nil, err
	}
	var role *Role
	err = s.store.Atomic(ctx, func(tx Store) error {
		role, err = tx.Roles().Find(ctx, roleID)
		if err != nil {
			return err
		}
		_, actorRole, err := s.requirePermission(ctx, tx, role.OrgID, actor.Effective(), PermRoleManage)
		if err != nil {
			return err
		}
		if role.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot edit a role above your own authority", ErrAuthorityViolation)
		}

		changed := map[string]string{}
		if upd.Name != nil {
			name := trimmed(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: role name is required", ErrInvalidInput)
			}
			if role.IsSystem && name != role.Name {
				return fmt.Errorf("%w: system roles cannot be renamed", ErrInvalidState)
			}
			if name != role.Name {
				if _, err := tx.Roles().FindByName(ctx, role.OrgID, name); err == nil {
					return fmt.Errorf("%w: role %s already exists", ErrDuplicateConflict, name)
				} else if !errors.Is(err, ErrNotFound) {
					return err
				}
				changed["name"] = name
				role.Name = name
			}
		}
		if upd.Description != nil {
			role.Description = trimmed(*upd.Description)
			changed["description"] = role.Description
		}
		if upd.Permissions != nil {
			role.Permissions = append([]Permission(nil), upd.Permissions...)
			changed["permissions"] = "updated"
		}
		if upd.SortOrder != nil {
			if *upd.SortOrder < actorRole.SortOrder {
				return fmt.Errorf("%w: cannot raise a role above your own authority", ErrAuthorityViolation)
			}
			changed["sort_order"] = fmt.Sprint(*upd.SortOrder)
			role.SortOrder = *upd.SortOrder
		}
		if len(changed) == 0 {
			return nil
		}
		role.UpdatedAt = s.now().UTC()
		if err := tx.Roles().Update(ctx, role); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, role.OrgID, actor, "role.updated", "role", role.ID, changed)
	})
	return role, s.op("role", "update", err)
}

// DeleteRole removes a custom role that nothing references. Memberships and
// pending invitations must be reassigned or revoked first.
func (s *Service) DeleteRole(ctx context.Context, actor Actor, roleID string) error {
	roleID, err := requireID(roleID, "role_id")
	if err != nil {
		return err
	}
	return s.op("role", "delete", s.store.Atomic(ctx, func(tx Store) error {
		role, err := tx.Roles().Find(ctx, roleID)
		if err != nil {
			return err
		}
		_, actorRole, err := s.requirePermission(ctx, tx, role.OrgID, actor.Effective(), PermRoleManage)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return fmt.Errorf("%w: system roles cannot be deleted", ErrInvalidState)
		}
		if role.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot delete a role above your own authority", ErrAuthorityViolation)
		}
		members, err := tx.Memberships().CountByRole(ctx, roleID)
		if err != nil {
			return err
		}
		if members > 0 {
			return fmt.Errorf("%w: role still held by %d member(s)", ErrInvalidState, members)
		}
		pending, err := tx.Invitations().CountPendingByRole(ctx, roleID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: role referenced by %d pending invitation(s)", ErrInvalidState, pending)
		}
		if err := tx.Roles().Delete(ctx, roleID); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, role.OrgID, actor, "role.deleted", "role", roleID, map[string]string{
			"name": role.Name,
		})
	}))
}

// ListRoles returns the organization's roles ordered by authority.
func (s *Service) ListRoles(ctx context.Context, actor Actor, orgID string) ([]*Role, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requirePermission(ctx, s.store, orgID, actor.Effective(), PermOrgRead); err != nil {
		return nil, err
	}
	return s.store.Roles().ListByOrg(ctx, orgID)
}

// ownerRoleForOrg resolves the organization's top-authority role.
func ownerRoleForOrg(ctx context.Context, tx Store, orgID string) (*Role, error) {
	roles, err := tx.Roles().ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	owner := findOwnerRole(roles)
	if owner == nil {
		return nil, fmt.Errorf("%w: organization has no owner role", ErrNotFound)
	}
	return owner, nil
}
