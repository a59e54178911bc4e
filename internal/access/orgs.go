package access

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// CreateOrgInput carries the caller-supplied organization fields.
type CreateOrgInput struct {
	Name       string
	Slug       string
	LogoURL    string
	Metadata   map[string]string
	IsPersonal bool
}

// OrgUpdate is a partial organization update; nil fields stay untouched.
type OrgUpdate struct {
	Name     *string
	LogoURL  *string
	Metadata map[string]string
}

// CreateOrg creates an organization, seeds its system roles and makes the
// creator its owner. The slug must be unique across live and soft-deleted
// organizations alike: a deleted org keeps its slug reserved until purge.
func (s *Service) CreateOrg(ctx context.Context, actor Actor, in CreateOrgInput) (*Organization, error) {
	name := trimmed(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	slug := strings.ToLower(trimmed(in.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid slug %q", ErrInvalidInput, in.Slug)
	}

	var org *Organization
	err := s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requireLiveProfile(ctx, tx, actor.Effective()); err != nil {
			return err
		}
		_, err := tx.Orgs().FindBySlug(ctx, slug)
		if err == nil {
			return fmt.Errorf("%w: slug %s is taken", ErrDuplicateConflict, slug)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		org = &Organization{
			ID:         newID(),
			Name:       name,
			Slug:       slug,
			LogoURL:    trimmed(in.LogoURL),
			Metadata:   in.Metadata,
			CreatedBy:  actor.Effective(),
			IsPersonal: in.IsPersonal,
			Status:     OrgActive,
			CreatedAt:  s.now().UTC(),
			UpdatedAt:  s.now().UTC(),
		}
		if err := tx.Orgs().Insert(ctx, org); err != nil {
			return err
		}
		roles, err := s.seedSystemRoles(ctx, tx, org.ID)
		if err != nil {
			return err
		}
		owner := findOwnerRole(roles)
		if err := s.addOwner(ctx, tx, org.ID, owner.ID, actor.Effective()); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, org.ID, actor, "org.created", "organization", org.ID, map[string]string{
			"slug": slug,
		})
	})
	return org, s.op("org", "create", err)
}

// GetOrg returns a non-deleted organization the actor belongs to.
func (s *Service) GetOrg(ctx context.Context, actor Actor, orgID string) (*Organization, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requirePermission(ctx, s.store, orgID, actor.Effective(), PermOrgRead); err != nil {
		return nil, err
	}
	return s.store.Orgs().Find(ctx, orgID)
}

// GetOrgIncludingDeleted is the admin lookup path that also sees
// soft-deleted organizations.
func (s *Service) GetOrgIncludingDeleted(ctx context.Context, actor Actor, orgID string) (*Organization, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
		return nil, err
	}
	return s.store.Orgs().FindAny(ctx, orgID)
}

// UpdateOrg patches mutable organization fields. Requires org:manage.
func (s *Service) UpdateOrg(ctx context.Context, actor Actor, orgID string, upd OrgUpdate) (*Organization, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	var org *Organization
	err = s.store.Atomic(ctx, func(tx Store) error {
		if _, _, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermOrgManage); err != nil {
			return err
		}
		org, err = tx.Orgs().Find(ctx, orgID)
		if err != nil {
			return err
		}
		changed := map[string]string{}
		if upd.Name != nil {
			name := trimmed(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: organization name is required", ErrInvalidInput)
			}
			changed["name"] = name
			org.Name = name
		}
		if upd.LogoURL != nil {
			org.LogoURL = trimmed(*upd.LogoURL)
			changed["logo_url"] = org.LogoURL
		}
		if upd.Metadata != nil {
			org.Metadata = upd.Metadata
		}
		if len(changed) == 0 && upd.Metadata == nil {
			return nil
		}
		org.UpdatedAt = s.now().UTC()
		if err := tx.Orgs().Update(ctx, org); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "org.updated", "organization", orgID, changed)
	})
	return org, s.op("org", "update", err)
}

// SuspendOrg blocks an active organization. Platform admin only.
func (s *Service) SuspendOrg(ctx context.Context, actor Actor, orgID, reason string) error {
	return s.op("org", "suspend", s.setOrgStatus(ctx, actor, orgID, OrgActive, OrgSuspended, "org.suspended", reason))
}

// ReactivateOrg lifts a suspension. Platform admin only.
func (s *Service) ReactivateOrg(ctx context.Context, actor Actor, orgID string) error {
	return s.op("org", "reactivate", s.setOrgStatus(ctx, actor, orgID, OrgSuspended, OrgActive, "org.reactivated", ""))
}

func (s *Service) setOrgStatus(ctx context.Context, actor Actor, orgID string, from, to OrgStatus, action, reason string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	return s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, actor.UserID); err != nil {
			return err
		}
		org, err := tx.Orgs().Find(ctx, orgID)
		if err != nil {
			return err
		}
		if org.Status != from {
			return fmt.Errorf("%w: organization is %s", ErrInvalidState, org.Status)
		}
		org.Status = to
		org.UpdatedAt = s.now().UTC()
		if err := tx.Orgs().Update(ctx, org); err != nil {
			return err
		}
		md := map[string]string{}
		if reason != "" {
			md["reason"] = reason
		}
		return s.writeAudit(ctx, tx, orgID, actor, action, "organization", orgID, md)
	})
}

// DeleteOrg soft-deletes the organization. Rows stay in place, hidden from
// live lookups, until the retention purge removes them.
func (s *Service) DeleteOrg(ctx context.Context, actor Actor, orgID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	return s.op("org", "delete", s.store.Atomic(ctx, func(tx Store) error {
		if _, _, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermOrgManage); err != nil {
			return err
		}
		org, err := tx.Orgs().Find(ctx, orgID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		org.Status = OrgDeleted
		org.DeletedAt = &now
		org.UpdatedAt = now
		if err := tx.Orgs().Update(ctx, org); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "org.deleted", "organization", orgID, nil)
	}))
}

func findOwnerRole(roles []*Role) *Role {
	for _, r := range roles {
		if r.SortOrder == 0 {
			return r
		}
	}
	return nil
}
