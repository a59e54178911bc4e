package access

import (
	"context"
	"fmt"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const defaultAuditLimit = 100

// writeAudit appends one immutable entry inside the caller's transaction and
// mirrors it to the structured log. EffectiveUserID is recorded only while
// the actor impersonates, so the trail always names the real caller.
func (s *Service) writeAudit(ctx context.Context, tx Store, orgID string, actor Actor, action, resourceType, resourceID string, metadata map[string]string) error {
	entry := &AuditEntry{
		ID:           ids.New(),
		OrgID:        orgID,
		ActorUserID:  actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		OccurredAt:   s.now().UTC(),
	}
	if actor.Impersonating() {
		entry.EffectiveUserID = actor.EffectiveUserID
	}
	if err := tx.Audit().Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	obs.Event("audit", map[string]any{
		"org_id":        orgID,
		"actor":         actor.UserID,
		"effective":     entry.EffectiveUserID,
		"action":        action,
		"resource_type": resourceType,
		"resource_id":   resourceID,
	})
	return nil
}

// AuditByOrg returns the organization's newest entries. Requires audit:read
// in the organization.
func (s *Service) AuditByOrg(ctx context.Context, actor Actor, orgID string, limit int) ([]*AuditEntry, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requirePermission(ctx, s.store, orgID, actor.Effective(), PermAuditRead); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByOrg(ctx, orgID, normalizeLimit(limit))
}

// AuditByAction returns entries across organizations filtered by action.
// Platform admin only.
func (s *Service) AuditByAction(ctx context.Context, actor Actor, action string, limit int) ([]*AuditEntry, error) {
	action, err := requireID(action, "action")
	if err != nil {
		return nil, err
	}
	if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByAction(ctx, action, normalizeLimit(limit))
}

// AuditByActor returns entries recorded for one acting user. Platform admin
// only.
func (s *Service) AuditByActor(ctx context.Context, actor Actor, actorUserID string, limit int) ([]*AuditEntry, error) {
	actorUserID, err := requireID(actorUserID, "actor_user_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByActor(ctx, actorUserID, normalizeLimit(limit))
}

// AuditByResourceType returns entries filtered by resource type. Platform
// admin only.
func (s *Service) AuditByResourceType(ctx context.Context, actor Actor, resourceType string, limit int) ([]*AuditEntry, error) {
	resourceType, err := requireID(resourceType, "resource_type")
	if err != nil {
		return nil, err
	}
	if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByResourceType(ctx, resourceType, normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultAuditLimit
	}
	return limit
}
