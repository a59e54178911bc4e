package access

import (
	"context"
	"errors"
	"fmt"
)

// StartImpersonation opens an impersonation session for a platform admin.
// Admins cannot be impersonated, and starting a new session ends any prior
// active one so at most one exists per admin.
func (s *Service) StartImpersonation(ctx context.Context, adminUserID, targetUserID, reason string) (*ImpersonationSession, error) {
	adminUserID, err := requireID(adminUserID, "admin_user_id")
	if err != nil {
		return nil, err
	}
	targetUserID, err = requireID(targetUserID, "target_user_id")
	if err != nil {
		return nil, err
	}
	if adminUserID == targetUserID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", ErrInvalidInput)
	}

	var session *ImpersonationSession
	err = s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, adminUserID); err != nil {
			return err
		}
		target, err := tx.Profiles().Find(ctx, targetUserID)
		if err != nil {
			return err
		}
		if target.IsAdmin {
			return fmt.Errorf("%w: %s", ErrAdminImpersonation, targetUserID)
		}
		if err := s.endActiveSessions(ctx, tx, adminUserID); err != nil {
			return err
		}

		now := s.now().UTC()
		session = &ImpersonationSession{
			ID:           newID(),
			AdminUserID:  adminUserID,
			TargetUserID: targetUserID,
			Reason:       trimmed(reason),
			StartedAt:    now,
			ExpiresAt:    now.Add(s.cfg.ImpersonationTTL),
			Status:       SessionActive,
		}
		if err := tx.Impersonations().Insert(ctx, session); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, "", NewActor(adminUserID), "impersonation.started", "impersonation_session", session.ID, map[string]string{
			"target": targetUserID,
			"reason": session.Reason,
		})
	})
	return session, s.op("impersonation", "start", err)
}

// StopImpersonation ends every active session for the admin. Stopping with
// no active session is a no-op.
func (s *Service) StopImpersonation(ctx context.Context, adminUserID string) error {
	adminUserID, err := requireID(adminUserID, "admin_user_id")
	if err != nil {
		return err
	}
	return s.op("impersonation", "stop", s.store.Atomic(ctx, func(tx Store) error {
		ended, err := s.endAllActiveSessions(ctx, tx, adminUserID)
		if err != nil {
			return err
		}
		if len(ended) == 0 {
			return nil
		}
		for _, session := range ended {
			if err := s.writeAudit(ctx, tx, "", NewActor(adminUserID), "impersonation.stopped", "impersonation_session", session.ID, map[string]string{
				"target": session.TargetUserID,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
}

// ResolveEffectiveUser returns the user every downstream operation should
// act for. With an unexpired active session it is the impersonation target;
// otherwise the actor itself. An expired session is flipped to expired as a
// side effect.
func (s *Service) ResolveEffectiveUser(ctx context.Context, actorUserID string) (string, error) {
	actorUserID, err := requireID(actorUserID, "actor_user_id")
	if err != nil {
		return "", err
	}
	effective := actorUserID
	err = s.store.Atomic(ctx, func(tx Store) error {
		session, err := tx.Impersonations().FindActiveByAdmin(ctx, actorUserID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.now().Before(session.ExpiresAt) {
			session.Status = SessionExpired
			return tx.Impersonations().Update(ctx, session)
		}
		effective = session.TargetUserID
		return nil
	})
	return effective, err
}

// ResolveActor bundles ResolveEffectiveUser into the Actor every operation
// takes. This is the single seam boundary wrappers call per request.
func (s *Service) ResolveActor(ctx context.Context, actorUserID string) (Actor, error) {
	effective, err := s.ResolveEffectiveUser(ctx, actorUserID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: actorUserID, EffectiveUserID: effective}, nil
}

func (s *Service) endActiveSessions(ctx context.Context, tx Store, adminUserID string) error {
	_, err := s.endAllActiveSessions(ctx, tx, adminUserID)
	return err
}

func (s *Service) endAllActiveSessions(ctx context.Context, tx Store, adminUserID string) ([]*ImpersonationSession, error) {
	var ended []*ImpersonationSession
	for {
		session, err := tx.Impersonations().FindActiveByAdmin(ctx, adminUserID)
		if errors.Is(err, ErrNotFound) {
			return ended, nil
		}
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		session.Status = SessionEnded
		session.EndedAt = &now
		if err := tx.Impersonations().Update(ctx, session); err != nil {
			return nil, err
		}
		ended = append(ended, session)
	}
}
