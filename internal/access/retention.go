package access

import (
	"context"
	"errors"

	"gatehouse.org/internal/obs"
)

// ExpireImpersonationSessions flips active sessions past their deadline to
// expired. Idempotent and bounded by the purge batch size; meant to run on
// an hourly schedule.
func (s *Service) ExpireImpersonationSessions(ctx context.Context) (int64, error) {
	var affected int64
	err := s.store.Atomic(ctx, func(tx Store) error {
		sessions, err := tx.Impersonations().ListActiveExpiredBefore(ctx, s.now().UTC(), s.cfg.PurgeBatchSize)
		if err != nil {
			return err
		}
		for _, session := range sessions {
			session.Status = SessionExpired
			if err := tx.Impersonations().Update(ctx, session); err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	obs.RecordRetention("expire_impersonation", affected)
	return affected, err
}

// PurgeDeletedUsers hard-deletes profiles soft-deleted longer ago than the
// retention window, along with any residual memberships and devices left
// behind (soft delete already strips those; this is the safety net).
// Returns the number of profiles purged.
func (s *Service) PurgeDeletedUsers(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.RetentionWindow)
	var affected int64
	err := s.store.Atomic(ctx, func(tx Store) error {
		profiles, err := tx.Profiles().ListDeletedBefore(ctx, cutoff, s.cfg.PurgeBatchSize)
		if err != nil {
			return err
		}
		for _, profile := range profiles {
			if _, err := tx.Memberships().DeleteByUser(ctx, profile.ID); err != nil {
				return err
			}
			if _, err := tx.Devices().DeleteByUser(ctx, profile.ID); err != nil {
				return err
			}
			err := tx.Profiles().Delete(ctx, profile.ID)
			if errors.Is(err, ErrNotFound) {
				// A concurrent run got here first; already done.
				continue
			}
			if err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	obs.RecordRetention("purge_users", affected)
	return affected, err
}

// PurgeDeletedOrgs hard-deletes organizations soft-deleted longer ago than
// the retention window, cascading through roles, memberships, invitations,
// invite codes and the org's audit trail. Returns the number of
// organizations purged.
func (s *Service) PurgeDeletedOrgs(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.RetentionWindow)
	var affected int64
	err := s.store.Atomic(ctx, func(tx Store) error {
		orgs, err := tx.Orgs().ListDeletedBefore(ctx, cutoff, s.cfg.PurgeBatchSize)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			if _, err := tx.Audit().DeleteByOrg(ctx, org.ID); err != nil {
				return err
			}
			if _, err := tx.Invitations().DeleteByOrg(ctx, org.ID); err != nil {
				return err
			}
			if _, err := tx.InviteCodes().DeleteByOrg(ctx, org.ID); err != nil {
				return err
			}
			if _, err := tx.Memberships().DeleteByOrg(ctx, org.ID); err != nil {
				return err
			}
			if _, err := tx.Roles().DeleteByOrg(ctx, org.ID); err != nil {
				return err
			}
			err := tx.Orgs().Delete(ctx, org.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	obs.RecordRetention("purge_orgs", affected)
	return affected, err
}
