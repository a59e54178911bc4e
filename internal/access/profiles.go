package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProfileInput mirrors the fields the external identity provider syncs.
type ProfileInput struct {
	Email       string
	Phone       string
	DisplayName string
	AvatarURL   string
	Metadata    map[string]string
}

// linkedUserFields lists every (entity, field) pair the migration-linking
// remap rewrites. The audit log is deliberately absent: entries are
// immutable and keep naming the identifier that actually acted.
var linkedUserFields = []struct {
	Entity string
	Field  string
}{
	{"organizations", "created_by"},
	{"memberships", "user_id"},
	{"memberships", "invited_by"},
	{"invitations", "invited_by"},
	{"invitations", "accepted_by"},
	{"invitation_codes", "created_by"},
	{"devices", "user_id"},
}

// SyncProfile upserts a profile from the identity provider. Syncing a
// soft-deleted profile resurrects it: the user signed up again before the
// retention purge ran.
func (s *Service) SyncProfile(ctx context.Context, userID string, in ProfileInput) (*UserProfile, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(trimmed(in.Email))

	var profile *UserProfile
	err = s.store.Atomic(ctx, func(tx Store) error {
		now := s.now().UTC()
		existing, err := tx.Profiles().FindAny(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			profile = &UserProfile{
				ID:          userID,
				Email:       email,
				Phone:       trimmed(in.Phone),
				DisplayName: trimmed(in.DisplayName),
				AvatarURL:   trimmed(in.AvatarURL),
				Metadata:    in.Metadata,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Profiles().Insert(ctx, profile); err != nil {
				return err
			}
			return s.writeAudit(ctx, tx, "", NewActor(userID), "user.synced", "user_profile", userID, map[string]string{
				"created": "true",
			})
		}
		if err != nil {
			return err
		}
		existing.Email = email
		existing.Phone = trimmed(in.Phone)
		existing.DisplayName = trimmed(in.DisplayName)
		existing.AvatarURL = trimmed(in.AvatarURL)
		if in.Metadata != nil {
			existing.Metadata = in.Metadata
		}
		existing.DeletedAt = nil
		existing.UpdatedAt = now
		if err := tx.Profiles().Update(ctx, existing); err != nil {
			return err
		}
		profile = existing
		return s.writeAudit(ctx, tx, "", NewActor(userID), "user.synced", "user_profile", userID, nil)
	})
	return profile, s.op("profile", "sync", err)
}

// GetProfile returns a live profile.
func (s *Service) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	return s.store.Profiles().Find(ctx, userID)
}

// SetActiveOrg points the profile at one of the user's memberships.
func (s *Service) SetActiveOrg(ctx context.Context, actor Actor, orgID string) error {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return err
	}
	userID := actor.Effective()
	return s.op("profile", "set_active_org", s.store.Atomic(ctx, func(tx Store) error {
		profile, err := tx.Profiles().Find(ctx, userID)
		if err != nil {
			return err
		}
		if profile.IsBanned {
			return fmt.Errorf("%w: user %s", ErrBanned, userID)
		}
		if _, err := tx.Memberships().Find(ctx, orgID, userID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: not a member of organization", ErrInvalidInput)
			}
			return err
		}
		profile.ActiveOrgID = orgID
		profile.UpdatedAt = s.now().UTC()
		return tx.Profiles().Update(ctx, profile)
	}))
}

// BanUser flags an account so every service boundary rejects it. Platform
// admin only.
func (s *Service) BanUser(ctx context.Context, actor Actor, userID, reason string) error {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return err
	}
	return s.op("profile", "ban", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, actor.UserID); err != nil {
			return err
		}
		profile, err := tx.Profiles().Find(ctx, userID)
		if err != nil {
			return err
		}
		if profile.IsAdmin {
			return fmt.Errorf("%w: cannot ban a platform admin", ErrInvalidInput)
		}
		profile.IsBanned = true
		profile.BanReason = trimmed(reason)
		profile.UpdatedAt = s.now().UTC()
		if err := tx.Profiles().Update(ctx, profile); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, "", actor, "user.banned", "user_profile", userID, map[string]string{
			"reason": profile.BanReason,
		})
	}))
}

// UnbanUser lifts a ban. Platform admin only.
func (s *Service) UnbanUser(ctx context.Context, actor Actor, userID string) error {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return err
	}
	return s.op("profile", "unban", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requirePlatformAdmin(ctx, tx, actor.UserID); err != nil {
			return err
		}
		profile, err := tx.Profiles().Find(ctx, userID)
		if err != nil {
			return err
		}
		if !profile.IsBanned {
			return nil
		}
		profile.IsBanned = false
		profile.BanReason = ""
		profile.UpdatedAt = s.now().UTC()
		if err := tx.Profiles().Update(ctx, profile); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, "", actor, "user.unbanned", "user_profile", userID, nil)
	}))
}

// DeleteProfile soft-deletes a user: memberships and devices go
// immediately, the profile row survives for the retention window. A user
// who is the sole owner of a populated organization must transfer or
// delete the organization first.
func (s *Service) DeleteProfile(ctx context.Context, actor Actor, userID string) error {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return err
	}
	if actor.UserID != userID {
		if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
			return err
		}
	}
	return s.op("profile", "delete", s.store.Atomic(ctx, func(tx Store) error {
		profile, err := tx.Profiles().Find(ctx, userID)
		if err != nil {
			return err
		}
		memberships, err := tx.Memberships().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, m := range memberships {
			role, err := tx.Roles().Find(ctx, m.RoleID)
			if err != nil {
				return err
			}
			if role.SortOrder == 0 {
				if err := s.guardLastOwner(ctx, tx, m.OrgID, role.ID); err != nil {
					return fmt.Errorf("%w: organization %s", err, m.OrgID)
				}
			}
		}
		if _, err := tx.Memberships().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.Devices().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		now := s.now().UTC()
		profile.DeletedAt = &now
		profile.ActiveOrgID = ""
		profile.UpdatedAt = now
		if err := tx.Profiles().Update(ctx, profile); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, "", actor, "user.deleted", "user_profile", userID, nil)
	}))
}

// RegisterDevice upserts the device row for a session. Registration is
// suppressed while impersonating so an admin's device never lands on the
// target's device list.
func (s *Service) RegisterDevice(ctx context.Context, actor Actor, sessionID string, meta DeviceMetadata, ipAddress string) error {
	sessionID, err := requireID(sessionID, "session_id")
	if err != nil {
		return err
	}
	if actor.Impersonating() {
		return nil
	}
	return s.op("profile", "register_device", s.store.Atomic(ctx, func(tx Store) error {
		if _, err := s.requireLiveProfile(ctx, tx, actor.UserID); err != nil {
			return err
		}
		now := s.now().UTC()
		return tx.Devices().Upsert(ctx, &Device{
			ID:           newID(),
			UserID:       actor.UserID,
			SessionID:    sessionID,
			DeviceName:   meta.DeviceName,
			DeviceType:   meta.DeviceType,
			Browser:      meta.Browser,
			OS:           meta.OS,
			IPAddress:    trimmed(ipAddress),
			LastActiveAt: now,
			CreatedAt:    now,
		})
	}))
}

// ListDevices returns the user's registered devices.
func (s *Service) ListDevices(ctx context.Context, actor Actor) ([]*Device, error) {
	return s.store.Devices().ListByUser(ctx, actor.Effective())
}

// LinkMigratedUser rewrites references from a temporary migration
// identifier to the real user id across every linked field. It is a
// one-time affordance for imported datasets and only accepts temporary
// profiles whose stored id literally equals their stored email, the
// convention the migration wrote. Disabled unless Config.MigrationLinking
// is set.
func (s *Service) LinkMigratedUser(ctx context.Context, actor Actor, tempUserID, realUserID string) (int64, error) {
	if !s.cfg.MigrationLinking {
		return 0, fmt.Errorf("%w: migration linking is disabled", ErrInvalidState)
	}
	tempUserID, err := requireID(tempUserID, "temp_user_id")
	if err != nil {
		return 0, err
	}
	realUserID, err = requireID(realUserID, "real_user_id")
	if err != nil {
		return 0, err
	}
	if _, err := s.requirePlatformAdmin(ctx, s.store, actor.UserID); err != nil {
		return 0, err
	}

	var total int64
	err = s.store.Atomic(ctx, func(tx Store) error {
		temp, err := tx.Profiles().FindAny(ctx, tempUserID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(temp.ID, temp.Email) {
			return fmt.Errorf("%w: profile %s is not a migration placeholder", ErrInvalidState, tempUserID)
		}
		if _, err := tx.Profiles().Find(ctx, realUserID); err != nil {
			return err
		}
		for _, pair := range linkedUserFields {
			n, err := tx.RemapUserRef(ctx, pair.Entity, pair.Field, tempUserID, realUserID)
			if err != nil {
				return err
			}
			total += n
		}
		if err := tx.Profiles().Delete(ctx, tempUserID); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, "", actor, "user.migration_linked", "user_profile", realUserID, map[string]string{
			"temp_user_id": tempUserID,
			"rows":         fmt.Sprint(total),
		})
	})
	if err = s.op("profile", "link_migrated", err); err != nil {
		return 0, err
	}
	return total, nil
}
