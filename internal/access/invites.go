package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/obs"
)

const codeGenAttempts = 5

// Unambiguous alphabet for human-typable codes: no 0/O, 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InvitationInput carries the fields for a new token invitation. Exactly
// one delivery target (email or phone) is enough; both may be set.
type InvitationInput struct {
	Email     string
	Phone     string
	RoleID    string
	ExpiresAt time.Time
}

// InviteCodeInput carries the fields for a new invite code.
type InviteCodeInput struct {
	RoleID         string
	MaxRedemptions int
	ExpiresAt      *time.Time
}

// CreateInvitation issues a token invitation and returns the raw token. The
// raw value is returned exactly once; only its SHA-256 hash is stored. When
// a notifier is configured the token is handed off for delivery after the
// transaction commits.
func (s *Service) CreateInvitation(ctx context.Context, actor Actor, orgID string, in InvitationInput) (*Invitation, string, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, "", err
	}
	roleID, err := requireID(in.RoleID, "role_id")
	if err != nil {
		return nil, "", err
	}
	email := strings.ToLower(trimmed(in.Email))
	phone := trimmed(in.Phone)
	if email == "" && phone == "" {
		return nil, "", fmt.Errorf("%w: an email or phone target is required", ErrInvalidInput)
	}

	rawToken, tokenHash, err := generateInviteToken()
	if err != nil {
		return nil, "", err
	}

	var inv *Invitation
	err = s.store.Atomic(ctx, func(tx Store) error {
		_, actorRole, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermInviteManage)
		if err != nil {
			return err
		}
		role, err := tx.Roles().Find(ctx, roleID)
		if err != nil {
			return err
		}
		if role.OrgID != orgID {
			return fmt.Errorf("%w: role belongs to a different organization", ErrInvalidInput)
		}
		if role.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot invite at a role above your own authority", ErrAuthorityViolation)
		}
		if email != "" {
			if _, err := tx.Invitations().FindPendingByEmail(ctx, orgID, email); err == nil {
				return fmt.Errorf("%w: a pending invitation for %s already exists", ErrDuplicateConflict, email)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if phone != "" {
			if _, err := tx.Invitations().FindPendingByPhone(ctx, orgID, phone); err == nil {
				return fmt.Errorf("%w: a pending invitation for %s already exists", ErrDuplicateConflict, phone)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		now := s.now().UTC()
		expires := in.ExpiresAt
		if expires.IsZero() {
			expires = now.Add(s.cfg.InvitationTTL)
		}
		if !expires.After(now) {
			return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		}
		inv = &Invitation{
			ID:        newID(),
			OrgID:     orgID,
			Email:     email,
			Phone:     phone,
			RoleID:    roleID,
			InvitedBy: actor.Effective(),
			Status:    InvitationPending,
			TokenHash: tokenHash,
			ExpiresAt: expires,
			CreatedAt: now,
		}
		if err := tx.Invitations().Insert(ctx, inv); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "invitation.created", "invitation", inv.ID, map[string]string{
			"role_id": roleID,
		})
	})
	if err = s.op("invitation", "create", err); err != nil {
		return nil, "", err
	}
	s.deliverInvite(ctx, firstNonEmpty(email, phone), rawToken)
	return inv, rawToken, nil
}

// AcceptInvitation redeems a raw token for the given user. The invitation
// must be pending and unexpired, its role must still exist, and the user's
// stored email or phone must match the invitation target.
func (s *Service) AcceptInvitation(ctx context.Context, rawToken, userID string) (*Membership, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	if trimmed(rawToken) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	actor := NewActor(userID)
	hash := hashInviteToken(rawToken)

	var membership *Membership
	var expired bool
	err = s.store.Atomic(ctx, func(tx Store) error {
		inv, err := tx.Invitations().FindByTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		if inv.Status != InvitationPending {
			return fmt.Errorf("%w: invitation is %s", ErrInvalidState, inv.Status)
		}
		if !s.now().Before(inv.ExpiresAt) {
			// Commit the status flip; the caller's error comes after.
			expired = true
			inv.Status = InvitationExpired
			return tx.Invitations().Update(ctx, inv)
		}
		if _, err := tx.Orgs().Find(ctx, inv.OrgID); err != nil {
			return err
		}
		role, err := tx.Roles().Find(ctx, inv.RoleID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invited role no longer exists", ErrNotFound)
		}
		if err != nil {
			return err
		}
		profile, err := s.requireLiveProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		if profile == nil || !invitationTargetsProfile(inv, profile) {
			return fmt.Errorf("%w: invitation was issued to a different account", ErrPermissionDenied)
		}
		if _, err := tx.Memberships().Find(ctx, inv.OrgID, userID); err == nil {
			return fmt.Errorf("%w: already a member", ErrDuplicateConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		inv.Status = InvitationAccepted
		inv.AcceptedBy = userID
		inv.AcceptedAt = &now
		if err := tx.Invitations().Update(ctx, inv); err != nil {
			return err
		}
		if err := s.writeAudit(ctx, tx, inv.OrgID, actor, "invitation.accepted", "invitation", inv.ID, map[string]string{
			"role": role.Name,
		}); err != nil {
			return err
		}
		membership, err = s.insertMembership(ctx, tx, actor, inv.OrgID, userID, inv.RoleID, inv.InvitedBy, "invitation")
		return err
	})
	if expired && err == nil {
		err = fmt.Errorf("%w: invitation expired", ErrExpired)
	}
	if err = s.op("invitation", "accept", err); err != nil {
		return nil, err
	}
	return membership, nil
}

// DeclineInvitation lets the invited user refuse a pending invitation.
func (s *Service) DeclineInvitation(ctx context.Context, rawToken, userID string) error {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return err
	}
	if trimmed(rawToken) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	hash := hashInviteToken(rawToken)
	return s.op("invitation", "decline", s.store.Atomic(ctx, func(tx Store) error {
		inv, err := tx.Invitations().FindByTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		if inv.Status != InvitationPending {
			return fmt.Errorf("%w: invitation is %s", ErrInvalidState, inv.Status)
		}
		inv.Status = InvitationDeclined
		if err := tx.Invitations().Update(ctx, inv); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, inv.OrgID, NewActor(userID), "invitation.declined", "invitation", inv.ID, nil)
	}))
}

// RevokeInvitation withdraws a pending invitation. Requires invite:manage
// in the invitation's organization.
func (s *Service) RevokeInvitation(ctx context.Context, actor Actor, invitationID string) error {
	invitationID, err := requireID(invitationID, "invitation_id")
	if err != nil {
		return err
	}
	return s.op("invitation", "revoke", s.store.Atomic(ctx, func(tx Store) error {
		inv, err := tx.Invitations().Find(ctx, invitationID)
		if err != nil {
			return err
		}
		if _, _, err := s.requirePermission(ctx, tx, inv.OrgID, actor.Effective(), PermInviteManage); err != nil {
			return err
		}
		if inv.Status != InvitationPending {
			return fmt.Errorf("%w: invitation is %s", ErrInvalidState, inv.Status)
		}
		inv.Status = InvitationRevoked
		if err := tx.Invitations().Update(ctx, inv); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, inv.OrgID, actor, "invitation.revoked", "invitation", inv.ID, nil)
	}))
}

// ListInvitations returns the organization's invitations, newest first.
func (s *Service) ListInvitations(ctx context.Context, actor Actor, orgID string) ([]*Invitation, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requirePermission(ctx, s.store, orgID, actor.Effective(), PermInviteManage); err != nil {
		return nil, err
	}
	return s.store.Invitations().ListByOrg(ctx, orgID)
}

// CreateInviteCode mints a short shareable code redeemable up to
// MaxRedemptions times (zero means unlimited).
func (s *Service) CreateInviteCode(ctx context.Context, actor Actor, orgID string, in InviteCodeInput) (*InvitationCode, error) {
	orgID, err := requireID(orgID, "org_id")
	if err != nil {
		return nil, err
	}
	roleID, err := requireID(in.RoleID, "role_id")
	if err != nil {
		return nil, err
	}
	if in.MaxRedemptions < 0 {
		return nil, fmt.Errorf("%w: max redemptions must not be negative", ErrInvalidInput)
	}

	var code *InvitationCode
	err = s.store.Atomic(ctx, func(tx Store) error {
		_, actorRole, err := s.requirePermission(ctx, tx, orgID, actor.Effective(), PermInviteManage)
		if err != nil {
			return err
		}
		role, err := tx.Roles().Find(ctx, roleID)
		if err != nil {
			return err
		}
		if role.OrgID != orgID {
			return fmt.Errorf("%w: role belongs to a different organization", ErrInvalidInput)
		}
		if role.SortOrder < actorRole.SortOrder {
			return fmt.Errorf("%w: cannot invite at a role above your own authority", ErrAuthorityViolation)
		}
		value, err := s.uniqueCode(ctx, tx)
		if err != nil {
			return err
		}
		if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
			return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		}
		code = &InvitationCode{
			ID:             newID(),
			OrgID:          orgID,
			Code:           value,
			RoleID:         roleID,
			CreatedBy:      actor.Effective(),
			MaxRedemptions: in.MaxRedemptions,
			ExpiresAt:      in.ExpiresAt,
			Status:         CodeActive,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.InviteCodes().Insert(ctx, code); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, orgID, actor, "invite_code.created", "invitation_code", code.ID, map[string]string{
			"role_id": roleID,
		})
	})
	return code, s.op("invite_code", "create", err)
}

// RedeemInviteCode joins the user to the code's organization, counting the
// redemption against the cap.
func (s *Service) RedeemInviteCode(ctx context.Context, codeValue, userID string) (*Membership, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	codeValue = strings.ToUpper(trimmed(codeValue))
	if codeValue == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	actor := NewActor(userID)

	var membership *Membership
	err = s.store.Atomic(ctx, func(tx Store) error {
		code, err := tx.InviteCodes().FindByCode(ctx, codeValue)
		if err != nil {
			return err
		}
		if code.Status != CodeActive {
			return fmt.Errorf("%w: code is %s", ErrInvalidState, code.Status)
		}
		if code.ExpiresAt != nil && !s.now().Before(*code.ExpiresAt) {
			return fmt.Errorf("%w: code expired", ErrExpired)
		}
		if code.MaxRedemptions > 0 && code.RedemptionCount >= code.MaxRedemptions {
			return fmt.Errorf("%w: redemption limit reached", ErrInvalidState)
		}
		if _, err := tx.Orgs().Find(ctx, code.OrgID); err != nil {
			return err
		}
		if _, err := tx.Roles().Find(ctx, code.RoleID); errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invited role no longer exists", ErrNotFound)
		} else if err != nil {
			return err
		}
		if _, err := s.requireLiveProfile(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Memberships().Find(ctx, code.OrgID, userID); err == nil {
			return fmt.Errorf("%w: already a member", ErrDuplicateConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		code.RedemptionCount++
		if err := tx.InviteCodes().Update(ctx, code); err != nil {
			return err
		}
		if err := s.writeAudit(ctx, tx, code.OrgID, actor, "invite_code.redeemed", "invitation_code", code.ID, map[string]string{
			"redemptions": fmt.Sprint(code.RedemptionCount),
		}); err != nil {
			return err
		}
		membership, err = s.insertMembership(ctx, tx, actor, code.OrgID, userID, code.RoleID, code.CreatedBy, "code")
		return err
	})
	if err = s.op("invite_code", "redeem", err); err != nil {
		return nil, err
	}
	return membership, nil
}

// RevokeInviteCode deactivates a code. Requires invite:manage.
func (s *Service) RevokeInviteCode(ctx context.Context, actor Actor, codeID string) error {
	codeID, err := requireID(codeID, "code_id")
	if err != nil {
		return err
	}
	return s.op("invite_code", "revoke", s.store.Atomic(ctx, func(tx Store) error {
		code, err := tx.InviteCodes().Find(ctx, codeID)
		if err != nil {
			return err
		}
		if _, _, err := s.requirePermission(ctx, tx, code.OrgID, actor.Effective(), PermInviteManage); err != nil {
			return err
		}
		if code.Status != CodeActive {
			return fmt.Errorf("%w: code is %s", ErrInvalidState, code.Status)
		}
		now := s.now().UTC()
		code.Status = CodeRevoked
		code.RevokedAt = &now
		if err := tx.InviteCodes().Update(ctx, code); err != nil {
			return err
		}
		return s.writeAudit(ctx, tx, code.OrgID, actor, "invite_code.revoked", "invitation_code", code.ID, nil)
	}))
}

// uniqueCode draws random codes until one is free, with a fixed attempt cap
// so a dense code space surfaces as an error instead of an endless loop.
func (s *Service) uniqueCode(ctx context.Context, tx Store) (string, error) {
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		value, err := randomCode(s.cfg.InviteCodeLength)
		if err != nil {
			return "", err
		}
		_, err = tx.InviteCodes().FindByCode(ctx, value)
		if errors.Is(err, ErrNotFound) {
			return value, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("access: could not generate a unique invite code")
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

func generateInviteToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashInviteToken(raw), nil
}

func hashInviteToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func invitationTargetsProfile(inv *Invitation, profile *UserProfile) bool {
	if inv.Email != "" && strings.EqualFold(inv.Email, profile.Email) {
		return true
	}
	if inv.Phone != "" && inv.Phone == profile.Phone {
		return true
	}
	return false
}

// deliverInvite hands the payload to the configured notifier. Delivery is
// best effort and never fails the calling operation.
func (s *Service) deliverInvite(ctx context.Context, destination, payload string) {
	if s.notifier == nil || destination == "" {
		return
	}
	if err := s.notifier.SendInvite(ctx, destination, payload); err != nil {
		obs.Event("invite_delivery_failed", map[string]any{
			"destination": destination,
			"error":       err.Error(),
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
