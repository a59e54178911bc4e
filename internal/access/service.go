package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

func newID() string { return ids.New() }

// op feeds the engine operation counter and passes the error through, so
// mutating methods can wrap their final return in one expression.
func (s *Service) op(component, action string, err error) error {
	obs.RecordOperation(component, action, err)
	return err
}

// Notifier delivers invitation payloads to an external channel. Delivery is
// fire-and-forget: the engine never blocks a transaction on it and never
// inspects delivery outcome.
type Notifier interface {
	SendInvite(ctx context.Context, destination, payload string) error
}

// Service implements the access-control and audit engine on top of a Store.
// Methods are grouped by concern across the files of this package.
type Service struct {
	store    Store
	cfg      Config
	now      func() time.Time
	notifier Notifier
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithNotifier enables outbound invitation delivery.
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// NewService constructs the engine. The owner seed role (SortOrder 0) is
// mandatory; everything else in cfg falls back to defaults.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	cfg = cfg.withDefaults()
	if _, err := ownerSeed(cfg); err != nil {
		return nil, err
	}
	svc := &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func ownerSeed(cfg Config) (RoleSeed, error) {
	var found *RoleSeed
	for i := range cfg.SystemRoles {
		if cfg.SystemRoles[i].SortOrder == 0 {
			if found != nil {
				return RoleSeed{}, errors.New("access: config seeds more than one owner role")
			}
			found = &cfg.SystemRoles[i]
		}
	}
	if found == nil {
		return RoleSeed{}, errors.New("access: config seeds no owner role")
	}
	return *found, nil
}

// requireLiveProfile loads the profile and rejects banned accounts. A
// missing profile is tolerated: an authenticated caller may act before its
// first profile sync.
func (s *Service) requireLiveProfile(ctx context.Context, tx Store, userID string) (*UserProfile, error) {
	profile, err := tx.Profiles().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if profile.IsBanned {
		return nil, fmt.Errorf("%w: user %s", ErrBanned, userID)
	}
	return profile, nil
}

// requirePlatformAdmin ensures the caller's profile carries the admin flag.
func (s *Service) requirePlatformAdmin(ctx context.Context, tx Store, userID string) (*UserProfile, error) {
	profile, err := s.requireLiveProfile(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil || !profile.IsAdmin {
		return nil, fmt.Errorf("%w: platform admin required", ErrPermissionDenied)
	}
	return profile, nil
}

// requirePermission resolves the actor's membership and role in org and
// checks the capability. Non-members are denied, not "not found", so the
// error does not leak org existence.
func (s *Service) requirePermission(ctx context.Context, tx Store, orgID, userID string, perm Permission) (*Membership, *Role, error) {
	if _, err := s.requireLiveProfile(ctx, tx, userID); err != nil {
		return nil, nil, err
	}
	membership, err := tx.Memberships().Find(ctx, orgID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: not a member of organization", ErrPermissionDenied)
	}
	if err != nil {
		return nil, nil, err
	}
	role, err := tx.Roles().Find(ctx, membership.RoleID)
	if err != nil {
		return nil, nil, err
	}
	if !HasPermission(role.Permissions, perm) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
	}
	return membership, role, nil
}

func trimmed(v string) string { return strings.TrimSpace(v) }

func requireID(v, name string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return v, nil
}
