// Package pg is the PostgreSQL implementation of the access store, built
// on database/sql over the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same entity
// methods serve plain calls and Atomic blocks.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB // nil on the transactional view handed to Atomic callbacks
	q  querier
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db, q: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Orgs() access.OrgStore                     { return orgStore{s} }
func (s *Store) Roles() access.RoleStore                   { return roleStore{s} }
func (s *Store) Memberships() access.MembershipStore       { return membershipStore{s} }
func (s *Store) Invitations() access.InvitationStore       { return invitationStore{s} }
func (s *Store) InviteCodes() access.InviteCodeStore       { return codeStore{s} }
func (s *Store) Profiles() access.ProfileStore             { return profileStore{s} }
func (s *Store) Devices() access.DeviceStore               { return deviceStore{s} }
func (s *Store) Impersonations() access.ImpersonationStore { return impersonationStore{s} }
func (s *Store) Audit() access.AuditStore                  { return auditStore{s} }

// Atomic runs fn inside one transaction. Nested calls reuse the
// surrounding transaction rather than opening a second one.
func (s *Store) Atomic(ctx context.Context, fn func(tx access.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// remapTargets whitelists the (entity, field) pairs the migration linking
// routine may rewrite. Table and column names come from this map, never
// from the caller, so the Sprintf below cannot inject.
var remapTargets = map[string]struct{ table, column string }{
	"organizations.created_by":    {"organizations", "created_by"},
	"memberships.user_id":         {"memberships", "user_id"},
	"memberships.invited_by":      {"memberships", "invited_by"},
	"invitations.invited_by":      {"invitations", "invited_by"},
	"invitations.accepted_by":     {"invitations", "accepted_by"},
	"invitation_codes.created_by": {"invitation_codes", "created_by"},
	"devices.user_id":             {"devices", "user_id"},
}

func (s *Store) RemapUserRef(ctx context.Context, entity, field, fromID, toID string) (int64, error) {
	target, ok := remapTargets[entity+"."+field]
	if !ok {
		return 0, fmt.Errorf("pg: remap target %s.%s is not whitelisted", entity, field)
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`update %s set %s = $1 where %s = $2`, target.table, target.column, target.column),
		toID, fromID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteErr translates driver errors raised by inserts and updates into
// the engine's sentinel errors.
func mapWriteErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrDuplicateConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return mapWriteErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMeta(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
