package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse.org/internal/access"
)

type impersonationStore struct{ s *Store }

const sessionColumns = `id, admin_user_id, target_user_id, reason, started_at, expires_at, ended_at, status`

func (st impersonationStore) Insert(ctx context.Context, session *access.ImpersonationSession) error {
	_, err := st.s.q.ExecContext(ctx, `
		insert into impersonation_sessions (id, admin_user_id, target_user_id, reason, started_at, expires_at, status)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.AdminUserID, session.TargetUserID, nullIfEmpty(session.Reason),
		session.StartedAt, session.ExpiresAt, session.Status)
	return mapWriteErr(err)
}

func (st impersonationStore) Find(ctx context.Context, id string) (*access.ImpersonationSession, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+sessionColumns+` from impersonation_sessions where id = $1
	`, id))
}

func (st impersonationStore) FindActiveByAdmin(ctx context.Context, adminUserID string) (*access.ImpersonationSession, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+sessionColumns+` from impersonation_sessions
		where admin_user_id = $1 and status = 'active'
		order by started_at desc
		limit 1
	`, adminUserID))
}

func (st impersonationStore) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.ImpersonationSession, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+sessionColumns+` from impersonation_sessions
		where status = 'active' and expires_at <= $1
		order by expires_at asc
		limit $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.ImpersonationSession
	for rows.Next() {
		session, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (st impersonationStore) Update(ctx context.Context, session *access.ImpersonationSession) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update impersonation_sessions
		set status = $2, ended_at = $3, expires_at = $4
		where id = $1
	`, session.ID, session.Status, nullTime(session.EndedAt), session.ExpiresAt))
}

func (st impersonationStore) scanOne(row *sql.Row) (*access.ImpersonationSession, error) {
	session, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return session, err
}

func (st impersonationStore) scan(row rowScanner) (*access.ImpersonationSession, error) {
	var (
		session access.ImpersonationSession
		reason  sql.NullString
		ended   sql.NullTime
	)
	if err := row.Scan(&session.ID, &session.AdminUserID, &session.TargetUserID, &reason,
		&session.StartedAt, &session.ExpiresAt, &ended, &session.Status); err != nil {
		return nil, err
	}
	session.Reason = reason.String
	session.EndedAt = timePtr(ended)
	return &session, nil
}
