package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/access"
)

type membershipStore struct{ s *Store }

const membershipColumns = `id, org_id, user_id, role_id, joined_at, invited_by`

func (st membershipStore) Insert(ctx context.Context, m *access.Membership) error {
	_, err := st.s.q.ExecContext(ctx, `
		insert into memberships (id, org_id, user_id, role_id, joined_at, invited_by)
		values ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.OrgID, m.UserID, m.RoleID, m.JoinedAt, nullIfEmpty(m.InvitedBy))
	return mapWriteErr(err)
}

func (st membershipStore) Find(ctx context.Context, orgID, userID string) (*access.Membership, error) {
	m, err := st.scan(st.s.q.QueryRowContext(ctx, `
		select `+membershipColumns+` from memberships where org_id = $1 and user_id = $2
	`, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return m, err
}

func (st membershipStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Membership, error) {
	return st.list(ctx, `
		select `+membershipColumns+` from memberships where org_id = $1 order by joined_at asc
	`, orgID)
}

func (st membershipStore) ListByUser(ctx context.Context, userID string) ([]*access.Membership, error) {
	return st.list(ctx, `
		select `+membershipColumns+` from memberships where user_id = $1 order by joined_at asc
	`, userID)
}

func (st membershipStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	var n int
	err := st.s.q.QueryRowContext(ctx, `
		select count(*) from memberships where role_id = $1
	`, roleID).Scan(&n)
	return n, err
}

func (st membershipStore) CountByOrg(ctx context.Context, orgID string) (int, error) {
	var n int
	err := st.s.q.QueryRowContext(ctx, `
		select count(*) from memberships where org_id = $1
	`, orgID).Scan(&n)
	return n, err
}

func (st membershipStore) Update(ctx context.Context, m *access.Membership) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update memberships set role_id = $2 where id = $1
	`, m.ID, m.RoleID))
}

func (st membershipStore) Delete(ctx context.Context, orgID, userID string) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		delete from memberships where org_id = $1 and user_id = $2
	`, orgID, userID))
}

func (st membershipStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from memberships where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st membershipStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from memberships where org_id = $1`, orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st membershipStore) list(ctx context.Context, query string, arg string) ([]*access.Membership, error) {
	rows, err := st.s.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Membership
	for rows.Next() {
		m, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (st membershipStore) scan(row rowScanner) (*access.Membership, error) {
	var (
		m       access.Membership
		invited sql.NullString
	)
	if err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &m.RoleID, &m.JoinedAt, &invited); err != nil {
		return nil, err
	}
	m.InvitedBy = invited.String
	return &m, nil
}
