package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/access"
)

type invitationStore struct{ s *Store }

const invitationColumns = `id, org_id, email, phone, role_id, invited_by, status, token_hash, expires_at, accepted_by, accepted_at, created_at`

func (st invitationStore) Insert(ctx context.Context, inv *access.Invitation) error {
	_, err := st.s.q.ExecContext(ctx, `
		insert into invitations (id, org_id, email, phone, role_id, invited_by, status, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.OrgID, nullIfEmpty(inv.Email), nullIfEmpty(inv.Phone), inv.RoleID,
		inv.InvitedBy, inv.Status, inv.TokenHash, inv.ExpiresAt, inv.CreatedAt)
	return mapWriteErr(err)
}

func (st invitationStore) Find(ctx context.Context, id string) (*access.Invitation, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations where id = $1
	`, id))
}

func (st invitationStore) FindByTokenHash(ctx context.Context, hash string) (*access.Invitation, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations where token_hash = $1
	`, hash))
}

func (st invitationStore) FindPendingByEmail(ctx context.Context, orgID, email string) (*access.Invitation, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations
		where org_id = $1 and email = $2 and status = 'pending'
	`, orgID, email))
}

func (st invitationStore) FindPendingByPhone(ctx context.Context, orgID, phone string) (*access.Invitation, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations
		where org_id = $1 and phone = $2 and status = 'pending'
	`, orgID, phone))
}

func (st invitationStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Invitation, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+invitationColumns+` from invitations
		where org_id = $1
		order by created_at desc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Invitation
	for rows.Next() {
		inv, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (st invitationStore) CountPendingByRole(ctx context.Context, roleID string) (int, error) {
	var n int
	err := st.s.q.QueryRowContext(ctx, `
		select count(*) from invitations where role_id = $1 and status = 'pending'
	`, roleID).Scan(&n)
	return n, err
}

func (st invitationStore) Update(ctx context.Context, inv *access.Invitation) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update invitations
		set status = $2, accepted_by = $3, accepted_at = $4
		where id = $1
	`, inv.ID, inv.Status, nullIfEmpty(inv.AcceptedBy), nullTime(inv.AcceptedAt)))
}

func (st invitationStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from invitations where org_id = $1`, orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st invitationStore) scanOne(row *sql.Row) (*access.Invitation, error) {
	inv, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return inv, err
}

func (st invitationStore) scan(row rowScanner) (*access.Invitation, error) {
	var (
		inv        access.Invitation
		email      sql.NullString
		phone      sql.NullString
		acceptedBy sql.NullString
		acceptedAt sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.OrgID, &email, &phone, &inv.RoleID, &inv.InvitedBy,
		&inv.Status, &inv.TokenHash, &inv.ExpiresAt, &acceptedBy, &acceptedAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Email = email.String
	inv.Phone = phone.String
	inv.AcceptedBy = acceptedBy.String
	inv.AcceptedAt = timePtr(acceptedAt)
	return &inv, nil
}

type codeStore struct{ s *Store }

const codeColumns = `id, org_id, code, role_id, created_by, max_redemptions, redemption_count, expires_at, status, revoked_at, created_at`

func (st codeStore) Insert(ctx context.Context, code *access.InvitationCode) error {
	_, err := st.s.q.ExecContext(ctx, `
		insert into invitation_codes (id, org_id, code, role_id, created_by, max_redemptions, expires_at, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, code.ID, code.OrgID, code.Code, code.RoleID, code.CreatedBy,
		code.MaxRedemptions, nullTime(code.ExpiresAt), code.Status, code.CreatedAt)
	return mapWriteErr(err)
}

func (st codeStore) Find(ctx context.Context, id string) (*access.InvitationCode, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+codeColumns+` from invitation_codes where id = $1
	`, id))
}

func (st codeStore) FindByCode(ctx context.Context, value string) (*access.InvitationCode, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+codeColumns+` from invitation_codes where code = $1
	`, value))
}

func (st codeStore) ListByOrg(ctx context.Context, orgID string) ([]*access.InvitationCode, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+codeColumns+` from invitation_codes
		where org_id = $1
		order by created_at desc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.InvitationCode
	for rows.Next() {
		code, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (st codeStore) Update(ctx context.Context, code *access.InvitationCode) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update invitation_codes
		set redemption_count = $2, status = $3, revoked_at = $4
		where id = $1
	`, code.ID, code.RedemptionCount, code.Status, nullTime(code.RevokedAt)))
}

func (st codeStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from invitation_codes where org_id = $1`, orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st codeStore) scanOne(row *sql.Row) (*access.InvitationCode, error) {
	code, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return code, err
}

func (st codeStore) scan(row rowScanner) (*access.InvitationCode, error) {
	var (
		code      access.InvitationCode
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	if err := row.Scan(&code.ID, &code.OrgID, &code.Code, &code.RoleID, &code.CreatedBy,
		&code.MaxRedemptions, &code.RedemptionCount, &expiresAt, &code.Status, &revokedAt, &code.CreatedAt); err != nil {
		return nil, err
	}
	code.ExpiresAt = timePtr(expiresAt)
	code.RevokedAt = timePtr(revokedAt)
	return &code, nil
}
