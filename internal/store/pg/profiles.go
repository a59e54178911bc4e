package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatehouse.org/internal/access"
)

type profileStore struct{ s *Store }

const profileColumns = `id, email, phone, display_name, avatar_url, metadata, active_org_id, is_banned, ban_reason, is_admin, created_at, updated_at, deleted_at`

func (st profileStore) Insert(ctx context.Context, p *access.UserProfile) error {
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = st.s.q.ExecContext(ctx, `
		insert into user_profiles (id, email, phone, display_name, avatar_url, metadata, active_org_id, is_banned, ban_reason, is_admin, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, nullIfEmpty(p.Email), nullIfEmpty(p.Phone), p.DisplayName, nullIfEmpty(p.AvatarURL),
		meta, nullIfEmpty(p.ActiveOrgID), p.IsBanned, nullIfEmpty(p.BanReason), p.IsAdmin,
		p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

func (st profileStore) Find(ctx context.Context, id string) (*access.UserProfile, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+profileColumns+` from user_profiles where id = $1 and deleted_at is null
	`, id))
}

func (st profileStore) FindAny(ctx context.Context, id string) (*access.UserProfile, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+profileColumns+` from user_profiles where id = $1
	`, id))
}

func (st profileStore) Update(ctx context.Context, p *access.UserProfile) error {
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update user_profiles
		set email = $2, phone = $3, display_name = $4, avatar_url = $5, metadata = $6,
		    active_org_id = $7, is_banned = $8, ban_reason = $9, is_admin = $10,
		    updated_at = $11, deleted_at = $12
		where id = $1
	`, p.ID, nullIfEmpty(p.Email), nullIfEmpty(p.Phone), p.DisplayName, nullIfEmpty(p.AvatarURL),
		meta, nullIfEmpty(p.ActiveOrgID), p.IsBanned, nullIfEmpty(p.BanReason), p.IsAdmin,
		p.UpdatedAt, nullTime(p.DeletedAt)))
}

func (st profileStore) Delete(ctx context.Context, id string) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `delete from user_profiles where id = $1`, id))
}

func (st profileStore) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.UserProfile, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+profileColumns+` from user_profiles
		where deleted_at is not null and deleted_at < $1
		order by deleted_at asc
		limit $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.UserProfile
	for rows.Next() {
		p, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (st profileStore) scanOne(row *sql.Row) (*access.UserProfile, error) {
	p, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return p, err
}

func (st profileStore) scan(row rowScanner) (*access.UserProfile, error) {
	var (
		p         access.UserProfile
		email     sql.NullString
		phone     sql.NullString
		avatar    sql.NullString
		meta      []byte
		activeOrg sql.NullString
		banReason sql.NullString
		deleted   sql.NullTime
	)
	if err := row.Scan(&p.ID, &email, &phone, &p.DisplayName, &avatar, &meta, &activeOrg,
		&p.IsBanned, &banReason, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	p.Email = email.String
	p.Phone = phone.String
	p.AvatarURL = avatar.String
	p.ActiveOrgID = activeOrg.String
	p.BanReason = banReason.String
	p.DeletedAt = timePtr(deleted)
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	p.Metadata = m
	return &p, nil
}

type deviceStore struct{ s *Store }

func (st deviceStore) Upsert(ctx context.Context, d *access.Device) error {
	_, err := st.s.q.ExecContext(ctx, `
		insert into devices (id, user_id, session_id, device_name, device_type, browser, os, ip_address, last_active_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict (session_id) do update
		set device_name = excluded.device_name,
		    device_type = excluded.device_type,
		    browser = excluded.browser,
		    os = excluded.os,
		    ip_address = excluded.ip_address,
		    last_active_at = excluded.last_active_at
	`, d.ID, d.UserID, d.SessionID, nullIfEmpty(d.DeviceName), nullIfEmpty(d.DeviceType),
		nullIfEmpty(d.Browser), nullIfEmpty(d.OS), nullIfEmpty(d.IPAddress),
		d.LastActiveAt, d.CreatedAt)
	return mapWriteErr(err)
}

func (st deviceStore) ListByUser(ctx context.Context, userID string) ([]*access.Device, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select id, user_id, session_id, device_name, device_type, browser, os, ip_address, last_active_at, created_at
		from devices
		where user_id = $1
		order by last_active_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Device
	for rows.Next() {
		var (
			d       access.Device
			name    sql.NullString
			dtype   sql.NullString
			browser sql.NullString
			osName  sql.NullString
			ip      sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.SessionID, &name, &dtype, &browser, &osName,
			&ip, &d.LastActiveAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.DeviceName = name.String
		d.DeviceType = dtype.String
		d.Browser = browser.String
		d.OS = osName.String
		d.IPAddress = ip.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (st deviceStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from devices where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
