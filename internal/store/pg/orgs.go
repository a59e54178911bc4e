package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatehouse.org/internal/access"
)

type orgStore struct{ s *Store }

const orgColumns = `id, name, slug, logo_url, metadata, created_by, is_personal, status, created_at, updated_at, deleted_at`

func (st orgStore) Insert(ctx context.Context, org *access.Organization) error {
	meta, err := marshalMeta(org.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = st.s.q.ExecContext(ctx, `
		insert into organizations (id, name, slug, logo_url, metadata, created_by, is_personal, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, org.ID, org.Name, org.Slug, nullIfEmpty(org.LogoURL), meta, org.CreatedBy,
		org.IsPersonal, org.Status, org.CreatedAt, org.UpdatedAt)
	return mapWriteErr(err)
}

func (st orgStore) Find(ctx context.Context, id string) (*access.Organization, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+orgColumns+` from organizations where id = $1 and status <> 'deleted'
	`, id))
}

func (st orgStore) FindAny(ctx context.Context, id string) (*access.Organization, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+orgColumns+` from organizations where id = $1
	`, id))
}

func (st orgStore) FindBySlug(ctx context.Context, slug string) (*access.Organization, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+orgColumns+` from organizations where slug = $1
	`, slug))
}

func (st orgStore) Update(ctx context.Context, org *access.Organization) error {
	meta, err := marshalMeta(org.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update organizations
		set name = $2, slug = $3, logo_url = $4, metadata = $5, status = $6, updated_at = $7, deleted_at = $8
		where id = $1
	`, org.ID, org.Name, org.Slug, nullIfEmpty(org.LogoURL), meta, org.Status,
		org.UpdatedAt, nullTime(org.DeletedAt)))
}

func (st orgStore) Delete(ctx context.Context, id string) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `delete from organizations where id = $1`, id))
}

func (st orgStore) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*access.Organization, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+orgColumns+` from organizations
		where status = 'deleted' and deleted_at < $1
		order by deleted_at asc
		limit $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Organization
	for rows.Next() {
		org, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func (st orgStore) scanOne(row *sql.Row) (*access.Organization, error) {
	org, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return org, err
}

func (st orgStore) scan(row rowScanner) (*access.Organization, error) {
	var (
		org     access.Organization
		logo    sql.NullString
		meta    []byte
		deleted sql.NullTime
	)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &logo, &meta, &org.CreatedBy,
		&org.IsPersonal, &org.Status, &org.CreatedAt, &org.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	org.LogoURL = logo.String
	org.DeletedAt = timePtr(deleted)
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	org.Metadata = m
	return &org, nil
}
