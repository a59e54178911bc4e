package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatehouse.org/internal/access"
)

type roleStore struct{ s *Store }

const roleColumns = `id, org_id, name, description, permissions, is_system, sort_order, created_at, updated_at`

func (st roleStore) Insert(ctx context.Context, role *access.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = st.s.q.ExecContext(ctx, `
		insert into roles (id, org_id, name, description, permissions, is_system, sort_order, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, role.ID, role.OrgID, role.Name, nullIfEmpty(role.Description), perms,
		role.IsSystem, role.SortOrder, role.CreatedAt, role.UpdatedAt)
	return mapWriteErr(err)
}

func (st roleStore) Find(ctx context.Context, id string) (*access.Role, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+roleColumns+` from roles where id = $1
	`, id))
}

func (st roleStore) FindByName(ctx context.Context, orgID, name string) (*access.Role, error) {
	return st.scanOne(st.s.q.QueryRowContext(ctx, `
		select `+roleColumns+` from roles where org_id = $1 and name = $2
	`, orgID, name))
}

func (st roleStore) ListByOrg(ctx context.Context, orgID string) ([]*access.Role, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where org_id = $1
		order by sort_order asc, name asc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Role
	for rows.Next() {
		role, err := st.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (st roleStore) Update(ctx context.Context, role *access.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, permissions = $4, sort_order = $5, updated_at = $6
		where id = $1
	`, role.ID, role.Name, nullIfEmpty(role.Description), perms, role.SortOrder, role.UpdatedAt))
}

func (st roleStore) Delete(ctx context.Context, id string) error {
	return affectedOrNotFound(st.s.q.ExecContext(ctx, `delete from roles where id = $1`, id))
}

func (st roleStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from roles where org_id = $1`, orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st roleStore) scanOne(row *sql.Row) (*access.Role, error) {
	role, err := st.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return role, err
}

func (st roleStore) scan(row rowScanner) (*access.Role, error) {
	var (
		role  access.Role
		desc  sql.NullString
		perms []byte
	)
	if err := row.Scan(&role.ID, &role.OrgID, &role.Name, &desc, &perms,
		&role.IsSystem, &role.SortOrder, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Description = desc.String
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &role, nil
}
