package pg

import (
	"context"
	"database/sql"
	"fmt"

	"gatehouse.org/internal/access"
)

type auditStore struct{ s *Store }

const auditColumns = `id, org_id, actor_user_id, effective_user_id, action, resource_type, resource_id, metadata, occurred_at`

func (st auditStore) Append(ctx context.Context, e *access.AuditEntry) error {
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = st.s.q.ExecContext(ctx, `
		insert into audit_log (id, org_id, actor_user_id, effective_user_id, action, resource_type, resource_id, metadata, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullIfEmpty(e.OrgID), e.ActorUserID, nullIfEmpty(e.EffectiveUserID),
		e.Action, e.ResourceType, e.ResourceID, meta, e.OccurredAt)
	return mapWriteErr(err)
}

func (st auditStore) ListByOrg(ctx context.Context, orgID string, limit int) ([]*access.AuditEntry, error) {
	return st.list(ctx, `org_id = $1`, orgID, limit)
}

func (st auditStore) ListByAction(ctx context.Context, action string, limit int) ([]*access.AuditEntry, error) {
	return st.list(ctx, `action = $1`, action, limit)
}

func (st auditStore) ListByActor(ctx context.Context, actorUserID string, limit int) ([]*access.AuditEntry, error) {
	return st.list(ctx, `actor_user_id = $1`, actorUserID, limit)
}

func (st auditStore) ListByResourceType(ctx context.Context, resourceType string, limit int) ([]*access.AuditEntry, error) {
	return st.list(ctx, `resource_type = $1`, resourceType, limit)
}

func (st auditStore) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := st.s.q.ExecContext(ctx, `delete from audit_log where org_id = $1`, orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (st auditStore) list(ctx context.Context, where string, arg string, limit int) ([]*access.AuditEntry, error) {
	rows, err := st.s.q.QueryContext(ctx, `
		select `+auditColumns+` from audit_log
		where `+where+`
		order by occurred_at desc, id desc
		limit $2
	`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.AuditEntry
	for rows.Next() {
		var (
			e         access.AuditEntry
			orgID     sql.NullString
			effective sql.NullString
			meta      []byte
		)
		if err := rows.Scan(&e.ID, &orgID, &e.ActorUserID, &effective, &e.Action,
			&e.ResourceType, &e.ResourceID, &meta, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.OrgID = orgID.String
		e.EffectiveUserID = effective.String
		m, err := unmarshalMeta(meta)
		if err != nil {
			return nil, err
		}
		e.Metadata = m
		out = append(out, &e)
	}
	return out, rows.Err()
}
