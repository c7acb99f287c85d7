package repo

import (
	"context"

	"intentbid/internal/domain"
)

func (r Repo) ListAuditByEntity(ctx context.Context, entityType string, entityID int64) ([]domain.AuditLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_type,entity_id,action,metadata_json,created_at FROM audit_log WHERE entity_type=? AND entity_id=? ORDER BY id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
