package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit rows inside the caller's transaction, so a rolled
// back mutation never leaves a trail entry behind.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, action string, meta Metadata) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(entity_type,entity_id,action,metadata_json,created_at) VALUES (?,?,?,?,?)`,
		entityType, entityID, action, string(data), now().UTC().Format(time.RFC3339))
	return err
}
