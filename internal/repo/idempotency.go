package repo

import (
	"context"
	"database/sql"

	"intentbid/internal/domain"
)

func (r Repo) GetIdempotencyKey(ctx context.Context, key, endpoint string) (domain.IdempotencyKey, error) {
	var k domain.IdempotencyKey
	err := r.DB.QueryRowContext(ctx, `SELECT id,key,endpoint,status_code,response_body,created_at FROM idempotency_keys WHERE key=? AND endpoint=?`, key, endpoint).
		Scan(&k.ID, &k.Key, &k.Endpoint, &k.StatusCode, &k.ResponseBody, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	return k, err
}

// InsertIdempotencyKey records a response replay entry. The UNIQUE(key,
// endpoint) constraint makes concurrent first calls race safely; the loser
// re-reads the stored row.
func (r Repo) InsertIdempotencyKey(ctx context.Context, k domain.IdempotencyKey) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO idempotency_keys(key,endpoint,status_code,response_body,created_at) VALUES (?,?,?,?,?)`,
		k.Key, k.Endpoint, k.StatusCode, k.ResponseBody, k.CreatedAt)
	return err
}
