package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"intentbid/internal/domain"
)

// HashAPIKey hashes a presented key the same way stored keys are hashed.
// Only the hash ever touches the database.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,owner_kind,owner_id,key_hash,status,created_at) VALUES (?,?,?,?,?,?)`,
		k.ID, k.OwnerKind, k.OwnerID, k.KeyHash, k.Status, k.CreatedAt)
	return err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	err := r.DB.QueryRowContext(ctx, `SELECT id,owner_kind,owner_id,key_hash,status,last_used_at,revoked_at,created_at FROM api_keys WHERE key_hash=?`, hash).
		Scan(&k.ID, &k.OwnerKind, &k.OwnerID, &k.KeyHash, &k.Status, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	return k, err
}

func (r Repo) TouchAPIKey(ctx context.Context, id, usedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, usedAt, id)
	return err
}

func (r Repo) RevokeAPIKey(ctx context.Context, id, revokedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET status=?, revoked_at=? WHERE id=? AND status=?`,
		domain.KeyStatusRevoked, revokedAt, id, domain.KeyStatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAPIKeysByOwner(ctx context.Context, ownerKind string, ownerID int64) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_kind,owner_id,key_hash,status,last_used_at,revoked_at,created_at FROM api_keys WHERE owner_kind=? AND owner_id=? ORDER BY created_at`, ownerKind, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerKind, &k.OwnerID, &k.KeyHash, &k.Status, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}
