package repo

import (
	"context"
	"database/sql"

	"intentbid/internal/domain"
)

const webhookColumns = `id,vendor_id,url,secret,is_active,last_delivery_at,created_at`

func scanWebhook(row scanner) (domain.VendorWebhook, error) {
	var w domain.VendorWebhook
	err := row.Scan(&w.ID, &w.VendorID, &w.URL, &w.Secret, &w.IsActive, &w.LastDeliveryAt, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWebhook(ctx context.Context, w domain.VendorWebhook) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO vendor_webhooks(vendor_id,url,secret,is_active,created_at) VALUES (?,?,?,?,?)`,
		w.VendorID, w.URL, w.Secret, w.IsActive, w.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetWebhook(ctx context.Context, id int64) (domain.VendorWebhook, error) {
	return scanWebhook(r.DB.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM vendor_webhooks WHERE id=?`, id))
}

func (r Repo) ListWebhooksByVendor(ctx context.Context, vendorID int64) ([]domain.VendorWebhook, error) {
	return r.listWebhooks(ctx, `SELECT `+webhookColumns+` FROM vendor_webhooks WHERE vendor_id=? ORDER BY id`, vendorID)
}

func (r Repo) ListActiveWebhooksByVendor(ctx context.Context, vendorID int64) ([]domain.VendorWebhook, error) {
	return r.listWebhooks(ctx, `SELECT `+webhookColumns+` FROM vendor_webhooks WHERE vendor_id=? AND is_active=1 ORDER BY id`, vendorID)
}

func (r Repo) listWebhooks(ctx context.Context, query string, args ...any) ([]domain.VendorWebhook, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VendorWebhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) SetWebhookActive(ctx context.Context, id int64, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE vendor_webhooks SET is_active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkWebhookDelivered(ctx context.Context, id int64, deliveredAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE vendor_webhooks SET last_delivery_at=? WHERE id=?`, deliveredAt, id)
	return err
}
