package repo

import (
	"context"
	"database/sql"

	"intentbid/internal/domain"
)

const outboxColumns = `id,vendor_id,event_type,payload_json,status,attempts,COALESCE(last_error,''),next_attempt_at,delivered_at,created_at`

func scanOutboxEvent(row scanner) (domain.OutboxEvent, error) {
	var e domain.OutboxEvent
	err := row.Scan(&e.ID, &e.VendorID, &e.EventType, &e.PayloadJSON, &e.Status,
		&e.Attempts, &e.LastError, &e.NextAttemptAt, &e.DeliveredAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertOutboxEventTx(ctx context.Context, tx *sql.Tx, e domain.OutboxEvent) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO event_outbox(vendor_id,event_type,payload_json,status,attempts,created_at) VALUES (?,?,?,?,?,?)`,
		e.VendorID, e.EventType, e.PayloadJSON, e.Status, e.Attempts, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetOutboxEvent(ctx context.Context, id int64) (domain.OutboxEvent, error) {
	return scanOutboxEvent(r.DB.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM event_outbox WHERE id=?`, id))
}

// DueOutboxEvents returns pending events whose next attempt time has passed
// (or was never set) and whose attempt budget is not exhausted, oldest
// first. Exhausted events stay pending as an inspectable delivery ledger but
// are never returned here again.
func (r Repo) DueOutboxEvents(ctx context.Context, now string, maxAttempts, limit int) ([]domain.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM event_outbox WHERE status=? AND attempts<? AND (next_attempt_at IS NULL OR next_attempt_at<=?) ORDER BY id`
	args := []any{domain.OutboxStatusPending, maxAttempts, now}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListOutboxByVendor(ctx context.Context, vendorID int64, status string, limit int) ([]domain.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM event_outbox WHERE vendor_id=?`
	args := []any{vendorID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// MarkOutboxDelivered completes an event. The status guard makes concurrent
// dispatch passes idempotent: an event already delivered is never re-marked.
func (r Repo) MarkOutboxDelivered(ctx context.Context, id int64, attempts int, deliveredAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE event_outbox SET status=?, attempts=?, last_error=NULL, next_attempt_at=NULL, delivered_at=? WHERE id=? AND status=?`,
		domain.OutboxStatusDelivered, attempts, deliveredAt, id, domain.OutboxStatusPending)
	return err
}

func (r Repo) MarkOutboxAttemptFailed(ctx context.Context, id int64, attempts int, lastError, nextAttemptAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE event_outbox SET attempts=?, last_error=?, next_attempt_at=? WHERE id=?`,
		attempts, lastError, nextAttemptAt, id)
	return err
}
