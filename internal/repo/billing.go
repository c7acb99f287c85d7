package repo

import (
	"context"
	"database/sql"

	"intentbid/internal/domain"
)

func (r Repo) InsertUsageEventTx(ctx context.Context, tx *sql.Tx, e domain.UsageEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO usage_events(owner_kind,owner_id,event_type,created_at) VALUES (?,?,?,?)`,
		e.OwnerKind, e.OwnerID, e.EventType, e.CreatedAt)
	return err
}

// CountUsageEventsSinceTx counts billing events of one type recorded at or
// after since, typically the start of the current calendar month.
func (r Repo) CountUsageEventsSinceTx(ctx context.Context, tx *sql.Tx, ownerKind string, ownerID int64, eventType, since string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events WHERE owner_kind=? AND owner_id=? AND event_type=? AND created_at>=?`,
		ownerKind, ownerID, eventType, since).Scan(&n)
	return n, err
}

// UsageByTypeSince aggregates event counts per type for the usage summary.
func (r Repo) UsageByTypeSince(ctx context.Context, ownerKind string, ownerID int64, since string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM usage_events WHERE owner_kind=? AND owner_id=? AND created_at>=? GROUP BY event_type`,
		ownerKind, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		res[eventType] = n
	}
	return res, rows.Err()
}

func (r Repo) UpsertSubscription(ctx context.Context, s domain.Subscription) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE subscriptions SET plan_code=?, status=? WHERE vendor_id=?`, s.PlanCode, s.Status, s.VendorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO subscriptions(vendor_id,plan_code,status) VALUES (?,?,?)`, s.VendorID, s.PlanCode, s.Status)
	return err
}

func (r Repo) GetSubscription(ctx context.Context, vendorID int64) (domain.Subscription, error) {
	var s domain.Subscription
	err := r.DB.QueryRowContext(ctx, `SELECT id,vendor_id,plan_code,status FROM subscriptions WHERE vendor_id=?`, vendorID).
		Scan(&s.ID, &s.VendorID, &s.PlanCode, &s.Status)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSubscriptionTx(ctx context.Context, tx *sql.Tx, vendorID int64) (domain.Subscription, error) {
	var s domain.Subscription
	err := tx.QueryRowContext(ctx, `SELECT id,vendor_id,plan_code,status FROM subscriptions WHERE vendor_id=?`, vendorID).
		Scan(&s.ID, &s.VendorID, &s.PlanCode, &s.Status)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpsertPlanLimit(ctx context.Context, p domain.PlanLimit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO plan_limits(plan_code,max_offers_per_month) VALUES (?,?)
		ON CONFLICT(plan_code) DO UPDATE SET max_offers_per_month=excluded.max_offers_per_month`,
		p.PlanCode, p.MaxOffersPerMonth)
	return err
}

func (r Repo) GetPlanLimit(ctx context.Context, planCode string) (domain.PlanLimit, error) {
	var p domain.PlanLimit
	err := r.DB.QueryRowContext(ctx, `SELECT plan_code,max_offers_per_month FROM plan_limits WHERE plan_code=?`, planCode).
		Scan(&p.PlanCode, &p.MaxOffersPerMonth)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPlanLimitTx(ctx context.Context, tx *sql.Tx, planCode string) (domain.PlanLimit, error) {
	var p domain.PlanLimit
	err := tx.QueryRowContext(ctx, `SELECT plan_code,max_offers_per_month FROM plan_limits WHERE plan_code=?`, planCode).
		Scan(&p.PlanCode, &p.MaxOffersPerMonth)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}
