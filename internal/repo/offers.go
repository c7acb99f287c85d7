package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"intentbid/internal/domain"
)

const offerColumns = `id,rfo_id,vendor_id,price_amount,unit_price,currency,delivery_eta_days,lead_time_days,available_qty,shipping_cost,tax_estimate,COALESCE(condition,''),traceability_json,warranty_months,return_days,stock,metadata_json,status,is_awarded,valid_until,offer_version,updated_at,created_at`

func scanOffer(row scanner) (domain.Offer, error) {
	var (
		o            domain.Offer
		traceability sql.NullString
		metadata     sql.NullString
	)
	err := row.Scan(&o.ID, &o.RFOID, &o.VendorID, &o.PriceAmount, &o.UnitPrice,
		&o.Currency, &o.DeliveryETADays, &o.LeadTimeDays, &o.AvailableQty,
		&o.ShippingCost, &o.TaxEstimate, &o.Condition, &traceability,
		&o.WarrantyMonths, &o.ReturnDays, &o.Stock, &metadata, &o.Status,
		&o.IsAwarded, &o.ValidUntil, &o.OfferVersion, &o.UpdatedAt, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if traceability.Valid && traceability.String != "" {
		var t domain.Traceability
		if err := json.Unmarshal([]byte(traceability.String), &t); err != nil {
			return o, fmt.Errorf("decode traceability: %w", err)
		}
		o.Traceability = &t
	}
	if metadata.Valid && metadata.String != "" {
		o.Metadata = decodeMap(metadata.String)
	}
	return o, nil
}

func offerJSONColumns(o domain.Offer) (traceability, metadata any, err error) {
	if o.Traceability != nil {
		b, err := json.Marshal(o.Traceability)
		if err != nil {
			return nil, nil, err
		}
		traceability = string(b)
	}
	if o.Metadata != nil {
		b, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, nil, err
		}
		metadata = string(b)
	}
	return traceability, metadata, nil
}

func (r Repo) InsertOfferTx(ctx context.Context, tx *sql.Tx, o domain.Offer) (int64, error) {
	traceability, metadata, err := offerJSONColumns(o)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO offers(rfo_id,vendor_id,price_amount,unit_price,currency,delivery_eta_days,lead_time_days,available_qty,shipping_cost,tax_estimate,condition,traceability_json,warranty_months,return_days,stock,metadata_json,status,is_awarded,valid_until,offer_version,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.RFOID, o.VendorID, o.PriceAmount, o.UnitPrice, o.Currency,
		o.DeliveryETADays, o.LeadTimeDays, o.AvailableQty, o.ShippingCost,
		o.TaxEstimate, nullable(o.Condition), traceability, o.WarrantyMonths,
		o.ReturnDays, o.Stock, metadata, o.Status, o.IsAwarded, o.ValidUntil,
		o.OfferVersion, o.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetOffer(ctx context.Context, id int64) (domain.Offer, error) {
	return scanOffer(r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Offer, error) {
	return scanOffer(tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

func (r Repo) ListOffersByRFO(ctx context.Context, rfoID int64) ([]domain.Offer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE rfo_id=? ORDER BY created_at ASC, id ASC`, rfoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) ListOffersByVendor(ctx context.Context, vendorID int64, limit int) ([]domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE vendor_id=? ORDER BY created_at DESC, id DESC`
	args := []any{vendorID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountVendorOffersForRFOTx(ctx context.Context, tx *sql.Tx, rfoID, vendorID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE rfo_id=? AND vendor_id=?`, rfoID, vendorID).Scan(&n)
	return n, err
}

// LastOfferActivityTx returns the most recent submit or update timestamp for
// a vendor on an RFO, used for rate limiting. Empty string means none.
func (r Repo) LastOfferActivityTx(ctx context.Context, tx *sql.Tx, rfoID, vendorID int64) (string, error) {
	var last sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(MAX(created_at, COALESCE(updated_at, created_at))) FROM offers WHERE rfo_id=? AND vendor_id=?`,
		rfoID, vendorID).Scan(&last)
	if err != nil {
		return "", err
	}
	return last.String, nil
}

// UpdateOfferTx rewrites the mutable columns of an offer, including the
// bumped version and updated_at.
func (r Repo) UpdateOfferTx(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	traceability, metadata, err := offerJSONColumns(o)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE offers SET price_amount=?,unit_price=?,currency=?,delivery_eta_days=?,lead_time_days=?,available_qty=?,shipping_cost=?,tax_estimate=?,condition=?,traceability_json=?,warranty_months=?,return_days=?,stock=?,metadata_json=?,valid_until=?,offer_version=?,updated_at=? WHERE id=?`,
		o.PriceAmount, o.UnitPrice, o.Currency, o.DeliveryETADays, o.LeadTimeDays,
		o.AvailableQty, o.ShippingCost, o.TaxEstimate, nullable(o.Condition),
		traceability, o.WarrantyMonths, o.ReturnDays, o.Stock, metadata,
		o.ValidUntil, o.OfferVersion, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetOfferAwardedTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE offers SET status=?, is_awarded=1 WHERE id=?`, domain.OfferStatusAwarded, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InterestedVendorIDsTx lists the distinct vendors that have at least one
// offer on the RFO. Lifecycle notifications fan out to this set.
func (r Repo) InterestedVendorIDsTx(ctx context.Context, tx *sql.Tx, rfoID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT vendor_id FROM offers WHERE rfo_id=? ORDER BY vendor_id`, rfoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertOfferRevisionTx(ctx context.Context, tx *sql.Tx, rev domain.OfferRevision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offer_revisions(offer_id,offer_version,snapshot_json,created_at) VALUES (?,?,?,?)`,
		rev.OfferID, rev.OfferVersion, rev.SnapshotJSON, rev.CreatedAt)
	return err
}

func (r Repo) ListOfferRevisions(ctx context.Context, offerID int64) ([]domain.OfferRevision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,offer_id,offer_version,snapshot_json,created_at FROM offer_revisions WHERE offer_id=? ORDER BY offer_version ASC`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OfferRevision
	for rows.Next() {
		var rev domain.OfferRevision
		if err := rows.Scan(&rev.ID, &rev.OfferID, &rev.OfferVersion, &rev.SnapshotJSON, &rev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rev)
	}
	return res, rows.Err()
}
