package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"intentbid/internal/domain"
)

func (r Repo) InsertVendor(ctx context.Context, v domain.Vendor) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO vendors(name,verification_status,verification_notes,verified_at,created_at) VALUES (?,?,?,?,?)`,
		v.Name, v.VerificationStatus, nullable(v.VerificationNotes), v.VerifiedAt, v.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanVendor(row scanner) (domain.Vendor, error) {
	var v domain.Vendor
	err := row.Scan(&v.ID, &v.Name, &v.VerificationStatus, &v.VerificationNotes, &v.VerifiedAt, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

const vendorColumns = `id,name,verification_status,COALESCE(verification_notes,''),verified_at,created_at`

func (r Repo) GetVendor(ctx context.Context, id int64) (domain.Vendor, error) {
	return scanVendor(r.DB.QueryRowContext(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id=?`, id))
}

func (r Repo) GetVendorTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Vendor, error) {
	return scanVendor(tx.QueryRowContext(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id=?`, id))
}

func (r Repo) ListVendors(ctx context.Context, verificationStatus string) ([]domain.Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors`
	var args []any
	if verificationStatus != "" {
		query += ` WHERE verification_status=?`
		args = append(args, verificationStatus)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) SetVendorVerificationTx(ctx context.Context, tx *sql.Tx, id int64, status, notes string, verifiedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE vendors SET verification_status=?, verification_notes=?, verified_at=? WHERE id=?`,
		status, nullable(notes), verifiedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertBuyer(ctx context.Context, b domain.Buyer) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO buyers(name,created_at) VALUES (?,?)`, b.Name, b.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetBuyer(ctx context.Context, id int64) (domain.Buyer, error) {
	var b domain.Buyer
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM buyers WHERE id=?`, id).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) UpsertVendorProfile(ctx context.Context, p domain.VendorProfile) error {
	categories, err := json.Marshal(p.Categories)
	if err != nil {
		return err
	}
	regions, err := json.Marshal(p.Regions)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO vendor_profiles(vendor_id,categories_json,regions_json,lead_time_days,min_order_value,on_time_delivery_rate,dispute_rate,verified_distributor)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(vendor_id) DO UPDATE SET categories_json=excluded.categories_json, regions_json=excluded.regions_json, lead_time_days=excluded.lead_time_days, min_order_value=excluded.min_order_value, on_time_delivery_rate=excluded.on_time_delivery_rate, dispute_rate=excluded.dispute_rate, verified_distributor=excluded.verified_distributor`,
		p.VendorID, string(categories), string(regions), p.LeadTimeDays, p.MinOrderValue, p.OnTimeDeliveryRate, p.DisputeRate, p.VerifiedDistributor)
	return err
}

func (r Repo) GetVendorProfile(ctx context.Context, vendorID int64) (domain.VendorProfile, error) {
	var (
		p          domain.VendorProfile
		categories string
		regions    string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT vendor_id,categories_json,regions_json,lead_time_days,min_order_value,on_time_delivery_rate,dispute_rate,verified_distributor FROM vendor_profiles WHERE vendor_id=?`, vendorID).
		Scan(&p.VendorID, &categories, &regions, &p.LeadTimeDays, &p.MinOrderValue, &p.OnTimeDeliveryRate, &p.DisputeRate, &p.VerifiedDistributor)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(categories), &p.Categories); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(regions), &p.Regions); err != nil {
		return p, err
	}
	return p, nil
}
