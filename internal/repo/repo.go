package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"intentbid/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by *sql.DB and *sql.Tx so queries can run either
// standalone or inside an engine transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMap(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const rfoColumns = `id,buyer_id,category,COALESCE(title,''),COALESCE(summary,''),constraints_json,preferences_json,weights_json,line_items_json,compliance_json,COALESCE(scoring_profile,''),scoring_version,budget_max,COALESCE(currency,''),delivery_deadline_days,quantity,COALESCE(location,''),status,COALESCE(status_reason,''),awarded_offer_id,expires_at,created_at`

func scanRFO(row scanner) (domain.RFO, error) {
	var (
		r           domain.RFO
		constraints string
		preferences string
		weights     string
		lineItems   sql.NullString
		compliance  sql.NullString
	)
	err := row.Scan(&r.ID, &r.BuyerID, &r.Category, &r.Title, &r.Summary,
		&constraints, &preferences, &weights, &lineItems, &compliance,
		&r.ScoringProfile, &r.ScoringVersion, &r.BudgetMax, &r.Currency,
		&r.DeliveryDeadlineDays, &r.Quantity, &r.Location, &r.Status,
		&r.StatusReason, &r.AwardedOfferID, &r.ExpiresAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Constraints = decodeMap(constraints)
	r.Preferences = decodeMap(preferences)
	r.Weights = decodeMap(weights)
	if lineItems.Valid && lineItems.String != "" {
		if err := json.Unmarshal([]byte(lineItems.String), &r.LineItems); err != nil {
			return r, fmt.Errorf("decode line_items: %w", err)
		}
	}
	if compliance.Valid {
		r.Compliance = decodeMap(compliance.String)
	}
	return r, nil
}

func insertRFO(ctx context.Context, q execer, r domain.RFO) (int64, error) {
	constraints, err := encodeMap(r.Constraints)
	if err != nil {
		return 0, err
	}
	preferences, err := encodeMap(r.Preferences)
	if err != nil {
		return 0, err
	}
	weights, err := encodeMap(r.Weights)
	if err != nil {
		return 0, err
	}
	var lineItems any
	if r.LineItems != nil {
		b, err := json.Marshal(r.LineItems)
		if err != nil {
			return 0, err
		}
		lineItems = string(b)
	}
	var compliance any
	if r.Compliance != nil {
		b, err := json.Marshal(r.Compliance)
		if err != nil {
			return 0, err
		}
		compliance = string(b)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO rfos(buyer_id,category,title,summary,constraints_json,preferences_json,weights_json,line_items_json,compliance_json,scoring_profile,scoring_version,budget_max,currency,delivery_deadline_days,quantity,location,status,status_reason,expires_at,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.BuyerID, r.Category, nullable(r.Title), nullable(r.Summary),
		constraints, preferences, weights, lineItems, compliance,
		nullable(r.ScoringProfile), r.ScoringVersion, r.BudgetMax, nullable(r.Currency),
		r.DeliveryDeadlineDays, r.Quantity, nullable(r.Location), r.Status,
		nullable(r.StatusReason), r.ExpiresAt, r.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertRFOTx(ctx context.Context, tx *sql.Tx, rfo domain.RFO) (int64, error) {
	return insertRFO(ctx, tx, rfo)
}

func (r Repo) GetRFO(ctx context.Context, id int64) (domain.RFO, error) {
	return scanRFO(r.DB.QueryRowContext(ctx, `SELECT `+rfoColumns+` FROM rfos WHERE id=?`, id))
}

func (r Repo) GetRFOTx(ctx context.Context, tx *sql.Tx, id int64) (domain.RFO, error) {
	return scanRFO(tx.QueryRowContext(ctx, `SELECT `+rfoColumns+` FROM rfos WHERE id=?`, id))
}

// ListRFOs filters by status and category when either is non-empty.
func (r Repo) ListRFOs(ctx context.Context, status, category string, limit int) ([]domain.RFO, error) {
	query := `SELECT ` + rfoColumns + ` FROM rfos`
	var (
		conds []string
		args  []any
	)
	if status != "" {
		conds = append(conds, "status=?")
		args = append(args, status)
	}
	if category != "" {
		conds = append(conds, "category=?")
		args = append(args, category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RFO
	for rows.Next() {
		rfo, err := scanRFO(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rfo)
	}
	return res, rows.Err()
}

// ListOpenRFOsByCategories backs the vendor match feed.
func (r Repo) ListOpenRFOsByCategories(ctx context.Context, categories []string, limit int) ([]domain.RFO, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(categories))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(categories)+1)
	for _, c := range categories {
		args = append(args, c)
	}
	query := `SELECT ` + rfoColumns + ` FROM rfos WHERE status=? AND category IN (` + placeholders + `) ORDER BY created_at DESC, id DESC`
	args = append([]any{domain.RFOStatusOpen}, args...)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RFO
	for rows.Next() {
		rfo, err := scanRFO(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rfo)
	}
	return res, rows.Err()
}

// UpdateRFOFieldsTx patches the mutable descriptive fields of an RFO.
// JSON bag arguments replace the stored value wholesale when non-nil.
func (r Repo) UpdateRFOFieldsTx(ctx context.Context, tx *sql.Tx, id int64, rfo domain.RFO, set map[string]bool) error {
	var (
		fields []string
		args   []any
	)
	add := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if set["title"] {
		add("title", nullable(rfo.Title))
	}
	if set["summary"] {
		add("summary", nullable(rfo.Summary))
	}
	if set["category"] {
		add("category", rfo.Category)
	}
	if set["constraints"] {
		v, err := encodeMap(rfo.Constraints)
		if err != nil {
			return err
		}
		add("constraints_json", v)
	}
	if set["preferences"] {
		v, err := encodeMap(rfo.Preferences)
		if err != nil {
			return err
		}
		add("preferences_json", v)
	}
	if set["line_items"] {
		b, err := json.Marshal(rfo.LineItems)
		if err != nil {
			return err
		}
		add("line_items_json", string(b))
	}
	if set["compliance"] {
		v, err := encodeMap(rfo.Compliance)
		if err != nil {
			return err
		}
		add("compliance_json", v)
	}
	if set["budget_max"] {
		add("budget_max", rfo.BudgetMax)
	}
	if set["currency"] {
		add("currency", nullable(rfo.Currency))
	}
	if set["delivery_deadline_days"] {
		add("delivery_deadline_days", rfo.DeliveryDeadlineDays)
	}
	if set["quantity"] {
		add("quantity", rfo.Quantity)
	}
	if set["location"] {
		add("location", nullable(rfo.Location))
	}
	if set["expires_at"] {
		add("expires_at", rfo.ExpiresAt)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE rfos SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRFOStatusTx(ctx context.Context, tx *sql.Tx, id int64, status, reason string, awardedOfferID *int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE rfos SET status=?, status_reason=?, awarded_offer_id=? WHERE id=?`,
		status, nullable(reason), awardedOfferID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateScoringConfigTx(ctx context.Context, tx *sql.Tx, id int64, profile *string, weights map[string]any, version string) error {
	var (
		fields []string
		args   []any
	)
	if profile != nil {
		fields = append(fields, "scoring_profile=?")
		args = append(args, nullable(*profile))
	}
	if weights != nil {
		v, err := encodeMap(weights)
		if err != nil {
			return err
		}
		fields = append(fields, "weights_json=?")
		args = append(args, v)
	}
	if version != "" {
		fields = append(fields, "scoring_version=?")
		args = append(args, version)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE rfos SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
