package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"intentbid/internal/audit"
	"intentbid/internal/domain"
	"intentbid/internal/outbox"
)

// ensureRFOTransition guards the RFO lifecycle. OPEN accepts offers, CLOSED
// stops bidding, AWARDED is terminal. Reopen is only allowed from CLOSED.
func ensureRFOTransition(old, new string) error {
	allowed := map[string][]string{
		domain.RFOStatusOpen:    {domain.RFOStatusClosed},
		domain.RFOStatusClosed:  {domain.RFOStatusAwarded, domain.RFOStatusOpen},
		domain.RFOStatusAwarded: {},
	}
	for _, next := range allowed[old] {
		if next == new {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, new)
}

// syncRFOFields reconciles the typed columns with the legacy constraints
// bag. Typed values win; resolved values are written back into the bag so
// readers of either surface agree.
func syncRFOFields(r *domain.RFO) {
	if r.Constraints == nil {
		r.Constraints = map[string]any{}
	}
	if r.BudgetMax == nil {
		if v, ok := asFloat(r.Constraints["budget_max"]); ok {
			r.BudgetMax = &v
		}
	}
	if r.BudgetMax != nil {
		r.Constraints["budget_max"] = *r.BudgetMax
	}
	if r.DeliveryDeadlineDays == nil {
		if v, ok := asFloat(r.Constraints["delivery_deadline_days"]); ok {
			d := int(v)
			r.DeliveryDeadlineDays = &d
		}
	}
	if r.DeliveryDeadlineDays != nil {
		r.Constraints["delivery_deadline_days"] = *r.DeliveryDeadlineDays
	}
	if r.Quantity == nil {
		if v, ok := asFloat(r.Constraints["quantity"]); ok {
			q := int(v)
			r.Quantity = &q
		}
	}
	if r.Quantity != nil {
		r.Constraints["quantity"] = *r.Quantity
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (e Engine) validateScoringProfile(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := e.profileTable()[name]; !ok {
		return ValidationError{Field: "scoring_profile", Reason: fmt.Sprintf("unknown profile %q", name)}
	}
	return nil
}

func validateWeights(weights map[string]any) error {
	for key, v := range weights {
		n, ok := asFloat(v)
		if !ok {
			return ValidationError{Field: "weights", Reason: fmt.Sprintf("%s must be a number", key)}
		}
		if n < 0 {
			return ValidationError{Field: "weights", Reason: fmt.Sprintf("%s must be non-negative", key)}
		}
	}
	return nil
}

func (e Engine) CreateRFO(ctx context.Context, r domain.RFO) (domain.RFO, error) {
	if r.Category == "" {
		return domain.RFO{}, ValidationError{Field: "category", Reason: "required"}
	}
	if r.BudgetMax != nil && *r.BudgetMax <= 0 {
		return domain.RFO{}, ValidationError{Field: "budget_max", Reason: "must be positive"}
	}
	if r.DeliveryDeadlineDays != nil && *r.DeliveryDeadlineDays <= 0 {
		return domain.RFO{}, ValidationError{Field: "delivery_deadline_days", Reason: "must be positive"}
	}
	if r.Quantity != nil && *r.Quantity <= 0 {
		return domain.RFO{}, ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	for i, item := range r.LineItems {
		if item.Qty <= 0 {
			return domain.RFO{}, ValidationError{Field: "line_items", Reason: fmt.Sprintf("item %d qty must be positive", i)}
		}
	}
	if err := e.validateScoringProfile(r.ScoringProfile); err != nil {
		return domain.RFO{}, err
	}
	if err := validateWeights(r.Weights); err != nil {
		return domain.RFO{}, err
	}
	syncRFOFields(&r)
	r.Status = domain.RFOStatusOpen
	r.StatusReason = ""
	if r.ScoringVersion == "" {
		r.ScoringVersion = "v1"
	}
	r.CreatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFO{}, err
	}
	defer tx.Rollback()
	if r.BuyerID != nil && e.Config != nil {
		if max := e.Config.RFOs.MaxPerBuyerPerMonth; max > 0 {
			n, err := e.Repo.CountUsageEventsSinceTx(ctx, tx, domain.OwnerKindBuyer, *r.BuyerID, "rfo.created", e.monthStart())
			if err != nil {
				return domain.RFO{}, err
			}
			if n >= max {
				return domain.RFO{}, fmt.Errorf("%w: at most %d rfos per month", ErrQuotaExceeded, max)
			}
		}
	}
	id, err := e.Repo.InsertRFOTx(ctx, tx, r)
	if err != nil {
		return domain.RFO{}, err
	}
	r.ID = id
	if err := e.Audit.Append(ctx, tx, "rfo", id, "created", audit.Metadata{"category": r.Category}); err != nil {
		return domain.RFO{}, err
	}
	if r.BuyerID != nil {
		usage := domain.UsageEvent{OwnerKind: domain.OwnerKindBuyer, OwnerID: *r.BuyerID, EventType: "rfo.created", CreatedAt: r.CreatedAt}
		if err := e.Repo.InsertUsageEventTx(ctx, tx, usage); err != nil {
			return domain.RFO{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.RFO{}, err
	}
	return r, nil
}

// RFOPatch carries the buyer-editable fields of an open RFO. Nil fields are
// left untouched.
type RFOPatch struct {
	Title                *string
	Summary              *string
	Category             *string
	Constraints          map[string]any
	Preferences          map[string]any
	LineItems            []domain.LineItem
	Compliance           map[string]any
	BudgetMax            *float64
	Currency             *string
	DeliveryDeadlineDays *int
	Quantity             *int
	Location             *string
	ExpiresAt            *string
}

// UpdateRFO patches an RFO while it is still OPEN. Only the owning buyer may
// edit; RFOs created without a buyer are editable by any buyer principal.
func (e Engine) UpdateRFO(ctx context.Context, id int64, actorBuyerID *int64, patch RFOPatch) (domain.RFO, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFO{}, err
	}
	defer tx.Rollback()
	rfo, err := e.Repo.GetRFOTx(ctx, tx, id)
	if err != nil {
		return domain.RFO{}, err
	}
	if rfo.BuyerID != nil && (actorBuyerID == nil || *actorBuyerID != *rfo.BuyerID) {
		return domain.RFO{}, fmt.Errorf("%w: rfo %d belongs to another buyer", ErrForbidden, id)
	}
	if rfo.Status != domain.RFOStatusOpen {
		return domain.RFO{}, fmt.Errorf("%w: rfo %d is %s", ErrRFONotOpen, id, rfo.Status)
	}

	set := map[string]bool{}
	if patch.Title != nil {
		rfo.Title = *patch.Title
		set["title"] = true
	}
	if patch.Summary != nil {
		rfo.Summary = *patch.Summary
		set["summary"] = true
	}
	if patch.Category != nil {
		if *patch.Category == "" {
			return domain.RFO{}, ValidationError{Field: "category", Reason: "required"}
		}
		rfo.Category = *patch.Category
		set["category"] = true
	}
	if patch.Constraints != nil {
		rfo.Constraints = patch.Constraints
		set["constraints"] = true
	}
	if patch.Preferences != nil {
		rfo.Preferences = patch.Preferences
		set["preferences"] = true
	}
	if patch.LineItems != nil {
		for i, item := range patch.LineItems {
			if item.Qty <= 0 {
				return domain.RFO{}, ValidationError{Field: "line_items", Reason: fmt.Sprintf("item %d qty must be positive", i)}
			}
		}
		rfo.LineItems = patch.LineItems
		set["line_items"] = true
	}
	if patch.Compliance != nil {
		rfo.Compliance = patch.Compliance
		set["compliance"] = true
	}
	if patch.BudgetMax != nil {
		if *patch.BudgetMax <= 0 {
			return domain.RFO{}, ValidationError{Field: "budget_max", Reason: "must be positive"}
		}
		rfo.BudgetMax = patch.BudgetMax
		set["budget_max"] = true
	}
	if patch.Currency != nil {
		rfo.Currency = *patch.Currency
		set["currency"] = true
	}
	if patch.DeliveryDeadlineDays != nil {
		if *patch.DeliveryDeadlineDays <= 0 {
			return domain.RFO{}, ValidationError{Field: "delivery_deadline_days", Reason: "must be positive"}
		}
		rfo.DeliveryDeadlineDays = patch.DeliveryDeadlineDays
		set["delivery_deadline_days"] = true
	}
	if patch.Quantity != nil {
		if *patch.Quantity <= 0 {
			return domain.RFO{}, ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		rfo.Quantity = patch.Quantity
		set["quantity"] = true
	}
	if patch.Location != nil {
		rfo.Location = *patch.Location
		set["location"] = true
	}
	if patch.ExpiresAt != nil {
		rfo.ExpiresAt = patch.ExpiresAt
		set["expires_at"] = true
	}
	if len(set) == 0 {
		return rfo, tx.Commit()
	}

	// Re-sync typed fields with the constraints bag after the patch.
	syncRFOFields(&rfo)
	set["constraints"] = true
	if rfo.BudgetMax != nil {
		set["budget_max"] = true
	}
	if rfo.DeliveryDeadlineDays != nil {
		set["delivery_deadline_days"] = true
	}
	if rfo.Quantity != nil {
		set["quantity"] = true
	}

	if err := e.Repo.UpdateRFOFieldsTx(ctx, tx, id, rfo, set); err != nil {
		return domain.RFO{}, err
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	if err := e.Audit.Append(ctx, tx, "rfo", id, "updated", audit.Metadata{"fields": fields}); err != nil {
		return domain.RFO{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RFO{}, err
	}
	return rfo, nil
}

func (e Engine) CloseRFO(ctx context.Context, id int64, actorBuyerID *int64, reason string) (domain.RFO, error) {
	return e.transitionRFO(ctx, id, actorBuyerID, domain.RFOStatusClosed, reason, nil, "closed", "rfo.closed")
}

// AwardRFO marks a CLOSED RFO as awarded. When offerID is non-nil it must
// reference an offer on this RFO; the offer is flagged awarded in the same
// transaction.
func (e Engine) AwardRFO(ctx context.Context, id int64, actorBuyerID *int64, offerID *int64, reason string) (domain.RFO, error) {
	return e.transitionRFO(ctx, id, actorBuyerID, domain.RFOStatusAwarded, reason, offerID, "awarded", "rfo.awarded")
}

func (e Engine) ReopenRFO(ctx context.Context, id int64, actorBuyerID *int64, reason string) (domain.RFO, error) {
	return e.transitionRFO(ctx, id, actorBuyerID, domain.RFOStatusOpen, reason, nil, "reopened", "rfo.reopened")
}

func (e Engine) transitionRFO(ctx context.Context, id int64, actorBuyerID *int64, newStatus, reason string, offerID *int64, action, eventType string) (domain.RFO, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFO{}, err
	}
	defer tx.Rollback()
	rfo, err := e.Repo.GetRFOTx(ctx, tx, id)
	if err != nil {
		return domain.RFO{}, err
	}
	if rfo.BuyerID != nil && actorBuyerID != nil && *actorBuyerID != *rfo.BuyerID {
		return domain.RFO{}, fmt.Errorf("%w: rfo %d belongs to another buyer", ErrForbidden, id)
	}
	if err := ensureRFOTransition(rfo.Status, newStatus); err != nil {
		return domain.RFO{}, err
	}

	var awarded *int64
	meta := audit.Metadata{"from": rfo.Status, "to": newStatus}
	if reason != "" {
		meta["reason"] = reason
	}
	if newStatus == domain.RFOStatusAwarded && offerID != nil {
		offer, err := e.Repo.GetOfferTx(ctx, tx, *offerID)
		if err != nil {
			return domain.RFO{}, err
		}
		if offer.RFOID != id {
			return domain.RFO{}, ValidationError{Field: "offer_id", Reason: fmt.Sprintf("offer %d does not belong to rfo %d", *offerID, id)}
		}
		if err := e.Repo.SetOfferAwardedTx(ctx, tx, *offerID); err != nil {
			return domain.RFO{}, err
		}
		awarded = offerID
		meta["offer_id"] = *offerID
		if fee, ok := expectedFee(rfo, offer); ok {
			meta["expected_fee"] = fee
		}
	}
	if newStatus == domain.RFOStatusOpen {
		// Reopen clears the reason left by the close.
		reason = ""
	}

	if err := e.Repo.SetRFOStatusTx(ctx, tx, id, newStatus, reason, awarded); err != nil {
		return domain.RFO{}, err
	}
	if err := e.Audit.Append(ctx, tx, "rfo", id, action, meta); err != nil {
		return domain.RFO{}, err
	}
	if err := e.broadcastToInterestedTx(ctx, tx, id, eventType, map[string]any{
		"rfo_id": id,
		"status": newStatus,
	}); err != nil {
		return domain.RFO{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RFO{}, err
	}
	rfo.Status = newStatus
	rfo.StatusReason = reason
	rfo.AwardedOfferID = awarded
	return rfo, nil
}

// expectedFee computes the platform fee recorded as settlement metadata on
// award: transaction_fee_percent of the winning price times the requested
// quantity. Absent the constraint there is no fee to record.
func expectedFee(rfo domain.RFO, offer domain.Offer) (float64, bool) {
	pct, ok := asFloat(rfo.Constraints["transaction_fee_percent"])
	if !ok || pct <= 0 {
		return 0, false
	}
	price := offer.PriceAmount
	if offer.UnitPrice != nil {
		price = *offer.UnitPrice
	}
	qty := 1
	if rfo.Quantity != nil && *rfo.Quantity > 0 {
		qty = *rfo.Quantity
	}
	return pct / 100 * price * float64(qty), true
}

// broadcastToInterestedTx queues one outbox event per vendor that has bid on
// the RFO. Vendors with no offers never hear about it.
func (e Engine) broadcastToInterestedTx(ctx context.Context, tx *sql.Tx, rfoID int64, eventType string, data map[string]any) error {
	vendorIDs, err := e.Repo.InterestedVendorIDsTx(ctx, tx, rfoID)
	if err != nil {
		return err
	}
	payload, err := outbox.Envelope(eventType, data)
	if err != nil {
		return err
	}
	now := e.nowString()
	for _, vendorID := range vendorIDs {
		evt := domain.OutboxEvent{
			VendorID:    vendorID,
			EventType:   eventType,
			PayloadJSON: payload,
			Status:      domain.OutboxStatusPending,
			CreatedAt:   now,
		}
		if _, err := e.Repo.InsertOutboxEventTx(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

// UpdateScoringConfig changes the scoring profile, explicit weights or
// scoring version of an RFO. It applies at any status, outside the lifecycle
// machine, so a buyer can retune a CLOSED RFO before awarding it. Rankings
// are computed on read, so the change applies immediately.
func (e Engine) UpdateScoringConfig(ctx context.Context, id int64, actorBuyerID *int64, profile *string, weights map[string]any, version *string) (domain.RFO, error) {
	if profile != nil {
		if err := e.validateScoringProfile(*profile); err != nil {
			return domain.RFO{}, err
		}
	}
	if err := validateWeights(weights); err != nil {
		return domain.RFO{}, err
	}
	if version != nil && *version == "" {
		return domain.RFO{}, ValidationError{Field: "scoring_version", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RFO{}, err
	}
	defer tx.Rollback()
	rfo, err := e.Repo.GetRFOTx(ctx, tx, id)
	if err != nil {
		return domain.RFO{}, err
	}
	if rfo.BuyerID != nil && (actorBuyerID == nil || *actorBuyerID != *rfo.BuyerID) {
		return domain.RFO{}, fmt.Errorf("%w: rfo %d belongs to another buyer", ErrForbidden, id)
	}
	newVersion := ""
	if version != nil {
		newVersion = *version
	}
	if err := e.Repo.UpdateScoringConfigTx(ctx, tx, id, profile, weights, newVersion); err != nil {
		return domain.RFO{}, err
	}
	meta := audit.Metadata{}
	if profile != nil {
		meta["scoring_profile"] = *profile
		rfo.ScoringProfile = *profile
	}
	if weights != nil {
		meta["weights"] = weights
		rfo.Weights = weights
	}
	if version != nil {
		meta["scoring_version"] = *version
		rfo.ScoringVersion = *version
	}
	if err := e.Audit.Append(ctx, tx, "rfo", id, "scoring_config_updated", meta); err != nil {
		return domain.RFO{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RFO{}, err
	}
	return rfo, nil
}

// expired reports whether ts (RFC3339) is in the past relative to the engine
// clock. Unparseable values are treated as not expired.
func (e Engine) expired(ts string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	return !e.Now().UTC().Before(t)
}
