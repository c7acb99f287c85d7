package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"intentbid/internal/audit"
	"intentbid/internal/domain"
	"intentbid/internal/outbox"
	"intentbid/internal/repo"
)

func validateOfferNumbers(o domain.Offer) error {
	if o.PriceAmount <= 0 {
		return ValidationError{Field: "price_amount", Reason: "must be positive"}
	}
	if o.UnitPrice != nil && *o.UnitPrice <= 0 {
		return ValidationError{Field: "unit_price", Reason: "must be positive"}
	}
	if o.DeliveryETADays <= 0 {
		return ValidationError{Field: "delivery_eta_days", Reason: "must be positive"}
	}
	if o.LeadTimeDays != nil && *o.LeadTimeDays <= 0 {
		return ValidationError{Field: "lead_time_days", Reason: "must be positive"}
	}
	if o.AvailableQty != nil && *o.AvailableQty < 0 {
		return ValidationError{Field: "available_qty", Reason: "must not be negative"}
	}
	if o.ShippingCost != nil && *o.ShippingCost < 0 {
		return ValidationError{Field: "shipping_cost", Reason: "must not be negative"}
	}
	if o.TaxEstimate != nil && *o.TaxEstimate < 0 {
		return ValidationError{Field: "tax_estimate", Reason: "must not be negative"}
	}
	if o.WarrantyMonths < 0 {
		return ValidationError{Field: "warranty_months", Reason: "must not be negative"}
	}
	if o.ReturnDays < 0 {
		return ValidationError{Field: "return_days", Reason: "must not be negative"}
	}
	return nil
}

// mirrorOfferFields keeps the legacy and current field pairs in step:
// unit_price with price_amount, lead_time_days with delivery_eta_days.
func mirrorOfferFields(o *domain.Offer) {
	if o.UnitPrice != nil {
		o.PriceAmount = *o.UnitPrice
	} else if o.PriceAmount > 0 {
		v := o.PriceAmount
		o.UnitPrice = &v
	}
	if o.LeadTimeDays != nil {
		o.DeliveryETADays = *o.LeadTimeDays
	} else {
		v := o.DeliveryETADays
		o.LeadTimeDays = &v
	}
}

// SubmitOffer validates and records a vendor's bid on an OPEN RFO, together
// with its usage event, audit row and outbox notification.
func (e Engine) SubmitOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	mirrorOfferFields(&o)
	if err := validateOfferNumbers(o); err != nil {
		return domain.Offer{}, err
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.ValidUntil != nil {
		if _, err := time.Parse(time.RFC3339, *o.ValidUntil); err != nil {
			return domain.Offer{}, ValidationError{Field: "valid_until", Reason: "must be an RFC3339 timestamp"}
		}
		if e.expired(*o.ValidUntil) {
			return domain.Offer{}, ValidationError{Field: "valid_until", Reason: "must be in the future"}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	rfo, err := e.Repo.GetRFOTx(ctx, tx, o.RFOID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Offer{}, fmt.Errorf("rfo %d: %w", o.RFOID, err)
		}
		return domain.Offer{}, err
	}
	if rfo.Status != domain.RFOStatusOpen {
		return domain.Offer{}, fmt.Errorf("%w: rfo %d is %s", ErrRFONotOpen, rfo.ID, rfo.Status)
	}
	if rfo.ExpiresAt != nil && e.expired(*rfo.ExpiresAt) {
		return domain.Offer{}, fmt.Errorf("%w: rfo %d expired", ErrRFONotOpen, rfo.ID)
	}

	vendor, err := e.Repo.GetVendorTx(ctx, tx, o.VendorID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Offer{}, fmt.Errorf("vendor %d: %w", o.VendorID, err)
		}
		return domain.Offer{}, err
	}
	if e.Config != nil && e.Config.Offers.RequireVerifiedVendorsForHardware &&
		e.isHardwareCategory(rfo.Category) && vendor.VerificationStatus != domain.VerificationVerified {
		return domain.Offer{}, fmt.Errorf("%w: category %s requires a verified vendor", ErrForbidden, rfo.Category)
	}

	if err := e.checkOfferLimitsTx(ctx, tx, rfo.ID, vendor.ID); err != nil {
		return domain.Offer{}, err
	}

	now := e.nowString()
	o.Status = domain.OfferStatusSubmitted
	o.IsAwarded = false
	o.OfferVersion = 1
	o.CreatedAt = now
	o.UpdatedAt = nil

	id, err := e.Repo.InsertOfferTx(ctx, tx, o)
	if err != nil {
		return domain.Offer{}, err
	}
	o.ID = id

	usage := domain.UsageEvent{OwnerKind: domain.OwnerKindVendor, OwnerID: o.VendorID, EventType: "offer.submitted", CreatedAt: now}
	if err := e.Repo.InsertUsageEventTx(ctx, tx, usage); err != nil {
		return domain.Offer{}, err
	}
	if err := e.Audit.Append(ctx, tx, "offer", id, "created", audit.Metadata{"rfo_id": o.RFOID, "vendor_id": o.VendorID}); err != nil {
		return domain.Offer{}, err
	}
	if err := e.enqueueVendorEventTx(ctx, tx, o.VendorID, "offer.created", map[string]any{
		"offer_id": id,
		"rfo_id":   o.RFOID,
	}); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// checkOfferLimitsTx enforces the per-RFO offer cap, the submit cooldown,
// and the monthly plan quota, in that order.
func (e Engine) checkOfferLimitsTx(ctx context.Context, tx *sql.Tx, rfoID, vendorID int64) error {
	if e.Config == nil {
		return nil
	}
	if max := e.Config.Offers.MaxPerVendorPerRFO; max > 0 {
		n, err := e.Repo.CountVendorOffersForRFOTx(ctx, tx, rfoID, vendorID)
		if err != nil {
			return err
		}
		if n >= max {
			return fmt.Errorf("%w: at most %d offers per rfo", ErrQuotaExceeded, max)
		}
	}
	if err := e.checkCooldownTx(ctx, tx, rfoID, vendorID); err != nil {
		return err
	}
	return e.checkMonthlyQuotaTx(ctx, tx, vendorID)
}

func (e Engine) checkCooldownTx(ctx context.Context, tx *sql.Tx, rfoID, vendorID int64) error {
	cooldown := time.Duration(e.Config.Offers.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		return nil
	}
	last, err := e.Repo.LastOfferActivityTx(ctx, tx, rfoID, vendorID)
	if err != nil {
		return err
	}
	if last == "" {
		return nil
	}
	lastAt, err := time.Parse(time.RFC3339, last)
	if err != nil {
		return nil
	}
	if elapsed := e.Now().UTC().Sub(lastAt); elapsed < cooldown {
		return fmt.Errorf("%w: wait %s between offers on the same rfo", ErrRateLimited, (cooldown - elapsed).Round(time.Second))
	}
	return nil
}

// checkMonthlyQuotaTx enforces the vendor's plan limit on submitted offers
// this calendar month. Vendors without an active subscription have no cap.
func (e Engine) checkMonthlyQuotaTx(ctx context.Context, tx *sql.Tx, vendorID int64) error {
	sub, err := e.Repo.GetSubscriptionTx(ctx, tx, vendorID)
	if err == repo.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != "active" {
		return nil
	}
	limit, err := e.Repo.GetPlanLimitTx(ctx, tx, sub.PlanCode)
	if err == repo.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if limit.MaxOffersPerMonth <= 0 {
		return nil
	}
	n, err := e.Repo.CountUsageEventsSinceTx(ctx, tx, domain.OwnerKindVendor, vendorID, "offer.submitted", e.monthStart())
	if err != nil {
		return err
	}
	if n >= limit.MaxOffersPerMonth {
		return fmt.Errorf("%w: plan %s allows %d offers per month", ErrQuotaExceeded, sub.PlanCode, limit.MaxOffersPerMonth)
	}
	return nil
}

// OfferPatch carries the vendor-editable fields of an offer. Nil fields are
// left untouched.
type OfferPatch struct {
	PriceAmount     *float64
	UnitPrice       *float64
	Currency        *string
	DeliveryETADays *int
	LeadTimeDays    *int
	AvailableQty    *int
	ShippingCost    *float64
	TaxEstimate     *float64
	Condition       *string
	Traceability    *domain.Traceability
	WarrantyMonths  *int
	ReturnDays      *int
	Stock           *bool
	Metadata        map[string]any
	ValidUntil      *string
}

// UpdateOffer revises an existing offer. The previous state is snapshotted
// as a revision at its old version before the new values land. Concurrent
// updates resolve last writer wins.
func (e Engine) UpdateOffer(ctx context.Context, offerID, actorVendorID int64, patch OfferPatch) (domain.Offer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	offer, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if offer.VendorID != actorVendorID {
		return domain.Offer{}, fmt.Errorf("%w: offer %d belongs to another vendor", ErrForbidden, offerID)
	}
	rfo, err := e.Repo.GetRFOTx(ctx, tx, offer.RFOID)
	if err != nil {
		return domain.Offer{}, err
	}
	if rfo.Status != domain.RFOStatusOpen {
		return domain.Offer{}, fmt.Errorf("%w: rfo %d is %s", ErrRFONotOpen, rfo.ID, rfo.Status)
	}
	if offer.ValidUntil != nil && e.expired(*offer.ValidUntil) {
		return domain.Offer{}, fmt.Errorf("%w: offer %d", ErrOfferExpired, offerID)
	}
	if err := e.checkCooldownTx(ctx, tx, offer.RFOID, offer.VendorID); err != nil {
		return domain.Offer{}, err
	}

	snapshot, err := json.Marshal(offer)
	if err != nil {
		return domain.Offer{}, err
	}
	now := e.nowString()
	rev := domain.OfferRevision{
		OfferID:      offer.ID,
		OfferVersion: offer.OfferVersion,
		SnapshotJSON: string(snapshot),
		CreatedAt:    now,
	}

	changed := applyOfferPatch(&offer, patch)
	if len(changed) == 0 {
		return offer, tx.Commit()
	}
	mirrorOfferFields(&offer)
	if err := validateOfferNumbers(offer); err != nil {
		return domain.Offer{}, err
	}
	if patch.AvailableQty != nil && *patch.AvailableQty <= 0 {
		return domain.Offer{}, ValidationError{Field: "available_qty", Reason: "must be positive"}
	}
	if patch.ValidUntil != nil {
		if _, err := time.Parse(time.RFC3339, *patch.ValidUntil); err != nil {
			return domain.Offer{}, ValidationError{Field: "valid_until", Reason: "must be an RFC3339 timestamp"}
		}
		if e.expired(*patch.ValidUntil) {
			return domain.Offer{}, ValidationError{Field: "valid_until", Reason: "must be in the future"}
		}
	}

	if err := e.Repo.InsertOfferRevisionTx(ctx, tx, rev); err != nil {
		return domain.Offer{}, err
	}
	offer.OfferVersion++
	offer.UpdatedAt = &now
	if err := e.Repo.UpdateOfferTx(ctx, tx, offer); err != nil {
		return domain.Offer{}, err
	}
	if err := e.Audit.Append(ctx, tx, "offer", offer.ID, "updated", audit.Metadata{
		"fields":  changed,
		"version": offer.OfferVersion,
	}); err != nil {
		return domain.Offer{}, err
	}
	if err := e.enqueueVendorEventTx(ctx, tx, offer.VendorID, "offer.updated", map[string]any{
		"offer_id": offer.ID,
		"rfo_id":   offer.RFOID,
		"version":  offer.OfferVersion,
	}); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}

func applyOfferPatch(o *domain.Offer, patch OfferPatch) []string {
	var changed []string
	if patch.PriceAmount != nil {
		o.PriceAmount = *patch.PriceAmount
		o.UnitPrice = patch.PriceAmount
		changed = append(changed, "price_amount")
	}
	if patch.UnitPrice != nil {
		o.UnitPrice = patch.UnitPrice
		changed = append(changed, "unit_price")
	}
	if patch.Currency != nil {
		o.Currency = *patch.Currency
		changed = append(changed, "currency")
	}
	if patch.DeliveryETADays != nil {
		o.DeliveryETADays = *patch.DeliveryETADays
		o.LeadTimeDays = patch.DeliveryETADays
		changed = append(changed, "delivery_eta_days")
	}
	if patch.LeadTimeDays != nil {
		o.LeadTimeDays = patch.LeadTimeDays
		changed = append(changed, "lead_time_days")
	}
	if patch.AvailableQty != nil {
		o.AvailableQty = patch.AvailableQty
		changed = append(changed, "available_qty")
	}
	if patch.ShippingCost != nil {
		o.ShippingCost = patch.ShippingCost
		changed = append(changed, "shipping_cost")
	}
	if patch.TaxEstimate != nil {
		o.TaxEstimate = patch.TaxEstimate
		changed = append(changed, "tax_estimate")
	}
	if patch.Condition != nil {
		o.Condition = *patch.Condition
		changed = append(changed, "condition")
	}
	if patch.Traceability != nil {
		o.Traceability = patch.Traceability
		changed = append(changed, "traceability")
	}
	if patch.WarrantyMonths != nil {
		o.WarrantyMonths = *patch.WarrantyMonths
		changed = append(changed, "warranty_months")
	}
	if patch.ReturnDays != nil {
		o.ReturnDays = *patch.ReturnDays
		changed = append(changed, "return_days")
	}
	if patch.Stock != nil {
		o.Stock = *patch.Stock
		changed = append(changed, "stock")
	}
	if patch.Metadata != nil {
		o.Metadata = patch.Metadata
		changed = append(changed, "metadata")
	}
	if patch.ValidUntil != nil {
		o.ValidUntil = patch.ValidUntil
		changed = append(changed, "valid_until")
	}
	return changed
}

func (e Engine) enqueueVendorEventTx(ctx context.Context, tx *sql.Tx, vendorID int64, eventType string, data map[string]any) error {
	payload, err := outbox.Envelope(eventType, data)
	if err != nil {
		return err
	}
	evt := domain.OutboxEvent{
		VendorID:    vendorID,
		EventType:   eventType,
		PayloadJSON: payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   e.nowString(),
	}
	_, err = e.Repo.InsertOutboxEventTx(ctx, tx, evt)
	return err
}
