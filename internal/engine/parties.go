package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"intentbid/internal/audit"
	"intentbid/internal/domain"
	"intentbid/internal/repo"
)

// newAPIKeySecret mints the plaintext credential handed back exactly once at
// registration. Only its hash is stored.
func newAPIKeySecret() string {
	return "ib_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// RegisterVendor creates a vendor with an API key. The returned secret is
// the only time the plaintext key is available.
func (e Engine) RegisterVendor(ctx context.Context, name string) (domain.Vendor, string, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Vendor{}, "", ValidationError{Field: "name", Reason: "required"}
	}
	now := e.nowString()
	v := domain.Vendor{
		Name:               strings.TrimSpace(name),
		VerificationStatus: domain.VerificationUnverified,
		CreatedAt:          now,
	}
	id, err := e.Repo.InsertVendor(ctx, v)
	if err != nil {
		return domain.Vendor{}, "", err
	}
	v.ID = id
	secret := newAPIKeySecret()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		OwnerKind: domain.OwnerKindVendor,
		OwnerID:   id,
		KeyHash:   repo.HashAPIKey(secret),
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.Vendor{}, "", err
	}
	return v, secret, nil
}

func (e Engine) RegisterBuyer(ctx context.Context, name string) (domain.Buyer, string, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Buyer{}, "", ValidationError{Field: "name", Reason: "required"}
	}
	now := e.nowString()
	b := domain.Buyer{Name: strings.TrimSpace(name), CreatedAt: now}
	id, err := e.Repo.InsertBuyer(ctx, b)
	if err != nil {
		return domain.Buyer{}, "", err
	}
	b.ID = id
	secret := newAPIKeySecret()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		OwnerKind: domain.OwnerKindBuyer,
		OwnerID:   id,
		KeyHash:   repo.HashAPIKey(secret),
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.Buyer{}, "", err
	}
	return b, secret, nil
}

// RotateAPIKey revokes every active key of the owner and mints a
// replacement. As at registration, the plaintext is returned exactly once.
func (e Engine) RotateAPIKey(ctx context.Context, ownerKind string, ownerID int64) (string, error) {
	keys, err := e.Repo.ListAPIKeysByOwner(ctx, ownerKind, ownerID)
	if err != nil {
		return "", err
	}
	now := e.nowString()
	for _, k := range keys {
		if k.Status != domain.KeyStatusActive {
			continue
		}
		if err := e.Repo.RevokeAPIKey(ctx, k.ID, now); err != nil && err != repo.ErrNotFound {
			return "", err
		}
	}
	secret := newAPIKeySecret()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		OwnerKind: ownerKind,
		OwnerID:   ownerID,
		KeyHash:   repo.HashAPIKey(secret),
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", err
	}
	return secret, nil
}

// RequestVerification moves a vendor to PENDING so an admin can review it.
func (e Engine) RequestVerification(ctx context.Context, vendorID int64) (domain.Vendor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vendor{}, err
	}
	defer tx.Rollback()
	v, err := e.Repo.GetVendorTx(ctx, tx, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	if v.VerificationStatus == domain.VerificationVerified {
		return v, tx.Commit()
	}
	if err := e.Repo.SetVendorVerificationTx(ctx, tx, vendorID, domain.VerificationPending, v.VerificationNotes, nil); err != nil {
		return domain.Vendor{}, err
	}
	if err := e.Audit.Append(ctx, tx, "vendor", vendorID, "verification_requested", nil); err != nil {
		return domain.Vendor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vendor{}, err
	}
	v.VerificationStatus = domain.VerificationPending
	return v, nil
}

// SetVendorVerification is the admin review decision. Moving to VERIFIED
// stamps verified_at and notifies the vendor's webhooks.
func (e Engine) SetVendorVerification(ctx context.Context, vendorID int64, status, notes string) (domain.Vendor, error) {
	switch status {
	case domain.VerificationUnverified, domain.VerificationPending, domain.VerificationVerified:
	default:
		return domain.Vendor{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vendor{}, err
	}
	defer tx.Rollback()
	v, err := e.Repo.GetVendorTx(ctx, tx, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	var verifiedAt *string
	if status == domain.VerificationVerified {
		now := e.nowString()
		verifiedAt = &now
	}
	if err := e.Repo.SetVendorVerificationTx(ctx, tx, vendorID, status, notes, verifiedAt); err != nil {
		return domain.Vendor{}, err
	}
	if err := e.Audit.Append(ctx, tx, "vendor", vendorID, "verification_set", audit.Metadata{
		"from": v.VerificationStatus,
		"to":   status,
	}); err != nil {
		return domain.Vendor{}, err
	}
	if status == domain.VerificationVerified {
		if err := e.enqueueVendorEventTx(ctx, tx, vendorID, "vendor.verified", map[string]any{
			"vendor_id": vendorID,
		}); err != nil {
			return domain.Vendor{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Vendor{}, err
	}
	v.VerificationStatus = status
	v.VerificationNotes = notes
	v.VerifiedAt = verifiedAt
	return v, nil
}

// RegisterWebhook stores a delivery endpoint with a freshly minted signing
// secret. The secret is returned once and never exposed again.
func (e Engine) RegisterWebhook(ctx context.Context, vendorID int64, url string) (domain.VendorWebhook, error) {
	if strings.TrimSpace(url) == "" {
		return domain.VendorWebhook{}, ValidationError{Field: "url", Reason: "required"}
	}
	if _, err := e.Repo.GetVendor(ctx, vendorID); err != nil {
		return domain.VendorWebhook{}, err
	}
	w := domain.VendorWebhook{
		VendorID:  vendorID,
		URL:       strings.TrimSpace(url),
		Secret:    strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", ""),
		IsActive:  true,
		CreatedAt: e.nowString(),
	}
	id, err := e.Repo.InsertWebhook(ctx, w)
	if err != nil {
		return domain.VendorWebhook{}, err
	}
	w.ID = id
	return w, nil
}

// Match pairs an open RFO with the profile attributes that matched it.
type Match struct {
	RFO     domain.RFO `json:"rfo"`
	Reasons []string   `json:"reasons"`
}

// MatchFeed lists OPEN RFOs in the vendor's profiled categories, filtered by
// region when both sides declare one.
func (e Engine) MatchFeed(ctx context.Context, vendorID int64, limit int) ([]Match, error) {
	profile, err := e.Repo.GetVendorProfile(ctx, vendorID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	rfos, err := e.Repo.ListOpenRFOsByCategories(ctx, profile.Categories, limit)
	if err != nil {
		return nil, err
	}
	regions := make(map[string]bool, len(profile.Regions))
	for _, r := range profile.Regions {
		regions[strings.ToLower(r)] = true
	}
	var matched []Match
	for _, rfo := range rfos {
		reasons := []string{"category:" + rfo.Category}
		if rfo.Location != "" && len(regions) > 0 {
			if !regions[strings.ToLower(rfo.Location)] {
				continue
			}
			reasons = append(reasons, "region:"+rfo.Location)
		}
		matched = append(matched, Match{RFO: rfo, Reasons: reasons})
	}
	return matched, nil
}

// Usage is the current month's billing view of one account. Plan is set for
// vendors with an active subscription whose plan carries an offer cap.
type Usage struct {
	Counts map[string]int `json:"counts"`
	Plan   *PlanUsage     `json:"plan,omitempty"`
}

type PlanUsage struct {
	PlanCode string `json:"plan_code"`
	Used     int    `json:"used"`
	Limit    int    `json:"limit"`
}

// UsageSummary reports this month's billed event counts for one owner.
func (e Engine) UsageSummary(ctx context.Context, ownerKind string, ownerID int64) (Usage, error) {
	counts, err := e.Repo.UsageByTypeSince(ctx, ownerKind, ownerID, e.monthStart())
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{Counts: counts}
	if ownerKind != domain.OwnerKindVendor {
		return usage, nil
	}
	sub, err := e.Repo.GetSubscription(ctx, ownerID)
	if err == repo.ErrNotFound {
		return usage, nil
	}
	if err != nil {
		return Usage{}, err
	}
	if sub.Status != "active" {
		return usage, nil
	}
	limit, err := e.Repo.GetPlanLimit(ctx, sub.PlanCode)
	if err == repo.ErrNotFound {
		return usage, nil
	}
	if err != nil {
		return Usage{}, err
	}
	usage.Plan = &PlanUsage{
		PlanCode: sub.PlanCode,
		Used:     counts["offer.submitted"],
		Limit:    limit.MaxOffersPerMonth,
	}
	return usage, nil
}
