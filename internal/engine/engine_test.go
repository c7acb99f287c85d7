package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"intentbid/internal/config"
	"intentbid/internal/db"
	"intentbid/internal/domain"
	"intentbid/internal/engine"
	"intentbid/internal/migrate"
	"intentbid/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.Default()
	cfg.Offers.RequireVerifiedVendorsForHardware = false
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	eng.Audit.Now = eng.Now
	return &testEnv{Engine: eng, Ctx: context.Background(), now: &now}
}

func (env *testEnv) vendor(t *testing.T, name string) domain.Vendor {
	t.Helper()
	v, _, err := env.Engine.RegisterVendor(env.Ctx, name)
	if err != nil {
		t.Fatalf("register vendor: %v", err)
	}
	return v
}

func (env *testEnv) buyer(t *testing.T, name string) domain.Buyer {
	t.Helper()
	b, _, err := env.Engine.RegisterBuyer(env.Ctx, name)
	if err != nil {
		t.Fatalf("register buyer: %v", err)
	}
	return b
}

func (env *testEnv) openRFO(t *testing.T, buyerID int64) domain.RFO {
	t.Helper()
	budget := 1000.0
	deadline := 10
	rfo, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{
		BuyerID:              &buyerID,
		Category:             "memory",
		Title:                "DDR5 modules",
		BudgetMax:            &budget,
		DeliveryDeadlineDays: &deadline,
	})
	if err != nil {
		t.Fatalf("create rfo: %v", err)
	}
	return rfo
}

func (env *testEnv) submit(t *testing.T, rfoID, vendorID int64, price float64, etaDays int) domain.Offer {
	t.Helper()
	offer, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{
		RFOID:           rfoID,
		VendorID:        vendorID,
		PriceAmount:     price,
		Currency:        "USD",
		DeliveryETADays: etaDays,
		WarrantyMonths:  12,
		Stock:           true,
	})
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	return offer
}

func TestRFOLifecycle(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	rfo := env.openRFO(t, buyer.ID)
	if rfo.Status != domain.RFOStatusOpen {
		t.Fatalf("new rfo status = %s", rfo.Status)
	}

	// AWARD straight from OPEN must fail.
	if _, err := env.Engine.AwardRFO(env.Ctx, rfo.ID, &buyer.ID, nil, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("award open rfo: %v", err)
	}

	closed, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, "bidding over")
	if err != nil || closed.Status != domain.RFOStatusClosed {
		t.Fatalf("close: %v status=%s", err, closed.Status)
	}
	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("double close: %v", err)
	}

	reopened, err := env.Engine.ReopenRFO(env.Ctx, rfo.ID, &buyer.ID, "")
	if err != nil || reopened.Status != domain.RFOStatusOpen {
		t.Fatalf("reopen: %v status=%s", err, reopened.Status)
	}
	if reopened.StatusReason != "" {
		t.Fatalf("reopen kept reason %q", reopened.StatusReason)
	}

	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	awarded, err := env.Engine.AwardRFO(env.Ctx, rfo.ID, &buyer.ID, nil, "best value")
	if err != nil || awarded.Status != domain.RFOStatusAwarded {
		t.Fatalf("award: %v status=%s", err, awarded.Status)
	}
	// AWARDED is terminal.
	if _, err := env.Engine.ReopenRFO(env.Ctx, rfo.ID, &buyer.ID, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("reopen awarded: %v", err)
	}
}

func TestAwardMarksOffer(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)
	offer := env.submit(t, rfo.ID, vendor.ID, 500, 5)

	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	awarded, err := env.Engine.AwardRFO(env.Ctx, rfo.ID, &buyer.ID, &offer.ID, "")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if awarded.AwardedOfferID == nil || *awarded.AwardedOfferID != offer.ID {
		t.Fatalf("awarded_offer_id = %v", awarded.AwardedOfferID)
	}
	got, err := env.Engine.Repo.GetOffer(env.Ctx, offer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OfferStatusAwarded || !got.IsAwarded {
		t.Fatalf("offer status=%s is_awarded=%v", got.Status, got.IsAwarded)
	}
}

func TestAwardRejectsForeignOffer(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfoA := env.openRFO(t, buyer.ID)
	rfoB := env.openRFO(t, buyer.ID)
	offerB := env.submit(t, rfoB.ID, vendor.ID, 500, 5)

	if _, err := env.Engine.CloseRFO(env.Ctx, rfoA.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.AwardRFO(env.Ctx, rfoA.ID, &buyer.ID, &offerB.ID, ""); !errors.As(err, &verr) {
		t.Fatalf("award foreign offer: %v", err)
	}
}

func TestCreateRFOSyncsConstraints(t *testing.T) {
	env := newTestEnv(t)
	rfo, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{
		Category:    "gpu",
		Constraints: map[string]any{"budget_max": 2000.0, "delivery_deadline_days": 7.0},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rfo.BudgetMax == nil || *rfo.BudgetMax != 2000 {
		t.Fatalf("budget_max = %v", rfo.BudgetMax)
	}
	if rfo.DeliveryDeadlineDays == nil || *rfo.DeliveryDeadlineDays != 7 {
		t.Fatalf("delivery_deadline_days = %v", rfo.DeliveryDeadlineDays)
	}

	// Typed fields win and are written back into the bag.
	budget := 500.0
	rfo2, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{
		Category:    "gpu",
		BudgetMax:   &budget,
		Constraints: map[string]any{"budget_max": 9999.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := rfo2.Constraints["budget_max"].(float64); got != 500 {
		t.Fatalf("constraints budget_max = %v", rfo2.Constraints["budget_max"])
	}
}

func TestCreateRFOUnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	_, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{Category: "gpu", ScoringProfile: "weird"})
	if !errors.As(err, &verr) || verr.Field != "scoring_profile" {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmitOfferGuards(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)

	// Non-positive price.
	var verr engine.ValidationError
	_, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, DeliveryETADays: 5, Stock: true})
	if !errors.As(err, &verr) || verr.Field != "price_amount" {
		t.Fatalf("zero price: %v", err)
	}

	// Lead times must be strictly positive, so a zero ETA is rejected too.
	_, err = env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 100, Stock: true})
	if !errors.As(err, &verr) || verr.Field != "delivery_eta_days" {
		t.Fatalf("zero eta: %v", err)
	}
	zero := 0
	_, err = env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 100, DeliveryETADays: 5, LeadTimeDays: &zero, Stock: true})
	if !errors.As(err, &verr) || verr.Field != "lead_time_days" {
		t.Fatalf("zero lead time: %v", err)
	}

	// Closed RFO stops accepting offers.
	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 100, DeliveryETADays: 5, Stock: true})
	if !errors.Is(err, engine.ErrRFONotOpen) {
		t.Fatalf("closed rfo: %v", err)
	}
}

func TestSubmitOfferCooldown(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)

	env.submit(t, rfo.ID, vendor.ID, 500, 5)
	_, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 490, DeliveryETADays: 5, Stock: true})
	if !errors.Is(err, engine.ErrRateLimited) {
		t.Fatalf("inside cooldown: %v", err)
	}
	env.advance(2 * time.Minute)
	env.submit(t, rfo.ID, vendor.ID, 490, 5)
}

func TestSubmitOfferPerRFOCap(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)

	for i := 0; i < env.Engine.Config.Offers.MaxPerVendorPerRFO; i++ {
		env.submit(t, rfo.ID, vendor.ID, 500-float64(i), 5)
	}
	_, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 100, DeliveryETADays: 5, Stock: true})
	if !errors.Is(err, engine.ErrQuotaExceeded) {
		t.Fatalf("over cap: %v", err)
	}
}

func TestSubmitOfferHardwareVerification(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.RequireVerifiedVendorsForHardware = true
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID) // category "memory" is hardware

	_, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 100, DeliveryETADays: 5, Stock: true})
	if !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("unverified vendor: %v", err)
	}
	if _, err := env.Engine.SetVendorVerification(env.Ctx, vendor.ID, domain.VerificationVerified, "checked"); err != nil {
		t.Fatal(err)
	}
	env.submit(t, rfo.ID, vendor.ID, 100, 5)
}

func TestSubmitOfferMonthlyQuota(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	env.Engine.Config.Offers.MaxPerVendorPerRFO = 100
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)

	if err := env.Engine.Repo.UpsertPlanLimit(env.Ctx, domain.PlanLimit{PlanCode: "starter", MaxOffersPerMonth: 2}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpsertSubscription(env.Ctx, domain.Subscription{VendorID: vendor.ID, PlanCode: "starter", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	env.submit(t, rfo.ID, vendor.ID, 500, 5)
	env.submit(t, rfo.ID, vendor.ID, 490, 5)
	_, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 480, DeliveryETADays: 5, Stock: true})
	if !errors.Is(err, engine.ErrQuotaExceeded) {
		t.Fatalf("over monthly quota: %v", err)
	}
}

func TestUpdateOfferRevisionAndVersion(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)
	offer := env.submit(t, rfo.ID, vendor.ID, 500, 5)

	env.advance(2 * time.Minute)
	newPrice := 450.0
	updated, err := env.Engine.UpdateOffer(env.Ctx, offer.ID, vendor.ID, engine.OfferPatch{PriceAmount: &newPrice})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.OfferVersion != 2 {
		t.Fatalf("version = %d", updated.OfferVersion)
	}
	if updated.PriceAmount != 450 || updated.UnitPrice == nil || *updated.UnitPrice != 450 {
		t.Fatalf("price mirror: amount=%v unit=%v", updated.PriceAmount, updated.UnitPrice)
	}
	if updated.UpdatedAt == nil {
		t.Fatal("updated_at not set")
	}

	revs, err := env.Engine.Repo.ListOfferRevisions(env.Ctx, offer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 1 || revs[0].OfferVersion != 1 {
		t.Fatalf("revisions = %+v", revs)
	}
	var snapshot domain.Offer
	if err := json.Unmarshal([]byte(revs[0].SnapshotJSON), &snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.PriceAmount != 500 {
		t.Fatalf("snapshot price = %v", snapshot.PriceAmount)
	}
}

func TestUpdateOfferGuards(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	other := env.vendor(t, "other")
	rfo := env.openRFO(t, buyer.ID)
	offer := env.submit(t, rfo.ID, vendor.ID, 500, 5)
	env.advance(2 * time.Minute)

	price := 450.0
	if _, err := env.Engine.UpdateOffer(env.Ctx, offer.ID, other.ID, engine.OfferPatch{PriceAmount: &price}); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("foreign vendor: %v", err)
	}

	// An update cannot zero out the available quantity.
	noQty := 0
	var verr engine.ValidationError
	if _, err := env.Engine.UpdateOffer(env.Ctx, offer.ID, vendor.ID, engine.OfferPatch{AvailableQty: &noQty}); !errors.As(err, &verr) || verr.Field != "available_qty" {
		t.Fatalf("zero qty: %v", err)
	}

	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateOffer(env.Ctx, offer.ID, vendor.ID, engine.OfferPatch{PriceAmount: &price}); !errors.Is(err, engine.ErrRFONotOpen) {
		t.Fatalf("closed rfo: %v", err)
	}
}

func TestUpdateExpiredOffer(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)
	validUntil := env.Engine.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	offer, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{
		RFOID: rfo.ID, VendorID: vendor.ID, PriceAmount: 500, DeliveryETADays: 5,
		Stock: true, ValidUntil: &validUntil,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.advance(2 * time.Hour)
	price := 450.0
	if _, err := env.Engine.UpdateOffer(env.Ctx, offer.ID, vendor.ID, engine.OfferPatch{PriceAmount: &price}); !errors.Is(err, engine.ErrOfferExpired) {
		t.Fatalf("expired offer: %v", err)
	}
}

func TestRankOrderAndPenalties(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	v1 := env.vendor(t, "cheap")
	v2 := env.vendor(t, "fast")
	v3 := env.vendor(t, "dud")
	rfo := env.openRFO(t, buyer.ID)

	cheap := env.submit(t, rfo.ID, v1.ID, 200, 9)
	fast := env.submit(t, rfo.ID, v2.ID, 900, 1)
	dud, err := env.Engine.SubmitOffer(env.Ctx, domain.Offer{
		RFOID: rfo.ID, VendorID: v3.ID, PriceAmount: 100, DeliveryETADays: 1, Stock: false,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, ranked, err := env.Engine.RankOffers(env.Ctx, rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 3 {
		t.Fatalf("ranked %d offers", len(ranked))
	}
	// Out of stock is zeroed and sinks to the bottom.
	if ranked[2].Offer.ID != dud.ID || ranked[2].Score != 0 {
		t.Fatalf("bottom = offer %d score %v", ranked[2].Offer.ID, ranked[2].Score)
	}
	if len(ranked[2].Explain.Penalties) == 0 {
		t.Fatal("zeroed offer carries no penalty")
	}
	// Default weights favor price: the cheap offer wins.
	if ranked[0].Offer.ID != cheap.ID {
		t.Fatalf("top = offer %d, want %d", ranked[0].Offer.ID, cheap.ID)
	}

	_, best, err := env.Engine.BestOffers(env.Ctx, rfo.ID, 2)
	if err != nil || len(best) != 2 || best[0].Offer.ID != cheap.ID {
		t.Fatalf("best: %v %+v", err, best)
	}
	_ = fast
}

func TestRankTieKeepsSubmissionOrder(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	v1 := env.vendor(t, "a")
	v2 := env.vendor(t, "b")
	rfo, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{BuyerID: &buyer.ID, Category: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	// No budget and no deadline: both offers score on warranty only, equally.
	// The pricier offer was submitted first and must stay first.
	a := env.submit(t, rfo.ID, v1.ID, 300, 5)
	b := env.submit(t, rfo.ID, v2.ID, 200, 5)
	_, ranked, err := env.Engine.RankOffers(env.Ctx, rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Score != ranked[1].Score {
		t.Fatalf("scores differ: %v vs %v", ranked[0].Score, ranked[1].Score)
	}
	if ranked[0].Offer.ID != a.ID || ranked[1].Offer.ID != b.ID {
		t.Fatalf("tie order: %d then %d, want %d then %d", ranked[0].Offer.ID, ranked[1].Offer.ID, a.ID, b.ID)
	}
}

func TestBestOffersEmptyAndMissing(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	rfo := env.openRFO(t, buyer.ID)
	_, best, err := env.Engine.BestOffers(env.Ctx, rfo.ID, 3)
	if err != nil {
		t.Fatalf("best of empty: %v", err)
	}
	if len(best) != 0 {
		t.Fatalf("best of empty = %+v", best)
	}
	if _, _, err := env.Engine.BestOffers(env.Ctx, 9999, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("best of missing rfo: %v", err)
	}
}

func TestLifecycleBroadcastReachesBiddersOnly(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	bidder := env.vendor(t, "bidder")
	bystander := env.vendor(t, "bystander")
	rfo := env.openRFO(t, buyer.ID)
	env.submit(t, rfo.ID, bidder.ID, 500, 5)

	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, "done"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.ListOutboxByVendor(env.Ctx, bidder.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	var closedEvents int
	for _, evt := range events {
		if evt.EventType == "rfo.closed" {
			closedEvents++
		}
	}
	if closedEvents != 1 {
		t.Fatalf("bidder got %d rfo.closed events", closedEvents)
	}
	events, err = env.Engine.Repo.ListOutboxByVendor(env.Ctx, bystander.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("bystander got %d events", len(events))
	}
}

func TestUpdateRFOOwnership(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	intruder := env.buyer(t, "rival")
	rfo := env.openRFO(t, buyer.ID)

	title := "new title"
	if _, err := env.Engine.UpdateRFO(env.Ctx, rfo.ID, &intruder.ID, engine.RFOPatch{Title: &title}); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("foreign buyer: %v", err)
	}
	updated, err := env.Engine.UpdateRFO(env.Ctx, rfo.ID, &buyer.ID, engine.RFOPatch{Title: &title})
	if err != nil || updated.Title != "new title" {
		t.Fatalf("owner update: %v title=%q", err, updated.Title)
	}

	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateRFO(env.Ctx, rfo.ID, &buyer.ID, engine.RFOPatch{Title: &title}); !errors.Is(err, engine.ErrRFONotOpen) {
		t.Fatalf("closed rfo: %v", err)
	}
}

func TestUpdateScoringConfigAffectsRanking(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	cheapVendor := env.vendor(t, "cheap")
	fastVendor := env.vendor(t, "fast")
	rfo := env.openRFO(t, buyer.ID)
	cheap := env.submit(t, rfo.ID, cheapVendor.ID, 100, 9)
	fast := env.submit(t, rfo.ID, fastVendor.ID, 950, 1)

	profile := "fastest"
	if _, err := env.Engine.UpdateScoringConfig(env.Ctx, rfo.ID, &buyer.ID, &profile, nil, nil); err != nil {
		t.Fatal(err)
	}
	_, ranked, err := env.Engine.RankOffers(env.Ctx, rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Offer.ID != fast.ID {
		t.Fatalf("fastest profile top = %d, want %d", ranked[0].Offer.ID, fast.ID)
	}
	if ranked[0].Explain.Weights.Delivery != 0.6 {
		t.Fatalf("delivery weight = %v", ranked[0].Explain.Weights.Delivery)
	}

	// Explicit weights override the profile.
	if _, err := env.Engine.UpdateScoringConfig(env.Ctx, rfo.ID, &buyer.ID, nil, map[string]any{"price": 1.0}, nil); err != nil {
		t.Fatal(err)
	}
	_, ranked, err = env.Engine.RankOffers(env.Ctx, rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Offer.ID != cheap.ID {
		t.Fatalf("price weights top = %d, want %d", ranked[0].Offer.ID, cheap.ID)
	}
}

func TestUpdateScoringConfigOnClosedRFO(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	rfo := env.openRFO(t, buyer.ID)
	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, ""); err != nil {
		t.Fatal(err)
	}

	// Retuning is allowed after close so the buyer can re-rank before awarding.
	profile := "cheapest"
	version := "v2"
	updated, err := env.Engine.UpdateScoringConfig(env.Ctx, rfo.ID, &buyer.ID, &profile, nil, &version)
	if err != nil {
		t.Fatalf("retune closed rfo: %v", err)
	}
	if updated.ScoringProfile != "cheapest" || updated.ScoringVersion != "v2" {
		t.Fatalf("profile=%q version=%q", updated.ScoringProfile, updated.ScoringVersion)
	}
	stored, err := env.Engine.Repo.GetRFO(env.Ctx, rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ScoringVersion != "v2" {
		t.Fatalf("stored version = %q", stored.ScoringVersion)
	}

	empty := ""
	var verr engine.ValidationError
	if _, err := env.Engine.UpdateScoringConfig(env.Ctx, rfo.ID, &buyer.ID, nil, nil, &empty); !errors.As(err, &verr) || verr.Field != "scoring_version" {
		t.Fatalf("empty version: %v", err)
	}
}

func TestVendorVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	vendor := env.vendor(t, "supplier")
	if vendor.VerificationStatus != domain.VerificationUnverified {
		t.Fatalf("initial status = %s", vendor.VerificationStatus)
	}
	pending, err := env.Engine.RequestVerification(env.Ctx, vendor.ID)
	if err != nil || pending.VerificationStatus != domain.VerificationPending {
		t.Fatalf("request: %v status=%s", err, pending.VerificationStatus)
	}
	verified, err := env.Engine.SetVendorVerification(env.Ctx, vendor.ID, domain.VerificationVerified, "docs ok")
	if err != nil || verified.VerificationStatus != domain.VerificationVerified {
		t.Fatalf("verify: %v status=%s", err, verified.VerificationStatus)
	}
	if verified.VerifiedAt == nil {
		t.Fatal("verified_at not stamped")
	}
}

func TestRegisterVendorKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	v, secret, err := env.Engine.RegisterVendor(env.Ctx, "supplier")
	if err != nil {
		t.Fatal(err)
	}
	key, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if key.OwnerKind != domain.OwnerKindVendor || key.OwnerID != v.ID {
		t.Fatalf("key owner = %s/%d", key.OwnerKind, key.OwnerID)
	}
}

func TestRotateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	v, oldSecret, err := env.Engine.RegisterVendor(env.Ctx, "supplier")
	if err != nil {
		t.Fatal(err)
	}
	newSecret, err := env.Engine.RotateAPIKey(env.Ctx, domain.OwnerKindVendor, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newSecret == oldSecret {
		t.Fatal("rotation returned the old secret")
	}
	old, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(oldSecret))
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != domain.KeyStatusRevoked || old.RevokedAt == nil {
		t.Fatalf("old key = %+v", old)
	}
	fresh, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(newSecret))
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != domain.KeyStatusActive || fresh.OwnerID != v.ID {
		t.Fatalf("new key = %+v", fresh)
	}
}

func TestCreateRFOMonthlyQuota(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.RFOs.MaxPerBuyerPerMonth = 2
	buyer := env.buyer(t, "acme")

	env.openRFO(t, buyer.ID)
	env.openRFO(t, buyer.ID)
	_, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{BuyerID: &buyer.ID, Category: "memory"})
	if !errors.Is(err, engine.ErrQuotaExceeded) {
		t.Fatalf("err = %v", err)
	}

	// RFOs without a buyer are not metered.
	if _, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{Category: "memory"}); err != nil {
		t.Fatalf("anonymous rfo: %v", err)
	}
}

func TestMatchFeed(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	if err := env.Engine.Repo.UpsertVendorProfile(env.Ctx, domain.VendorProfile{
		VendorID:   vendor.ID,
		Categories: []string{"memory"},
		Regions:    []string{"EU"},
	}); err != nil {
		t.Fatal(err)
	}

	matching := env.openRFO(t, buyer.ID) // memory, no location
	located, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{BuyerID: &buyer.ID, Category: "memory", Location: "US"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{BuyerID: &buyer.ID, Category: "gpu"}); err != nil {
		t.Fatal(err)
	}

	feed, err := env.Engine.MatchFeed(env.Ctx, vendor.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].RFO.ID != matching.ID {
		t.Fatalf("feed = %+v", feed)
	}
	if len(feed[0].Reasons) != 1 || feed[0].Reasons[0] != "category:memory" {
		t.Fatalf("reasons = %v", feed[0].Reasons)
	}
	_ = located

	euRFO, err := env.Engine.CreateRFO(env.Ctx, domain.RFO{BuyerID: &buyer.ID, Category: "memory", Location: "EU"})
	if err != nil {
		t.Fatal(err)
	}
	feed, err = env.Engine.MatchFeed(env.Ctx, vendor.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed = %+v", feed)
	}
	for _, m := range feed {
		if m.RFO.ID != euRFO.ID {
			continue
		}
		if len(m.Reasons) != 2 || m.Reasons[1] != "region:EU" {
			t.Fatalf("located reasons = %v", m.Reasons)
		}
	}
}

func TestUsageSummary(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Offers.CooldownSeconds = 0
	buyer := env.buyer(t, "acme")
	vendor := env.vendor(t, "supplier")
	rfo := env.openRFO(t, buyer.ID)
	env.submit(t, rfo.ID, vendor.ID, 500, 5)
	env.submit(t, rfo.ID, vendor.ID, 490, 5)

	summary, err := env.Engine.UsageSummary(env.Ctx, domain.OwnerKindVendor, vendor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Counts["offer.submitted"] != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Plan != nil {
		t.Fatalf("plan reported without a subscription: %+v", summary.Plan)
	}
	buyerSummary, err := env.Engine.UsageSummary(env.Ctx, domain.OwnerKindBuyer, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if buyerSummary.Counts["rfo.created"] != 1 {
		t.Fatalf("buyer summary = %+v", buyerSummary)
	}

	if err := env.Engine.Repo.UpsertPlanLimit(env.Ctx, domain.PlanLimit{PlanCode: "starter", MaxOffersPerMonth: 10}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpsertSubscription(env.Ctx, domain.Subscription{VendorID: vendor.ID, PlanCode: "starter", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	summary, err = env.Engine.UsageSummary(env.Ctx, domain.OwnerKindVendor, vendor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Plan == nil || summary.Plan.PlanCode != "starter" || summary.Plan.Used != 2 || summary.Plan.Limit != 10 {
		t.Fatalf("plan = %+v", summary.Plan)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.buyer(t, "acme")
	rfo := env.openRFO(t, buyer.ID)
	if _, err := env.Engine.CloseRFO(env.Ctx, rfo.ID, &buyer.ID, "done"); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.ListAuditByEntity(env.Ctx, "rfo", rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Action != "created" || entries[1].Action != "closed" {
		t.Fatalf("audit = %+v", entries)
	}
}
