package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"intentbid/internal/config"
	"intentbid/internal/db"
	"intentbid/internal/domain"
	"intentbid/internal/engine"
	"intentbid/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Offers.RequireVerifiedVendorsForHardware = false
	cfg.Offers.CooldownSeconds = 0
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func registerParty(t *testing.T, srv *testServer, kind, name string) (int64, string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/"+kind, map[string]any{"name": name}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", kind, res.StatusCode, data)
	}
	var out struct {
		Vendor *domain.Vendor `json:"vendor"`
		Buyer  *domain.Buyer  `json:"buyer"`
		APIKey string         `json:"api_key"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if out.Vendor != nil {
		return out.Vendor.ID, out.APIKey
	}
	if out.Buyer != nil {
		return out.Buyer.ID, out.APIKey
	}
	t.Fatalf("no party in response: %s", data)
	return 0, ""
}

func keyHeader(key string) map[string]string {
	return map[string]string{"X-Api-Key": key}
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"admin"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func createRFO(t *testing.T, srv *testServer, buyerKey string, body map[string]any) domain.RFO {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos", body, keyHeader(buyerKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rfo: status %d: %s", res.StatusCode, data)
	}
	var rfo domain.RFO
	if err := json.Unmarshal(data, &rfo); err != nil {
		t.Fatalf("decode rfo: %v", err)
	}
	return rfo
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rfos", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestHealthOpen(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestOfferFlowEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")

	rfo := createRFO(t, srv, buyerKey, map[string]any{
		"category":               "memory",
		"budget_max":             1000,
		"delivery_deadline_days": 10,
	})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
		"warranty_months":   12,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: status %d: %s", res.StatusCode, data)
	}
	var offer domain.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		t.Fatal(err)
	}
	if offer.OfferVersion != 1 || offer.Status != domain.OfferStatusSubmitted {
		t.Fatalf("offer = %+v", offer)
	}

	// Buyers cannot submit offers.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      400,
		"delivery_eta_days": 5,
	}, keyHeader(buyerKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("buyer submit: status %d: %s", res.StatusCode, data)
	}

	// Rank and best.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/rank", nil, keyHeader(buyerKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rank: status %d: %s", res.StatusCode, data)
	}
	var rank struct {
		Results []struct {
			Score   float64 `json:"score"`
			Explain struct {
				Penalties []string `json:"penalties"`
			} `json:"explain"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &rank); err != nil {
		t.Fatal(err)
	}
	if len(rank.Results) != 1 || rank.Results[0].Score <= 0 {
		t.Fatalf("rank = %s", data)
	}

	// Close then award.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/close", map[string]any{}, keyHeader(buyerKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close: status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/award", map[string]any{
		"offer_id": offer.ID,
	}, keyHeader(buyerKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("award: status %d: %s", res.StatusCode, data)
	}
	var awarded domain.RFO
	if err := json.Unmarshal(data, &awarded); err != nil {
		t.Fatal(err)
	}
	if awarded.Status != domain.RFOStatusAwarded {
		t.Fatalf("status = %s", awarded.Status)
	}

	// Submitting after close conflicts with the rfo_not_open code.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      300,
		"delivery_eta_days": 2,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("submit on awarded: status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "rfo_not_open" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestSubmitOfferIdempotency(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")
	rfo := createRFO(t, srv, buyerKey, map[string]any{"category": "memory"})

	headers := keyHeader(vendorKey)
	headers["Idempotency-Key"] = "key-123"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first submit: status %d: %s", res.StatusCode, data)
	}
	var first domain.Offer
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatal(err)
	}

	// Retry with the same key replays the stored offer instead of creating
	// another one.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("retry: status %d: %s", res.StatusCode, data)
	}
	var second domain.Offer
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry created offer %d, want %d", second.ID, first.ID)
	}
	offers, err := srv.Engine.Repo.ListOffersByRFO(context.Background(), rfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 1 {
		t.Fatalf("%d offers stored", len(offers))
	}
}

func TestCreateRFOIdempotency(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")

	headers := keyHeader(buyerKey)
	headers["Idempotency-Key"] = "rfo-key-1"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos", map[string]any{
		"category": "memory",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first create: status %d: %s", res.StatusCode, data)
	}
	var first domain.RFO
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos", map[string]any{
		"category": "memory",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("retry: status %d: %s", res.StatusCode, data)
	}
	var second domain.RFO
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry created rfo %d, want %d", second.ID, first.ID)
	}
	items, err := srv.Engine.Repo.ListRFOs(context.Background(), "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("%d rfos stored", len(items))
	}
}

func TestUpdateOfferOwnership(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")
	_, otherKey := registerParty(t, srv, "vendors", "other")
	rfo := createRFO(t, srv, buyerKey, map[string]any{"category": "memory"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}
	var offer domain.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/offers/"+itoa(offer.ID), map[string]any{
		"price_amount": 450,
	}, keyHeader(otherKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign update: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/offers/"+itoa(offer.ID), map[string]any{
		"price_amount": 450,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner update: status %d: %s", res.StatusCode, data)
	}
	var updated domain.Offer
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.OfferVersion != 2 {
		t.Fatalf("version = %d", updated.OfferVersion)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/offers/"+itoa(offer.ID)+"/revisions", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("revisions: %d %s", res.StatusCode, data)
	}
	var revs []domain.OfferRevision
	if err := json.Unmarshal(data, &revs); err != nil {
		t.Fatal(err)
	}
	if len(revs) != 1 || revs[0].OfferVersion != 1 {
		t.Fatalf("revisions = %+v", revs)
	}
}

func TestAdminVerification(t *testing.T) {
	srv := newTestServer(t)
	vendorID, vendorKey := registerParty(t, srv, "vendors", "supplier")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/me/verification-request", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request: %d %s", res.StatusCode, data)
	}

	// Vendors cannot decide verifications.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/vendors/"+itoa(vendorID)+"/verification", map[string]any{
		"status": domain.VerificationVerified,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("vendor decides: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/vendors/"+itoa(vendorID)+"/verification", map[string]any{
		"status": domain.VerificationVerified,
		"notes":  "docs ok",
	}, map[string]string{"Authorization": "Bearer " + adminToken(t)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin decides: %d %s", res.StatusCode, data)
	}
	var v domain.Vendor
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if v.VerificationStatus != domain.VerificationVerified {
		t.Fatalf("status = %s", v.VerificationStatus)
	}
}

func TestWebhookAndEvents(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/me/webhooks", map[string]any{
		"url": "https://example.com/hook",
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register webhook: %d %s", res.StatusCode, data)
	}
	var hookOut struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(data, &hookOut); err != nil {
		t.Fatal(err)
	}
	if hookOut.Secret == "" {
		t.Fatal("no secret returned")
	}

	rfo := createRFO(t, srv, buyerKey, map[string]any{"category": "memory"})
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/events?status=pending", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	var events []domain.OutboxEvent
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != "offer.created" {
		t.Fatalf("events = %s", data)
	}
}

func TestMatchFeedEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/me/profile", map[string]any{
		"categories": []string{"memory"},
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("profile: %d %s", res.StatusCode, data)
	}

	createRFO(t, srv, buyerKey, map[string]any{"category": "memory"})
	createRFO(t, srv, buyerKey, map[string]any{"category": "gpu"})

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/matches", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("matches: %d %s", res.StatusCode, data)
	}
	var feed []engine.Match
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].RFO.Category != "memory" {
		t.Fatalf("feed = %s", data)
	}
	if len(feed[0].Reasons) == 0 || feed[0].Reasons[0] != "category:memory" {
		t.Fatalf("reasons = %v", feed[0].Reasons)
	}
}

func TestRotateAPIKeyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/me/keys/rotate", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rotate: %d %s", res.StatusCode, data)
	}
	var rotated struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &rotated); err != nil {
		t.Fatal(err)
	}
	if rotated.APIKey == "" || rotated.APIKey == vendorKey {
		t.Fatalf("rotated key = %q", rotated.APIKey)
	}

	// The old key no longer authenticates; the new one does.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/keys", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old key: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/keys", nil, keyHeader(rotated.APIKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("new key: %d %s", res.StatusCode, data)
	}
	var keys []domain.APIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("%d keys listed", len(keys))
	}
}

func TestWhoamiAndMyOffers(t *testing.T) {
	srv := newTestServer(t)
	_, buyerKey := registerParty(t, srv, "buyers", "acme")
	_, vendorKey := registerParty(t, srv, "vendors", "supplier")
	rfo := createRFO(t, srv, buyerKey, map[string]any{"category": "memory"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami: %d %s", res.StatusCode, data)
	}
	var who struct {
		Kind   string         `json:"kind"`
		Vendor *domain.Vendor `json:"vendor"`
	}
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatal(err)
	}
	if who.Kind != "vendor" || who.Vendor == nil || who.Vendor.Name != "supplier" {
		t.Fatalf("whoami = %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rfos/"+itoa(rfo.ID)+"/offers", map[string]any{
		"price_amount":      500,
		"delivery_eta_days": 5,
	}, keyHeader(vendorKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/offers", nil, keyHeader(vendorKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my offers: %d %s", res.StatusCode, data)
	}
	var mine []domain.Offer
	if err := json.Unmarshal(data, &mine); err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].RFOID != rfo.ID {
		t.Fatalf("offers = %s", data)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
