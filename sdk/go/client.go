package intentbidsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal IntentBid HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// RFO represents the API request-for-offers model (partial).
type RFO struct {
	ID                   int64          `json:"id"`
	Title                string         `json:"title"`
	Category             string         `json:"category"`
	Status               string         `json:"status"`
	BudgetMax            *float64       `json:"budget_max,omitempty"`
	DeliveryDeadlineDays *int           `json:"delivery_deadline_days,omitempty"`
	Quantity             *int           `json:"quantity,omitempty"`
	Constraints          map[string]any `json:"constraints,omitempty"`
	ScoringProfile       string         `json:"scoring_profile,omitempty"`
	AwardedOfferID       *int64         `json:"awarded_offer_id,omitempty"`
	CreatedAt            string         `json:"created_at"`
}

// Offer represents a vendor offer (partial).
type Offer struct {
	ID              int64    `json:"id"`
	RFOID           int64    `json:"rfo_id"`
	VendorID        int64    `json:"vendor_id"`
	PriceAmount     float64  `json:"price_amount"`
	UnitPrice       *float64 `json:"unit_price,omitempty"`
	Currency        string   `json:"currency"`
	DeliveryETADays int      `json:"delivery_eta_days"`
	WarrantyMonths  int      `json:"warranty_months"`
	Status          string   `json:"status"`
	OfferVersion    int      `json:"offer_version"`
	CreatedAt       string   `json:"created_at"`
}

// RankedOffer pairs an offer with its computed score.
type RankedOffer struct {
	Offer   Offer          `json:"offer"`
	Score   float64        `json:"score"`
	Explain map[string]any `json:"explain"`
}

// RankResult is the response of the rank endpoint.
type RankResult struct {
	RFOID   int64         `json:"rfo_id"`
	Profile string        `json:"scoring_profile,omitempty"`
	Version string        `json:"scoring_version"`
	Results []RankedOffer `json:"results"`
}

// OutboxEvent is a queued webhook delivery.
type OutboxEvent struct {
	ID        int64  `json:"id"`
	VendorID  int64  `json:"vendor_id"`
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRFO posts a new request for offers.
func (c *Client) CreateRFO(ctx context.Context, body map[string]any) (RFO, error) {
	var resp RFO
	err := c.do(ctx, http.MethodPost, "v1/rfos", "", body, &resp)
	return resp, err
}

// GetRFO fetches one RFO.
func (c *Client) GetRFO(ctx context.Context, id int64) (RFO, error) {
	var resp RFO
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/rfos/%d", id), "", nil, &resp)
	return resp, err
}

// SubmitOffer posts an offer on an open RFO. A non-empty idempotencyKey makes
// retries return the originally created offer.
func (c *Client) SubmitOffer(ctx context.Context, rfoID int64, body map[string]any, idempotencyKey string) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/rfos/%d/offers", rfoID), idempotencyKey, body, &resp)
	return resp, err
}

// UpdateOffer revises an existing offer.
func (c *Client) UpdateOffer(ctx context.Context, offerID int64, body map[string]any) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v1/offers/%d", offerID), "", body, &resp)
	return resp, err
}

// Rank returns the scored ranking of an RFO's offers.
func (c *Client) Rank(ctx context.Context, rfoID int64) (RankResult, error) {
	var resp RankResult
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/rfos/%d/rank", rfoID), "", nil, &resp)
	return resp, err
}

// Close closes an RFO to new offers.
func (c *Client) Close(ctx context.Context, rfoID int64, reason string) (RFO, error) {
	var resp RFO
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/rfos/%d/close", rfoID), "", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Award awards a closed RFO to an offer.
func (c *Client) Award(ctx context.Context, rfoID, offerID int64) (RFO, error) {
	var resp RFO
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/rfos/%d/award", rfoID), "", map[string]any{"offer_id": offerID}, &resp)
	return resp, err
}

// Match pairs an open RFO with the profile attributes that matched it.
type Match struct {
	RFO     RFO      `json:"rfo"`
	Reasons []string `json:"reasons"`
}

// Matches returns open RFOs matching the calling vendor's profile.
func (c *Client) Matches(ctx context.Context) ([]Match, error) {
	var resp []Match
	err := c.do(ctx, http.MethodGet, "v1/me/matches", "", nil, &resp)
	return resp, err
}

// RotateAPIKey revokes the caller's active keys and returns a fresh one.
func (c *Client) RotateAPIKey(ctx context.Context) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	err := c.do(ctx, http.MethodPost, "v1/me/keys/rotate", "", nil, &resp)
	return resp.APIKey, err
}

// Events lists the calling vendor's outbox events, optionally by status.
func (c *Client) Events(ctx context.Context, status string) ([]OutboxEvent, error) {
	endpoint := "v1/me/events"
	if status != "" {
		endpoint += "?status=" + status
	}
	var resp []OutboxEvent
	err := c.do(ctx, http.MethodGet, endpoint, "", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint, idempotencyKey string, body, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
