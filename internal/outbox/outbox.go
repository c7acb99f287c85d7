// Package outbox delivers queued vendor events to registered webhook
// endpoints. Events are written to the event_outbox table in the same
// transaction as the change they describe; the dispatcher drains the table
// out of band.
package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"intentbid/internal/domain"
	"intentbid/internal/repo"
)

const (
	defaultDispatchInterval = 5 * time.Second
	defaultDeliveryTimeout  = 5 * time.Second
	defaultBatch            = 100

	// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed
	// by the endpoint's secret.
	SignatureHeader = "X-IntentBid-Signature"
)

// Envelope serializes an event payload for both storage and delivery.
// encoding/json writes map keys in sorted order, so the same event always
// produces the same bytes and the same signature.
func Envelope(eventType string, data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"data":       data,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sign computes the delivery signature for a serialized envelope.
func Sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Backoff returns the delay before the next delivery attempt, growing
// linearly with the attempt count and capped at five minutes.
func Backoff(attempts int) time.Duration {
	d := time.Duration(attempts) * 60 * time.Second
	if d > 300*time.Second {
		d = 300 * time.Second
	}
	return d
}

type Dispatcher struct {
	Repo        repo.Repo
	Now         func() time.Time
	Client      *http.Client
	MaxAttempts int
	Interval    time.Duration
}

func NewDispatcher(r repo.Repo, now func() time.Time, maxAttempts int, interval time.Duration) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	return &Dispatcher{
		Repo:        r,
		Now:         now,
		Client:      &http.Client{Timeout: defaultDeliveryTimeout},
		MaxAttempts: maxAttempts,
		Interval:    interval,
	}
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		if err := d.Dispatch(ctx); err != nil {
			log.Printf("outbox: dispatch pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch runs a single delivery pass over due pending events.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	now := d.Now().UTC().Format(time.RFC3339)
	events, err := d.Repo.DueOutboxEvents(ctx, now, d.MaxAttempts, defaultBatch)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := d.deliver(ctx, evt); err != nil {
			log.Printf("outbox: event %d: %v", evt.ID, err)
		}
	}
	return nil
}

// deliver posts one event to every active endpoint of its vendor. The event
// is marked delivered only when all endpoints accept; a vendor with no
// active endpoints keeps the event pending without burning an attempt.
func (d *Dispatcher) deliver(ctx context.Context, evt domain.OutboxEvent) error {
	hooks, err := d.Repo.ListActiveWebhooksByVendor(ctx, evt.VendorID)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}
	attempts := evt.Attempts + 1
	var firstErr error
	delivered := make([]int64, 0, len(hooks))
	for _, hook := range hooks {
		if err := d.post(ctx, hook, evt); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("deliver to %s: %w", hook.URL, err)
			}
			continue
		}
		delivered = append(delivered, hook.ID)
	}
	nowStr := d.Now().UTC().Format(time.RFC3339)
	if firstErr != nil {
		next := d.Now().UTC().Add(Backoff(attempts)).Format(time.RFC3339)
		if markErr := d.Repo.MarkOutboxAttemptFailed(ctx, evt.ID, attempts, firstErr.Error(), next); markErr != nil {
			return markErr
		}
		return firstErr
	}
	for _, hookID := range delivered {
		if err := d.Repo.MarkWebhookDelivered(ctx, hookID, nowStr); err != nil {
			return err
		}
	}
	return d.Repo.MarkOutboxDelivered(ctx, evt.ID, attempts, nowStr)
}

func (d *Dispatcher) post(ctx context.Context, hook domain.VendorWebhook, evt domain.OutboxEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader([]byte(evt.PayloadJSON)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IntentBid-Event", evt.EventType)
	req.Header.Set("X-IntentBid-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set(SignatureHeader, Sign(hook.Secret, evt.PayloadJSON))
	res, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
