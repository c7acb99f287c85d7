package engine

import (
	"context"
	"encoding/json"

	"intentbid/internal/domain"
)

// StoreIdempotentResponse saves the successful response for a client
// idempotency key so a retried create replays it instead of re-executing.
func (e Engine) StoreIdempotentResponse(ctx context.Context, key, endpoint string, statusCode int, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.Repo.InsertIdempotencyKey(ctx, domain.IdempotencyKey{
		Key:          key,
		Endpoint:     endpoint,
		StatusCode:   statusCode,
		ResponseBody: string(body),
		CreatedAt:    e.nowString(),
	})
}
