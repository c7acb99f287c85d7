package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intentbid/internal/domain"
	"intentbid/internal/engine"
)

// registerVendorSurface wires the self-service endpoints vendors and buyers
// use against their own account: profile, webhooks, match feed, usage and
// event inspection.
func registerVendorSurface(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-profile",
		Method:      http.MethodPut,
		Path:        "/me/profile",
		Summary:     "Set the calling vendor's match profile",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Categories          []string `json:"categories"`
			Regions             []string `json:"regions,omitempty"`
			LeadTimeDays        *int     `json:"lead_time_days,omitempty"`
			MinOrderValue       *float64 `json:"min_order_value,omitempty"`
			OnTimeDeliveryRate  *float64 `json:"on_time_delivery_rate,omitempty"`
			DisputeRate         *float64 `json:"dispute_rate,omitempty"`
			VerifiedDistributor *bool    `json:"verified_distributor,omitempty"`
		}
	}) (*struct {
		Body domain.VendorProfile
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile := domain.VendorProfile{
			VendorID:            vendorID,
			Categories:          input.Body.Categories,
			Regions:             input.Body.Regions,
			LeadTimeDays:        input.Body.LeadTimeDays,
			MinOrderValue:       input.Body.MinOrderValue,
			OnTimeDeliveryRate:  input.Body.OnTimeDeliveryRate,
			DisputeRate:         input.Body.DisputeRate,
			VerifiedDistributor: input.Body.VerifiedDistributor,
		}
		if profile.Categories == nil {
			profile.Categories = []string{}
		}
		if profile.Regions == nil {
			profile.Regions = []string{}
		}
		if err := e.Repo.UpsertVendorProfile(ctx, profile); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VendorProfile
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "match-feed",
		Method:      http.MethodGet,
		Path:        "/me/matches",
		Summary:     "List open RFOs matching the calling vendor's profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []engine.Match `json:"body"`
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		feed, err := e.MatchFeed(ctx, vendorID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.Match `json:"body"`
		}{Body: feed}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-offers",
		Method:      http.MethodGet,
		Path:        "/me/offers",
		Summary:     "List the calling vendor's offers",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Offer `json:"body"`
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		offers, err := e.Repo.ListOffersByVendor(ctx, vendorID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Offer `json:"body"`
		}{Body: offers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-webhook",
		Method:        http.MethodPost,
		Path:          "/me/webhooks",
		Summary:       "Register a webhook endpoint",
		Description:   "The signing secret is returned only on creation.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			URL string `json:"url" format:"uri"`
		}
	}) (*struct {
		Body struct {
			Webhook domain.VendorWebhook `json:"webhook"`
			Secret  string               `json:"secret"`
		}
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RegisterWebhook(ctx, vendorID, input.Body.URL)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Webhook domain.VendorWebhook `json:"webhook"`
				Secret  string               `json:"secret"`
			}
		}{}
		out.Body.Webhook = w
		out.Body.Secret = w.Secret
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/me/webhooks",
		Summary:     "List the calling vendor's webhooks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.VendorWebhook `json:"body"`
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hooks, err := e.Repo.ListWebhooksByVendor(ctx, vendorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.VendorWebhook `json:"body"`
		}{Body: hooks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-webhook-active",
		Method:      http.MethodPatch,
		Path:        "/me/webhooks/{webhook_id}",
		Summary:     "Enable or disable a webhook",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WebhookID int64 `path:"webhook_id"`
		Body      struct {
			IsActive bool `json:"is_active"`
		}
	}) (*struct {
		Body domain.VendorWebhook
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hook, err := e.Repo.GetWebhook(ctx, input.WebhookID)
		if err != nil {
			return nil, handleError(err)
		}
		if hook.VendorID != vendorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "webhook belongs to another vendor", nil)
		}
		if err := e.Repo.SetWebhookActive(ctx, input.WebhookID, input.Body.IsActive); err != nil {
			return nil, handleError(err)
		}
		hook.IsActive = input.Body.IsActive
		return &struct {
			Body domain.VendorWebhook
		}{Body: hook}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/me/events",
		Summary:     "List the calling vendor's queued and delivered events",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,delivered,"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.OutboxEvent `json:"body"`
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.ListOutboxByVendor(ctx, vendorID, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OutboxEvent `json:"body"`
		}{Body: events}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "usage-summary",
		Method:      http.MethodGet,
		Path:        "/me/usage",
		Summary:     "This month's usage counters for the calling account",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			OwnerKind string            `json:"owner_kind"`
			OwnerID   int64             `json:"owner_id"`
			Counts    map[string]int    `json:"counts"`
			Plan      *engine.PlanUsage `json:"plan,omitempty"`
		}
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || (p.Kind != domain.OwnerKindVendor && p.Kind != domain.OwnerKindBuyer) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "vendor or buyer credentials required", nil)
		}
		usage, err := e.UsageSummary(ctx, p.Kind, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				OwnerKind string            `json:"owner_kind"`
				OwnerID   int64             `json:"owner_id"`
				Counts    map[string]int    `json:"counts"`
				Plan      *engine.PlanUsage `json:"plan,omitempty"`
			}
		}{}
		out.Body.OwnerKind = p.Kind
		out.Body.OwnerID = p.ID
		out.Body.Counts = usage.Counts
		out.Body.Plan = usage.Plan
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/keys",
		Summary:     "List the calling account's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || (p.Kind != domain.OwnerKindVendor && p.Kind != domain.OwnerKindBuyer) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "vendor or buyer credentials required", nil)
		}
		keys, err := e.Repo.ListAPIKeysByOwner(ctx, p.Kind, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rotate-api-key",
		Method:      http.MethodPost,
		Path:        "/me/keys/rotate",
		Summary:     "Rotate the calling account's API key",
		Description: "Revokes every active key and returns a fresh one. The plaintext is shown only in this response.",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			APIKey string `json:"api_key"`
		}
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || (p.Kind != domain.OwnerKindVendor && p.Kind != domain.OwnerKindBuyer) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "vendor or buyer credentials required", nil)
		}
		secret, err := e.RotateAPIKey(ctx, p.Kind, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				APIKey string `json:"api_key"`
			}
		}{}
		out.Body.APIKey = secret
		return out, nil
	})
}
