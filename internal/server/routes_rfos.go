package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"intentbid/internal/domain"
	"intentbid/internal/engine"
	"intentbid/internal/repo"
)

const createRFOEndpoint = "create_rfo"

type rfoBody struct {
	Category             string            `json:"category" example:"memory"`
	Title                string            `json:"title,omitempty"`
	Summary              string            `json:"summary,omitempty"`
	Constraints          map[string]any    `json:"constraints,omitempty"`
	Preferences          map[string]any    `json:"preferences,omitempty"`
	Weights              map[string]any    `json:"weights,omitempty"`
	LineItems            []domain.LineItem `json:"line_items,omitempty"`
	Compliance           map[string]any    `json:"compliance,omitempty"`
	ScoringProfile       string            `json:"scoring_profile,omitempty" example:"balanced"`
	BudgetMax            *float64          `json:"budget_max,omitempty"`
	Currency             string            `json:"currency,omitempty"`
	DeliveryDeadlineDays *int              `json:"delivery_deadline_days,omitempty"`
	Quantity             *int              `json:"quantity,omitempty"`
	Location             string            `json:"location,omitempty"`
	ExpiresAt            *string           `json:"expires_at,omitempty" format:"date-time"`
}

type rfoOutput struct {
	Body domain.RFO
}

type rankResult struct {
	RFOID   int64                `json:"rfo_id"`
	Profile string               `json:"scoring_profile,omitempty"`
	Version string               `json:"scoring_version"`
	Results []engine.RankedOffer `json:"results"`
}

func registerRFOs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rfo",
		Method:        http.MethodPost,
		Path:          "/rfos",
		Summary:       "Create an RFO",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		IdempotencyKey string `header:"Idempotency-Key"`
		Body           rfoBody
	}) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}

		idemKey := strings.TrimSpace(input.IdempotencyKey)
		if idemKey != "" {
			stored, err := e.Repo.GetIdempotencyKey(ctx, idemKey, createRFOEndpoint)
			if err == nil {
				var rfo domain.RFO
				if err := json.Unmarshal([]byte(stored.ResponseBody), &rfo); err != nil {
					return nil, handleError(err)
				}
				return &rfoOutput{Body: rfo}, nil
			}
			if err != repo.ErrNotFound {
				return nil, handleError(err)
			}
		}

		rfo, err := e.CreateRFO(ctx, domain.RFO{
			BuyerID:              &buyerID,
			Category:             input.Body.Category,
			Title:                input.Body.Title,
			Summary:              input.Body.Summary,
			Constraints:          input.Body.Constraints,
			Preferences:          input.Body.Preferences,
			Weights:              input.Body.Weights,
			LineItems:            input.Body.LineItems,
			Compliance:           input.Body.Compliance,
			ScoringProfile:       input.Body.ScoringProfile,
			BudgetMax:            input.Body.BudgetMax,
			Currency:             input.Body.Currency,
			DeliveryDeadlineDays: input.Body.DeliveryDeadlineDays,
			Quantity:             input.Body.Quantity,
			Location:             input.Body.Location,
			ExpiresAt:            input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}

		if idemKey != "" {
			if err := e.StoreIdempotentResponse(ctx, idemKey, createRFOEndpoint, http.StatusCreated, rfo); err != nil {
				return nil, handleError(err)
			}
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rfos",
		Method:      http.MethodGet,
		Path:        "/rfos",
		Summary:     "List RFOs",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"OPEN,CLOSED,AWARDED,"`
		Category string `query:"category"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.RFO `json:"body"`
	}, error) {
		items, err := e.Repo.ListRFOs(ctx, input.Status, input.Category, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RFO `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rfo",
		Method:      http.MethodGet,
		Path:        "/rfos/{rfo_id}",
		Summary:     "Get an RFO",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
	}) (*rfoOutput, error) {
		rfo, err := e.Repo.GetRFO(ctx, input.RFOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rfo",
		Method:      http.MethodPatch,
		Path:        "/rfos/{rfo_id}",
		Summary:     "Update an open RFO",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
		Body  struct {
			Title                *string           `json:"title,omitempty"`
			Summary              *string           `json:"summary,omitempty"`
			Category             *string           `json:"category,omitempty"`
			Constraints          map[string]any    `json:"constraints,omitempty"`
			Preferences          map[string]any    `json:"preferences,omitempty"`
			LineItems            []domain.LineItem `json:"line_items,omitempty"`
			Compliance           map[string]any    `json:"compliance,omitempty"`
			BudgetMax            *float64          `json:"budget_max,omitempty"`
			Currency             *string           `json:"currency,omitempty"`
			DeliveryDeadlineDays *int              `json:"delivery_deadline_days,omitempty"`
			Quantity             *int              `json:"quantity,omitempty"`
			Location             *string           `json:"location,omitempty"`
			ExpiresAt            *string           `json:"expires_at,omitempty" format:"date-time"`
		}
	}) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfo, err := e.UpdateRFO(ctx, input.RFOID, &buyerID, engine.RFOPatch{
			Title:                input.Body.Title,
			Summary:              input.Body.Summary,
			Category:             input.Body.Category,
			Constraints:          input.Body.Constraints,
			Preferences:          input.Body.Preferences,
			LineItems:            input.Body.LineItems,
			Compliance:           input.Body.Compliance,
			BudgetMax:            input.Body.BudgetMax,
			Currency:             input.Body.Currency,
			DeliveryDeadlineDays: input.Body.DeliveryDeadlineDays,
			Quantity:             input.Body.Quantity,
			Location:             input.Body.Location,
			ExpiresAt:            input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	type transitionInput struct {
		RFOID int64 `path:"rfo_id"`
		Body  struct {
			Reason string `json:"reason,omitempty"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "close-rfo",
		Method:      http.MethodPost,
		Path:        "/rfos/{rfo_id}/close",
		Summary:     "Close an RFO to new offers",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *transitionInput) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfo, err := e.CloseRFO(ctx, input.RFOID, &buyerID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "award-rfo",
		Method:      http.MethodPost,
		Path:        "/rfos/{rfo_id}/award",
		Summary:     "Award a closed RFO",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
		Body  struct {
			OfferID *int64 `json:"offer_id,omitempty"`
			Reason  string `json:"reason,omitempty"`
		}
	}) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfo, err := e.AwardRFO(ctx, input.RFOID, &buyerID, input.Body.OfferID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-rfo",
		Method:      http.MethodPost,
		Path:        "/rfos/{rfo_id}/reopen",
		Summary:     "Reopen a closed RFO",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *transitionInput) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfo, err := e.ReopenRFO(ctx, input.RFOID, &buyerID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-scoring-config",
		Method:      http.MethodPut,
		Path:        "/rfos/{rfo_id}/scoring",
		Summary:     "Set the scoring profile, weights or version of an RFO",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
		Body  struct {
			ScoringProfile *string        `json:"scoring_profile,omitempty"`
			Weights        map[string]any `json:"weights,omitempty"`
			ScoringVersion *string        `json:"scoring_version,omitempty"`
		}
	}) (*rfoOutput, error) {
		buyerID, authErr := requireBuyer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfo, err := e.UpdateScoringConfig(ctx, input.RFOID, &buyerID, input.Body.ScoringProfile, input.Body.Weights, input.Body.ScoringVersion)
		if err != nil {
			return nil, handleError(err)
		}
		return &rfoOutput{Body: rfo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rank-offers",
		Method:      http.MethodGet,
		Path:        "/rfos/{rfo_id}/rank",
		Summary:     "Rank the offers on an RFO",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
	}) (*struct {
		Body rankResult
	}, error) {
		rfo, ranked, err := e.RankOffers(ctx, input.RFOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body rankResult
		}{Body: rankResult{
			RFOID:   rfo.ID,
			Profile: rfo.ScoringProfile,
			Version: rfo.ScoringVersion,
			Results: ranked,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "best-offers",
		Method:      http.MethodGet,
		Path:        "/rfos/{rfo_id}/best",
		Summary:     "Get the top-ranked offers on an RFO",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
		TopK  int   `query:"top_k" minimum:"1" default:"1"`
	}) (*struct {
		Body rankResult
	}, error) {
		rfo, best, err := e.BestOffers(ctx, input.RFOID, input.TopK)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body rankResult
		}{Body: rankResult{
			RFOID:   rfo.ID,
			Profile: rfo.ScoringProfile,
			Version: rfo.ScoringVersion,
			Results: best,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rfo-audit",
		Method:      http.MethodGet,
		Path:        "/rfos/{rfo_id}/audit",
		Summary:     "List the audit trail of an RFO",
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
	}) (*struct {
		Body []domain.AuditLog `json:"body"`
	}, error) {
		entries, err := e.Repo.ListAuditByEntity(ctx, "rfo", input.RFOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditLog `json:"body"`
		}{Body: entries}, nil
	})
}
