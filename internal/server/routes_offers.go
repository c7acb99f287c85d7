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

type offerOutput struct {
	Body domain.Offer
}

const submitOfferEndpoint = "submit_offer"

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-offer",
		Method:        http.MethodPost,
		Path:          "/rfos/{rfo_id}/offers",
		Summary:       "Submit an offer on an open RFO",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		RFOID          int64  `path:"rfo_id"`
		IdempotencyKey string `header:"Idempotency-Key"`
		Body           struct {
			PriceAmount     float64              `json:"price_amount,omitempty"`
			UnitPrice       *float64             `json:"unit_price,omitempty"`
			Currency        string               `json:"currency,omitempty"`
			DeliveryETADays int                  `json:"delivery_eta_days,omitempty"`
			LeadTimeDays    *int                 `json:"lead_time_days,omitempty"`
			AvailableQty    *int                 `json:"available_qty,omitempty"`
			ShippingCost    *float64             `json:"shipping_cost,omitempty"`
			TaxEstimate     *float64             `json:"tax_estimate,omitempty"`
			Condition       string               `json:"condition,omitempty"`
			Traceability    *domain.Traceability `json:"traceability,omitempty"`
			WarrantyMonths  int                  `json:"warranty_months,omitempty"`
			ReturnDays      int                  `json:"return_days,omitempty"`
			Stock           *bool                `json:"stock,omitempty"`
			Metadata        map[string]any       `json:"metadata,omitempty"`
			ValidUntil      *string              `json:"valid_until,omitempty" format:"date-time"`
		}
	}) (*offerOutput, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}

		idemKey := strings.TrimSpace(input.IdempotencyKey)
		if idemKey != "" {
			stored, err := e.Repo.GetIdempotencyKey(ctx, idemKey, submitOfferEndpoint)
			if err == nil {
				var offer domain.Offer
				if err := json.Unmarshal([]byte(stored.ResponseBody), &offer); err != nil {
					return nil, handleError(err)
				}
				return &offerOutput{Body: offer}, nil
			}
			if err != repo.ErrNotFound {
				return nil, handleError(err)
			}
		}

		stock := true
		if input.Body.Stock != nil {
			stock = *input.Body.Stock
		}
		offer, err := e.SubmitOffer(ctx, domain.Offer{
			RFOID:           input.RFOID,
			VendorID:        vendorID,
			PriceAmount:     input.Body.PriceAmount,
			UnitPrice:       input.Body.UnitPrice,
			Currency:        input.Body.Currency,
			DeliveryETADays: input.Body.DeliveryETADays,
			LeadTimeDays:    input.Body.LeadTimeDays,
			AvailableQty:    input.Body.AvailableQty,
			ShippingCost:    input.Body.ShippingCost,
			TaxEstimate:     input.Body.TaxEstimate,
			Condition:       input.Body.Condition,
			Traceability:    input.Body.Traceability,
			WarrantyMonths:  input.Body.WarrantyMonths,
			ReturnDays:      input.Body.ReturnDays,
			Stock:           stock,
			Metadata:        input.Body.Metadata,
			ValidUntil:      input.Body.ValidUntil,
		})
		if err != nil {
			return nil, handleError(err)
		}

		if idemKey != "" {
			if err := e.StoreIdempotentResponse(ctx, idemKey, submitOfferEndpoint, http.StatusCreated, offer); err != nil {
				return nil, handleError(err)
			}
		}
		return &offerOutput{Body: offer}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/rfos/{rfo_id}/offers",
		Summary:     "List the offers on an RFO",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RFOID int64 `path:"rfo_id"`
	}) (*struct {
		Body []domain.Offer `json:"body"`
	}, error) {
		if _, err := e.Repo.GetRFO(ctx, input.RFOID); err != nil {
			return nil, handleError(err)
		}
		offers, err := e.Repo.ListOffersByRFO(ctx, input.RFOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Offer `json:"body"`
		}{Body: offers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}",
		Summary:     "Get an offer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID int64 `path:"offer_id"`
	}) (*offerOutput, error) {
		offer, err := e.Repo.GetOffer(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		return &offerOutput{Body: offer}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-offer",
		Method:      http.MethodPatch,
		Path:        "/offers/{offer_id}",
		Summary:     "Revise an offer while its RFO is open",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		OfferID int64 `path:"offer_id"`
		Body    struct {
			PriceAmount     *float64             `json:"price_amount,omitempty"`
			UnitPrice       *float64             `json:"unit_price,omitempty"`
			Currency        *string              `json:"currency,omitempty"`
			DeliveryETADays *int                 `json:"delivery_eta_days,omitempty"`
			LeadTimeDays    *int                 `json:"lead_time_days,omitempty"`
			AvailableQty    *int                 `json:"available_qty,omitempty"`
			ShippingCost    *float64             `json:"shipping_cost,omitempty"`
			TaxEstimate     *float64             `json:"tax_estimate,omitempty"`
			Condition       *string              `json:"condition,omitempty"`
			Traceability    *domain.Traceability `json:"traceability,omitempty"`
			WarrantyMonths  *int                 `json:"warranty_months,omitempty"`
			ReturnDays      *int                 `json:"return_days,omitempty"`
			Stock           *bool                `json:"stock,omitempty"`
			Metadata        map[string]any       `json:"metadata,omitempty"`
			ValidUntil      *string              `json:"valid_until,omitempty" format:"date-time"`
		}
	}) (*offerOutput, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		offer, err := e.UpdateOffer(ctx, input.OfferID, vendorID, engine.OfferPatch{
			PriceAmount:     input.Body.PriceAmount,
			UnitPrice:       input.Body.UnitPrice,
			Currency:        input.Body.Currency,
			DeliveryETADays: input.Body.DeliveryETADays,
			LeadTimeDays:    input.Body.LeadTimeDays,
			AvailableQty:    input.Body.AvailableQty,
			ShippingCost:    input.Body.ShippingCost,
			TaxEstimate:     input.Body.TaxEstimate,
			Condition:       input.Body.Condition,
			Traceability:    input.Body.Traceability,
			WarrantyMonths:  input.Body.WarrantyMonths,
			ReturnDays:      input.Body.ReturnDays,
			Stock:           input.Body.Stock,
			Metadata:        input.Body.Metadata,
			ValidUntil:      input.Body.ValidUntil,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &offerOutput{Body: offer}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offer-revisions",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}/revisions",
		Summary:     "List the revision history of an offer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID int64 `path:"offer_id"`
	}) (*struct {
		Body []domain.OfferRevision `json:"body"`
	}, error) {
		if _, err := e.Repo.GetOffer(ctx, input.OfferID); err != nil {
			return nil, handleError(err)
		}
		revs, err := e.Repo.ListOfferRevisions(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OfferRevision `json:"body"`
		}{Body: revs}, nil
	})
}
