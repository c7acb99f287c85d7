package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intentbid/internal/domain"
	"intentbid/internal/engine"
)

type registrationBody struct {
	Name string `json:"name" minLength:"1"`
}

func registerParties(api huma.API, e engine.Engine, _ AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-vendor",
		Method:        http.MethodPost,
		Path:          "/vendors",
		Summary:       "Register a vendor",
		Description:   "Creates the vendor and returns its API key. The key is shown only once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body registrationBody
	}) (*struct {
		Body struct {
			Vendor domain.Vendor `json:"vendor"`
			APIKey string        `json:"api_key"`
		}
	}, error) {
		v, secret, err := e.RegisterVendor(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Vendor domain.Vendor `json:"vendor"`
				APIKey string        `json:"api_key"`
			}
		}{}
		out.Body.Vendor = v
		out.Body.APIKey = secret
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-buyer",
		Method:        http.MethodPost,
		Path:          "/buyers",
		Summary:       "Register a buyer",
		Description:   "Creates the buyer and returns its API key. The key is shown only once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body registrationBody
	}) (*struct {
		Body struct {
			Buyer  domain.Buyer `json:"buyer"`
			APIKey string       `json:"api_key"`
		}
	}, error) {
		b, secret, err := e.RegisterBuyer(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Buyer  domain.Buyer `json:"buyer"`
				APIKey string       `json:"api_key"`
			}
		}{}
		out.Body.Buyer = b
		out.Body.APIKey = secret
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendors (admin)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"verification_status" enum:"UNVERIFIED,PENDING,VERIFIED,"`
	}) (*struct {
		Body []domain.Vendor `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		vendors, err := e.Repo.ListVendors(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Vendor `json:"body"`
		}{Body: vendors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-vendor-verification",
		Method:      http.MethodPost,
		Path:        "/vendors/{vendor_id}/verification",
		Summary:     "Decide a vendor verification (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VendorID int64 `path:"vendor_id"`
		Body     struct {
			Status string `json:"status" enum:"UNVERIFIED,PENDING,VERIFIED"`
			Notes  string `json:"notes,omitempty"`
		}
	}) (*struct {
		Body domain.Vendor
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		v, err := e.SetVendorVerification(ctx, input.VendorID, input.Body.Status, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Show the calling account",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Kind   string         `json:"kind" enum:"vendor,buyer"`
			Vendor *domain.Vendor `json:"vendor,omitempty"`
			Buyer  *domain.Buyer  `json:"buyer,omitempty"`
		}
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || (p.Kind != domain.OwnerKindVendor && p.Kind != domain.OwnerKindBuyer) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "vendor or buyer credentials required", nil)
		}
		out := &struct {
			Body struct {
				Kind   string         `json:"kind" enum:"vendor,buyer"`
				Vendor *domain.Vendor `json:"vendor,omitempty"`
				Buyer  *domain.Buyer  `json:"buyer,omitempty"`
			}
		}{}
		out.Body.Kind = p.Kind
		switch p.Kind {
		case domain.OwnerKindVendor:
			v, err := e.Repo.GetVendor(ctx, p.ID)
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.Vendor = &v
		case domain.OwnerKindBuyer:
			b, err := e.Repo.GetBuyer(ctx, p.ID)
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.Buyer = &b
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-verification",
		Method:      http.MethodPost,
		Path:        "/me/verification-request",
		Summary:     "Request verification for the calling vendor",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Vendor
	}, error) {
		vendorID, authErr := requireVendor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.RequestVerification(ctx, vendorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor
		}{Body: v}, nil
	})
}
