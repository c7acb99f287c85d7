package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"intentbid/internal/domain"
	"intentbid/internal/repo"
)

type AuthConfig struct {
	// JWTSecret signs admin tokens. Empty disables admin endpoints.
	JWTSecret string
}

// Principal identifies the authenticated caller. Vendors and buyers present
// API keys; admins present a JWT with an admin role claim.
type Principal struct {
	Kind    string // vendor, buyer or admin
	ID      int64  // owner id for vendor/buyer principals
	Subject string // JWT subject for admins
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func requireVendor(ctx context.Context) (int64, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return 0, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Kind != domain.OwnerKindVendor {
		return 0, newAPIError(http.StatusForbidden, "forbidden", "vendor credentials required", nil)
	}
	return p.ID, nil
}

func requireBuyer(ctx context.Context) (int64, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return 0, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Kind != domain.OwnerKindBuyer {
		return 0, newAPIError(http.StatusForbidden, "forbidden", "buyer credentials required", nil)
	}
	return p.ID, nil
}

func requireAdmin(ctx context.Context) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Kind != "admin" {
		return newAPIError(http.StatusForbidden, "forbidden", "admin credentials required", nil)
	}
	return nil
}

type adminClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &adminClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	for _, role := range claims.Roles {
		if role == "admin" {
			return Principal{Kind: "admin", Subject: claims.Subject, Source: "jwt"}, nil
		}
	}
	return Principal{}, errors.New("admin role required")
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.Status != domain.KeyStatusActive {
		return Principal{}, errors.New("api key revoked")
	}
	if err := r.TouchAPIKey(ctx, apiKey.ID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return Principal{}, err
	}
	return Principal{Kind: apiKey.OwnerKind, ID: apiKey.OwnerID, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware attaches a principal to every API request. Registration
// and health stay open so new parties can obtain credentials.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):  true,
		path.Join(basePath, "vendors"): true,
		path.Join(basePath, "buyers"):  true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] && (req.Method == http.MethodPost || req.URL.Path == path.Join(basePath, "health")) {
				next.ServeHTTP(w, req)
				return
			}

			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
				principal, err := authenticateAPIKey(req.Context(), r, key)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
