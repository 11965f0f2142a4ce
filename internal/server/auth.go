// Package server provides the HTTP API, middleware, and handlers for steward.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dativo-io/steward/internal/requestctx"
	"github.com/dativo-io/steward/internal/tenant"
)

// ErrUnauthorized is returned when a request carries no valid credential.
var ErrUnauthorized = errors.New("invalid or missing credentials")

// tenantClaim is the JWT claim naming the caller's tenant.
const tenantClaim = "tenant"

// Authenticator resolves a request's credential to an identity. API keys
// are checked first; a bearer value that is not a known key is parsed as an
// HS256 token when a JWT secret is configured.
type Authenticator struct {
	apiKeys   map[string]string // key -> tenant
	jwtSecret []byte
}

// NewAuthenticator creates an authenticator. apiKeys maps key -> tenant_id.
func NewAuthenticator(apiKeys map[string]string, jwtSecret string) *Authenticator {
	a := &Authenticator{apiKeys: apiKeys}
	if jwtSecret != "" {
		a.jwtSecret = []byte(jwtSecret)
	}
	if a.apiKeys == nil {
		a.apiKeys = make(map[string]string)
	}
	return a
}

// Authenticate returns the identity of r.
func (a *Authenticator) Authenticate(r *http.Request) (requestctx.Identity, error) {
	key := r.Header.Get("X-Steward-Key")
	bearer := false
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
			bearer = true
		}
	}
	if key == "" {
		return requestctx.Identity{}, ErrUnauthorized
	}

	for k, t := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return requestctx.Identity{TenantID: t, Method: requestctx.MethodAPIKey}, nil
		}
	}
	if bearer && a.jwtSecret != nil {
		return a.parseToken(key)
	}
	return requestctx.Identity{}, ErrUnauthorized
}

func (a *Authenticator) parseToken(raw string) (requestctx.Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return requestctx.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	tenantID, _ := claims[tenantClaim].(string)
	if tenantID == "" {
		return requestctx.Identity{}, fmt.Errorf("%w: token has no %s claim", ErrUnauthorized, tenantClaim)
	}
	sub, _ := claims.GetSubject()
	return requestctx.Identity{TenantID: tenantID, UserID: sub, Method: requestctx.MethodJWT}, nil
}

// AuthMiddleware rejects unauthenticated requests and stores the identity in
// the request context.
func AuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key or token")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithIdentity(r.Context(), id)))
		})
	}
}

// RateLimitMiddleware calls tm.ValidateRequest for the authenticated tenant
// and returns 429 with Retry-After when the tenant is over its rate.
func RateLimitMiddleware(tm *tenant.Manager) func(http.Handler) http.Handler {
	if tm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := tm.ValidateRequest(r.Context(), requestctx.TenantID(r.Context()))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, tenant.ErrRateLimitExceeded):
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
			case errors.Is(err, tenant.ErrTenantNotFound):
				writeError(w, http.StatusForbidden, "forbidden", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
