// Package requestctx carries the authenticated caller through a request
// context. It is set by the server's auth middleware and read by handlers.
package requestctx

import "context"

// Auth methods recorded on an Identity.
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)

// Identity is the authenticated caller of one request.
type Identity struct {
	TenantID string
	// UserID is the JWT subject. API keys carry no user.
	UserID string
	Method string
}

// Reviewer names the identity in review decisions.
func (i Identity) Reviewer() string {
	if i.UserID != "" {
		return i.UserID
	}
	return "tenant:" + i.TenantID
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantID returns the authenticated tenant, or "" if none.
func TenantID(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.TenantID
}
