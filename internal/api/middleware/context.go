package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

type contextKey string

const (
	ownerIDKey      contextKey = "owner_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetOwnerID stores the authenticated caller's owner ID.
func SetOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

// GetOwnerID returns the owner ID set by Authenticate.
func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes stores the scopes granted to the caller's API key.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

// HasScope reports whether the caller holds scope. The admin scope holds
// every scope.
func HasScope(r *http.Request, scope string) bool {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return models.ScopesGrant(scopes, scope)
}

// WithKeyPrefix returns ctx carrying a key prefix, as Authenticate would
// leave it. Used by tests of middleware that runs after auth.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	return setKeyPrefix(ctx, prefix)
}
