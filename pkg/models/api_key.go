package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Scopes gate the HTTP surface. Admin satisfies every scope check.
const (
	ScopePoster   = "poster"
	ScopeAgent    = "agent"
	ScopeApprover = "approver"
	ScopeAdmin    = "admin"
)

var knownScopes = []string{ScopePoster, ScopeAgent, ScopeApprover, ScopeAdmin}

// ValidScope reports whether s names a scope a key may carry.
func ValidScope(s string) bool {
	return slices.Contains(knownScopes, s)
}

// ScopesGrant reports whether a key holding held may act under want.
func ScopesGrant(held []string, want string) bool {
	return slices.Contains(held, want) || slices.Contains(held, ScopeAdmin)
}

// APIKey is a bearer credential owned by a poster, an agent owner or an
// operator. The raw key is shown once at creation; only its bcrypt hash and
// an 8-character lookup prefix are stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	OwnerID    string     `db:"owner_id"     json:"owner_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Grants reports whether the key may act under scope.
func (k *APIKey) Grants(scope string) bool {
	return k.DeletedAt == nil && ScopesGrant(k.Scopes, scope)
}
