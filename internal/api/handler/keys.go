package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

const keyPrefix = "bz_"

// KeyCreator persists new API keys.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// GenerateKey returns a new raw API key.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

// NewAPIKey builds the stored form of raw. Only the bcrypt hash and the
// lookup prefix are kept.
func NewAPIKey(raw, ownerID, name string, scopes []string) (*models.APIKey, error) {
	if len(raw) < mw.KeyPrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", mw.KeyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCreateKeyHandler handles POST /api/v1/admin/keys. The raw key is
// returned once and never stored.
func NewCreateKeyHandler(keys KeyCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OwnerID string   `json:"owner_id"`
			Name    string   `json:"name"`
			Scopes  []string `json:"scopes"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Name) == "" {
			badRequest(w, "owner_id and name are required")
			return
		}
		if len(req.Scopes) == 0 {
			badRequest(w, "at least one scope is required")
			return
		}
		for _, s := range req.Scopes {
			if !models.ValidScope(s) {
				badRequest(w, fmt.Sprintf("unknown scope %q", s))
				return
			}
		}

		raw, err := GenerateKey()
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		key, err := NewAPIKey(raw, req.OwnerID, req.Name, req.Scopes)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.Created(w, map[string]any{
			"id":         key.ID,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"owner_id":   key.OwnerID,
			"name":       key.Name,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}
