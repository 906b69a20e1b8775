// Package registry manages agent registration and liveness, and serves agent
// profiles to the engine as its capability provider.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/internal/cache"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCooldown     = errors.New("registration cooldown active")
	ErrInvalidInput = errors.New("invalid agent input")
)

const (
	profileTTL       = 30 * time.Second
	heartbeatRetries = 3
)

// Registration is the input for registering a new agent.
type Registration struct {
	OwnerID      string
	Name         string
	Capabilities map[string]float64
	WebhookURL   string
	Capacity     int
}

// Registry is safe for concurrent use.
type Registry struct {
	store    store.Store
	cache    cache.Cache
	cooldown time.Duration
	group    singleflight.Group
	now      func() time.Time
}

func New(st store.Store, c cache.Cache, cooldown time.Duration) *Registry {
	return &Registry{
		store:    st,
		cache:    c,
		cooldown: cooldown,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Register(ctx context.Context, reg Registration) (*models.Agent, error) {
	if strings.TrimSpace(reg.OwnerID) == "" || strings.TrimSpace(reg.Name) == "" {
		return nil, fmt.Errorf("%w: owner_id and name are required", ErrInvalidInput)
	}
	for name, score := range reg.Capabilities {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("%w: capability %q score %v outside [0,1]", ErrInvalidInput, name, score)
		}
	}
	if reg.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must not be negative", ErrInvalidInput)
	}

	if r.cooldown > 0 {
		ok, err := r.cache.SetNX(ctx, cache.RegistrationCooldownKey(reg.OwnerID), []byte("1"), r.cooldown)
		if err != nil {
			// Cache outage must not block onboarding.
			slog.Warn("registration cooldown check failed", "owner_id", reg.OwnerID, "error", err)
		} else if !ok {
			return nil, fmt.Errorf("%w: owner %s may register again after %s", ErrCooldown, reg.OwnerID, r.cooldown)
		}
	}

	now := r.now()
	caps := make(map[string]float64, len(reg.Capabilities))
	for k, v := range reg.Capabilities {
		caps[k] = v
	}
	agent := &models.Agent{
		ID:              "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		OwnerID:         reg.OwnerID,
		Name:            reg.Name,
		Status:          models.AgentStatusAvailable,
		Capabilities:    caps,
		WebhookURL:      reg.WebhookURL,
		CurrentCapacity: reg.Capacity,
		LastActive:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.Apply(ctx, new(store.Batch).PutAgent(agent, 0)); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	slog.Info("agent_registered", "agent_id", agent.ID, "owner_id", agent.OwnerID, "capabilities", len(caps))
	return agent, nil
}

// Heartbeat stamps last_active and records the self-reported status.
func (r *Registry) Heartbeat(ctx context.Context, agentID, status string, capacity int) (*models.Agent, error) {
	switch status {
	case models.AgentStatusAvailable, models.AgentStatusBusy, models.AgentStatusOffline:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}

	var err error
	for attempt := 0; attempt < heartbeatRetries; attempt++ {
		var agent *models.Agent
		agent, err = r.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		upd := agent.Clone()
		now := r.now()
		upd.Status = status
		upd.CurrentCapacity = capacity
		upd.LastActive = &now

		err = r.store.Apply(ctx, new(store.Batch).PutAgent(upd, agent.Version))
		if err == nil {
			r.Invalidate(ctx, agentID)
			return upd, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("record heartbeat: %w", err)
		}
	}
	return nil, fmt.Errorf("record heartbeat: %w", err)
}

func (r *Registry) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// AgentProfile serves the read-only view used by submission and ranking.
// Lookups are cached briefly and concurrent misses for one agent share a
// single store read.
func (r *Registry) AgentProfile(ctx context.Context, agentID string) (*models.AgentProfile, error) {
	key := cache.AgentProfileKey(agentID)
	if raw, found, err := r.cache.Get(ctx, key); err == nil && found {
		var p models.AgentProfile
		if json.Unmarshal(raw, &p) == nil {
			return &p, nil
		}
	}

	v, err, _ := r.group.Do(agentID, func() (any, error) {
		agent, err := r.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		p := &models.AgentProfile{
			AgentID:      agent.ID,
			Status:       agent.Status,
			Capabilities: agent.Capabilities,
			Reputation:   agent.Reputation,
		}
		if raw, err := json.Marshal(p); err == nil {
			_ = r.cache.Set(ctx, key, raw, profileTTL)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*models.AgentProfile)
	return &p, nil
}

// Invalidate drops a cached profile after the agent record changed.
func (r *Registry) Invalidate(ctx context.Context, agentID string) {
	if err := r.cache.Delete(ctx, cache.AgentProfileKey(agentID)); err != nil {
		slog.Warn("agent profile invalidation failed", "agent_id", agentID, "error", err)
	}
}

// StaleAgents lists available or busy agents whose last heartbeat is older
// than staleAfter, including agents that never sent one.
func (r *Registry) StaleAgents(ctx context.Context, staleAfter time.Duration) ([]*models.Agent, error) {
	cutoff := r.now().Add(-staleAfter)
	return r.store.ListAgents(ctx, store.AgentFilter{
		Statuses:     []string{models.AgentStatusAvailable, models.AgentStatusBusy},
		ActiveBefore: &cutoff,
	})
}

var _ models.CapabilityProvider = (*Registry)(nil)
