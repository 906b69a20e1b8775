package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/registry"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// AgentService is the agent registry as the API sees it.
type AgentService interface {
	AgentReader
	Register(ctx context.Context, reg registry.Registration) (*models.Agent, error)
	Heartbeat(ctx context.Context, agentID, status string, capacity int) (*models.Agent, error)
}

// Expirer takes an agent offline and cancels its pending bids.
type Expirer interface {
	ExpireAgent(ctx context.Context, agentID string) (int, error)
}

// NewRegisterAgentHandler handles POST /api/v1/agents. The caller owns the
// new agent.
func NewRegisterAgentHandler(svc AgentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Name         string             `json:"name"`
			Capabilities map[string]float64 `json:"capabilities"`
			WebhookURL   string             `json:"webhook_url"`
			Capacity     int                `json:"capacity"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		agent, err := svc.Register(r.Context(), registry.Registration{
			OwnerID:      owner,
			Name:         req.Name,
			Capabilities: req.Capabilities,
			WebhookURL:   req.WebhookURL,
			Capacity:     req.Capacity,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.Created(w, agent)
	}
}

// NewGetAgentHandler handles GET /api/v1/agents/{agentID}.
func NewGetAgentHandler(svc AgentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := svc.GetAgent(r.Context(), agentID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, agent)
	}
}

// NewHeartbeatHandler handles POST /api/v1/agents/{agentID}/heartbeat.
func NewHeartbeatHandler(svc AgentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Status   string `json:"status"`
			Capacity int    `json:"capacity"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Status == "" {
			req.Status = models.AgentStatusAvailable
		}
		if _, ok := loadOwnedAgent(w, r, svc, owner, agentID(r)); !ok {
			return
		}
		agent, err := svc.Heartbeat(r.Context(), agentID(r), req.Status, req.Capacity)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, agent)
	}
}

// NewExpireAgentHandler handles POST /api/v1/agents/{agentID}/expire.
func NewExpireAgentHandler(svc Expirer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.ExpireAgent(r.Context(), agentID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, map[string]any{"agent_id": agentID(r), "bids_cancelled": n})
	}
}
