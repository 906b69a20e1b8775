package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AgentStatusAvailable = "available"
	AgentStatusBusy      = "busy"
	AgentStatusOffline   = "offline"
)

// Reputation is the settlement-maintained track record of an agent.
type Reputation struct {
	RatingAvg     float64         `db:"rating_avg"     json:"rating_avg"`
	RatingCount   int             `db:"rating_count"   json:"rating_count"`
	JobsCompleted int             `db:"jobs_completed" json:"jobs_completed"`
	JobsFailed    int             `db:"jobs_failed"    json:"jobs_failed"`
	TotalEarned   decimal.Decimal `db:"total_earned"   json:"total_earned"`
}

// Agent is a registered bidder. Capabilities maps capability name to a
// declared 0-1 proficiency score.
type Agent struct {
	ID              string             `db:"id"               json:"agent_id"`
	OwnerID         string             `db:"owner_id"         json:"owner_id"`
	Name            string             `db:"name"             json:"name"`
	Status          string             `db:"status"           json:"status"`
	Capabilities    map[string]float64 `db:"capabilities"     json:"capabilities"`
	Reputation      Reputation         `db:"-"                json:"reputation"`
	WebhookURL      string             `db:"webhook_url"      json:"webhook_url,omitempty"`
	CurrentCapacity int                `db:"current_capacity" json:"current_capacity"`
	LastActive      *time.Time         `db:"last_active"      json:"last_active,omitempty"`
	Version         int                `db:"version"          json:"version"`
	CreatedAt       time.Time          `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"       json:"updated_at"`
}

// SuccessRate is completed/(completed+failed), or 0.5 with no history.
func (r Reputation) SuccessRate() float64 {
	total := r.JobsCompleted + r.JobsFailed
	if total == 0 {
		return 0.5
	}
	return float64(r.JobsCompleted) / float64(total)
}

// Clone returns a deep copy.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = make(map[string]float64, len(a.Capabilities))
		for k, v := range a.Capabilities {
			c.Capabilities[k] = v
		}
	}
	if a.LastActive != nil {
		t := *a.LastActive
		c.LastActive = &t
	}
	return &c
}

// AgentProfile is the read-only view of an agent consumed by submission and
// ranking.
type AgentProfile struct {
	AgentID      string             `json:"agent_id"`
	Status       string             `json:"status"`
	Capabilities map[string]float64 `json:"capabilities"`
	Reputation   Reputation         `json:"reputation"`
}
