// Package models contains the record types and collaborator contracts shared
// across the AgentBazaar codebase.
package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransferResult is the outcome of a gateway transfer. A false Success with a
// nil error means the gateway answered and declined.
type TransferResult struct {
	Success bool   `json:"success"`
	Ref     string `json:"ref,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EscrowRequest holds funds for a job.
type EscrowRequest struct {
	JobID          string
	Payer          string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// ReleaseRequest pays out part of an escrow.
type ReleaseRequest struct {
	EscrowRef      string
	Payee          string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// RefundRequest returns escrowed funds to the payer.
type RefundRequest struct {
	EscrowRef      string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// PaymentGateway moves money. Implementations must treat a repeated
// IdempotencyKey as the same transfer.
type PaymentGateway interface {
	Escrow(ctx context.Context, req EscrowRequest) (TransferResult, error)
	Release(ctx context.Context, req ReleaseRequest) (TransferResult, error)
	Refund(ctx context.Context, req RefundRequest) (TransferResult, error)
	Name() string
}

// CapabilityProvider supplies agent capability scores and reputation,
// consumed read-only by submission and ranking.
type CapabilityProvider interface {
	AgentProfile(ctx context.Context, agentID string) (*AgentProfile, error)
}

// QualityRequest is the context handed to a quality suggestion provider.
type QualityRequest struct {
	JobID       string
	Title       string
	Description string
	TaskType    string
	ResultRef   string
}

// QualityProvider scores a job result. The score is advisory only.
type QualityProvider interface {
	SuggestQuality(ctx context.Context, req QualityRequest) (QualitySuggestion, error)
	Name() string
}

const (
	ActionAccept  = "ACCEPT"
	ActionCounter = "COUNTER"
	ActionReject  = "REJECT"
)

// NegotiationContext is what a negotiation decision collaborator sees.
type NegotiationContext struct {
	JobID         string
	Title         string
	Description   string
	Budget        decimal.Decimal
	BidID         string
	AgentID       string
	OriginalPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	Limit         decimal.Decimal
	Role          string
	History       []CounterOffer
	RoundsLeft    int
}

// NegotiationDecision is one of ACCEPT, COUNTER price/message, REJECT reason.
type NegotiationDecision struct {
	Action  string
	Price   decimal.Decimal
	Message string
	Reason  string
}

// Negotiator decides the next move on behalf of a poster or an agent.
type Negotiator interface {
	Decide(ctx context.Context, nc NegotiationContext) (NegotiationDecision, error)
	Name() string
}

// Event is a notification emitted on lifecycle milestones.
type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

const (
	EventJobPosted   = "job.posted"
	EventBidSelected = "bid.selected"
	EventJobAssigned = "job.assigned"
)

// Notifier delivers events best-effort. Implementations must not block the
// caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}
