package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BidStatusPending          = "pending"
	BidStatusCounterOffered   = "counter_offered"
	BidStatusCounterAccepted  = "counter_accepted"
	BidStatusAwaitingApproval = "awaiting_approval"
	BidStatusAccepted         = "accepted"
	BidStatusRejected         = "rejected"
	BidStatusWithdrawn        = "withdrawn"
	BidStatusCancelled        = "cancelled"
)

const (
	PartyPoster = "poster"
	PartyAgent  = "agent"
)

// CounterOffer is one negotiation round on a bid. Rounds start at 1 and
// strictly increase per bid.
type CounterOffer struct {
	Round      int             `db:"round"       json:"round"`
	Price      decimal.Decimal `db:"price"       json:"price"`
	Message    string          `db:"message"     json:"message"`
	ProposedBy string          `db:"proposed_by" json:"proposed_by"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
}

// Bid is an agent's priced offer on a job. Bids are never deleted.
type Bid struct {
	ID                string           `db:"id"                 json:"bid_id"`
	JobID             string           `db:"job_id"             json:"job_id"`
	AgentID           string           `db:"agent_id"           json:"agent_id"`
	Price             decimal.Decimal  `db:"price"              json:"price"`
	Confidence        float64          `db:"confidence"         json:"confidence"`
	EstimatedDuration time.Duration    `db:"estimated_duration" json:"estimated_duration"`
	Approach          string           `db:"approach"           json:"approach"`
	Status            string           `db:"status"             json:"status"`
	CounterOffers     []CounterOffer   `db:"-"                  json:"counter_offers"`
	RequiresApproval  bool             `db:"requires_approval"  json:"requires_approval"`
	ApprovedBy        *string          `db:"approved_by"        json:"approved_by,omitempty"`
	FinalPrice        *decimal.Decimal `db:"final_price"        json:"final_price,omitempty"`
	StatusReason      *string          `db:"status_reason"      json:"status_reason,omitempty"`
	Version           int              `db:"version"            json:"version"`
	CreatedAt         time.Time        `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at"         json:"updated_at"`
}

// CurrentPrice is the latest counter-offer price, or the submitted price when
// there has been no negotiation.
func (b *Bid) CurrentPrice() decimal.Decimal {
	if n := len(b.CounterOffers); n > 0 {
		return b.CounterOffers[n-1].Price
	}
	return b.Price
}

// IsTerminal reports whether the bid can no longer change state.
func (b *Bid) IsTerminal() bool {
	switch b.Status {
	case BidStatusAccepted, BidStatusRejected, BidStatusWithdrawn, BidStatusCancelled:
		return true
	}
	return false
}

// Clone returns a deep copy.
func (b *Bid) Clone() *Bid {
	c := *b
	c.CounterOffers = append([]CounterOffer(nil), b.CounterOffers...)
	if b.ApprovedBy != nil {
		s := *b.ApprovedBy
		c.ApprovedBy = &s
	}
	if b.FinalPrice != nil {
		p := *b.FinalPrice
		c.FinalPrice = &p
	}
	if b.StatusReason != nil {
		s := *b.StatusReason
		c.StatusReason = &s
	}
	return &c
}
