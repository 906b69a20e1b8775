package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JobStatusOpen             = "open"
	JobStatusPosted           = "posted"
	JobStatusBidding          = "bidding"
	JobStatusNegotiating      = "negotiating"
	JobStatusAwaitingApproval = "awaiting_approval"
	JobStatusAssigned         = "assigned"
	JobStatusInProgress       = "in_progress"
	JobStatusPendingReview    = "pending_review"
	JobStatusCompleted        = "completed"
	JobStatusDisputed         = "disputed"
	JobStatusCancelled        = "cancelled"
)

// Job is a unit of escrowed work. Version is bumped on every successful write
// and used for compare-and-swap updates.
type Job struct {
	ID                   string             `db:"id"                     json:"job_id"`
	PosterID             string             `db:"poster_id"              json:"poster_id"`
	Title                string             `db:"title"                  json:"title"`
	Description          string             `db:"description"            json:"description"`
	TaskType             string             `db:"task_type"              json:"task_type,omitempty"`
	Status               string             `db:"status"                 json:"status"`
	Budget               decimal.Decimal    `db:"budget"                 json:"budget"`
	RequiredCapabilities []string           `db:"required_capabilities"  json:"required_capabilities"`
	MinCapabilityScore   float64            `db:"min_capability_score"   json:"min_capability_score"`
	Deadline             time.Duration      `db:"deadline"               json:"deadline"`
	BidDeadline          *time.Time         `db:"bid_deadline"           json:"bid_deadline,omitempty"`
	EscrowRef            string             `db:"escrow_ref"             json:"escrow_ref"`
	BidCount             int                `db:"bid_count"              json:"bid_count"`
	WinningBidID         *string            `db:"winning_bid_id"         json:"winning_bid_id,omitempty"`
	AssignedAgentID      *string            `db:"assigned_agent_id"      json:"assigned_agent_id,omitempty"`
	FinalPrice           *decimal.Decimal   `db:"final_price"            json:"final_price,omitempty"`
	ResultRef            *string            `db:"result_ref"             json:"result_ref,omitempty"`
	Suggestion           *QualitySuggestion `db:"suggestion"             json:"quality_suggestion,omitempty"`
	QualityScore         *float64           `db:"quality_score"          json:"quality_score,omitempty"`
	Review               *ReviewDecision    `db:"review"                 json:"review,omitempty"`
	CancelReason         *string            `db:"cancel_reason"          json:"cancel_reason,omitempty"`
	Version              int                `db:"version"                json:"version"`
	CreatedAt            time.Time          `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"             json:"updated_at"`
}

// IsTerminal reports whether the job accepts no further mutation.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusDisputed, JobStatusCancelled:
		return true
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (j *Job) Clone() *Job {
	c := *j
	c.RequiredCapabilities = append([]string(nil), j.RequiredCapabilities...)
	if j.BidDeadline != nil {
		t := *j.BidDeadline
		c.BidDeadline = &t
	}
	if j.WinningBidID != nil {
		s := *j.WinningBidID
		c.WinningBidID = &s
	}
	if j.AssignedAgentID != nil {
		s := *j.AssignedAgentID
		c.AssignedAgentID = &s
	}
	if j.FinalPrice != nil {
		p := *j.FinalPrice
		c.FinalPrice = &p
	}
	if j.ResultRef != nil {
		s := *j.ResultRef
		c.ResultRef = &s
	}
	if j.Suggestion != nil {
		s := *j.Suggestion
		c.Suggestion = &s
	}
	if j.QualityScore != nil {
		q := *j.QualityScore
		c.QualityScore = &q
	}
	if j.Review != nil {
		r := *j.Review
		c.Review = &r
	}
	if j.CancelReason != nil {
		s := *j.CancelReason
		c.CancelReason = &s
	}
	return &c
}
