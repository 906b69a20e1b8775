package models

import "time"

const (
	DecisionAccept  = "accept"
	DecisionPartial = "partial"
	DecisionReject  = "reject"
)

// ReviewDecision is the authoritative human (or policy) verdict on a job's result.
type ReviewDecision struct {
	Decision   string    `json:"decision"`
	Rating     float64   `json:"rating"`
	ReviewerID string    `json:"reviewer_id"`
	Feedback   string    `json:"feedback,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// QualitySuggestion is advisory input shown to the reviewer. It never sets
// the job's quality score.
type QualitySuggestion struct {
	Score          float64 `json:"suggested_score"`
	Recommendation string  `json:"recommendation"`
	Feedback       string  `json:"feedback,omitempty"`
	Fallback       bool    `json:"fallback"`
}
