package handler

import (
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// Durations are rendered as strings ("5m0s") rather than nanoseconds.

type jobView struct {
	*models.Job
	Deadline string `json:"deadline"`
}

func viewJob(j *models.Job) *jobView {
	if j == nil {
		return nil
	}
	return &jobView{Job: j, Deadline: j.Deadline.String()}
}

type bidView struct {
	*models.Bid
	EstimatedDuration string `json:"estimated_duration"`
}

func viewBid(b *models.Bid) *bidView {
	if b == nil {
		return nil
	}
	return &bidView{Bid: b, EstimatedDuration: b.EstimatedDuration.String()}
}

func viewBids(bids []*models.Bid) []*bidView {
	out := make([]*bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, viewBid(b))
	}
	return out
}

type assignmentView struct {
	Job *jobView `json:"job"`
	Bid *bidView `json:"bid"`
}

func viewAssignment(a *engine.Assignment) *assignmentView {
	if a == nil {
		return nil
	}
	return &assignmentView{Job: viewJob(a.Job), Bid: viewBid(a.Bid)}
}

type settlementView struct {
	Job         *jobView            `json:"job"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Remainder   *models.Transaction `json:"remainder,omitempty"`
}

func viewSettlement(s *engine.Settlement) *settlementView {
	if s == nil {
		return nil
	}
	return &settlementView{Job: viewJob(s.Job), Transaction: s.Transaction, Remainder: s.Remainder}
}

type rankedView struct {
	Bid         *bidView              `json:"bid"`
	Rank        int                   `json:"rank"`
	Score       float64               `json:"score"`
	Components  engine.ScoreBreakdown `json:"components"`
	AgentRating float64               `json:"agent_rating"`
}
