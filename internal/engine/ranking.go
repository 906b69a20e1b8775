package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// Ranking weights.
const (
	weightPrice      = 0.30
	weightConfidence = 0.25
	weightReputation = 0.20
	weightSpeed      = 0.15
	weightCapability = 0.10

	defaultCapabilityMatch = 0.8
)

// ScoreBreakdown holds the component scores behind a rank, each in [0, 1].
type ScoreBreakdown struct {
	PriceFit        float64 `json:"price_fit"`
	Confidence      float64 `json:"confidence"`
	Reputation      float64 `json:"reputation"`
	SpeedFit        float64 `json:"speed_fit"`
	CapabilityMatch float64 `json:"capability_match"`
}

// RankedBid is a pending bid annotated with its position and score.
type RankedBid struct {
	Bid         *models.Bid    `json:"bid"`
	Rank        int            `json:"rank"`
	Score       float64        `json:"score"`
	Components  ScoreBreakdown `json:"components"`
	AgentRating float64        `json:"agent_rating"`
}

// Rank scores the pending bids on a job, best first. Agents whose profile
// cannot be fetched are scored with a neutral profile.
func (e *Engine) Rank(ctx context.Context, jobID string) ([]RankedBid, error) {
	job, err := e.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	bids, err := e.store.ListBids(ctx, store.BidFilter{JobID: jobID, Statuses: []string{models.BidStatusPending}})
	if err != nil {
		return nil, fmt.Errorf("list pending bids for job %s: %w", jobID, err)
	}

	profiles := make(map[string]*models.AgentProfile, len(bids))
	for _, b := range bids {
		if _, ok := profiles[b.AgentID]; ok {
			continue
		}
		p, err := e.capabilities.AgentProfile(ctx, b.AgentID)
		if err != nil {
			slog.Warn("ranking with neutral profile", "job_id", jobID, "agent_id", b.AgentID, "error", err)
			p = nil
		}
		profiles[b.AgentID] = p
	}

	ranked := RankBids(job, bids, profiles)
	if len(ranked) > 0 {
		slog.Info("bids_ranked", "job_id", jobID, "bid_count", len(ranked), "top_bid", ranked[0].Bid.ID)
	}
	return ranked, nil
}

// RankBids is the pure scoring function behind Rank. Only pending bids are
// ranked. A missing profile counts as no rating history and a neutral
// capability match. Ties go to the earlier bid.
func RankBids(job *models.Job, bids []*models.Bid, profiles map[string]*models.AgentProfile) []RankedBid {
	out := make([]RankedBid, 0, len(bids))
	for _, b := range bids {
		if b.Status != models.BidStatusPending {
			continue
		}
		c, rating := scoreBid(job, b, profiles[b.AgentID])
		score := c.PriceFit*weightPrice +
			c.Confidence*weightConfidence +
			c.Reputation*weightReputation +
			c.SpeedFit*weightSpeed +
			c.CapabilityMatch*weightCapability
		out = append(out, RankedBid{
			Bid:         b,
			Score:       math.Round(score*1000) / 1000,
			Components:  c,
			AgentRating: rating,
		})
	}

	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Score != out[k].Score {
			return out[i].Score > out[k].Score
		}
		if !out[i].Bid.CreatedAt.Equal(out[k].Bid.CreatedAt) {
			return out[i].Bid.CreatedAt.Before(out[k].Bid.CreatedAt)
		}
		return out[i].Bid.ID < out[k].Bid.ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func scoreBid(job *models.Job, b *models.Bid, p *models.AgentProfile) (ScoreBreakdown, float64) {
	var c ScoreBreakdown

	price, _ := b.Price.Div(job.Budget).Float64()
	c.PriceFit = math.Max(0, 1-price)
	c.Confidence = b.Confidence
	if job.Deadline > 0 {
		c.SpeedFit = math.Max(0, 1-float64(b.EstimatedDuration)/float64(job.Deadline))
	}

	rep := models.Reputation{}
	if p != nil {
		rep = p.Reputation
	}
	c.Reputation = 0.6*(rep.RatingAvg/5) + 0.4*rep.SuccessRate()

	c.CapabilityMatch = defaultCapabilityMatch
	if len(job.RequiredCapabilities) > 0 && p != nil {
		sum := 0.0
		for _, name := range job.RequiredCapabilities {
			sum += p.Capabilities[name]
		}
		c.CapabilityMatch = sum / float64(len(job.RequiredCapabilities))
	}
	return c, rep.RatingAvg
}
