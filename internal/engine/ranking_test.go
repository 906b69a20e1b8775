package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

func rankJob() *models.Job {
	return &models.Job{
		ID:                   "job_rank",
		Budget:               dec("10"),
		Deadline:             10 * time.Minute,
		RequiredCapabilities: []string{"summarization"},
	}
}

func rankBid(id, agent, price string, conf float64, dur time.Duration, created time.Time) *models.Bid {
	return &models.Bid{
		ID:                id,
		JobID:             "job_rank",
		AgentID:           agent,
		Price:             dec(price),
		Confidence:        conf,
		EstimatedDuration: dur,
		Status:            models.BidStatusPending,
		CreatedAt:         created,
	}
}

func TestRankBids_Scores(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	strong := rankBid("bid_a", "agent_a", "5", 0.9, 2*time.Minute, t0)
	weak := rankBid("bid_b", "agent_b", "8", 0.6, 8*time.Minute, t0)
	parked := rankBid("bid_c", "agent_c", "1", 1.0, time.Minute, t0)
	parked.Status = models.BidStatusAwaitingApproval

	profiles := map[string]*models.AgentProfile{
		"agent_a": {
			AgentID:      "agent_a",
			Capabilities: map[string]float64{"summarization": 0.9},
			Reputation:   models.Reputation{RatingAvg: 4.5, RatingCount: 10, JobsCompleted: 10},
		},
	}

	ranked := engine.RankBids(rankJob(), []*models.Bid{weak, parked, strong}, profiles)
	require.Len(t, ranked, 2, "only pending bids are ranked")

	assert.Equal(t, "bid_a", ranked[0].Bid.ID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.InDelta(t, 0.773, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.5, ranked[0].Components.PriceFit, 1e-9)
	assert.InDelta(t, 0.8, ranked[0].Components.SpeedFit, 1e-9)
	assert.InDelta(t, 0.94, ranked[0].Components.Reputation, 1e-9)
	assert.Equal(t, 4.5, ranked[0].AgentRating)

	// No profile: neutral reputation and the default capability match.
	assert.Equal(t, "bid_b", ranked[1].Bid.ID)
	assert.Equal(t, 2, ranked[1].Rank)
	assert.InDelta(t, 0.36, ranked[1].Score, 1e-9)
	assert.InDelta(t, 0.8, ranked[1].Components.CapabilityMatch, 1e-9)
}

func TestRankBids_Ties(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	later := rankBid("bid_1", "agent_x", "5", 0.8, time.Minute, t0.Add(time.Second))
	earlier := rankBid("bid_2", "agent_y", "5", 0.8, time.Minute, t0)
	sameTimeHigh := rankBid("bid_4", "agent_z", "5", 0.8, time.Minute, t0)
	sameTimeLow := rankBid("bid_3", "agent_w", "5", 0.8, time.Minute, t0)

	ranked := engine.RankBids(rankJob(), []*models.Bid{later, sameTimeHigh, earlier, sameTimeLow}, nil)
	require.Len(t, ranked, 4)

	var order []string
	for _, r := range ranked {
		order = append(order, r.Bid.ID)
	}
	assert.Equal(t, []string{"bid_2", "bid_3", "bid_4", "bid_1"}, order)
	assert.Equal(t, ranked[0].Score, ranked[3].Score)
}

func TestRankBids_OverBudgetAndNoDeadline(t *testing.T) {
	job := rankJob()
	job.Deadline = 0
	b := rankBid("bid_1", "agent_x", "12", 0.5, time.Minute, time.Time{})

	ranked := engine.RankBids(job, []*models.Bid{b}, nil)
	require.Len(t, ranked, 1)
	assert.Equal(t, 0.0, ranked[0].Components.PriceFit)
	assert.Equal(t, 0.0, ranked[0].Components.SpeedFit)
}

func TestRank_UsesRegistryProfiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "5.00")

	veteran := h.agent(t, "veteran", nil)
	h.setReputation(t, veteran.ID, models.Reputation{RatingAvg: 5, RatingCount: 20, JobsCompleted: 20})
	novice := h.agent(t, "novice", nil)

	h.bid(t, job.ID, novice.ID, "3.00")
	want := h.bid(t, job.ID, veteran.ID, "3.00")

	ranked, err := h.eng.Rank(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, want.ID, ranked[0].Bid.ID)
	assert.Equal(t, 5.0, ranked[0].AgentRating)
}

func TestRank_IncludesBidsNeedingApproval(t *testing.T) {
	h := newHarness(t)
	job := h.post(t, "30.00")
	a := h.agent(t, "a", nil)
	c := h.agent(t, "c", nil)
	high := h.bid(t, job.ID, a.ID, "15.00")
	low := h.bid(t, job.ID, c.ID, "5.00")
	require.True(t, high.RequiresApproval)

	ranked, err := h.eng.Rank(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	ids := []string{ranked[0].Bid.ID, ranked[1].Bid.ID}
	assert.ElementsMatch(t, []string{high.ID, low.ID}, ids)
}

func TestRank_ProfileFailureIsNeutral(t *testing.T) {
	calls := 0
	flaky := profileFunc(func(_ context.Context, id string) (*models.AgentProfile, error) {
		calls++
		if calls == 1 {
			return &models.AgentProfile{AgentID: id, Status: models.AgentStatusAvailable,
				Capabilities: map[string]float64{"summarization": 0.9}}, nil
		}
		return nil, errors.New("registry unreachable")
	})
	h := newHarness(t, withCapabilities(flaky))
	job := h.post(t, "5.00")
	h.bid(t, job.ID, "agent_ext", "3.00")

	ranked, err := h.eng.Rank(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.2, ranked[0].Components.Reputation, 1e-9)
}
