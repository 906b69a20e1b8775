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

type staleList func(ctx context.Context, staleAfter time.Duration) ([]*models.Agent, error)

func (f staleList) StaleAgents(ctx context.Context, staleAfter time.Duration) ([]*models.Agent, error) {
	return f(ctx, staleAfter)
}

func TestExpireAgent_CancelsPendingBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j1 := h.post(t, "5.00")
	j2 := h.post(t, "5.00")
	a := h.agent(t, "a", nil)
	b1 := h.bid(t, j1.ID, a.ID, "2.00")
	b2 := h.bid(t, j2.ID, a.ID, "3.00")
	_, err := h.eng.CounterOffer(ctx, b2.ID, dec("2.50"), "", models.PartyPoster)
	require.NoError(t, err)

	n, err := h.eng.ExpireAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only pending bids are cancelled")

	got, err := h.eng.GetBid(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusCancelled, got.Status)
	assert.Equal(t, "agent_offline", *got.StatusReason)

	got, err = h.eng.GetBid(ctx, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusCounterOffered, got.Status)

	stored, err := h.store.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOffline, stored.Status)

	_, err = h.eng.SubmitBid(ctx, engine.BidRequest{JobID: j1.ID, AgentID: a.ID, Price: dec("1"), Confidence: 0.5})
	assert.Equal(t, engine.RuleAgentUnavailable, ruleOf(err))

	// Expiring twice is harmless.
	n, err = h.eng.ExpireAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExpireAgent_CancelsBidNeedingApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "30.00")
	a := h.agent(t, "a", nil)
	b := h.bid(t, job.ID, a.ID, "15.00")
	require.True(t, b.RequiresApproval)

	n, err := h.eng.ExpireAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.eng.GetBid(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusCancelled, got.Status)
	assert.Equal(t, "agent_offline", *got.StatusReason)

	pending, err := h.eng.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.eng.Approve(ctx, b.ID, "ops-lead")
	assert.True(t, errors.Is(err, engine.ErrInvalidState))

	j, err := h.eng.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, j.AssignedAgentID)
}

func TestExpireAgent_Unknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.ExpireAgent(context.Background(), "agent_missing")
	assert.Equal(t, engine.RuleNotFound, ruleOf(err))
}

func TestStaleAgentTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "5.00")
	stale := h.agent(t, "stale", nil)
	fresh := h.agent(t, "fresh", nil)
	h.bid(t, job.ID, stale.ID, "2.00")
	h.bid(t, job.ID, fresh.ID, "2.00")

	var asked time.Duration
	task := h.eng.StaleAgentTask(staleList(func(_ context.Context, after time.Duration) ([]*models.Agent, error) {
		asked = after
		return []*models.Agent{stale}, nil
	}), time.Minute, 90*time.Second)
	assert.Equal(t, "stale-agent-sweep", task.Name)

	require.NoError(t, task.Run(ctx))
	assert.Equal(t, 90*time.Second, asked)

	ranked, err := h.eng.Rank(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, fresh.ID, ranked[0].Bid.AgentID)
}

func TestStaleAgentTask_ListFailure(t *testing.T) {
	h := newHarness(t)
	task := h.eng.StaleAgentTask(staleList(func(context.Context, time.Duration) ([]*models.Agent, error) {
		return nil, errors.New("store down")
	}), time.Minute, time.Minute)

	assert.Error(t, task.Run(context.Background()))
}
