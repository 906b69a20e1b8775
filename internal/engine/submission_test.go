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

func TestSubmitBid_Admitted(t *testing.T) {
	h := newHarness(t)
	job := h.post(t, "1.50")
	a := h.agent(t, "a", nil)

	b := h.bid(t, job.ID, a.ID, "1.25")
	assert.Contains(t, b.ID, "bid_")
	assert.Equal(t, models.BidStatusPending, b.Status)
	assert.False(t, b.RequiresApproval)
	assert.Empty(t, b.CounterOffers)

	got, err := h.eng.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBidding, got.Status)
	assert.Equal(t, 1, got.BidCount)
}

func TestSubmitBid_Rules(t *testing.T) {
	tests := []struct {
		name      string
		budget    string
		price     string
		caps      map[string]float64
		minScore  *float64
		required  []string
		wantRule  string
		wantError error
	}{
		{
			name:     "over budget",
			budget:   "5.00",
			price:    "6.00",
			wantRule: engine.RuleOverBudget,
		},
		{
			name:     "capability gap",
			budget:   "5.00",
			price:    "2.00",
			caps:     map[string]float64{"anomaly_detection": 0.85},
			minScore: ptr(0.99),
			required: []string{"anomaly_detection"},
			wantRule: engine.RuleCapabilityGap,
		},
		{
			name:     "missing capability",
			budget:   "5.00",
			price:    "2.00",
			caps:     map[string]float64{"summarization": 0.9},
			required: []string{"summarization", "translation"},
			wantRule: engine.RuleCapabilityGap,
		},
		{
			name:     "zero price",
			budget:   "5.00",
			price:    "0",
			wantRule: engine.RuleInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			job := h.post(t, tt.budget, func(r *engine.PostRequest) {
				if tt.required != nil {
					r.RequiredCapabilities = tt.required
				}
				r.MinCapabilityScore = tt.minScore
			})
			a := h.agent(t, "a", tt.caps)

			_, err := h.eng.SubmitBid(context.Background(), engine.BidRequest{
				JobID: job.ID, AgentID: a.ID, Price: dec(tt.price), Confidence: 0.9,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, engine.ErrValidation))
			assert.Equal(t, tt.wantRule, ruleOf(err))

			got, err := h.eng.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.BidCount)
			assert.Equal(t, models.JobStatusOpen, got.Status)
		})
	}
}

func TestSubmitBid_DeadlinePassed(t *testing.T) {
	h := newHarness(t)
	job := h.post(t, "2.00")
	a := h.agent(t, "a", nil)

	h.clock.Advance(5*time.Minute + time.Second)
	_, err := h.eng.SubmitBid(context.Background(), engine.BidRequest{
		JobID: job.ID, AgentID: a.ID, Price: dec("1.00"), Confidence: 0.9,
	})
	assert.Equal(t, engine.RuleDeadlinePassed, ruleOf(err))
}

func TestSubmitBid_AgentUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "2.00")
	a := h.agent(t, "a", nil)

	_, err := h.reg.Heartbeat(ctx, a.ID, models.AgentStatusOffline, 0)
	require.NoError(t, err)

	_, err = h.eng.SubmitBid(ctx, engine.BidRequest{JobID: job.ID, AgentID: a.ID, Price: dec("1.00"), Confidence: 0.9})
	assert.Equal(t, engine.RuleAgentUnavailable, ruleOf(err))

	_, err = h.eng.SubmitBid(ctx, engine.BidRequest{JobID: job.ID, AgentID: "agent_unknown", Price: dec("1.00"), Confidence: 0.9})
	assert.Equal(t, engine.RuleNotFound, ruleOf(err))
}

func TestSubmitBid_CapabilityProviderDown(t *testing.T) {
	down := profileFunc(func(context.Context, string) (*models.AgentProfile, error) {
		return nil, errors.New("registry unreachable")
	})
	h := newHarness(t, withCapabilities(down))
	job := h.post(t, "2.00")

	_, err := h.eng.SubmitBid(context.Background(), engine.BidRequest{JobID: job.ID, AgentID: "agent_x", Price: dec("1.00"), Confidence: 0.9})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrExternalCollaborator))
	assert.False(t, errors.Is(err, engine.ErrValidation))
}

func TestSubmitBid_ApprovalThreshold(t *testing.T) {
	h := newHarness(t)
	job := h.post(t, "30.00")
	a := h.agent(t, "a", nil)
	b := h.bid(t, job.ID, a.ID, "10.00")

	assert.True(t, b.RequiresApproval)
	assert.Equal(t, models.BidStatusPending, b.Status, "a high-value bid stays rankable")
	assert.Nil(t, b.ApprovedBy)

	got, err := h.eng.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBidding, got.Status)

	_, err = h.eng.Assign(context.Background(), job.ID, b.ID)
	assert.True(t, errors.Is(err, engine.ErrInvalidState), "assignment waits for approval")
}

func TestSubmitBid_AfterAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "2.00")
	a := h.agent(t, "a", nil)
	late := h.agent(t, "late", nil)
	b := h.bid(t, job.ID, a.ID, "1.00")
	_, err := h.eng.Assign(ctx, job.ID, b.ID)
	require.NoError(t, err)

	_, err = h.eng.SubmitBid(ctx, engine.BidRequest{JobID: job.ID, AgentID: late.ID, Price: dec("1.00"), Confidence: 0.9})
	assert.Equal(t, engine.RuleJobNotAcceptingBids, ruleOf(err))
}

func TestWithdrawBid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.post(t, "2.00")
	a := h.agent(t, "a", nil)
	other := h.agent(t, "other", nil)
	b := h.bid(t, job.ID, a.ID, "1.00")

	_, err := h.eng.WithdrawBid(ctx, b.ID, other.ID)
	assert.Equal(t, engine.RuleNotBidOwner, ruleOf(err))

	got, err := h.eng.WithdrawBid(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusWithdrawn, got.Status)

	_, err = h.eng.WithdrawBid(ctx, b.ID, a.ID)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))

	_, err = h.eng.Assign(ctx, job.ID, b.ID)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))
}

func ptr[T any](v T) *T { return &v }
