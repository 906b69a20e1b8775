package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

func negotiated(status string) *models.Bid {
	return &models.Bid{
		Status:        status,
		CounterOffers: []models.CounterOffer{{Round: 1, Price: decimal.NewFromInt(4)}},
	}
}

func TestNegotiationPhase(t *testing.T) {
	tests := []struct {
		name string
		job  string
		bids []*models.Bid
		want string
	}{
		{"no bids keeps open", models.JobStatusOpen, nil, models.JobStatusOpen},
		{"plain bids", models.JobStatusBidding, []*models.Bid{{Status: models.BidStatusPending}}, models.JobStatusBidding},
		{"parked submission does not hold the job", models.JobStatusBidding,
			[]*models.Bid{{Status: models.BidStatusAwaitingApproval}}, models.JobStatusBidding},
		{"counter offered", models.JobStatusBidding,
			[]*models.Bid{{Status: models.BidStatusPending}, negotiated(models.BidStatusCounterOffered)}, models.JobStatusNegotiating},
		{"counter accepted", models.JobStatusNegotiating,
			[]*models.Bid{negotiated(models.BidStatusCounterAccepted)}, models.JobStatusNegotiating},
		{"approval wins", models.JobStatusNegotiating,
			[]*models.Bid{negotiated(models.BidStatusCounterOffered), negotiated(models.BidStatusAwaitingApproval)}, models.JobStatusAwaitingApproval},
		{"terminal negotiations release the job", models.JobStatusNegotiating,
			[]*models.Bid{negotiated(models.BidStatusRejected), {Status: models.BidStatusPending}}, models.JobStatusBidding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &models.Job{Status: tt.job, BidCount: len(tt.bids)}
			assert.Equal(t, tt.want, negotiationPhase(job, tt.bids))
		})
	}
}

func TestSyncPhase_IgnoresAssignedJobs(t *testing.T) {
	job := &models.Job{Status: models.JobStatusAssigned, BidCount: 1}
	changed := syncPhase(job, []*models.Bid{negotiated(models.BidStatusCounterOffered)})
	assert.False(t, changed)
	assert.Equal(t, models.JobStatusAssigned, job.Status)
}

func TestCanNegotiate(t *testing.T) {
	final := decimal.NewFromInt(3)
	assert.True(t, canNegotiate(&models.Bid{Status: models.BidStatusPending}))
	assert.True(t, canNegotiate(&models.Bid{Status: models.BidStatusAwaitingApproval}))
	assert.False(t, canNegotiate(&models.Bid{Status: models.BidStatusAwaitingApproval, FinalPrice: &final}))
	assert.False(t, canNegotiate(&models.Bid{Status: models.BidStatusCounterAccepted}))
	assert.False(t, canNegotiate(&models.Bid{Status: models.BidStatusWithdrawn}))
}

func TestAwaitsApproval(t *testing.T) {
	by := "ops-lead"
	assert.True(t, awaitsApproval(&models.Bid{Status: models.BidStatusAwaitingApproval}))
	assert.True(t, awaitsApproval(&models.Bid{Status: models.BidStatusPending, RequiresApproval: true}))
	assert.False(t, awaitsApproval(&models.Bid{Status: models.BidStatusPending}))
	assert.False(t, awaitsApproval(&models.Bid{Status: models.BidStatusPending, RequiresApproval: true, ApprovedBy: &by}))
	assert.False(t, awaitsApproval(&models.Bid{Status: models.BidStatusCancelled, RequiresApproval: true}))
	assert.False(t, awaitsApproval(&models.Bid{Status: models.BidStatusCounterOffered, RequiresApproval: true}))
}

func TestDeref(t *testing.T) {
	id := "agent_a"
	assert.Equal(t, "agent_a", deref(&id))
	assert.Equal(t, "", deref(nil))
}

func TestApplyReputation(t *testing.T) {
	r := models.Reputation{RatingAvg: 4.0, RatingCount: 3, JobsCompleted: 3}
	applyReputation(&r, models.DecisionAccept, 1.0)
	assert.InDelta(t, 4.25, r.RatingAvg, 1e-9)
	assert.Equal(t, 4, r.RatingCount)
	assert.Equal(t, 4, r.JobsCompleted)

	applyReputation(&r, models.DecisionReject, 0)
	assert.InDelta(t, 3.4, r.RatingAvg, 1e-9)
	assert.Equal(t, 1, r.JobsFailed)
}
