package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// BidRequest is an agent's offer on a job.
type BidRequest struct {
	JobID             string
	AgentID           string
	Price             decimal.Decimal
	Confidence        float64
	EstimatedDuration time.Duration
	Approach          string
}

// SubmitBid admits a bid after checking the job is taking bids, the bid
// window is open, the price fits the budget and the agent is available and
// meets every required capability. A bid priced at or above the approval
// threshold is parked in awaiting_approval.
func (e *Engine) SubmitBid(ctx context.Context, req BidRequest) (*models.Bid, error) {
	switch {
	case req.JobID == "":
		return nil, invalid(RuleInvalidInput, "job_id is required")
	case req.AgentID == "":
		return nil, invalid(RuleInvalidInput, "agent_id is required")
	case !req.Price.IsPositive():
		return nil, invalid(RuleInvalidInput, "price must be positive, got %s", req.Price)
	case req.Confidence < 0 || req.Confidence > 1:
		return nil, invalid(RuleInvalidInput, "confidence must be in [0, 1], got %v", req.Confidence)
	case req.EstimatedDuration < 0:
		return nil, invalid(RuleInvalidInput, "estimated_duration must not be negative")
	}

	profile, err := e.capabilities.AgentProfile(ctx, req.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid(RuleNotFound, "agent %s not found", req.AgentID)
	}
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "capability provider", Err: err}
	}
	if profile.Status != models.AgentStatusAvailable {
		return nil, invalid(RuleAgentUnavailable, "agent %s is not available (status: %s)", req.AgentID, profile.Status)
	}

	var bid *models.Bid
	err = e.withJobLock(ctx, req.JobID, func(ctx context.Context) error {
		job, err := e.loadJob(ctx, req.JobID)
		if err != nil {
			return err
		}
		if err := e.admit(job, profile, req); err != nil {
			return err
		}

		now := e.now()
		bid = &models.Bid{
			ID:                newID("bid"),
			JobID:             job.ID,
			AgentID:           req.AgentID,
			Price:             req.Price,
			Confidence:        req.Confidence,
			EstimatedDuration: req.EstimatedDuration,
			Approach:          req.Approach,
			Status:            models.BidStatusPending,
			RequiresApproval:  req.Price.GreaterThanOrEqual(e.policy.ApprovalThreshold),
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		v := job.Version
		job.BidCount++
		if job.Status == models.JobStatusOpen || job.Status == models.JobStatusPosted {
			job.Status = models.JobStatusBidding
		}
		b := (&store.Batch{}).PutBid(bid, 0).PutJob(job, v)
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("submit bid on job %s: %w", job.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bidsSubmitted.Add(ctx, 1)
	slog.Info("bid_submitted",
		"bid_id", bid.ID,
		"job_id", bid.JobID,
		"agent_id", bid.AgentID,
		"price", bid.Price.String(),
		"requires_approval", bid.RequiresApproval,
	)
	return bid, nil
}

func (e *Engine) admit(job *models.Job, profile *models.AgentProfile, req BidRequest) error {
	if !biddableJobs.has(job.Status) {
		return invalid(RuleJobNotAcceptingBids, "job %s is not accepting bids (status: %s)", job.ID, job.Status)
	}
	if job.BidDeadline != nil && e.now().After(*job.BidDeadline) {
		return invalid(RuleDeadlinePassed, "bid deadline for job %s passed at %s", job.ID, job.BidDeadline.Format(time.RFC3339))
	}
	if req.Price.GreaterThan(job.Budget) {
		return invalid(RuleOverBudget, "bid price %s exceeds job budget %s", req.Price, job.Budget)
	}
	for _, c := range job.RequiredCapabilities {
		if score := profile.Capabilities[c]; score < job.MinCapabilityScore {
			return invalid(RuleCapabilityGap, "agent %s has %s score %.2f, need %.2f",
				req.AgentID, c, score, job.MinCapabilityScore)
		}
	}
	return nil
}

// WithdrawBid lets an agent pull back its own pending bid.
func (e *Engine) WithdrawBid(ctx context.Context, bidID, agentID string) (*models.Bid, error) {
	peek, err := e.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var bid *models.Bid
	err = e.withJobLock(ctx, peek.JobID, func(ctx context.Context) error {
		b, job, err := e.loadBidAndJob(ctx, bidID)
		if err != nil {
			return err
		}
		if b.AgentID != agentID {
			return invalid(RuleNotBidOwner, "bid %s does not belong to agent %s", b.ID, agentID)
		}
		if b.Status != models.BidStatusPending {
			return bidStateErr(b, "withdraw")
		}

		v := b.Version
		b.Status = models.BidStatusWithdrawn
		batch := (&store.Batch{}).PutBid(b, v)
		if err := e.stagePhase(ctx, batch, job, b); err != nil {
			return err
		}
		if err := e.store.Apply(ctx, batch); err != nil {
			return fmt.Errorf("withdraw bid %s: %w", b.ID, err)
		}
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("bid_withdrawn", "bid_id", bid.ID, "job_id", bid.JobID, "agent_id", agentID)
	return bid, nil
}

// stagePhase adds the job to the batch when changed reshapes its
// negotiation phase.
func (e *Engine) stagePhase(ctx context.Context, b *store.Batch, job *models.Job, changed *models.Bid) error {
	bids, err := e.jobBids(ctx, job.ID)
	if err != nil {
		return err
	}
	v := job.Version
	if syncPhase(job, replaceBid(bids, changed)) {
		b.PutJob(job, v)
	}
	return nil
}
