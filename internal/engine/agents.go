package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// ExpireAgent takes an agent offline and cancels its pending bids so they
// stop being ranked. It returns the number of bids cancelled.
func (e *Engine) ExpireAgent(ctx context.Context, agentID string) (int, error) {
	if err := e.markOffline(ctx, agentID); err != nil {
		return 0, err
	}
	e.invalidateProfile(ctx, agentID)

	bids, err := e.store.ListBids(ctx, store.BidFilter{AgentID: agentID, Statuses: []string{models.BidStatusPending}})
	if err != nil {
		return 0, fmt.Errorf("list pending bids for agent %s: %w", agentID, err)
	}

	cancelled := 0
	var errs []error
	for _, peek := range bids {
		ok, err := e.cancelAgentBid(ctx, peek.JobID, peek.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cancelled++
		}
	}

	slog.Info("agent_bids_cancelled", "agent_id", agentID, "cancelled", cancelled, "reason", "agent_offline")
	return cancelled, errors.Join(errs...)
}

func (e *Engine) markOffline(ctx context.Context, agentID string) error {
	for attempt := 1; ; attempt++ {
		agent, err := e.store.GetAgent(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			return invalid(RuleNotFound, "agent %s not found", agentID)
		}
		if err != nil {
			return fmt.Errorf("get agent %s: %w", agentID, err)
		}
		if agent.Status == models.AgentStatusOffline {
			return nil
		}
		v := agent.Version
		agent.Status = models.AgentStatusOffline
		err = e.store.Apply(ctx, (&store.Batch{}).PutAgent(agent, v))
		if !errors.Is(err, store.ErrVersionConflict) || attempt == maxConflictRetries {
			if err != nil {
				return fmt.Errorf("mark agent %s offline: %w", agentID, err)
			}
			return nil
		}
	}
}

func (e *Engine) cancelAgentBid(ctx context.Context, jobID, bidID string) (bool, error) {
	cancelled := false
	err := e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		bid, job, err := e.loadBidAndJob(ctx, bidID)
		if err != nil {
			return err
		}
		cancelled = false
		if bid.Status != models.BidStatusPending {
			return nil
		}
		v := bid.Version
		reason := "agent_offline"
		bid.Status = models.BidStatusCancelled
		bid.StatusReason = &reason
		b := (&store.Batch{}).PutBid(bid, v)
		if err := e.stagePhase(ctx, b, job, bid); err != nil {
			return err
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("cancel bid %s: %w", bidID, err)
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}
