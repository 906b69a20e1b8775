package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/scheduler"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// StaleAgentLister finds agents that stopped sending heartbeats.
type StaleAgentLister interface {
	StaleAgents(ctx context.Context, staleAfter time.Duration) ([]*models.Agent, error)
}

// StaleAgentTask expires every agent whose heartbeat is older than
// staleAfter.
func (e *Engine) StaleAgentTask(l StaleAgentLister, interval, staleAfter time.Duration) scheduler.Task {
	return scheduler.Task{
		Name:     "stale-agent-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			agents, err := l.StaleAgents(ctx, staleAfter)
			if err != nil {
				return fmt.Errorf("list stale agents: %w", err)
			}
			var errs []error
			for _, a := range agents {
				if _, err := e.ExpireAgent(ctx, a.ID); err != nil {
					errs = append(errs, fmt.Errorf("expire agent %s: %w", a.ID, err))
				}
			}
			if len(agents) > 0 {
				slog.Info("stale agents expired", "count", len(agents))
			}
			return errors.Join(errs...)
		},
	}
}

// AutoAwardTask runs AutoAccept on jobs still taking bids whose bid window
// has closed.
func (e *Engine) AutoAwardTask(interval time.Duration, c AutoAcceptCriteria) scheduler.Task {
	return scheduler.Task{
		Name:     "auto-award-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			now := e.now()
			jobs, err := e.store.ListJobs(ctx, store.JobFilter{
				Statuses:          []string{models.JobStatusBidding},
				BidDeadlineBefore: &now,
			})
			if err != nil {
				return fmt.Errorf("list jobs past bid deadline: %w", err)
			}
			var errs []error
			for _, j := range jobs {
				if _, err := e.AutoAccept(ctx, j.ID, c); err != nil && !errors.Is(err, ErrInvalidState) {
					errs = append(errs, fmt.Errorf("auto-award job %s: %w", j.ID, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}
