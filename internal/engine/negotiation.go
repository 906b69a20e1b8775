package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// AutoNegotiation reports what the decision collaborator chose and whether
// the engine applied it.
type AutoNegotiation struct {
	Decision models.NegotiationDecision `json:"decision"`
	Applied  bool                       `json:"applied"`
	Note     string                     `json:"note,omitempty"`
	Bid      *models.Bid                `json:"bid"`
}

// PendingApproval is a bid waiting on a human decision, with its job.
type PendingApproval struct {
	Bid *models.Bid `json:"bid"`
	Job *models.Job `json:"job"`
}

// AutoAcceptCriteria bounds the bid AutoAccept may award. A nil MaxPrice
// means the job budget.
type AutoAcceptCriteria struct {
	MaxPrice      *decimal.Decimal
	MinRating     float64
	MinConfidence float64
}

func validParty(by string) error {
	if by != models.PartyPoster && by != models.PartyAgent {
		return invalid(RuleInvalidInput, "party must be %s or %s, got %q", models.PartyPoster, models.PartyAgent, by)
	}
	return nil
}

// mutateBid runs fn on a freshly read bid and job under the job lock and
// commits the bid, plus the job when its phase changes.
func (e *Engine) mutateBid(ctx context.Context, bidID string, fn func(bid *models.Bid, job *models.Job) error) (*models.Bid, error) {
	peek, err := e.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var out *models.Bid
	err = e.withJobLock(ctx, peek.JobID, func(ctx context.Context) error {
		bid, job, err := e.loadBidAndJob(ctx, bidID)
		if err != nil {
			return err
		}
		v := bid.Version
		if err := fn(bid, job); err != nil {
			return err
		}
		b := (&store.Batch{}).PutBid(bid, v)
		if err := e.stagePhase(ctx, b, job, bid); err != nil {
			return err
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("update bid %s: %w", bid.ID, err)
		}
		out = bid
		return nil
	})
	return out, err
}

// CounterOffer appends a negotiation round. A price at or above the approval
// threshold parks the bid in awaiting_approval.
func (e *Engine) CounterOffer(ctx context.Context, bidID string, price decimal.Decimal, message, by string) (*models.Bid, error) {
	if err := validParty(by); err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, invalid(RuleInvalidInput, "counter price must be positive, got %s", price)
	}

	bid, err := e.mutateBid(ctx, bidID, func(bid *models.Bid, job *models.Job) error {
		if !preAssignJobs.has(job.Status) {
			return jobStateErr(job, "negotiate on")
		}
		if !canNegotiate(bid) {
			return bidStateErr(bid, "counter")
		}
		if len(bid.CounterOffers) >= e.policy.MaxRounds {
			return fmt.Errorf("bid %s has %d counter-offers: %w", bid.ID, len(bid.CounterOffers), ErrNegotiationLimitExceeded)
		}
		if price.GreaterThan(job.Budget) {
			return invalid(RuleOverBudget, "counter price %s exceeds job budget %s", price, job.Budget)
		}

		bid.CounterOffers = append(bid.CounterOffers, models.CounterOffer{
			Round:      len(bid.CounterOffers) + 1,
			Price:      price,
			Message:    message,
			ProposedBy: by,
			CreatedAt:  e.now(),
		})
		bid.RequiresApproval = price.GreaterThanOrEqual(e.policy.ApprovalThreshold)
		bid.Status = models.BidStatusCounterOffered
		if bid.RequiresApproval {
			bid.Status = models.BidStatusAwaitingApproval
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("counter_offer_made",
		"bid_id", bid.ID,
		"job_id", bid.JobID,
		"by", by,
		"round", len(bid.CounterOffers),
		"price", price.String(),
		"requires_approval", bid.RequiresApproval,
	)
	return bid, nil
}

// AcceptCounter takes the latest counter-offer as the final price. When the
// price still needs approval the bid waits in awaiting_approval; otherwise
// it becomes counter_accepted and can be assigned.
func (e *Engine) AcceptCounter(ctx context.Context, bidID, by string) (*models.Bid, error) {
	if err := validParty(by); err != nil {
		return nil, err
	}

	bid, err := e.mutateBid(ctx, bidID, func(bid *models.Bid, job *models.Job) error {
		if !preAssignJobs.has(job.Status) {
			return jobStateErr(job, "negotiate on")
		}
		if len(bid.CounterOffers) == 0 || !canNegotiate(bid) {
			return bidStateErr(bid, "accept counter-offer on")
		}
		price := bid.CurrentPrice()
		bid.FinalPrice = &price
		bid.Status = models.BidStatusCounterAccepted
		if bid.RequiresApproval && bid.ApprovedBy == nil {
			bid.Status = models.BidStatusAwaitingApproval
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("counter_offer_accepted",
		"bid_id", bid.ID,
		"job_id", bid.JobID,
		"by", by,
		"final_price", bid.FinalPrice.String(),
		"status", bid.Status,
	)
	return bid, nil
}

// Approve records a human approval on a bid that needs one and assigns the
// job to it in the same commit. That is either a bid in awaiting_approval or
// a pending bid submitted at or above the approval threshold.
func (e *Engine) Approve(ctx context.Context, bidID, approverID string) (a *Assignment, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Approve")
	defer func() { endSpan(span, err) }()

	if approverID == "" {
		return nil, invalid(RuleInvalidInput, "approver_id is required")
	}
	peek, err := e.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	err = e.withJobLock(ctx, peek.JobID, func(ctx context.Context) error {
		bid, job, err := e.loadBidAndJob(ctx, bidID)
		if err != nil {
			return err
		}
		if !awaitsApproval(bid) {
			return bidStateErr(bid, "approve")
		}
		if !preAssignJobs.has(job.Status) {
			return jobStateErr(job, "approve a bid on")
		}

		price := bid.CurrentPrice()
		if bid.FinalPrice != nil {
			price = *bid.FinalPrice
		}
		bid.ApprovedBy = &approverID
		bid.FinalPrice = &price

		b, err := e.assignBatch(ctx, job, bid)
		if err != nil {
			return err
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("approve bid %s: %w", bid.ID, err)
		}
		a = &Assignment{Job: job, Bid: bid}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("bid_approved", "bid_id", a.Bid.ID, "job_id", a.Job.ID, "approver", approverID, "final_price", a.Bid.FinalPrice.String())
	e.afterAssign(ctx, a, a.Bid.AgentID)
	return a, nil
}

// Reject closes a live bid.
func (e *Engine) Reject(ctx context.Context, bidID, rejectorID, reason string) (*models.Bid, error) {
	bid, err := e.mutateBid(ctx, bidID, func(bid *models.Bid, _ *models.Job) error {
		if bid.IsTerminal() {
			return bidStateErr(bid, "reject")
		}
		bid.Status = models.BidStatusRejected
		if reason != "" {
			bid.StatusReason = &reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("bid_rejected", "bid_id", bid.ID, "job_id", bid.JobID, "rejector", rejectorID, "reason", reason)
	return bid, nil
}

// PendingApprovals lists bids waiting on a human approval.
func (e *Engine) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	bids, err := e.store.ListBids(ctx, store.BidFilter{Statuses: []string{
		models.BidStatusPending,
		models.BidStatusAwaitingApproval,
	}})
	if err != nil {
		return nil, fmt.Errorf("list bids awaiting approval: %w", err)
	}
	out := make([]PendingApproval, 0, len(bids))
	for _, b := range bids {
		if !awaitsApproval(b) {
			continue
		}
		job, err := e.loadJob(ctx, b.JobID)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingApproval{Bid: b, Job: job})
	}
	return out, nil
}

// AutoNegotiate asks the decision collaborator for the next move on behalf
// of role and applies it through the same entry points a human would use, so
// round limits and the approval gate still hold. A malformed decision is
// logged and ignored.
func (e *Engine) AutoNegotiate(ctx context.Context, bidID string, limit decimal.Decimal, role string) (*AutoNegotiation, error) {
	if err := validParty(role); err != nil {
		return nil, err
	}
	if !limit.IsPositive() {
		return nil, invalid(RuleInvalidInput, "limit must be positive, got %s", limit)
	}
	if e.negotiator == nil {
		return nil, &CollaboratorError{Collaborator: "negotiator", Err: advisor.ErrProviderUnavailable}
	}

	bid, err := e.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	job, err := e.loadJob(ctx, bid.JobID)
	if err != nil {
		return nil, err
	}

	d, err := e.negotiator.Decide(ctx, models.NegotiationContext{
		JobID:         job.ID,
		Title:         job.Title,
		Description:   job.Description,
		Budget:        job.Budget,
		BidID:         bid.ID,
		AgentID:       bid.AgentID,
		OriginalPrice: bid.Price,
		CurrentPrice:  bid.CurrentPrice(),
		Limit:         limit,
		Role:          role,
		History:       bid.CounterOffers,
		RoundsLeft:    e.policy.MaxRounds - len(bid.CounterOffers),
	})
	if errors.Is(err, advisor.ErrInvalidResponse) {
		slog.Warn("auto_negotiate_decision", "bid_id", bid.ID, "role", role, "applied", false, "error", err)
		return &AutoNegotiation{Note: "malformed decision ignored", Bid: bid}, nil
	}
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "negotiator", Err: err}
	}

	slog.Info("auto_negotiate_decision",
		"bid_id", bid.ID,
		"role", role,
		"negotiator", e.negotiator.Name(),
		"decision", advisor.FormatDecision(d),
	)

	out := &AutoNegotiation{Decision: d, Bid: bid}
	switch d.Action {
	case models.ActionAccept:
		if len(bid.CounterOffers) == 0 {
			out.Note = "no counter-offer to accept"
			return out, nil
		}
		out.Bid, err = e.AcceptCounter(ctx, bid.ID, role)
	case models.ActionCounter:
		out.Bid, err = e.CounterOffer(ctx, bid.ID, d.Price, d.Message, role)
	case models.ActionReject:
		out.Bid, err = e.Reject(ctx, bid.ID, "auto_"+role, d.Reason)
	default:
		out.Note = "unknown action ignored"
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Applied = true
	return out, nil
}

// AutoAccept assigns the best-ranked pending bid meeting the criteria. It
// returns nil with no error when no bid qualifies.
func (e *Engine) AutoAccept(ctx context.Context, jobID string, c AutoAcceptCriteria) (*Assignment, error) {
	job, err := e.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	maxPrice := job.Budget
	if c.MaxPrice != nil {
		maxPrice = *c.MaxPrice
	}

	ranked, err := e.Rank(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, r := range ranked {
		if r.Bid.Price.GreaterThan(maxPrice) || r.AgentRating < c.MinRating ||
			r.Bid.Confidence < c.MinConfidence || r.Bid.RequiresApproval {
			continue
		}
		return e.Assign(ctx, jobID, r.Bid.ID)
	}

	slog.Info("no_bid_meets_criteria",
		"job_id", jobID,
		"max_price", maxPrice.String(),
		"min_rating", c.MinRating,
		"min_confidence", c.MinConfidence,
	)
	return nil, nil
}
