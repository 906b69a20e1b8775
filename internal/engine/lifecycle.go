package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

const (
	compensationTimeout = 10 * time.Second
	fallbackScore       = 0.5
)

// PostRequest describes new work. Zero values take the market defaults:
// MinCapabilityScore, Deadline and BidDeadline.
type PostRequest struct {
	PosterID             string
	Title                string
	Description          string
	TaskType             string
	Budget               decimal.Decimal
	RequiredCapabilities []string
	MinCapabilityScore   *float64
	Deadline             time.Duration
	BidDeadline          *time.Time
}

// Assignment is the outcome of awarding a job to a bid.
type Assignment struct {
	Job *models.Job
	Bid *models.Bid
}

// Cancellation is the outcome of cancelling a job. Refund is nil only when
// nothing was left to return.
type Cancellation struct {
	Job    *models.Job
	Refund *models.Transaction
}

// Post escrows the budget and creates the job in open. When escrow fails
// nothing is created.
func (e *Engine) Post(ctx context.Context, req PostRequest) (job *models.Job, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Post")
	defer func() { endSpan(span, err) }()

	if err := e.validatePost(req); err != nil {
		return nil, err
	}

	caps := normalizeCapabilities(req.RequiredCapabilities)
	if len(caps) == 0 && req.TaskType != "" {
		caps = InferCapabilities(req.Description, req.TaskType)
	}
	minScore := e.policy.DefaultMinScore
	if req.MinCapabilityScore != nil {
		minScore = *req.MinCapabilityScore
	}
	deadline := req.Deadline
	if deadline == 0 {
		deadline = e.policy.DefaultDeadline
	}
	now := e.now()
	bidDeadline := now.Add(e.policy.BidWindow)
	if req.BidDeadline != nil {
		bidDeadline = req.BidDeadline.UTC()
	}

	jobID := newID("job")
	escrow := &models.Transaction{
		ID:        newID("txn"),
		Type:      models.TxnTypeEscrow,
		JobID:     jobID,
		Amount:    req.Budget,
		PayerRef:  req.PosterID,
		PayeeRef:  e.policy.EscrowAccount,
		Status:    models.TxnStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, callErr := e.gateway.Escrow(ctx, models.EscrowRequest{
		JobID:          jobID,
		Payer:          req.PosterID,
		Amount:         req.Budget,
		IdempotencyKey: escrow.ID,
	})
	if callErr = transferError(res, callErr); callErr != nil {
		e.paymentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("type", models.TxnTypeEscrow)))
		return nil, &PaymentError{Op: "escrow", JobID: jobID, Type: models.TxnTypeEscrow, Err: callErr}
	}
	escrow.ExternalRef = res.Ref

	job = &models.Job{
		ID:                   jobID,
		PosterID:             req.PosterID,
		Title:                req.Title,
		Description:          req.Description,
		TaskType:             req.TaskType,
		Status:               models.JobStatusOpen,
		Budget:               req.Budget,
		RequiredCapabilities: caps,
		MinCapabilityScore:   minScore,
		Deadline:             deadline,
		BidDeadline:          &bidDeadline,
		EscrowRef:            escrow.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	b := (&store.Batch{}).PutJob(job, 0).PutTxn(escrow, "")
	if err := e.store.Apply(ctx, b); err != nil {
		e.compensateEscrow(ctx, escrow)
		return nil, fmt.Errorf("persist job %s: %w", jobID, err)
	}

	slog.Info("job_posted",
		"job_id", job.ID,
		"poster_id", job.PosterID,
		"budget", job.Budget.String(),
		"escrow_txn", escrow.ID,
		"required_capabilities", job.RequiredCapabilities,
		"bid_deadline", bidDeadline,
	)
	e.emit(ctx, models.EventJobPosted, job.ID, map[string]any{
		"title":                 job.Title,
		"budget":                job.Budget.String(),
		"required_capabilities": job.RequiredCapabilities,
		"min_capability_score":  job.MinCapabilityScore,
		"bid_deadline":          bidDeadline,
	})
	return job, nil
}

func (e *Engine) validatePost(req PostRequest) error {
	switch {
	case req.PosterID == "":
		return invalid(RuleInvalidInput, "poster_id is required")
	case req.Title == "":
		return invalid(RuleInvalidInput, "title is required")
	case !req.Budget.IsPositive():
		return invalid(RuleInvalidInput, "budget must be positive, got %s", req.Budget)
	case req.Deadline < 0:
		return invalid(RuleInvalidInput, "deadline must not be negative")
	}
	if s := req.MinCapabilityScore; s != nil && (*s < 0 || *s > 1) {
		return invalid(RuleInvalidInput, "min_capability_score must be in [0, 1], got %v", *s)
	}
	if req.BidDeadline != nil && !req.BidDeadline.After(e.now()) {
		return invalid(RuleInvalidInput, "bid_deadline must be in the future")
	}
	return nil
}

// compensateEscrow refunds an escrow whose job could not be persisted.
func (e *Engine) compensateEscrow(ctx context.Context, escrow *models.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	res, err := e.gateway.Refund(ctx, models.RefundRequest{
		EscrowRef:      escrow.ExternalRef,
		Amount:         escrow.Amount,
		IdempotencyKey: escrow.ID + "-compensation",
	})
	if err = transferError(res, err); err != nil {
		slog.Error("escrow compensation failed", "job_id", escrow.JobID, "escrow_ref", escrow.ExternalRef, "error", err)
		return
	}
	slog.Warn("escrow compensated", "job_id", escrow.JobID, "escrow_ref", escrow.ExternalRef)
}

// Assign awards the job to a bid: the bid becomes accepted, every other live
// bid is rejected and the job moves to assigned with the bid's final price.
func (e *Engine) Assign(ctx context.Context, jobID, bidID string) (a *Assignment, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Assign")
	defer func() { endSpan(span, err) }()

	var agentID string
	err = e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		job, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !assignableJobs.has(job.Status) {
			return jobStateErr(job, "assign")
		}
		bid, err := e.loadBid(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.JobID != job.ID {
			return invalid(RuleNotFound, "bid %s is not for job %s", bid.ID, job.ID)
		}
		if bid.RequiresApproval && bid.ApprovedBy == nil {
			return bidStateErr(bid, "assign without approval")
		}
		if !assignableBids.has(bid.Status) {
			return bidStateErr(bid, "assign")
		}

		b, err := e.assignBatch(ctx, job, bid)
		if err != nil {
			return err
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("assign job %s: %w", job.ID, err)
		}
		a = &Assignment{Job: job, Bid: bid}
		agentID = bid.AgentID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterAssign(ctx, a, agentID)
	return a, nil
}

// assignBatch stages the winner, the losing bids, the job and the agent.
// The passed records are mutated in place.
func (e *Engine) assignBatch(ctx context.Context, job *models.Job, winner *models.Bid) (*store.Batch, error) {
	price := winner.Price
	if winner.FinalPrice != nil {
		price = *winner.FinalPrice
	}
	if price.GreaterThan(job.Budget) {
		return nil, invalid(RuleOverBudget, "final price %s exceeds budget %s", price, job.Budget)
	}
	agent, err := e.lookupAgent(ctx, winner.AgentID)
	if err != nil {
		return nil, err
	}
	if agent != nil && agent.Status == models.AgentStatusOffline {
		return nil, invalid(RuleAgentUnavailable, "agent %s is offline", winner.AgentID)
	}

	bids, err := e.jobBids(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	b := &store.Batch{}
	winnerVersion := winner.Version
	winner.Status = models.BidStatusAccepted
	winner.FinalPrice = &price
	winner.StatusReason = nil
	b.PutBid(winner, winnerVersion)

	notSelected := "not_selected"
	for _, other := range bids {
		if other.ID == winner.ID || other.IsTerminal() {
			continue
		}
		v := other.Version
		other.Status = models.BidStatusRejected
		other.StatusReason = &notSelected
		b.PutBid(other, v)
	}

	jobVersion := job.Version
	job.Status = models.JobStatusAssigned
	job.WinningBidID = &winner.ID
	job.AssignedAgentID = &winner.AgentID
	job.FinalPrice = &price
	b.PutJob(job, jobVersion)

	if agent != nil {
		v := agent.Version
		agent.Status = models.AgentStatusBusy
		b.PutAgent(agent, v)
	}
	return b, nil
}

func (e *Engine) afterAssign(ctx context.Context, a *Assignment, agentID string) {
	e.invalidateProfile(ctx, agentID)

	slog.Info("job_assigned",
		"job_id", a.Job.ID,
		"bid_id", a.Bid.ID,
		"agent_id", agentID,
		"final_price", a.Job.FinalPrice.String(),
		"approved_by", deref(a.Bid.ApprovedBy),
	)
	e.emit(ctx, models.EventBidSelected, a.Job.ID, map[string]any{
		"bid_id":      a.Bid.ID,
		"agent_id":    agentID,
		"final_price": a.Job.FinalPrice.String(),
	})
	e.emit(ctx, models.EventJobAssigned, a.Job.ID, map[string]any{
		"agent_id":    agentID,
		"final_price": a.Job.FinalPrice.String(),
	})
}

// BeginExecution moves an assigned job to in_progress.
func (e *Engine) BeginExecution(ctx context.Context, jobID string) (*models.Job, error) {
	var job *models.Job
	err := e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		j, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusAssigned {
			return jobStateErr(j, "begin execution of")
		}
		v := j.Version
		j.Status = models.JobStatusInProgress
		if err := e.store.Apply(ctx, (&store.Batch{}).PutJob(j, v)); err != nil {
			return fmt.Errorf("begin execution of job %s: %w", jobID, err)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("job_started", "job_id", job.ID, "agent_id", deref(job.AssignedAgentID))
	return job, nil
}

// MarkPendingReview records the result of an in-progress job and attaches an
// advisory quality suggestion. A failing quality provider yields a neutral
// fallback suggestion rather than an error.
func (e *Engine) MarkPendingReview(ctx context.Context, jobID, resultRef string) (*models.Job, error) {
	if resultRef == "" {
		return nil, invalid(RuleInvalidInput, "result_ref is required")
	}
	job, err := e.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusInProgress {
		return nil, jobStateErr(job, "mark pending review")
	}

	suggestion := e.suggestQuality(ctx, job, resultRef)

	err = e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		j, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusInProgress {
			return jobStateErr(j, "mark pending review")
		}
		v := j.Version
		j.Status = models.JobStatusPendingReview
		j.ResultRef = &resultRef
		j.Suggestion = &suggestion
		if err := e.store.Apply(ctx, (&store.Batch{}).PutJob(j, v)); err != nil {
			return fmt.Errorf("mark job %s pending review: %w", jobID, err)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("job_pending_review",
		"job_id", job.ID,
		"suggested_score", suggestion.Score,
		"recommendation", suggestion.Recommendation,
		"fallback", suggestion.Fallback,
	)
	return job, nil
}

func (e *Engine) suggestQuality(ctx context.Context, job *models.Job, resultRef string) models.QualitySuggestion {
	fallback := models.QualitySuggestion{
		Score:          fallbackScore,
		Recommendation: advisor.RecommendationFor(fallbackScore, e.policy.QualityThreshold),
		Feedback:       "quality suggestion unavailable",
		Fallback:       true,
	}
	if e.quality == nil {
		return fallback
	}

	s, err := e.quality.SuggestQuality(ctx, models.QualityRequest{
		JobID:       job.ID,
		Title:       job.Title,
		Description: job.Description,
		TaskType:    job.TaskType,
		ResultRef:   resultRef,
	})
	if err == nil && (s.Score < 0 || s.Score > 1) {
		err = fmt.Errorf("%w: score %v out of range", advisor.ErrInvalidResponse, s.Score)
	}
	if err != nil {
		slog.Warn("quality suggestion fallback",
			"job_id", job.ID,
			"provider", e.quality.Name(),
			"error", &CollaboratorError{Collaborator: "quality provider", Err: err},
		)
		return fallback
	}
	if s.Recommendation == "" {
		s.Recommendation = advisor.RecommendationFor(s.Score, e.policy.QualityThreshold)
	}
	return s
}

// Cancel stops a job before assignment: live bids are cancelled and the full
// escrow is refunded. A gateway failure is returned as a PaymentError with
// the cancellation already committed.
func (e *Engine) Cancel(ctx context.Context, jobID, reason string) (*Cancellation, error) {
	var (
		job    *models.Job
		refund *models.Transaction
		escrow *models.Transaction
	)
	err := e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		j, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !preAssignJobs.has(j.Status) {
			return jobStateErr(j, "cancel")
		}
		ledger, err := e.ledgerFor(ctx, j)
		if err != nil {
			return err
		}
		bids, err := e.jobBids(ctx, j.ID)
		if err != nil {
			return err
		}

		b := &store.Batch{}
		cancelled := "job_cancelled"
		for _, bid := range bids {
			if bid.IsTerminal() {
				continue
			}
			v := bid.Version
			bid.Status = models.BidStatusCancelled
			bid.StatusReason = &cancelled
			b.PutBid(bid, v)
		}

		v := j.Version
		j.Status = models.JobStatusCancelled
		if reason != "" {
			j.CancelReason = &reason
		}
		b.PutJob(j, v)

		refund = nil
		if amount := ledger.remaining(); amount.IsPositive() {
			refund = e.reserve(j, models.TxnTypeRefund, amount, j.PosterID)
			b.PutTxn(refund, "")
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("cancel job %s: %w", jobID, err)
		}
		job, escrow = j, ledger.escrow
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("job_cancelled", "job_id", job.ID, "reason", reason)

	c := &Cancellation{Job: job, Refund: refund}
	if refund == nil {
		return c, nil
	}
	c.Refund, err = e.drive(ctx, job, escrow, refund)
	return c, err
}

// GetJob returns a job by ID.
func (e *Engine) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return e.loadJob(ctx, id)
}

// ListJobs returns jobs filtered by status, newest first.
func (e *Engine) ListJobs(ctx context.Context, statuses []string, limit int) ([]*models.Job, error) {
	jobs, err := e.store.ListJobs(ctx, store.JobFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// GetBid returns a bid by ID.
func (e *Engine) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	return e.loadBid(ctx, id)
}

// ListBids returns every bid on a job, including terminal ones.
func (e *Engine) ListBids(ctx context.Context, jobID string) ([]*models.Bid, error) {
	if _, err := e.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.jobBids(ctx, jobID)
}

// ListTransactions returns the fund movements recorded for a job.
func (e *Engine) ListTransactions(ctx context.Context, jobID string) ([]*models.Transaction, error) {
	if _, err := e.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	txns, err := e.store.ListTransactions(ctx, store.TxnFilter{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("list transactions for job %s: %w", jobID, err)
	}
	return txns, nil
}
