package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/agentbazaar/internal/payment"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// ReviewRequest is the authoritative verdict on a job result. A nil Rating
// takes the decision's default.
type ReviewRequest struct {
	Decision   string
	Rating     *float64
	ReviewerID string
	Feedback   string
}

// Settlement is the outcome of a review or disbursement. Transaction is the
// release or refund the decision called for, if any money had to move.
// Remainder is the refund of escrow a release left over.
type Settlement struct {
	Job         *models.Job
	Transaction *models.Transaction
	Remainder   *models.Transaction
}

// DefaultRating is the rating recorded for a decision given without one.
func DefaultRating(decision string) float64 {
	switch decision {
	case models.DecisionAccept:
		return 1.0
	case models.DecisionPartial:
		return 0.5
	default:
		return 0.2
	}
}

// Review records the decision on a pending_review job and disburses the
// escrow accordingly. The decision, status, quality score and reputation are
// committed before the gateway is called; on gateway failure the Settlement
// is returned together with a PaymentError and Disburse can retry. After an
// accepted or partial release, the escrow left over goes back to the poster.
func (e *Engine) Review(ctx context.Context, jobID string, req ReviewRequest) (s *Settlement, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Review", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.String("decision", req.Decision),
	))
	defer func() { endSpan(span, err) }()

	switch req.Decision {
	case models.DecisionAccept, models.DecisionPartial, models.DecisionReject:
	default:
		return nil, invalid(RuleInvalidInput, "decision must be one of accept, partial, reject; got %q", req.Decision)
	}
	rating := DefaultRating(req.Decision)
	if req.Rating != nil {
		rating = *req.Rating
	}
	if rating < 0 || rating > 1 {
		return nil, invalid(RuleInvalidInput, "rating must be in [0, 1], got %v", rating)
	}
	if req.ReviewerID == "" {
		return nil, invalid(RuleInvalidInput, "reviewer_id is required")
	}

	var job *models.Job
	err = e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		j, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusPendingReview || j.FinalPrice == nil || j.AssignedAgentID == nil {
			return jobStateErr(j, "review")
		}
		l, err := e.ledgerFor(ctx, j)
		if err != nil {
			return err
		}

		v := j.Version
		j.Review = &models.ReviewDecision{
			Decision:   req.Decision,
			Rating:     rating,
			ReviewerID: req.ReviewerID,
			Feedback:   req.Feedback,
			DecidedAt:  e.now(),
		}
		j.QualityScore = &rating
		j.Status = models.JobStatusCompleted
		if req.Decision == models.DecisionReject {
			j.Status = models.JobStatusDisputed
		}
		b := (&store.Batch{}).PutJob(j, v)

		agent, err := e.lookupAgent(ctx, *j.AssignedAgentID)
		if err != nil {
			return err
		}
		if agent != nil {
			av := agent.Version
			applyReputation(&agent.Reputation, req.Decision, rating)
			agent.Status = models.AgentStatusAvailable
			b.PutAgent(agent, av)
		}

		txnType, amount, payee := e.settlementPlan(j, l)
		if amount.IsPositive() {
			if amount.GreaterThan(l.remaining()) {
				return fmt.Errorf("settle job %s: %s %s exceeds remaining escrow %s", j.ID, txnType, amount, l.remaining())
			}
			b.PutTxn(e.reserve(j, txnType, amount, payee), "")
		}

		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("record review for job %s: %w", j.ID, err)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", req.Decision)))
	e.invalidateProfile(ctx, *job.AssignedAgentID)
	slog.Info("review_recorded",
		"job_id", job.ID,
		"decision", req.Decision,
		"rating", rating,
		"reviewer_id", req.ReviewerID,
		"status", job.Status,
	)

	return e.disburse(ctx, jobID)
}

// Disburse re-drives the settlement payments of a settled job until they are
// confirmed. It is idempotent: a confirmed payment is returned without
// calling the gateway, a pending one is retried with its original
// idempotency key and a declined one is replaced by a new attempt.
func (e *Engine) Disburse(ctx context.Context, jobID string) (s *Settlement, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Disburse", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer func() { endSpan(span, err) }()

	return e.disburse(ctx, jobID)
}

// disburse drives the job's payments one at a time: first the decision's
// release or refund, then the remainder refund once a release is confirmed.
func (e *Engine) disburse(ctx context.Context, jobID string) (*Settlement, error) {
	for {
		st, err := e.stagePayment(ctx, jobID)
		if err != nil {
			return nil, err
		}
		s := &Settlement{Job: st.job, Transaction: st.primary, Remainder: st.remainder}
		if st.next == nil {
			return s, nil
		}
		driven, err := e.drive(ctx, st.job, st.escrow, st.next)
		if st.next == st.remainder {
			s.Remainder = driven
		} else {
			s.Transaction = driven
		}
		if err != nil {
			return s, err
		}
	}
}

// stagedPayment is a settled job's payment state. next is the pending
// transaction to send to the gateway, nil when nothing more is owed.
type stagedPayment struct {
	job       *models.Job
	escrow    *models.Transaction
	primary   *models.Transaction
	remainder *models.Transaction
	next      *models.Transaction
}

// stagePayment reserves, under the job lock, the next transaction the job is
// owed. It reuses a pending or confirmed one of the same type; the unique
// (job_id, type) index allows one of each.
func (e *Engine) stagePayment(ctx context.Context, jobID string) (*stagedPayment, error) {
	var st *stagedPayment
	err := e.withJobLock(ctx, jobID, func(ctx context.Context) error {
		j, err := e.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !settledJobs.has(j.Status) {
			return jobStateErr(j, "disburse")
		}
		l, err := e.ledgerFor(ctx, j)
		if err != nil {
			return err
		}
		st = &stagedPayment{job: j, escrow: l.escrow}
		b := &store.Batch{}

		txnType, amount, payee := e.settlementPlan(j, l)
		st.primary = l.live(txnType)
		if st.primary == nil {
			if last := l.lastFailed(txnType); last != nil {
				amount, payee = last.Amount, last.PayeeRef
			}
			if amount.IsPositive() {
				if amount.GreaterThan(l.remaining()) {
					return fmt.Errorf("disburse job %s: %s %s exceeds remaining escrow %s", j.ID, txnType, amount, l.remaining())
				}
				st.primary = e.reserve(j, txnType, amount, payee)
				b.PutTxn(st.primary, "")
			}
		}

		switch {
		case st.primary == nil:
		case st.primary.Status != models.TxnStatusConfirmed:
			st.next = st.primary
		case txnType == models.TxnTypeRelease:
			st.remainder = l.live(models.TxnTypeRefund)
			if st.remainder == nil {
				if left := l.remainingExcept(models.TxnTypeRefund); left.IsPositive() {
					st.remainder = e.reserve(j, models.TxnTypeRefund, left, j.PosterID)
					b.PutTxn(st.remainder, "")
				}
			}
			if st.remainder != nil && st.remainder.Status != models.TxnStatusConfirmed {
				st.next = st.remainder
			}
		}

		if len(b.Transactions) == 0 {
			return nil
		}
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("reserve payment for job %s: %w", j.ID, err)
		}
		return nil
	})
	return st, err
}

// settlementPlan is the payment a settled job's decision calls for.
func (e *Engine) settlementPlan(job *models.Job, l *ledger) (txnType string, amount decimal.Decimal, payee string) {
	if job.Status == models.JobStatusCancelled || job.Review == nil || job.Review.Decision == models.DecisionReject {
		return models.TxnTypeRefund, l.remainingExcept(models.TxnTypeRefund), job.PosterID
	}
	price := *job.FinalPrice
	if job.Review.Decision == models.DecisionPartial {
		price = price.Mul(e.policy.PartialRatio)
	}
	return models.TxnTypeRelease, price, *job.AssignedAgentID
}

func (e *Engine) reserve(job *models.Job, txnType string, amount decimal.Decimal, payee string) *models.Transaction {
	now := e.now()
	return &models.Transaction{
		ID:        newID("txn"),
		Type:      txnType,
		JobID:     job.ID,
		Amount:    amount,
		PayerRef:  e.policy.EscrowAccount,
		PayeeRef:  payee,
		Status:    models.TxnStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// drive sends a reserved transaction to the gateway and records the answer.
// Transport failures leave it pending for a retry under the same key; a
// decline marks it failed.
func (e *Engine) drive(ctx context.Context, job *models.Job, escrow, txn *models.Transaction) (*models.Transaction, error) {
	var (
		res     models.TransferResult
		callErr error
	)
	switch txn.Type {
	case models.TxnTypeRelease:
		res, callErr = e.gateway.Release(ctx, models.ReleaseRequest{
			EscrowRef:      escrow.ExternalRef,
			Payee:          txn.PayeeRef,
			Amount:         txn.Amount,
			IdempotencyKey: txn.ID,
		})
	case models.TxnTypeRefund:
		res, callErr = e.gateway.Refund(ctx, models.RefundRequest{
			EscrowRef:      escrow.ExternalRef,
			Amount:         txn.Amount,
			IdempotencyKey: txn.ID,
		})
	default:
		return txn, fmt.Errorf("transaction %s: cannot disburse type %s", txn.ID, txn.Type)
	}
	callErr = transferError(res, callErr)

	var (
		recorded *models.Transaction
		earned   string
	)
	err := e.withJobLock(ctx, job.ID, func(ctx context.Context) error {
		cur, err := e.store.GetTransaction(ctx, txn.ID)
		if err != nil {
			return fmt.Errorf("get transaction %s: %w", txn.ID, err)
		}
		if cur.Status != models.TxnStatusPending {
			recorded = cur
			return nil
		}

		b := &store.Batch{}
		switch {
		case callErr == nil:
			cur.Status = models.TxnStatusConfirmed
			cur.ExternalRef = res.Ref
			cur.LastError = ""
			if cur.Type == models.TxnTypeRelease {
				agent, err := e.lookupAgent(ctx, cur.PayeeRef)
				if err != nil {
					return err
				}
				if agent != nil {
					v := agent.Version
					agent.Reputation.TotalEarned = agent.Reputation.TotalEarned.Add(cur.Amount)
					b.PutAgent(agent, v)
					earned = agent.ID
				}
			}
		case errors.Is(callErr, payment.ErrDeclined):
			cur.Status = models.TxnStatusFailed
			cur.LastError = callErr.Error()
		default:
			cur.LastError = callErr.Error()
		}
		b.PutTxn(cur, models.TxnStatusPending)
		if err := e.store.Apply(ctx, b); err != nil {
			return fmt.Errorf("record %s transaction %s: %w", cur.Type, cur.ID, err)
		}
		recorded = cur
		return nil
	})
	if err != nil {
		return txn, &PaymentError{Op: txn.Type, JobID: job.ID, Type: txn.Type, Err: errors.Join(callErr, err)}
	}
	if earned != "" {
		e.invalidateProfile(ctx, earned)
	}

	if recorded.Status == models.TxnStatusConfirmed {
		slog.Info("disbursement_confirmed",
			"job_id", job.ID,
			"txn_id", recorded.ID,
			"type", recorded.Type,
			"amount", recorded.Amount.String(),
			"payee", recorded.PayeeRef,
			"external_ref", recorded.ExternalRef,
		)
		return recorded, nil
	}

	if callErr == nil {
		callErr = fmt.Errorf("%w: %s", payment.ErrDeclined, recorded.LastError)
	}
	e.paymentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("type", recorded.Type)))
	slog.Warn("disbursement_failed",
		"job_id", job.ID,
		"txn_id", recorded.ID,
		"type", recorded.Type,
		"amount", recorded.Amount.String(),
		"status", recorded.Status,
		"error", callErr,
	)
	return recorded, &PaymentError{Op: recorded.Type, JobID: job.ID, Type: recorded.Type, Err: callErr}
}

// transferError folds a gateway decline into an error wrapping
// payment.ErrDeclined.
func transferError(res models.TransferResult, err error) error {
	if err != nil {
		return err
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Errorf("%w: %s", payment.ErrDeclined, reason)
	}
	return nil
}

// applyReputation folds one rating into the running average on a 0-5 scale.
func applyReputation(r *models.Reputation, decision string, rating float64) {
	avg := (r.RatingAvg*float64(r.RatingCount) + rating*5) / float64(r.RatingCount+1)
	r.RatingAvg = math.Min(avg, 5)
	r.RatingCount++
	if decision == models.DecisionReject {
		r.JobsFailed++
	} else {
		r.JobsCompleted++
	}
}

// ledger is a job's escrow and the fund movements drawn against it.
type ledger struct {
	escrow *models.Transaction
	txns   []*models.Transaction
}

func (e *Engine) ledgerFor(ctx context.Context, job *models.Job) (*ledger, error) {
	txns, err := e.store.ListTransactions(ctx, store.TxnFilter{JobID: job.ID})
	if err != nil {
		return nil, fmt.Errorf("list transactions for job %s: %w", job.ID, err)
	}
	l := &ledger{txns: txns}
	for _, t := range txns {
		if t.ID == job.EscrowRef {
			l.escrow = t
		}
	}
	if l.escrow == nil {
		return nil, &InvalidStateError{Entity: "escrow", ID: job.EscrowRef, State: "missing", Op: "settle from"}
	}
	if l.escrow.Status != models.TxnStatusConfirmed {
		return nil, &InvalidStateError{Entity: "escrow", ID: l.escrow.ID, State: l.escrow.Status, Op: "settle from"}
	}
	return l, nil
}

// disbursed sums release and refund amounts that have not failed, skipping
// the given type when except is set.
func (l *ledger) disbursed(except string) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range l.txns {
		if t.Disbursing() && t.Status != models.TxnStatusFailed && t.Type != except {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

func (l *ledger) remaining() decimal.Decimal {
	return l.escrow.Amount.Sub(l.disbursed(""))
}

func (l *ledger) remainingExcept(txnType string) decimal.Decimal {
	return l.escrow.Amount.Sub(l.disbursed(txnType))
}

// live returns the pending or confirmed transaction of a type.
func (l *ledger) live(txnType string) *models.Transaction {
	for _, t := range l.txns {
		if t.Type == txnType && t.Status != models.TxnStatusFailed {
			return t
		}
	}
	return nil
}

func (l *ledger) lastFailed(txnType string) *models.Transaction {
	var last *models.Transaction
	for _, t := range l.txns {
		if t.Type == txnType && t.Status == models.TxnStatusFailed {
			if last == nil || t.CreatedAt.After(last.CreatedAt) {
				last = t
			}
		}
	}
	return last
}
