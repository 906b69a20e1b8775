// Package engine is the job and bid lifecycle core. It posts jobs against an
// escrow, admits and ranks bids, runs counter-offer negotiation behind an
// approval gate, assigns the winner and settles the escrow from a review
// decision.
//
// Every mutation of a job or any of its bids runs under the job's lock and
// commits through a single versioned store batch. Gateway calls happen
// outside the lock: a pending transaction is reserved first and confirmed
// afterwards, so a failed transfer can be retried with the same idempotency
// key.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/internal/lock"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/internal/telemetry"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

const (
	instrumentationName = "github.com/kiranshivaraju/agentbazaar/internal/engine"
	maxConflictRetries  = 3
)

// Deps are the collaborators the engine drives. Store, Locker, Gateway and
// Capabilities are required.
type Deps struct {
	Store        store.Store
	Locker       lock.Locker
	Gateway      models.PaymentGateway
	Capabilities models.CapabilityProvider
	Quality      models.QualityProvider
	Negotiator   models.Negotiator
	Notifier     models.Notifier
	Now          func() time.Time
}

// Policy holds the market rules.
type Policy struct {
	MaxRounds         int
	ApprovalThreshold decimal.Decimal
	PartialRatio      decimal.Decimal
	BidWindow         time.Duration
	DefaultDeadline   time.Duration
	DefaultMinScore   float64
	QualityThreshold  float64
	EscrowAccount     string
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRounds:         5,
		ApprovalThreshold: decimal.NewFromInt(10),
		PartialRatio:      decimal.RequireFromString("0.5"),
		BidWindow:         5 * time.Minute,
		DefaultDeadline:   10 * time.Minute,
		DefaultMinScore:   0.7,
		QualityThreshold:  0.7,
		EscrowAccount:     "bazaar-escrow",
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxRounds:         cfg.Market.MaxRounds,
		ApprovalThreshold: cfg.Market.ApprovalThreshold,
		PartialRatio:      cfg.Market.PartialRatio,
		BidWindow:         cfg.Market.BidWindow,
		DefaultDeadline:   cfg.Market.DefaultDeadline,
		DefaultMinScore:   cfg.Market.DefaultMinScore,
		QualityThreshold:  cfg.Market.QualityThreshold,
		EscrowAccount:     cfg.Payment.EscrowAccount,
	}
}

type Engine struct {
	store        store.Store
	locker       lock.Locker
	gateway      models.PaymentGateway
	capabilities models.CapabilityProvider
	quality      models.QualityProvider
	negotiator   models.Negotiator
	notifier     models.Notifier
	policy       Policy
	now          func() time.Time

	tracer          trace.Tracer
	bidsSubmitted   metric.Int64Counter
	settlements     metric.Int64Counter
	paymentFailures metric.Int64Counter
}

func New(d Deps, p Policy) (*Engine, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("engine: store is required")
	case d.Locker == nil:
		return nil, errors.New("engine: locker is required")
	case d.Gateway == nil:
		return nil, errors.New("engine: payment gateway is required")
	case d.Capabilities == nil:
		return nil, errors.New("engine: capability provider is required")
	}
	if p.MaxRounds < 1 {
		return nil, fmt.Errorf("engine: max rounds must be at least 1, got %d", p.MaxRounds)
	}
	if !p.ApprovalThreshold.IsPositive() {
		return nil, fmt.Errorf("engine: approval threshold must be positive, got %s", p.ApprovalThreshold)
	}
	if !p.PartialRatio.IsPositive() || p.PartialRatio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("engine: partial ratio must be in (0, 1], got %s", p.PartialRatio)
	}

	e := &Engine{
		store:        d.Store,
		locker:       d.Locker,
		gateway:      d.Gateway,
		capabilities: d.Capabilities,
		quality:      d.Quality,
		negotiator:   d.Negotiator,
		notifier:     d.Notifier,
		policy:       p,
		now:          d.Now,
		tracer:       telemetry.Tracer(instrumentationName),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}

	meter := telemetry.Meter(instrumentationName)
	var err error
	if e.bidsSubmitted, err = meter.Int64Counter("bazaar.bids.submitted",
		metric.WithDescription("Bids admitted by submission")); err != nil {
		return nil, fmt.Errorf("engine: create counter: %w", err)
	}
	if e.settlements, err = meter.Int64Counter("bazaar.settlements",
		metric.WithDescription("Review decisions recorded, by decision")); err != nil {
		return nil, fmt.Errorf("engine: create counter: %w", err)
	}
	if e.paymentFailures, err = meter.Int64Counter("bazaar.payment.failures",
		metric.WithDescription("Gateway calls that failed or were declined, by transaction type")); err != nil {
		return nil, fmt.Errorf("engine: create counter: %w", err)
	}
	return e, nil
}

// Policy returns the market rules the engine enforces.
func (e *Engine) Policy() Policy { return e.policy }

// withJobLock runs fn holding the job's lock. fn must re-read everything it
// writes; it is re-run when a write loses a version race to a writer that
// does not take the lock.
func (e *Engine) withJobLock(ctx context.Context, jobID string, fn func(ctx context.Context) error) error {
	unlock, err := e.locker.Lock(ctx, lock.JobKey(jobID))
	if err != nil {
		return fmt.Errorf("lock job %s: %w", jobID, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, store.ErrVersionConflict) || attempt == maxConflictRetries {
			return err
		}
		slog.Warn("version conflict, retrying", "job_id", jobID, "attempt", attempt)
	}
}

func (e *Engine) loadJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid(RuleNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (e *Engine) loadBid(ctx context.Context, id string) (*models.Bid, error) {
	bid, err := e.store.GetBid(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid(RuleNotFound, "bid %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", id, err)
	}
	return bid, nil
}

// loadBidAndJob reads a bid and its owning job. Callers hold the job lock.
func (e *Engine) loadBidAndJob(ctx context.Context, bidID string) (*models.Bid, *models.Job, error) {
	bid, err := e.loadBid(ctx, bidID)
	if err != nil {
		return nil, nil, err
	}
	job, err := e.loadJob(ctx, bid.JobID)
	if err != nil {
		return nil, nil, err
	}
	return bid, job, nil
}

func (e *Engine) jobBids(ctx context.Context, jobID string) ([]*models.Bid, error) {
	bids, err := e.store.ListBids(ctx, store.BidFilter{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("list bids for job %s: %w", jobID, err)
	}
	return bids, nil
}

// lookupAgent returns the stored agent, or nil when the agent is not
// registered in this store.
func (e *Engine) lookupAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := e.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return agent, nil
}

// invalidateProfile drops a cached capability profile after an agent write.
func (e *Engine) invalidateProfile(ctx context.Context, agentID string) {
	if inv, ok := e.capabilities.(interface {
		Invalidate(ctx context.Context, agentID string)
	}); ok {
		inv.Invalidate(ctx, agentID)
	}
}

func (e *Engine) emit(ctx context.Context, eventType, jobID string, data map[string]any) {
	e.notifier.Notify(ctx, models.Event{
		ID:        newID("evt"),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: e.now(),
		Data:      data,
	})
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Event) {}
