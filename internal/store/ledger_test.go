package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shared behaviour every Store backend must honour. Backend test files call
// runLedgerSuite with a fresh store.

// Millisecond precision survives every backend.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newJob(status string) *models.Job {
	ts := now()
	return &models.Job{
		ID:                   "job_" + uuid.NewString()[:8],
		PosterID:             "poster-1",
		Title:                "Summarize quarterly report",
		Description:          "Two paragraphs, plain English",
		TaskType:             "summarization",
		Status:               status,
		Budget:               decimal.RequireFromString("2.00"),
		RequiredCapabilities: []string{"summarization"},
		MinCapabilityScore:   0.7,
		Deadline:             10 * time.Minute,
		EscrowRef:            "esc-1",
		CreatedAt:            ts,
		UpdatedAt:            ts,
	}
}

func newBid(jobID, agentID string) *models.Bid {
	ts := now()
	return &models.Bid{
		ID:                "bid_" + uuid.NewString()[:8],
		JobID:             jobID,
		AgentID:           agentID,
		Price:             decimal.RequireFromString("1.80"),
		Confidence:        0.9,
		EstimatedDuration: 3 * time.Minute,
		Approach:          "extractive then rewrite",
		Status:            models.BidStatusPending,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
}

func newTxn(jobID, txnType, status string) *models.Transaction {
	ts := now()
	return &models.Transaction{
		ID:        "txn_" + uuid.NewString()[:8],
		Type:      txnType,
		JobID:     jobID,
		Amount:    decimal.RequireFromString("0.90"),
		PayerRef:  "esc-1",
		PayeeRef:  "agent-1",
		Status:    status,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func newAgent(id string, lastActive *time.Time) *models.Agent {
	ts := now()
	return &models.Agent{
		ID:           id,
		OwnerID:      "owner-1",
		Name:         "summarizer " + id,
		Status:       models.AgentStatusAvailable,
		Capabilities: map[string]float64{"summarization": 0.9},
		Reputation:   models.Reputation{RatingAvg: 4.2, RatingCount: 5, JobsCompleted: 4, JobsFailed: 1, TotalEarned: decimal.RequireFromString("12.50")},
		LastActive:   lastActive,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func runLedgerSuite(t *testing.T, s store.Store, atomic bool) {
	t.Run("JobInsertAndGet", func(t *testing.T) { testJobInsertAndGet(t, s) })
	t.Run("JobStaleVersion", func(t *testing.T) { testJobStaleVersion(t, s) })
	t.Run("JobUpdateMissing", func(t *testing.T) { testJobUpdateMissing(t, s) })
	t.Run("JobDuplicateInsert", func(t *testing.T) { testJobDuplicateInsert(t, s) })
	t.Run("ListJobsFilters", func(t *testing.T) { testListJobsFilters(t, s) })
	t.Run("BidCounterOffers", func(t *testing.T) { testBidCounterOffers(t, s) })
	t.Run("SingleWinner", func(t *testing.T) { testSingleWinner(t, s) })
	t.Run("LiveTransactionUnique", func(t *testing.T) { testLiveTransactionUnique(t, s) })
	t.Run("TransactionStatusGuard", func(t *testing.T) { testTransactionStatusGuard(t, s) })
	t.Run("AgentsActiveBefore", func(t *testing.T) { testAgentsActiveBefore(t, s) })
	t.Run("APIKeys", func(t *testing.T) { testAPIKeys(t, s) })
	if atomic {
		t.Run("BatchAtomic", func(t *testing.T) { testBatchAtomic(t, s) })
	}
}

func testJobInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusBidding)
	dl := now().Add(time.Hour)
	job.BidDeadline = &dl

	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0)))
	assert.Equal(t, 1, job.Version)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Title, got.Title)
	assert.Equal(t, models.JobStatusBidding, got.Status)
	assert.True(t, job.Budget.Equal(got.Budget), "budget %s", got.Budget)
	assert.Equal(t, []string{"summarization"}, got.RequiredCapabilities)
	assert.Equal(t, 10*time.Minute, got.Deadline)
	require.NotNil(t, got.BidDeadline)
	assert.True(t, dl.Equal(*got.BidDeadline))
	assert.Equal(t, 1, got.Version)
}

func testJobStaleVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusBidding)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0)))

	first := job.Clone()
	first.BidCount = 1
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(first, job.Version)))
	assert.Equal(t, 2, first.Version)

	stale := job.Clone()
	stale.Status = models.JobStatusCancelled
	err := s.Apply(ctx, new(store.Batch).PutJob(stale, job.Version))
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBidding, got.Status)
	assert.Equal(t, 1, got.BidCount)
}

func testJobUpdateMissing(t *testing.T, s store.Store) {
	err := s.Apply(context.Background(), new(store.Batch).PutJob(newJob(models.JobStatusOpen), 3))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetJob(context.Background(), "job_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testJobDuplicateInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusOpen)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0)))

	dup := job.Clone()
	err := s.Apply(ctx, new(store.Batch).PutJob(dup, 0))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func testListJobsFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	past := now().Add(-time.Minute)
	future := now().Add(time.Hour)

	expired := newJob(models.JobStatusNegotiating)
	expired.BidDeadline = &past
	open := newJob(models.JobStatusNegotiating)
	open.BidDeadline = &future
	done := newJob(models.JobStatusCompleted)
	done.BidDeadline = &past
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(expired, 0).PutJob(open, 0).PutJob(done, 0)))

	cutoff := now()
	jobs, err := s.ListJobs(ctx, store.JobFilter{
		Statuses:          []string{models.JobStatusNegotiating},
		BidDeadlineBefore: &cutoff,
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, j := range jobs {
		ids[j.ID] = true
	}
	assert.True(t, ids[expired.ID])
	assert.False(t, ids[open.ID])
	assert.False(t, ids[done.ID])
}

func testBidCounterOffers(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusBidding)
	bid := newBid(job.ID, "agent-co")
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0).PutBid(bid, 0)))

	upd := bid.Clone()
	upd.Status = models.BidStatusCounterOffered
	upd.CounterOffers = append(upd.CounterOffers, models.CounterOffer{
		Round: 1, Price: decimal.RequireFromString("1.60"), Message: "can you do 1.60?",
		ProposedBy: models.PartyPoster, CreatedAt: now(),
	})
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutBid(upd, bid.Version)))

	upd2 := upd.Clone()
	upd2.CounterOffers = append(upd2.CounterOffers, models.CounterOffer{
		Round: 2, Price: decimal.RequireFromString("1.70"), Message: "meet at 1.70",
		ProposedBy: models.PartyAgent, CreatedAt: now(),
	})
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutBid(upd2, upd.Version)))

	bids, err := s.ListBids(ctx, store.BidFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, bids, 1)
	got := bids[0]
	require.Len(t, got.CounterOffers, 2)
	assert.Equal(t, 1, got.CounterOffers[0].Round)
	assert.Equal(t, models.PartyAgent, got.CounterOffers[1].ProposedBy)
	assert.True(t, decimal.RequireFromString("1.70").Equal(got.CurrentPrice()))
	assert.Equal(t, 3, got.Version)
}

func testSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusBidding)
	a := newBid(job.ID, "agent-a")
	b := newBid(job.ID, "agent-b")
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0).PutBid(a, 0).PutBid(b, 0)))

	winA := a.Clone()
	winA.Status = models.BidStatusAccepted
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutBid(winA, a.Version)))

	winB := b.Clone()
	winB.Status = models.BidStatusAccepted
	err := s.Apply(ctx, new(store.Batch).PutBid(winB, b.Version))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	accepted, err := s.ListBids(ctx, store.BidFilter{JobID: job.ID, Statuses: []string{models.BidStatusAccepted}})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, a.ID, accepted[0].ID)
}

func testLiveTransactionUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobID := "job_" + uuid.NewString()[:8]

	first := newTxn(jobID, models.TxnTypeRelease, models.TxnStatusPending)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(first, "")))

	second := newTxn(jobID, models.TxnTypeRelease, models.TxnStatusPending)
	err := s.Apply(ctx, new(store.Batch).PutTxn(second, ""))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// A different type on the same job is independent.
	refund := newTxn(jobID, models.TxnTypeRefund, models.TxnStatusPending)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(refund, "")))

	failed := *first
	failed.Status = models.TxnStatusFailed
	failed.LastError = "gateway timeout"
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(&failed, models.TxnStatusPending)))

	retry := newTxn(jobID, models.TxnTypeRelease, models.TxnStatusPending)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(retry, "")))

	txns, err := s.ListTransactions(ctx, store.TxnFilter{JobID: jobID, Type: models.TxnTypeRelease})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func testTransactionStatusGuard(t *testing.T, s store.Store) {
	ctx := context.Background()
	txn := newTxn("job_"+uuid.NewString()[:8], models.TxnTypeEscrow, models.TxnStatusPending)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(txn, "")))

	confirmed := *txn
	confirmed.Status = models.TxnStatusConfirmed
	confirmed.ExternalRef = "gw-123"
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutTxn(&confirmed, models.TxnStatusPending)))

	again := confirmed
	again.Status = models.TxnStatusFailed
	err := s.Apply(ctx, new(store.Batch).PutTxn(&again, models.TxnStatusPending))
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusConfirmed, got.Status)
	assert.Equal(t, "gw-123", got.ExternalRef)
	assert.True(t, txn.Amount.Equal(got.Amount))

	missing := newTxn("job_x", models.TxnTypeEscrow, models.TxnStatusConfirmed)
	err = s.Apply(ctx, new(store.Batch).PutTxn(missing, models.TxnStatusPending))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAgentsActiveBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := now().Add(-time.Hour)
	fresh := now()
	suffix := uuid.NewString()[:6]

	stale := newAgent("agent-stale-"+suffix, &old)
	never := newAgent("agent-never-"+suffix, nil)
	active := newAgent("agent-active-"+suffix, &fresh)
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutAgent(stale, 0).PutAgent(never, 0).PutAgent(active, 0)))

	cutoff := now().Add(-10 * time.Minute)
	agents, err := s.ListAgents(ctx, store.AgentFilter{
		Statuses:     []string{models.AgentStatusAvailable, models.AgentStatusBusy},
		ActiveBefore: &cutoff,
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, a := range agents {
		ids[a.ID] = true
	}
	assert.True(t, ids[stale.ID])
	assert.True(t, ids[never.ID])
	assert.False(t, ids[active.ID])

	got, err := s.GetAgent(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Capabilities["summarization"])
	assert.Equal(t, 4, got.Reputation.JobsCompleted)
	assert.True(t, decimal.RequireFromString("12.50").Equal(got.Reputation.TotalEarned))
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := now()
	prefix := "ab_" + uuid.NewString()[:4]
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   "poster-1",
		Name:      "poster key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: prefix,
		Scopes:    []string{models.ScopePoster},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)

	keys, err := s.GetAPIKeyByPrefix(ctx, prefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "poster-1", keys[0].OwnerID)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, prefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func testBatchAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(models.JobStatusBidding)
	bid := newBid(job.ID, "agent-atomic")
	require.NoError(t, s.Apply(ctx, new(store.Batch).PutJob(job, 0).PutBid(bid, 0)))

	assigned := job.Clone()
	assigned.Status = models.JobStatusAssigned
	staleBid := bid.Clone()
	staleBid.Status = models.BidStatusAccepted

	err := s.Apply(ctx, new(store.Batch).PutJob(assigned, job.Version).PutBid(staleBid, bid.Version+5))
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBidding, got.Status)
	assert.Equal(t, 1, got.Version)
}
