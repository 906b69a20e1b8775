package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrVersionConflict = errors.New("version conflict")

// Store is the ledger interface. All persistence goes through here.
//
// Writes are grouped into a Batch and committed with Apply. Updates are
// compare-and-swap on the record version (or, for transactions, on the
// expected status) and fail with ErrVersionConflict when the stored record
// moved on. A Batch that fails leaves no partial writes on backends that
// support multi-record transactions.
type Store interface {
	Ping(ctx context.Context) error

	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	GetBid(ctx context.Context, id string) (*models.Bid, error)
	ListBids(ctx context.Context, filter BidFilter) ([]*models.Bid, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter TxnFilter) ([]*models.Transaction, error)

	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error)

	Apply(ctx context.Context, b *Batch) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type JobFilter struct {
	Statuses          []string
	BidDeadlineBefore *time.Time
	Limit             int
}

type BidFilter struct {
	JobID    string
	AgentID  string
	Statuses []string
}

type TxnFilter struct {
	JobID string
	Type  string
}

type AgentFilter struct {
	Statuses     []string
	ActiveBefore *time.Time
}

// Batch is a unit of work. A write with Expected == 0 inserts; otherwise it
// updates the record whose current version equals Expected. Stores set the
// new version to Expected+1 and write it back into the record.
type Batch struct {
	Jobs         []JobWrite
	Bids         []BidWrite
	Agents       []AgentWrite
	Transactions []TxnWrite
}

type JobWrite struct {
	Job      *models.Job
	Expected int
}

type BidWrite struct {
	Bid      *models.Bid
	Expected int
}

type AgentWrite struct {
	Agent    *models.Agent
	Expected int
}

// TxnWrite inserts when ExpectedStatus is empty, otherwise it transitions a
// transaction whose stored status equals ExpectedStatus.
type TxnWrite struct {
	Txn            *models.Transaction
	ExpectedStatus string
}

func (b *Batch) PutJob(j *models.Job, expected int) *Batch {
	b.Jobs = append(b.Jobs, JobWrite{Job: j, Expected: expected})
	return b
}

func (b *Batch) PutBid(bid *models.Bid, expected int) *Batch {
	b.Bids = append(b.Bids, BidWrite{Bid: bid, Expected: expected})
	return b
}

func (b *Batch) PutAgent(a *models.Agent, expected int) *Batch {
	b.Agents = append(b.Agents, AgentWrite{Agent: a, Expected: expected})
	return b
}

func (b *Batch) PutTxn(t *models.Transaction, expectedStatus string) *Batch {
	b.Transactions = append(b.Transactions, TxnWrite{Txn: t, ExpectedStatus: expectedStatus})
	return b
}

// Empty reports whether the batch would write nothing.
func (b *Batch) Empty() bool {
	return len(b.Jobs) == 0 && len(b.Bids) == 0 && len(b.Agents) == 0 && len(b.Transactions) == 0
}

func containsStatus(statuses []string, s string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
