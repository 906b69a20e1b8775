package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// MemoryStore implements Store with maps guarded by one RWMutex. Apply
// validates every write before mutating anything, so batches are atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	bids   map[string]*models.Bid
	txns   map[string]*models.Transaction
	agents map[string]*models.Agent
	keys   map[uuid.UUID]*models.APIKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*models.Job),
		bids:   make(map[string]*models.Bid),
		txns:   make(map[string]*models.Transaction),
		agents: make(map[string]*models.Agent),
		keys:   make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Jobs ---

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Job, 0)
	for _, j := range s.jobs {
		if !containsStatus(filter.Statuses, j.Status) {
			continue
		}
		if filter.BidDeadlineBefore != nil && (j.BidDeadline == nil || !j.BidDeadline.Before(*filter.BidDeadlineBefore)) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Bids ---

func (s *MemoryStore) GetBid(_ context.Context, id string) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBids(_ context.Context, filter BidFilter) ([]*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Bid, 0)
	for _, b := range s.bids {
		if filter.JobID != "" && b.JobID != filter.JobID {
			continue
		}
		if filter.AgentID != "" && b.AgentID != filter.AgentID {
			continue
		}
		if !containsStatus(filter.Statuses, b.Status) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// --- Transactions ---

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, filter TxnFilter) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Transaction, 0)
	for _, t := range s.txns {
		if filter.JobID != "" && t.JobID != filter.JobID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// --- Agents ---

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListAgents(_ context.Context, filter AgentFilter) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agent, 0)
	for _, a := range s.agents {
		if !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if filter.ActiveBefore != nil && a.LastActive != nil && !a.LastActive.Before(*filter.ActiveBefore) {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// --- Batches ---

func (s *MemoryStore) Apply(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(b); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, w := range b.Jobs {
		w.Job.Version = w.Expected + 1
		w.Job.UpdatedAt = now
		s.jobs[w.Job.ID] = w.Job.Clone()
	}
	for _, w := range b.Bids {
		w.Bid.Version = w.Expected + 1
		w.Bid.UpdatedAt = now
		s.bids[w.Bid.ID] = w.Bid.Clone()
	}
	for _, w := range b.Agents {
		w.Agent.Version = w.Expected + 1
		w.Agent.UpdatedAt = now
		s.agents[w.Agent.ID] = w.Agent.Clone()
	}
	for _, w := range b.Transactions {
		w.Txn.UpdatedAt = now
		c := *w.Txn
		s.txns[w.Txn.ID] = &c
	}
	return nil
}

// check validates every write in the batch against current state. Caller
// holds the write lock.
func (s *MemoryStore) check(b *Batch) error {
	for _, w := range b.Jobs {
		v, ok := 0, false
		if cur, found := s.jobs[w.Job.ID]; found {
			v, ok = cur.Version, true
		}
		if err := checkVersion(ok, v, w.Expected); err != nil {
			return err
		}
	}
	for _, w := range b.Bids {
		v, ok := 0, false
		if cur, found := s.bids[w.Bid.ID]; found {
			v, ok = cur.Version, true
		}
		if err := checkVersion(ok, v, w.Expected); err != nil {
			return err
		}
		if w.Bid.Status == models.BidStatusAccepted && s.otherWinnerExists(w.Bid, b.Bids) {
			return ErrDuplicateKey
		}
	}
	for _, w := range b.Agents {
		v, ok := 0, false
		if cur, found := s.agents[w.Agent.ID]; found {
			v, ok = cur.Version, true
		}
		if err := checkVersion(ok, v, w.Expected); err != nil {
			return err
		}
	}
	for i, w := range b.Transactions {
		cur, ok := s.txns[w.Txn.ID]
		if w.ExpectedStatus == "" {
			if ok {
				return ErrDuplicateKey
			}
			if w.Txn.Status != models.TxnStatusFailed && s.liveTxnExists(w.Txn.JobID, w.Txn.Type, b.Transactions[:i]) {
				return ErrDuplicateKey
			}
			continue
		}
		if !ok {
			return ErrNotFound
		}
		if cur.Status != w.ExpectedStatus {
			return ErrVersionConflict
		}
	}
	return nil
}

// liveTxnExists mirrors the partial unique index on (job_id, type) for
// transactions that have not failed.
func (s *MemoryStore) liveTxnExists(jobID, txnType string, earlier []TxnWrite) bool {
	for _, t := range s.txns {
		if t.JobID == jobID && t.Type == txnType && t.Status != models.TxnStatusFailed {
			return true
		}
	}
	for _, w := range earlier {
		if w.ExpectedStatus == "" && w.Txn.JobID == jobID && w.Txn.Type == txnType && w.Txn.Status != models.TxnStatusFailed {
			return true
		}
	}
	return false
}

// otherWinnerExists mirrors the single-winner index: at most one accepted
// bid per job, counting both stored bids and the bids being written.
func (s *MemoryStore) otherWinnerExists(bid *models.Bid, batch []BidWrite) bool {
	pending := make(map[string]string, len(batch))
	for _, w := range batch {
		pending[w.Bid.ID] = w.Bid.Status
	}
	for id, cur := range s.bids {
		if id == bid.ID || cur.JobID != bid.JobID {
			continue
		}
		status := cur.Status
		if st, ok := pending[id]; ok {
			status = st
		}
		if status == models.BidStatusAccepted {
			return true
		}
	}
	for _, w := range batch {
		if w.Bid.ID != bid.ID && w.Expected == 0 && w.Bid.JobID == bid.JobID && w.Bid.Status == models.BidStatusAccepted {
			return true
		}
	}
	return false
}

func checkVersion(exists bool, current, expected int) error {
	if expected == 0 {
		if exists {
			return ErrDuplicateKey
		}
		return nil
	}
	if !exists {
		return ErrNotFound
	}
	if current != expected {
		return ErrVersionConflict
	}
	return nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

var _ Store = (*MemoryStore)(nil)
