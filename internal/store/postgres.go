package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Amounts travel as text both ways so NUMERIC never round-trips through float.

const jobColumns = `id, poster_id, title, description, task_type, status, budget::text,
	required_capabilities, min_capability_score, deadline_ns, bid_deadline, escrow_ref, bid_count,
	winning_bid_id, assigned_agent_id, final_price::text, result_ref, suggestion, quality_score,
	review, cancel_reason, version, created_at, updated_at`

const bidColumns = `id, job_id, agent_id, price::text, confidence, estimated_duration_ns, approach, status,
	requires_approval, approved_by, final_price::text, status_reason, version, created_at, updated_at`

const txnColumns = `id, type, job_id, amount::text, payer_ref, payee_ref, status, external_ref, last_error,
	created_at, updated_at`

const agentColumns = `id, owner_id, name, status, capabilities, rating_avg, rating_count, jobs_completed,
	jobs_failed, total_earned::text, webhook_url, current_capacity, last_active, version, created_at, updated_at`

// --- Jobs ---

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, filter.Statuses)
		argIdx++
	}
	if filter.BidDeadlineBefore != nil {
		conditions = append(conditions, fmt.Sprintf("bid_deadline < $%d", argIdx))
		args = append(args, *filter.BidDeadlineBefore)
		argIdx++
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var budget string
	var finalPrice *string
	var deadlineNs int64
	if err := row.Scan(&j.ID, &j.PosterID, &j.Title, &j.Description, &j.TaskType, &j.Status, &budget,
		&j.RequiredCapabilities, &j.MinCapabilityScore, &deadlineNs, &j.BidDeadline, &j.EscrowRef, &j.BidCount,
		&j.WinningBidID, &j.AssignedAgentID, &finalPrice, &j.ResultRef, &j.Suggestion, &j.QualityScore,
		&j.Review, &j.CancelReason, &j.Version, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if j.Budget, err = decimal.NewFromString(budget); err != nil {
		return nil, fmt.Errorf("parse budget: %w", err)
	}
	if j.FinalPrice, err = parseOptionalDecimal(finalPrice); err != nil {
		return nil, fmt.Errorf("parse final price: %w", err)
	}
	j.Deadline = time.Duration(deadlineNs)
	return &j, nil
}

// --- Bids ---

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bid: %w", err)
	}
	offers, err := s.counterOffers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	b.CounterOffers = offers[id]
	return b, nil
}

func (s *PostgresStore) ListBids(ctx context.Context, filter BidFilter) ([]*models.Bid, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.JobID != "" {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", argIdx))
		args = append(args, filter.AgentID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, filter.Statuses)
	}

	query := `SELECT ` + bidColumns + ` FROM bids`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	bids := make([]*models.Bid, 0)
	ids := make([]string, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}

	offers, err := s.counterOffers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range bids {
		b.CounterOffers = offers[b.ID]
	}
	return bids, nil
}

func (s *PostgresStore) counterOffers(ctx context.Context, bidIDs []string) (map[string][]models.CounterOffer, error) {
	out := make(map[string][]models.CounterOffer, len(bidIDs))
	if len(bidIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT bid_id, round, price::text, message, proposed_by, created_at
		 FROM counter_offers WHERE bid_id = ANY($1) ORDER BY bid_id, round`, bidIDs)
	if err != nil {
		return nil, fmt.Errorf("list counter offers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bidID, price string
		var co models.CounterOffer
		if err := rows.Scan(&bidID, &co.Round, &price, &co.Message, &co.ProposedBy, &co.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan counter offer: %w", err)
		}
		if co.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse counter offer price: %w", err)
		}
		out[bidID] = append(out[bidID], co)
	}
	return out, rows.Err()
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var b models.Bid
	var price string
	var finalPrice *string
	var durNs int64
	if err := row.Scan(&b.ID, &b.JobID, &b.AgentID, &price, &b.Confidence, &durNs, &b.Approach, &b.Status,
		&b.RequiresApproval, &b.ApprovedBy, &finalPrice, &b.StatusReason, &b.Version,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if b.FinalPrice, err = parseOptionalDecimal(finalPrice); err != nil {
		return nil, fmt.Errorf("parse final price: %w", err)
	}
	b.EstimatedDuration = time.Duration(durNs)
	return &b, nil
}

// --- Transactions ---

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := scanTxn(s.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TxnFilter) ([]*models.Transaction, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.JobID != "" {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
	}

	query := `SELECT ` + txnColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]*models.Transaction, 0)
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func scanTxn(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount string
	if err := row.Scan(&t.ID, &t.Type, &t.JobID, &amount, &t.PayerRef, &t.PayeeRef, &t.Status,
		&t.ExternalRef, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &t, nil
}

// --- Agents ---

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, filter.Statuses)
		argIdx++
	}
	if filter.ActiveBefore != nil {
		conditions = append(conditions, fmt.Sprintf("(last_active IS NULL OR last_active < $%d)", argIdx))
		args = append(args, *filter.ActiveBefore)
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	var earned string
	r := &a.Reputation
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Status, &a.Capabilities, &r.RatingAvg, &r.RatingCount,
		&r.JobsCompleted, &r.JobsFailed, &earned, &a.WebhookURL, &a.CurrentCapacity, &a.LastActive,
		&a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.TotalEarned, err = decimal.NewFromString(earned); err != nil {
		return nil, fmt.Errorf("parse total earned: %w", err)
	}
	return &a, nil
}

// --- Batches ---

// Apply commits every write in one database transaction. Versions on the
// passed records are only advanced after a successful commit.
func (s *PostgresStore) Apply(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}

	now := time.Now().UTC()
	err := WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, w := range b.Jobs {
			if err := writeJob(ctx, tx, w, now); err != nil {
				return err
			}
		}
		for _, w := range b.Bids {
			if err := writeBid(ctx, tx, w, now); err != nil {
				return err
			}
		}
		for _, w := range b.Agents {
			if err := writeAgent(ctx, tx, w, now); err != nil {
				return err
			}
		}
		for _, w := range b.Transactions {
			if err := writeTxn(ctx, tx, w, now); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return err
	}

	for _, w := range b.Jobs {
		w.Job.Version = w.Expected + 1
		w.Job.UpdatedAt = now
	}
	for _, w := range b.Bids {
		w.Bid.Version = w.Expected + 1
		w.Bid.UpdatedAt = now
	}
	for _, w := range b.Agents {
		w.Agent.Version = w.Expected + 1
		w.Agent.UpdatedAt = now
	}
	for _, w := range b.Transactions {
		w.Txn.UpdatedAt = now
	}
	return nil
}

func writeJob(ctx context.Context, tx pgx.Tx, w JobWrite, now time.Time) error {
	j := w.Job
	args := []any{j.ID, j.PosterID, j.Title, j.Description, j.TaskType, j.Status, j.Budget.String(),
		j.RequiredCapabilities, j.MinCapabilityScore, int64(j.Deadline), j.BidDeadline, j.EscrowRef, j.BidCount,
		j.WinningBidID, j.AssignedAgentID, optionalDecimal(j.FinalPrice), j.ResultRef, j.Suggestion,
		j.QualityScore, j.Review, j.CancelReason, w.Expected + 1, now}

	if w.Expected == 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, poster_id, title, description, task_type, status, budget,
			   required_capabilities, min_capability_score, deadline_ns, bid_deadline, escrow_ref, bid_count,
			   winning_bid_id, assigned_agent_id, final_price, result_ref, suggestion, quality_score,
			   review, cancel_reason, version, updated_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16::numeric,
			   $17, $18, $19, $20, $21, $22, $23, $24)`,
			append(args, j.CreatedAt)...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET poster_id = $2, title = $3, description = $4, task_type = $5, status = $6,
		   budget = $7::numeric, required_capabilities = $8, min_capability_score = $9, deadline_ns = $10,
		   bid_deadline = $11, escrow_ref = $12, bid_count = $13, winning_bid_id = $14, assigned_agent_id = $15,
		   final_price = $16::numeric, result_ref = $17, suggestion = $18, quality_score = $19, review = $20,
		   cancel_reason = $21, version = $22, updated_at = $23
		 WHERE id = $1 AND version = $24`,
		append(args, w.Expected)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, tx, "jobs", j.ID)
	}
	return nil
}

func writeBid(ctx context.Context, tx pgx.Tx, w BidWrite, now time.Time) error {
	b := w.Bid
	args := []any{b.ID, b.JobID, b.AgentID, b.Price.String(), b.Confidence, int64(b.EstimatedDuration),
		b.Approach, b.Status, b.RequiresApproval, b.ApprovedBy, optionalDecimal(b.FinalPrice), b.StatusReason,
		w.Expected + 1, now}

	if w.Expected == 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO bids (id, job_id, agent_id, price, confidence, estimated_duration_ns, approach, status,
			   requires_approval, approved_by, final_price, status_reason, version, updated_at, created_at)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15)`,
			append(args, b.CreatedAt)...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert bid: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE bids SET job_id = $2, agent_id = $3, price = $4::numeric, confidence = $5,
			   estimated_duration_ns = $6, approach = $7, status = $8, requires_approval = $9, approved_by = $10,
			   final_price = $11::numeric, status_reason = $12, version = $13, updated_at = $14
			 WHERE id = $1 AND version = $15`,
			append(args, w.Expected)...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("update bid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrConflict(ctx, tx, "bids", b.ID)
		}
	}

	// Offers are append-only; rounds already stored are left untouched.
	for _, co := range b.CounterOffers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO counter_offers (bid_id, round, price, message, proposed_by, created_at)
			 VALUES ($1, $2, $3::numeric, $4, $5, $6)
			 ON CONFLICT (bid_id, round) DO NOTHING`,
			b.ID, co.Round, co.Price.String(), co.Message, co.ProposedBy, co.CreatedAt); err != nil {
			return fmt.Errorf("append counter offer: %w", err)
		}
	}
	return nil
}

func writeAgent(ctx context.Context, tx pgx.Tx, w AgentWrite, now time.Time) error {
	a := w.Agent
	r := a.Reputation
	caps := a.Capabilities
	if caps == nil {
		caps = map[string]float64{}
	}
	args := []any{a.ID, a.OwnerID, a.Name, a.Status, caps, r.RatingAvg, r.RatingCount, r.JobsCompleted,
		r.JobsFailed, r.TotalEarned.String(), a.WebhookURL, a.CurrentCapacity, a.LastActive, w.Expected + 1, now}

	if w.Expected == 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO agents (id, owner_id, name, status, capabilities, rating_avg, rating_count, jobs_completed,
			   jobs_failed, total_earned, webhook_url, current_capacity, last_active, version, updated_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16)`,
			append(args, a.CreatedAt)...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE agents SET owner_id = $2, name = $3, status = $4, capabilities = $5, rating_avg = $6,
		   rating_count = $7, jobs_completed = $8, jobs_failed = $9, total_earned = $10::numeric,
		   webhook_url = $11, current_capacity = $12, last_active = $13, version = $14, updated_at = $15
		 WHERE id = $1 AND version = $16`,
		append(args, w.Expected)...)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, tx, "agents", a.ID)
	}
	return nil
}

func writeTxn(ctx context.Context, tx pgx.Tx, w TxnWrite, now time.Time) error {
	t := w.Txn
	if w.ExpectedStatus == "" {
		_, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, type, job_id, amount, payer_ref, payee_ref, status, external_ref,
			   last_error, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.Type, t.JobID, t.Amount.String(), t.PayerRef, t.PayeeRef, t.Status, t.ExternalRef,
			t.LastError, t.CreatedAt, now)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $2, external_ref = $3, last_error = $4, updated_at = $5
		 WHERE id = $1 AND status = $6`,
		t.ID, t.Status, t.ExternalRef, t.LastError, now, w.ExpectedStatus)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, tx, "transactions", t.ID)
	}
	return nil
}

// missingOrConflict distinguishes a vanished row from a stale version after
// a guarded UPDATE matched nothing.
func missingOrConflict(ctx context.Context, tx pgx.Tx, table, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s row: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func optionalDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ Store = (*PostgresStore)(nil)
