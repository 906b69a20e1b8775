package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore implements Store on MongoDB. Apply writes each record in order
// with a version guard; a standalone server offers no multi-document
// transaction, so a failed batch may leave earlier writes in place.
type MongoStore struct {
	jobs         *mongo.Collection
	bids         *mongo.Collection
	transactions *mongo.Collection
	agents       *mongo.Collection
	apiKeys      *mongo.Collection
	client       *mongo.Client
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		jobs:         db.Collection("jobs"),
		bids:         db.Collection("bids"),
		transactions: db.Collection("transactions"),
		agents:       db.Collection("agents"),
		apiKeys:      db.Collection("api_keys"),
		client:       client,
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "bid_deadline", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.bids.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": models.BidStatusAccepted}),
		},
	})
	if err != nil {
		return err
	}

	// One live (not failed) transaction per (job_id, type).
	_, err = s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"live": true}),
		},
	})
	if err != nil {
		return err
	}

	_, err = s.agents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_active", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = s.apiKeys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "key_prefix", Value: 1}},
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// --- Documents ---

type jobDoc struct {
	ID                   string                    `bson:"_id"`
	PosterID             string                    `bson:"poster_id"`
	Title                string                    `bson:"title"`
	Description          string                    `bson:"description"`
	TaskType             string                    `bson:"task_type"`
	Status               string                    `bson:"status"`
	Budget               string                    `bson:"budget"`
	RequiredCapabilities []string                  `bson:"required_capabilities"`
	MinCapabilityScore   float64                   `bson:"min_capability_score"`
	DeadlineNs           int64                     `bson:"deadline_ns"`
	BidDeadline          *time.Time                `bson:"bid_deadline,omitempty"`
	EscrowRef            string                    `bson:"escrow_ref"`
	BidCount             int                       `bson:"bid_count"`
	WinningBidID         *string                   `bson:"winning_bid_id,omitempty"`
	AssignedAgentID      *string                   `bson:"assigned_agent_id,omitempty"`
	FinalPrice           *string                   `bson:"final_price,omitempty"`
	ResultRef            *string                   `bson:"result_ref,omitempty"`
	Suggestion           *models.QualitySuggestion `bson:"suggestion,omitempty"`
	QualityScore         *float64                  `bson:"quality_score,omitempty"`
	Review               *models.ReviewDecision    `bson:"review,omitempty"`
	CancelReason         *string                   `bson:"cancel_reason,omitempty"`
	Version              int                       `bson:"version"`
	CreatedAt            time.Time                 `bson:"created_at"`
	UpdatedAt            time.Time                 `bson:"updated_at"`
}

func toJobDoc(j *models.Job, version int, now time.Time) jobDoc {
	return jobDoc{
		ID: j.ID, PosterID: j.PosterID, Title: j.Title, Description: j.Description, TaskType: j.TaskType,
		Status: j.Status, Budget: j.Budget.String(), RequiredCapabilities: j.RequiredCapabilities,
		MinCapabilityScore: j.MinCapabilityScore, DeadlineNs: int64(j.Deadline), BidDeadline: j.BidDeadline,
		EscrowRef: j.EscrowRef, BidCount: j.BidCount, WinningBidID: j.WinningBidID,
		AssignedAgentID: j.AssignedAgentID, FinalPrice: optionalDecimal(j.FinalPrice), ResultRef: j.ResultRef,
		Suggestion: j.Suggestion, QualityScore: j.QualityScore, Review: j.Review, CancelReason: j.CancelReason,
		Version: version, CreatedAt: j.CreatedAt, UpdatedAt: now,
	}
}

func (d jobDoc) model() (*models.Job, error) {
	budget, err := decimal.NewFromString(d.Budget)
	if err != nil {
		return nil, fmt.Errorf("parse budget: %w", err)
	}
	finalPrice, err := parseOptionalDecimal(d.FinalPrice)
	if err != nil {
		return nil, fmt.Errorf("parse final price: %w", err)
	}
	return &models.Job{
		ID: d.ID, PosterID: d.PosterID, Title: d.Title, Description: d.Description, TaskType: d.TaskType,
		Status: d.Status, Budget: budget, RequiredCapabilities: d.RequiredCapabilities,
		MinCapabilityScore: d.MinCapabilityScore, Deadline: time.Duration(d.DeadlineNs), BidDeadline: d.BidDeadline,
		EscrowRef: d.EscrowRef, BidCount: d.BidCount, WinningBidID: d.WinningBidID,
		AssignedAgentID: d.AssignedAgentID, FinalPrice: finalPrice, ResultRef: d.ResultRef,
		Suggestion: d.Suggestion, QualityScore: d.QualityScore, Review: d.Review, CancelReason: d.CancelReason,
		Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type counterOfferDoc struct {
	Round      int       `bson:"round"`
	Price      string    `bson:"price"`
	Message    string    `bson:"message"`
	ProposedBy string    `bson:"proposed_by"`
	CreatedAt  time.Time `bson:"created_at"`
}

type bidDoc struct {
	ID                  string            `bson:"_id"`
	JobID               string            `bson:"job_id"`
	AgentID             string            `bson:"agent_id"`
	Price               string            `bson:"price"`
	Confidence          float64           `bson:"confidence"`
	EstimatedDurationNs int64             `bson:"estimated_duration_ns"`
	Approach            string            `bson:"approach"`
	Status              string            `bson:"status"`
	CounterOffers       []counterOfferDoc `bson:"counter_offers"`
	RequiresApproval    bool              `bson:"requires_approval"`
	ApprovedBy          *string           `bson:"approved_by,omitempty"`
	FinalPrice          *string           `bson:"final_price,omitempty"`
	StatusReason        *string           `bson:"status_reason,omitempty"`
	Version             int               `bson:"version"`
	CreatedAt           time.Time         `bson:"created_at"`
	UpdatedAt           time.Time         `bson:"updated_at"`
}

func toBidDoc(b *models.Bid, version int, now time.Time) bidDoc {
	offers := make([]counterOfferDoc, 0, len(b.CounterOffers))
	for _, co := range b.CounterOffers {
		offers = append(offers, counterOfferDoc{
			Round: co.Round, Price: co.Price.String(), Message: co.Message,
			ProposedBy: co.ProposedBy, CreatedAt: co.CreatedAt,
		})
	}
	return bidDoc{
		ID: b.ID, JobID: b.JobID, AgentID: b.AgentID, Price: b.Price.String(), Confidence: b.Confidence,
		EstimatedDurationNs: int64(b.EstimatedDuration), Approach: b.Approach, Status: b.Status,
		CounterOffers: offers, RequiresApproval: b.RequiresApproval, ApprovedBy: b.ApprovedBy,
		FinalPrice: optionalDecimal(b.FinalPrice), StatusReason: b.StatusReason, Version: version,
		CreatedAt: b.CreatedAt, UpdatedAt: now,
	}
}

func (d bidDoc) model() (*models.Bid, error) {
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	finalPrice, err := parseOptionalDecimal(d.FinalPrice)
	if err != nil {
		return nil, fmt.Errorf("parse final price: %w", err)
	}
	offers := make([]models.CounterOffer, 0, len(d.CounterOffers))
	for _, co := range d.CounterOffers {
		p, err := decimal.NewFromString(co.Price)
		if err != nil {
			return nil, fmt.Errorf("parse counter offer price: %w", err)
		}
		offers = append(offers, models.CounterOffer{
			Round: co.Round, Price: p, Message: co.Message, ProposedBy: co.ProposedBy, CreatedAt: co.CreatedAt,
		})
	}
	return &models.Bid{
		ID: d.ID, JobID: d.JobID, AgentID: d.AgentID, Price: price, Confidence: d.Confidence,
		EstimatedDuration: time.Duration(d.EstimatedDurationNs), Approach: d.Approach, Status: d.Status,
		CounterOffers: offers, RequiresApproval: d.RequiresApproval, ApprovedBy: d.ApprovedBy,
		FinalPrice: finalPrice, StatusReason: d.StatusReason, Version: d.Version,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type txnDoc struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	JobID       string    `bson:"job_id"`
	Amount      string    `bson:"amount"`
	PayerRef    string    `bson:"payer_ref"`
	PayeeRef    string    `bson:"payee_ref"`
	Status      string    `bson:"status"`
	Live        bool      `bson:"live"`
	ExternalRef string    `bson:"external_ref"`
	LastError   string    `bson:"last_error"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toTxnDoc(t *models.Transaction, now time.Time) txnDoc {
	return txnDoc{
		ID: t.ID, Type: t.Type, JobID: t.JobID, Amount: t.Amount.String(), PayerRef: t.PayerRef,
		PayeeRef: t.PayeeRef, Status: t.Status, Live: t.Status != models.TxnStatusFailed,
		ExternalRef: t.ExternalRef, LastError: t.LastError, CreatedAt: t.CreatedAt, UpdatedAt: now,
	}
}

func (d txnDoc) model() (*models.Transaction, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &models.Transaction{
		ID: d.ID, Type: d.Type, JobID: d.JobID, Amount: amount, PayerRef: d.PayerRef, PayeeRef: d.PayeeRef,
		Status: d.Status, ExternalRef: d.ExternalRef, LastError: d.LastError,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type agentDoc struct {
	ID              string             `bson:"_id"`
	OwnerID         string             `bson:"owner_id"`
	Name            string             `bson:"name"`
	Status          string             `bson:"status"`
	Capabilities    map[string]float64 `bson:"capabilities"`
	RatingAvg       float64            `bson:"rating_avg"`
	RatingCount     int                `bson:"rating_count"`
	JobsCompleted   int                `bson:"jobs_completed"`
	JobsFailed      int                `bson:"jobs_failed"`
	TotalEarned     string             `bson:"total_earned"`
	WebhookURL      string             `bson:"webhook_url"`
	CurrentCapacity int                `bson:"current_capacity"`
	LastActive      *time.Time         `bson:"last_active,omitempty"`
	Version         int                `bson:"version"`
	CreatedAt       time.Time          `bson:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

func toAgentDoc(a *models.Agent, version int, now time.Time) agentDoc {
	r := a.Reputation
	return agentDoc{
		ID: a.ID, OwnerID: a.OwnerID, Name: a.Name, Status: a.Status, Capabilities: a.Capabilities,
		RatingAvg: r.RatingAvg, RatingCount: r.RatingCount, JobsCompleted: r.JobsCompleted,
		JobsFailed: r.JobsFailed, TotalEarned: r.TotalEarned.String(), WebhookURL: a.WebhookURL,
		CurrentCapacity: a.CurrentCapacity, LastActive: a.LastActive, Version: version,
		CreatedAt: a.CreatedAt, UpdatedAt: now,
	}
}

func (d agentDoc) model() (*models.Agent, error) {
	earned, err := decimal.NewFromString(d.TotalEarned)
	if err != nil {
		return nil, fmt.Errorf("parse total earned: %w", err)
	}
	return &models.Agent{
		ID: d.ID, OwnerID: d.OwnerID, Name: d.Name, Status: d.Status, Capabilities: d.Capabilities,
		Reputation: models.Reputation{
			RatingAvg: d.RatingAvg, RatingCount: d.RatingCount, JobsCompleted: d.JobsCompleted,
			JobsFailed: d.JobsFailed, TotalEarned: earned,
		},
		WebhookURL: d.WebhookURL, CurrentCapacity: d.CurrentCapacity, LastActive: d.LastActive,
		Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

// --- Reads ---

func (s *MongoStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var d jobDoc
	if err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return d.model()
}

func (s *MongoStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	q := bson.M{}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.BidDeadlineBefore != nil {
		q["bid_deadline"] = bson.M{"$lt": *filter.BidDeadlineBefore}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.jobs.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer cur.Close(ctx)

	var docs []jobDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	jobs := make([]*models.Job, 0, len(docs))
	for _, d := range docs {
		j, err := d.model()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *MongoStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var d bidDoc
	if err := s.bids.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bid: %w", err)
	}
	return d.model()
}

func (s *MongoStore) ListBids(ctx context.Context, filter BidFilter) ([]*models.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	q := bson.M{}
	if filter.JobID != "" {
		q["job_id"] = filter.JobID
	}
	if filter.AgentID != "" {
		q["agent_id"] = filter.AgentID
	}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": filter.Statuses}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.bids.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer cur.Close(ctx)

	var docs []bidDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode bids: %w", err)
	}
	bids := make([]*models.Bid, 0, len(docs))
	for _, d := range docs {
		b, err := d.model()
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, nil
}

func (s *MongoStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var d txnDoc
	if err := s.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return d.model()
}

func (s *MongoStore) ListTransactions(ctx context.Context, filter TxnFilter) ([]*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	q := bson.M{}
	if filter.JobID != "" {
		q["job_id"] = filter.JobID
	}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := s.transactions.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []txnDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	txns := make([]*models.Transaction, 0, len(docs))
	for _, d := range docs {
		t, err := d.model()
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, nil
}

func (s *MongoStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var d agentDoc
	if err := s.agents.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return d.model()
}

func (s *MongoStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	q := bson.M{}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.ActiveBefore != nil {
		q["$or"] = []bson.M{
			{"last_active": bson.M{"$lt": *filter.ActiveBefore}},
			{"last_active": bson.M{"$exists": false}},
		}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cur, err := s.agents.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer cur.Close(ctx)

	var docs []agentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	agents := make([]*models.Agent, 0, len(docs))
	for _, d := range docs {
		a, err := d.model()
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// --- Batches ---

func (s *MongoStore) Apply(ctx context.Context, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	now := time.Now().UTC()
	for _, w := range b.Jobs {
		if err := s.putVersioned(ctx, s.jobs, w.Job.ID, w.Expected, toJobDoc(w.Job, w.Expected+1, now)); err != nil {
			return fmt.Errorf("write job: %w", err)
		}
		w.Job.Version = w.Expected + 1
		w.Job.UpdatedAt = now
	}
	for _, w := range b.Bids {
		if err := s.putVersioned(ctx, s.bids, w.Bid.ID, w.Expected, toBidDoc(w.Bid, w.Expected+1, now)); err != nil {
			return fmt.Errorf("write bid: %w", err)
		}
		w.Bid.Version = w.Expected + 1
		w.Bid.UpdatedAt = now
	}
	for _, w := range b.Agents {
		if err := s.putVersioned(ctx, s.agents, w.Agent.ID, w.Expected, toAgentDoc(w.Agent, w.Expected+1, now)); err != nil {
			return fmt.Errorf("write agent: %w", err)
		}
		w.Agent.Version = w.Expected + 1
		w.Agent.UpdatedAt = now
	}
	for _, w := range b.Transactions {
		if err := s.putTxn(ctx, w, now); err != nil {
			return fmt.Errorf("write transaction: %w", err)
		}
		w.Txn.UpdatedAt = now
	}
	return nil
}

func (s *MongoStore) putVersioned(ctx context.Context, coll *mongo.Collection, id string, expected int, doc any) error {
	if expected == 0 {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return err
		}
		return nil
	}

	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": expected}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, coll, id)
	}
	return nil
}

func (s *MongoStore) putTxn(ctx context.Context, w TxnWrite, now time.Time) error {
	doc := toTxnDoc(w.Txn, now)
	if w.ExpectedStatus == "" {
		if _, err := s.transactions.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return err
		}
		return nil
	}

	res, err := s.transactions.UpdateOne(ctx,
		bson.M{"_id": w.Txn.ID, "status": w.ExpectedStatus},
		bson.M{"$set": bson.M{
			"status":       doc.Status,
			"live":         doc.Live,
			"external_ref": doc.ExternalRef,
			"last_error":   doc.LastError,
			"updated_at":   now,
		}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, s.transactions, w.Txn.ID)
	}
	return nil
}

func (s *MongoStore) missingOrConflict(ctx context.Context, coll *mongo.Collection, id string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// --- API Keys ---

type apiKeyDoc struct {
	ID         string     `bson:"_id"`
	OwnerID    string     `bson:"owner_id"`
	Name       string     `bson:"name"`
	KeyHash    string     `bson:"key_hash"`
	KeyPrefix  string     `bson:"key_prefix"`
	Scopes     []string   `bson:"scopes"`
	LastUsedAt *time.Time `bson:"last_used_at,omitempty"`
	DeletedAt  *time.Time `bson:"deleted_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func (s *MongoStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cur, err := s.apiKeys.Find(ctx, bson.M{"key_prefix": prefix, "deleted_at": bson.M{"$exists": false}})
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer cur.Close(ctx)

	var docs []apiKeyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode api keys: %w", err)
	}
	var keys []*models.APIKey
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("parse api key id: %w", err)
		}
		keys = append(keys, &models.APIKey{
			ID: id, OwnerID: d.OwnerID, Name: d.Name, KeyHash: d.KeyHash, KeyPrefix: d.KeyPrefix,
			Scopes: d.Scopes, LastUsedAt: d.LastUsedAt, DeletedAt: d.DeletedAt,
			CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		})
	}
	return keys, nil
}

func (s *MongoStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := s.apiKeys.UpdateOne(ctx, bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"last_used_at": now, "updated_at": now}})
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := s.apiKeys.InsertOne(ctx, apiKeyDoc{
		ID: key.ID.String(), OwnerID: key.OwnerID, Name: key.Name, KeyHash: key.KeyHash,
		KeyPrefix: key.KeyPrefix, Scopes: key.Scopes, CreatedAt: key.CreatedAt, UpdatedAt: key.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
