package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// JobService is the slice of the engine the job endpoints depend on.
type JobService interface {
	JobReader
	Post(ctx context.Context, req engine.PostRequest) (*models.Job, error)
	ListJobs(ctx context.Context, statuses []string, limit int) ([]*models.Job, error)
	Cancel(ctx context.Context, jobID, reason string) (*engine.Cancellation, error)
	Assign(ctx context.Context, jobID, bidID string) (*engine.Assignment, error)
	AutoAccept(ctx context.Context, jobID string, c engine.AutoAcceptCriteria) (*engine.Assignment, error)
	BeginExecution(ctx context.Context, jobID string) (*models.Job, error)
	MarkPendingReview(ctx context.Context, jobID, resultRef string) (*models.Job, error)
	ListTransactions(ctx context.Context, jobID string) ([]*models.Transaction, error)
}

// NewPostJobHandler handles POST /api/v1/jobs. The caller is the poster.
func NewPostJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Title                string     `json:"title"`
			Description          string     `json:"description"`
			TaskType             string     `json:"task_type"`
			Budget               string     `json:"budget"`
			RequiredCapabilities []string   `json:"required_capabilities"`
			MinCapabilityScore   *float64   `json:"min_capability_score"`
			Deadline             string     `json:"deadline"`
			BidDeadline          *time.Time `json:"bid_deadline"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		budget, err := parseDecimal("budget", req.Budget)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		deadline, err := parseDuration("deadline", req.Deadline)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		job, err := svc.Post(r.Context(), engine.PostRequest{
			PosterID:             owner,
			Title:                req.Title,
			Description:          req.Description,
			TaskType:             req.TaskType,
			Budget:               budget,
			RequiredCapabilities: req.RequiredCapabilities,
			MinCapabilityScore:   req.MinCapabilityScore,
			Deadline:             deadline,
			BidDeadline:          req.BidDeadline,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.Created(w, viewJob(job))
	}
}

// NewListJobsHandler handles GET /api/v1/jobs?status=open,bidding&limit=N.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := listLimit(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		var statuses []string
		if raw := r.URL.Query().Get("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					statuses = append(statuses, s)
				}
			}
		}
		jobs, err := svc.ListJobs(r.Context(), statuses, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]*jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, viewJob(j))
		}
		response.List(w, views, limit)
	}
}

// NewGetJobHandler handles GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetJob(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewJob(job))
	}
}

// NewCancelJobHandler handles POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		c, err := svc.Cancel(r.Context(), jobID(r), req.Reason)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, map[string]any{"job": viewJob(c.Job), "refund": c.Refund})
	}
}

// NewAssignHandler handles POST /api/v1/jobs/{jobID}/assign.
func NewAssignHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			BidID string `json:"bid_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.BidID == "" {
			badRequest(w, "bid_id is required")
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		a, err := svc.Assign(r.Context(), jobID(r), req.BidID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewAssignment(a))
	}
}

// NewAutoAcceptHandler handles POST /api/v1/jobs/{jobID}/auto-accept. When
// no bid qualifies the response data is {"assigned": false}.
func NewAutoAcceptHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			MaxPrice      string  `json:"max_price"`
			MinRating     float64 `json:"min_rating"`
			MinConfidence float64 `json:"min_confidence"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		maxPrice, err := parseOptionalDecimal("max_price", req.MaxPrice)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		a, err := svc.AutoAccept(r.Context(), jobID(r), engine.AutoAcceptCriteria{
			MaxPrice:      maxPrice,
			MinRating:     req.MinRating,
			MinConfidence: req.MinConfidence,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if a == nil {
			response.JSON(w, map[string]any{"assigned": false})
			return
		}
		response.JSON(w, map[string]any{"assigned": true, "assignment": viewAssignment(a)})
	}
}

// assignedAgentOwner checks the caller owns the agent the job is assigned to.
func assignedAgentOwner(w http.ResponseWriter, r *http.Request, svc JobService, agents AgentReader, owner string) bool {
	job, err := svc.GetJob(r.Context(), jobID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return false
	}
	if job.AssignedAgentID == nil {
		response.Error(w, http.StatusConflict, "INVALID_STATE", "Job has no assigned agent",
			map[string]any{"entity": "job", "id": job.ID, "state": job.Status})
		return false
	}
	_, ok := loadOwnedAgent(w, r, agents, owner, *job.AssignedAgentID)
	return ok
}

// NewStartJobHandler handles POST /api/v1/jobs/{jobID}/start, called by the
// assigned agent.
func NewStartJobHandler(svc JobService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok || !assignedAgentOwner(w, r, svc, agents, owner) {
			return
		}
		job, err := svc.BeginExecution(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewJob(job))
	}
}

// NewSubmitResultHandler handles POST /api/v1/jobs/{jobID}/result. The
// response carries the advisory quality suggestion.
func NewSubmitResultHandler(svc JobService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			ResultRef string `json:"result_ref"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if !assignedAgentOwner(w, r, svc, agents, owner) {
			return
		}
		job, err := svc.MarkPendingReview(r.Context(), jobID(r), req.ResultRef)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewJob(job))
	}
}

// NewListTransactionsHandler handles GET /api/v1/jobs/{jobID}/transactions.
// Only the poster sees the job's money movements.
func NewListTransactionsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		txns, err := svc.ListTransactions(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.List(w, txns, 0)
	}
}
