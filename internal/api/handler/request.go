// Package handler implements the HTTP endpoints of the marketplace API.
// Handlers decode the request, check that the caller owns the resource they
// act on and delegate to the engine or the agent registry.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobReader loads a job for ownership checks.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

// BidReader loads a bid for ownership checks.
type BidReader interface {
	GetBid(ctx context.Context, id string) (*models.Bid, error)
}

// AgentReader loads an agent for ownership checks.
type AgentReader interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
	}
	return owner, ok
}

// ownsJob reports whether the caller posted the job. Admins own everything.
func ownsJob(r *http.Request, owner string, job *models.Job) bool {
	return mw.HasScope(r, models.ScopeAdmin) || job.PosterID == owner
}

func ownsAgent(r *http.Request, owner string, agent *models.Agent) bool {
	return mw.HasScope(r, models.ScopeAdmin) || agent.OwnerID == owner
}

// loadOwnedAgent fetches agentID and writes 403 unless the caller owns it.
func loadOwnedAgent(w http.ResponseWriter, r *http.Request, agents AgentReader, owner, agentID string) (*models.Agent, bool) {
	agent, err := agents.GetAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, r, err, nil)
		return nil, false
	}
	if !ownsAgent(r, owner, agent) {
		forbidden(w, "Agent belongs to another owner")
		return nil, false
	}
	return agent, true
}

// loadOwnedJob fetches jobID and writes 403 unless the caller posted it.
func loadOwnedJob(w http.ResponseWriter, r *http.Request, jobs JobReader, owner, jobID string) (*models.Job, bool) {
	job, err := jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err, nil)
		return nil, false
	}
	if !ownsJob(r, owner, job) {
		forbidden(w, "Job belongs to another poster")
		return nil, false
	}
	return job, true
}

// ownsParty checks the caller may act as party on bid: the job's poster for
// "poster", the bidding agent's owner for "agent".
func ownsParty(w http.ResponseWriter, r *http.Request, jobs JobReader, agents AgentReader, owner, party string, bid *models.Bid) bool {
	switch party {
	case models.PartyPoster:
		_, ok := loadOwnedJob(w, r, jobs, owner, bid.JobID)
		return ok
	case models.PartyAgent:
		_, ok := loadOwnedAgent(w, r, agents, owner, bid.AgentID)
		return ok
	default:
		badRequest(w, fmt.Sprintf("party must be %q or %q", models.PartyPoster, models.PartyAgent))
		return false
	}
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal amount", field)
	}
	return d, nil
}

func parseOptionalDecimal(field, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := parseDecimal(field, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseDuration accepts Go duration strings such as "90s" or "5m".
func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 90s or 5m", field)
	}
	return d, nil
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func jobID(r *http.Request) string { return chi.URLParam(r, "jobID") }
func bidID(r *http.Request) string { return chi.URLParam(r, "bidID") }
func agentID(r *http.Request) string { return chi.URLParam(r, "agentID") }
