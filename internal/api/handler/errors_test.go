package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/internal/payment"
	"github.com/kiranshivaraju/agentbazaar/internal/registry"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"over budget", &engine.ValidationError{Rule: engine.RuleOverBudget, Message: "too much"}, http.StatusBadRequest, "OVER_BUDGET"},
		{"capability gap", &engine.ValidationError{Rule: engine.RuleCapabilityGap}, http.StatusBadRequest, "CAPABILITY_GAP"},
		{"not found rule", &engine.ValidationError{Rule: engine.RuleNotFound, Message: "job x not found"}, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"invalid state", &engine.InvalidStateError{Entity: "job", ID: "job_1", State: "completed", Op: "assign"}, http.StatusConflict, "INVALID_STATE"},
		{"negotiation limit", fmt.Errorf("bid bid_1: %w", engine.ErrNegotiationLimitExceeded), http.StatusConflict, "NEGOTIATION_LIMIT_EXCEEDED"},
		{"payment", &engine.PaymentError{Op: "release", JobID: "job_1", Err: payment.ErrDeclined}, http.StatusBadGateway, "PAYMENT_FAILED"},
		{"collaborator", &engine.CollaboratorError{Collaborator: "negotiator", Err: errors.New("down")}, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE"},
		{"registry input", fmt.Errorf("%w: name required", registry.ErrInvalidInput), http.StatusBadRequest, "INVALID_REQUEST"},
		{"registry cooldown", fmt.Errorf("%w: wait", registry.ErrCooldown), http.StatusTooManyRequests, "REGISTRATION_COOLDOWN"},
		{"store not found", store.ErrNotFound, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeErr(t, w)["code"])
		})
	}
}

func TestWriteError_InternalDetailsNotLeaked(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"), nil)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRuleCode(t *testing.T) {
	assert.Equal(t, "JOB_NOT_ACCEPTING_BIDS", ruleCode(engine.RuleJobNotAcceptingBids))
	assert.Equal(t, "INVALID_INPUT", ruleCode("invalid-input"))
}

// --- fake settlement service ---

type fakeSettlement struct {
	job        *models.Job
	reviewFunc func(ctx context.Context, jobID string, req engine.ReviewRequest) (*engine.Settlement, error)
}

func (f *fakeSettlement) GetJob(_ context.Context, id string) (*models.Job, error) {
	if f.job == nil || f.job.ID != id {
		return nil, &engine.ValidationError{Rule: engine.RuleNotFound, Message: "job " + id + " not found"}
	}
	return f.job, nil
}

func (f *fakeSettlement) Review(ctx context.Context, jobID string, req engine.ReviewRequest) (*engine.Settlement, error) {
	return f.reviewFunc(ctx, jobID, req)
}

func (f *fakeSettlement) Disburse(_ context.Context, _ string) (*engine.Settlement, error) {
	return nil, errors.New("not used")
}

func reviewRequest(jobID, owner, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID+"/review", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", jobID)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = mw.SetOwnerID(ctx, owner)
	return r.WithContext(ctx)
}

func TestReviewHandler_PaymentFailureCarriesSettlement(t *testing.T) {
	job := &models.Job{ID: "job_1", PosterID: "poster-1", Status: models.JobStatusCompleted}
	var got engine.ReviewRequest
	svc := &fakeSettlement{job: job, reviewFunc: func(_ context.Context, _ string, req engine.ReviewRequest) (*engine.Settlement, error) {
		got = req
		s := &engine.Settlement{
			Job:         job,
			Transaction: &models.Transaction{ID: "txn_1", Type: models.TxnTypeRelease, Status: models.TxnStatusPending},
		}
		return s, &engine.PaymentError{Op: "release", JobID: "job_1", Type: models.TxnTypeRelease, Err: payment.ErrGatewayUnreachable}
	}}

	w := httptest.NewRecorder()
	NewReviewHandler(svc).ServeHTTP(w, reviewRequest("job_1", "poster-1", `{"decision":"accept"}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	errObj := decodeErr(t, w)
	details := errObj["details"].(map[string]any)
	result := details["result"].(map[string]any)
	assert.Equal(t, "pending", result["transaction"].(map[string]any)["status"])
	assert.Equal(t, "poster-1", got.ReviewerID)
	assert.Nil(t, got.Rating)
}

func TestReviewHandler_NilSettlementHasNoResult(t *testing.T) {
	job := &models.Job{ID: "job_1", PosterID: "poster-1"}
	svc := &fakeSettlement{job: job, reviewFunc: func(context.Context, string, engine.ReviewRequest) (*engine.Settlement, error) {
		return nil, &engine.PaymentError{Op: "release", JobID: "job_1", Err: payment.ErrDeclined}
	}}

	w := httptest.NewRecorder()
	NewReviewHandler(svc).ServeHTTP(w, reviewRequest("job_1", "poster-1", `{"decision":"accept"}`))

	details := decodeErr(t, w)["details"].(map[string]any)
	_, ok := details["result"]
	assert.False(t, ok)
}

func TestReviewHandler_OtherPosterForbidden(t *testing.T) {
	svc := &fakeSettlement{job: &models.Job{ID: "job_1", PosterID: "poster-1"}}

	w := httptest.NewRecorder()
	NewReviewHandler(svc).ServeHTTP(w, reviewRequest("job_1", "poster-2", `{"decision":"accept"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Reason string `json:"reason"`
	}
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"empty body", "", true},
		{"known field", `{"reason":"dup"}`, true},
		{"unknown field", `{"reasn":"dup"}`, false},
		{"malformed", `{"reason":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			assert.Equal(t, tt.ok, decodeJSON(w, r, &v))
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestListLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
		err   bool
	}{
		{"", defaultListLimit, false},
		{"limit=10", 10, false},
		{"limit=10000", maxListLimit, false},
		{"limit=0", 0, true},
		{"limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n, err := listLimit(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestNewAPIKey(t *testing.T) {
	raw, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "bz_"))

	key, err := NewAPIKey(raw, "poster-1", "ci", []string{models.ScopePoster})
	require.NoError(t, err)
	assert.Equal(t, raw[:mw.KeyPrefixLen], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, raw)

	_, err = NewAPIKey("short", "poster-1", "ci", nil)
	assert.Error(t, err)
}
