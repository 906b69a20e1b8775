package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
)

func advisorServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func TestSuggestQuality_ValidResponse(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quality" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req qualityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.JobID != "job_1" || req.ResultRef != "s3://results/1" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"suggested_score": 0.82, "recommendation": "accept", "feedback": "thorough"})
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second, 0.7)
	s, err := c.SuggestQuality(context.Background(), models.QualityRequest{JobID: "job_1", ResultRef: "s3://results/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Score != 0.82 || s.Recommendation != models.DecisionAccept || s.Feedback != "thorough" {
		t.Errorf("unexpected suggestion: %+v", s)
	}
}

func TestSuggestQuality_DerivesRecommendation(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"suggested_score": 0.3, "recommendation": "ship it"})
	})
	defer ts.Close()

	s, err := NewHTTPClient(ts.URL, 5*time.Second, 0.7).SuggestQuality(context.Background(), models.QualityRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Recommendation != models.DecisionReject {
		t.Errorf("expected reject, got %q", s.Recommendation)
	}
}

func TestSuggestQuality_MissingScore(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recommendation":"accept"}`))
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, 5*time.Second, 0.7).SuggestQuality(context.Background(), models.QualityRequest{})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestSuggestQuality_ServerError(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, 5*time.Second, 0.7).SuggestQuality(context.Background(), models.QualityRequest{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestDecide_Counter(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/negotiate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req negotiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Role != models.PartyPoster || req.CurrentPrice != "3" || req.RoundsLeft != 4 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(negotiateResponse{Decision: "COUNTER $2.40 | how about this"})
	})
	defer ts.Close()

	d, err := NewHTTPClient(ts.URL, 5*time.Second, 0.7).Decide(context.Background(), models.NegotiationContext{
		Role: models.PartyPoster, CurrentPrice: decimal.NewFromInt(3), Limit: decimal.NewFromInt(2), RoundsLeft: 4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != models.ActionCounter || d.Price.StringFixed(2) != "2.40" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestDecide_Timeout(t *testing.T) {
	ts := advisorServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, 50*time.Millisecond, 0.7).Decide(context.Background(), models.NegotiationContext{})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
