package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// HTTPClient calls a remote advisory service for both quality suggestions
// (POST /v1/quality) and negotiation decisions (POST /v1/negotiate).
type HTTPClient struct {
	baseURL   string
	threshold float64
	client    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration, threshold float64) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return "http" }

type qualityRequest struct {
	JobID       string `json:"job_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TaskType    string `json:"task_type,omitempty"`
	ResultRef   string `json:"result_ref"`
}

type qualityResponse struct {
	Score          *float64 `json:"suggested_score"`
	Recommendation string   `json:"recommendation"`
	Feedback       string   `json:"feedback"`
}

func (c *HTTPClient) SuggestQuality(ctx context.Context, req models.QualityRequest) (models.QualitySuggestion, error) {
	var resp qualityResponse
	err := c.post(ctx, "/v1/quality", qualityRequest{
		JobID: req.JobID, Title: req.Title, Description: req.Description,
		TaskType: req.TaskType, ResultRef: req.ResultRef,
	}, &resp)
	if err != nil {
		return models.QualitySuggestion{}, err
	}
	if resp.Score == nil || *resp.Score < 0 || *resp.Score > 1 {
		return models.QualitySuggestion{}, fmt.Errorf("%w: suggested_score missing or outside [0,1]", ErrInvalidResponse)
	}

	rec := resp.Recommendation
	switch rec {
	case models.DecisionAccept, models.DecisionPartial, models.DecisionReject:
	default:
		rec = RecommendationFor(*resp.Score, c.threshold)
	}
	return models.QualitySuggestion{Score: *resp.Score, Recommendation: rec, Feedback: resp.Feedback}, nil
}

type negotiateRequest struct {
	JobID         string                `json:"job_id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Budget        string                `json:"budget"`
	BidID         string                `json:"bid_id"`
	AgentID       string                `json:"agent_id"`
	OriginalPrice string                `json:"original_price"`
	CurrentPrice  string                `json:"current_price"`
	Limit         string                `json:"limit"`
	Role          string                `json:"role"`
	History       []models.CounterOffer `json:"history"`
	RoundsLeft    int                   `json:"rounds_left"`
}

type negotiateResponse struct {
	Decision string `json:"decision"`
}

func (c *HTTPClient) Decide(ctx context.Context, nc models.NegotiationContext) (models.NegotiationDecision, error) {
	var resp negotiateResponse
	err := c.post(ctx, "/v1/negotiate", negotiateRequest{
		JobID: nc.JobID, Title: nc.Title, Description: nc.Description, Budget: nc.Budget.String(),
		BidID: nc.BidID, AgentID: nc.AgentID, OriginalPrice: nc.OriginalPrice.String(),
		CurrentPrice: nc.CurrentPrice.String(), Limit: nc.Limit.String(), Role: nc.Role,
		History: nc.History, RoundsLeft: nc.RoundsLeft,
	}, &resp)
	if err != nil {
		return models.NegotiationDecision{}, err
	}
	return ParseDecision(resp.Decision)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var (
	_ models.QualityProvider = (*HTTPClient)(nil)
	_ models.Negotiator      = (*HTTPClient)(nil)
)
