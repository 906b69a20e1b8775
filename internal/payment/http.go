package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// HTTPGateway talks to an external payment service over JSON/HTTP.
//
// Endpoints: POST /v1/escrows, /v1/releases, /v1/refunds. A 2xx answer carries
// a TransferResult; 402 and 409 are declines whose body carries the reason.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Name() string { return "http" }

type escrowBody struct {
	JobID  string `json:"job_id"`
	Payer  string `json:"payer"`
	Amount string `json:"amount"`
}

type releaseBody struct {
	EscrowRef string `json:"escrow_ref"`
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
}

type refundBody struct {
	EscrowRef string `json:"escrow_ref"`
	Amount    string `json:"amount"`
}

func (g *HTTPGateway) Escrow(ctx context.Context, req models.EscrowRequest) (models.TransferResult, error) {
	return g.post(ctx, "/v1/escrows", req.IdempotencyKey, escrowBody{
		JobID: req.JobID, Payer: req.Payer, Amount: req.Amount.String(),
	})
}

func (g *HTTPGateway) Release(ctx context.Context, req models.ReleaseRequest) (models.TransferResult, error) {
	return g.post(ctx, "/v1/releases", req.IdempotencyKey, releaseBody{
		EscrowRef: req.EscrowRef, Payee: req.Payee, Amount: req.Amount.String(),
	})
}

func (g *HTTPGateway) Refund(ctx context.Context, req models.RefundRequest) (models.TransferResult, error) {
	return g.post(ctx, "/v1/refunds", req.IdempotencyKey, refundBody{
		EscrowRef: req.EscrowRef, Amount: req.Amount.String(),
	})
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any) (models.TransferResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.TransferResult{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return models.TransferResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return models.TransferResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var res models.TransferResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return models.TransferResult{}, fmt.Errorf("decoding gateway response: %w", err)
		}
		return res, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict:
		var res models.TransferResult
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &res) != nil || res.Error == "" {
			res.Error = fmt.Sprintf("declined with status %d", resp.StatusCode)
		}
		res.Success = false
		return res, nil
	default:
		return models.TransferResult{}, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, resp.StatusCode)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

var _ models.PaymentGateway = (*HTTPGateway)(nil)
