package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
)

// SettlementService is the slice of the engine that reviews and pays out.
type SettlementService interface {
	JobReader
	Review(ctx context.Context, jobID string, req engine.ReviewRequest) (*engine.Settlement, error)
	Disburse(ctx context.Context, jobID string) (*engine.Settlement, error)
}

// NewReviewHandler handles POST /api/v1/jobs/{jobID}/review. A review whose
// payment fails is still recorded; the 502 carries the settled job so the
// caller can retry with disburse.
func NewReviewHandler(svc SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Decision string   `json:"decision"`
			Rating   *float64 `json:"rating"`
			Feedback string   `json:"feedback"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		s, err := svc.Review(r.Context(), jobID(r), engine.ReviewRequest{
			Decision:   req.Decision,
			Rating:     req.Rating,
			ReviewerID: owner,
			Feedback:   req.Feedback,
		})
		if err != nil {
			writeError(w, r, err, settlementDetail(s))
			return
		}
		response.JSON(w, viewSettlement(s))
	}
}

// NewDisburseHandler handles POST /api/v1/jobs/{jobID}/disburse. It is safe
// to call repeatedly.
func NewDisburseHandler(svc SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		if _, ok := loadOwnedJob(w, r, svc, owner, jobID(r)); !ok {
			return
		}
		s, err := svc.Disburse(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, settlementDetail(s))
			return
		}
		response.JSON(w, viewSettlement(s))
	}
}

// settlementDetail is the error detail for a failed payment. A nil
// settlement yields an untyped nil so no detail is written.
func settlementDetail(s *engine.Settlement) any {
	if s == nil {
		return nil
	}
	return viewSettlement(s)
}
