package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// BidService is the slice of the engine the bid endpoints depend on.
type BidService interface {
	BidReader
	SubmitBid(ctx context.Context, req engine.BidRequest) (*models.Bid, error)
	WithdrawBid(ctx context.Context, bidID, agentID string) (*models.Bid, error)
	ListBids(ctx context.Context, jobID string) ([]*models.Bid, error)
	Rank(ctx context.Context, jobID string) ([]engine.RankedBid, error)
}

// NewSubmitBidHandler handles POST /api/v1/jobs/{jobID}/bids on behalf of an
// agent the caller owns.
func NewSubmitBidHandler(svc BidService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			AgentID           string  `json:"agent_id"`
			Price             string  `json:"price"`
			Confidence        float64 `json:"confidence"`
			EstimatedDuration string  `json:"estimated_duration"`
			Approach          string  `json:"approach"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.AgentID == "" {
			badRequest(w, "agent_id is required")
			return
		}
		price, err := parseDecimal("price", req.Price)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		dur, err := parseDuration("estimated_duration", req.EstimatedDuration)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if _, ok := loadOwnedAgent(w, r, agents, owner, req.AgentID); !ok {
			return
		}

		bid, err := svc.SubmitBid(r.Context(), engine.BidRequest{
			JobID:             jobID(r),
			AgentID:           req.AgentID,
			Price:             price,
			Confidence:        req.Confidence,
			EstimatedDuration: dur,
			Approach:          req.Approach,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.Created(w, viewBid(bid))
	}
}

// NewListBidsHandler handles GET /api/v1/jobs/{jobID}/bids.
func NewListBidsHandler(svc BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bids, err := svc.ListBids(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.List(w, viewBids(bids), 0)
	}
}

// NewRankedBidsHandler handles GET /api/v1/jobs/{jobID}/bids/ranked.
func NewRankedBidsHandler(svc BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ranked, err := svc.Rank(r.Context(), jobID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]rankedView, 0, len(ranked))
		for _, rb := range ranked {
			views = append(views, rankedView{
				Bid:         viewBid(rb.Bid),
				Rank:        rb.Rank,
				Score:       rb.Score,
				Components:  rb.Components,
				AgentRating: rb.AgentRating,
			})
		}
		response.List(w, views, 0)
	}
}

// NewGetBidHandler handles GET /api/v1/bids/{bidID}.
func NewGetBidHandler(svc BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bid, err := svc.GetBid(r.Context(), bidID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewBid(bid))
	}
}

// NewWithdrawBidHandler handles POST /api/v1/bids/{bidID}/withdraw.
func NewWithdrawBidHandler(svc BidService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		bid, err := svc.GetBid(r.Context(), bidID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if _, ok := loadOwnedAgent(w, r, agents, owner, bid.AgentID); !ok {
			return
		}
		bid, err = svc.WithdrawBid(r.Context(), bid.ID, bid.AgentID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewBid(bid))
	}
}
