package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// NegotiationService is the slice of the engine that negotiates and approves
// bids.
type NegotiationService interface {
	JobReader
	BidReader
	CounterOffer(ctx context.Context, bidID string, price decimal.Decimal, message, by string) (*models.Bid, error)
	AcceptCounter(ctx context.Context, bidID, by string) (*models.Bid, error)
	AutoNegotiate(ctx context.Context, bidID string, limit decimal.Decimal, role string) (*engine.AutoNegotiation, error)
	Reject(ctx context.Context, bidID, rejectorID, reason string) (*models.Bid, error)
	Approve(ctx context.Context, bidID, approverID string) (*engine.Assignment, error)
	PendingApprovals(ctx context.Context) ([]engine.PendingApproval, error)
}

// partyBid loads the path bid and checks the caller may act for party.
func partyBid(w http.ResponseWriter, r *http.Request, svc NegotiationService, agents AgentReader, owner, party string) (*models.Bid, bool) {
	bid, err := svc.GetBid(r.Context(), bidID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return nil, false
	}
	if !ownsParty(w, r, svc, agents, owner, party, bid) {
		return nil, false
	}
	return bid, true
}

// NewCounterOfferHandler handles POST /api/v1/bids/{bidID}/counter.
func NewCounterOfferHandler(svc NegotiationService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Price      string `json:"price"`
			Message    string `json:"message"`
			ProposedBy string `json:"proposed_by"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		price, err := parseDecimal("price", req.Price)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if _, ok := partyBid(w, r, svc, agents, owner, req.ProposedBy); !ok {
			return
		}
		bid, err := svc.CounterOffer(r.Context(), bidID(r), price, req.Message, req.ProposedBy)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewBid(bid))
	}
}

// NewAcceptCounterHandler handles POST /api/v1/bids/{bidID}/accept-counter.
func NewAcceptCounterHandler(svc NegotiationService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			By string `json:"by"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, ok := partyBid(w, r, svc, agents, owner, req.By); !ok {
			return
		}
		bid, err := svc.AcceptCounter(r.Context(), bidID(r), req.By)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewBid(bid))
	}
}

// NewAutoNegotiateHandler handles POST /api/v1/bids/{bidID}/auto-negotiate.
// limit is the acting party's walk-away price.
func NewAutoNegotiateHandler(svc NegotiationService, agents AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		var req struct {
			Role  string `json:"role"`
			Limit string `json:"limit"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		limit, err := parseDecimal("limit", req.Limit)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if _, ok := partyBid(w, r, svc, agents, owner, req.Role); !ok {
			return
		}
		out, err := svc.AutoNegotiate(r.Context(), bidID(r), limit, req.Role)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, map[string]any{
			"decision": out.Decision,
			"applied":  out.Applied,
			"note":     out.Note,
			"bid":      viewBid(out.Bid),
		})
	}
}

// NewRejectBidHandler handles POST /api/v1/bids/{bidID}/reject. The job's
// poster or an approver may reject.
func NewRejectBidHandler(svc NegotiationService) http.HandlerFunc {
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
		if !mw.HasScope(r, models.ScopeApprover) {
			bid, err := svc.GetBid(r.Context(), bidID(r))
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			if _, ok := loadOwnedJob(w, r, svc, owner, bid.JobID); !ok {
				return
			}
		}
		bid, err := svc.Reject(r.Context(), bidID(r), owner, req.Reason)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewBid(bid))
	}
}

// NewApproveBidHandler handles POST /api/v1/bids/{bidID}/approve. The
// caller is recorded as the approver.
func NewApproveBidHandler(svc NegotiationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		a, err := svc.Approve(r.Context(), bidID(r), owner)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		response.JSON(w, viewAssignment(a))
	}
}

// NewPendingApprovalsHandler handles GET /api/v1/approvals.
func NewPendingApprovalsHandler(svc NegotiationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := svc.PendingApprovals(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]assignmentView, 0, len(pending))
		for _, p := range pending {
			views = append(views, assignmentView{Job: viewJob(p.Job), Bid: viewBid(p.Bid)})
		}
		response.List(w, views, 0)
	}
}
