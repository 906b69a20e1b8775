package api

import (
	"github.com/kiranshivaraju/agentbazaar/internal/api/handler"
)

// Market is the full engine surface the API serves.
type Market interface {
	handler.JobService
	handler.BidService
	handler.NegotiationService
	handler.SettlementService
	handler.Expirer
}

// MarketHandlers builds every marketplace endpoint. Callers still set Auth,
// RateLimit and HealthHandler.
func MarketHandlers(m Market, agents handler.AgentService, keys handler.KeyCreator) Dependencies {
	return Dependencies{
		PostJob:          handler.NewPostJobHandler(m),
		ListJobs:         handler.NewListJobsHandler(m),
		GetJob:           handler.NewGetJobHandler(m),
		CancelJob:        handler.NewCancelJobHandler(m),
		AssignJob:        handler.NewAssignHandler(m),
		AutoAccept:       handler.NewAutoAcceptHandler(m),
		StartJob:         handler.NewStartJobHandler(m, agents),
		SubmitResult:     handler.NewSubmitResultHandler(m, agents),
		ReviewJob:        handler.NewReviewHandler(m),
		DisburseJob:      handler.NewDisburseHandler(m),
		ListTransactions: handler.NewListTransactionsHandler(m),

		SubmitBid:     handler.NewSubmitBidHandler(m, agents),
		ListBids:      handler.NewListBidsHandler(m),
		RankedBids:    handler.NewRankedBidsHandler(m),
		GetBid:        handler.NewGetBidHandler(m),
		WithdrawBid:   handler.NewWithdrawBidHandler(m, agents),
		CounterOffer:  handler.NewCounterOfferHandler(m, agents),
		AcceptCounter: handler.NewAcceptCounterHandler(m, agents),
		AutoNegotiate: handler.NewAutoNegotiateHandler(m, agents),
		RejectBid:     handler.NewRejectBidHandler(m),

		ApproveBid:       handler.NewApproveBidHandler(m),
		PendingApprovals: handler.NewPendingApprovalsHandler(m),

		RegisterAgent: handler.NewRegisterAgentHandler(agents),
		GetAgent:      handler.NewGetAgentHandler(agents),
		Heartbeat:     handler.NewHeartbeatHandler(agents),
		ExpireAgent:   handler.NewExpireAgentHandler(m),

		CreateKeyHandler: handler.NewCreateKeyHandler(keys),
	}
}
