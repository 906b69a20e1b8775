package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	PostJob          http.HandlerFunc
	ListJobs         http.HandlerFunc
	GetJob           http.HandlerFunc
	CancelJob        http.HandlerFunc
	AssignJob        http.HandlerFunc
	AutoAccept       http.HandlerFunc
	StartJob         http.HandlerFunc
	SubmitResult     http.HandlerFunc
	ReviewJob        http.HandlerFunc
	DisburseJob      http.HandlerFunc
	ListTransactions http.HandlerFunc

	SubmitBid     http.HandlerFunc
	ListBids      http.HandlerFunc
	RankedBids    http.HandlerFunc
	GetBid        http.HandlerFunc
	WithdrawBid   http.HandlerFunc
	CounterOffer  http.HandlerFunc
	AcceptCounter http.HandlerFunc
	AutoNegotiate http.HandlerFunc
	RejectBid     http.HandlerFunc

	ApproveBid       http.HandlerFunc
	PendingApprovals http.HandlerFunc

	RegisterAgent http.HandlerFunc
	GetAgent      http.HandlerFunc
	Heartbeat     http.HandlerFunc
	ExpireAgent   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		poster := deps.Auth.RequireScope(models.ScopePoster)
		agent := deps.Auth.RequireScope(models.ScopeAgent)
		party := deps.Auth.RequireScope(models.ScopePoster, models.ScopeAgent)

		r.Get("/jobs", orNotImplemented(deps.ListJobs))
		r.With(poster).Post("/jobs", orNotImplemented(deps.PostJob))
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetJob))
			r.Get("/bids", orNotImplemented(deps.ListBids))
			r.Get("/bids/ranked", orNotImplemented(deps.RankedBids))
			r.With(agent).Post("/bids", orNotImplemented(deps.SubmitBid))
			r.With(agent).Post("/start", orNotImplemented(deps.StartJob))
			r.With(agent).Post("/result", orNotImplemented(deps.SubmitResult))

			r.Group(func(r chi.Router) {
				r.Use(poster)
				r.Post("/cancel", orNotImplemented(deps.CancelJob))
				r.Post("/assign", orNotImplemented(deps.AssignJob))
				r.Post("/auto-accept", orNotImplemented(deps.AutoAccept))
				r.Post("/review", orNotImplemented(deps.ReviewJob))
				r.Post("/disburse", orNotImplemented(deps.DisburseJob))
				r.Get("/transactions", orNotImplemented(deps.ListTransactions))
			})
		})

		r.Route("/bids/{bidID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetBid))
			r.With(agent).Post("/withdraw", orNotImplemented(deps.WithdrawBid))
			r.With(party).Post("/counter", orNotImplemented(deps.CounterOffer))
			r.With(party).Post("/accept-counter", orNotImplemented(deps.AcceptCounter))
			r.With(party).Post("/auto-negotiate", orNotImplemented(deps.AutoNegotiate))
			r.With(deps.Auth.RequireScope(models.ScopePoster, models.ScopeApprover)).
				Post("/reject", orNotImplemented(deps.RejectBid))
			r.With(deps.Auth.RequireScope(models.ScopeApprover)).
				Post("/approve", orNotImplemented(deps.ApproveBid))
		})

		r.With(deps.Auth.RequireScope(models.ScopeApprover)).
			Get("/approvals", orNotImplemented(deps.PendingApprovals))

		r.With(agent).Post("/agents", orNotImplemented(deps.RegisterAgent))
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetAgent))
			r.With(agent).Post("/heartbeat", orNotImplemented(deps.Heartbeat))
			r.With(deps.Auth.RequireScope(models.ScopeAdmin)).
				Post("/expire", orNotImplemented(deps.ExpireAgent))
		})

		r.With(deps.Auth.RequireScope(models.ScopeAdmin)).
			Post("/admin/keys", orNotImplemented(deps.CreateKeyHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
