package advisor

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
)

// PolicyNegotiator is a deterministic negotiator. For a poster the limit is
// the most it will pay; for an agent it is the least it will take.
type PolicyNegotiator struct{}

func NewPolicyNegotiator() *PolicyNegotiator { return &PolicyNegotiator{} }

func (p *PolicyNegotiator) Name() string { return "policy" }

func (p *PolicyNegotiator) Decide(_ context.Context, nc models.NegotiationContext) (models.NegotiationDecision, error) {
	current, limit := nc.CurrentPrice, nc.Limit

	acceptable := current.LessThanOrEqual(limit)
	if nc.Role == models.PartyAgent {
		acceptable = current.GreaterThanOrEqual(limit)
	}
	if acceptable {
		return models.NegotiationDecision{Action: models.ActionAccept}, nil
	}
	if nc.RoundsLeft <= 0 {
		return models.NegotiationDecision{
			Action: models.ActionReject,
			Reason: fmt.Sprintf("price $%s is outside limit $%s", current.StringFixed(2), limit.StringFixed(2)),
		}, nil
	}

	// Early rounds anchor past the limit by half the gap; the last round
	// offers the limit itself.
	target := limit
	if nc.RoundsLeft > 1 {
		half := current.Sub(limit).Abs().Div(decimal.NewFromInt(2))
		if nc.Role == models.PartyAgent {
			target = limit.Add(half)
		} else if limit.Sub(half).IsPositive() {
			target = limit.Sub(half)
		}
	}
	target = target.Round(2)

	return models.NegotiationDecision{
		Action:  models.ActionCounter,
		Price:   target,
		Message: fmt.Sprintf("Can we settle at $%s?", target.StringFixed(2)),
	}, nil
}

var _ models.Negotiator = (*PolicyNegotiator)(nil)

// StaticQuality suggests the same score for every result.
type StaticQuality struct {
	score     float64
	threshold float64
}

func NewStaticQuality(score, threshold float64) *StaticQuality {
	return &StaticQuality{score: score, threshold: threshold}
}

func (s *StaticQuality) Name() string { return "static" }

func (s *StaticQuality) SuggestQuality(_ context.Context, _ models.QualityRequest) (models.QualitySuggestion, error) {
	return models.QualitySuggestion{
		Score:          s.score,
		Recommendation: RecommendationFor(s.score, s.threshold),
		Feedback:       "static suggestion",
	}, nil
}

var _ models.QualityProvider = (*StaticQuality)(nil)
