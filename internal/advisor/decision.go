// Package advisor holds the external decision collaborators: quality
// suggestion providers and auto-negotiation deciders.
package advisor

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
)

// ParseDecision reads a one-line negotiation decision:
//
//	ACCEPT
//	COUNTER $X.XX | message
//	REJECT | reason
//
// Anything else is ErrInvalidResponse.
func ParseDecision(line string) (models.NegotiationDecision, error) {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, models.ActionAccept):
		return models.NegotiationDecision{Action: models.ActionAccept}, nil

	case strings.HasPrefix(line, models.ActionCounter):
		rest := strings.TrimSpace(strings.TrimPrefix(line, models.ActionCounter))
		pricePart, message, _ := strings.Cut(rest, "|")
		pricePart = strings.TrimPrefix(strings.TrimSpace(pricePart), "$")
		price, err := decimal.NewFromString(pricePart)
		if err != nil {
			return models.NegotiationDecision{}, fmt.Errorf("%w: counter price %q", ErrInvalidResponse, pricePart)
		}
		if !price.IsPositive() {
			return models.NegotiationDecision{}, fmt.Errorf("%w: counter price must be positive", ErrInvalidResponse)
		}
		message = strings.TrimSpace(message)
		if message == "" {
			message = "Counter-offer"
		}
		return models.NegotiationDecision{Action: models.ActionCounter, Price: price, Message: message}, nil

	case strings.HasPrefix(line, models.ActionReject):
		reason := strings.TrimSpace(strings.TrimPrefix(line, models.ActionReject))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, "|"))
		return models.NegotiationDecision{Action: models.ActionReject, Reason: reason}, nil
	}

	return models.NegotiationDecision{}, fmt.Errorf("%w: unrecognized decision %q", ErrInvalidResponse, truncate(line, 80))
}

// FormatDecision is the inverse of ParseDecision.
func FormatDecision(d models.NegotiationDecision) string {
	switch d.Action {
	case models.ActionCounter:
		return fmt.Sprintf("COUNTER $%s | %s", d.Price.StringFixed(2), d.Message)
	case models.ActionReject:
		return "REJECT | " + d.Reason
	default:
		return d.Action
	}
}

// RecommendationFor maps a quality score onto accept/partial/reject using
// the quality threshold t: at least t accepts, at least 0.7t is partial.
func RecommendationFor(score, threshold float64) string {
	switch {
	case score >= threshold:
		return models.DecisionAccept
	case score >= 0.7*threshold:
		return models.DecisionPartial
	default:
		return models.DecisionReject
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
