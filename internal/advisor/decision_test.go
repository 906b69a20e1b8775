package advisor_test

import (
	"errors"
	"testing"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		action  string
		price   string
		message string
		reason  string
	}{
		{name: "accept", line: "ACCEPT", action: models.ActionAccept},
		{name: "accept with trailing text", line: "  ACCEPT - sounds fair\n", action: models.ActionAccept},
		{name: "counter", line: "COUNTER $1.60 | Can you do 1.60?", action: models.ActionCounter, price: "1.60", message: "Can you do 1.60?"},
		{name: "counter without dollar", line: "COUNTER 2 | ok", action: models.ActionCounter, price: "2", message: "ok"},
		{name: "counter without message", line: "COUNTER $3.10", action: models.ActionCounter, price: "3.10", message: "Counter-offer"},
		{name: "reject", line: "REJECT | too expensive", action: models.ActionReject, reason: "too expensive"},
		{name: "reject bare", line: "REJECT", action: models.ActionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := advisor.ParseDecision(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.action, d.Action)
			if tt.price != "" {
				assert.True(t, decimal.RequireFromString(tt.price).Equal(d.Price), "price %s", d.Price)
			}
			assert.Equal(t, tt.message, d.Message)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestParseDecision_Malformed(t *testing.T) {
	for _, line := range []string{"", "maybe", "COUNTER $abc | hi", "COUNTER $-1 | hi", "accept"} {
		_, err := advisor.ParseDecision(line)
		assert.True(t, errors.Is(err, advisor.ErrInvalidResponse), "line %q: %v", line, err)
	}
}

func TestFormatDecision_RoundTrips(t *testing.T) {
	d := models.NegotiationDecision{Action: models.ActionCounter, Price: decimal.RequireFromString("1.6"), Message: "meet me"}
	assert.Equal(t, "COUNTER $1.60 | meet me", advisor.FormatDecision(d))

	back, err := advisor.ParseDecision(advisor.FormatDecision(d))
	require.NoError(t, err)
	assert.True(t, d.Price.Equal(back.Price))
}

func TestRecommendationFor(t *testing.T) {
	assert.Equal(t, models.DecisionAccept, advisor.RecommendationFor(0.7, 0.7))
	assert.Equal(t, models.DecisionPartial, advisor.RecommendationFor(0.5, 0.7))
	assert.Equal(t, models.DecisionPartial, advisor.RecommendationFor(0.49, 0.7))
	assert.Equal(t, models.DecisionReject, advisor.RecommendationFor(0.48, 0.7))
}
