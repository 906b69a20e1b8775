package mock

import (
	"context"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// MockAdvisor satisfies models.QualityProvider and models.Negotiator for testing.
type MockAdvisor struct {
	Name_       string
	SuggestFunc func(ctx context.Context, req models.QualityRequest) (models.QualitySuggestion, error)
	DecideFunc  func(ctx context.Context, nc models.NegotiationContext) (models.NegotiationDecision, error)
}

func (m *MockAdvisor) Name() string { return m.Name_ }

func (m *MockAdvisor) SuggestQuality(ctx context.Context, req models.QualityRequest) (models.QualitySuggestion, error) {
	if m.SuggestFunc != nil {
		return m.SuggestFunc(ctx, req)
	}
	return models.QualitySuggestion{}, nil
}

func (m *MockAdvisor) Decide(ctx context.Context, nc models.NegotiationContext) (models.NegotiationDecision, error) {
	if m.DecideFunc != nil {
		return m.DecideFunc(ctx, nc)
	}
	return models.NegotiationDecision{Action: models.ActionAccept}, nil
}

// NewMockAdvisor returns a MockAdvisor that suggests 0.9/accept and accepts every price.
func NewMockAdvisor() *MockAdvisor {
	return &MockAdvisor{
		Name_: "mock",
		SuggestFunc: func(_ context.Context, _ models.QualityRequest) (models.QualitySuggestion, error) {
			return models.QualitySuggestion{Score: 0.9, Recommendation: models.DecisionAccept, Feedback: "looks complete"}, nil
		},
	}
}

// NewDecidingAdvisor returns a MockAdvisor whose negotiator answers with the
// given decision line, parsed the same way a remote answer would be.
func NewDecidingAdvisor(line string) *MockAdvisor {
	m := NewMockAdvisor()
	m.DecideFunc = func(_ context.Context, _ models.NegotiationContext) (models.NegotiationDecision, error) {
		return advisor.ParseDecision(line)
	}
	return m
}

// NewFailingAdvisor returns a MockAdvisor that always returns the given error.
func NewFailingAdvisor(err error) *MockAdvisor {
	return &MockAdvisor{
		Name_: "mock-failing",
		SuggestFunc: func(_ context.Context, _ models.QualityRequest) (models.QualitySuggestion, error) {
			return models.QualitySuggestion{}, err
		},
		DecideFunc: func(_ context.Context, _ models.NegotiationContext) (models.NegotiationDecision, error) {
			return models.NegotiationDecision{}, err
		},
	}
}

// NewTimeoutAdvisor returns a MockAdvisor that blocks until context is cancelled.
func NewTimeoutAdvisor() *MockAdvisor {
	return &MockAdvisor{
		Name_: "mock-timeout",
		SuggestFunc: func(ctx context.Context, _ models.QualityRequest) (models.QualitySuggestion, error) {
			<-ctx.Done()
			return models.QualitySuggestion{}, advisor.ErrTimeout
		},
		DecideFunc: func(ctx context.Context, _ models.NegotiationContext) (models.NegotiationDecision, error) {
			<-ctx.Done()
			return models.NegotiationDecision{}, advisor.ErrTimeout
		},
	}
}

var (
	_ models.QualityProvider = (*MockAdvisor)(nil)
	_ models.Negotiator      = (*MockAdvisor)(nil)
)
