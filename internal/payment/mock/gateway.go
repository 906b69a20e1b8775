package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/internal/payment"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// MockGateway satisfies models.PaymentGateway for testing. Every call is
// recorded so tests can assert on what reached the gateway.
type MockGateway struct {
	Name_       string
	EscrowFunc  func(ctx context.Context, req models.EscrowRequest) (models.TransferResult, error)
	ReleaseFunc func(ctx context.Context, req models.ReleaseRequest) (models.TransferResult, error)
	RefundFunc  func(ctx context.Context, req models.RefundRequest) (models.TransferResult, error)

	mu       sync.Mutex
	Escrows  []models.EscrowRequest
	Releases []models.ReleaseRequest
	Refunds  []models.RefundRequest
}

func (m *MockGateway) Name() string { return m.Name_ }

func (m *MockGateway) Escrow(ctx context.Context, req models.EscrowRequest) (models.TransferResult, error) {
	m.mu.Lock()
	m.Escrows = append(m.Escrows, req)
	m.mu.Unlock()
	if m.EscrowFunc != nil {
		return m.EscrowFunc(ctx, req)
	}
	return models.TransferResult{Success: true, Ref: "esc_" + uuid.NewString()[:8]}, nil
}

func (m *MockGateway) Release(ctx context.Context, req models.ReleaseRequest) (models.TransferResult, error) {
	m.mu.Lock()
	m.Releases = append(m.Releases, req)
	m.mu.Unlock()
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, req)
	}
	return models.TransferResult{Success: true, Ref: "rel_" + uuid.NewString()[:8]}, nil
}

func (m *MockGateway) Refund(ctx context.Context, req models.RefundRequest) (models.TransferResult, error) {
	m.mu.Lock()
	m.Refunds = append(m.Refunds, req)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return models.TransferResult{Success: true, Ref: "ref_" + uuid.NewString()[:8]}, nil
}

// Calls returns how many releases and refunds reached the gateway.
func (m *MockGateway) Calls() (releases, refunds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Releases), len(m.Refunds)
}

// NewMockGateway returns a MockGateway that approves every transfer.
func NewMockGateway() *MockGateway {
	return &MockGateway{Name_: "mock"}
}

// NewFailingGateway returns a MockGateway whose every call fails with err.
func NewFailingGateway(err error) *MockGateway {
	return &MockGateway{
		Name_: "mock-failing",
		EscrowFunc: func(_ context.Context, _ models.EscrowRequest) (models.TransferResult, error) {
			return models.TransferResult{}, err
		},
		ReleaseFunc: func(_ context.Context, _ models.ReleaseRequest) (models.TransferResult, error) {
			return models.TransferResult{}, err
		},
		RefundFunc: func(_ context.Context, _ models.RefundRequest) (models.TransferResult, error) {
			return models.TransferResult{}, err
		},
	}
}

// NewTimeoutGateway returns a MockGateway that blocks until the context is cancelled.
func NewTimeoutGateway() *MockGateway {
	return &MockGateway{
		Name_: "mock-timeout",
		EscrowFunc: func(ctx context.Context, _ models.EscrowRequest) (models.TransferResult, error) {
			<-ctx.Done()
			return models.TransferResult{}, payment.ErrGatewayTimeout
		},
		ReleaseFunc: func(ctx context.Context, _ models.ReleaseRequest) (models.TransferResult, error) {
			<-ctx.Done()
			return models.TransferResult{}, payment.ErrGatewayTimeout
		},
		RefundFunc: func(ctx context.Context, _ models.RefundRequest) (models.TransferResult, error) {
			<-ctx.Done()
			return models.TransferResult{}, payment.ErrGatewayTimeout
		},
	}
}

// Compile-time check that MockGateway implements PaymentGateway.
var _ models.PaymentGateway = (*MockGateway)(nil)
