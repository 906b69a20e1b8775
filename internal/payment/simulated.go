package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/shopspring/decimal"
)

type escrowAccount struct {
	jobID     string
	payer     string
	amount    decimal.Decimal
	disbursed decimal.Decimal
}

func (a *escrowAccount) remaining() decimal.Decimal {
	return a.amount.Sub(a.disbursed)
}

// SimulatedGateway is an in-process ledger that never touches a real payment
// network. It enforces that disbursements never exceed the escrowed amount
// and replays the stored result for a repeated idempotency key.
type SimulatedGateway struct {
	mu       sync.Mutex
	escrows  map[string]*escrowAccount
	results  map[string]models.TransferResult
	balances map[string]decimal.Decimal
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		escrows:  make(map[string]*escrowAccount),
		results:  make(map[string]models.TransferResult),
		balances: make(map[string]decimal.Decimal),
	}
}

func (g *SimulatedGateway) Name() string { return "simulated" }

func (g *SimulatedGateway) Escrow(_ context.Context, req models.EscrowRequest) (models.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.IdempotencyKey); ok {
		return res, nil
	}
	if !req.Amount.IsPositive() {
		return g.record(req.IdempotencyKey, declined("escrow amount must be positive")), nil
	}

	ref := "esc_" + uuid.NewString()
	g.escrows[ref] = &escrowAccount{jobID: req.JobID, payer: req.Payer, amount: req.Amount}
	return g.record(req.IdempotencyKey, models.TransferResult{Success: true, Ref: ref}), nil
}

func (g *SimulatedGateway) Release(_ context.Context, req models.ReleaseRequest) (models.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.IdempotencyKey); ok {
		return res, nil
	}
	acct, ok := g.escrows[req.EscrowRef]
	if !ok {
		return g.record(req.IdempotencyKey, declined("unknown escrow "+req.EscrowRef)), nil
	}
	if req.Amount.GreaterThan(acct.remaining()) {
		return g.record(req.IdempotencyKey, declined(fmt.Sprintf("release %s exceeds remaining escrow %s", req.Amount, acct.remaining()))), nil
	}

	acct.disbursed = acct.disbursed.Add(req.Amount)
	g.balances[req.Payee] = g.balances[req.Payee].Add(req.Amount)
	return g.record(req.IdempotencyKey, models.TransferResult{Success: true, Ref: "rel_" + uuid.NewString()}), nil
}

func (g *SimulatedGateway) Refund(_ context.Context, req models.RefundRequest) (models.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.IdempotencyKey); ok {
		return res, nil
	}
	acct, ok := g.escrows[req.EscrowRef]
	if !ok {
		return g.record(req.IdempotencyKey, declined("unknown escrow "+req.EscrowRef)), nil
	}
	if req.Amount.GreaterThan(acct.remaining()) {
		return g.record(req.IdempotencyKey, declined(fmt.Sprintf("refund %s exceeds remaining escrow %s", req.Amount, acct.remaining()))), nil
	}

	acct.disbursed = acct.disbursed.Add(req.Amount)
	g.balances[acct.payer] = g.balances[acct.payer].Add(req.Amount)
	return g.record(req.IdempotencyKey, models.TransferResult{Success: true, Ref: "ref_" + uuid.NewString()}), nil
}

// Balance is the total paid out to an account so far.
func (g *SimulatedGateway) Balance(account string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account]
}

// Remaining is the undisbursed amount held under an escrow reference.
func (g *SimulatedGateway) Remaining(escrowRef string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if acct, ok := g.escrows[escrowRef]; ok {
		return acct.remaining()
	}
	return decimal.Zero
}

func (g *SimulatedGateway) replay(key string) (models.TransferResult, bool) {
	if key == "" {
		return models.TransferResult{}, false
	}
	res, ok := g.results[key]
	return res, ok
}

func (g *SimulatedGateway) record(key string, res models.TransferResult) models.TransferResult {
	if key != "" {
		g.results[key] = res
	}
	return res
}

func declined(reason string) models.TransferResult {
	return models.TransferResult{Success: false, Error: reason}
}

var _ models.PaymentGateway = (*SimulatedGateway)(nil)
