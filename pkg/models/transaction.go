package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxnTypeEscrow  = "escrow"
	TxnTypeRelease = "release"
	TxnTypeRefund  = "refund"
)

const (
	TxnStatusPending   = "pending"
	TxnStatusConfirmed = "confirmed"
	TxnStatusFailed    = "failed"
)

// Transaction records one fund movement. Only Status, ExternalRef, LastError
// and UpdatedAt change after creation, and Status only moves out of pending.
type Transaction struct {
	ID          string          `db:"id"           json:"txn_id"`
	Type        string          `db:"type"         json:"type"`
	JobID       string          `db:"job_id"       json:"job_id"`
	Amount      decimal.Decimal `db:"amount"       json:"amount"`
	PayerRef    string          `db:"payer_ref"    json:"payer_ref"`
	PayeeRef    string          `db:"payee_ref"    json:"payee_ref"`
	Status      string          `db:"status"       json:"status"`
	ExternalRef string          `db:"external_ref" json:"external_ref,omitempty"`
	LastError   string          `db:"last_error"   json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
}

// Disbursing reports whether the transaction moves escrowed funds out.
func (t *Transaction) Disbursing() bool {
	return t.Type == TxnTypeRelease || t.Type == TxnTypeRefund
}
