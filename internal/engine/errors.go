package engine

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrInvalidState             = errors.New("invalid state")
	ErrNegotiationLimitExceeded = errors.New("negotiation limit exceeded")
	ErrPayment                  = errors.New("payment failed")
	ErrExternalCollaborator     = errors.New("external collaborator unavailable")
)

// Validation rules carried by ValidationError.
const (
	RuleOverBudget          = "over-budget"
	RuleCapabilityGap       = "capability-gap"
	RuleDeadlinePassed      = "deadline-passed"
	RuleAgentUnavailable    = "agent-unavailable"
	RuleNotFound            = "not-found"
	RuleJobNotAcceptingBids = "job-not-accepting-bids"
	RuleInvalidInput        = "invalid-input"
	RuleNotBidOwner         = "not-bid-owner"
)

// ValidationError reports a rejected input. Rule names the violated rule.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(rule, format string, args ...any) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation attempted from a state that does
// not permit it. Nothing was written.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// PaymentError reports a failed gateway call. The bookkeeping write that
// preceded it is committed; the transfer can be retried.
type PaymentError struct {
	Op    string
	JobID string
	Type  string
	Err   error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PaymentError) Is(target error) bool {
	return target == ErrPayment
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// CollaboratorError reports an unavailable matching, quality or negotiation
// collaborator.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrExternalCollaborator
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
