package funds

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bx-funddesk/internal/types"
)

// NotFoundError: the request or account does not exist. Not retryable.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStateError: the request is not in a state that permits the
// attempted transition. Carries the status actually observed so retries
// are distinguishable from first attempts.
type InvalidStateError struct {
	RequestID string
	Status    types.RequestStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("request %s is %s and cannot be transitioned", e.RequestID, e.Status)
}

// AuthorizationError: the actor may not act on the owning user.
type AuthorizationError struct {
	ActorID string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("admin %s is not authorized: %s", e.ActorID, e.Reason)
}

// InsufficientFundsError: the debit exceeds the spendable margin. Carries
// the exact shortfall inputs for the caller to render.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s", e.Available.String(), e.Required.String())
}

// StorageTransactionError: the atomic unit failed to commit. Transient;
// safe to retry because every precondition is re-validated per attempt.
type StorageTransactionError struct {
	Err error
}

func (e *StorageTransactionError) Error() string {
	return fmt.Sprintf("storage transaction failed: %v", e.Err)
}

func (e *StorageTransactionError) Unwrap() error { return e.Err }
