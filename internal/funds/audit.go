package funds

import (
	"context"
	"time"
)

type AuditAction string

type AuditStage string

const (
	AuditActionDepositApprove    AuditAction = "deposit_approve"
	AuditActionDepositReject     AuditAction = "deposit_reject"
	AuditActionWithdrawalApprove AuditAction = "withdrawal_approve"
	AuditActionWithdrawalReject  AuditAction = "withdrawal_reject"
	AuditActionAccountCredit     AuditAction = "account_credit"
	AuditActionAccountDebit      AuditAction = "account_debit"
)

const (
	AuditStageStart   AuditStage = "start"
	AuditStageSuccess AuditStage = "success"
	AuditStageFailure AuditStage = "failure"
)

// AuditEvent is the fixed-shape operational record emitted around every
// fund action. One start event precedes each attempt; exactly one success
// or failure event follows it.
type AuditEvent struct {
	ID        string      `json:"id"`
	Action    AuditAction `json:"action"`
	Stage     AuditStage  `json:"stage"`
	ActorID   string      `json:"actor_id"`
	RequestID string      `json:"request_id,omitempty"`
	AccountID string      `json:"account_id,omitempty"`
	Amount    string      `json:"amount,omitempty"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

// EventPublisher receives audit events fire-and-forget. A publisher
// failure is logged by the caller and never blocks the fund mutation.
type EventPublisher interface {
	Publish(ctx context.Context, ev AuditEvent) error
}

// FanoutPublisher forwards each event to every target, collecting no
// errors beyond the last one.
type FanoutPublisher []EventPublisher

func (f FanoutPublisher) Publish(ctx context.Context, ev AuditEvent) error {
	var last error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			last = err
		}
	}
	return last
}
