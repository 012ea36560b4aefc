package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bx-funddesk/internal/proofstore"
	"bx-funddesk/internal/types"
)

// Service exposes the admin fund operations. Every mutation runs as one
// atomic unit: authorization gate, fresh precondition reads, the balance
// delta, exactly one ledger entry and the request transition commit
// together or not at all. Proof-artifact cleanup and audit events run
// outside the unit and never gate it.
type Service struct {
	store  Store
	proofs proofstore.Store
	audit  EventPublisher
	log    *slog.Logger
}

func NewService(store Store, proofs proofstore.Store, audit EventPublisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, proofs: proofs, audit: audit, log: log}
}

var errAmountNotPositive = errors.New("amount must be positive")

func (s *Service) ApproveDeposit(ctx context.Context, requestID string, actor AdminActor) (*MutationResult, error) {
	ev := AuditEvent{Action: AuditActionDepositApprove, ActorID: actor.ID, RequestID: requestID}
	s.emit(ctx, ev, AuditStageStart, nil)

	var res MutationResult
	var proofRef string
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		req, err := s.requestOfKind(ctx, tx, requestID, types.RequestKindDeposit)
		if err != nil {
			return err
		}
		acct, err := tx.AccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, acct.UserID); err != nil {
			return err
		}
		if req.Status != types.RequestStatusPending {
			return &InvalidStateError{RequestID: req.ID, Status: req.Status}
		}

		balance, available, err := tx.ApplyCashDelta(ctx, acct.ID, req.Amount)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("deposit request %s approved by admin %s", req.ID, actor.ID)
		entryID, err := tx.AppendEntry(ctx, acct.ID, types.EntryTypeCredit, req.Amount, desc)
		if err != nil {
			return err
		}
		remarks := appendRemark(req.Remarks, "approved by admin "+actor.ID)
		if err := tx.CompleteRequest(ctx, req.ID, "", remarks, time.Now().UTC()); err != nil {
			return err
		}

		proofRef = req.ProofArtifactRef
		ev.AccountID = acct.ID
		ev.Amount = req.Amount.String()
		res = MutationResult{RequestID: req.ID, NewBalance: balance, NewAvailable: available, LedgerEntryID: entryID}
		return nil
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.cleanupProof(ctx, requestID, proofRef)
	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &res, nil
}

func (s *Service) RejectDeposit(ctx context.Context, requestID, reason string, actor AdminActor) (*RejectResult, error) {
	ev := AuditEvent{Action: AuditActionDepositReject, ActorID: actor.ID, RequestID: requestID}
	s.emit(ctx, ev, AuditStageStart, nil)

	var proofRef string
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		req, err := s.requestOfKind(ctx, tx, requestID, types.RequestKindDeposit)
		if err != nil {
			return err
		}
		acct, err := tx.AccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, acct.UserID); err != nil {
			return err
		}
		if req.Status != types.RequestStatusPending && req.Status != types.RequestStatusProcessing {
			return &InvalidStateError{RequestID: req.ID, Status: req.Status}
		}
		remarks := appendRemark(req.Remarks, rejectionRemark(reason, actor))
		if err := tx.FailRequest(ctx, req.ID, remarks, time.Now().UTC()); err != nil {
			return err
		}
		proofRef = req.ProofArtifactRef
		ev.AccountID = acct.ID
		return nil
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.cleanupProof(ctx, requestID, proofRef)
	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &RejectResult{RequestID: requestID}, nil
}

func (s *Service) ApproveWithdrawal(ctx context.Context, requestID, externalReference string, actor AdminActor) (*MutationResult, error) {
	ev := AuditEvent{Action: AuditActionWithdrawalApprove, ActorID: actor.ID, RequestID: requestID}
	s.emit(ctx, ev, AuditStageStart, nil)

	var res MutationResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		req, err := s.requestOfKind(ctx, tx, requestID, types.RequestKindWithdrawal)
		if err != nil {
			return err
		}
		acct, err := tx.AccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, acct.UserID); err != nil {
			return err
		}
		if req.Status != types.RequestStatusPending {
			return &InvalidStateError{RequestID: req.ID, Status: req.Status}
		}
		total := req.Amount.Add(req.Charges)
		if acct.AvailableMargin.LessThan(total) {
			return &InsufficientFundsError{Available: acct.AvailableMargin, Required: total}
		}

		balance, available, err := tx.ApplyCashDelta(ctx, acct.ID, total.Neg())
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("withdrawal request %s approved by admin %s", req.ID, actor.ID)
		if externalReference != "" {
			desc += " ref=" + externalReference
		}
		entryID, err := tx.AppendEntry(ctx, acct.ID, types.EntryTypeDebit, total, desc)
		if err != nil {
			return err
		}
		remarks := appendRemark(req.Remarks, "approved by admin "+actor.ID)
		if err := tx.CompleteRequest(ctx, req.ID, externalReference, remarks, time.Now().UTC()); err != nil {
			return err
		}

		ev.AccountID = acct.ID
		ev.Amount = total.String()
		res = MutationResult{RequestID: req.ID, NewBalance: balance, NewAvailable: available, LedgerEntryID: entryID}
		return nil
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &res, nil
}

func (s *Service) RejectWithdrawal(ctx context.Context, requestID, reason string, actor AdminActor) (*RejectResult, error) {
	ev := AuditEvent{Action: AuditActionWithdrawalReject, ActorID: actor.ID, RequestID: requestID}
	s.emit(ctx, ev, AuditStageStart, nil)

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		req, err := s.requestOfKind(ctx, tx, requestID, types.RequestKindWithdrawal)
		if err != nil {
			return err
		}
		acct, err := tx.AccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, acct.UserID); err != nil {
			return err
		}
		if req.Status != types.RequestStatusPending && req.Status != types.RequestStatusProcessing {
			return &InvalidStateError{RequestID: req.ID, Status: req.Status}
		}
		remarks := appendRemark(req.Remarks, rejectionRemark(reason, actor))
		ev.AccountID = acct.ID
		return tx.FailRequest(ctx, req.ID, remarks, time.Now().UTC())
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &RejectResult{RequestID: requestID}, nil
}

// CreditAccount applies a direct admin credit. A synthetic completed
// deposit record is written in the same unit so the audit trail stays
// continuous even though no pending request ever existed.
func (s *Service) CreditAccount(ctx context.Context, userID string, amount decimal.Decimal, description string, actor AdminActor) (*MutationResult, error) {
	ev := AuditEvent{Action: AuditActionAccountCredit, ActorID: actor.ID, Amount: amount.String()}
	s.emit(ctx, ev, AuditStageStart, nil)

	if !amount.GreaterThan(decimal.Zero) {
		s.emit(ctx, ev, AuditStageFailure, errAmountNotPositive)
		return nil, errAmountNotPositive
	}

	var res MutationResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		acct, err := tx.AccountByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, userID); err != nil {
			return err
		}

		now := time.Now().UTC()
		balance, available, err := tx.ApplyCashDelta(ctx, acct.ID, amount)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("manual credit by admin %s: %s", actor.ID, description)
		entryID, err := tx.AppendEntry(ctx, acct.ID, types.EntryTypeCredit, amount, desc)
		if err != nil {
			return err
		}
		requestID, err := tx.InsertCompletedRequest(ctx, types.RequestKindDeposit, acct.ID, amount, desc, now)
		if err != nil {
			return err
		}

		ev.AccountID = acct.ID
		ev.RequestID = requestID
		res = MutationResult{RequestID: requestID, NewBalance: balance, NewAvailable: available, LedgerEntryID: entryID}
		return nil
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &res, nil
}

// DebitAccount applies a direct admin debit. Margin sufficiency is checked
// against the row locked in this unit, the same way withdrawal approval
// does it.
func (s *Service) DebitAccount(ctx context.Context, userID string, amount decimal.Decimal, description string, actor AdminActor) (*MutationResult, error) {
	ev := AuditEvent{Action: AuditActionAccountDebit, ActorID: actor.ID, Amount: amount.String()}
	s.emit(ctx, ev, AuditStageStart, nil)

	if !amount.GreaterThan(decimal.Zero) {
		s.emit(ctx, ev, AuditStageFailure, errAmountNotPositive)
		return nil, errAmountNotPositive
	}

	var res MutationResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		acct, err := tx.AccountByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := authorizeActor(ctx, tx, actor, userID); err != nil {
			return err
		}
		if acct.AvailableMargin.LessThan(amount) {
			return &InsufficientFundsError{Available: acct.AvailableMargin, Required: amount}
		}

		now := time.Now().UTC()
		balance, available, err := tx.ApplyCashDelta(ctx, acct.ID, amount.Neg())
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("manual debit by admin %s: %s", actor.ID, description)
		entryID, err := tx.AppendEntry(ctx, acct.ID, types.EntryTypeDebit, amount, desc)
		if err != nil {
			return err
		}
		requestID, err := tx.InsertCompletedRequest(ctx, types.RequestKindWithdrawal, acct.ID, amount, desc, now)
		if err != nil {
			return err
		}

		ev.AccountID = acct.ID
		ev.RequestID = requestID
		res = MutationResult{RequestID: requestID, NewBalance: balance, NewAvailable: available, LedgerEntryID: entryID}
		return nil
	})
	if err != nil {
		s.emit(ctx, ev, AuditStageFailure, err)
		return nil, err
	}

	s.emit(ctx, ev, AuditStageSuccess, nil)
	return &res, nil
}

func (s *Service) requestOfKind(ctx context.Context, tx Tx, requestID string, kind types.RequestKind) (*FundRequest, error) {
	req, err := tx.RequestForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Kind != kind {
		return nil, &NotFoundError{Entity: string(kind) + " request", ID: requestID}
	}
	return req, nil
}

// cleanupProof deletes a deposit's proof artifact once the request is
// terminal. Phase two of the workflow: advisory only, a failure here is
// logged and swallowed so storage trouble can never wedge an approval.
func (s *Service) cleanupProof(ctx context.Context, requestID, proofRef string) {
	if proofRef == "" || s.proofs == nil {
		return
	}
	if err := s.proofs.Delete(ctx, proofRef); err != nil {
		s.log.Warn("proof artifact cleanup failed", "request_id", requestID, "ref", proofRef, "err", err)
		return
	}
	if err := s.store.ClearProofRef(ctx, requestID); err != nil {
		s.log.Warn("proof reference clear failed", "request_id", requestID, "err", err)
	}
}

func (s *Service) emit(ctx context.Context, ev AuditEvent, stage AuditStage, opErr error) {
	if s.audit == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Stage = stage
	ev.At = time.Now().UTC()
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	if err := s.audit.Publish(ctx, ev); err != nil {
		s.log.Warn("audit publish failed", "action", ev.Action, "stage", ev.Stage, "err", err)
	}
}

func appendRemark(existing, remark string) string {
	if strings.TrimSpace(existing) == "" {
		return remark
	}
	return existing + "; " + remark
}

func rejectionRemark(reason string, actor AdminActor) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("rejected by admin %s: %s", actor.ID, reason)
}
