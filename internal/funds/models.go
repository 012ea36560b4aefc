package funds

import (
	"time"

	"github.com/shopspring/decimal"

	"bx-funddesk/internal/types"
)

// LedgerAccount is a user's trading cash account. Balance and available
// margin move in lockstep for cash operations; used margin belongs to the
// margin engine and is never touched here.
type LedgerAccount struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
	UsedMargin      decimal.Decimal `json:"used_margin"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FundRequest is a deposit or withdrawal awaiting admin review, or the
// completed audit record of a manual admin adjustment. Once completed or
// failed the record is immutable.
type FundRequest struct {
	ID                string              `json:"id"`
	Kind              types.RequestKind   `json:"kind"`
	AccountID         string              `json:"account_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Charges           decimal.Decimal     `json:"charges"`
	Status            types.RequestStatus `json:"status"`
	ProofArtifactRef  string              `json:"proof_artifact_ref,omitempty"`
	ExternalReference string              `json:"external_reference,omitempty"`
	Remarks           string              `json:"remarks,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	ProcessedAt       *time.Time          `json:"processed_at,omitempty"`
}

// LedgerEntry is one immutable credit or debit against an account. Entries
// are append-only; the signed sum per account equals its balance.
type LedgerEntry struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Type        types.EntryType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SignedAmount returns the entry amount with a debit sign applied.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Type == types.EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// AdminActor is the authenticated admin performing an action, as supplied
// by the identity layer.
type AdminActor struct {
	ID   string          `json:"id"`
	Role types.AdminRole `json:"role"`
}

// MutationResult reports the outcome of a committed balance mutation.
type MutationResult struct {
	RequestID     string          `json:"request_id"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	NewAvailable  decimal.Decimal `json:"new_available_margin"`
	LedgerEntryID string          `json:"ledger_entry_id"`
}

// RejectResult reports a committed rejection.
type RejectResult struct {
	RequestID string `json:"request_id"`
}
