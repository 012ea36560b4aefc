package funds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bx-funddesk/internal/types"
)

// Store is the persistence boundary for accounts, fund requests and the
// ledger. WithinTx runs fn as one serializable atomic unit: either every
// write made through tx commits, or none do. Implementations must
// serialize concurrent units touching the same account so that ForUpdate
// reads are fresh.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	AccountByUser(ctx context.Context, userID string) (*LedgerAccount, error)
	RequestByID(ctx context.Context, id string) (*FundRequest, error)
	ListRequests(ctx context.Context, status types.RequestStatus, limit int) ([]FundRequest, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]LedgerEntry, error)

	// Origination: PENDING records are created by the external deposit and
	// withdrawal flows, never by the approval service itself.
	CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, proofRef, remarks string) (*FundRequest, error)
	CreatePendingWithdrawal(ctx context.Context, userID string, amount, charges decimal.Decimal, remarks string) (*FundRequest, error)

	// ClearProofRef runs outside the atomic unit, after a proof artifact has
	// been deleted from its backing store.
	ClearProofRef(ctx context.Context, requestID string) error
}

// Tx is the handle scoped to one atomic unit. ForUpdate reads lock the row
// for the remainder of the unit.
type Tx interface {
	RequestForUpdate(ctx context.Context, id string) (*FundRequest, error)
	AccountForUpdate(ctx context.Context, accountID string) (*LedgerAccount, error)
	AccountByUserForUpdate(ctx context.Context, userID string) (*LedgerAccount, error)

	// ManagingAdminID returns the managing-admin id recorded on the owning
	// user, or nil when the user is unmanaged.
	ManagingAdminID(ctx context.Context, userID string) (*string, error)

	// ApplyCashDelta moves balance and available margin in lockstep and
	// returns the resulting values.
	ApplyCashDelta(ctx context.Context, accountID string, delta decimal.Decimal) (balance, available decimal.Decimal, err error)

	AppendEntry(ctx context.Context, accountID string, typ types.EntryType, amount decimal.Decimal, description string) (entryID string, err error)

	CompleteRequest(ctx context.Context, requestID, externalReference, remarks string, processedAt time.Time) error
	FailRequest(ctx context.Context, requestID, remarks string, processedAt time.Time) error

	// InsertCompletedRequest records a synthetic, already-terminal request
	// for a manual admin credit or debit.
	InsertCompletedRequest(ctx context.Context, kind types.RequestKind, accountID string, amount decimal.Decimal, remarks string, processedAt time.Time) (string, error)
}
