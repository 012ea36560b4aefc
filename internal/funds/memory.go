package funds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bx-funddesk/internal/types"
)

// MemoryStore is an in-memory Store used by tests and demo wiring. A
// single mutex held for the whole atomic unit gives the same observable
// serialization as the postgres implementation: concurrent units on the
// same account run one after the other, and ForUpdate reads are fresh.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]LedgerAccount
	userAccts map[string]string
	requests  map[string]FundRequest
	entries   []LedgerEntry
	managers  map[string]*string
}

var errNegativeBalance = errors.New("cash movement would drive balance negative")

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]LedgerAccount),
		userAccts: make(map[string]string),
		requests:  make(map[string]FundRequest),
		managers:  make(map[string]*string),
	}
}

// SeedAccount registers an account for a user and returns its id.
func (m *MemoryStore) SeedAccount(userID string, balance, available, used decimal.Decimal) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	id := uuid.NewString()
	m.accounts[id] = LedgerAccount{
		ID:              id,
		UserID:          userID,
		Balance:         balance,
		AvailableMargin: available,
		UsedMargin:      used,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.userAccts[userID] = id
	return id
}

// SetManagingAdmin records the relationship-manager assignment for a user.
// A nil adminID marks the user unmanaged.
func (m *MemoryStore) SetManagingAdmin(userID string, adminID *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managers[userID] = adminID
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	tx := &memoryTx{store: m}
	if err := fn(tx); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[string]LedgerAccount
	requests map[string]FundRequest
	entries  int
}

func (m *MemoryStore) snapshotLocked() memorySnapshot {
	accounts := make(map[string]LedgerAccount, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	requests := make(map[string]FundRequest, len(m.requests))
	for k, v := range m.requests {
		requests[k] = v
	}
	return memorySnapshot{accounts: accounts, requests: requests, entries: len(m.entries)}
}

func (m *MemoryStore) restoreLocked(s memorySnapshot) {
	m.accounts = s.accounts
	m.requests = s.requests
	m.entries = m.entries[:s.entries]
}

func (m *MemoryStore) AccountByUser(ctx context.Context, userID string) (*LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountByUserLocked(userID)
}

func (m *MemoryStore) accountByUserLocked(userID string) (*LedgerAccount, error) {
	id, ok := m.userAccts[userID]
	if !ok {
		return nil, &NotFoundError{Entity: "account for user", ID: userID}
	}
	acct := m.accounts[id]
	return &acct, nil
}

func (m *MemoryStore) RequestByID(ctx context.Context, id string) (*FundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, &NotFoundError{Entity: "fund request", ID: id}
	}
	return &req, nil
}

func (m *MemoryStore) ListRequests(ctx context.Context, status types.RequestStatus, limit int) ([]FundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FundRequest, 0, limit)
	for _, req := range m.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) EntriesByAccount(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, proofRef, remarks string) (*FundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.accountByUserLocked(userID)
	if err != nil {
		return nil, err
	}
	req := FundRequest{
		ID:               uuid.NewString(),
		Kind:             types.RequestKindDeposit,
		AccountID:        acct.ID,
		Amount:           amount,
		Charges:          decimal.Zero,
		Status:           types.RequestStatusPending,
		ProofArtifactRef: proofRef,
		Remarks:          remarks,
		CreatedAt:        time.Now().UTC(),
	}
	m.requests[req.ID] = req
	return &req, nil
}

func (m *MemoryStore) CreatePendingWithdrawal(ctx context.Context, userID string, amount, charges decimal.Decimal, remarks string) (*FundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.accountByUserLocked(userID)
	if err != nil {
		return nil, err
	}
	req := FundRequest{
		ID:        uuid.NewString(),
		Kind:      types.RequestKindWithdrawal,
		AccountID: acct.ID,
		Amount:    amount,
		Charges:   charges,
		Status:    types.RequestStatusPending,
		Remarks:   remarks,
		CreatedAt: time.Now().UTC(),
	}
	m.requests[req.ID] = req
	return &req, nil
}

func (m *MemoryStore) ClearProofRef(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return &NotFoundError{Entity: "fund request", ID: requestID}
	}
	req.ProofArtifactRef = ""
	m.requests[requestID] = req
	return nil
}

type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) RequestForUpdate(ctx context.Context, id string) (*FundRequest, error) {
	req, ok := t.store.requests[id]
	if !ok {
		return nil, &NotFoundError{Entity: "fund request", ID: id}
	}
	return &req, nil
}

func (t *memoryTx) AccountForUpdate(ctx context.Context, accountID string) (*LedgerAccount, error) {
	acct, ok := t.store.accounts[accountID]
	if !ok {
		return nil, &NotFoundError{Entity: "account", ID: accountID}
	}
	return &acct, nil
}

func (t *memoryTx) AccountByUserForUpdate(ctx context.Context, userID string) (*LedgerAccount, error) {
	return t.store.accountByUserLocked(userID)
}

func (t *memoryTx) ManagingAdminID(ctx context.Context, userID string) (*string, error) {
	return t.store.managers[userID], nil
}

func (t *memoryTx) ApplyCashDelta(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	acct, ok := t.store.accounts[accountID]
	if !ok {
		return decimal.Zero, decimal.Zero, &NotFoundError{Entity: "account", ID: accountID}
	}
	acct.Balance = acct.Balance.Add(delta)
	acct.AvailableMargin = acct.AvailableMargin.Add(delta)
	if acct.Balance.IsNegative() || acct.AvailableMargin.IsNegative() {
		return decimal.Zero, decimal.Zero, &StorageTransactionError{Err: errNegativeBalance}
	}
	acct.UpdatedAt = time.Now().UTC()
	t.store.accounts[accountID] = acct
	return acct.Balance, acct.AvailableMargin, nil
}

func (t *memoryTx) AppendEntry(ctx context.Context, accountID string, typ types.EntryType, amount decimal.Decimal, description string) (string, error) {
	entry := LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	t.store.entries = append(t.store.entries, entry)
	return entry.ID, nil
}

func (t *memoryTx) CompleteRequest(ctx context.Context, requestID, externalReference, remarks string, processedAt time.Time) error {
	return t.transition(requestID, types.RequestStatusCompleted, externalReference, remarks, processedAt)
}

func (t *memoryTx) FailRequest(ctx context.Context, requestID, remarks string, processedAt time.Time) error {
	return t.transition(requestID, types.RequestStatusFailed, "", remarks, processedAt)
}

func (t *memoryTx) transition(requestID string, status types.RequestStatus, externalReference, remarks string, processedAt time.Time) error {
	req, ok := t.store.requests[requestID]
	if !ok {
		return &NotFoundError{Entity: "fund request", ID: requestID}
	}
	if req.Status.Terminal() {
		return &InvalidStateError{RequestID: requestID, Status: req.Status}
	}
	req.Status = status
	if externalReference != "" {
		req.ExternalReference = externalReference
	}
	req.Remarks = remarks
	req.ProcessedAt = &processedAt
	t.store.requests[requestID] = req
	return nil
}

func (t *memoryTx) InsertCompletedRequest(ctx context.Context, kind types.RequestKind, accountID string, amount decimal.Decimal, remarks string, processedAt time.Time) (string, error) {
	req := FundRequest{
		ID:          uuid.NewString(),
		Kind:        kind,
		AccountID:   accountID,
		Amount:      amount,
		Charges:     decimal.Zero,
		Status:      types.RequestStatusCompleted,
		Remarks:     remarks,
		CreatedAt:   processedAt,
		ProcessedAt: &processedAt,
	}
	t.store.requests[req.ID] = req
	return req.ID, nil
}
