package funds

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bx-funddesk/internal/proofstore"
	"bx-funddesk/internal/types"
)

var (
	superAdmin = AdminActor{ID: "sa-1", Role: types.AdminRoleSuperAdmin}
	moderator  = AdminActor{ID: "mod-1", Role: types.AdminRoleModerator}
)

type capturePublisher struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (c *capturePublisher) Publish(ctx context.Context, ev AuditEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *capturePublisher) stages(action AuditAction) []AuditStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []AuditStage
	for _, ev := range c.events {
		if ev.Action == action {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *proofstore.MemoryStore, *capturePublisher) {
	t.Helper()
	store := NewMemoryStore()
	proofs := proofstore.NewMemoryStore()
	pub := &capturePublisher{}
	return NewService(store, proofs, pub, nil), store, proofs, pub
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestApproveDeposit(t *testing.T) {
	svc, store, proofs, pub := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "10000"), mustDecimal(t, "10000"), decimal.Zero)
	require.NoError(t, proofs.Put(ctx, "proof-1", "image/png", []byte("receipt")))
	req, err := store.CreatePendingDeposit(ctx, "user-1", mustDecimal(t, "5000"), "proof-1", "bank transfer")
	require.NoError(t, err)

	res, err := svc.ApproveDeposit(ctx, req.ID, superAdmin)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(mustDecimal(t, "15000")), "balance: %s", res.NewBalance)
	assert.True(t, res.NewAvailable.Equal(mustDecimal(t, "15000")), "available: %s", res.NewAvailable)

	got, err := store.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Empty(t, got.ProofArtifactRef, "proof ref should be cleared after cleanup")
	assert.False(t, proofs.Has("proof-1"), "proof artifact should be deleted")

	entries, err := store.EntriesByAccount(ctx, req.AccountID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryTypeCredit, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(mustDecimal(t, "5000")))

	assert.Equal(t, []AuditStage{AuditStageStart, AuditStageSuccess}, pub.stages(AuditActionDepositApprove))
}

func TestApproveDepositTwice(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "100"), mustDecimal(t, "100"), decimal.Zero)
	req, err := store.CreatePendingDeposit(ctx, "user-1", mustDecimal(t, "50"), "", "")
	require.NoError(t, err)

	_, err = svc.ApproveDeposit(ctx, req.ID, superAdmin)
	require.NoError(t, err)

	_, err = svc.ApproveDeposit(ctx, req.ID, superAdmin)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, types.RequestStatusCompleted, ise.Status)

	acct, err := store.AccountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(mustDecimal(t, "150")), "second approval must not move funds again")

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRejectDeposit(t *testing.T) {
	svc, store, proofs, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "100"), mustDecimal(t, "100"), decimal.Zero)
	require.NoError(t, proofs.Put(ctx, "proof-2", "image/jpeg", []byte("fake")))
	req, err := store.CreatePendingDeposit(ctx, "user-1", mustDecimal(t, "999"), "proof-2", "")
	require.NoError(t, err)

	_, err = svc.RejectDeposit(ctx, req.ID, "unreadable receipt", superAdmin)
	require.NoError(t, err)

	got, err := store.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusFailed, got.Status)
	assert.Contains(t, got.Remarks, "unreadable receipt")
	assert.False(t, proofs.Has("proof-2"))

	acct, err := store.AccountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(mustDecimal(t, "100")), "rejection must not move funds")

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApproveWithdrawal(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "5000"), mustDecimal(t, "5000"), decimal.Zero)
	req, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "2000"), mustDecimal(t, "50"), "")
	require.NoError(t, err)

	res, err := svc.ApproveWithdrawal(ctx, req.ID, "BANK-TX-991", superAdmin)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(mustDecimal(t, "2950")))
	assert.True(t, res.NewAvailable.Equal(mustDecimal(t, "2950")))

	got, err := store.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusCompleted, got.Status)
	assert.Equal(t, "BANK-TX-991", got.ExternalReference)

	entries, err := store.EntriesByAccount(ctx, req.AccountID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryTypeDebit, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(mustDecimal(t, "2050")), "debit covers amount plus charges")
}

func TestApproveWithdrawalInsufficientFunds(t *testing.T) {
	svc, store, _, pub := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "2000"), mustDecimal(t, "2000"), decimal.Zero)
	req, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "3000"), mustDecimal(t, "50"), "")
	require.NoError(t, err)

	_, err = svc.ApproveWithdrawal(ctx, req.ID, "", superAdmin)
	var ife *InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Available.Equal(mustDecimal(t, "2000")))
	assert.True(t, ife.Required.Equal(mustDecimal(t, "3050")))

	got, err := store.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusPending, got.Status, "failed approval leaves the request reviewable")

	acct, err := store.AccountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(mustDecimal(t, "2000")))

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, []AuditStage{AuditStageStart, AuditStageFailure}, pub.stages(AuditActionWithdrawalApprove))
}

func TestRejectWithdrawalAfterCompletion(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "5000"), mustDecimal(t, "5000"), decimal.Zero)
	req, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "100"), decimal.Zero, "")
	require.NoError(t, err)

	_, err = svc.ApproveWithdrawal(ctx, req.ID, "", superAdmin)
	require.NoError(t, err)

	_, err = svc.RejectWithdrawal(ctx, req.ID, "changed my mind", superAdmin)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, types.RequestStatusCompleted, ise.Status)
}

func TestApproveDepositWrongKind(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "1000"), mustDecimal(t, "1000"), decimal.Zero)
	req, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "100"), decimal.Zero, "")
	require.NoError(t, err)

	_, err = svc.ApproveDeposit(ctx, req.ID, superAdmin)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf, "a withdrawal id is not a deposit")
}

func TestAuthorizationRoles(t *testing.T) {
	managerA := "admin-a"
	managerB := "admin-b"

	cases := []struct {
		name    string
		actor   AdminActor
		manager *string
		denied  bool
	}{
		{name: "super admin always allowed", actor: superAdmin, manager: &managerB, denied: false},
		{name: "moderator always denied", actor: moderator, manager: nil, denied: true},
		{name: "admin allowed for own user", actor: AdminActor{ID: managerA, Role: types.AdminRoleAdmin}, manager: &managerA, denied: false},
		{name: "admin allowed for unmanaged user", actor: AdminActor{ID: managerA, Role: types.AdminRoleAdmin}, manager: nil, denied: false},
		{name: "admin denied for another admin's user", actor: AdminActor{ID: managerA, Role: types.AdminRoleAdmin}, manager: &managerB, denied: true},
		{name: "unknown role denied", actor: AdminActor{ID: "x", Role: types.AdminRole("intern")}, manager: nil, denied: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _, _ := newTestService(t)
			ctx := context.Background()

			store.SeedAccount("user-1", mustDecimal(t, "1000"), mustDecimal(t, "1000"), decimal.Zero)
			store.SetManagingAdmin("user-1", tc.manager)
			req, err := store.CreatePendingDeposit(ctx, "user-1", mustDecimal(t, "10"), "", "")
			require.NoError(t, err)

			_, err = svc.ApproveDeposit(ctx, req.ID, tc.actor)
			if tc.denied {
				var ae *AuthorizationError
				require.ErrorAs(t, err, &ae)

				got, err := store.RequestByID(ctx, req.ID)
				require.NoError(t, err)
				assert.Equal(t, types.RequestStatusPending, got.Status, "denied attempt must not transition the request")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCreditAccount(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "100"), mustDecimal(t, "100"), decimal.Zero)

	res, err := svc.CreditAccount(ctx, "user-1", mustDecimal(t, "250"), "goodwill adjustment", superAdmin)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(mustDecimal(t, "350")))

	req, err := store.RequestByID(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestKindDeposit, req.Kind)
	assert.Equal(t, types.RequestStatusCompleted, req.Status, "manual credit records a synthetic completed request")
	assert.NotNil(t, req.ProcessedAt)
}

func TestDebitAccount(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "500"), mustDecimal(t, "500"), decimal.Zero)

	t.Run("insufficient", func(t *testing.T) {
		_, err := svc.DebitAccount(ctx, "user-1", mustDecimal(t, "501"), "fee", superAdmin)
		var ife *InsufficientFundsError
		require.ErrorAs(t, err, &ife)
	})

	t.Run("ok", func(t *testing.T) {
		res, err := svc.DebitAccount(ctx, "user-1", mustDecimal(t, "120"), "chargeback", superAdmin)
		require.NoError(t, err)
		assert.True(t, res.NewBalance.Equal(mustDecimal(t, "380")))

		req, err := store.RequestByID(ctx, res.RequestID)
		require.NoError(t, err)
		assert.Equal(t, types.RequestKindWithdrawal, req.Kind)
		assert.Equal(t, types.RequestStatusCompleted, req.Status)
	})

	t.Run("amount must be positive", func(t *testing.T) {
		_, err := svc.DebitAccount(ctx, "user-1", decimal.Zero, "noop", superAdmin)
		require.Error(t, err)
	})
}

func TestConcurrentWithdrawalDrain(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	store.SeedAccount("user-1", mustDecimal(t, "1000"), mustDecimal(t, "1000"), decimal.Zero)
	first, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "700"), decimal.Zero, "")
	require.NoError(t, err)
	second, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "700"), decimal.Zero, "")
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.ApproveWithdrawal(ctx, id, "", superAdmin)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var ife *InsufficientFundsError
		require.ErrorAs(t, err, &ife)
		insufficient++
	}
	assert.Equal(t, 1, succeeded, "only one withdrawal may drain the balance")
	assert.Equal(t, 1, insufficient)

	acct, err := store.AccountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(mustDecimal(t, "300")), "final balance: %s", acct.Balance)

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// Replaying the ledger from the seed balance must land exactly on the
// current balance, whatever mix of operations ran.
func TestLedgerReplay(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	seed := mustDecimal(t, "10000")
	store.SeedAccount("user-1", seed, seed, decimal.Zero)

	dep, err := store.CreatePendingDeposit(ctx, "user-1", mustDecimal(t, "5000"), "", "")
	require.NoError(t, err)
	_, err = svc.ApproveDeposit(ctx, dep.ID, superAdmin)
	require.NoError(t, err)

	wd, err := store.CreatePendingWithdrawal(ctx, "user-1", mustDecimal(t, "2000"), mustDecimal(t, "25"), "")
	require.NoError(t, err)
	_, err = svc.ApproveWithdrawal(ctx, wd.ID, "", superAdmin)
	require.NoError(t, err)

	_, err = svc.CreditAccount(ctx, "user-1", mustDecimal(t, "300"), "bonus", superAdmin)
	require.NoError(t, err)
	_, err = svc.DebitAccount(ctx, "user-1", mustDecimal(t, "75"), "fee", superAdmin)
	require.NoError(t, err)

	acct, err := store.AccountByUser(ctx, "user-1")
	require.NoError(t, err)

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)

	replayed := seed
	for _, e := range entries {
		replayed = replayed.Add(e.SignedAmount())
	}
	assert.True(t, replayed.Equal(acct.Balance), "replayed %s vs balance %s", replayed, acct.Balance)
	assert.True(t, acct.Balance.Equal(acct.AvailableMargin), "balance and available margin move in lockstep")
}

func TestUnknownRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.ApproveDeposit(context.Background(), "nope", superAdmin)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
