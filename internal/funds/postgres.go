package funds

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bx-funddesk/internal/types"
)

// PostgresStore implements Store on postgres. Atomic units run as
// serializable transactions with FOR UPDATE row locks on the account, so
// two units draining the same account serialize and the second one sees
// the first one's balance.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return &StorageTransactionError{Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StorageTransactionError{Err: err}
	}
	return nil
}

func (s *PostgresStore) AccountByUser(ctx context.Context, userID string) (*LedgerAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, balance, available_margin, used_margin, created_at, updated_at
		FROM ledger_accounts
		WHERE user_id = $1
	`, userID), "account for user", userID)
}

func (s *PostgresStore) RequestByID(ctx context.Context, id string) (*FundRequest, error) {
	return scanRequest(s.pool.QueryRow(ctx, selectRequest+` WHERE id = $1`, id), id)
}

func (s *PostgresStore) ListRequests(ctx context.Context, status types.RequestStatus, limit int) ([]FundRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectRequest+`
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	defer rows.Close()

	out := make([]FundRequest, 0, limit)
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	return out, nil
}

func (s *PostgresStore) EntriesByAccount(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, account_id::text, entry_type, amount, description, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.AccountID, &typ, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, &StorageTransactionError{Err: err}
		}
		e.Type = types.EntryType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	return out, nil
}

func (s *PostgresStore) CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, proofRef, remarks string) (*FundRequest, error) {
	acct, err := s.AccountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO fund_requests (kind, account_id, amount, charges, status, proof_artifact_ref, remarks)
		VALUES ($1, $2, $3, 0, $4, NULLIF($5, ''), $6)
		RETURNING id::text
	`, string(types.RequestKindDeposit), acct.ID, amount, string(types.RequestStatusPending), proofRef, remarks).Scan(&id)
	if err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	return s.RequestByID(ctx, id)
}

func (s *PostgresStore) CreatePendingWithdrawal(ctx context.Context, userID string, amount, charges decimal.Decimal, remarks string) (*FundRequest, error) {
	acct, err := s.AccountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO fund_requests (kind, account_id, amount, charges, status, remarks)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, string(types.RequestKindWithdrawal), acct.ID, amount, charges, string(types.RequestStatusPending), remarks).Scan(&id)
	if err != nil {
		return nil, &StorageTransactionError{Err: err}
	}
	return s.RequestByID(ctx, id)
}

func (s *PostgresStore) ClearProofRef(ctx context.Context, requestID string) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE fund_requests SET proof_artifact_ref = NULL WHERE id = $1
	`, requestID)
	if err != nil {
		return &StorageTransactionError{Err: err}
	}
	if cmd.RowsAffected() == 0 {
		return &NotFoundError{Entity: "fund request", ID: requestID}
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const selectRequest = `
	SELECT id::text, kind, account_id::text, amount, charges, status,
	       COALESCE(proof_artifact_ref, ''), COALESCE(external_reference, ''),
	       COALESCE(remarks, ''), created_at, processed_at
	FROM fund_requests`

func (t *pgTx) RequestForUpdate(ctx context.Context, id string) (*FundRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, selectRequest+` WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *pgTx) AccountForUpdate(ctx context.Context, accountID string) (*LedgerAccount, error) {
	return scanAccount(t.tx.QueryRow(ctx, `
		SELECT id::text, user_id::text, balance, available_margin, used_margin, created_at, updated_at
		FROM ledger_accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID), "account", accountID)
}

func (t *pgTx) AccountByUserForUpdate(ctx context.Context, userID string) (*LedgerAccount, error) {
	return scanAccount(t.tx.QueryRow(ctx, `
		SELECT id::text, user_id::text, balance, available_margin, used_margin, created_at, updated_at
		FROM ledger_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID), "account for user", userID)
}

func (t *pgTx) ManagingAdminID(ctx context.Context, userID string) (*string, error) {
	var managerID *string
	err := t.tx.QueryRow(ctx, `
		SELECT managing_admin_id::text FROM users WHERE id = $1
	`, userID).Scan(&managerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "user", ID: userID}
		}
		return nil, &StorageTransactionError{Err: err}
	}
	return managerID, nil
}

func (t *pgTx) ApplyCashDelta(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var balance, available decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		UPDATE ledger_accounts
		SET balance = balance + $2,
			available_margin = available_margin + $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING balance, available_margin
	`, accountID, delta).Scan(&balance, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, decimal.Zero, &NotFoundError{Entity: "account", ID: accountID}
		}
		return decimal.Zero, decimal.Zero, &StorageTransactionError{Err: err}
	}
	return balance, available, nil
}

func (t *pgTx) AppendEntry(ctx context.Context, accountID string, typ types.EntryType, amount decimal.Decimal, description string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (account_id, entry_type, amount, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text
	`, accountID, string(typ), amount, description).Scan(&id)
	if err != nil {
		return "", &StorageTransactionError{Err: err}
	}
	return id, nil
}

func (t *pgTx) CompleteRequest(ctx context.Context, requestID, externalReference, remarks string, processedAt time.Time) error {
	return t.transition(ctx, requestID, types.RequestStatusCompleted, externalReference, remarks, processedAt)
}

func (t *pgTx) FailRequest(ctx context.Context, requestID, remarks string, processedAt time.Time) error {
	return t.transition(ctx, requestID, types.RequestStatusFailed, "", remarks, processedAt)
}

// transition refuses to leave a terminal state at the SQL level as well;
// the service has already checked under the same row lock, so zero rows
// here means the request vanished or raced to terminal.
func (t *pgTx) transition(ctx context.Context, requestID string, status types.RequestStatus, externalReference, remarks string, processedAt time.Time) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE fund_requests
		SET status = $2,
			external_reference = COALESCE(NULLIF($3, ''), external_reference),
			remarks = $4,
			processed_at = $5
		WHERE id = $1
		  AND status IN ($6, $7)
	`, requestID, string(status), externalReference, remarks, processedAt,
		string(types.RequestStatusPending), string(types.RequestStatusProcessing))
	if err != nil {
		return &StorageTransactionError{Err: err}
	}
	if cmd.RowsAffected() == 0 {
		var current string
		if err := t.tx.QueryRow(ctx, `SELECT status FROM fund_requests WHERE id = $1`, requestID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &NotFoundError{Entity: "fund request", ID: requestID}
			}
			return &StorageTransactionError{Err: err}
		}
		return &InvalidStateError{RequestID: requestID, Status: types.RequestStatus(current)}
	}
	return nil
}

func (t *pgTx) InsertCompletedRequest(ctx context.Context, kind types.RequestKind, accountID string, amount decimal.Decimal, remarks string, processedAt time.Time) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO fund_requests (kind, account_id, amount, charges, status, remarks, processed_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6)
		RETURNING id::text
	`, string(kind), accountID, amount, string(types.RequestStatusCompleted), remarks, processedAt).Scan(&id)
	if err != nil {
		return "", &StorageTransactionError{Err: err}
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, entity, id string) (*LedgerAccount, error) {
	var a LedgerAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.AvailableMargin, &a.UsedMargin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: entity, ID: id}
		}
		return nil, &StorageTransactionError{Err: err}
	}
	return &a, nil
}

func scanRequest(row rowScanner, id string) (*FundRequest, error) {
	req, err := scanRequestRow(row)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return nil, err
	}
	return req, nil
}

func scanRequestRow(row rowScanner) (*FundRequest, error) {
	var req FundRequest
	var kind, status string
	err := row.Scan(&req.ID, &kind, &req.AccountID, &req.Amount, &req.Charges, &status,
		&req.ProofArtifactRef, &req.ExternalReference, &req.Remarks, &req.CreatedAt, &req.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "fund request"}
		}
		return nil, &StorageTransactionError{Err: err}
	}
	req.Kind = types.RequestKind(kind)
	req.Status = types.RequestStatus(status)
	return &req, nil
}

// IsSerializationFailure reports whether err is a serialization conflict a
// caller may retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
