/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It owns balance truth: the admission check, both message debits,
 * and the payment credit are all applied under a row lock on the account so
 * two concurrent events touching the same account serialize at the database.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/textrelay/relay-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrGrantNotFound      = errors.New("payment grant not found")
	ErrDuplicateSession   = errors.New("duplicate external session id")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// pgUniqueViolation is the Postgres error code for a unique constraint breach.
const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY,
    phone_number TEXT NOT NULL UNIQUE,
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    credit_cents BIGINT NOT NULL DEFAULT 0 CHECK (credit_cents >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id),
    direction TEXT NOT NULL CHECK (direction IN ('debit_inbound', 'debit_outbound', 'credit_payment')),
    amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
    reference TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS payment_grants (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id),
    external_session_id TEXT NOT NULL UNIQUE,
    amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresRepository is a concrete implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the service tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// clampDebit returns the realized debit given the current balance. The
// balance can never go below zero, so the realized amount may be smaller
// than the requested one.
func clampDebit(balance, requested int64) int64 {
	if requested <= 0 {
		return 0
	}
	if requested > balance {
		return balance
	}
	return requested
}

// FindAccountByPhone retrieves an account by phone number.
func (r *PostgresRepository) FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return r.scanAccount(ctx, `SELECT id, phone_number, verified, credit_cents, created_at FROM accounts WHERE phone_number = $1`, phone)
}

// FindAccountByID retrieves an account by its identifier.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return r.scanAccount(ctx, `SELECT id, phone_number, verified, credit_cents, created_at FROM accounts WHERE id = $1`, accountID)
}

func (r *PostgresRepository) scanAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	var account domain.Account
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&account.ID, &account.PhoneNumber, &account.Verified, &account.CreditCents, &account.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindOrCreateAccountByPhone returns the account for a phone number, creating
// it with zero credit on first login contact. The upsert keeps two concurrent
// login attempts for the same number from racing.
func (r *PostgresRepository) FindOrCreateAccountByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	var account domain.Account
	query := `
		INSERT INTO accounts (id, phone_number)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		RETURNING id, phone_number, verified, credit_cents, created_at
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), phone).Scan(
		&account.ID, &account.PhoneNumber, &account.Verified, &account.CreditCents, &account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// MarkAccountVerified flips the verified flag after a successful check.
func (r *PostgresRepository) MarkAccountVerified(ctx context.Context, accountID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET verified = TRUE WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// AdmitInboundDebit admits the message and debits the inbound cost as one
// atomic unit. The row lock closes the time-of-check/time-of-use window
// between the balance check and the debit.
func (r *PostgresRepository) AdmitInboundDebit(ctx context.Context, accountID uuid.UUID, amountCents int64, reference string) (*domain.LedgerEntry, error) {
	return r.debitClamped(ctx, accountID, amountCents, domain.DirectionDebitInbound, reference, true)
}

// DebitOutbound debits the outbound cost, clamping at zero. No admission
// check: once a message was admitted the reply debit always goes through,
// even when it realizes less than the requested cost.
func (r *PostgresRepository) DebitOutbound(ctx context.Context, accountID uuid.UUID, amountCents int64, reference string) (*domain.LedgerEntry, error) {
	return r.debitClamped(ctx, accountID, amountCents, domain.DirectionDebitOutbound, reference, false)
}

func (r *PostgresRepository) debitClamped(ctx context.Context, accountID uuid.UUID, amountCents int64, direction, reference string, requirePositive bool) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// FOR UPDATE locks the account row so concurrent debits serialize.
	err = tx.QueryRow(ctx, `SELECT credit_cents FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if requirePositive && balance <= 0 {
		return nil, ErrInsufficientCredit
	}

	realized := clampDebit(balance, amountCents)
	if realized > 0 {
		if _, err = tx.Exec(ctx, `UPDATE accounts SET credit_cents = credit_cents - $1 WHERE id = $2`, realized, accountID); err != nil {
			return nil, err
		}
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Direction:   direction,
		AmountCents: realized,
		Reference:   reference,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, account_id, direction, amount_cents, reference) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		entry.ID, entry.AccountID, entry.Direction, entry.AmountCents, entry.Reference,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// LedgerEntriesByAccount lists recent ledger entries for an account.
func (r *PostgresRepository) LedgerEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, direction, amount_cents, reference, created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Direction, &entry.AmountCents, &entry.Reference, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CreateGrant records a pending grant. A reused external session id trips the
// unique constraint and is surfaced as ErrDuplicateSession.
func (r *PostgresRepository) CreateGrant(ctx context.Context, grant *domain.PaymentGrant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	grant.Status = domain.GrantStatusPending

	err := r.db.QueryRow(ctx,
		`INSERT INTO payment_grants (id, account_id, external_session_id, amount_cents, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		grant.ID, grant.AccountID, grant.ExternalSessionID, grant.AmountCents, grant.Status,
	).Scan(&grant.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateSession
		}
		return err
	}
	return nil
}

// FindGrantBySession looks up a grant by its external session id.
func (r *PostgresRepository) FindGrantBySession(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, error) {
	var grant domain.PaymentGrant
	err := r.db.QueryRow(ctx,
		`SELECT id, account_id, external_session_id, amount_cents, status, created_at
		 FROM payment_grants WHERE external_session_id = $1`,
		externalSessionID,
	).Scan(&grant.ID, &grant.AccountID, &grant.ExternalSessionID, &grant.AmountCents, &grant.Status, &grant.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// ConfirmGrant applies a confirmed payment exactly once. The status check,
// the pending -> paid transition, the balance credit, and the ledger entry
// are one transaction; a grant that is already paid returns applied=false so
// replayed confirmations from the processor are absorbed without a second
// credit.
func (r *PostgresRepository) ConfirmGrant(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var grant domain.PaymentGrant
	// FOR UPDATE serializes two near-simultaneous confirmation deliveries.
	err = tx.QueryRow(ctx,
		`SELECT id, account_id, external_session_id, amount_cents, status, created_at
		 FROM payment_grants WHERE external_session_id = $1 FOR UPDATE`,
		externalSessionID,
	).Scan(&grant.ID, &grant.AccountID, &grant.ExternalSessionID, &grant.AmountCents, &grant.Status, &grant.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, ErrGrantNotFound
		}
		return nil, false, err
	}

	if grant.Status == domain.GrantStatusPaid {
		return &grant, false, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE payment_grants SET status = $1 WHERE id = $2`, domain.GrantStatusPaid, grant.ID); err != nil {
		return nil, false, err
	}
	if _, err = tx.Exec(ctx, `UPDATE accounts SET credit_cents = credit_cents + $1 WHERE id = $2`, grant.AmountCents, grant.AccountID); err != nil {
		return nil, false, err
	}
	if _, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, direction, amount_cents, reference) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), grant.AccountID, domain.DirectionCreditPayment, grant.AmountCents, grant.ExternalSessionID,
	); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	grant.Status = domain.GrantStatusPaid
	return &grant, true, nil
}
