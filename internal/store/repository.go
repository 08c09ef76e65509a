/**
 * @description
 * This file defines the Repository interface, which abstracts all database
 * operations for the relay-service. The interface lets the application layer
 * stay independent of the storage implementation and makes it possible to
 * use stub repositories in tests.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: Contains the domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/textrelay/relay-service/internal/domain"
)

// Repository defines the storage operations required by the relay-service.
type Repository interface {
	// FindAccountByPhone resolves an SMS sender to an account. It never
	// creates an account; unknown senders are a gate rejection.
	FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error)

	// FindOrCreateAccountByPhone is the web login entry point. First contact
	// through the login flow creates the account with zero credit.
	FindOrCreateAccountByPhone(ctx context.Context, phone string) (*domain.Account, error)

	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// MarkAccountVerified flips the verified flag after a successful
	// verification check.
	MarkAccountVerified(ctx context.Context, accountID uuid.UUID) error

	// AdmitInboundDebit performs the admission check and the inbound debit as
	// one atomic unit. It returns ErrInsufficientCredit when the balance is
	// zero or below; otherwise it debits up to amountCents (clamped at zero)
	// and appends a debit_inbound ledger entry with the realized amount.
	AdmitInboundDebit(ctx context.Context, accountID uuid.UUID, amountCents int64, reference string) (*domain.LedgerEntry, error)

	// DebitOutbound debits up to amountCents, clamping the balance at zero,
	// and appends a debit_outbound entry with the realized amount. There is
	// no admission check; the realized amount may be zero.
	DebitOutbound(ctx context.Context, accountID uuid.UUID, amountCents int64, reference string) (*domain.LedgerEntry, error)

	// LedgerEntriesByAccount lists recent ledger entries, newest first.
	LedgerEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error)

	// CreateGrant records a pending payment grant before the user is sent to
	// the external processor. A reused external session id returns
	// ErrDuplicateSession.
	CreateGrant(ctx context.Context, grant *domain.PaymentGrant) error

	// FindGrantBySession looks up a grant by its external session id.
	FindGrantBySession(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, error)

	// ConfirmGrant transitions a grant from pending to paid and applies the
	// matching ledger credit in the same transaction. A grant that is already
	// paid is a no-op: the grant is returned with applied=false and no second
	// credit occurs.
	ConfirmGrant(ctx context.Context, externalSessionID string) (grant *domain.PaymentGrant, applied bool, err error)
}
