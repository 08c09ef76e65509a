/**
 * @description
 * This file defines the core domain models for the relay-service: prepaid
 * accounts, their append-only ledger entries, and payment grants that bridge
 * checkout initiation and confirmation.
 *
 * All monetary amounts are stored in integer cents to avoid floating-point
 * drift across many small debits.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the billed entity, identified by a unique phone number.
// Accounts are created during the web login flow only; an unknown SMS sender
// is rejected, never auto-created.
type Account struct {
	ID          uuid.UUID `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Verified    bool      `json:"verified"`
	CreditCents int64     `json:"credit_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger entry directions. A debit clamps at zero, so the recorded amount is
// the realized amount, which keeps credit == sum(credits) - sum(debits) exact.
const (
	DirectionDebitInbound  = "debit_inbound"
	DirectionDebitOutbound = "debit_outbound"
	DirectionCreditPayment = "credit_payment"
)

// LedgerEntry is an immutable record of one balance change. Entries are
// append-only; the amount is the realized amount after any clamp.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Direction string    `json:"direction"`
	// AmountCents is the realized amount. For a clamped debit this is less
	// than the requested message cost.
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payment grant statuses. A grant transitions pending -> paid at most once.
const (
	GrantStatusPending = "pending"
	GrantStatusPaid    = "paid"
)

// PaymentGrant represents one purchase attempt routed through the external
// payment processor. The transition to paid and the matching ledger credit
// happen as a single atomic unit.
type PaymentGrant struct {
	ID                uuid.UUID `json:"id"`
	AccountID         uuid.UUID `json:"account_id"`
	ExternalSessionID string    `json:"external_session_id"`
	AmountCents       int64     `json:"amount_cents"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}
