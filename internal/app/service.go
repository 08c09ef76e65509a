/**
 * @description
 * This file contains the core business logic for the relay-service. The
 * `Service` struct orchestrates the message relay gate (admission, the two
 * message debits, the model round trip, reply delivery), the payment
 * reconciler (pending grant creation and exactly-once confirmation), and the
 * phone login flow.
 *
 * Key properties:
 * - Admission and the inbound debit are one atomic repository operation, so
 *   concurrent messages from the same sender cannot overdraw the balance.
 * - Confirming the same payment session twice credits the account once.
 * - A model failure degrades to a fixed fallback reply; the inbound debit is
 *   not refunded and the outbound debit still applies.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/checkoutclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/textrelay/relay-service/internal/domain"
	"github.com/textrelay/relay-service/internal/store"
	"github.com/textrelay/relay-service/pkg/checkoutclient"
	"github.com/textrelay/relay-service/pkg/rabbitmq"
)

const relayEventExchange = "relay.events"

var (
	// ErrVerificationDenied is returned when the carrier rejects the one-time code.
	ErrVerificationDenied = errors.New("verification denied")
	// ErrPaymentNotCompleted is returned when the processor reports the
	// session as not paid yet. The grant stays pending so the confirmation
	// can be retried.
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

// ModelClient turns a prompt into completion text.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// MessageSender delivers an outbound message to a destination number.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// VerificationClient drives the carrier's one-time-code flow.
type VerificationClient interface {
	StartVerification(ctx context.Context, phone string) error
	CheckVerification(ctx context.Context, phone, code string) (bool, error)
}

// CheckoutClient creates and retrieves processor checkout sessions.
type CheckoutClient interface {
	CreateSession(ctx context.Context, amountCents int64, reference string) (*checkoutclient.Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*checkoutclient.Session, error)
}

// InboundRateLimiter limits inbound messages per sender. A nil limiter or a
// limiter error disables limiting for that event (degrade open).
type InboundRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the relay.
type Service struct {
	repo          store.Repository
	model         ModelClient
	sms           MessageSender
	verifier      VerificationClient
	checkout      CheckoutClient
	eventProducer rabbitmq.Publisher

	messageCostCents int64
	maxTopUpCents    int64
	fallbackReply    string

	rateLimiter           InboundRateLimiter
	inboundLimitPerMinute int
}

// NewService creates a new relay service instance.
func NewService(
	repo store.Repository,
	model ModelClient,
	sms MessageSender,
	verifier VerificationClient,
	checkout CheckoutClient,
	producer rabbitmq.Publisher,
	messageCostCents int64,
	maxTopUpCents int64,
	fallbackReply string,
) *Service {
	if fallbackReply == "" {
		fallbackReply = "Sorry, the assistant is unavailable right now. Please try again later."
	}
	return &Service{
		repo:             repo,
		model:            model,
		sms:              sms,
		verifier:         verifier,
		checkout:         checkout,
		eventProducer:    producer,
		messageCostCents: messageCostCents,
		maxTopUpCents:    maxTopUpCents,
		fallbackReply:    fallbackReply,
	}
}

// SetInboundRateLimiter enables per-sender inbound rate limiting.
func (s *Service) SetInboundRateLimiter(limiter InboundRateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.inboundLimitPerMinute = limitPerMinute
}

// HandleInbound is the per-message decision point for one carrier webhook
// event. The returned outcome tells the caller whether a reply was produced;
// rejections are silent on the SMS side by policy.
func (s *Service) HandleInbound(ctx context.Context, sender, body string) (*domain.RelayOutcome, error) {
	account, err := s.repo.FindAccountByPhone(ctx, sender)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			// Unknown senders are dropped without creating an account. The
			// web login flow is the only place accounts come from.
			log.Printf("level=info component=relay_gate outcome=reject reason=unknown_sender sender=%s", sender)
			return domain.Rejected(domain.RejectReasonUnknownSender), nil
		}
		return nil, fmt.Errorf("failed to resolve sender: %w", err)
	}

	if s.rateLimiter != nil && s.inboundLimitPerMinute > 0 {
		count, _, rlErr := s.rateLimiter.ConsumeRateLimit(ctx, "sms_inbound", sender, s.inboundLimitPerMinute, time.Minute)
		if rlErr != nil {
			log.Printf("level=warn component=relay_gate msg=\"rate limiter unavailable; allowing message\" sender=%s err=%v", sender, rlErr)
		} else if count > s.inboundLimitPerMinute {
			log.Printf("level=info component=relay_gate outcome=reject reason=rate_limited account_id=%s count=%d", account.ID, count)
			return domain.Rejected(domain.RejectReasonRateLimited), nil
		}
	}

	inboundEntry, err := s.repo.AdmitInboundDebit(ctx, account.ID, s.messageCostCents, body)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredit) {
			log.Printf("level=info component=relay_gate outcome=reject reason=insufficient_credit account_id=%s", account.ID)
			return domain.Rejected(domain.RejectReasonInsufficientCredit), nil
		}
		return nil, fmt.Errorf("failed to debit inbound message: %w", err)
	}

	reply, degraded := s.completeWithFallback(ctx, body)

	// The outbound debit is unconditional once the message was admitted. It
	// clamps at zero, so the realized amount can undercut the message cost
	// when the inbound debit already drained the balance.
	outboundEntry, err := s.repo.DebitOutbound(ctx, account.ID, s.messageCostCents, reply)
	if err != nil {
		log.Printf("level=error component=relay_gate msg=\"outbound debit failed\" account_id=%s err=%v", account.ID, err)
	}

	if err := s.sms.SendMessage(ctx, sender, reply); err != nil {
		// Delivery failure is scoped to this event; the debits stand.
		log.Printf("level=error component=relay_gate msg=\"reply delivery failed\" account_id=%s err=%v", account.ID, err)
	}

	if s.eventProducer != nil {
		event := rabbitmq.MessageRelayedEvent{
			AccountID:     account.ID,
			InboundCents:  inboundEntry.AmountCents,
			ModelDegraded: degraded,
			Timestamp:     time.Now().UTC(),
		}
		if outboundEntry != nil {
			event.OutboundCents = outboundEntry.AmountCents
		}
		if err := s.eventProducer.Publish(ctx, relayEventExchange, "relay.message.completed", event); err != nil {
			log.Printf("level=warn component=relay_gate msg=\"event publish failed\" account_id=%s err=%v", account.ID, err)
		}
	}

	return domain.Relayed(reply, degraded), nil
}

// completeWithFallback calls the model and substitutes the fixed fallback
// text when the call fails. The model client carries its own timeout.
func (s *Service) completeWithFallback(ctx context.Context, prompt string) (string, bool) {
	reply, err := s.model.Complete(ctx, prompt)
	if err != nil {
		log.Printf("level=warn component=relay_gate msg=\"model call failed; using fallback reply\" err=%v", err)
		return s.fallbackReply, true
	}
	return reply, false
}

// BeginLogin finds or creates the account for a phone number and sends a
// one-time code. This is the only path that creates accounts.
func (s *Service) BeginLogin(ctx context.Context, phone string) (*domain.Account, error) {
	account, err := s.repo.FindOrCreateAccountByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create account: %w", err)
	}
	if err := s.verifier.StartVerification(ctx, phone); err != nil {
		return nil, fmt.Errorf("failed to start verification: %w", err)
	}
	return account, nil
}

// CompleteLogin checks the one-time code and marks the account verified.
func (s *Service) CompleteLogin(ctx context.Context, phone, code string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	approved, err := s.verifier.CheckVerification(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check verification: %w", err)
	}
	if !approved {
		return nil, ErrVerificationDenied
	}

	if err := s.repo.MarkAccountVerified(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	account.Verified = true
	return account, nil
}

// StartPurchase validates the top-up amount, creates a checkout session at
// the processor, and records the pending grant. The amount bound is enforced
// before any external call.
func (s *Service) StartPurchase(ctx context.Context, accountID uuid.UUID, amountCents int64) (*domain.PaymentGrant, string, error) {
	if amountCents <= 0 || amountCents > s.maxTopUpCents {
		return nil, "", store.ErrInvalidAmount
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find account: %w", err)
	}

	session, err := s.checkout.CreateSession(ctx, amountCents, account.PhoneNumber)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	grant := &domain.PaymentGrant{
		AccountID:         account.ID,
		ExternalSessionID: session.ID,
		AmountCents:       amountCents,
	}
	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		return nil, "", err
	}

	log.Printf("level=info component=reconciler msg=\"grant created\" account_id=%s session_id=%s amount_cents=%d", account.ID, session.ID, amountCents)
	return grant, session.URL, nil
}

// ConfirmPayment applies a payment confirmation exactly once. Replayed
// confirmations for an already-paid grant return the grant with
// applied=false. A session the processor still reports unpaid leaves the
// grant pending and returns ErrPaymentNotCompleted so the caller can retry.
func (s *Service) ConfirmPayment(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, bool, error) {
	grant, err := s.repo.FindGrantBySession(ctx, externalSessionID)
	if err != nil {
		return nil, false, err
	}
	if grant.Status == domain.GrantStatusPaid {
		// Already applied; absorb the replay without touching the processor.
		return grant, false, nil
	}

	session, err := s.checkout.RetrieveSession(ctx, externalSessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if session.PaymentStatus != checkoutclient.PaymentStatusPaid {
		return grant, false, ErrPaymentNotCompleted
	}

	grant, applied, err := s.repo.ConfirmGrant(ctx, externalSessionID)
	if err != nil {
		return nil, false, err
	}

	if applied {
		log.Printf("level=info component=reconciler msg=\"credit applied\" account_id=%s session_id=%s amount_cents=%d", grant.AccountID, externalSessionID, grant.AmountCents)
		if s.eventProducer != nil {
			event := rabbitmq.CreditAppliedEvent{
				AccountID:         grant.AccountID,
				ExternalSessionID: externalSessionID,
				AmountCents:       grant.AmountCents,
				Timestamp:         time.Now().UTC(),
			}
			if err := s.eventProducer.Publish(ctx, relayEventExchange, "payment.credit.applied", event); err != nil {
				log.Printf("level=warn component=reconciler msg=\"event publish failed\" session_id=%s err=%v", externalSessionID, err)
			}
		}
	}

	return grant, applied, nil
}

// GetAccount returns the account for a dashboard view.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// GetLedgerHistory lists recent ledger entries for an account.
func (s *Service) GetLedgerHistory(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	return s.repo.LedgerEntriesByAccount(ctx, accountID, limit)
}
