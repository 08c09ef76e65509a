/**
 * @description
 * This file contains the consumer for payment processor events delivered over
 * the message broker. The processor's webhook gateway republishes checkout
 * completions as broker messages; applying them here gives the service a
 * second confirmation path that survives a missed redirect. Confirmation is
 * idempotent in the store, so redelivered events are absorbed without a
 * double credit.
 *
 * @dependencies
 * - internal/store: Sentinel errors for acknowledge-vs-requeue decisions.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/textrelay/relay-service/internal/store"
)

// CheckoutCompletedEvent is the broker payload for a finished checkout session.
type CheckoutCompletedEvent struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
}

// PaymentEventConsumer applies broker-delivered payment confirmations.
type PaymentEventConsumer struct {
	service *Service
}

func NewPaymentEventConsumer(service *Service) *PaymentEventConsumer {
	return &PaymentEventConsumer{service: service}
}

// HandleMessage processes one broker delivery. It returns true to acknowledge
// the message and false to requeue it for another attempt.
func (c *PaymentEventConsumer) HandleMessage(body []byte) bool {
	var event CheckoutCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=payment_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	sessionID := strings.TrimSpace(event.SessionID)
	if sessionID == "" {
		log.Printf("level=warn component=payment_consumer msg=\"missing session id in event\" event_type=%s", event.EventType)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, applied, err := c.service.ConfirmPayment(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrGrantNotFound) {
			// Not a session this service created; drop it.
			log.Printf("level=info component=payment_consumer msg=\"no grant for session; acknowledging\" session_id=%s", sessionID)
			return true
		}
		if errors.Is(err, ErrPaymentNotCompleted) {
			// The processor still reports unpaid. The grant stays pending and
			// a later delivery or redirect can complete it.
			log.Printf("level=info component=payment_consumer msg=\"session not yet paid\" session_id=%s", sessionID)
			return true
		}
		log.Printf("level=error component=payment_consumer msg=\"confirmation failed; re-queuing\" session_id=%s err=%v", sessionID, err)
		return false
	}

	if applied {
		log.Printf("level=info component=payment_consumer msg=\"credit applied\" session_id=%s", sessionID)
	}
	return true
}
