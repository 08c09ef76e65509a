package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/textrelay/relay-service/internal/domain"
)

func checkoutEventBody(t *testing.T, sessionID string) []byte {
	t.Helper()
	body, err := json.Marshal(CheckoutCompletedEvent{SessionID: sessionID, EventType: "checkout.session.completed"})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestPaymentEventConsumer_AppliesPaidSession(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)
	consumer := NewPaymentEventConsumer(svc)

	grant, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500)
	if err != nil {
		t.Fatalf("StartPurchase returned error: %v", err)
	}
	checkout.markPaid(grant.ExternalSessionID)

	if !consumer.HandleMessage(checkoutEventBody(t, grant.ExternalSessionID)) {
		t.Fatalf("paid session must be acknowledged")
	}
	if repo.creditedCents != 500 {
		t.Fatalf("expected 500 credited, got %d", repo.creditedCents)
	}

	// Redelivery is acknowledged without a second credit.
	if !consumer.HandleMessage(checkoutEventBody(t, grant.ExternalSessionID)) {
		t.Fatalf("redelivered event must be acknowledged")
	}
	if repo.creditedCents != 500 {
		t.Fatalf("redelivery credited twice: %d", repo.creditedCents)
	}
}

func TestPaymentEventConsumer_UnpaidSessionIsAcknowledgedAndStaysPending(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)
	consumer := NewPaymentEventConsumer(svc)

	grant, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500)
	if err != nil {
		t.Fatalf("StartPurchase returned error: %v", err)
	}

	if !consumer.HandleMessage(checkoutEventBody(t, grant.ExternalSessionID)) {
		t.Fatalf("unpaid session must be acknowledged, not requeued")
	}
	if repo.creditedCents != 0 {
		t.Fatalf("unpaid session must not credit")
	}

	stored, err := repo.FindGrantBySession(context.Background(), grant.ExternalSessionID)
	if err != nil {
		t.Fatalf("grant lookup failed: %v", err)
	}
	if stored.Status != domain.GrantStatusPending {
		t.Fatalf("grant must stay pending, got %q", stored.Status)
	}
}

func TestPaymentEventConsumer_DropsUnusableDeliveries(t *testing.T) {
	repo := newGrantRepoStub(0)
	svc := newPurchaseService(repo, newFakeCheckout(), nil)
	consumer := NewPaymentEventConsumer(svc)

	tests := []struct {
		name string
		body []byte
	}{
		{name: "malformed payload", body: []byte("{not json")},
		{name: "missing session id", body: checkoutEventBody(t, "")},
		{name: "unknown session", body: checkoutEventBody(t, "cs_missing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !consumer.HandleMessage(tt.body) {
				t.Fatalf("unusable deliveries must be acknowledged to avoid a poison loop")
			}
			if repo.creditedCents != 0 {
				t.Fatalf("nothing may be credited")
			}
		})
	}
}
