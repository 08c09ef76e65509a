package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/textrelay/relay-service/internal/domain"
	"github.com/textrelay/relay-service/internal/store"
	"github.com/textrelay/relay-service/pkg/checkoutclient"
	"github.com/textrelay/relay-service/pkg/rabbitmq"
)

// grantRepoStub mimics the repository's grant semantics: unique session ids,
// and an exactly-once pending -> paid transition tied to the credit.
type grantRepoStub struct {
	store.Repository

	mu            sync.Mutex
	account       *domain.Account
	grants        map[string]*domain.PaymentGrant
	creditedCents int64
}

func newGrantRepoStub(creditCents int64) *grantRepoStub {
	return &grantRepoStub{
		account: &domain.Account{
			ID:          uuid.New(),
			PhoneNumber: "+15550001111",
			Verified:    true,
			CreditCents: creditCents,
		},
		grants: make(map[string]*domain.PaymentGrant),
	}
}

func (s *grantRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil || s.account.ID != accountID {
		return nil, store.ErrAccountNotFound
	}
	copied := *s.account
	return &copied, nil
}

func (s *grantRepoStub) CreateGrant(ctx context.Context, grant *domain.PaymentGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[grant.ExternalSessionID]; exists {
		return store.ErrDuplicateSession
	}
	grant.ID = uuid.New()
	grant.Status = domain.GrantStatusPending
	stored := *grant
	s.grants[grant.ExternalSessionID] = &stored
	return nil
}

func (s *grantRepoStub) FindGrantBySession(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[externalSessionID]
	if !ok {
		return nil, store.ErrGrantNotFound
	}
	copied := *grant
	return &copied, nil
}

func (s *grantRepoStub) ConfirmGrant(ctx context.Context, externalSessionID string) (*domain.PaymentGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[externalSessionID]
	if !ok {
		return nil, false, store.ErrGrantNotFound
	}
	if grant.Status == domain.GrantStatusPaid {
		copied := *grant
		return &copied, false, nil
	}
	grant.Status = domain.GrantStatusPaid
	s.account.CreditCents += grant.AmountCents
	s.creditedCents += grant.AmountCents
	copied := *grant
	return &copied, true, nil
}

type fakeCheckout struct {
	mu          sync.Mutex
	sessions    map[string]*checkoutclient.Session
	createCalls int
	nextID      string
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{sessions: make(map[string]*checkoutclient.Session), nextID: "cs_test_1"}
}

func (f *fakeCheckout) CreateSession(ctx context.Context, amountCents int64, reference string) (*checkoutclient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	session := &checkoutclient.Session{
		ID:            f.nextID,
		URL:           "https://checkout.example/" + f.nextID,
		PaymentStatus: checkoutclient.PaymentStatusUnpaid,
		AmountTotal:   amountCents,
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeCheckout) RetrieveSession(ctx context.Context, sessionID string) (*checkoutclient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	copied := *session
	return &copied, nil
}

func (f *fakeCheckout) markPaid(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID].PaymentStatus = checkoutclient.PaymentStatusPaid
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *capturingPublisher) Close() {}

func (p *capturingPublisher) published(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, key := range p.events {
		if key == routingKey {
			count++
		}
	}
	return count
}

var _ rabbitmq.Publisher = (*capturingPublisher)(nil)

func newPurchaseService(repo store.Repository, checkout CheckoutClient, producer rabbitmq.Publisher) *Service {
	return NewService(repo, &fakeModel{reply: "ok"}, &fakeSender{}, nil, checkout, producer, 1, 2000, "")
}

func TestStartPurchase_RejectsAmountsOutsideTheBound(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)

	for _, amount := range []int64{0, -100, 2001} {
		if _, _, err := svc.StartPurchase(context.Background(), repo.account.ID, amount); !errors.Is(err, store.ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	// The bound is enforced before any external call.
	if checkout.createCalls != 0 {
		t.Fatalf("checkout must not be called for invalid amounts")
	}
}

func TestStartPurchase_RecordsPendingGrant(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)

	grant, checkoutURL, err := svc.StartPurchase(context.Background(), repo.account.ID, 500)
	if err != nil {
		t.Fatalf("StartPurchase returned error: %v", err)
	}
	if grant.Status != domain.GrantStatusPending {
		t.Fatalf("expected pending grant, got %q", grant.Status)
	}
	if grant.AmountCents != 500 {
		t.Fatalf("expected grant amount 500, got %d", grant.AmountCents)
	}
	if checkoutURL == "" {
		t.Fatalf("expected a checkout redirect URL")
	}
	if repo.creditedCents != 0 {
		t.Fatalf("creating a grant must not credit the account")
	}
}

func TestStartPurchase_SurfacesDuplicateSession(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)

	if _, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	// The fake processor reuses the same session id, tripping the unique
	// constraint on the second grant.
	if _, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500); !errors.Is(err, store.ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestConfirmPayment_CreditsExactlyOnce(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	producer := &capturingPublisher{}
	svc := newPurchaseService(repo, checkout, producer)

	grant, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500)
	if err != nil {
		t.Fatalf("StartPurchase returned error: %v", err)
	}
	checkout.markPaid(grant.ExternalSessionID)

	confirmed, applied, err := svc.ConfirmPayment(context.Background(), grant.ExternalSessionID)
	if err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	if !applied || confirmed.Status != domain.GrantStatusPaid {
		t.Fatalf("expected first confirmation to apply, got applied=%v status=%q", applied, confirmed.Status)
	}
	if repo.creditedCents != 500 {
		t.Fatalf("expected 500 credited, got %d", repo.creditedCents)
	}

	// Replayed confirmation: success, but no second credit and no second event.
	confirmed, applied, err = svc.ConfirmPayment(context.Background(), grant.ExternalSessionID)
	if err != nil {
		t.Fatalf("replayed confirmation must succeed: %v", err)
	}
	if applied {
		t.Fatalf("replayed confirmation must not apply again")
	}
	if confirmed.Status != domain.GrantStatusPaid {
		t.Fatalf("expected paid status on replay, got %q", confirmed.Status)
	}
	if repo.creditedCents != 500 {
		t.Fatalf("double confirmation credited twice: %d", repo.creditedCents)
	}
	if got := producer.published("payment.credit.applied"); got != 1 {
		t.Fatalf("expected exactly one credit event, got %d", got)
	}
}

func TestConfirmPayment_UnpaidSessionLeavesGrantPending(t *testing.T) {
	repo := newGrantRepoStub(0)
	checkout := newFakeCheckout()
	svc := newPurchaseService(repo, checkout, nil)

	grant, _, err := svc.StartPurchase(context.Background(), repo.account.ID, 500)
	if err != nil {
		t.Fatalf("StartPurchase returned error: %v", err)
	}

	if _, _, err := svc.ConfirmPayment(context.Background(), grant.ExternalSessionID); !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	if repo.creditedCents != 0 {
		t.Fatalf("an unpaid session must not credit")
	}

	stored, err := repo.FindGrantBySession(context.Background(), grant.ExternalSessionID)
	if err != nil {
		t.Fatalf("grant lookup failed: %v", err)
	}
	if stored.Status != domain.GrantStatusPending {
		t.Fatalf("grant must stay pending for retry, got %q", stored.Status)
	}
}

func TestConfirmPayment_UnknownSession(t *testing.T) {
	repo := newGrantRepoStub(0)
	svc := newPurchaseService(repo, newFakeCheckout(), nil)

	if _, _, err := svc.ConfirmPayment(context.Background(), "cs_missing"); !errors.Is(err, store.ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}
}
