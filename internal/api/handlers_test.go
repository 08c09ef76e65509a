package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/textrelay/relay-service/internal/app"
	"github.com/textrelay/relay-service/internal/auth"
	"github.com/textrelay/relay-service/internal/domain"
	"github.com/textrelay/relay-service/internal/store"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "already canonical", raw: "+15550001111", want: "+15550001111"},
		{name: "missing plus", raw: "15550001111", want: "+15550001111"},
		{name: "formatted with punctuation", raw: "(555) 000-1111", want: "+5550001111"},
		{name: "surrounding whitespace", raw: "  +1 555 000 1111 ", want: "+15550001111"},
		{name: "empty input", raw: "", want: ""},
		{name: "no digits at all", raw: "abc", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePhone(tt.raw); got != tt.want {
				t.Fatalf("normalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// emptyRepoStub knows no accounts, so every webhook sender is unknown.
type emptyRepoStub struct {
	store.Repository
}

func (s *emptyRepoStub) FindAccountByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return nil, store.ErrAccountNotFound
}

func newWebhookHandlers() *RelayHandlers {
	service := app.NewService(&emptyRepoStub{}, nil, nil, nil, nil, nil, 1, 2000, "")
	return NewRelayHandlers(service, nil)
}

// The carrier webhook must answer 204 no matter what: rejections are silent
// and an error status would make the carrier retry the delivery.
func TestInboundSMSHandler_AlwaysAnswersNoContent(t *testing.T) {
	handlers := newWebhookHandlers()

	tests := []struct {
		name string
		form url.Values
	}{
		{name: "unknown sender", form: url.Values{"From": {"+15559998888"}, "Body": {"hello"}}},
		{name: "missing sender", form: url.Values{"Body": {"hello"}}},
		{name: "empty body", form: url.Values{"From": {"+15559998888"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()

			handlers.InboundSMSHandler(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected 204, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Fatalf("webhook response must have no body, got %q", rec.Body.String())
			}
		})
	}
}

func TestSessionAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret", "relay-service", time.Hour)
	account := domain.Account{ID: uuid.New(), PhoneNumber: "+15550001111"}
	validToken, err := tokens.Generate(account)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	var seenAccountID uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetAccountID(r.Context())
		if !ok {
			t.Errorf("account ID missing from context")
		}
		seenAccountID = id
		w.WriteHeader(http.StatusOK)
	})
	protected := SessionAuthMiddleware(tokens)(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid bearer token", header: "Bearer " + validToken, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + validToken, wantStatus: http.StatusUnauthorized},
		{name: "tampered token", header: "Bearer " + validToken + "x", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/account", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			protected.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && seenAccountID != account.ID {
				t.Fatalf("expected account ID %s on context, got %s", account.ID, seenAccountID)
			}
		})
	}
}
