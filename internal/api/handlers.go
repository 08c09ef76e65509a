/**
 * @description
 * This file contains the HTTP handlers for the relay-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. The carrier webhook is the one deliberate exception to normal
 * error reporting: it answers 204 no matter what, because unknown and unpaid
 * senders must not be acknowledged.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/auth, internal/store: For service logic, tokens, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/textrelay/relay-service/internal/app"
	"github.com/textrelay/relay-service/internal/auth"
	"github.com/textrelay/relay-service/internal/store"
)

// RelayHandlers holds the application service that handlers will use.
type RelayHandlers struct {
	service *app.Service
	tokens  *auth.TokenManager
}

// NewRelayHandlers creates a new instance of RelayHandlers.
func NewRelayHandlers(service *app.Service, tokens *auth.TokenManager) *RelayHandlers {
	return &RelayHandlers{service: service, tokens: tokens}
}

func (h *RelayHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *RelayHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// normalizePhone canonicalizes a phone number to +digits form so webhook
// senders and login submissions resolve to the same account.
func normalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "+" + digits.String()
}

// InboundSMSHandler handles the carrier's inbound message webhook. It always
// answers 204: rejections are silent by policy and a handler failure must not
// make the carrier retry into a double debit.
func (h *RelayHandlers) InboundSMSHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Printf("level=warn component=api endpoint=inbound_sms msg=\"form parse failed\" err=%v", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sender := normalizePhone(r.Form.Get("From"))
	body := r.Form.Get("Body")
	if sender == "" {
		log.Printf("level=warn component=api endpoint=inbound_sms msg=\"missing sender\"")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	outcome, err := h.service.HandleInbound(r.Context(), sender, body)
	if err != nil {
		log.Printf("level=error component=api endpoint=inbound_sms msg=\"relay failed\" err=%v", err)
	} else if outcome.Status == "rejected" {
		log.Printf("level=info component=api endpoint=inbound_sms outcome=rejected reason=%s", outcome.RejectReason)
	}

	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	Phone string `json:"phone"`
}

// BeginLoginHandler starts the phone login flow: find or create the account
// and send a one-time code.
func (h *RelayHandlers) BeginLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	phone := normalizePhone(req.Phone)
	if phone == "" {
		h.writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	if _, err := h.service.BeginLogin(r.Context(), phone); err != nil {
		log.Printf("level=error component=api endpoint=login msg=\"begin login failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Could not send verification code")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// CompleteLoginHandler checks the one-time code and issues a session token.
func (h *RelayHandlers) CompleteLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	phone := normalizePhone(req.Phone)
	if phone == "" || strings.TrimSpace(req.Code) == "" {
		h.writeError(w, http.StatusBadRequest, "Phone number and code are required")
		return
	}

	account, err := h.service.CompleteLogin(r.Context(), phone, strings.TrimSpace(req.Code))
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		if errors.Is(err, app.ErrVerificationDenied) {
			h.writeError(w, http.StatusUnauthorized, "Verification failed")
			return
		}
		log.Printf("level=error component=api endpoint=verify msg=\"complete login failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Could not verify code")
		return
	}

	token, err := h.tokens.Generate(*account)
	if err != nil {
		log.Printf("level=error component=api endpoint=verify msg=\"token generation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AccountHandler returns the authenticated account's balance and status.
func (h *RelayHandlers) AccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=account msg=\"account lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not load account")
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// LedgerHandler lists the authenticated account's recent ledger entries.
func (h *RelayHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.service.GetLedgerHistory(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=ledger msg=\"ledger lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not load ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type purchaseRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type purchaseResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount_cents"`
}

// StartPurchaseHandler initiates a credit top-up via the payment processor.
func (h *RelayHandlers) StartPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	grant, checkoutURL, err := h.service.StartPurchase(r.Context(), accountID, req.AmountCents)
	if err != nil {
		if errors.Is(err, store.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, "Amount is out of the allowed range")
			return
		}
		if errors.Is(err, store.ErrDuplicateSession) {
			h.writeError(w, http.StatusConflict, "Checkout session already exists")
			return
		}
		log.Printf("level=error component=api endpoint=purchase msg=\"purchase start failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusBadGateway, "Could not start checkout")
		return
	}

	h.writeJSON(w, http.StatusCreated, purchaseResponse{
		SessionID:   grant.ExternalSessionID,
		CheckoutURL: checkoutURL,
		AmountCents: grant.AmountCents,
	})
}

type confirmPaymentRequest struct {
	SessionID string `json:"session_id"`
}

// ConfirmPaymentHandler applies a payment confirmation. The processor's
// redirect and webhook may both land here for the same session; the second
// delivery is absorbed without a double credit.
func (h *RelayHandlers) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	grant, applied, err := h.service.ConfirmPayment(r.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		if errors.Is(err, store.ErrGrantNotFound) {
			h.writeError(w, http.StatusNotFound, "Unknown session")
			return
		}
		if errors.Is(err, app.ErrPaymentNotCompleted) {
			h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
			return
		}
		log.Printf("level=error component=api endpoint=confirm_payment msg=\"confirmation failed\" session_id=%s err=%v", req.SessionID, err)
		h.writeError(w, http.StatusBadGateway, "Could not confirm payment")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       grant.Status,
		"applied":      applied,
		"amount_cents": grant.AmountCents,
	})
}
