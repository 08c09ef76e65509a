/**
 * @description
 * This file sets up the HTTP router for the relay-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/textrelay/relay-service/internal/auth"
)

// RelayRoutes creates and returns a new router for the relay service.
func RelayRoutes(h *RelayHandlers, tokens *auth.TokenManager) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Carrier webhook and processor confirmation are unauthenticated: the
	// carrier signs nothing we verify here, and silence is the policy for
	// bad inbound events.
	r.Post("/sms", h.InboundSMSHandler)
	r.Post("/payments/confirm", h.ConfirmPaymentHandler)

	// Phone login flow.
	r.Post("/auth/login", h.BeginLoginHandler)
	r.Post("/auth/verify", h.CompleteLoginHandler)

	// Group routes that require a session token.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(tokens))

		r.Get("/account", h.AccountHandler)
		r.Get("/account/ledger", h.LedgerHandler)
		r.Post("/purchase", h.StartPurchaseHandler)
	})

	return r
}
