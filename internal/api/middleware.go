/**
 * @description
 * This file contains custom middleware for the HTTP router. The session
 * middleware validates the bearer token issued after phone verification and
 * places the account ID on the request context for downstream handlers.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - internal/auth: Session token validation.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/textrelay/relay-service/internal/auth"
)

// AccountIDContextKey is a custom type for the context key to avoid collisions.
type AccountIDContextKey string

const accountIDKey AccountIDContextKey = "accountID"

// SessionAuthMiddleware creates a middleware that validates session tokens.
func SessionAuthMiddleware(tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			accountID, err := tokens.Parse(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccountID retrieves the authenticated account ID from the context.
func GetAccountID(ctx context.Context) (uuid.UUID, bool) {
	accountID, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return accountID, ok
}
