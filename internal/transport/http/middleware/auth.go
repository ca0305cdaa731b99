package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"socialite/internal/httputil"
	"socialite/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user's ID
	UserIDKey contextKey = "user_id"
)

// TokenVerifier resolves a bearer token to a user identifier.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// UserLoader resolves a user identifier to the full record, used by the
// role check to read the acting user's role.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// Auth creates a middleware that validates bearer tokens.
// Checks the Authorization header first, then falls back to a cookie.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				httputil.WriteUnauthorized(w, "You are not authorized, please login")
				return
			}

			userID, err := verifier.VerifyToken(tokenString)
			if err != nil {
				if errors.Is(err, model.ErrTokenExpired) {
					httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Access token has expired")
					return
				}
				httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole creates a middleware that loads the acting user and rejects
// the request unless their role matches. Must run after Auth.
func RequireRole(loader UserLoader, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "You are not authorized, please login")
				return
			}

			user, err := loader.GetUser(r.Context(), userID)
			if err != nil {
				// A token for a since-deleted user is no longer valid
				httputil.WriteUnauthorized(w, "You are not authorized, please login")
				return
			}

			if user.Role != role {
				httputil.WriteForbidden(w, "You are not allowed to perform this action")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	// Authorization header first (API clients)
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// Cookie fallback (web browsers)
	cookie, err := r.Cookie("access_token")
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

// GetUserIDFromContext extracts the user ID from the request context.
// Returns the user ID and true if found, or 0 and false if not found.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
