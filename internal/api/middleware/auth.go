package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/iot-resource-manager/backend/internal/auth"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal returns the authenticated user stored on the request context,
// or nil when the request went through an unauthenticated route.
func Principal(r *http.Request) *models.User {
	user, _ := r.Context().Value(principalKey).(*models.User)
	return user
}

// Auth verifies the bearer token and loads the user row onto the request
// context. The WebSocket upgrade cannot set headers, so a token query
// parameter is accepted as a fallback.
func Auth(secret string, users *storage.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				tokenStr = r.URL.Query().Get("token")
			}
			if tokenStr == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing credentials")
				return
			}

			claims, err := auth.Verify(secret, tokenStr)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), claims.Subject)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
				return
			}
			if user == nil || !user.IsActive {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "Account is not active")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin principals. Must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := Principal(r)
		if user == nil || !user.IsAdmin() {
			WriteError(w, http.StatusForbidden, "permission_denied", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
