package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const UserIDContextKey contextKey = "user_id"

// SessionResolver maps a request to the identity of its session.
type SessionResolver interface {
	Resolve(r *http.Request) (string, bool)
}

// AuthMiddleware guards endpoints that need a logged-in user.
type AuthMiddleware struct {
	sessions SessionResolver
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(sessions SessionResolver) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireSession rejects requests without a valid session cookie and puts
// the session's user ID in the request context.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.sessions.Resolve(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserIDFromContext retrieves the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDContextKey).(string)
	return userID
}
