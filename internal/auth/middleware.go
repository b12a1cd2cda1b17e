package auth

import (
	"context"
	"net/http"

	"github.com/kuitang/flowcheck/internal/obs"
)

type contextKey string

const userKey contextKey = "user"

// Middleware guards handlers with the session cookie.
type Middleware struct {
	sessions *SessionService
	users    *UserService
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(sessions *SessionService, users *UserService) *Middleware {
	return &Middleware{sessions: sessions, users: users}
}

// RequireAuth passes requests with a valid session to next, with the user in
// the context. Everything else goes to unauthenticated.
func (m *Middleware) RequireAuth(next, unauthenticated http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.userFromRequest(r)
		if err != nil {
			obs.From(r.Context()).Debug("auth_required", "pkg", "auth", "path", r.URL.Path, "reason", err.Error())
			unauthenticated.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// OptionalAuth adds the user to the context when a valid session is present.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.userFromRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (m *Middleware) userFromRequest(r *http.Request) (*User, error) {
	sessionID, err := GetFromRequest(r)
	if err != nil {
		return nil, err
	}
	userID, err := m.sessions.Validate(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	return m.users.FindByID(r.Context(), userID)
}

// GetUser retrieves the authenticated user from the request context.
// Returns nil if no user is authenticated.
func GetUser(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return GetUser(ctx) != nil
}
