package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session configuration
const (
	SessionDuration   = 24 * time.Hour
	SessionIDLength   = 32 // 256 bits
	SessionCookieName = "session_id"
)

// Session represents an active user session.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionService keeps sessions in memory.
type SessionService struct {
	mu       sync.Mutex
	sessions map[string]Session
	clock    Clock
}

// NewSessionService creates an empty session store.
func NewSessionService() *SessionService {
	return &SessionService{
		sessions: make(map[string]Session),
		clock:    realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *SessionService) SetClock(c Clock) {
	s.clock = c
}

// Create creates a new session for a user.
// Returns the session ID which should be stored in a cookie.
func (s *SessionService) Create(ctx context.Context, userID string) (string, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.sessions[sessionID] = Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(SessionDuration),
		CreatedAt: now,
	}
	s.mu.Unlock()

	return sessionID, nil
}

// Validate checks if a session is valid and returns the user ID.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	if !s.clock.Now().Before(session.ExpiresAt) {
		delete(s.sessions, sessionID)
		return "", ErrSessionExpired
	}
	return session.UserID, nil
}

// Delete removes a session (logout).
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// DeleteByUserID removes all sessions for a user.
func (s *SessionService) DeleteByUserID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// Cleanup removes all expired sessions.
func (s *SessionService) Cleanup(ctx context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
	return nil
}

// Len returns the number of stored sessions.
func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Cookie helpers

// SetCookie sets the session cookie on the response. secure should be true
// when the app is served over HTTPS.
func SetCookie(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionDuration.Seconds()),
	})
}

// ClearCookie removes the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// GetFromRequest retrieves the session ID from the request cookie.
func GetFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	return cookie.Value, nil
}

func generateSessionID() (string, error) {
	bytes := make([]byte, SessionIDLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
