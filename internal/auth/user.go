// Package auth holds the demo application's users and sessions in memory.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	stdtime "time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/kuitang/flowcheck/internal/obs"
)

// Errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
)

// Argon2id parameters (OWASP second recommendation: m=19456, t=2, p=1).
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Argon2Hasher is the production PasswordHasher.
type Argon2Hasher struct{}

func (Argon2Hasher) HashPassword(password string) (string, error) { return HashPassword(password) }
func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	return VerifyPassword(password, encodedHash)
}

// User represents a user account.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt stdtime.Time
	UpdatedAt stdtime.Time
}

// FirstName returns the first word of Name, or the email local part.
func (u *User) FirstName() string {
	if fields := strings.Fields(u.Name); len(fields) > 0 {
		return fields[0]
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

type userRecord struct {
	user         User
	passwordHash string
}

// UserService stores users keyed by normalized email.
type UserService struct {
	mu     sync.RWMutex
	users  map[string]*userRecord
	byID   map[string]string
	hasher PasswordHasher
	clock  Clock
}

// NewUserService creates an empty user store.
func NewUserService(hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = Argon2Hasher{}
	}
	return &UserService{
		users:  make(map[string]*userRecord),
		byID:   make(map[string]string),
		hasher: hasher,
		clock:  realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *UserService) SetClock(c Clock) {
	s.clock = c
}

// Upsert creates the user or resets its name and password. It reports
// whether the user was created.
func (s *UserService) Upsert(ctx context.Context, emailAddr, name, password string) (*User, bool, error) {
	key := normalizeEmail(emailAddr)
	if !strings.Contains(key, "@") {
		return nil, false, ErrInvalidEmail
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, false, err
	}
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.users[key]; ok {
		rec.user.Name = name
		rec.user.UpdatedAt = now
		rec.passwordHash = hash
		u := rec.user
		obs.From(ctx).Info("user_updated", "pkg", "auth", "user_id", u.ID)
		return &u, false, nil
	}

	rec := &userRecord{
		user: User{
			ID:        generateUserID(key),
			Email:     key,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
		passwordHash: hash,
	}
	s.users[key] = rec
	s.byID[rec.user.ID] = key
	u := rec.user
	obs.From(ctx).Info("user_created", "pkg", "auth", "user_id", u.ID)
	return &u, true, nil
}

// VerifyLogin checks credentials. Unknown emails and wrong passwords both
// return ErrInvalidCredentials.
func (s *UserService) VerifyLogin(ctx context.Context, emailAddr, password string) (*User, error) {
	s.mu.RLock()
	rec, ok := s.users[normalizeEmail(emailAddr)]
	var (
		u    User
		hash string
	)
	if ok {
		u = rec.user
		hash = rec.passwordHash
	}
	s.mu.RUnlock()

	if !ok || !s.hasher.VerifyPassword(password, hash) {
		obs.From(ctx).Info("login_rejected", "pkg", "auth")
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// FindByID returns the user with the given ID.
func (s *UserService) FindByID(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := s.users[key].user
	return &u, nil
}

// ValidatePasswordStrength checks if a password meets minimum requirements.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=<KiB>,t=<iter>,p=<threads>$<salt>$<hash>
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads, encodedSalt, encodedHash), nil
}

// VerifyPassword checks if a password matches a hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	saltBytes, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hashBytes, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	hashLen := len(hashBytes)
	if hashLen <= 0 || hashLen > argon2KeyLen*2 {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), saltBytes, time, memory, threads, uint32(hashLen))
	return subtle.ConstantTimeCompare(hashBytes, computedHash) == 1
}

// Helper functions

func normalizeEmail(emailAddr string) string {
	return strings.ToLower(strings.TrimSpace(emailAddr))
}

func generateUserID(email string) string {
	return "user-" + uuid.NewSHA1(uuid.NameSpaceDNS, []byte(email)).String()
}
