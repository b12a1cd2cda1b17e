package auth

import (
	"strings"
	"sync"
	"time"
)

// FakeClock is a settable Clock. Safe to share between a test and the
// server it drives.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const plainHashPrefix = "plain:"

// FakeInsecureHasher stores passwords in the clear behind a marker prefix so
// tests and the demo seed skip argon2's cost. Never use it for real accounts.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return plainHashPrefix + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	stored, ok := strings.CutPrefix(encodedHash, plainHashPrefix)
	return ok && stored == password
}
