package ratelimit

import (
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a 429.
const DefaultRetryAfterSeconds = 5

// RateLimitMiddleware throttles requests per key. getKey extracts the key
// (for sign-in, the submitted email); requests with an empty key pass through.
// Over-limit requests get 429 Too Many Requests with Retry-After and
// X-RateLimit-Remaining headers.
func RateLimitMiddleware(limiter *RateLimiter, getKey func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := getKey(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimiter := limiter.GetLimiter(key)
			if !rateLimiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("Too Many Requests"))
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}
