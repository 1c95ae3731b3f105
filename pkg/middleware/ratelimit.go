package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bricksaw/warden/pkg/observability"
)

// RateLimitConfig shapes one fixed window.
type RateLimitConfig struct {
	RequestsPerWindow int64
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig allows 600 requests per minute per caller, which
// is generous for an admin surface while still containing a runaway script.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// Counter is the shared counter backend. *postgres.RedisClient satisfies
// it, which makes the window global across instances.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RateLimiter is a Redis-backed fixed-window limiter keyed per principal
// (per client IP for unauthenticated routes). Counter errors fail open:
// losing Redis must not take the privileged surface down with it.
type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
	logger  *observability.Logger
}

// NewRateLimiter creates a limiter. A zero config gets the default window.
func NewRateLimiter(counter Counter, config RateLimitConfig, logger *observability.Logger) *RateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		counter: counter,
		config:  config,
		logger:  logger,
	}
}

// Allow counts one request against key and reports whether it fits the
// window.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	count, err := rl.counter.Incr(ctx, key)
	if err != nil {
		if rl.logger != nil {
			rl.logger.WithError(err).Warn("Rate limit counter unavailable; failing open")
		}
		return true
	}

	// First hit in the window owns setting its expiry.
	if count == 1 {
		if err := rl.counter.Expire(ctx, key, rl.config.WindowDuration); err != nil && rl.logger != nil {
			rl.logger.WithError(err).Warn("Failed to set rate limit window expiry")
		}
	}

	return count <= rl.config.RequestsPerWindow
}

// Handler wraps next with the limiter.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r.Context(), rl.requestKey(r)) {
			retryAfter := fmt.Sprintf("%.0f", rl.config.WindowDuration.Seconds())
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retryAfter + `}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) requestKey(r *http.Request) string {
	if principal, ok := PrincipalFromRequest(r); ok {
		return "ratelimit:user:" + principal.UserID
	}
	return "ratelimit:ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
