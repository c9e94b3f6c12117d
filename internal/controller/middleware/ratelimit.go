package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP with a token bucket.
type RateLimiter struct {
	rps        float64
	burst      int
	ttl        time.Duration
	trustProxy bool
	now        func() time.Time

	limiters sync.Map // client IP -> *cachedLimiter
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithLimit sets the sustained rate and the burst size. rps <= 0 disables limiting.
func WithLimit(rps float64, burst int) RateLimitOption {
	return func(l *RateLimiter) {
		l.rps = rps
		l.burst = burst
	}
}

// WithTTL sets how long an idle client's bucket is kept.
func WithTTL(ttl time.Duration) RateLimitOption {
	return func(l *RateLimiter) { l.ttl = ttl }
}

// WithTrustProxy keys clients by the first X-Forwarded-For address.
func WithTrustProxy(trust bool) RateLimitOption {
	return func(l *RateLimiter) { l.trustProxy = trust }
}

// NewRateLimiter builds a limiter. Without WithLimit it allows everything.
func NewRateLimiter(opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		ttl: 5 * time.Minute,
		now: time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

// Middleware returns the HTTP middleware.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// rps=0 means unlimited
			if l.rps > 0 {
				limiter := l.getOrCreateLimiter(l.clientIP(r))
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					writeError(w, http.StatusTooManyRequests, "Too Many Requests")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (l *RateLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	now := l.now()
	if limiter, ok := l.limiters.Load(key); ok {
		cached := limiter.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(l.ttl),
	})
	return limiter
}

func (l *RateLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
