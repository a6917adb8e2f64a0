package middleware

import (
	"net/http"
	"sync"
	"time"

	"buildstate/internal/store"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-principal request rates. Limiters are rebuilt
// after ttl so changed limits take effect without a restart.
type RateLimiter struct {
	limiters sync.Map // principal ID -> *cachedLimiter
	ttl      time.Duration
	now      func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long a limiter is cached.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.ttl = ttl
	}
}

// NewRateLimiter creates a RateLimiter with a 5 minute cache by default.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}

			// RateLimit=0 means unlimited
			if principal.RateLimit > 0 && !rl.limiter(principal).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(p *store.Principal) *rate.Limiter {
	if v, ok := rl.limiters.Load(p.ID); ok {
		cached := v.(*cachedLimiter)
		if rl.now().Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	burst := p.RateLimitBurst
	if burst <= 0 {
		burst = p.RateLimit
	}
	limiter := rate.NewLimiter(rate.Limit(p.RateLimit), burst)
	rl.limiters.Store(p.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: rl.now().Add(rl.ttl),
	})
	return limiter
}
