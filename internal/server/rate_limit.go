package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stetops/stet/internal/routing"
)

// rateLimiter is a fixed-window per-tenant limiter. Windows are tracked
// in memory per process; a fleet of replicas enforces limit*replicas,
// which is acceptable for an abuse backstop.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time

	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*rateWindow),
	}
}

// Take consumes one slot for the tenant and reports the remaining budget
// and the unix second at which the window resets.
func (l *rateLimiter) Take(tenantID string) (allowed bool, remaining int, resetAt int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[tenantID]
	if !ok || now.Sub(w.start) >= l.window {
		w = &rateWindow{start: now}
		l.windows[tenantID] = w
	}
	resetAt = w.start.Add(l.window).Unix()

	if w.count >= l.limit {
		return false, 0, resetAt
	}
	w.count++
	return true, l.limit - w.count, resetAt
}

func withRateLimit(limiter *rateLimiter, m *serverMetrics, classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := limiter.Take(tenant)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
		if !allowed {
			m.RateLimitedTotal.Inc()
			rc := routing.RouteClassPublicAPI
			if classifier != nil {
				rc = classifier.Classify(r.URL.Path)
			}
			routing.WriteError(w, r, rc, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
