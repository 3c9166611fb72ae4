package ucp

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTimeout = 3 * time.Minute

type rateLimitConfig struct {
	rps   float64
	burst int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	clock     func() time.Time
	lastSweep time.Time
}

func newClientLimiter(cfg rateLimitConfig, clock func() time.Time) *clientLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &clientLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(cfg.rps),
		burst:     cfg.burst,
		clock:     clock,
		lastSweep: clock(),
	}
}

// allow consumes one token for key. When the bucket is empty it returns the
// delay until the next token.
func (l *clientLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTimeout {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := v.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

func newRateLimitMiddleware(cfg *rateLimitConfig, clock func() time.Time) Middleware {
	if cfg == nil {
		return nil
	}
	limiter := newClientLimiter(*cfg, clock)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ok, delay := limiter.allow(clientIP(r.RemoteAddr))
			if !ok {
				writeJSONError(w, NewRateLimitExceededError("too many requests", WithRetryAfter(delay)))
				return
			}
			next(w, r)
		}
	}
}
