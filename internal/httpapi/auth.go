package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Default per-key request budget. Admin traffic is interactive; the bucket
// only has to stop runaway scripts.
const (
	defaultRatePerKey = 10.0
	defaultRateBurst  = 20
)

// keyAuth guards the admin routes: requests must carry a configured key in
// X-API-Key, and each key draws from its own token bucket.
type keyAuth struct {
	keys  map[string]struct{}
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newKeyAuth(keys []string, perSec float64, burst int) *keyAuth {
	if perSec <= 0 {
		perSec = defaultRatePerKey
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	a := &keyAuth{
		keys:     make(map[string]struct{}, len(keys)),
		limit:    rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, k := range keys {
		if k != "" {
			a.keys[k] = struct{}{}
		}
	}
	return a
}

// enabled reports whether any key is configured. Without keys the wrap is a
// pass-through.
func (a *keyAuth) enabled() bool { return len(a.keys) > 0 }

func (a *keyAuth) limiter(key string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[key]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[key] = l
	}
	return l
}

// wrap enforces the key and its rate budget before invoking next.
func (a *keyAuth) wrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled() {
			next(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if _, ok := a.keys[key]; !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		if !a.limiter(key).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}
