package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 120
	rateWindow               = time.Minute
	// maxLocalClients caps the fallback limiters held while Redis is down.
	maxLocalClients = 10000
)

// RateLimit counts requests per client in a fixed one-minute window kept in
// Redis. While Redis is unreachable each client gets an in-process token
// bucket with the same budget instead; those buckets are dropped once Redis
// answers again.
type RateLimit struct {
	cache  cache.Cache
	limit  int
	window time.Duration

	degraded atomic.Bool
	mu       sync.Mutex
	fallback map[string]*rate.Limiter
	maxLocal int
}

// NewRateLimit creates a new RateLimit middleware. A non-positive
// requestsPerMin selects the default budget.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{
		cache:    c,
		limit:    requestsPerMin,
		window:   rateWindow,
		fallback: make(map[string]*rate.Limiter),
		maxLocal: maxLocalClients,
	}
}

// Limit counts requests per client id, falling back to the client IP when
// Authenticate did not run.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetClientID(r)
		if !ok {
			id = "ip:" + clientIP(r)
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(id), rl.window)
		if err != nil {
			rl.degraded.Store(true)
			slog.Warn("rate limit store unavailable, using local limiter", "client", id, "error", err)
			if !rl.local(id).Allow() {
				rl.reject(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if rl.degraded.CompareAndSwap(true, false) {
			rl.dropLocal()
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.limit-int(count), 0)))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rl.window).Unix(), 10))

		if count > int64(rl.limit) {
			rl.reject(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimit) reject(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(rl.window/time.Second)))
	response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests", nil)
}

func (rl *RateLimit) local(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.fallback[id]
	if !ok {
		if len(rl.fallback) >= rl.maxLocal {
			rl.pruneLocked()
		}
		l = rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.limit)), rl.limit)
		rl.fallback[id] = l
	}
	return l
}

// pruneLocked drops limiters whose bucket has refilled, which behave exactly
// like a new one. If every client is still active the whole set is reset.
func (rl *RateLimit) pruneLocked() {
	now := time.Now()
	for id, l := range rl.fallback {
		if l.TokensAt(now) >= float64(l.Burst()) {
			delete(rl.fallback, id)
		}
	}
	if len(rl.fallback) >= rl.maxLocal {
		slog.Warn("local rate limiters full, resetting", "clients", len(rl.fallback))
		clear(rl.fallback)
	}
}

func (rl *RateLimit) dropLocal() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.fallback)
}
