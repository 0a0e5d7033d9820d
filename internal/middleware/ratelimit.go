package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a client's bucket is kept after its last
// request.
const DefaultIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP with a token bucket.
// Buckets idle for longer than IdleTTL are evicted.
type RateLimitMiddleware struct {
	IdleTTL time.Duration

	limit     rate.Limit
	burst     int
	limiters  map[string]*clientLimiter // IP -> bucket
	lastSweep time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewRateLimitMiddleware allows perSecond requests per client with bursts
// of up to burst requests.
func NewRateLimitMiddleware(perSecond float64, burst int) *RateLimitMiddleware {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitMiddleware{
		IdleTTL:  DefaultIdleTTL,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

func (m *RateLimitMiddleware) limiter(clientIP string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastSweep) >= m.IdleTTL {
		m.sweep(now)
	}
	c, ok := m.limiters[clientIP]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[clientIP] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep drops idle buckets. Callers hold mu.
func (m *RateLimitMiddleware) sweep(now time.Time) {
	for ip, c := range m.limiters {
		if now.Sub(c.lastSeen) >= m.IdleTTL {
			delete(m.limiters, ip)
		}
	}
	m.lastSweep = now
}

// RateLimit rejects requests over the client's budget with 429.
func (m *RateLimitMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter(getClientIP(r)).Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
