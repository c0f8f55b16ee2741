package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client keeps its limiter before the
// sweep drops it.
const visitorTTL = 10 * time.Minute

// visitors tracks one token bucket per client IP. The per-minute budget
// doubles as the burst size, so a quiet client can spend a full minute's
// allowance at once.
type visitors struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	seen    map[string]time.Time
	limit   rate.Limit
	burst   int
}

func newVisitors(requestsPerMinute int) *visitors {
	v := &visitors{
		buckets: make(map[string]*rate.Limiter),
		seen:    make(map[string]time.Time),
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   requestsPerMinute,
	}

	go v.sweep()

	return v
}

// allow reports whether a request from ip fits its budget.
func (v *visitors) allow(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	bucket, ok := v.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(v.limit, v.burst)
		v.buckets[ip] = bucket
	}

	v.seen[ip] = time.Now()

	return bucket.Allow()
}

// sweep drops limiters for clients idle past the TTL.
func (v *visitors) sweep() {
	ticker := time.NewTicker(visitorTTL / 2)
	defer ticker.Stop()

	for range ticker.C {
		v.mu.Lock()

		for ip, last := range v.seen {
			if time.Since(last) > visitorTTL {
				delete(v.buckets, ip)
				delete(v.seen, ip)
			}
		}

		v.mu.Unlock()
	}
}

// rateLimitMiddleware rejects requests over the per-IP budget with 429.
func (s *server) rateLimitMiddleware(
	requestsPerMinute int,
) func(http.Handler) http.Handler {
	v := newVisitors(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.allow(clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the client address, honoring the first hop of an
// X-Forwarded-For chain when a proxy set one.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
