package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/wallet-history/internal/cache"
)

const (
	// staleLimiterTTL is how long a client bucket may sit unused before it
	// is dropped.
	staleLimiterTTL   = 10 * time.Minute
	sweepInterval     = time.Minute
	maxTrackedBuckets = 8192
)

// routeLimit is one token bucket policy. pattern is "METHOD /path" where a
// "*" segment matches any single path segment and an empty METHOD matches
// every method.
type routeLimit struct {
	name    string
	pattern string
	rps     rate.Limit
	burst   int
}

var defaultRouteLimits = []routeLimit{
	{name: "create", pattern: "POST /v1/sessions", rps: 1, burst: 5},
	{name: "visible", pattern: "POST /v1/sessions/*/visible", rps: 10, burst: 20},
	{name: "subject", pattern: "PUT /v1/sessions/*/subject", rps: 2, burst: 5},
}

var fallbackRouteLimit = routeLimit{name: "default", rps: 20, burst: 40}

// RateLimitMiddleware keeps one token bucket per route policy and client IP.
// Buckets live in an LRU with a sliding TTL so a flood of distinct clients
// cannot grow it without bound.
type RateLimitMiddleware struct {
	routes  []routeLimit
	buckets *cache.LRU[string, *rate.Limiter]
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware starts a background sweep of idle buckets. Call
// Stop to end it.
func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	return newRateLimitMiddleware(logger, time.Now)
}

func newRateLimitMiddleware(logger *slog.Logger, now func() time.Time) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		routes:  defaultRouteLimits,
		buckets: cache.NewLRU(maxTrackedBuckets, staleLimiterTTL, cache.WithClock[string, *rate.Limiter](now)),
		logger:  logger.With("component", "ratelimit"),
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop is idempotent.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimitMiddleware) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			if n := rl.buckets.Sweep(); n > 0 {
				rl.logger.Debug("dropped idle rate limit buckets", "count", n)
			}
		}
	}
}

// LimiterCount returns the number of tracked buckets, expired ones included
// until the next sweep.
func (rl *RateLimitMiddleware) LimiterCount() int {
	return rl.buckets.Len()
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		route := rl.match(r.Method, r.URL.Path)

		if !rl.bucket(route, client).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("rate limit exceeded",
				"route", route.name,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", client,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) match(method, path string) routeLimit {
	segments := splitPath(path)
	for _, route := range rl.routes {
		wantMethod, wantPath, _ := strings.Cut(route.pattern, " ")
		if wantMethod != "" && !strings.EqualFold(wantMethod, method) {
			continue
		}
		if segmentsMatch(splitPath(wantPath), segments) {
			return route
		}
	}
	return fallbackRouteLimit
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func segmentsMatch(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return true
}

func (rl *RateLimitMiddleware) bucket(route routeLimit, client string) *rate.Limiter {
	key := route.name + "|" + client
	if lim, ok := rl.buckets.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(route.rps, route.burst)
	rl.buckets.Put(key, lim)
	return lim
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
