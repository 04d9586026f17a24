package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"easyswitch/internal/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 3 * time.Minute
	cleanupInterval = time.Minute
)

// visitor holds the rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller and route.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// getVisitor retrieves or creates the limiter for key.
func (l *RateLimiter) getVisitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(l.limit, l.burst)
		l.visitors[key] = &visitor{limiter, l.now()}
		return limiter
	}

	v.lastSeen = l.now()
	return v.limiter
}

// Cleanup drops visitors idle for longer than the TTL.
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if l.now().Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, key)
		}
	}
}

// Run calls Cleanup every minute until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// clientIP prefers the first X-Forwarded-For hop, then RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware rejects callers that exceed their bucket with 429. Buckets are
// keyed by client IP and path so one provider's retries cannot starve
// another's notifications.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r) + ":" + strings.ToLower(r.URL.Path)

		if !l.getVisitor(key).Allow() {
			logger.FromCtx(r.Context()).Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", clientIP(r)),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
