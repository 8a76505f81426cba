// Package middleware holds HTTP middleware shared by the server's routes.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter bounds connection attempts per client IP with a sliding
// one-minute window. It shields the gateway from reconnect storms; admitted
// sockets are governed by the room's own input gating afterwards.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	logger  *slog.Logger
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter builds a limiter allowing limit attempts per IP per minute.
func NewRateLimiter(limit int, logger *slog.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		logger:  logger.With("component", "ratelimit"),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether another attempt from the key fits the window.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}
	w.count++
	if w.count > rl.limit {
		rl.logger.Warn("connection rate limit exceeded", "key", key, "count", w.count)
		return false
	}
	return true
}

// Middleware rejects over-limit clients with 429 before the upgrade.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := len(fwd); i > 0 {
			// First hop in the chain.
			for j := 0; j < i; j++ {
				if fwd[j] == ',' {
					return fwd[:j]
				}
			}
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanup drops stale windows so long-running servers do not accrete keys.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for key, w := range rl.windows {
			if now.Sub(w.start) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
