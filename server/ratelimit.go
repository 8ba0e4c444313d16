package server

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// corsMiddleware allows a browser-based front end to call the vault
// across origins, modeled on the teacher's middleware.CORSMiddleware
// (trimmed to the headers askesis-vault's API actually uses).
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll || origins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+keyHashHeader)
			w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter is a per-key sliding-window limiter, modeled on the
// teacher's middleware.RateLimiter (in-memory; a distributed vault
// deployment would swap this for a Redis-backed one using the same
// client serverstore already holds).
type rateLimiter struct {
	rpm   int
	burst int

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	hits []time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{rpm: rpm, burst: burst, windows: make(map[string]*slidingWindow)}
}

func (rl *rateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[key]
	if !ok {
		w = &slidingWindow{}
		rl.windows[key] = w
	}

	cutoff := now.Add(-time.Minute)
	fresh := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	w.hits = fresh

	limit := rl.rpm + rl.burst
	if len(w.hits) >= limit {
		return false, 0
	}
	w.hits = append(w.hits, now)
	return true, limit - len(w.hits)
}

func (rl *rateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(keyHashHeader)
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, remaining := rl.allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rpm+rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", "60")
			http.Error(w, fmt.Sprintf(`{"error":"rate_limit_exceeded","message":"limit of %d requests per minute exceeded"}`, rl.rpm+rl.burst), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
