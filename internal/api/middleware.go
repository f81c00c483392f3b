package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// extractBearerToken extracts the token from Authorization header.
// Returns empty string for missing/malformed headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Must start with "Bearer " (case-sensitive per RFC 6750)
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token
}

// constantTimeEqual compares two strings using constant-time comparison
// to prevent timing attacks.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AuthMiddleware validates Bearer token using constant-time comparison.
// Returns 401 RFC 7807 Problem Details on auth failure.
// MUST NOT include expected API key in logs or responses.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !constantTimeEqual(token, apiKey) {
				slog.Warn("auth failure",
					"component", "api",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"component", "api",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// AnswerRateLimiter is a token bucket limiting answer submissions per
// session. A human answering a binary-choice question cannot sustain more
// than a few submissions per second; anything faster is a misbehaving
// client replaying traffic.
type AnswerRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	capacity  int
	refill    time.Duration
	lastSweep time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewAnswerRateLimiter creates a limiter with the given burst capacity and
// per-token refill interval.
func NewAnswerRateLimiter(capacity int, refill time.Duration) *AnswerRateLimiter {
	return &AnswerRateLimiter{
		buckets:   make(map[string]*bucket),
		capacity:  capacity,
		refill:    refill,
		lastSweep: time.Now(),
	}
}

// allow consumes a token for the key, refilling by elapsed time first.
func (l *AnswerRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	refilled := int(now.Sub(b.lastRefill) / l.refill)
	if refilled > 0 {
		b.tokens += refilled
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = now
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to have refilled completely; they
// are indistinguishable from fresh ones. Runs at most once per full-refill
// interval so steady traffic pays nothing. Caller holds mu.
func (l *AnswerRateLimiter) sweep(now time.Time) {
	idle := l.refill * time.Duration(l.capacity)
	if now.Sub(l.lastSweep) < idle {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) >= idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// Middleware enforces the limit keyed by remote address.
func (l *AnswerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			WriteProblem(w, r, http.StatusTooManyRequests, "Too many answer submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
