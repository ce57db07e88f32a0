// Package middleware provides the HTTP middleware chain shared by the
// control plane's inbound surfaces (webhook intake, manual deploy/rollback
// API): panic recovery, request logging with trace-ID propagation, per-key
// rate limiting, and a request body size cap, generalized so both HTTP
// surfaces can share one
// implementation instead of each rolling their own.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/festion/homelab-gitops-auditor/internal/logging"
)

const defaultMaxBodyBytes int64 = 1 << 20

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// ClientIP extracts the caller's address, preferring a proxy-forwarded
// header over the raw remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// Recovery recovers from a handler panic, logs it with a stack trace, and
// responds 500 instead of crashing the listener goroutine.
func Recovery(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(map[string]interface{}{
						"panic":  fmt.Sprintf("%v", rec),
						"stack":  string(debug.Stack()),
						"path":   r.URL.Path,
						"method": r.Method,
					}).Error("handler panic recovered")
					writeJSONError(w, http.StatusInternalServerError, "internal_error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
// actually written, so the logging middleware can report it.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging assigns or propagates a trace ID and logs method, path, status,
// and duration for every request.
func Logging(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"trace_id":    traceID,
			}).Info("request handled")
		})
	}
}

// BodyLimit caps request bodies to reduce memory/CPU exhaustion from
// oversized payloads. When maxBytes <= 0 a conservative default applies.
type BodyLimit struct {
	maxBytes int64
}

// NewBodyLimit constructs a body size cap middleware.
func NewBodyLimit(maxBytes int64) *BodyLimit {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &BodyLimit{maxBytes: maxBytes}
}

// Handler returns the body-limiting middleware.
func (b *BodyLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.maxBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, b.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFunc extracts the rate-limit bucket key from a request, e.g. client IP
// or authenticated actor.
type KeyFunc func(r *http.Request) string

// RateLimiter enforces a per-key token-bucket rate limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter constructs a RateLimiter allowing perSecond requests per
// key with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns a middleware that keys each caller via keyFn and rejects
// requests once its bucket is exhausted.
func (rl *RateLimiter) Handler(keyFn KeyFunc) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				key = "unknown"
			}
			if !rl.limiterFor(key).Allow() {
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Cleanup bounds the per-key limiter map's growth; call periodically from a
// background ticker for long-lived listeners.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}
