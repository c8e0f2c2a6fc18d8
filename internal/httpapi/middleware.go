package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lumora.app/internal/auth"
	"lumora.app/internal/ids"
	"lumora.app/internal/obs"
	"lumora.app/internal/ratelimit"
)

const (
	authHeader     = "Authorization"
	bearer         = "Bearer "
	deviceIDHeader = "X-Device-ID"
)

// Paths that bypass admission entirely: probes and the scrape endpoint must
// stay reachable when every tier is exhausted.
var exemptPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
	"/v1/info": {},
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestID assigns each request a ULID and exposes it via context and the
// X-Request-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = ids.New()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingJSON emits one structured line per request.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogRequest(map[string]any{
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
			"level":       "info",
			"msg":         "request_complete",
			"request_id":  RequestIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.Header.Get("User-Agent"),
		})
	})
}

// SecurityHeaders applies baseline hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// Backstop is a coarse token-bucket per client IP in front of the policy
// limiter. It protects the service itself from floods; the per-tier fixed
// windows remain the authoritative product limits.
func Backstop(next http.Handler, burst int, perSecond int) http.Handler {
	type bucket struct {
		lim *rate.Limiter
		ts  time.Time
	}
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
		ttl     = 5 * time.Minute
	)
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for range ticker.C {
			now := time.Now()
			mu.Lock()
			for k, b := range buckets {
				if now.Sub(b.ts) > ttl {
					delete(buckets, k)
				}
			}
			mu.Unlock()
		}
	}()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
			buckets[ip] = b
		}
		b.ts = time.Now()
		mu.Unlock()

		if !b.lim.Allow() {
			writeRateLimited(w, r, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAdmission resolves a policy for each request, checks the fixed-window
// counter and renders the HTTP-visible decision.
func (a *API) withAdmission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		identity := a.identify(r)
		category := categorize(r.URL.Path, identity)
		policy, key := a.resolver.Resolve(category, identity)

		// A store error has already been resolved into the decision by the
		// limiter's fail mode; nothing further to do here.
		decision, _ := a.limiter.Check(r.Context(), key, policy)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			writeRateLimited(w, r, decision.RetryAfter(time.Now()))
			return
		}

		ctx := r.Context()
		if identity.UserID != "" {
			ctx = auth.ContextWithUserID(ctx, identity.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identify extracts the strongest caller identifier available: verified
// bearer subject, then device id header, then client IP. An invalid bearer
// token does not fail the request here; it only downgrades the identity
// (protected handlers do their own verification).
func (a *API) identify(r *http.Request) ratelimit.CallerIdentity {
	identity := ratelimit.CallerIdentity{
		DeviceID: strings.TrimSpace(r.Header.Get(deviceIDHeader)),
		IP:       clientIP(r),
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if a.auth != nil && strings.HasPrefix(header, bearer) {
		if userID, err := a.auth.VerifyAccess(header[len(bearer):]); err == nil {
			identity.UserID = userID
		}
	}
	return identity
}

// categorize maps a route to its rate-limit category. AI routes split by
// authentication state so anonymous and signed-in traffic never share a
// counter.
func categorize(path string, identity ratelimit.CallerIdentity) ratelimit.RouteCategory {
	switch {
	case strings.HasPrefix(path, "/v1/auth/"):
		return ratelimit.CategoryAuth
	case strings.HasPrefix(path, "/v1/ai/"):
		if identity.UserID != "" {
			return ratelimit.CategoryAIAuthenticated
		}
		return ratelimit.CategoryAIAnonymous
	default:
		return ratelimit.CategoryGeneral
	}
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "Too Many Requests",
		"message":    "rate limit exceeded, slow down and retry later",
		"retryAfter": retryAfter,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For support (first IP)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
