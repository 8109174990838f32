package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/metrics"
	"github.com/rs/zerolog"
)

// APIKeyHeader carries the caller's key
const APIKeyHeader = "X-API-Key"

type ctxKey int

const (
	principalKey ctxKey = iota
	requestIDKey
)

// Principal identifies an authenticated caller
type Principal struct {
	Client  string
	KeyHash string

	key string
}

// PrincipalFrom returns the caller set by the auth middleware
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequestIDFrom returns the request id set by the RequestID middleware
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type Middleware struct {
	verifier    *auth.Verifier
	limiter     *ratelimit.Limiter
	metrics     *metrics.Collector
	log         zerolog.Logger
	corsOrigins []string
}

func NewMiddleware(verifier *auth.Verifier, limiter *ratelimit.Limiter, m *metrics.Collector, log zerolog.Logger, corsOrigins []string) *Middleware {
	return &Middleware{
		verifier:    verifier,
		limiter:     limiter,
		metrics:     m,
		log:         log,
		corsOrigins: corsOrigins,
	}
}

// AuthMiddleware validates the X-API-Key header
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			m.metrics.AuthFailures.WithLabelValues("missing").Inc()
			w.Header().Set("WWW-Authenticate", "ApiKey")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Missing API key. Include the X-API-Key header.")
			return
		}

		client, ok := m.verifier.Client(key)
		if !ok {
			m.metrics.AuthFailures.WithLabelValues("invalid").Inc()
			w.Header().Set("WWW-Authenticate", "ApiKey")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid API key")
			return
		}

		p := Principal{Client: client, KeyHash: auth.KeyHash(key), key: key}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces the hourly quota of the authenticated key
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		d := m.limiter.CheckAndIncrement(r.Context(), p.key)
		if d.Degraded {
			m.metrics.RateLimitDegraded.Inc()
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			m.metrics.RateLimitRejections.Inc()
			m.log.Warn().
				Str("key_hash", p.KeyHash).
				Int64("retry_after", d.RetryAfterSeconds).
				Msg("rate limit exceeded")

			w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
			writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
				ErrorResponse: ErrorResponse{
					Error:     "Rate limit exceeded",
					Detail:    "Hourly request quota exhausted for this API key",
					Timestamp: timestamp(time.Now()),
				},
				Limit:      d.Limit,
				Window:     "1 hour",
				RetryAfter: d.RetryAfterSeconds,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS for the configured origins
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := m.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) allowedOrigin(origin string) string {
	for _, o := range m.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// RequestIDMiddleware tags each request with an id, reusing the caller's
// X-Request-ID when present
func (m *Middleware) RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one access log line per request and records
// request metrics
func (m *Middleware) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = m.log.Error()
		case status >= 400:
			event = m.log.Warn()
		default:
			event = m.log.Info()
		}
		event.
			Str("request_id", RequestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", duration).
			Msg("request")
	})
}
