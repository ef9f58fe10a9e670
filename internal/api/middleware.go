package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	controlAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airelay_control_api_requests_total",
			Help: "Total number of control-API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	controlAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airelay_control_api_request_duration_seconds",
			Help:    "Control-API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// metricsMiddleware instruments every control-API call: total count and
// duration recorded around a status-capturing ResponseWriter.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		controlAPIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.statusCode)).Inc()
		controlAPIRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RequestIDHeader is both the inbound header consulted and the outbound
// header set by requestIDMiddleware.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDMiddleware generates or extracts a request id from the inbound
// headers and stamps it onto both the context and the response for every
// control-plane call.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestIDFromContext returns the id stamped by requestIDMiddleware, or ""
// if the handler is invoked outside that middleware (e.g. direct tests).
func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every control-API call with its request id, path,
// status and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("control_api request",
				"request_id", requestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// clientLimiters tracks one token bucket per remote address. Unlike a
// periodic-sweep design, entries are never evicted: the control API's
// client set is small and long-lived enough that this is cheap, and it
// avoids a background goroutine that would need explicit shutdown wiring.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newClientLimiters(perMinute, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: map[string]*rate.Limiter{},
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (c *clientLimiters) allow(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[clientID] = l
	}
	return l.Allow()
}

// rateLimitMiddleware applies a per-client token bucket to the control API,
// returning 429 once a client's burst is exhausted.
func rateLimitMiddleware(perMinute, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(perMinute, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIdentifier(r)
			if !limiters.allow(clientID) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentifier(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
