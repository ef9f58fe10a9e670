// Package dispatcher implements the per-request pipeline: admission,
// candidate-configuration selection, the two-layer upstream-retry /
// provider-failover loop, body rewriting, auth resolution, and response
// forwarding (buffered or SSE). It is a facade type holding injected
// collaborators (runtime config, state store, load balancer registry, auth
// resolver, HTTP client, logger) with one exported entry point, rather than
// package-level singletons.
package dispatcher

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vitaliisemenov/airelay/internal/authresolve"
	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/loadbalancer"
	"github.com/vitaliisemenov/airelay/internal/redact"
	"github.com/vitaliisemenov/airelay/internal/state"
)

// MaxRequestBodyBytes bounds the inbound client body the dispatcher will
// read before rejecting the request.
const MaxRequestBodyBytes = 10 << 20

// Dispatcher forwards one inbound HTTP request to a chosen upstream,
// running the two-layer retry/failover loop around the attempt.
type Dispatcher struct {
	runtimeCfg   *config.RuntimeConfig
	store        *state.Store
	lbRegistry   *loadbalancer.Registry
	authResolver *authresolve.Resolver
	httpClient   *http.Client
	auditLog     *state.AuditLog
	logger       *slog.Logger
}

// New builds a Dispatcher. auditLog may be nil (no audit records are then
// written) for callers that don't need audit persistence (e.g. tests).
// logger defaults to slog.Default() when nil.
func New(runtimeCfg *config.RuntimeConfig, store *state.Store, lbRegistry *loadbalancer.Registry, authResolver *authresolve.Resolver, auditLog *state.AuditLog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runtimeCfg:   runtimeCfg,
		store:        store,
		lbRegistry:   lbRegistry,
		authResolver: authResolver,
		httpClient:   &http.Client{}, // no global deadline: upstream reads are bounded only by transport defaults
		auditLog:     auditLog,
		logger:       logger,
	}
}

// ServeHTTP implements http.Handler for any path not under the control API
// prefix; the caller (internal/api's router) is responsible for routing
// control-API paths elsewhere and everything else here.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	startedAtMs := start.UnixMilli()

	d.runtimeCfg.MaybeReloadFromDisk()
	cfg := d.runtimeCfg.Snapshot()

	sessionID := firstNonEmpty(r.Header.Get("session_id"), r.Header.Get("conversation_id"))

	rawBody, err := readLimited(r.Body, MaxRequestBodyBytes+1)
	if err == nil && int64(len(rawBody)) > MaxRequestBodyBytes {
		err = fmt.Errorf("request body exceeds %d bytes", MaxRequestBodyBytes)
	}
	if err != nil {
		d.logger.Warn("client_body_read_error", "error", err, "path", r.URL.Path)
		http.Error(w, "client_body_read_error", http.StatusBadRequest)
		return
	}

	var bodyObj map[string]any
	var fields BodyFields
	if looksJSONContentType(r.Header.Get("Content-Type")) {
		if obj, err := ParseJSONBody(rawBody); err == nil {
			bodyObj = obj
			fields = ExtractBodyFields(obj)
		}
	}

	effectiveEffort := fields.Effort
	if sessionID != "" {
		if e, ok := d.store.Overrides().SessionEffort(sessionID); ok {
			effectiveEffort = e
		}
	}
	if bodyObj != nil && effectiveEffort != "" && effectiveEffort != fields.Effort {
		SpliceEffort(bodyObj, effectiveEffort)
		if b, err := MarshalJSONBody(bodyObj); err == nil {
			rawBody = b
		}
	}

	d.logger.Debug("request admitted",
		"method", r.Method, "path", r.URL.Path, "session_id", sessionID,
		"model", fields.Model, "effort", effectiveEffort, "body_len", len(rawBody),
		"headers", redact.Headers(r.Header),
	)

	requestID := d.store.BeginRequest(state.ActiveRequest{
		Service:     string(cfg.Service),
		Method:      r.Method,
		Path:        r.URL.Path,
		SessionID:   sessionID,
		Model:       fields.Model,
		Effort:      effectiveEffort,
		StartedAtMs: startedAtMs,
	})

	manager := cfg.ActiveManager()
	candidates := SelectCandidates(manager, d.store.Overrides(), string(cfg.Service), sessionID)
	if len(candidates) == 0 {
		d.finalizeNoRoute(w, requestID, start, "no_active_upstream_config", http.StatusBadGateway, "no upstreams available")
		return
	}

	req := &requestRun{
		d:             d,
		ctx:           r.Context(),
		w:             w,
		httpMethod:    r.Method,
		inboundPath:   r.URL.Path,
		inboundQuery:  r.URL.RawQuery,
		clientHeaders: r.Header,
		wantsSSE:      strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream"),
		cfg:           cfg,
		requestID:     requestID,
		start:         start,
		model:         fields.Model,
		bodyObj:       bodyObj,
		rawBody:       rawBody,
		avoid:         map[string]map[int]bool{},
		triedConfigs:  map[string]bool{},
	}
	req.run(candidates)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func looksJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json")
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	limited := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		data = data[:limit]
	}
	return data, nil
}

// finalizeNoRoute handles the "no route could be built at all" terminal
// states (no eligible config, or, from inside the loop, no upstream
// anywhere supports the requested model).
func (d *Dispatcher) finalizeNoRoute(w http.ResponseWriter, requestID uint64, start time.Time, reason string, statusCode int, body string) {
	d.logger.Warn(reason, "request_id", requestID)
	http.Error(w, body, statusCode)
	d.store.FinishRequest(state.FinishedRequest{
		ActiveRequest: state.ActiveRequest{ID: requestID},
		StatusCode:    statusCode,
		DurationMs:    time.Since(start).Milliseconds(),
		EndedAtMs:     state.NowMs(),
	})
}
