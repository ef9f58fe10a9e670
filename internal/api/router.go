// Package api implements the control plane: a set of JSON endpoints served
// under /__codex_helper/ on the same local port as the proxying Dispatcher,
// exposing live runtime state (active/recent requests, session stats, config
// health) and runtime-config mutations (session/global overrides, reload,
// health-check runs). The router is built from gorilla/mux subrouters with
// a layered middleware stack: request id, logging, metrics, rate limit.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/airelay/internal/cache"
	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/state"
)

// Server holds the collaborators every control-API handler needs.
type Server struct {
	store      *state.Store
	runtimeCfg *config.RuntimeConfig
	logger     *slog.Logger
	persister  *cache.OverridesPersister
}

// RouterConfig configures NewRouter's middleware stack.
type RouterConfig struct {
	Store      *state.Store
	RuntimeCfg *config.RuntimeConfig
	Logger     *slog.Logger

	// Persister mirrors override mutations to Redis when non-nil. A nil
	// Persister means overrides only live in memory for this process.
	Persister *cache.OverridesPersister

	RateLimitPerMinute int
	RateLimitBurst     int
}

// DefaultRouterConfig returns sane defaults for a local single-operator
// control plane.
func DefaultRouterConfig(store *state.Store, runtimeCfg *config.RuntimeConfig, logger *slog.Logger) RouterConfig {
	return RouterConfig{
		Store:              store,
		RuntimeCfg:         runtimeCfg,
		Logger:             logger,
		Persister:          cache.NewOverridesPersister(nil, logger),
		RateLimitPerMinute: 600,
		RateLimitBurst:     50,
	}
}

// NewRouter builds the /__codex_helper/ control-API router. Every other path
// is left unregistered — the caller composes this router with the Dispatcher
// (e.g. via a top-level mux that tries the control router first and falls
// back to the Dispatcher) so that "everything else" still reaches C6.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persister := cfg.Persister
	if persister == nil {
		persister = cache.NewOverridesPersister(nil, logger)
	}
	srv := &Server{store: cfg.Store, runtimeCfg: cfg.RuntimeCfg, logger: logger, persister: persister}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware)
	router.Use(rateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst))

	root := router.PathPrefix("/__codex_helper").Subrouter()
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := root.PathPrefix("/api/v1").Subrouter()
	srv.registerRoutes(v1)

	// Back-compat aliases directly under /__codex_helper (no api/v1), for the
	// subset of endpoints documented as carrying one.
	root.HandleFunc("/status/active", srv.handleStatusActive).Methods(http.MethodGet)
	root.HandleFunc("/status/recent", srv.handleStatusRecent).Methods(http.MethodGet)
	root.HandleFunc("/config/runtime", srv.handleConfigRuntime).Methods(http.MethodGet)
	root.HandleFunc("/config/reload", srv.handleConfigReload).Methods(http.MethodPost)
	root.HandleFunc("/override/session", srv.handleOverrideSessionConfig).Methods(http.MethodGet, http.MethodPost)

	return router
}

func (s *Server) registerRoutes(v1 *mux.Router) {
	v1.HandleFunc("/capabilities", s.handleCapabilities).Methods(http.MethodGet)

	v1.HandleFunc("/status/active", s.handleStatusActive).Methods(http.MethodGet)
	v1.HandleFunc("/status/recent", s.handleStatusRecent).Methods(http.MethodGet)
	v1.HandleFunc("/status/session-stats", s.handleStatusSessionStats).Methods(http.MethodGet)
	v1.HandleFunc("/status/config-health", s.handleStatusConfigHealth).Methods(http.MethodGet)
	v1.HandleFunc("/status/health-checks", s.handleStatusHealthChecks).Methods(http.MethodGet)

	v1.HandleFunc("/config/runtime", s.handleConfigRuntime).Methods(http.MethodGet)
	v1.HandleFunc("/config/reload", s.handleConfigReload).Methods(http.MethodPost)
	v1.HandleFunc("/configs", s.handleConfigsList).Methods(http.MethodGet)

	v1.HandleFunc("/overrides/session/effort", s.handleOverrideSessionEffort).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/overrides/session/config", s.handleOverrideSessionConfig).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/overrides/global-config", s.handleOverrideGlobalConfig).Methods(http.MethodGet, http.MethodPost)

	v1.HandleFunc("/healthcheck/start", s.handleHealthCheckStart).Methods(http.MethodPost)
	v1.HandleFunc("/healthcheck/cancel", s.handleHealthCheckCancel).Methods(http.MethodPost)

	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
}

// endpointList enumerates every route advertised by /capabilities, kept as a
// literal list rather than derived from the mux tree: it is documentation
// for clients, not a router introspection feature.
var endpointList = []string{
	"GET /__codex_helper/api/v1/capabilities",
	"GET /__codex_helper/api/v1/status/active",
	"GET /__codex_helper/api/v1/status/recent",
	"GET /__codex_helper/api/v1/status/session-stats",
	"GET /__codex_helper/api/v1/status/config-health",
	"GET /__codex_helper/api/v1/status/health-checks",
	"GET /__codex_helper/api/v1/config/runtime",
	"POST /__codex_helper/api/v1/config/reload",
	"GET /__codex_helper/api/v1/configs",
	"GET,POST /__codex_helper/api/v1/overrides/session/effort",
	"GET,POST /__codex_helper/api/v1/overrides/session/config",
	"GET,POST /__codex_helper/api/v1/overrides/global-config",
	"POST /__codex_helper/api/v1/healthcheck/start",
	"POST /__codex_helper/api/v1/healthcheck/cancel",
	"GET /__codex_helper/api/v1/snapshot",
}
