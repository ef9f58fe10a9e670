package api

import (
	"net/http"

	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/healthcheck"
)

type healthCheckRequest struct {
	All         bool     `json:"all"`
	ConfigNames []string `json:"config_names"`
}

// handleHealthCheckStart begins a probe run across either every config (All)
// or the named subset, rejecting an empty selection outright.
func (s *Server) handleHealthCheckStart(w http.ResponseWriter, r *http.Request) {
	var req healthCheckRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	for _, name := range req.ConfigNames {
		if name == "" {
			writeError(w, http.StatusBadRequest, "config_name must not be empty")
			return
		}
	}
	if !req.All && len(req.ConfigNames) == 0 {
		writeError(w, http.StatusBadRequest, "either all=true or a non-empty config_names list is required")
		return
	}

	cfg := s.runtimeCfg.Snapshot()
	manager := cfg.ActiveManager()
	service := string(cfg.Service)

	var selected []*config.ServiceConfig
	if req.All {
		selected = manager.Ordered()
	} else {
		for _, name := range req.ConfigNames {
			if c, ok := manager.Configs[name]; ok {
				selected = append(selected, c)
			}
		}
	}

	if !s.store.StartHealthCheck(service, len(selected)) {
		writeError(w, http.StatusConflict, "a health check run is already in progress")
		return
	}
	healthcheck.RunAsync(s.store, service, healthcheck.NewProber(0), selected)
	writeNoContent(w)
}

// handleHealthCheckCancel requests cancellation of the in-flight run; the
// runner observes it between probes.
func (s *Server) handleHealthCheckCancel(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	s.store.CancelHealthCheck(string(cfg.Service))
	writeNoContent(w)
}
