package api

import (
	"net/http"
	"strconv"
)

type capabilitiesResponse struct {
	APIVersion  int      `json:"api_version"`
	ServiceName string   `json:"service_name"`
	Endpoints   []string `json:"endpoints"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		APIVersion:  1,
		ServiceName: string(cfg.Service),
		Endpoints:   endpointList,
	})
}

func (s *Server) handleStatusActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ActiveSnapshot())
}

func (s *Server) handleStatusRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 100)
	writeJSON(w, http.StatusOK, s.store.RecentSnapshot(limit))
}

func (s *Server) handleStatusSessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.SessionStatsSnapshot())
}

func (s *Server) handleStatusConfigHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	writeJSON(w, http.StatusOK, s.store.ListHealthChecks(string(cfg.Service)))
}

func (s *Server) handleStatusHealthChecks(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	writeJSON(w, http.StatusOK, s.store.HealthCheckState(string(cfg.Service)))
}

// parseIntQuery reads an int query parameter, falling back to def on absence
// or a malformed value.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
