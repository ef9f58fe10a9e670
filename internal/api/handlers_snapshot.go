package api

import "net/http"

// handleSnapshot returns the full dashboard read-model in one round trip.
// stats_days is accepted for forward compatibility with clients that intend
// to window the returned UsageRollup client-side by day bucket, but the
// rollup itself (ByDay) already carries every day recorded since start, so
// no server-side filtering is needed here.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	recentLimit := parseIntQuery(r, "recent_limit", 200)
	writeJSON(w, http.StatusOK, s.store.BuildDashboardSnapshot(string(cfg.Service), recentLimit))
}
