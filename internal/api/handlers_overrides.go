package api

import "net/http"

type sessionOverrideRequest struct {
	SessionID string `json:"session_id"`
	Value     string `json:"value"`
}

// handleOverrideSessionEffort sets (POST, non-empty value) or clears (POST,
// empty value) a session's effort override; GET lists every session with an
// active effort override.
func (s *Server) handleOverrideSessionEffort(w http.ResponseWriter, r *http.Request) {
	overrides := s.store.Overrides()
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, overrides.AllSessionEffortOverrides())
		return
	}

	var req sessionOverrideRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id must not be empty")
		return
	}
	if req.Value == "" {
		overrides.ClearSessionEffort(req.SessionID)
		s.persister.ClearSessionEffort(r.Context(), req.SessionID)
	} else {
		overrides.SetSessionEffort(req.SessionID, req.Value)
		s.persister.SaveSessionEffort(r.Context(), req.SessionID, req.Value)
	}
	writeNoContent(w)
}

// handleOverrideSessionConfig sets or clears a session's pinned config name.
func (s *Server) handleOverrideSessionConfig(w http.ResponseWriter, r *http.Request) {
	overrides := s.store.Overrides()
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, overrides.AllSessionConfigOverrides())
		return
	}

	var req sessionOverrideRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id must not be empty")
		return
	}
	if req.Value == "" {
		overrides.ClearSessionConfig(req.SessionID)
		s.persister.ClearSessionConfig(r.Context(), req.SessionID)
	} else {
		overrides.SetSessionConfig(req.SessionID, req.Value)
		s.persister.SaveSessionConfig(r.Context(), req.SessionID, req.Value)
	}
	writeNoContent(w)
}

type globalConfigOverrideRequest struct {
	ConfigName string `json:"config_name"`
}

type globalConfigOverrideResponse struct {
	ConfigName string `json:"config_name,omitempty"`
	Set        bool   `json:"set"`
}

// handleOverrideGlobalConfig sets or clears the process-wide pinned config
// name (empty config_name clears it).
func (s *Server) handleOverrideGlobalConfig(w http.ResponseWriter, r *http.Request) {
	overrides := s.store.Overrides()
	if r.Method == http.MethodGet {
		name, ok := overrides.GlobalConfig()
		writeJSON(w, http.StatusOK, globalConfigOverrideResponse{ConfigName: name, Set: ok})
		return
	}

	var req globalConfigOverrideRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ConfigName == "" {
		overrides.ClearGlobalConfig()
		s.persister.ClearGlobalConfig(r.Context())
	} else {
		overrides.SetGlobalConfig(req.ConfigName)
		s.persister.SaveGlobalConfig(r.Context(), req.ConfigName)
	}
	writeNoContent(w)
}
