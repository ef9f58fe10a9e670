package state

// SessionStats tracks per-session aggregate counters and overrides, updated
// on every FinishedRequest carrying a session id.
type SessionStats struct {
	SessionID          string
	TurnsTotal         int64
	TurnsWithUsage      int64
	TotalUsage          Usage
	LastStatusCode      int
	LastEndedAtMs       int64
	LastModel           string
	OverrideEffort      string
	OverrideConfigName  string
}

func (s *Store) updateSessionStats(fr FinishedRequest) {
	s.sessionStatsMu.Lock()
	defer s.sessionStatsMu.Unlock()

	st, ok := s.sessionStats[fr.SessionID]
	if !ok {
		st = &SessionStats{SessionID: fr.SessionID}
		s.sessionStats[fr.SessionID] = st
	}
	st.TurnsTotal++
	if fr.Usage != nil {
		st.TurnsWithUsage++
		st.TotalUsage.Add(*fr.Usage)
	}
	st.LastStatusCode = fr.StatusCode
	st.LastEndedAtMs = fr.EndedAtMs
	st.LastModel = fr.Model
}

// SessionStatsSnapshot returns a copy of every tracked session's stats,
// with the live session-config/effort overrides folded in.
func (s *Store) SessionStatsSnapshot() []SessionStats {
	s.sessionStatsMu.Lock()
	out := make([]SessionStats, 0, len(s.sessionStats))
	for _, st := range s.sessionStats {
		out = append(out, *st)
	}
	s.sessionStatsMu.Unlock()

	for i := range out {
		out[i].OverrideEffort, _ = s.overrides.SessionEffort(out[i].SessionID)
		out[i].OverrideConfigName, _ = s.overrides.SessionConfig(out[i].SessionID)
	}
	return out
}
