package state

// UpstreamProbe is one upstream's result within a ConfigHealth probe round.
type UpstreamProbe struct {
	Index     int
	OK        bool
	StatusCode *int
	LatencyMs  *int64
	Error      string
}

// ConfigHealth is the last probe result for every upstream in one config.
type ConfigHealth struct {
	ConfigName string
	Probes     []UpstreamProbe
	CheckedAtMs int64
}

// HealthCheckRunState is the running state machine for a health-check pass.
type HealthCheckRunState string

const (
	HealthCheckIdle     HealthCheckRunState = "idle"
	HealthCheckRunning  HealthCheckRunState = "running"
	HealthCheckDone     HealthCheckRunState = "done"
	HealthCheckCanceled HealthCheckRunState = "canceled"
)

// HealthCheckStatus tracks one in-progress (or completed) health-check run
// across one or more configs, driven by the control API's start/cancel
// endpoints.
type HealthCheckStatus struct {
	State           HealthCheckRunState
	Total           int
	Completed       int
	Canceled        int
	CancelRequested bool
	LastError       string
}

// RecordConfigHealth stores the latest probe result for a config.
func (s *Store) RecordConfigHealth(service string, h ConfigHealth) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	m, ok := s.health[service]
	if !ok {
		m = map[string]ConfigHealth{}
		s.health[service] = m
	}
	m[h.ConfigName] = h
}

// ListHealthChecks returns every recorded ConfigHealth for a service.
func (s *Store) ListHealthChecks(service string) []ConfigHealth {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	m := s.health[service]
	out := make([]ConfigHealth, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}

// StartHealthCheck marks a new run as in-progress for service, returning
// false if one is already running.
func (s *Store) StartHealthCheck(service string, total int) bool {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if st, ok := s.checks[service]; ok && st.State == HealthCheckRunning {
		return false
	}
	s.checks[service] = &HealthCheckStatus{State: HealthCheckRunning, Total: total}
	return true
}

// AdvanceHealthCheck increments the completed counter for an in-progress
// run, and marks it done once completed reaches total (unless canceled).
func (s *Store) AdvanceHealthCheck(service string, err error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	st, ok := s.checks[service]
	if !ok {
		return
	}
	if st.CancelRequested {
		st.State = HealthCheckCanceled
		st.Canceled++
		return
	}
	st.Completed++
	if err != nil {
		st.LastError = err.Error()
	}
	if st.Completed >= st.Total {
		st.State = HealthCheckDone
	}
}

// CancelHealthCheck requests cancellation of the in-flight run for service;
// the runner observes CancelRequested between probes.
func (s *Store) CancelHealthCheck(service string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if st, ok := s.checks[service]; ok {
		st.CancelRequested = true
	}
}

// HealthCheckState returns the current run status for service, or a zero
// (idle) value if none has ever started.
func (s *Store) HealthCheckState(service string) HealthCheckStatus {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if st, ok := s.checks[service]; ok {
		return *st
	}
	return HealthCheckStatus{State: HealthCheckIdle}
}
