// Package state holds the process-wide, in-memory runtime state of the
// proxy: active/finished request registries, per-session stats, overrides,
// config health, usage rollups, and the derived window statistics the
// control API exposes. It is one facade struct with fine-grained
// per-concern mutexes, injected into request handlers rather than reached
// via a package-level singleton.
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// Usage is a token-usage tuple, present on a FinishedRequest when the
// upstream response carried one.
type Usage struct {
	Input     int64
	Output    int64
	Reasoning int64
	Total     int64
}

// Add accumulates src into the receiver, used when folding a FinishedRequest
// into a rollup bucket.
func (u *Usage) Add(src Usage) {
	u.Input += src.Input
	u.Output += src.Output
	u.Reasoning += src.Reasoning
	u.Total += src.Total
}

// RetryInfo mirrors retry.Info but lives in state to avoid a state->retry
// import cycle (retry never needs to know about FinishedRequest).
type RetryInfo struct {
	Attempts      int
	UpstreamChain []string
}

// ActiveRequest is the record created at admission and mutated once a route
// is chosen; it is removed from the active set when finished.
type ActiveRequest struct {
	ID              uint64
	Service         string
	Method          string
	Path            string
	SessionID       string
	CWD             string
	Model           string
	Effort          string
	StartedAtMs     int64
	ConfigName      string
	ProviderID      string
	UpstreamBaseURL string
}

// FinishedRequest is an ActiveRequest plus its outcome.
type FinishedRequest struct {
	ActiveRequest
	StatusCode int
	DurationMs int64
	EndedAtMs  int64
	TTFBMs     *int64
	Usage      *Usage
	Retry      *RetryInfo
}

// Store is the process-wide facade. Zero value is not usable; use New.
type Store struct {
	nextID atomic.Uint64

	activeMu sync.Mutex
	active   map[uint64]*ActiveRequest

	recentMu sync.Mutex
	recent   []FinishedRequest // ring buffer, oldest at index 0 after wrap
	recentCap int

	sessionStatsMu sync.Mutex
	sessionStats   map[string]*SessionStats

	overrides *Overrides

	healthMu sync.Mutex
	health   map[string]map[string]ConfigHealth // service -> config name -> health
	checks   map[string]*HealthCheckStatus      // service -> running status

	rollupsMu sync.Mutex
	rollups   map[string]*UsageRollup // service -> rollup

	lastCleanup time.Time
}

// DefaultRecentCapacity is the bounded ring buffer size for finished
// requests; once full, the oldest entry is evicted to admit each new one.
const DefaultRecentCapacity = 2000

// New constructs an empty Store.
func New() *Store {
	return &Store{
		active:       map[uint64]*ActiveRequest{},
		recentCap:    DefaultRecentCapacity,
		sessionStats: map[string]*SessionStats{},
		overrides:    NewOverrides(),
		health:       map[string]map[string]ConfigHealth{},
		checks:       map[string]*HealthCheckStatus{},
		rollups:      map[string]*UsageRollup{},
	}
}

// Overrides exposes the override sub-store for callers that need direct
// access (e.g. the control API handlers).
func (s *Store) Overrides() *Overrides { return s.overrides }

// BeginRequest allocates a monotonically increasing id and inserts an
// ActiveRequest. The id is never reused and never reappears in the active
// set once finished.
func (s *Store) BeginRequest(req ActiveRequest) uint64 {
	id := s.nextID.Add(1)
	req.ID = id
	s.activeMu.Lock()
	s.active[id] = &req
	s.activeMu.Unlock()
	return id
}

// UpdateRequestRoute mutates the in-flight ActiveRequest once a route is
// chosen. No-op if the id is not active (e.g. already finished).
func (s *Store) UpdateRequestRoute(id uint64, configName, providerID, baseURL string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if r, ok := s.active[id]; ok {
		r.ConfigName = configName
		r.ProviderID = providerID
		r.UpstreamBaseURL = baseURL
	}
}

// ActiveSnapshot returns a copy of every currently active request.
func (s *Store) ActiveSnapshot() []ActiveRequest {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]ActiveRequest, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, *r)
	}
	return out
}

// FinishRequest removes id from the active set, appends the finished record
// to the bounded recent ring, and folds it into session stats and usage
// rollups. Callers are only required to set ActiveRequest.ID plus the
// outcome fields (StatusCode, DurationMs, ...): the route/session/model
// fields recorded at BeginRequest/UpdateRequestRoute time are filled in here
// from the in-flight record before it's dropped, so callers never have to
// duplicate that bookkeeping at finalize time. No-op on the active-removal
// side if id was already finished or never existed — the append still
// happens so callers can finalize requests built without BeginRequest (e.g.
// in tests).
func (s *Store) FinishRequest(fr FinishedRequest) {
	s.activeMu.Lock()
	if active, ok := s.active[fr.ID]; ok {
		fr.ActiveRequest = *active
	}
	delete(s.active, fr.ID)
	s.activeMu.Unlock()

	s.recentMu.Lock()
	if len(s.recent) >= s.recentCap {
		s.recent = append(s.recent[1:], fr)
	} else {
		s.recent = append(s.recent, fr)
	}
	s.recentMu.Unlock()

	if fr.SessionID != "" {
		s.updateSessionStats(fr)
	}
	s.updateRollups(fr)
}

// RecentSnapshot returns up to limit most-recent finished requests
// (newest last), clamped to [1, capacity].
func (s *Store) RecentSnapshot(limit int) []FinishedRequest {
	if limit < 1 {
		limit = 1
	}
	if limit > DefaultRecentCapacity {
		limit = DefaultRecentCapacity
	}
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	if limit >= len(s.recent) {
		out := make([]FinishedRequest, len(s.recent))
		copy(out, s.recent)
		return out
	}
	start := len(s.recent) - limit
	out := make([]FinishedRequest, limit)
	copy(out, s.recent[start:])
	return out
}

// allRecentLocked returns the full backing ring without copying; the caller
// must hold recentMu and only read (WindowStatsFor copies it under the lock).
func (s *Store) allRecentLocked() []FinishedRequest {
	return s.recent
}

// NowMs returns the current time in epoch milliseconds, the unit every
// timestamp field in this package uses.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// DayIndex returns floor(endedAtMs / 86_400_000), the bucket key used by
// usage rollups' by-day views.
func DayIndex(endedAtMs int64) int64 {
	return endedAtMs / 86_400_000
}
