// Package loadbalancer tracks per-upstream failure/cooldown state for a
// single named service configuration and picks the next candidate upstream
// for a request: a mutex-guarded struct of parallel slices covering
// per-index failure counts and cooldowns across a set of upstreams, plus
// the last known good index.
package loadbalancer

import (
	"sync"
	"time"
)

// State is one configuration's load-balancer bookkeeping, covering N
// upstreams (N = len(failureCounts) at construction time). Exported methods
// are safe for concurrent use; a single State is shared by every in-flight
// request against that configuration.
type State struct {
	mu sync.Mutex

	failureCounts  []int
	penaltyStreak  []int
	cooldownUntil  []time.Time // zero value = no cooldown
	usageExhausted []bool

	lastGoodIndex int // -1 = unset
}

// New creates load-balancer state for a configuration with n upstreams.
func New(n int) *State {
	return &State{
		failureCounts:  make([]int, n),
		penaltyStreak:  make([]int, n),
		cooldownUntil:  make([]time.Time, n),
		usageExhausted: make([]bool, n),
		lastGoodIndex:  -1,
	}
}

// Resize grows or shrinks the tracked upstream count in place (called when
// a config reload changes the number of upstreams for this name), preserving
// state for indices that still exist.
func (s *State) Resize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCounts = resizeInts(s.failureCounts, n)
	s.penaltyStreak = resizeInts(s.penaltyStreak, n)
	s.cooldownUntil = resizeTimes(s.cooldownUntil, n)
	s.usageExhausted = resizeBools(s.usageExhausted, n)
	if s.lastGoodIndex >= n {
		s.lastGoodIndex = -1
	}
}

func resizeInts(s []int, n int) []int {
	if len(s) == n {
		return s
	}
	out := make([]int, n)
	copy(out, s)
	return out
}

func resizeTimes(s []time.Time, n int) []time.Time {
	if len(s) == n {
		return s
	}
	out := make([]time.Time, n)
	copy(out, s)
	return out
}

func resizeBools(s []bool, n int) []bool {
	if len(s) == n {
		return s
	}
	out := make([]bool, n)
	copy(out, s)
	return out
}

func (s *State) eligible(i int, avoid map[int]bool, now time.Time) bool {
	if avoid[i] {
		return false
	}
	if s.usageExhausted[i] {
		return false
	}
	if !s.cooldownUntil[i].IsZero() && s.cooldownUntil[i].After(now) {
		return false
	}
	return true
}

// SelectAvoiding returns the best eligible upstream index, skipping any in
// avoid, any in cooldown, and any marked usage-exhausted. Preference order:
// last-known-good if still eligible, else smallest failure count, ties
// broken by smallest index. Returns (0, false) if nothing is eligible. Never
// mutates state — callers grow their own per-request avoid set.
func (s *State) SelectAvoiding(avoid map[int]bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectAvoidingLocked(avoid)
}

func (s *State) selectAvoidingLocked(avoid map[int]bool) (int, bool) {
	now := time.Now()
	n := len(s.failureCounts)

	if s.lastGoodIndex >= 0 && s.lastGoodIndex < n && s.eligible(s.lastGoodIndex, avoid, now) {
		return s.lastGoodIndex, true
	}

	best := -1
	bestFailures := 0
	for i := 0; i < n; i++ {
		if !s.eligible(i, avoid, now) {
			continue
		}
		if best == -1 || s.failureCounts[i] < bestFailures {
			best = i
			bestFailures = s.failureCounts[i]
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// SelectAvoidingStrict is identical to SelectAvoiding but exists as a
// distinct entry point for call sites that, on a miss, must try the next
// configuration rather than settle for a cooled-down upstream within this
// one (the dispatcher's multi-config failover loop).
func (s *State) SelectAvoidingStrict(avoid map[int]bool) (int, bool) {
	return s.SelectAvoiding(avoid)
}

// RecordResultWithBackoff records the outcome of an attempt against index i.
// On success it clears failure bookkeeping and marks i as last-known-good.
// On failure it increments the failure count only; cooldown scheduling is
// the caller's job via PenalizeWithBackoff (the two are separate so a
// caller can record a failure without necessarily imposing a cooldown, e.g.
// for a class that doesn't warrant one).
func (s *State) RecordResultWithBackoff(i int, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.failureCounts) {
		return
	}
	if success {
		s.failureCounts[i] = 0
		s.penaltyStreak[i] = 0
		s.cooldownUntil[i] = time.Time{}
		s.lastGoodIndex = i
		return
	}
	s.failureCounts[i]++
}

// PenalizeWithBackoff schedules a cooldown for index i: secs =
// min(baseSecs * factor^penaltyStreak[i], maxSecs), sets cooldownUntil[i] =
// now+secs, and increments penaltyStreak[i]. reason is caller-supplied for
// logging only. No-op if baseSecs <= 0.
func (s *State) PenalizeWithBackoff(i int, baseSecs int64, factor int64, maxSecs int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.failureCounts) || baseSecs <= 0 {
		return
	}
	secs := baseSecs
	for n := int64(0); n < int64(s.penaltyStreak[i]); n++ {
		secs *= factor
		if secs > maxSecs {
			secs = maxSecs
			break
		}
	}
	if secs > maxSecs {
		secs = maxSecs
	}
	s.cooldownUntil[i] = time.Now().Add(time.Duration(secs) * time.Second)
	s.penaltyStreak[i]++
	_ = reason
}

// MarkUsageExhausted flags index i as unusable until explicitly cleared
// (e.g. a provider-reported quota exhaustion, distinct from a transient
// cooldown).
func (s *State) MarkUsageExhausted(i int, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.usageExhausted) {
		return
	}
	s.usageExhausted[i] = exhausted
}

// View is a read-only snapshot of one index's bookkeeping, for the control
// API's lb_view.
type View struct {
	Index          int
	FailureCount   int
	PenaltyStreak  int
	CooldownUntil  *time.Time
	UsageExhausted bool
	IsLastGood     bool
}

// Snapshot returns a View for every tracked upstream index.
func (s *State) Snapshot() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]View, len(s.failureCounts))
	for i := range out {
		v := View{
			Index:          i,
			FailureCount:   s.failureCounts[i],
			PenaltyStreak:  s.penaltyStreak[i],
			UsageExhausted: s.usageExhausted[i],
			IsLastGood:     i == s.lastGoodIndex,
		}
		if !s.cooldownUntil[i].IsZero() {
			t := s.cooldownUntil[i]
			v.CooldownUntil = &t
		}
		out[i] = v
	}
	return out
}

// Registry holds one State per configuration name, keyed the way the
// dispatcher addresses configurations (service-scoped name). Safe for
// concurrent use.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: map[string]*State{}}
}

// StateFor returns the State for name, creating one sized n if it doesn't
// exist yet, or resizing an existing one if n changed (config reload added
// or removed upstreams).
func (r *Registry) StateFor(name string, n int) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		s = New(n)
		r.states[name] = s
		return s
	}
	s.mu.Lock()
	cur := len(s.failureCounts)
	s.mu.Unlock()
	if cur != n {
		s.Resize(n)
	}
	return s
}
