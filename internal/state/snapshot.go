package state

const recentForStatsFloor = 2000

// DashboardSnapshot is the single aggregate payload the control API's
// snapshot endpoint returns, so a TUI/GUI client can refresh in one round
// trip instead of several.
type DashboardSnapshot struct {
	RefreshedAtMs         int64
	Active                []ActiveRequest
	Recent                []FinishedRequest
	GlobalOverride        string
	SessionConfigOverrides map[string]string
	SessionEffortOverrides map[string]string
	SessionStats          []SessionStats
	ConfigHealth          []ConfigHealth
	HealthCheck           HealthCheckStatus
	UsageRollup           UsageRollupView
	Stats5m               WindowStats
	Stats1h               WindowStats
}

func clampRecentLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > DefaultRecentCapacity {
		return DefaultRecentCapacity
	}
	return n
}

// BuildDashboardSnapshot assembles the full read-model for service.
// recentLimit is clamped to [1, 2000]; window stats are computed over a
// larger internal pool (max(recentLimit, 2000)) before the returned Recent
// slice is truncated to recentLimit, so small recentLimit values don't
// starve the 5m/1h windows of data.
func (s *Store) BuildDashboardSnapshot(service string, recentLimit int) DashboardSnapshot {
	recentLimit = clampRecentLimit(recentLimit)
	recentForStats := recentLimit
	if recentForStats < recentForStatsFloor {
		recentForStats = recentForStatsFloor
	}

	pool := s.RecentSnapshot(recentForStats)
	now := NowMs()

	globalOverride, _ := s.overrides.GlobalConfig()

	snap := DashboardSnapshot{
		RefreshedAtMs:          now,
		Active:                 s.ActiveSnapshot(),
		GlobalOverride:         globalOverride,
		SessionConfigOverrides: s.overrides.AllSessionConfigOverrides(),
		SessionEffortOverrides: s.overrides.AllSessionEffortOverrides(),
		SessionStats:           s.SessionStatsSnapshot(),
		ConfigHealth:           s.ListHealthChecks(service),
		HealthCheck:            s.HealthCheckState(service),
		UsageRollup:            s.UsageRollupSnapshot(service),
		Stats5m:                ComputeWindowStats(pool, now, 5*60*1000, nil),
		Stats1h:                ComputeWindowStats(pool, now, 60*60*1000, nil),
	}

	if len(pool) > recentLimit {
		snap.Recent = pool[len(pool)-recentLimit:]
	} else {
		snap.Recent = pool
	}
	return snap
}
