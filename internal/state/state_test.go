package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAndFinishRequest_PairedByID(t *testing.T) {
	s := New()
	id := s.BeginRequest(ActiveRequest{Service: "codex", Method: "POST", Path: "/v1/responses"})
	assert.NotZero(t, id)

	active := s.ActiveSnapshot()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	s.FinishRequest(FinishedRequest{ActiveRequest: ActiveRequest{ID: id}, StatusCode: 200, DurationMs: 10, EndedAtMs: NowMs()})

	assert.Empty(t, s.ActiveSnapshot())
	recent := s.RecentSnapshot(10)
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].ID)
}

func TestBeginRequest_IDsAreMonotonic(t *testing.T) {
	s := New()
	id1 := s.BeginRequest(ActiveRequest{})
	id2 := s.BeginRequest(ActiveRequest{})
	assert.Greater(t, id2, id1)
}

func TestUpdateRequestRoute(t *testing.T) {
	s := New()
	id := s.BeginRequest(ActiveRequest{})
	s.UpdateRequestRoute(id, "cfg-a", "openai", "https://api.example.com/v1")

	active := s.ActiveSnapshot()
	require.Len(t, active, 1)
	assert.Equal(t, "cfg-a", active[0].ConfigName)
	assert.Equal(t, "openai", active[0].ProviderID)
}

func TestRecentSnapshot_RingBufferEvictsOldest(t *testing.T) {
	s := New()
	s.recentCap = 3

	for i := 0; i < 5; i++ {
		s.FinishRequest(FinishedRequest{ActiveRequest: ActiveRequest{ID: uint64(i)}, EndedAtMs: int64(i)})
	}

	recent := s.RecentSnapshot(10)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(2), recent[0].ID)
	assert.Equal(t, uint64(4), recent[2].ID)
}

func TestFinishRequest_UpdatesSessionStatsAndRollups(t *testing.T) {
	s := New()
	usage := Usage{Input: 10, Output: 20, Total: 30}
	s.FinishRequest(FinishedRequest{
		ActiveRequest: ActiveRequest{ID: 1, Service: "codex", SessionID: "sess-1", ConfigName: "cfg-a", ProviderID: "openai"},
		StatusCode:    200,
		DurationMs:    50,
		EndedAtMs:     NowMs(),
		Usage:         &usage,
	})

	stats := s.SessionStatsSnapshot()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].TurnsTotal)
	assert.Equal(t, int64(1), stats[0].TurnsWithUsage)
	assert.Equal(t, int64(30), stats[0].TotalUsage.Total)

	rollup := s.UsageRollupSnapshot("codex")
	assert.Equal(t, int64(1), rollup.SinceStart.RequestsTotal)
	assert.Equal(t, int64(30), rollup.SinceStart.Usage.Total)
	require.Len(t, rollup.ByConfig, 1)
	assert.Equal(t, "cfg-a", rollup.ByConfig[0].Name)
}

func TestOverrides_GlobalConfig(t *testing.T) {
	o := NewOverrides()
	_, ok := o.GlobalConfig()
	assert.False(t, ok)

	o.SetGlobalConfig("cfg-a")
	name, ok := o.GlobalConfig()
	assert.True(t, ok)
	assert.Equal(t, "cfg-a", name)

	o.ClearGlobalConfig()
	_, ok = o.GlobalConfig()
	assert.False(t, ok)
}

func TestOverrides_SessionConfigAndEffort(t *testing.T) {
	o := NewOverrides()
	o.SetSessionConfig("sess-1", "cfg-a")
	o.SetSessionEffort("sess-1", "high")

	cfg, ok := o.SessionConfig("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "cfg-a", cfg)

	effort, ok := o.SessionEffort("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "high", effort)

	o.ClearSessionConfig("sess-1")
	_, ok = o.SessionConfig("sess-1")
	assert.False(t, ok)
}

func TestOverrides_ConfigMetaEnabledAndLevel(t *testing.T) {
	o := NewOverrides()
	meta := o.ConfigMeta("codex", "cfg-a")
	assert.True(t, meta.EffectiveEnabled(true))
	assert.Equal(t, 5, meta.EffectiveLevel(5))

	o.SetConfigEnabledOverride("codex", "cfg-a", false)
	meta = o.ConfigMeta("codex", "cfg-a")
	assert.False(t, meta.EffectiveEnabled(true))

	o.ClearConfigEnabledOverride("codex", "cfg-a")
	meta = o.ConfigMeta("codex", "cfg-a")
	assert.True(t, meta.EffectiveEnabled(true))
}

func TestComputeWindowStats_PercentilesAndTopKeys(t *testing.T) {
	now := int64(1_000_000)
	recent := []FinishedRequest{
		{ActiveRequest: ActiveRequest{ProviderID: "openai"}, StatusCode: 200, DurationMs: 100, EndedAtMs: now - 100},
		{ActiveRequest: ActiveRequest{ProviderID: "openai"}, StatusCode: 200, DurationMs: 200, EndedAtMs: now - 90},
		{ActiveRequest: ActiveRequest{ProviderID: "anthropic"}, StatusCode: 200, DurationMs: 300, EndedAtMs: now - 80},
		{StatusCode: 429, DurationMs: 10, EndedAtMs: now - 70},
		{StatusCode: 503, DurationMs: 10, EndedAtMs: now - 60, Retry: &RetryInfo{Attempts: 2}},
		{StatusCode: 404, DurationMs: 10, EndedAtMs: now - 500_000}, // outside window
	}

	stats := ComputeWindowStats(recent, now, 1000, nil)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.OK2xx)
	assert.Equal(t, 1, stats.Err429)
	assert.Equal(t, 1, stats.Err5xx)
	require.NotNil(t, stats.P95Ms)
	assert.Equal(t, int64(300), *stats.P95Ms)
	require.NotNil(t, stats.TopProvider)
	assert.Equal(t, "openai", stats.TopProvider.Name)
	require.NotNil(t, stats.RetryRate)
	assert.InDelta(t, 0.2, *stats.RetryRate, 0.001)
}

func TestBuildDashboardSnapshot_ClampsRecentLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.FinishRequest(FinishedRequest{ActiveRequest: ActiveRequest{ID: uint64(i), Service: "codex"}, StatusCode: 200, EndedAtMs: NowMs()})
	}

	snap := s.BuildDashboardSnapshot("codex", 2)
	assert.Len(t, snap.Recent, 2)
	assert.Equal(t, 5, snap.Stats5m.Total)
}
