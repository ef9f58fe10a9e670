package loadbalancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectAvoiding_PrefersLastGoodIndex(t *testing.T) {
	s := New(3)
	s.RecordResultWithBackoff(2, true)

	idx, ok := s.SelectAvoiding(nil)
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestSelectAvoiding_PrefersSmallestFailureCount(t *testing.T) {
	s := New(3)
	s.RecordResultWithBackoff(0, false)
	s.RecordResultWithBackoff(0, false)
	s.RecordResultWithBackoff(1, false)

	idx, ok := s.SelectAvoiding(nil)
	require.True(t, ok)
	assert.Equal(t, 2, idx) // index 2 has 0 failures
}

func TestSelectAvoiding_TiesBrokenBySmallestIndex(t *testing.T) {
	s := New(3)
	idx, ok := s.SelectAvoiding(nil)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestSelectAvoiding_SkipsAvoidSetAndCooldown(t *testing.T) {
	s := New(3)
	s.PenalizeWithBackoff(0, 60, 2, 3600, "test_cooldown")

	idx, ok := s.SelectAvoiding(map[int]bool{1: true})
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestSelectAvoiding_NoneEligible(t *testing.T) {
	s := New(2)
	s.PenalizeWithBackoff(0, 60, 2, 3600, "x")
	s.PenalizeWithBackoff(1, 60, 2, 3600, "x")

	_, ok := s.SelectAvoiding(nil)
	assert.False(t, ok)
}

func TestSelectAvoiding_SkipsUsageExhausted(t *testing.T) {
	s := New(2)
	s.MarkUsageExhausted(0, true)

	idx, ok := s.SelectAvoiding(nil)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestRecordResultWithBackoff_SuccessClearsFailuresAndCooldown(t *testing.T) {
	s := New(2)
	s.PenalizeWithBackoff(0, 60, 2, 3600, "x")
	s.RecordResultWithBackoff(0, false)

	s.RecordResultWithBackoff(0, true)

	snap := s.Snapshot()
	assert.Equal(t, 0, snap[0].FailureCount)
	assert.Nil(t, snap[0].CooldownUntil)
	assert.True(t, snap[0].IsLastGood)
}

func TestPenalizeWithBackoff_ExponentialGrowthCappedAtMax(t *testing.T) {
	s := New(1)
	base := int64(60)
	factor := int64(2)
	maxSecs := int64(200)

	s.PenalizeWithBackoff(0, base, factor, maxSecs, "first")
	until1 := *s.Snapshot()[0].CooldownUntil
	assert.WithinDuration(t, time.Now().Add(60*time.Second), until1, 2*time.Second)

	s.PenalizeWithBackoff(0, base, factor, maxSecs, "second")
	until2 := *s.Snapshot()[0].CooldownUntil
	assert.WithinDuration(t, time.Now().Add(120*time.Second), until2, 2*time.Second)

	s.PenalizeWithBackoff(0, base, factor, maxSecs, "third")
	until3 := *s.Snapshot()[0].CooldownUntil
	assert.WithinDuration(t, time.Now().Add(200*time.Second), until3, 2*time.Second)
}

func TestRegistry_StateForCreatesAndResizes(t *testing.T) {
	r := NewRegistry()
	s1 := r.StateFor("cfg-a", 2)
	assert.Len(t, s1.Snapshot(), 2)

	s2 := r.StateFor("cfg-a", 4)
	assert.Same(t, s1, s2)
	assert.Len(t, s2.Snapshot(), 4)
}

func TestSelectAvoiding_NeverMutatesState(t *testing.T) {
	s := New(2)
	before := s.Snapshot()

	_, _ = s.SelectAvoiding(map[int]bool{0: true})

	after := s.Snapshot()
	assert.Equal(t, before, after)
}
