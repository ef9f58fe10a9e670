package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/airelay/internal/classify"
	"github.com/vitaliisemenov/airelay/internal/config"
)

func TestParseStatusRanges(t *testing.T) {
	got := ParseStatusRanges("429,500-599")
	require.Len(t, got, 2)
	assert.Equal(t, StatusRange{429, 429}, got[0])
	assert.Equal(t, StatusRange{500, 599}, got[1])
}

func TestParseStatusRanges_SkipsMalformedTokens(t *testing.T) {
	got := ParseStatusRanges("429,, not-a-number ,500-599")
	require.Len(t, got, 2)
	assert.Equal(t, StatusRange{429, 429}, got[0])
	assert.Equal(t, StatusRange{500, 599}, got[1])
}

func TestNewProviderOptions_ClampsCooldownFields(t *testing.T) {
	cfg := config.DefaultRetryConfig()
	cfg.CooldownBackoffFactor = 999
	cfg.CooldownBackoffMaxSecs = -5

	opt := NewProviderOptions(cfg)
	assert.Equal(t, int64(16), opt.CooldownBackoffFactor)
	assert.Equal(t, int64(0), opt.CooldownBackoffMaxSecs)
}

func TestOptions_ShouldRetryStatus(t *testing.T) {
	opt := NewUpstreamOptions(config.DefaultRetryConfig())
	assert.True(t, opt.ShouldRetryStatus(429))
	assert.True(t, opt.ShouldRetryStatus(502))
	assert.False(t, opt.ShouldRetryStatus(200))
	assert.False(t, opt.ShouldRetryStatus(400)) // never_status wins even if on_status matched
}

func TestOptions_ShouldRetryClass(t *testing.T) {
	opt := NewProviderOptions(config.DefaultRetryConfig())
	assert.True(t, opt.ShouldRetryClass(classify.ClassCloudflareChallenge))
	assert.True(t, opt.ShouldRetryClass(classify.ClassUpstreamTransportError))
	assert.False(t, opt.ShouldRetryClass(classify.ClassClientErrorNonRetry))
	assert.False(t, opt.ShouldRetryClass(classify.ClassNone))
}

func TestOptions_CooldownFor(t *testing.T) {
	opt := NewProviderOptions(config.DefaultRetryConfig())
	assert.Equal(t, 300*time.Second, opt.CooldownFor(classify.ClassCloudflareChallenge))
	assert.Equal(t, 120*time.Second, opt.CooldownFor(classify.ClassCloudflareTimeout))
	assert.Equal(t, 30*time.Second, opt.CooldownFor(classify.ClassUpstreamTransportError))
	assert.Equal(t, time.Duration(0), opt.CooldownFor(classify.ClassClientErrorNonRetry))
}

func TestOptions_Sleep_HonorsRetryAfterHeader(t *testing.T) {
	opt := NewUpstreamOptions(config.DefaultRetryConfig())
	headers := http.Header{"Retry-After": {"1"}}

	start := time.Now()
	err := opt.Sleep(context.Background(), 0, headers)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestOptions_Sleep_RespectsContextCancellation(t *testing.T) {
	opt := NewUpstreamOptions(config.DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := opt.Sleep(ctx, 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfoForChain(t *testing.T) {
	chain := []string{
		"https://a.example/v1 (idx=0) status=502 class=-",
		"https://b.example/v1 (idx=1) status=502 class=-",
		"all_upstreams_avoided total=2",
	}
	info := InfoForChain(chain)
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Attempts)
	assert.Equal(t, chain, info.UpstreamChain)
}

func TestInfoForChain_NilWhenOnlyOneRealAttempt(t *testing.T) {
	chain := []string{
		"https://a.example/v1 (idx=0) status=502 class=-",
		"all_upstreams_avoided total=1",
	}
	assert.Nil(t, InfoForChain(chain))
}
