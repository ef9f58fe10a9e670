// Package retry computes backoff delays and retry eligibility for the two
// independent retry layers the dispatcher runs: an upstream-layer budget
// (retry the same upstream a couple of times) and a provider-layer budget
// (fail over to a different upstream/config). It is a config struct plus
// pure helper functions operating on it, with context-respecting sleeps.
package retry

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/airelay/internal/classify"
	"github.com/vitaliisemenov/airelay/internal/config"
)

// StatusRange is an inclusive [Start,End] HTTP status range.
type StatusRange struct {
	Start int
	End   int
}

// ParseStatusRanges parses a comma-separated list like "429,500-599" into
// StatusRange entries, tolerantly skipping malformed tokens rather than
// erroring.
func ParseStatusRanges(spec string) []StatusRange {
	var out []StatusRange
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if a, b, ok := strings.Cut(raw, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(a))
			end, err2 := strconv.Atoi(strings.TrimSpace(b))
			if err1 != nil || err2 != nil {
				continue
			}
			if start > end {
				start, end = end, start
			}
			out = append(out, StatusRange{Start: start, End: end})
			continue
		}
		code, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out = append(out, StatusRange{Start: code, End: code})
	}
	return out
}

// Options is the resolved, clamped set of knobs one retry layer uses. Build
// one via NewUpstreamOptions/NewProviderOptions from a config.RetryConfig
// snapshot; callers never mutate a RetryConfig's raw fields directly.
type Options struct {
	MaxAttempts  int
	BaseBackoffMs int64
	MaxBackoffMs  int64
	JitterMs      int64

	StatusRanges []StatusRange
	ErrorClasses map[classify.Class]bool
	Strategy     string

	CloudflareChallengeCooldownSecs int64
	CloudflareTimeoutCooldownSecs   int64
	TransportCooldownSecs           int64
	CooldownBackoffFactor           int64
	CooldownBackoffMaxSecs          int64

	NeverStatusRanges []StatusRange
	NeverClasses      map[classify.Class]bool
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func buildOptions(budget config.RetryBudget, top config.RetryConfig) Options {
	classes := map[classify.Class]bool{}
	for _, c := range budget.OnClass {
		classes[classify.Class(c)] = true
	}
	never := map[classify.Class]bool{}
	for _, c := range top.NeverClass {
		never[classify.Class(c)] = true
	}
	return Options{
		MaxAttempts:   clampInt(budget.MaxAttempts, 1, 8),
		BaseBackoffMs: budget.BaseBackoffMs,
		MaxBackoffMs:  budget.MaxBackoffMs,
		JitterMs:      budget.JitterMs,

		StatusRanges: ParseStatusRanges(budget.OnStatus),
		ErrorClasses: classes,
		Strategy:     budget.Strategy,

		CloudflareChallengeCooldownSecs: top.CloudflareChallengeCooldownSecs,
		CloudflareTimeoutCooldownSecs:   top.CloudflareTimeoutCooldownSecs,
		TransportCooldownSecs:           top.TransportCooldownSecs,
		CooldownBackoffFactor:           clampI64(top.CooldownBackoffFactor, 1, 16),
		CooldownBackoffMaxSecs:          clampI64(top.CooldownBackoffMaxSecs, 0, 86_400),

		NeverStatusRanges: ParseStatusRanges(top.NeverStatus),
		NeverClasses:      never,
	}
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewUpstreamOptions builds the upstream-layer (same upstream, different
// attempt) retry options from a config snapshot.
func NewUpstreamOptions(cfg config.RetryConfig) Options {
	return buildOptions(cfg.Upstream, cfg)
}

// NewProviderOptions builds the provider-layer (failover across upstreams)
// retry options from a config snapshot.
func NewProviderOptions(cfg config.RetryConfig) Options {
	return buildOptions(cfg.Provider, cfg)
}

// ShouldRetryStatus reports whether statusCode falls in one of opt's retry
// ranges and is not explicitly excluded by NeverStatusRanges.
func (opt Options) ShouldRetryStatus(statusCode int) bool {
	for _, r := range opt.NeverStatusRanges {
		if statusCode >= r.Start && statusCode <= r.End {
			return false
		}
	}
	for _, r := range opt.StatusRanges {
		if statusCode >= r.Start && statusCode <= r.End {
			return true
		}
	}
	return false
}

// ShouldRetryClass reports whether a classify.Class should trigger a retry.
func (opt Options) ShouldRetryClass(class classify.Class) bool {
	if class == classify.ClassNone {
		return false
	}
	if opt.NeverClasses[class] {
		return false
	}
	return opt.ErrorClasses[class]
}

// ShouldNeverRetry reports whether statusCode or class is in this layer's
// guardrail sets, meaning the response must be surfaced verbatim rather than
// retried or failed over, regardless of what ShouldRetryStatus/Class say.
func (opt Options) ShouldNeverRetry(statusCode int, class classify.Class) bool {
	for _, r := range opt.NeverStatusRanges {
		if statusCode >= r.Start && statusCode <= r.End {
			return true
		}
	}
	if class != classify.ClassNone && opt.NeverClasses[class] {
		return true
	}
	return false
}

// CooldownFor returns how long an upstream should be avoided after a
// failure classified as class, or 0 if the class carries no cooldown.
func (opt Options) CooldownFor(class classify.Class) time.Duration {
	switch class {
	case classify.ClassCloudflareChallenge:
		return time.Duration(opt.CloudflareChallengeCooldownSecs) * time.Second
	case classify.ClassCloudflareTimeout:
		return time.Duration(opt.CloudflareTimeoutCooldownSecs) * time.Second
	case classify.ClassUpstreamTransportError:
		return time.Duration(opt.TransportCooldownSecs) * time.Second
	default:
		return 0
	}
}

func retryAfterMs(headers http.Header, opt Options) (int64, bool) {
	raw := strings.TrimSpace(headers.Get("retry-after"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	ms := seconds * 1000
	cap := opt.MaxBackoffMs
	if opt.BaseBackoffMs > cap {
		cap = opt.BaseBackoffMs
	}
	if ms > cap {
		ms = cap
	}
	return ms, true
}

func jitter(jitterMs int64) int64 {
	if jitterMs <= 0 {
		return 0
	}
	return rand.Int63n(jitterMs + 1)
}

// backoffDelay computes the exponential backoff duration for attemptIndex
// (0-based), capped at MaxBackoffMs and with up to JitterMs of jitter added.
func (opt Options) backoffDelay(attemptIndex int) time.Duration {
	if opt.BaseBackoffMs == 0 {
		return 0
	}
	shift := attemptIndex
	if shift > 20 {
		shift = 20
	}
	pow := int64(1) << uint(shift)
	base := opt.BaseBackoffMs * pow
	cap := opt.MaxBackoffMs
	if opt.BaseBackoffMs > cap {
		cap = opt.BaseBackoffMs
	}
	if base > cap {
		base = cap
	}
	return time.Duration(base+jitter(opt.JitterMs)) * time.Millisecond
}

// Sleep waits out the backoff delay for attemptIndex, preferring the
// upstream's Retry-After header (if present and parseable) over the
// computed exponential delay. Returns ctx.Err() if ctx ends first.
func (opt Options) Sleep(ctx context.Context, attemptIndex int, respHeaders http.Header) error {
	var delay time.Duration
	haveRetryAfter := false
	if respHeaders != nil {
		if ms, ok := retryAfterMs(respHeaders, opt); ok {
			ms += jitter(opt.JitterMs)
			cap := opt.MaxBackoffMs
			if opt.BaseBackoffMs > cap {
				cap = opt.BaseBackoffMs
			}
			if ms > cap {
				ms = cap
			}
			delay = time.Duration(ms) * time.Millisecond
			haveRetryAfter = true
		}
	}
	if !haveRetryAfter {
		delay = opt.backoffDelay(attemptIndex)
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info is the attempt-chain summary attached to a response once more than
// one upstream attempt was made, for observability in the control API.
type Info struct {
	Attempts      int
	UpstreamChain []string
}

const avoidedMarkerPrefix = "all_upstreams_avoided"

// InfoForChain builds an Info from a recorded chain of per-attempt log
// lines, trimming a trailing "all_upstreams_avoided" marker (which records
// that every remaining candidate was in cooldown, not a real attempt) before
// counting attempts. Returns nil if at most one real attempt happened.
func InfoForChain(chain []string) *Info {
	attempts := len(chain)
	if attempts > 0 && strings.HasPrefix(chain[attempts-1], avoidedMarkerPrefix) {
		attempts--
	}
	if attempts <= 1 {
		return nil
	}
	return &Info{Attempts: attempts, UpstreamChain: append([]string(nil), chain...)}
}
