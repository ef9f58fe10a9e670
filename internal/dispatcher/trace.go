package dispatcher

import (
	"fmt"
	"strings"

	"github.com/vitaliisemenov/airelay/internal/classify"
)

// AttemptTrace is one line of the per-request observability chain: which
// upstream was tried, at what index, and what happened. Exactly one of
// StatusCode/TransportErr/BodyReadErr/TargetBuildErr/SkippedModel is set per
// real attempt.
type AttemptTrace struct {
	ConfigName string
	BaseURL    string
	Index      int

	StatusCode *int
	Class      classify.Class

	TransportErr   string
	BodyReadErr    string
	TargetBuildErr string
	SkippedModel   string

	ModelNote string
}

// String renders the trace line in the fixed
// "<cfg>:<base_url> (idx=<i>) [...] model=<note>" shape stored verbatim on
// FinishedRequest.retry.upstream_chain.
func (t AttemptTrace) String() string {
	var parts []string
	if t.StatusCode != nil {
		part := fmt.Sprintf("status=%d", *t.StatusCode)
		if t.Class != classify.ClassNone {
			part += " class=" + string(t.Class)
		}
		parts = append(parts, part)
	}
	if t.TransportErr != "" {
		parts = append(parts, "transport_error="+t.TransportErr)
	}
	if t.BodyReadErr != "" {
		parts = append(parts, "body_read_error="+t.BodyReadErr)
	}
	if t.TargetBuildErr != "" {
		parts = append(parts, "target_build_error="+t.TargetBuildErr)
	}
	if t.SkippedModel != "" {
		parts = append(parts, "skipped_unsupported_model="+t.SkippedModel)
	}

	out := fmt.Sprintf("%s:%s (idx=%d) [%s]", t.ConfigName, t.BaseURL, t.Index, strings.Join(parts, " | "))
	if t.ModelNote != "" {
		out += " model=" + t.ModelNote
	}
	return out
}

// avoidedAllUpstreamsTrace is the marker line recorded when every candidate
// upstream in a config was in cooldown/avoid and none could be selected —
// not a real attempt, trimmed by retry.InfoForChain before counting.
func avoidedAllUpstreamsTrace(cfgName string) string {
	return fmt.Sprintf("all_upstreams_avoided config=%s", cfgName)
}
