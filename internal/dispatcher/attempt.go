package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vitaliisemenov/airelay/internal/classify"
	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/loadbalancer"
	"github.com/vitaliisemenov/airelay/internal/metrics"
	"github.com/vitaliisemenov/airelay/internal/modelmatch"
	"github.com/vitaliisemenov/airelay/internal/retry"
	"github.com/vitaliisemenov/airelay/internal/sse"
	"github.com/vitaliisemenov/airelay/internal/state"
)

// maxResponseBodyBytes bounds a buffered (non-SSE) upstream response read;
// SSE responses are streamed without this limit.
const maxResponseBodyBytes = 20 << 20

// requestRun holds everything the two-layer loop threads through one
// inbound request: the immutable per-request inputs plus the mutable
// avoid-set/tried-configs/chain bookkeeping that must persist across
// provider and upstream attempts.
type requestRun struct {
	d   *Dispatcher
	ctx context.Context
	w   http.ResponseWriter

	httpMethod    string
	inboundPath   string
	inboundQuery  string
	clientHeaders http.Header
	wantsSSE      bool

	cfg       *config.ProxyConfig
	requestID uint64
	start     time.Time

	model   string
	bodyObj map[string]any
	rawBody []byte

	avoid        map[string]map[int]bool
	triedConfigs map[string]bool
}

type outcomeKind int

const (
	outcomeHandled outcomeKind = iota
	outcomeFailoverUpstream
)

type finalizeInfo struct {
	statusCode int
	headers    http.Header
	body       []byte
}

type attemptOutcome struct {
	kind    outcomeKind
	lastErr *finalizeInfo
}

func nextCandidate(candidates []*config.ServiceConfig, tried map[string]bool) *config.ServiceConfig {
	for _, c := range candidates {
		if !tried[c.Name] {
			return c
		}
	}
	return nil
}

// run drives the outer provider-layer loop and, within it, the upstream
// selection loop, per the two-layer retry/failover model.
func (rr *requestRun) run(candidates []*config.ServiceConfig) {
	providerOpt := retry.NewProviderOptions(rr.cfg.Retry)
	upstreamOpt := retry.NewUpstreamOptions(rr.cfg.Retry)

	var chain []string
	var lastErr *finalizeInfo
	noUpstreamSupportsModel := false

	for providerAttempt := 0; providerAttempt < providerOpt.MaxAttempts; providerAttempt++ {
		lb := nextCandidate(candidates, rr.triedConfigs)
		if lb == nil {
			break
		}

		lbState := rr.d.lbRegistry.StateFor(lb.Name, len(lb.Upstreams))
		cfgAvoid := rr.avoid[lb.Name]
		if cfgAvoid == nil {
			cfgAvoid = map[int]bool{}
			rr.avoid[lb.Name] = cfgAvoid
		}

		anySupportsModel := false

	innerLoop:
		for {
			if len(cfgAvoid) >= len(lb.Upstreams) {
				break
			}

			var idx int
			var ok bool
			if len(candidates) > 1 {
				idx, ok = lbState.SelectAvoidingStrict(cfgAvoid)
			} else {
				idx, ok = lbState.SelectAvoiding(cfgAvoid)
			}
			if !ok {
				chain = append(chain, avoidedAllUpstreamsTrace(lb.Name))
				break
			}
			upstream := &lb.Upstreams[idx]

			outboundModel := rr.model
			modelNote := ""
			if rr.model != "" {
				if !modelmatch.IsSupported(upstream.SupportedModels, upstream.ModelMapping, rr.model) {
					cfgAvoid[idx] = true
					chain = append(chain, AttemptTrace{ConfigName: lb.Name, BaseURL: upstream.BaseURL, Index: idx, SkippedModel: rr.model}.String())
					continue innerLoop
				}
				anySupportsModel = true
				if mapped, didMap := modelmatch.ApplyMapping(upstream.ModelMapping, rr.model); didMap {
					modelNote = rr.model + "->" + mapped
					outboundModel = mapped
				}
			} else {
				anySupportsModel = true
			}

			outboundBody := rr.rawBody
			if rr.bodyObj != nil && outboundModel != rr.model {
				clone := cloneShallow(rr.bodyObj)
				SpliceModel(clone, outboundModel)
				if b, err := MarshalJSONBody(clone); err == nil {
					outboundBody = b
				}
			}

			targetURL, err := BuildTargetURL(upstream.BaseURL, upstream.BasePath(), rr.inboundPath, rr.inboundQuery)
			if err != nil {
				cfgAvoid[idx] = true
				chain = append(chain, AttemptTrace{ConfigName: lb.Name, BaseURL: upstream.BaseURL, Index: idx, TargetBuildErr: err.Error()}.String())
				break innerLoop
			}

			rr.d.store.UpdateRequestRoute(rr.requestID, lb.Name, upstream.ProviderID(), upstream.BaseURL)

			headers := rr.buildAttemptHeaders(upstream)
			outcome := rr.attemptUpstream(upstreamOpt, providerOpt, lb.Name, idx, upstream, targetURL, headers, outboundBody, modelNote, lbState, &chain)

			if outcome.kind == outcomeHandled {
				return
			}

			cfgAvoid[idx] = true
			if outcome.lastErr != nil {
				lastErr = outcome.lastErr
			}
			continue innerLoop
		}

		rr.triedConfigs[lb.Name] = true
		if rr.model != "" && !anySupportsModel {
			noUpstreamSupportsModel = true
		}
		if providerOpt.BaseBackoffMs > 0 {
			_ = providerOpt.Sleep(rr.ctx, providerAttempt, nil)
		}
	}

	if lastErr != nil {
		rr.writeAndFinalize(lastErr.statusCode, lastErr.headers, lastErr.body, nil, nil, chain)
		return
	}
	if noUpstreamSupportsModel {
		rr.d.finalizeNoRoute(rr.w, rr.requestID, rr.start, "no_active_upstream_config", http.StatusNotFound, "no upstream supports model "+rr.model)
		return
	}
	rr.d.finalizeNoRoute(rr.w, rr.requestID, rr.start, "retry_exhausted", http.StatusBadGateway, "retry attempts exhausted")
}

func (rr *requestRun) buildAttemptHeaders(upstream *config.UpstreamConfig) http.Header {
	headers := BuildOutboundHeaders(rr.clientHeaders)

	tok := rr.d.authResolver.ResolveAuthToken(rr.cfg.Service, upstream.Auth, rr.clientHeaders.Get("Authorization") != "")
	if tok.Found {
		headers.Set("Authorization", "Bearer "+tok.Value)
	}
	key := rr.d.authResolver.ResolveAPIKey(rr.cfg.Service, upstream.Auth, rr.clientHeaders.Get("X-API-Key") != "")
	if key.Found {
		headers.Set("X-API-Key", key.Value)
	}
	return headers
}

// attemptUpstream runs the innermost upstream-layer attempt loop against one
// selected upstream: send, classify, retry-same-upstream or hand back to the
// caller for provider-layer failover.
func (rr *requestRun) attemptUpstream(upstreamOpt, providerOpt retry.Options, cfgName string, idx int, upstream *config.UpstreamConfig, targetURL string, headers http.Header, body []byte, modelNote string, lbState *loadbalancer.State, chain *[]string) attemptOutcome {
	for upstreamAttempt := 0; upstreamAttempt < upstreamOpt.MaxAttempts; upstreamAttempt++ {
		attemptStart := time.Now()

		req, err := http.NewRequestWithContext(rr.ctx, rr.httpMethod, targetURL, bytes.NewReader(body))
		if err != nil {
			return rr.handleTransportFailure(providerOpt, cfgName, idx, upstream, err, modelNote, lbState, chain)
		}
		req.Header = headers.Clone()

		resp, err := rr.d.httpClient.Do(req)
		if err != nil {
			outcome, retryNow := rr.classifyTransportFailure(upstreamOpt, providerOpt, cfgName, idx, upstream, upstreamAttempt, err, modelNote, lbState, chain)
			if retryNow {
				continue
			}
			return outcome
		}

		is2xx := resp.StatusCode >= 200 && resp.StatusCode < 300
		if is2xx && rr.wantsSSE {
			lbState.RecordResultWithBackoff(idx, true)
			*chain = append(*chain, AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, StatusCode: &resp.StatusCode, ModelNote: modelNote}.String())
			rr.serveSSE(resp, attemptStart, *chain)
			return attemptOutcome{kind: outcomeHandled}
		}

		respBody, readErr := readLimited(resp.Body, maxResponseBodyBytes)
		resp.Body.Close()
		if readErr != nil {
			outcome, retryNow := rr.classifyBodyReadFailure(upstreamOpt, providerOpt, cfgName, idx, upstream, upstreamAttempt, readErr, modelNote, lbState, chain)
			if retryNow {
				continue
			}
			return outcome
		}

		if is2xx {
			lbState.RecordResultWithBackoff(idx, true)
			*chain = append(*chain, AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, StatusCode: &resp.StatusCode, ModelNote: modelNote}.String())
			usage := parseUsageFromBody(respBody)
			rr.writeAndFinalize(resp.StatusCode, FilterResponseHeaders(resp.Header), respBody, usage, nil, *chain)
			return attemptOutcome{kind: outcomeHandled}
		}

		class := classify.Response(resp.StatusCode, resp.Header, respBody)
		statusCode := resp.StatusCode
		trace := AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, StatusCode: &statusCode, Class: class.Class, ModelNote: modelNote}
		*chain = append(*chain, trace.String())

		if upstreamOpt.ShouldNeverRetry(statusCode, class.Class) {
			lbState.RecordResultWithBackoff(idx, false)
			rr.writeAndFinalize(statusCode, FilterResponseHeaders(resp.Header), respBody, nil, nil, *chain)
			return attemptOutcome{kind: outcomeHandled}
		}

		moreUpstreamAttempts := upstreamAttempt+1 < upstreamOpt.MaxAttempts
		if moreUpstreamAttempts && (upstreamOpt.ShouldRetryStatus(statusCode) || upstreamOpt.ShouldRetryClass(class.Class)) {
			_ = upstreamOpt.Sleep(rr.ctx, upstreamAttempt, resp.Header)
			continue
		}

		if providerOpt.ShouldRetryStatus(statusCode) || providerOpt.ShouldRetryClass(class.Class) {
			baseSecs := providerOpt.TransportCooldownSecs
			switch class.Class {
			case classify.ClassCloudflareChallenge:
				baseSecs = providerOpt.CloudflareChallengeCooldownSecs
			case classify.ClassCloudflareTimeout:
				baseSecs = providerOpt.CloudflareTimeoutCooldownSecs
			}
			reason := fmt.Sprintf("status_%d", statusCode)
			lbState.PenalizeWithBackoff(idx, baseSecs, providerOpt.CooldownBackoffFactor, providerOpt.CooldownBackoffMaxSecs, reason)
			lbState.RecordResultWithBackoff(idx, false)
			metrics.UpstreamPenalized.WithLabelValues(cfgName, reason).Inc()
			return attemptOutcome{kind: outcomeFailoverUpstream, lastErr: &finalizeInfo{statusCode: statusCode, headers: FilterResponseHeaders(resp.Header), body: respBody}}
		}

		lbState.RecordResultWithBackoff(idx, false)
		rr.writeAndFinalize(statusCode, FilterResponseHeaders(resp.Header), respBody, nil, nil, *chain)
		return attemptOutcome{kind: outcomeHandled}
	}
	// Exhausted upstream-layer attempts without an explicit return above
	// (can only happen if MaxAttempts <= 0, which buildOptions clamps to
	// at least 1): treat as a failover signal with nothing to surface.
	return attemptOutcome{kind: outcomeFailoverUpstream}
}

// handleTransportFailure handles the (rare) case where the outbound request
// could not even be constructed — a malformed target URL or method. Unlike
// a network transport error, retrying the same upstream would reproduce the
// identical failure deterministically, so this always fails over rather
// than consulting the upstream-layer retry budget.
func (rr *requestRun) handleTransportFailure(providerOpt retry.Options, cfgName string, idx int, upstream *config.UpstreamConfig, err error, modelNote string, lbState *loadbalancer.State, chain *[]string) attemptOutcome {
	*chain = append(*chain, AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, TransportErr: err.Error(), ModelNote: modelNote}.String())
	lbState.PenalizeWithBackoff(idx, providerOpt.TransportCooldownSecs, providerOpt.CooldownBackoffFactor, providerOpt.CooldownBackoffMaxSecs, "upstream_request_build_error")
	lbState.RecordResultWithBackoff(idx, false)
	metrics.UpstreamPenalized.WithLabelValues(cfgName, "upstream_request_build_error").Inc()
	return attemptOutcome{kind: outcomeFailoverUpstream}
}

// classifyTransportFailure decides whether a send/connect failure should
// retry the same upstream (returns retryNow=true, caller continues its
// loop) or hand control back to the provider layer (retryNow=false).
func (rr *requestRun) classifyTransportFailure(upstreamOpt, providerOpt retry.Options, cfgName string, idx int, upstream *config.UpstreamConfig, upstreamAttempt int, err error, modelNote string, lbState *loadbalancer.State, chain *[]string) (attemptOutcome, bool) {
	class := classify.Transport(err)
	*chain = append(*chain, AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, TransportErr: err.Error(), ModelNote: modelNote}.String())

	moreAttempts := upstreamAttempt+1 < upstreamOpt.MaxAttempts
	if moreAttempts && upstreamOpt.ShouldRetryClass(class.Class) {
		_ = upstreamOpt.Sleep(rr.ctx, upstreamAttempt, nil)
		return attemptOutcome{}, true
	}

	lbState.PenalizeWithBackoff(idx, providerOpt.TransportCooldownSecs, providerOpt.CooldownBackoffFactor, providerOpt.CooldownBackoffMaxSecs, "upstream_transport_error")
	lbState.RecordResultWithBackoff(idx, false)
	metrics.UpstreamPenalized.WithLabelValues(cfgName, "upstream_transport_error").Inc()
	return attemptOutcome{kind: outcomeFailoverUpstream}, false
}

func (rr *requestRun) classifyBodyReadFailure(upstreamOpt, providerOpt retry.Options, cfgName string, idx int, upstream *config.UpstreamConfig, upstreamAttempt int, err error, modelNote string, lbState *loadbalancer.State, chain *[]string) (attemptOutcome, bool) {
	*chain = append(*chain, AttemptTrace{ConfigName: cfgName, BaseURL: upstream.BaseURL, Index: idx, BodyReadErr: err.Error(), ModelNote: modelNote}.String())

	moreAttempts := upstreamAttempt+1 < upstreamOpt.MaxAttempts
	if moreAttempts && upstreamOpt.ShouldRetryClass(classify.ClassUpstreamTransportError) {
		_ = upstreamOpt.Sleep(rr.ctx, upstreamAttempt, nil)
		return attemptOutcome{}, true
	}

	lbState.PenalizeWithBackoff(idx, providerOpt.TransportCooldownSecs, providerOpt.CooldownBackoffFactor, providerOpt.CooldownBackoffMaxSecs, "upstream_body_read_error")
	lbState.RecordResultWithBackoff(idx, false)
	metrics.UpstreamPenalized.WithLabelValues(cfgName, "upstream_body_read_error").Inc()
	return attemptOutcome{kind: outcomeFailoverUpstream}, false
}

// serveSSE streams an already-2xx upstream response to the client and
// finalizes the request once the stream ends.
func (rr *requestRun) serveSSE(resp *http.Response, attemptStart time.Time, chain []string) {
	defer resp.Body.Close()

	respHeaders := FilterResponseHeaders(resp.Header)
	for name, values := range respHeaders {
		rr.w.Header()[name] = values
	}
	rr.w.WriteHeader(resp.StatusCode)

	flusher, _ := rr.w.(http.Flusher)
	ttfbMs, tokens := sse.Forward(rr.w, flusher, resp.Body, attemptStart)

	var usage *state.Usage
	if tokens != nil {
		usage = &state.Usage{Input: tokens.Input, Output: tokens.Output, Reasoning: tokens.Reasoning, Total: tokens.Total}
	}
	rr.finalizeWritten(resp.StatusCode, usage, &ttfbMs, chain)
}

// writeAndFinalize writes statusCode/headers/body to the client, then
// records the finished request and audit line.
func (rr *requestRun) writeAndFinalize(statusCode int, headers http.Header, body []byte, usage *state.Usage, ttfbMs *int64, chain []string) {
	for name, values := range headers {
		rr.w.Header()[name] = values
	}
	rr.w.WriteHeader(statusCode)
	if len(body) > 0 {
		_, _ = rr.w.Write(body)
	}
	rr.finalizeWritten(statusCode, usage, ttfbMs, chain)
}

// finalizeWritten records FinishRequest/audit for a response whose bytes
// have already been written to the client (buffered or streamed).
func (rr *requestRun) finalizeWritten(statusCode int, usage *state.Usage, ttfbMs *int64, chain []string) {
	var retryInfo *state.RetryInfo
	if info := retry.InfoForChain(chain); info != nil {
		retryInfo = &state.RetryInfo{Attempts: info.Attempts, UpstreamChain: info.UpstreamChain}
	}

	fr := state.FinishedRequest{
		ActiveRequest: state.ActiveRequest{ID: rr.requestID},
		StatusCode:    statusCode,
		DurationMs:    time.Since(rr.start).Milliseconds(),
		EndedAtMs:     state.NowMs(),
		TTFBMs:        ttfbMs,
		Usage:         usage,
		Retry:         retryInfo,
	}
	for _, active := range rr.d.store.ActiveSnapshot() {
		if active.ID == rr.requestID {
			fr.ActiveRequest = active
			break
		}
	}
	rr.d.store.FinishRequest(fr)
	if rr.d.auditLog != nil {
		rr.d.auditLog.Append(string(rr.cfg.Service), fr)
	}

	service := string(rr.cfg.Service)
	metrics.ProxyRequestsTotal.WithLabelValues(service, fr.ConfigName, metrics.StatusClass(statusCode)).Inc()
	metrics.ProxyRequestDuration.WithLabelValues(service).Observe(time.Since(rr.start).Seconds())
	attempts := 1
	if retryInfo != nil {
		attempts = retryInfo.Attempts
	}
	metrics.ProxyRetryAttempts.WithLabelValues(service).Observe(float64(attempts))
}

func cloneShallow(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

func parseUsageFromBody(body []byte) *state.Usage {
	var env struct {
		Usage struct {
			InputTokens     int64 `json:"input_tokens"`
			OutputTokens    int64 `json:"output_tokens"`
			ReasoningTokens int64 `json:"reasoning_tokens"`
			TotalTokens     int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	if !bytes.Contains(body, []byte(`"usage"`)) {
		return nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	u := env.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.ReasoningTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &state.Usage{Input: u.InputTokens, Output: u.OutputTokens, Reasoning: u.ReasoningTokens, Total: u.TotalTokens}
}
