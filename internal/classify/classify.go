// Package classify inspects an upstream HTTP response (or transport error)
// and assigns it one of a small set of classes used by the retry planner
// and load balancer to decide whether a failure is transient: a pure
// function over a response, returning a Result (class label, reason, and
// cf-ray).
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the label attached to a failed attempt; it drives both retry
// eligibility (config.RetryConfig.OnClass/NeverClass) and cooldown duration
// selection in the load balancer.
type Class string

const (
	ClassNone                   Class = ""
	ClassCloudflareTimeout      Class = "cloudflare_timeout"
	ClassCloudflareChallenge    Class = "cloudflare_challenge"
	ClassClientErrorNonRetry    Class = "client_error_non_retryable"
	ClassUpstreamTransportError Class = "upstream_transport_error"
)

// Result is the outcome of classifying one upstream response.
type Result struct {
	Class   Class
	Reason  string
	CFRay   string
}

var nonRetryableErrorTypes = map[string]bool{
	"invalid_request_error":    true,
	"validation_error":         true,
	"bad_request":              true,
	"context_limit":            true,
	"context_length_exceeded":  true,
	"token_limit":              true,
	"content_filter":           true,
}

var nonRetryableStatuses = map[int]bool{400: true, 409: true, 413: true, 415: true, 422: true}

// Response classifies a completed upstream HTTP response. body may be empty
// (for head-only SSE checks); headers and status drive the Cloudflare
// detection, body content drives the client-error heuristics.
func Response(statusCode int, headers http.Header, body []byte) Result {
	cfRay := headers.Get("cf-ray")
	server := strings.ToLower(headers.Get("server"))
	looksCF := strings.Contains(server, "cloudflare") || cfRay != ""

	if looksCF && statusCode == 524 {
		return Result{
			Class:  ClassCloudflareTimeout,
			Reason: "cloudflare 524: origin did not respond in time; check upstream latency, SSE first-byte timing, and WAF rules",
			CFRay:  cfRay,
		}
	}

	if looksLikeCloudflareChallengeHTML(headers, body) {
		return Result{
			Class:  ClassCloudflareChallenge,
			Reason: "cloudflare/WAF challenge page detected (text/html + cdn-cgi/challenge markers); not an API JSON error",
			CFRay:  cfRay,
		}
	}

	// Conservative 4xx classification: only a known subset of obvious
	// client-side mistakes is marked non-retryable. 401/403/404 are often
	// provider/configuration-specific and stay eligible for failover.
	if nonRetryableStatuses[statusCode] && looksLikeJSON(headers) && len(body) > 0 {
		var v map[string]any
		if err := json.Unmarshal(body, &v); err == nil {
			if t := extractErrorType(v); t != "" && nonRetryableErrorTypes[strings.ToLower(t)] {
				return Result{
					Class:  ClassClientErrorNonRetry,
					Reason: "request parameter/limit error (non-transient); fix the request rather than retrying or failing over",
					CFRay:  cfRay,
				}
			}
			if msg := extractErrorMessage(v); msg != "" && looksNonRetryableMessage(strings.ToLower(msg)) {
				return Result{
					Class:  ClassClientErrorNonRetry,
					Reason: "request format/parameter error (non-transient); fix the request rather than retrying or failing over",
					CFRay:  cfRay,
				}
			}
		}
	}

	return Result{CFRay: cfRay}
}

// Transport classifies a network/transport-level failure (no HTTP response
// was received at all).
func Transport(err error) Result {
	if err == nil {
		return Result{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Result{Class: ClassUpstreamTransportError, Reason: "request context ended before a response was received"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Result{Class: ClassUpstreamTransportError, Reason: "dns resolution failed"}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return Result{Class: ClassUpstreamTransportError, Reason: "connection refused"}
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			return Result{Class: ClassUpstreamTransportError, Reason: "connection reset"}
		case errors.Is(opErr.Err, syscall.ENETUNREACH), errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return Result{Class: ClassUpstreamTransportError, Reason: "network/host unreachable"}
		}
		return Result{Class: ClassUpstreamTransportError, Reason: "network operation error"}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "i/o timeout") {
		return Result{Class: ClassUpstreamTransportError, Reason: "transport timeout"}
	}
	return Result{Class: ClassUpstreamTransportError, Reason: "transport error"}
}

func looksLikeCloudflareChallengeHTML(headers http.Header, body []byte) bool {
	ct := strings.ToLower(headers.Get("content-type"))
	if !strings.HasPrefix(ct, "text/html") {
		return false
	}
	return bytes.Contains(body, []byte("__CF$cv$params")) ||
		bytes.Contains(body, []byte("/cdn-cgi/")) ||
		bytes.Contains(body, []byte("challenge-platform")) ||
		bytes.Contains(body, []byte("cf-chl-"))
}

func looksLikeJSON(headers http.Header) bool {
	ct := strings.ToLower(headers.Get("content-type"))
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func extractErrorType(v map[string]any) string {
	if errObj, ok := v["error"].(map[string]any); ok {
		if t, ok := errObj["type"].(string); ok && t != "" {
			return t
		}
		if c, ok := errObj["code"].(string); ok && c != "" {
			return c
		}
	}
	// Anthropic-style: { "type": "error", "error": { "type": "...", ... } }
	if t, ok := v["type"].(string); ok && t == "error" {
		if errObj, ok := v["error"].(map[string]any); ok {
			if et, ok := errObj["type"].(string); ok && et != "" {
				return et
			}
		}
	}
	return ""
}

func extractErrorMessage(v map[string]any) string {
	if errObj, ok := v["error"].(map[string]any); ok {
		if m, ok := errObj["message"].(string); ok && m != "" {
			return m
		}
		if m, ok := errObj["error"].(string); ok && m != "" {
			return m
		}
	}
	if m, ok := v["message"].(string); ok {
		return m
	}
	return ""
}

func looksNonRetryableMessage(m string) bool {
	return (strings.Contains(m, "tool_use") && strings.Contains(m, "must be unique")) ||
		strings.Contains(m, "all messages must have non-empty content") ||
		(strings.Contains(m, "string should match pattern") && strings.Contains(m, "srvtoolu_")) ||
		(strings.Contains(m, "unexpected") && strings.Contains(m, "tool_use_id")) ||
		(strings.Contains(m, "json") && (strings.Contains(m, "parse") || strings.Contains(m, "invalid"))) ||
		(strings.Contains(m, "schema") && strings.Contains(m, "validation"))
}
