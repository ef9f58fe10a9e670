package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		headers    http.Header
		body       []byte
		wantClass  Class
	}{
		{
			name:       "cloudflare_524_timeout",
			statusCode: 524,
			headers:    http.Header{"Server": {"cloudflare"}, "Cf-Ray": {"abc123"}},
			wantClass:  ClassCloudflareTimeout,
		},
		{
			name:       "524_without_cloudflare_markers_is_not_classified",
			statusCode: 524,
			headers:    http.Header{},
			wantClass:  ClassNone,
		},
		{
			name:       "cloudflare_challenge_html",
			statusCode: 403,
			headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			body:       []byte(`<html><script>window.__CF$cv$params={}</script></html>`),
			wantClass:  ClassCloudflareChallenge,
		},
		{
			name:       "invalid_request_error_type_non_retryable",
			statusCode: 400,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"error":{"type":"invalid_request_error","message":"bad param"}}`),
			wantClass:  ClassClientErrorNonRetry,
		},
		{
			name:       "context_length_exceeded_non_retryable",
			statusCode: 400,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"error":{"code":"context_length_exceeded"}}`),
			wantClass:  ClassClientErrorNonRetry,
		},
		{
			name:       "anthropic_style_error_envelope",
			statusCode: 422,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"type":"error","error":{"type":"validation_error","message":"oops"}}`),
			wantClass:  ClassClientErrorNonRetry,
		},
		{
			name:       "non_retryable_message_heuristic_tool_use",
			statusCode: 400,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"error":{"message":"tool_use ids must be unique within a turn"}}`),
			wantClass:  ClassClientErrorNonRetry,
		},
		{
			name:       "401_stays_unclassified_for_provider_failover",
			statusCode: 401,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"error":{"type":"invalid_request_error","message":"no key"}}`),
			wantClass:  ClassNone,
		},
		{
			name:       "500_plain_error_unclassified",
			statusCode: 500,
			headers:    http.Header{"Content-Type": {"application/json"}},
			body:       []byte(`{"error":{"message":"internal error"}}`),
			wantClass:  ClassNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Response(tt.statusCode, tt.headers, tt.body)
			assert.Equal(t, tt.wantClass, got.Class)
		})
	}
}

func TestResponse_CapturesCFRay(t *testing.T) {
	got := Response(200, http.Header{"Cf-Ray": {"ray-id-42"}}, nil)
	assert.Equal(t, "ray-id-42", got.CFRay)
	assert.Equal(t, ClassNone, got.Class)
}

func TestTransport(t *testing.T) {
	assert.Equal(t, ClassNone, Transport(nil).Class)

	ctxDone := context.DeadlineExceeded
	got := Transport(ctxDone)
	assert.Equal(t, ClassUpstreamTransportError, got.Class)

	got = Transport(errors.New("read tcp: i/o timeout"))
	assert.Equal(t, ClassUpstreamTransportError, got.Class)
	assert.Contains(t, got.Reason, "timeout")

	var dnsErr *net.DNSError = &net.DNSError{Err: "no such host", Name: "example.invalid"}
	got = Transport(dnsErr)
	assert.Equal(t, ClassUpstreamTransportError, got.Class)
	assert.Contains(t, got.Reason, "dns")
}
