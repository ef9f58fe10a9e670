package dispatcher

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/airelay/internal/authresolve"
	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/loadbalancer"
	"github.com/vitaliisemenov/airelay/internal/state"
)

func newTestDispatcher(t *testing.T, proxyCfg *config.ProxyConfig) (*Dispatcher, *state.Store) {
	t.Helper()
	store := state.New()
	d := New(config.NewRuntimeConfig(proxyCfg), store, loadbalancer.NewRegistry(), authresolve.NewResolver("", ""), nil, nil)
	return d, store
}

func upstreamOf(t *testing.T, srv *httptest.Server, providerID string) config.UpstreamConfig {
	t.Helper()
	u := config.UpstreamConfig{BaseURL: srv.URL, Tags: map[string]string{"provider_id": providerID}}
	require.NoError(t, u.Validate())
	return u
}

func singleConfigProxy(t *testing.T, name string, retry config.RetryConfig, upstreams ...config.UpstreamConfig) *config.ProxyConfig {
	t.Helper()
	cfg := &config.ServiceConfig{Name: name, Enabled: true, Level: 1, Upstreams: upstreams}
	require.NoError(t, cfg.Validate())
	manager := &config.ServiceConfigManager{Active: name, Configs: map[string]*config.ServiceConfig{name: cfg}}
	return &config.ProxyConfig{Service: config.ServiceCodex, Codex: manager, Claude: manager, Retry: retry}
}

func baseRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		Upstream:               config.RetryBudget{MaxAttempts: 1},
		Provider:               config.RetryBudget{MaxAttempts: 3, OnStatus: "500-599"},
		TransportCooldownSecs:  60,
		CooldownBackoffFactor:  2,
		CooldownBackoffMaxSecs: 3600,
		NeverStatus:            "400,413,415,422",
	}
}

// S1 — two upstreams in one config; the first returns 502, the second 200.
// The provider-layer budget retries 500-599 across upstreams within the
// same config, so the client sees u2's body and a two-entry attempt chain.
func TestRun_TransportFailureThenSuccess_S1(t *testing.T) {
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer u1.Close()
	u2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"upstream":2}`))
	}))
	defer u2.Close()

	cfg := singleConfigProxy(t, "main", baseRetryConfig(), upstreamOf(t, u1, "u1"), upstreamOf(t, u2, "u2"))
	d, store := newTestDispatcher(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"upstream":2}`, rec.Body.String())

	recent := store.RecentSnapshot(1)
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].Retry)
	assert.Equal(t, 2, recent[0].Retry.Attempts)
}

// S2 — cross-request cooldown: after u1 fails once and is penalized, a
// second, independent request against the same dispatcher must avoid it.
func TestRun_CrossRequestCooldown_S2(t *testing.T) {
	u1Hits := 0
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u1Hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer u1.Close()
	u2Hits := 0
	u2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u2Hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"upstream":2}`))
	}))
	defer u2.Close()

	retry := baseRetryConfig()
	cfg := singleConfigProxy(t, "main", retry, upstreamOf(t, u1, "u1"), upstreamOf(t, u2, "u2"))
	d, _ := newTestDispatcher(t, cfg)

	req1 := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	req1.Header.Set("Content-Type", "application/json")
	rec1 := httptest.NewRecorder()
	d.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code) // u1 failed over to u2 within the first request already

	req2 := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	d.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, 1, u1Hits, "u1 should be in cooldown for the second request and never hit again")
	assert.Equal(t, 2, u2Hits)
}

// S4 — a non-retryable 400 with an invalid_request_error body short-circuits
// the whole loop: surfaced verbatim, u2 never called.
func TestRun_NonRetryable400ShortCircuits_S4(t *testing.T) {
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad field"}}`))
	}))
	defer u1.Close()
	u2Hits := 0
	u2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u2Hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer u2.Close()

	retry := baseRetryConfig()
	retry.NeverStatus = "400"
	cfg := singleConfigProxy(t, "main", retry, upstreamOf(t, u1, "u1"), upstreamOf(t, u2, "u2"))
	d, store := newTestDispatcher(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, u2Hits)

	recent := store.RecentSnapshot(1)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].Retry, "single-attempt chain carries no retry info")
}

// S5 — u1's supported_models glob excludes the requested model; u2's
// matches. u1 must be skipped (traced as skipped_unsupported_model, never
// sent a request) and u2 called exactly once.
func TestRun_UnsupportedModelSkip_S5(t *testing.T) {
	u1Hits := 0
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u1Hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer u1.Close()
	u2Hits := 0
	var u2Body []byte
	u2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u2Hits++
		u2Body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer u2.Close()

	up1 := upstreamOf(t, u1, "u1")
	up1.SupportedModels = map[string]bool{"other-*": true}
	up2 := upstreamOf(t, u2, "u2")
	up2.SupportedModels = map[string]bool{"gpt-*": true}

	cfg := singleConfigProxy(t, "main", baseRetryConfig(), up1, up2)
	d, _ := newTestDispatcher(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, u1Hits)
	assert.Equal(t, 1, u2Hits)
	assert.Contains(t, string(u2Body), `"model":"gpt-4"`)
}

// S6 — a single upstream whose model_mapping rewrites the requested model
// before sending it upstream.
func TestRun_ModelMappingRewrite_S6(t *testing.T) {
	var gotBody []byte
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer u1.Close()

	up := upstreamOf(t, u1, "u1")
	up.SupportedModels = map[string]bool{"anthropic/claude-*": true}
	up.ModelMapping = map[string]string{"claude-*": "anthropic/claude-*"}

	cfg := singleConfigProxy(t, "main", baseRetryConfig(), up)
	d, _ := newTestDispatcher(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"claude-sonnet-4"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(gotBody), `"model":"anthropic/claude-sonnet-4"`)
}

// S8 — two single-upstream configs at different levels; level-1 fails,
// level-2 succeeds, and each upstream is hit exactly once.
func TestRun_LevelBasedFailover_S8(t *testing.T) {
	l1Hits := 0
	level1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l1Hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer level1.Close()
	l2Hits := 0
	level2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l2Hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer level2.Close()

	cfg1 := &config.ServiceConfig{Name: "level-1", Enabled: true, Level: 1, Upstreams: []config.UpstreamConfig{upstreamOf(t, level1, "l1")}}
	require.NoError(t, cfg1.Validate())
	cfg2 := &config.ServiceConfig{Name: "level-2", Enabled: true, Level: 2, Upstreams: []config.UpstreamConfig{upstreamOf(t, level2, "l2")}}
	require.NoError(t, cfg2.Validate())
	manager := &config.ServiceConfigManager{Active: "level-1", Configs: map[string]*config.ServiceConfig{"level-1": cfg1, "level-2": cfg2}}
	proxyCfg := &config.ProxyConfig{Service: config.ServiceCodex, Codex: manager, Claude: manager, Retry: baseRetryConfig()}

	d, _ := newTestDispatcher(t, proxyCfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, l1Hits)
	assert.Equal(t, 1, l2Hits)
}

// SSE success path: a streaming response is forwarded line-by-line and the
// request is finalized with the parsed usage once the stream ends.
func TestRun_SSEPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"response\":{\"delta\":\"hi\"}}\n")
		flusher.Flush()
		_, _ = io.WriteString(w, `data: {"response":{"usage":{"input_tokens":1,"output_tokens":2,"total_tokens":3}}}`+"\n")
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := singleConfigProxy(t, "main", baseRetryConfig(), upstreamOf(t, srv, "u1"))
	d, store := newTestDispatcher(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	reader := bufio.NewReader(strings.NewReader(rec.Body.String()))
	firstLine, _ := reader.ReadString('\n')
	assert.Contains(t, firstLine, "delta")

	recent := store.RecentSnapshot(1)
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].Usage)
	assert.Equal(t, int64(3), recent[0].Usage.Total)
}
