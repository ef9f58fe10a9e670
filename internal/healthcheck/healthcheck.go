// Package healthcheck runs short, explicitly-deadlined probes against a
// service config's upstreams, on demand from the control API. It is the
// runner backing the control API's healthcheck/start and healthcheck/cancel
// endpoints and the status/config-health view.
package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/metrics"
	"github.com/vitaliisemenov/airelay/internal/state"
)

// DefaultTimeout is the per-upstream probe deadline; the control plane's
// probes use short, explicit per-request deadlines rather than inheriting
// the dispatcher's unbounded client.
const DefaultTimeout = 2500 * time.Millisecond

// Prober issues lightweight GET probes against each upstream in a config.
type Prober struct {
	client *http.Client
}

// NewProber builds a Prober whose HTTP client deadline is timeout (or
// DefaultTimeout if zero).
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{client: &http.Client{Timeout: timeout}}
}

// ProbeConfig probes every upstream in cfg and returns the aggregate result.
func (p *Prober) ProbeConfig(ctx context.Context, cfg *config.ServiceConfig) state.ConfigHealth {
	health := state.ConfigHealth{
		ConfigName: cfg.Name,
		Probes:     make([]state.UpstreamProbe, len(cfg.Upstreams)),
		CheckedAtMs: state.NowMs(),
	}
	for i := range cfg.Upstreams {
		health.Probes[i] = p.probeOne(ctx, i, &cfg.Upstreams[i])
	}
	return health
}

func (p *Prober) probeOne(ctx context.Context, index int, upstream *config.UpstreamConfig) state.UpstreamProbe {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.BaseURL, nil)
	if err != nil {
		return state.UpstreamProbe{Index: index, OK: false, Error: err.Error()}
	}

	resp, err := p.client.Do(req)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		return state.UpstreamProbe{Index: index, OK: false, LatencyMs: &latencyMs, Error: err.Error()}
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	// Any response at all (including 4xx from an auth-gated root path) means
	// the upstream is reachable; only transport failures count as down.
	return state.UpstreamProbe{Index: index, OK: true, StatusCode: &statusCode, LatencyMs: &latencyMs}
}

// RunAsync probes every config in configs sequentially in a background
// goroutine, recording each result and advancing the shared run state,
// checking for cancellation between probes so a cancel request takes effect
// promptly rather than after the whole batch finishes.
func RunAsync(store *state.Store, service string, prober *Prober, configs []*config.ServiceConfig) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout*time.Duration(len(configs)+1))
		defer cancel()
		for _, cfg := range configs {
			if store.HealthCheckState(service).CancelRequested {
				return
			}
			health := prober.ProbeConfig(ctx, cfg)
			store.RecordConfigHealth(service, health)
			store.AdvanceHealthCheck(service, nil)
			for _, probe := range health.Probes {
				outcome := "ok"
				if !probe.OK {
					outcome = "failed"
				}
				metrics.HealthCheckProbesTotal.WithLabelValues(cfg.Name, outcome).Inc()
			}
		}
	}()
}
