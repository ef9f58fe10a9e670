package config

// DefaultRetryConfig returns a sensible, documented set of defaults rather
// than zero values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BackoffMs:    200,
		BackoffMaxMs: 5_000,
		JitterMs:     100,
		OnStatus:     "429,500-599",
		OnClass:      []string{"upstream_transport_error"},

		CloudflareChallengeCooldownSecs: 300,
		CloudflareTimeoutCooldownSecs:   120,
		TransportCooldownSecs:           30,

		Upstream: RetryBudget{
			MaxAttempts:   2,
			BaseBackoffMs: 200,
			MaxBackoffMs:  2_000,
			JitterMs:      100,
			OnStatus:      "429,500-599",
			OnClass:       []string{"upstream_transport_error"},
			Strategy:      "same_upstream",
		},
		Provider: RetryBudget{
			MaxAttempts:   3,
			BaseBackoffMs: 0,
			MaxBackoffMs:  2_000,
			JitterMs:      0,
			OnStatus:      "429,500-599",
			OnClass:       []string{"upstream_transport_error", "cloudflare_challenge", "cloudflare_timeout"},
			Strategy:      "failover",
		},

		CooldownBackoffFactor:  2,
		CooldownBackoffMaxSecs: 3_600,

		NeverStatus: "400,401,403,404,409,413,415,422",
		NeverClass:  []string{"client_error_non_retryable"},
	}
}

// DefaultProxyConfig builds an empty-but-valid snapshot for the given
// service kind: no upstreams configured, but all invariants satisfied so
// callers can probe behavior (e.g. in tests) before loading a real file.
func DefaultProxyConfig(service ServiceKind) *ProxyConfig {
	return &ProxyConfig{
		Service: service,
		Codex:   &ServiceConfigManager{Configs: map[string]*ServiceConfig{}},
		Claude:  &ServiceConfigManager{Configs: map[string]*ServiceConfig{}},
		Retry:   DefaultRetryConfig(),
	}
}
