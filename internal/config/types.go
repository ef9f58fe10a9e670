// Package config holds the effective, in-memory shape of the proxy's runtime
// configuration: service configs, upstreams, auth resolution, and retry
// budgets. The types here are the resolved shape a request handler
// consults; reading the on-disk file into them is done by LoadFromFile
// (loader.go).
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthKind tags which of the five resolution strategies an UpstreamAuth uses.
type AuthKind string

const (
	AuthInlineToken  AuthKind = "inline_token"
	AuthEnvToken     AuthKind = "env_token"
	AuthInlineAPIKey AuthKind = "inline_api_key"
	AuthEnvAPIKey    AuthKind = "env_api_key"
	AuthNone         AuthKind = "none"
)

// UpstreamAuth describes how to obtain credentials for one upstream.
type UpstreamAuth struct {
	Kind   AuthKind `mapstructure:"kind" yaml:"kind"`
	Inline string   `mapstructure:"inline" yaml:"inline"`
	EnvVar string   `mapstructure:"env_var" yaml:"env_var"`
}

// UpstreamConfig is one base_url + auth target inside a ServiceConfig.
type UpstreamConfig struct {
	BaseURL         string            `mapstructure:"base_url" yaml:"base_url"`
	Auth            UpstreamAuth      `mapstructure:"auth" yaml:"auth"`
	Tags            map[string]string `mapstructure:"tags" yaml:"tags"`
	SupportedModels map[string]bool   `mapstructure:"supported_models" yaml:"supported_models"`
	ModelMapping    map[string]string `mapstructure:"model_mapping" yaml:"model_mapping"`

	basePath string // parsed once at validation time
}

// ProviderID returns the conventional tags["provider_id"], or "" if unset.
func (u *UpstreamConfig) ProviderID() string {
	if u.Tags == nil {
		return ""
	}
	return u.Tags["provider_id"]
}

// Validate checks the base_url invariant and pre-parses its path prefix.
func (u *UpstreamConfig) Validate() error {
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("upstream base_url %q must be an absolute URL with scheme and host", u.BaseURL)
	}
	u.basePath = strings.TrimSuffix(parsed.Path, "/")
	return nil
}

// BasePath returns the parsed path prefix of BaseURL (set by Validate).
func (u *UpstreamConfig) BasePath() string {
	return u.basePath
}

// ServiceConfig is a named bundle of upstreams sharing a failover level.
type ServiceConfig struct {
	Name      string           `mapstructure:"name" yaml:"name"`
	Alias     string           `mapstructure:"alias" yaml:"alias"`
	Enabled   bool             `mapstructure:"enabled" yaml:"enabled"`
	Level     int              `mapstructure:"level" yaml:"level"`
	Upstreams []UpstreamConfig `mapstructure:"upstreams" yaml:"upstreams"`
}

// Validate checks the level range and validates every upstream.
func (c *ServiceConfig) Validate() error {
	if c.Level < 1 || c.Level > 10 {
		return fmt.Errorf("config %q: level must be in [1,10], got %d", c.Name, c.Level)
	}
	for i := range c.Upstreams {
		if err := c.Upstreams[i].Validate(); err != nil {
			return fmt.Errorf("config %q upstream[%d]: %w", c.Name, i, err)
		}
	}
	return nil
}

// ServiceConfigManager holds the named configs for one service kind.
type ServiceConfigManager struct {
	Active  string                   `mapstructure:"active" yaml:"active"`
	Configs map[string]*ServiceConfig `mapstructure:"configs" yaml:"configs"`
}

// Ordered returns configs sorted by name, for deterministic iteration.
func (m *ServiceConfigManager) Ordered() []*ServiceConfig {
	names := make([]string, 0, len(m.Configs))
	for n := range m.Configs {
		names = append(names, n)
	}
	sortStrings(names)
	out := make([]*ServiceConfig, 0, len(names))
	for _, n := range names {
		out = append(out, m.Configs[n])
	}
	return out
}

// RetryBudget is one of the two sub-budgets (upstream or provider layer).
type RetryBudget struct {
	MaxAttempts  int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoffMs int64   `mapstructure:"base_backoff_ms" yaml:"base_backoff_ms"`
	MaxBackoffMs  int64   `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	JitterMs      int64   `mapstructure:"jitter_ms" yaml:"jitter_ms"`
	OnStatus      string   `mapstructure:"on_status" yaml:"on_status"`
	OnClass       []string `mapstructure:"on_class" yaml:"on_class"`
	Strategy      string   `mapstructure:"strategy" yaml:"strategy"` // "same_upstream" | "failover"
}

// RetryConfig is the full, settable retry configuration for a service.
type RetryConfig struct {
	MaxAttempts    int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffMs      int64    `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	BackoffMaxMs   int64    `mapstructure:"backoff_max_ms" yaml:"backoff_max_ms"`
	JitterMs       int64    `mapstructure:"jitter_ms" yaml:"jitter_ms"`
	OnStatus       string   `mapstructure:"on_status" yaml:"on_status"`
	OnClass        []string `mapstructure:"on_class" yaml:"on_class"`

	CloudflareChallengeCooldownSecs int64 `mapstructure:"cloudflare_challenge_cooldown_secs" yaml:"cloudflare_challenge_cooldown_secs"`
	CloudflareTimeoutCooldownSecs   int64 `mapstructure:"cloudflare_timeout_cooldown_secs" yaml:"cloudflare_timeout_cooldown_secs"`
	TransportCooldownSecs           int64 `mapstructure:"transport_cooldown_secs" yaml:"transport_cooldown_secs"`

	Upstream RetryBudget `mapstructure:"upstream" yaml:"upstream"`
	Provider RetryBudget `mapstructure:"provider" yaml:"provider"`

	CooldownBackoffFactor  int64 `mapstructure:"cooldown_backoff_factor" yaml:"cooldown_backoff_factor"`
	CooldownBackoffMaxSecs int64 `mapstructure:"cooldown_backoff_max_secs" yaml:"cooldown_backoff_max_secs"`

	NeverStatus string   `mapstructure:"never_status" yaml:"never_status"`
	NeverClass  []string `mapstructure:"never_class" yaml:"never_class"`
}

// ServiceKind tags which provider family a ProxyConfig instance addresses.
type ServiceKind string

const (
	ServiceCodex  ServiceKind = "codex"
	ServiceClaude ServiceKind = "claude"
)

// ProxyConfig is the immutable, effective configuration snapshot consulted
// once per inbound request. Replacement is always atomic (see runtime.go).
type ProxyConfig struct {
	Service ServiceKind

	Codex  *ServiceConfigManager
	Claude *ServiceConfigManager

	Retry RetryConfig

	// SourcePath is the on-disk file this snapshot was loaded from, if any.
	SourcePath string
}

// ActiveManager returns the ServiceConfigManager for this snapshot's Service.
func (c *ProxyConfig) ActiveManager() *ServiceConfigManager {
	if c.Service == ServiceClaude {
		return c.Claude
	}
	return c.Codex
}

func sortStrings(ss []string) {
	// insertion sort: config lists are small (tens of entries at most)
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
