package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// rawFile mirrors the on-disk shape; we accept YAML or JSON via viper's
// format sniffing off the extension.
type rawFile struct {
	Service string                 `mapstructure:"service"`
	Codex   ServiceConfigManager   `mapstructure:"codex"`
	Claude  ServiceConfigManager   `mapstructure:"claude"`
	Retry   RetryConfig            `mapstructure:"retry"`
}

// LoadFromFile reads configPath with viper (env overrides layered on top
// via AutomaticEnv + SetEnvKeyReplacer), validates, and returns a ready
// ProxyConfig snapshot.
func LoadFromFile(configPath string, service ServiceKind) (*ProxyConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix("CODEX_HELPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %q: %w", configPath, err)
			}
		}
	}

	var raw rawFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &ProxyConfig{
		Service:    service,
		Codex:      cloneManager(&raw.Codex),
		Claude:     cloneManager(&raw.Claude),
		Retry:      raw.Retry,
		SourcePath: configPath,
	}
	if cfg.Retry.CooldownBackoffFactor == 0 {
		cfg.Retry.CooldownBackoffFactor = DefaultRetryConfig().CooldownBackoffFactor
	}
	if cfg.Retry.CooldownBackoffMaxSecs == 0 {
		cfg.Retry.CooldownBackoffMaxSecs = DefaultRetryConfig().CooldownBackoffMaxSecs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cloneManager(m *ServiceConfigManager) *ServiceConfigManager {
	if m.Configs == nil {
		m.Configs = map[string]*ServiceConfig{}
	}
	return m
}

func setDefaults(v *viper.Viper) {
	d := DefaultRetryConfig()
	v.SetDefault("retry.max_attempts", d.MaxAttempts)
	v.SetDefault("retry.backoff_ms", d.BackoffMs)
	v.SetDefault("retry.backoff_max_ms", d.BackoffMaxMs)
	v.SetDefault("retry.jitter_ms", d.JitterMs)
	v.SetDefault("retry.on_status", d.OnStatus)
	v.SetDefault("retry.on_class", d.OnClass)
	v.SetDefault("retry.cloudflare_challenge_cooldown_secs", d.CloudflareChallengeCooldownSecs)
	v.SetDefault("retry.cloudflare_timeout_cooldown_secs", d.CloudflareTimeoutCooldownSecs)
	v.SetDefault("retry.transport_cooldown_secs", d.TransportCooldownSecs)
	v.SetDefault("retry.upstream", d.Upstream)
	v.SetDefault("retry.provider", d.Provider)
	v.SetDefault("retry.cooldown_backoff_factor", d.CooldownBackoffFactor)
	v.SetDefault("retry.cooldown_backoff_max_secs", d.CooldownBackoffMaxSecs)
	v.SetDefault("retry.never_status", d.NeverStatus)
	v.SetDefault("retry.never_class", d.NeverClass)
}
