package config

import "fmt"

// Validate checks base_url well-formedness (delegated to
// ServiceConfig.Validate) and that each manager's Active name, if set,
// names a config that actually exists.
func (c *ProxyConfig) Validate() error {
	for _, mgr := range []*ServiceConfigManager{c.Codex, c.Claude} {
		if mgr == nil {
			continue
		}
		for name, sc := range mgr.Configs {
			if sc.Name == "" {
				sc.Name = name
			}
			if err := sc.Validate(); err != nil {
				return err
			}
		}
		if mgr.Active != "" {
			if _, ok := mgr.Configs[mgr.Active]; !ok {
				return fmt.Errorf("active config %q does not exist", mgr.Active)
			}
		}
	}
	return c.Retry.Validate()
}

// Validate checks the RetryConfig fields whose valid ranges are hard
// invariants rather than suggestions.
func (r *RetryConfig) Validate() error {
	if r.CooldownBackoffFactor < 1 || r.CooldownBackoffFactor > 16 {
		return fmt.Errorf("cooldown_backoff_factor must be in [1,16], got %d", r.CooldownBackoffFactor)
	}
	if r.CooldownBackoffMaxSecs < 0 || r.CooldownBackoffMaxSecs > 86_400 {
		return fmt.Errorf("cooldown_backoff_max_secs must be in [0,86400], got %d", r.CooldownBackoffMaxSecs)
	}
	return nil
}
