package dispatcher

import (
	"sort"

	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/state"
)

// SelectCandidates builds the configuration-level failover order for one
// request: a pinned override short-circuits to a single config (or none, if
// the pinned name doesn't resolve); otherwise eligible configs are ordered
// single-level (by name, active first) or multi-level (by effective level,
// then active-first, then name), falling back to the active config alone if
// the eligible set empties out.
func SelectCandidates(manager *config.ServiceConfigManager, overrides *state.Overrides, serviceName, sessionID string) []*config.ServiceConfig {
	if sessionID != "" {
		if name, ok := overrides.SessionConfig(sessionID); ok {
			return resolvePinned(manager, name)
		}
	}
	if name, ok := overrides.GlobalConfig(); ok {
		return resolvePinned(manager, name)
	}

	active := manager.Active
	levelOf := func(cfg *config.ServiceConfig) int {
		return overrides.ConfigMeta(serviceName, cfg.Name).EffectiveLevel(cfg.Level)
	}

	var eligible []*config.ServiceConfig
	for _, cfg := range manager.Ordered() {
		if len(cfg.Upstreams) == 0 {
			continue
		}
		enabled := overrides.ConfigMeta(serviceName, cfg.Name).EffectiveEnabled(cfg.Enabled)
		if !enabled && cfg.Name != active {
			continue
		}
		eligible = append(eligible, cfg)
	}

	distinctLevels := map[int]bool{}
	for _, cfg := range eligible {
		distinctLevels[levelOf(cfg)] = true
	}

	result := append([]*config.ServiceConfig(nil), eligible...)
	if len(distinctLevels) <= 1 {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].Name < result[j].Name
		})
		moveActiveFirst(result, active)
	} else {
		// Multi-level: the comparator already places the active config first
		// within its own level, so no separate front-of-list move here —
		// that would break level ordering.
		sort.SliceStable(result, func(i, j int) bool {
			li, lj := levelOf(result[i]), levelOf(result[j])
			if li != lj {
				return li < lj
			}
			ai, aj := result[i].Name == active, result[j].Name == active
			if ai != aj {
				return ai
			}
			return result[i].Name < result[j].Name
		})
	}

	if len(result) == 0 {
		if cfg, ok := manager.Configs[active]; ok && len(cfg.Upstreams) > 0 {
			return []*config.ServiceConfig{cfg}
		}
		return nil
	}
	return result
}

func resolvePinned(manager *config.ServiceConfigManager, name string) []*config.ServiceConfig {
	if cfg, ok := manager.Configs[name]; ok {
		return []*config.ServiceConfig{cfg}
	}
	return nil
}

// moveActiveFirst moves the active config to index 0 in place, preserving
// the relative order of everything else. Single-level mode calls this after
// a plain name sort; multi-level mode's comparator already orders active
// first within its level, so this is a no-op there.
func moveActiveFirst(configs []*config.ServiceConfig, active string) {
	if active == "" {
		return
	}
	for i, cfg := range configs {
		if cfg.Name == active {
			if i == 0 {
				return
			}
			c := configs[i]
			copy(configs[1:i+1], configs[0:i])
			configs[0] = c
			return
		}
	}
}
