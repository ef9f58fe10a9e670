package state

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sessionOverrideCapacity bounds the session-keyed override maps to a
// fixed-size LRU rather than an unbounded map, since session ids accumulate
// over a long-running process.
const sessionOverrideCapacity = 10_000

// metaOverrideKey addresses a per-(service, config name) meta override.
type metaOverrideKey struct {
	Service string
	Name    string
}

// MetaOverride hot-adjusts a config's enabled/level fields without
// rewriting the on-disk file.
type MetaOverride struct {
	Enabled *bool
	Level   *int
}

// Overrides holds the three orthogonal override mappings plus per-config
// meta overrides, each touch refreshing LRU recency.
type Overrides struct {
	mu sync.Mutex

	globalConfig string // "" = unset

	sessionConfig *lru.Cache[string, string]
	sessionEffort *lru.Cache[string, string]

	meta map[metaOverrideKey]MetaOverride
}

// NewOverrides builds an empty Overrides store.
func NewOverrides() *Overrides {
	sessionConfig, _ := lru.New[string, string](sessionOverrideCapacity)
	sessionEffort, _ := lru.New[string, string](sessionOverrideCapacity)
	return &Overrides{
		sessionConfig: sessionConfig,
		sessionEffort: sessionEffort,
		meta:          map[metaOverrideKey]MetaOverride{},
	}
}

// GlobalConfig returns the global config override name, or ("", false).
func (o *Overrides) GlobalConfig() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.globalConfig == "" {
		return "", false
	}
	return o.globalConfig, true
}

// SetGlobalConfig sets the global config override.
func (o *Overrides) SetGlobalConfig(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.globalConfig = name
}

// ClearGlobalConfig removes the global config override.
func (o *Overrides) ClearGlobalConfig() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.globalConfig = ""
}

// SessionConfig returns the per-session config override, touching its LRU
// recency, or ("", false) if unset.
func (o *Overrides) SessionConfig(sessionID string) (string, bool) {
	return o.sessionConfig.Get(sessionID)
}

// SetSessionConfig sets a per-session config override.
func (o *Overrides) SetSessionConfig(sessionID, name string) {
	o.sessionConfig.Add(sessionID, name)
}

// ClearSessionConfig removes a per-session config override.
func (o *Overrides) ClearSessionConfig(sessionID string) {
	o.sessionConfig.Remove(sessionID)
}

// TouchSessionConfig refreshes LRU recency without changing the value;
// no-op if unset.
func (o *Overrides) TouchSessionConfig(sessionID string) {
	o.sessionConfig.Get(sessionID)
}

// AllSessionConfigOverrides returns a snapshot of every session->name entry.
func (o *Overrides) AllSessionConfigOverrides() map[string]string {
	out := map[string]string{}
	for _, k := range o.sessionConfig.Keys() {
		if v, ok := o.sessionConfig.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}

// SessionEffort returns the per-session effort override, or ("", false).
func (o *Overrides) SessionEffort(sessionID string) (string, bool) {
	return o.sessionEffort.Get(sessionID)
}

// SetSessionEffort sets a per-session reasoning-effort override.
func (o *Overrides) SetSessionEffort(sessionID, effort string) {
	o.sessionEffort.Add(sessionID, effort)
}

// ClearSessionEffort removes a per-session effort override.
func (o *Overrides) ClearSessionEffort(sessionID string) {
	o.sessionEffort.Remove(sessionID)
}

// TouchSessionEffort refreshes LRU recency without changing the value.
func (o *Overrides) TouchSessionEffort(sessionID string) {
	o.sessionEffort.Get(sessionID)
}

// AllSessionEffortOverrides returns a snapshot of every session->effort entry.
func (o *Overrides) AllSessionEffortOverrides() map[string]string {
	out := map[string]string{}
	for _, k := range o.sessionEffort.Keys() {
		if v, ok := o.sessionEffort.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}

// SetConfigEnabledOverride hot-toggles a config's effective enabled flag.
func (o *Overrides) SetConfigEnabledOverride(service, name string, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metaOverrideKey{service, name}
	m := o.meta[key]
	m.Enabled = &enabled
	o.meta[key] = m
}

// ClearConfigEnabledOverride removes a config's enabled override.
func (o *Overrides) ClearConfigEnabledOverride(service, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metaOverrideKey{service, name}
	m := o.meta[key]
	m.Enabled = nil
	o.setOrDeleteMeta(key, m)
}

// SetConfigLevelOverride hot-adjusts a config's effective failover level.
func (o *Overrides) SetConfigLevelOverride(service, name string, level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metaOverrideKey{service, name}
	m := o.meta[key]
	m.Level = &level
	o.meta[key] = m
}

// ClearConfigLevelOverride removes a config's level override.
func (o *Overrides) ClearConfigLevelOverride(service, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metaOverrideKey{service, name}
	m := o.meta[key]
	m.Level = nil
	o.setOrDeleteMeta(key, m)
}

// setOrDeleteMeta must be called with o.mu held.
func (o *Overrides) setOrDeleteMeta(key metaOverrideKey, m MetaOverride) {
	if m.Enabled == nil && m.Level == nil {
		delete(o.meta, key)
		return
	}
	o.meta[key] = m
}

// ConfigMeta returns the meta override for (service, name), or a zero value
// if none is set.
func (o *Overrides) ConfigMeta(service, name string) MetaOverride {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta[metaOverrideKey{service, name}]
}

// EffectiveEnabled folds a meta override onto the config file's enabled
// flag.
func (m MetaOverride) EffectiveEnabled(fileEnabled bool) bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return fileEnabled
}

// EffectiveLevel folds a meta override onto the config file's level.
func (m MetaOverride) EffectiveLevel(fileLevel int) int {
	if m.Level != nil {
		return *m.Level
	}
	return fileLevel
}
