package cache

import (
	"context"
	"log/slog"

	"github.com/vitaliisemenov/airelay/internal/state"
)

const (
	sessionConfigKeyPrefix = "airelay:override:session:config:"
	sessionConfigKeySet    = "airelay:override:session:config:keys"

	sessionEffortKeyPrefix = "airelay:override:session:effort:"
	sessionEffortKeySet    = "airelay:override:session:effort:keys"

	globalConfigKey = "airelay:override:global:config"
)

// OverridesPersister mirrors control-API override mutations into a Cache so
// they survive a process restart, and restores them back into an in-memory
// state.Overrides store at startup. The in-memory store stays authoritative
// for the request path; persistence here is best-effort and never blocks a
// control-API response on Redis availability.
type OverridesPersister struct {
	cache  Cache
	logger *slog.Logger
}

// NewOverridesPersister wraps cache for override persistence. A nil cache
// is valid and makes every method a no-op, so callers can wire a persister
// unconditionally and only construct a real Cache when Redis is configured.
func NewOverridesPersister(cache Cache, logger *slog.Logger) *OverridesPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverridesPersister{cache: cache, logger: logger}
}

func (p *OverridesPersister) warnOnError(op, key string, err error) {
	if err != nil {
		p.logger.Warn("override persistence failed", "op", op, "key", key, "error", err)
	}
}

// SaveSessionConfig mirrors a session config override write.
func (p *OverridesPersister) SaveSessionConfig(ctx context.Context, sessionID, name string) {
	if p.cache == nil {
		return
	}
	key := sessionConfigKeyPrefix + sessionID
	p.warnOnError("set", key, p.cache.Set(ctx, key, name, 0))
	p.warnOnError("sadd", sessionConfigKeySet, p.cache.SAdd(ctx, sessionConfigKeySet, sessionID))
}

// ClearSessionConfig mirrors a session config override removal.
func (p *OverridesPersister) ClearSessionConfig(ctx context.Context, sessionID string) {
	if p.cache == nil {
		return
	}
	key := sessionConfigKeyPrefix + sessionID
	if err := p.cache.Delete(ctx, key); err != nil && !IsNotFound(err) {
		p.warnOnError("delete", key, err)
	}
	p.warnOnError("srem", sessionConfigKeySet, p.cache.SRem(ctx, sessionConfigKeySet, sessionID))
}

// SaveSessionEffort mirrors a session effort override write.
func (p *OverridesPersister) SaveSessionEffort(ctx context.Context, sessionID, effort string) {
	if p.cache == nil {
		return
	}
	key := sessionEffortKeyPrefix + sessionID
	p.warnOnError("set", key, p.cache.Set(ctx, key, effort, 0))
	p.warnOnError("sadd", sessionEffortKeySet, p.cache.SAdd(ctx, sessionEffortKeySet, sessionID))
}

// ClearSessionEffort mirrors a session effort override removal.
func (p *OverridesPersister) ClearSessionEffort(ctx context.Context, sessionID string) {
	if p.cache == nil {
		return
	}
	key := sessionEffortKeyPrefix + sessionID
	if err := p.cache.Delete(ctx, key); err != nil && !IsNotFound(err) {
		p.warnOnError("delete", key, err)
	}
	p.warnOnError("srem", sessionEffortKeySet, p.cache.SRem(ctx, sessionEffortKeySet, sessionID))
}

// SaveGlobalConfig mirrors a global config override write.
func (p *OverridesPersister) SaveGlobalConfig(ctx context.Context, name string) {
	if p.cache == nil {
		return
	}
	p.warnOnError("set", globalConfigKey, p.cache.Set(ctx, globalConfigKey, name, 0))
}

// ClearGlobalConfig mirrors a global config override removal.
func (p *OverridesPersister) ClearGlobalConfig(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, globalConfigKey); err != nil && !IsNotFound(err) {
		p.warnOnError("delete", globalConfigKey, err)
	}
}

// Restore replays every override held in the cache back into overrides,
// meant to run once at startup before the dispatcher serves any traffic.
// Errors reading individual entries are logged and skipped rather than
// aborting the restore, since a missing or malformed single override
// should not block the process from starting.
func (p *OverridesPersister) Restore(ctx context.Context, overrides *state.Overrides) {
	if p.cache == nil {
		return
	}

	if sessionIDs, err := p.cache.SMembers(ctx, sessionConfigKeySet); err != nil {
		p.warnOnError("smembers", sessionConfigKeySet, err)
	} else {
		for _, sessionID := range sessionIDs {
			var name string
			if err := p.cache.Get(ctx, sessionConfigKeyPrefix+sessionID, &name); err != nil {
				p.warnOnError("get", sessionConfigKeyPrefix+sessionID, err)
				continue
			}
			overrides.SetSessionConfig(sessionID, name)
		}
	}

	if sessionIDs, err := p.cache.SMembers(ctx, sessionEffortKeySet); err != nil {
		p.warnOnError("smembers", sessionEffortKeySet, err)
	} else {
		for _, sessionID := range sessionIDs {
			var effort string
			if err := p.cache.Get(ctx, sessionEffortKeyPrefix+sessionID, &effort); err != nil {
				p.warnOnError("get", sessionEffortKeyPrefix+sessionID, err)
				continue
			}
			overrides.SetSessionEffort(sessionID, effort)
		}
	}

	var globalName string
	if err := p.cache.Get(ctx, globalConfigKey, &globalName); err == nil {
		overrides.SetGlobalConfig(globalName)
	} else if !IsNotFound(err) {
		p.warnOnError("get", globalConfigKey, err)
	}
}
