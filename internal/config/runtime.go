package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/airelay/internal/metrics"
)

// minCheckInterval throttles disk-mtime polling so a burst of admitted
// requests doesn't turn into a stat() storm.
const minCheckInterval = 800 * time.Millisecond

// RuntimeConfig holds an atomically-swappable ProxyConfig snapshot. Readers
// never block on writers; a single inbound request takes exactly one
// Snapshot() and uses it across every retry attempt, so a reload mid-request
// never produces a request that straddles two config generations.
type RuntimeConfig struct {
	current atomic.Value // *ProxyConfig

	mu            sync.Mutex
	lastCheckAt   time.Time
	lastMtime     time.Time
	lastLoadedAt  time.Time
	sourceMtimeMs int64
	hasSourceMtime bool
}

// NewRuntimeConfig wraps an already-loaded snapshot.
func NewRuntimeConfig(initial *ProxyConfig) *RuntimeConfig {
	rc := &RuntimeConfig{
		// back-date so the first maybe_reload_from_disk call is eligible
		lastCheckAt:  time.Now().Add(-2 * minCheckInterval),
		lastLoadedAt: time.Now(),
	}
	rc.current.Store(initial)
	return rc
}

// Snapshot returns the current config atomically; cheap and lock-free.
func (rc *RuntimeConfig) Snapshot() *ProxyConfig {
	return rc.current.Load().(*ProxyConfig)
}

// LastLoadedAtMs returns the millisecond timestamp of the last successful
// (re)load, for the control API's `config/runtime` endpoint.
func (rc *RuntimeConfig) LastLoadedAtMs() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastLoadedAt.UnixMilli()
}

// SourceMtimeMs returns the on-disk file's last observed modification time
// in milliseconds, or (0, false) if never observed.
func (rc *RuntimeConfig) SourceMtimeMs() (int64, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.sourceMtimeMs, rc.hasSourceMtime
}

// MaybeReloadFromDisk performs a throttled check of the config file's mtime
// and reloads (atomically swapping the snapshot) if it changed. Non-blocking
// in the sense that it never holds a lock across the reparse; callers invoke
// it once per admitted request.
func (rc *RuntimeConfig) MaybeReloadFromDisk() {
	path := rc.Snapshot().SourcePath
	if path == "" {
		return
	}

	rc.mu.Lock()
	if time.Since(rc.lastCheckAt) < minCheckInterval {
		rc.mu.Unlock()
		return
	}
	rc.lastCheckAt = time.Now()
	prevMtime := rc.lastMtime
	rc.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mtime := info.ModTime()
	if mtime.Equal(prevMtime) {
		return
	}

	reloadStart := time.Now()
	service := rc.Snapshot().Service
	cfg, err := LoadFromFile(path, service)
	if err != nil {
		// A reload failure is only counted in the reload metric (outcome
		// "error"); the stale snapshot keeps serving rather than fail the
		// in-flight request.
		metrics.ObserveReload("error", time.Since(reloadStart))
		return
	}

	rc.swap(cfg, mtime)
	metrics.ObserveReload("reloaded", time.Since(reloadStart))
}

// ForceReloadFromDisk reloads unconditionally (used by the control API's
// config/reload endpoint) and reports whether the file's modification time
// differs from the one recorded at the previous load.
func (rc *RuntimeConfig) ForceReloadFromDisk() (bool, error) {
	reloadStart := time.Now()
	path := rc.Snapshot().SourcePath
	if path == "" {
		return false, nil
	}
	service := rc.Snapshot().Service
	cfg, err := LoadFromFile(path, service)
	if err != nil {
		metrics.ObserveReload("error", time.Since(reloadStart))
		return false, err
	}

	info, statErr := os.Stat(path)
	var mtime time.Time
	if statErr == nil {
		mtime = info.ModTime()
	}

	rc.mu.Lock()
	changed := !mtime.Equal(rc.lastMtime)
	rc.mu.Unlock()

	rc.swap(cfg, mtime)
	outcome := "unchanged"
	if changed {
		outcome = "reloaded"
	}
	metrics.ObserveReload(outcome, time.Since(reloadStart))
	return changed, nil
}

func (rc *RuntimeConfig) swap(cfg *ProxyConfig, mtime time.Time) {
	rc.current.Store(cfg)
	rc.mu.Lock()
	rc.lastMtime = mtime
	rc.lastLoadedAt = time.Now()
	if !mtime.IsZero() {
		rc.sourceMtimeMs = mtime.UnixMilli()
		rc.hasSourceMtime = true
	}
	rc.mu.Unlock()
}
