package api

import (
	"net/http"
	"sort"

	"github.com/vitaliisemenov/airelay/internal/config"
)

type retryBudgetView struct {
	MaxAttempts   int      `json:"max_attempts"`
	BaseBackoffMs int64    `json:"base_backoff_ms"`
	MaxBackoffMs  int64    `json:"max_backoff_ms"`
	JitterMs      int64    `json:"jitter_ms"`
	OnStatus      string   `json:"on_status"`
	OnClass       []string `json:"on_class"`
	Strategy      string   `json:"strategy"`
}

type retryConfigView struct {
	Upstream                        retryBudgetView `json:"upstream"`
	Provider                        retryBudgetView `json:"provider"`
	CloudflareChallengeCooldownSecs int64           `json:"cloudflare_challenge_cooldown_secs"`
	CloudflareTimeoutCooldownSecs   int64           `json:"cloudflare_timeout_cooldown_secs"`
	TransportCooldownSecs           int64           `json:"transport_cooldown_secs"`
	CooldownBackoffFactor           int64           `json:"cooldown_backoff_factor"`
	CooldownBackoffMaxSecs          int64           `json:"cooldown_backoff_max_secs"`
	NeverStatus                     string          `json:"never_status"`
	NeverClass                      []string        `json:"never_class"`
}

func retryView(rc config.RetryConfig) retryConfigView {
	budget := func(b config.RetryBudget) retryBudgetView {
		return retryBudgetView{
			MaxAttempts:   b.MaxAttempts,
			BaseBackoffMs: b.BaseBackoffMs,
			MaxBackoffMs:  b.MaxBackoffMs,
			JitterMs:      b.JitterMs,
			OnStatus:      b.OnStatus,
			OnClass:       b.OnClass,
			Strategy:      b.Strategy,
		}
	}
	return retryConfigView{
		Upstream:                        budget(rc.Upstream),
		Provider:                        budget(rc.Provider),
		CloudflareChallengeCooldownSecs: rc.CloudflareChallengeCooldownSecs,
		CloudflareTimeoutCooldownSecs:   rc.CloudflareTimeoutCooldownSecs,
		TransportCooldownSecs:           rc.TransportCooldownSecs,
		CooldownBackoffFactor:           rc.CooldownBackoffFactor,
		CooldownBackoffMaxSecs:          rc.CooldownBackoffMaxSecs,
		NeverStatus:                     rc.NeverStatus,
		NeverClass:                      rc.NeverClass,
	}
}

type configRuntimeResponse struct {
	ConfigPath    string          `json:"config_path"`
	LoadedAtMs    int64           `json:"loaded_at_ms"`
	SourceMtimeMs *int64          `json:"source_mtime_ms,omitempty"`
	Retry         retryConfigView `json:"retry"`
}

func (s *Server) handleConfigRuntime(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	resp := configRuntimeResponse{
		ConfigPath: cfg.SourcePath,
		LoadedAtMs: s.runtimeCfg.LastLoadedAtMs(),
		Retry:      retryView(cfg.Retry),
	}
	if mtime, ok := s.runtimeCfg.SourceMtimeMs(); ok {
		resp.SourceMtimeMs = &mtime
	}
	writeJSON(w, http.StatusOK, resp)
}

type configReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Status   string `json:"status"`
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	changed, err := s.runtimeCfg.ForceReloadFromDisk()
	if err != nil {
		writeJSON(w, http.StatusOK, configReloadResponse{Reloaded: false, Status: "error: " + err.Error()})
		return
	}
	status := "unchanged"
	if changed {
		status = "reloaded"
	}
	writeJSON(w, http.StatusOK, configReloadResponse{Reloaded: changed, Status: status})
}

type configListEntry struct {
	Name    string `json:"name"`
	Alias   string `json:"alias,omitempty"`
	Enabled bool   `json:"enabled"`
	Level   int    `json:"level"`
}

func (s *Server) handleConfigsList(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtimeCfg.Snapshot()
	manager := cfg.ActiveManager()
	overrides := s.store.Overrides()
	service := string(cfg.Service)

	entries := make([]configListEntry, 0, len(manager.Configs))
	for _, c := range manager.Ordered() {
		meta := overrides.ConfigMeta(service, c.Name)
		entries = append(entries, configListEntry{
			Name:    c.Name,
			Alias:   c.Alias,
			Enabled: meta.EffectiveEnabled(c.Enabled),
			Level:   meta.EffectiveLevel(c.Level),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Level != entries[j].Level {
			return entries[i].Level < entries[j].Level
		}
		return entries[i].Name < entries[j].Name
	})
	writeJSON(w, http.StatusOK, entries)
}
