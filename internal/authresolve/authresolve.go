// Package authresolve implements the credential resolution order for
// outbound upstream requests: inline value, then process environment
// variable, then a service-specific local credential file, then passthrough
// of whatever the inbound client already sent. Every resolution records a
// source string for audit logging.
package authresolve

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/vitaliisemenov/airelay/internal/config"
)

// Result is a resolved credential plus the source it came from, for audit
// logging (inline, env:NAME, codex_auth_json:NAME, claude_settings_env:NAME,
// client_passthrough, missing_env:NAME, none).
type Result struct {
	Value  string
	Found  bool
	Source string
}

// CredentialFileReader loads the service-specific local credential file
// (Codex's auth.json or Claude's settings.json) once and serves lookups
// from the cached value, keyed independently per file path.
type CredentialFileReader struct {
	mu    sync.Mutex
	cache map[string]map[string]any
}

// NewCredentialFileReader builds an empty reader.
func NewCredentialFileReader() *CredentialFileReader {
	return &CredentialFileReader{cache: map[string]map[string]any{}}
}

func (r *CredentialFileReader) load(path string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache[path]; ok {
		return v
	}
	data, err := os.ReadFile(path)
	var parsed map[string]any
	if err == nil {
		_ = json.Unmarshal(data, &parsed)
	}
	r.cache[path] = parsed
	return parsed
}

// CodexAuthValue looks up key at the top level of the Codex auth.json file.
func (r *CredentialFileReader) CodexAuthValue(path, key string) (string, bool) {
	obj := r.load(path)
	if obj == nil {
		return "", false
	}
	v, ok := obj[key].(string)
	return v, ok
}

// ClaudeSettingsEnvValue looks up key under the "env" object of Claude's
// settings.json file.
func (r *CredentialFileReader) ClaudeSettingsEnvValue(path, key string) (string, bool) {
	obj := r.load(path)
	if obj == nil {
		return "", false
	}
	env, ok := obj["env"].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := env[key].(string)
	return v, ok
}

// Resolver resolves UpstreamAuth values against the environment and the
// per-service credential file.
type Resolver struct {
	files            *CredentialFileReader
	codexAuthPath    string
	claudeSettingsPath string
}

// NewResolver builds a Resolver. codexAuthPath and claudeSettingsPath are
// the on-disk locations of each service's credential file; either may be
// empty if unavailable.
func NewResolver(codexAuthPath, claudeSettingsPath string) *Resolver {
	return &Resolver{
		files:              NewCredentialFileReader(),
		codexAuthPath:      codexAuthPath,
		claudeSettingsPath: claudeSettingsPath,
	}
}

func nonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

func (r *Resolver) fileValue(service config.ServiceKind, envName string) (string, string) {
	switch service {
	case config.ServiceCodex:
		if r.codexAuthPath == "" {
			return "", ""
		}
		if v, ok := r.files.CodexAuthValue(r.codexAuthPath, envName); ok && nonEmpty(v) {
			return v, "codex_auth_json:" + envName
		}
	case config.ServiceClaude:
		if r.claudeSettingsPath == "" {
			return "", ""
		}
		if v, ok := r.files.ClaudeSettingsEnvValue(r.claudeSettingsPath, envName); ok && nonEmpty(v) {
			return v, "claude_settings_env:" + envName
		}
	}
	return "", ""
}

func (r *Resolver) resolve(service config.ServiceKind, inline, envVar string, clientHadHeader bool) Result {
	if nonEmpty(inline) {
		return Result{Value: inline, Found: true, Source: "inline"}
	}

	if nonEmpty(envVar) {
		if v := os.Getenv(envVar); nonEmpty(v) {
			return Result{Value: v, Found: true, Source: "env:" + envVar}
		}

		if v, src := r.fileValue(service, envVar); nonEmpty(v) {
			return Result{Value: v, Found: true, Source: src}
		}

		if clientHadHeader {
			return Result{Source: "client_passthrough (missing_env:" + envVar + ")"}
		}
		return Result{Source: "missing_env:" + envVar}
	}

	if clientHadHeader {
		return Result{Source: "client_passthrough"}
	}
	return Result{Source: "none"}
}

// ResolveAuthToken resolves the outbound Authorization bearer token.
func (r *Resolver) ResolveAuthToken(service config.ServiceKind, auth config.UpstreamAuth, clientHadAuthorization bool) Result {
	if auth.Kind == config.AuthInlineToken {
		return r.resolve(service, auth.Inline, "", clientHadAuthorization)
	}
	if auth.Kind == config.AuthEnvToken {
		return r.resolve(service, "", auth.EnvVar, clientHadAuthorization)
	}
	if clientHadAuthorization {
		return Result{Source: "client_passthrough"}
	}
	return Result{Source: "none"}
}

// ResolveAPIKey resolves the outbound X-API-Key value.
func (r *Resolver) ResolveAPIKey(service config.ServiceKind, auth config.UpstreamAuth, clientHadAPIKey bool) Result {
	if auth.Kind == config.AuthInlineAPIKey {
		return r.resolve(service, auth.Inline, "", clientHadAPIKey)
	}
	if auth.Kind == config.AuthEnvAPIKey {
		return r.resolve(service, "", auth.EnvVar, clientHadAPIKey)
	}
	if clientHadAPIKey {
		return Result{Source: "client_passthrough"}
	}
	return Result{Source: "none"}
}
