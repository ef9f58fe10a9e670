package authresolve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/airelay/internal/config"
)

func TestResolveAuthToken_InlinePreferred(t *testing.T) {
	r := NewResolver("", "")
	auth := config.UpstreamAuth{Kind: config.AuthInlineToken, Inline: "sk-inline"}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, false)
	assert.Equal(t, "sk-inline", got.Value)
	assert.Equal(t, "inline", got.Source)
}

func TestResolveAuthToken_EnvVarPreferredOverFile(t *testing.T) {
	t.Setenv("AIRELAY_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "auth.json")
	data, _ := json.Marshal(map[string]string{"AIRELAY_TEST_TOKEN": "from-file"})
	require.NoError(t, os.WriteFile(path, data, 0o644))
	r := NewResolver(path, "")
	auth := config.UpstreamAuth{Kind: config.AuthEnvToken, EnvVar: "AIRELAY_TEST_TOKEN"}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, false)
	assert.Equal(t, "from-env", got.Value)
	assert.Equal(t, "env:AIRELAY_TEST_TOKEN", got.Source)
}

func TestResolveAuthToken_FallsBackToCodexAuthFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	data, _ := json.Marshal(map[string]string{"OPENAI_API_KEY": "from-file"})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r := NewResolver(path, "")
	auth := config.UpstreamAuth{Kind: config.AuthEnvToken, EnvVar: "OPENAI_API_KEY"}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, false)
	assert.Equal(t, "from-file", got.Value)
	assert.Equal(t, "codex_auth_json:OPENAI_API_KEY", got.Source)
}

func TestResolveAPIKey_FallsBackToClaudeSettingsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	data, _ := json.Marshal(map[string]any{"env": map[string]string{"ANTHROPIC_API_KEY": "from-settings"}})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r := NewResolver("", path)
	auth := config.UpstreamAuth{Kind: config.AuthEnvAPIKey, EnvVar: "ANTHROPIC_API_KEY"}

	got := r.ResolveAPIKey(config.ServiceClaude, auth, false)
	assert.Equal(t, "from-settings", got.Value)
	assert.Equal(t, "claude_settings_env:ANTHROPIC_API_KEY", got.Source)
}

func TestResolveAuthToken_MissingEnvWithClientPassthrough(t *testing.T) {
	r := NewResolver("", "")
	auth := config.UpstreamAuth{Kind: config.AuthEnvToken, EnvVar: "AIRELAY_DOES_NOT_EXIST"}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, true)
	assert.False(t, got.Found)
	assert.Equal(t, "client_passthrough (missing_env:AIRELAY_DOES_NOT_EXIST)", got.Source)
}

func TestResolveAuthToken_MissingEnvNoClient(t *testing.T) {
	r := NewResolver("", "")
	auth := config.UpstreamAuth{Kind: config.AuthEnvToken, EnvVar: "AIRELAY_DOES_NOT_EXIST"}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, false)
	assert.False(t, got.Found)
	assert.Equal(t, "missing_env:AIRELAY_DOES_NOT_EXIST", got.Source)
}

func TestResolveAuthToken_NoneConfiguredClientPassthrough(t *testing.T) {
	r := NewResolver("", "")
	auth := config.UpstreamAuth{Kind: config.AuthNone}

	got := r.ResolveAuthToken(config.ServiceCodex, auth, true)
	assert.Equal(t, "client_passthrough", got.Source)

	got = r.ResolveAuthToken(config.ServiceCodex, auth, false)
	assert.Equal(t, "none", got.Source)
}
