package modelmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_Wildcard(t *testing.T) {
	assert.True(t, Matches("gpt-*", "gpt-4"))
	assert.False(t, Matches("other-*", "gpt-4"))
	assert.True(t, Matches("anthropic/claude-*", "anthropic/claude-sonnet-4"))
}

func TestRewrite_SplicesCapturedWildcard(t *testing.T) {
	got, ok := Rewrite("claude-*", "anthropic/claude-*", "claude-sonnet-4")
	assert.True(t, ok)
	assert.Equal(t, "anthropic/claude-sonnet-4", got)
}

func TestRewrite_NoMatch(t *testing.T) {
	_, ok := Rewrite("claude-*", "anthropic/claude-*", "gpt-4")
	assert.False(t, ok)
}

func TestApplyMapping_FirstMatchingPatternWins(t *testing.T) {
	// Both keys match "claude-sonnet-4"; "claude-*" sorts first.
	mapping := map[string]string{"claude-*": "anthropic/claude-*", "claude-s*": "other/claude-s*"}
	got, ok := ApplyMapping(mapping, "claude-sonnet-4")
	assert.True(t, ok)
	assert.Equal(t, "anthropic/claude-sonnet-4", got)

	got, ok = ApplyMapping(mapping, "gpt-4")
	assert.False(t, ok)
	assert.Equal(t, "gpt-4", got)
}

// Two upstreams, disjoint supported_models globs, no mapping: the one whose
// glob doesn't match the requested model is rejected outright.
func TestIsSupported_DisjointGlobsPicksMatchingUpstreamOnly(t *testing.T) {
	u1 := map[string]bool{"other-*": true}
	u2 := map[string]bool{"gpt-*": true}

	assert.False(t, IsSupported(u1, nil, "gpt-4"))
	assert.True(t, IsSupported(u2, nil, "gpt-4"))
}

// A single upstream whose model_mapping rewrites the requested model before
// the supported_models check is applied against the rewritten name.
func TestIsSupported_ChecksAgainstMappedName(t *testing.T) {
	supported := map[string]bool{"anthropic/claude-*": true}
	mapping := map[string]string{"claude-*": "anthropic/claude-*"}

	assert.True(t, IsSupported(supported, mapping, "claude-sonnet-4"))
}

func TestIsSupported_FalseGlobEntryIsIgnored(t *testing.T) {
	supported := map[string]bool{"gpt-*": false}
	assert.False(t, IsSupported(supported, nil, "gpt-4"))
}

func TestIsSupported_EmptySupportedModelsMeansUnrestricted(t *testing.T) {
	assert.True(t, IsSupported(nil, nil, "anything"))
}
