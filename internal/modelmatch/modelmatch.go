// Package modelmatch implements the glob-based model routing rules: does an
// upstream support a requested model, and if its model_mapping names a
// substitution, what does the requested model rewrite to. Patterns use a
// single wildcard metacharacter, '*', matching any run of characters —
// compiled to a capturing regexp so a mapping's replacement pattern can
// splice the wildcard's captured text back in (e.g. "claude-*" ->
// "anthropic/claude-*" applied to "claude-sonnet-4" yields
// "anthropic/claude-sonnet-4").
package modelmatch

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	globCacheMu sync.RWMutex
	globCache   = map[string]*regexp.Regexp{}
)

// compile is called from the per-request dispatch path, where concurrent
// requests routing an uncached pattern can race; globCacheMu guards reads
// and writes against that.
func compile(pattern string) *regexp.Regexp {
	globCacheMu.RLock()
	re, ok := globCache[pattern]
	globCacheMu.RUnlock()
	if ok {
		return re
	}

	var b strings.Builder
	b.WriteString("^")
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		b.WriteString(regexp.QuoteMeta(part))
		if i < len(parts)-1 {
			b.WriteString("(.*)")
		}
	}
	b.WriteString("$")
	re = regexp.MustCompile(b.String())

	globCacheMu.Lock()
	globCache[pattern] = re
	globCacheMu.Unlock()
	return re
}

// Matches reports whether model satisfies glob pattern.
func Matches(pattern, model string) bool {
	return compile(pattern).MatchString(model)
}

// Rewrite applies a single mapping rule: if model matches matchPattern,
// returns the result of splicing each captured wildcard run into
// replacementPattern's '*' placeholders, in order. Returns ("", false) if
// matchPattern doesn't match.
func Rewrite(matchPattern, replacementPattern, model string) (string, bool) {
	re := compile(matchPattern)
	groups := re.FindStringSubmatch(model)
	if groups == nil {
		return "", false
	}
	captures := groups[1:]

	replParts := strings.Split(replacementPattern, "*")
	var out strings.Builder
	for i, part := range replParts {
		out.WriteString(part)
		if i < len(replParts)-1 {
			if i < len(captures) {
				out.WriteString(captures[i])
			} else if len(captures) > 0 {
				out.WriteString(captures[len(captures)-1])
			}
		}
	}
	return out.String(), true
}

// ApplyMapping finds the mapping entry (if any) whose pattern matches model
// and returns the rewritten model name. Mapping keys are tried in sorted
// order for determinism (map iteration order is otherwise undefined). If no
// entry matches, returns (model, false).
func ApplyMapping(mapping map[string]string, model string) (string, bool) {
	if len(mapping) == 0 {
		return model, false
	}
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, pattern := range keys {
		if rewritten, ok := Rewrite(pattern, mapping[pattern], model); ok {
			return rewritten, true
		}
	}
	return model, false
}

// IsSupported reports whether model (after applying any matching
// model_mapping rewrite) is accepted by any "true"-valued glob in
// supportedModels. It checks both the rewritten name and the original
// requested name, since a mapping target is what the upstream actually
// receives but operators may also list the pre-mapping alias directly.
func IsSupported(supportedModels map[string]bool, modelMapping map[string]string, model string) bool {
	if len(supportedModels) == 0 {
		// No declared restriction: treat as supporting everything.
		return true
	}

	mapped, mappedOK := ApplyMapping(modelMapping, model)

	candidates := []string{model}
	if mappedOK {
		candidates = append(candidates, mapped)
	}

	keys := make([]string, 0, len(supportedModels))
	for k := range supportedModels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, pattern := range keys {
		if !supportedModels[pattern] {
			continue
		}
		for _, candidate := range candidates {
			if Matches(pattern, candidate) {
				return true
			}
		}
	}
	return false
}
