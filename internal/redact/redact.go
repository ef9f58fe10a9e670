// Package redact centralizes the sensitive-header set so every logger that
// accepts header entries goes through the same redaction helper rather than
// each call site inventing its own denylist.
package redact

import "net/http"

// Sensitive lists header names (lowercase) whose values must never appear in
// a log record verbatim.
var Sensitive = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-forwarded-api-key": true,
	"x-goog-api-key":      true,
}

const Placeholder = "[REDACTED]"

// Headers returns a copy of h suitable for logging: sensitive header values
// replaced with the literal placeholder, everything else passed through.
func Headers(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		if Sensitive[httpCanonicalLower(name)] {
			redacted := make([]string, len(values))
			for i := range values {
				redacted[i] = Placeholder
			}
			out[name] = redacted
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func httpCanonicalLower(name string) string {
	// http.Header keys are already canonicalized (e.g. "Authorization"); a
	// plain lowercase pass is enough to match the set above.
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
