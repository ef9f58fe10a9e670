package dispatcher

import (
	"net/http"
	"net/url"
	"strings"
)

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// BuildOutboundHeaders copies client into a fresh header set for the
// upstream request, dropping host, content-length, the fixed hop-by-hop
// set, and any header named by the client's own Connection value.
func BuildOutboundHeaders(client http.Header) http.Header {
	named := map[string]bool{}
	if conn := client.Get("Connection"); conn != "" {
		for _, tok := range strings.Split(conn, ",") {
			named[strings.ToLower(strings.TrimSpace(tok))] = true
		}
	}

	out := http.Header{}
	for name, values := range client {
		lower := strings.ToLower(name)
		if lower == "host" || lower == "content-length" {
			continue
		}
		if hopByHopHeaders[lower] || named[lower] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// FilterResponseHeaders copies upstream headers for forwarding to the
// client, dropping content-length and content-encoding (the proxy already
// decompressed the body while reading it, so a stale content-encoding would
// mislead the client) plus the hop-by-hop set.
func FilterResponseHeaders(upstream http.Header) http.Header {
	out := http.Header{}
	for name, values := range upstream {
		lower := strings.ToLower(name)
		if lower == "content-length" || lower == "content-encoding" {
			continue
		}
		if hopByHopHeaders[lower] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// BuildTargetURL assembles the outbound URL: baseURL's scheme/host/path
// plus the inbound path with basePath stripped (if the inbound path starts
// with it, avoiding a doubled prefix), carrying the inbound query string
// through unchanged.
func BuildTargetURL(baseURL, basePath, inboundPath, inboundRawQuery string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	remainder := inboundPath
	if basePath != "" && (remainder == basePath || strings.HasPrefix(remainder, basePath+"/")) {
		remainder = strings.TrimPrefix(remainder, basePath)
	}
	if remainder == "" {
		remainder = "/"
	}
	if !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + remainder
	parsed.RawQuery = inboundRawQuery
	return parsed.String(), nil
}
