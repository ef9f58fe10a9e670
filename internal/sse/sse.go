// Package sse forwards an upstream Server-Sent Events body to the client
// byte-for-byte while incrementally scanning for a usage payload, without
// ever buffering the whole stream in memory.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"
)

// UsageTokens is the token-usage payload lazily parsed out of the stream.
type UsageTokens struct {
	Input     int64
	Output    int64
	Reasoning int64
	Total     int64
}

// Flusher is the subset of http.Flusher the forwarder needs; accepting the
// interface directly (rather than *http.ResponseWriter) keeps this package
// testable without a real HTTP round trip.
type Flusher interface {
	Flush()
}

// Forward copies body to w line-by-line (SSE frames are newline-delimited),
// flushing after every line so the client sees bytes as they arrive, and
// returns the time-to-first-byte and any usage payload found along the way.
// requestStart anchors the ttfb measurement; the first successful read marks
// ttfb. usage parsing stops scanning once a payload is found (the rest of
// the stream still passes through, just without further inspection).
func Forward(w io.Writer, flusher Flusher, body io.Reader, requestStart time.Time) (ttfbMs int64, usage *UsageTokens) {
	reader := bufio.NewReaderSize(body, 64*1024)
	first := true

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if first {
				ttfbMs = time.Since(requestStart).Milliseconds()
				first = false
			}
			_, _ = w.Write(line)
			if flusher != nil {
				flusher.Flush()
			}
			if usage == nil {
				if u, ok := tryParseUsageLine(line); ok {
					usage = u
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	return ttfbMs, usage
}

// tryParseUsageLine recognizes "data: {...}" lines and attempts to pull a
// usage object out of either {"response":{"usage":{...}}} (the documented
// shape) or a bare top-level {"usage":{...}} (seen on some providers'
// non-nested event shapes). Any line that isn't a JSON data event is
// rejected cheaply (prefix/brace checks) before paying for a json.Unmarshal.
func tryParseUsageLine(line []byte) (*UsageTokens, bool) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimSpace(trimmed[len("data:"):])
	if len(payload) == 0 || payload[0] != '{' {
		return nil, false
	}
	if !bytes.Contains(payload, []byte(`"usage"`)) {
		return nil, false
	}

	var nested struct {
		Response struct {
			Usage usagePayload `json:"usage"`
		} `json:"response"`
	}
	if err := json.Unmarshal(payload, &nested); err == nil && nested.Response.Usage.nonZero() {
		return nested.Response.Usage.tokens(), true
	}

	var flat struct {
		Usage usagePayload `json:"usage"`
	}
	if err := json.Unmarshal(payload, &flat); err == nil && flat.Usage.nonZero() {
		return flat.Usage.tokens(), true
	}
	return nil, false
}

type usagePayload struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

func (u usagePayload) nonZero() bool {
	return u.InputTokens != 0 || u.OutputTokens != 0 || u.ReasoningTokens != 0 || u.TotalTokens != 0
}

func (u usagePayload) tokens() *UsageTokens {
	return &UsageTokens{Input: u.InputTokens, Output: u.OutputTokens, Reasoning: u.ReasoningTokens, Total: u.TotalTokens}
}
