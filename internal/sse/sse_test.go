package sse

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopFlusher struct{ flushes int }

func (f *nopFlusher) Flush() { f.flushes++ }

func TestForward_CopiesBytesThrough(t *testing.T) {
	var out bytes.Buffer
	body := strings.NewReader("event: ping\ndata: {}\n\ndata: [DONE]\n")
	f := &nopFlusher{}

	_, usage := Forward(&out, f, body, time.Now())

	assert.Equal(t, "event: ping\ndata: {}\n\ndata: [DONE]\n", out.String())
	assert.Nil(t, usage)
	assert.Greater(t, f.flushes, 0)
}

// Mirrors the late-usage scenario: a large prefix of unrelated event lines
// followed by one usage-bearing data line near the end of the stream.
func TestForward_FindsUsageAfterLargeNonDataPrefix(t *testing.T) {
	var sb strings.Builder
	filler := strings.Repeat("event: response.output_text.delta\n", 40_000) // well over 1 MiB
	sb.WriteString(filler)
	sb.WriteString(`data: {"response":{"usage":{"input_tokens":1,"output_tokens":2,"total_tokens":3}}}` + "\n")

	var out bytes.Buffer
	_, usage := Forward(&out, nil, strings.NewReader(sb.String()), time.Now())

	require.NotNil(t, usage)
	assert.Equal(t, int64(1), usage.Input)
	assert.Equal(t, int64(2), usage.Output)
	assert.Equal(t, int64(3), usage.Total)
	assert.Equal(t, sb.String(), out.String())
}

func TestForward_FlatUsageShapeFallback(t *testing.T) {
	var out bytes.Buffer
	body := strings.NewReader(`data: {"usage":{"input_tokens":5,"output_tokens":7,"total_tokens":12}}` + "\n")

	_, usage := Forward(&out, nil, body, time.Now())

	require.NotNil(t, usage)
	assert.Equal(t, int64(12), usage.Total)
}

func TestForward_TTFBMeasuresFirstByte(t *testing.T) {
	var out bytes.Buffer
	start := time.Now().Add(-50 * time.Millisecond)
	ttfb, _ := Forward(&out, nil, strings.NewReader("data: {}\n"), start)
	assert.GreaterOrEqual(t, ttfb, int64(40))
}
