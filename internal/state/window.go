package state

import "sort"

// WindowStats is the derived statistics view over a time window of finished
// requests, per the dashboard's 5m/1h cards.
type WindowStats struct {
	Total       int
	OK2xx       int
	Err429      int
	Err4xx      int
	Err5xx      int
	P50Ms       *int64
	P95Ms       *int64
	AvgAttempts *float64
	RetryRate   *float64
	TopProvider *NamedCount
	TopConfig   *NamedCount
}

// NamedCount is an arg-max result: a key and its frequency.
type NamedCount struct {
	Name  string
	Count int
}

// percentile returns the value at index ceil(p*(n-1)) of the sorted slice,
// clamped to n-1. Uses a full sort rather than a selection algorithm; these
// slices are at most a few thousand long, so the O(n log n) cost is
// immaterial.
func percentile(values []int64, p float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	idx := int(ceilF(p * float64(n-1)))
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	v := sorted[idx]
	return &v
}

func ceilF(f float64) float64 {
	i := int64(f)
	if f > float64(i) {
		return float64(i + 1)
	}
	return float64(i)
}

// ComputeWindowStats scans recent for entries with EndedAtMs >= nowMs -
// windowMs and satisfying include, and derives: totals by status class,
// p50/p95 of 2xx latencies, average attempts, retry rate, and arg-max
// provider/config among 2xx requests (empty or whitespace-only keys
// ignored).
func ComputeWindowStats(recent []FinishedRequest, nowMs int64, windowMs int64, include func(FinishedRequest) bool) WindowStats {
	cutoff := nowMs - windowMs
	if cutoff < 0 {
		cutoff = 0
	}

	var out WindowStats
	var okLatencies []int64
	var attemptsSum int64
	var retryCount int64

	byProvider := map[string]int{}
	byConfig := map[string]int{}

	for _, r := range recent {
		if r.EndedAtMs < cutoff {
			continue
		}
		if include != nil && !include(r) {
			continue
		}
		out.Total++

		attempts := 1
		if r.Retry != nil {
			attempts = r.Retry.Attempts
		}
		attemptsSum += int64(attempts)
		if attempts > 1 {
			retryCount++
		}

		switch {
		case r.StatusCode == 429:
			out.Err429++
		case r.StatusCode >= 400 && r.StatusCode < 500:
			out.Err4xx++
		case r.StatusCode >= 500 && r.StatusCode < 600:
			out.Err5xx++
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			out.OK2xx++
			okLatencies = append(okLatencies, r.DurationMs)

			if name := trimmed(r.ProviderID); name != "" {
				byProvider[name]++
			}
			if name := trimmed(r.ConfigName); name != "" {
				byConfig[name]++
			}
		}
	}

	out.P50Ms = percentile(okLatencies, 0.50)
	out.P95Ms = percentile(okLatencies, 0.95)
	if out.Total > 0 {
		avg := float64(attemptsSum) / float64(out.Total)
		rate := float64(retryCount) / float64(out.Total)
		out.AvgAttempts = &avg
		out.RetryRate = &rate
	}
	out.TopProvider = argMax(byProvider)
	out.TopConfig = argMax(byConfig)
	return out
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func argMax(m map[string]int) *NamedCount {
	var best *NamedCount
	for k, v := range m {
		if best == nil || v > best.Count {
			best = &NamedCount{Name: k, Count: v}
		}
	}
	return best
}

// WindowStatsFor computes WindowStats over the store's current recent ring
// for the given window duration in milliseconds.
func (s *Store) WindowStatsFor(windowMs int64) WindowStats {
	s.recentMu.Lock()
	recent := append([]FinishedRequest(nil), s.allRecentLocked()...)
	s.recentMu.Unlock()
	return ComputeWindowStats(recent, NowMs(), windowMs, nil)
}
