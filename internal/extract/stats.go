package extract

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	kind       Kind // Empty on success.
	usage      Usage
}

// StatsSnapshot is a point-in-time aggregate of LLM call samples.
type StatsSnapshot struct {
	Count    int          `json:"count"`
	Failures map[Kind]int `json:"failures,omitempty"`
	Tokens   Usage        `json:"tokens"`
	MinMs    int64        `json:"min_ms"`
	MaxMs    int64        `json:"max_ms"`
	AvgMs    float64      `json:"avg_ms"`
	P50Ms    float64      `json:"p50_ms"`
	P95Ms    float64      `json:"p95_ms"`
	P99Ms    float64      `json:"p99_ms"`
}

// LLMStats tracks recent LLM calls within a rolling window: latency,
// failures by kind, and token usage.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// RecordCall adds one transport call. kind is empty on success.
func (s *LLMStats) RecordCall(d time.Duration, kind Kind, usage *Usage) {
	sm := sample{durationMs: d.Milliseconds(), kind: kind}
	if usage != nil {
		sm.usage = *usage
	}
	s.add(sm)
}

func (s *LLMStats) add(sm sample) {
	if sm.durationMs < 0 {
		sm.durationMs = 0
	}
	sm.timestamp = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(sm.timestamp)
	s.samples = append(s.samples, sm)
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}

	values := make([]int64, 0, len(s.samples))
	var sum int64
	var tokens Usage
	var failures map[Kind]int
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		tokens.Add(&sm.usage)
		if sm.kind != "" {
			if failures == nil {
				failures = make(map[Kind]int)
			}
			failures[sm.kind]++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count:    len(values),
		Failures: failures,
		Tokens:   tokens,
		MinMs:    values[0],
		MaxMs:    values[len(values)-1],
		AvgMs:    float64(sum) / float64(len(values)),
		P50Ms:    percentile(values, 50),
		P95Ms:    percentile(values, 95),
		P99Ms:    percentile(values, 99),
	}
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	if lower == upper {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
