package extract

import (
	"testing"
	"time"
)

func TestLLMStatsSnapshotPercentiles(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.RecordCall(100*time.Millisecond, "", nil)
	stats.RecordCall(200*time.Millisecond, "", nil)
	stats.RecordCall(300*time.Millisecond, "", nil)
	stats.RecordCall(400*time.Millisecond, "", nil)
	stats.RecordCall(500*time.Millisecond, "", nil)

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 {
		t.Fatalf("expected min=100, got %d", snap.MinMs)
	}
	if snap.MaxMs != 500 {
		t.Fatalf("expected max=500, got %d", snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestLLMStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewLLMStats(10 * time.Millisecond)
	stats.RecordCall(100*time.Millisecond, "", nil)
	time.Sleep(25 * time.Millisecond)

	snap := stats.Snapshot()
	if snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}

	stats.RecordCall(200*time.Millisecond, "", nil)
	snap = stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1 for fresh sample, got %d", snap.Count)
	}
	if snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected min=max=200, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestLLMStatsClampsNegativeDuration(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.RecordCall(-10*time.Millisecond, "", nil)
	snap := stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped duration=0, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestLLMStatsCountsFailuresAndTokens(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.RecordCall(120*time.Millisecond, "", &Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	stats.RecordCall(80*time.Millisecond, KindRateLimit, nil)
	stats.RecordCall(90*time.Millisecond, KindRateLimit, nil)
	stats.RecordCall(5*time.Second, KindServer, nil)

	snap := stats.Snapshot()
	if snap.Count != 4 {
		t.Fatalf("expected count=4, got %d", snap.Count)
	}
	if snap.Failures[KindRateLimit] != 2 || snap.Failures[KindServer] != 1 {
		t.Fatalf("unexpected failures: %v", snap.Failures)
	}
	if _, ok := snap.Failures[KindClient]; ok {
		t.Fatalf("no client failures were recorded: %v", snap.Failures)
	}
	if snap.Tokens.TotalTokens != 120 || snap.Tokens.PromptTokens != 100 {
		t.Fatalf("unexpected tokens: %+v", snap.Tokens)
	}
	if snap.MaxMs != 5000 {
		t.Fatalf("expected max=5000, got %d", snap.MaxMs)
	}
}
