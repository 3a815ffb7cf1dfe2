package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/statestore"
)

func newTestCollector(t *testing.T, opts Options) (*Collector, *time.Time) {
	t.Helper()

	c := NewCollector(statestore.NewMemoryStore(), zerolog.Nop(), prometheus.NewRegistry(), opts)
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := &now
	c.SetClock(func() time.Time { return *clock })
	return c, clock
}

func TestReportStatistics(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())

	// 100 calls: latencies 1ms..100ms, every tenth one failed, every fifth cached.
	for i := 1; i <= 100; i++ {
		c.Record(CallRecord{
			At:         *clock,
			Duration:   time.Duration(i) * time.Millisecond,
			Characters: 10,
			Success:    i%10 != 0,
			Cached:     i%5 == 0,
		})
	}

	report := c.Report(context.Background())
	if report.Requests != 100 {
		t.Fatalf("requests = %d, want 100", report.Requests)
	}
	if report.MeanLatencyMs != 50.5 {
		t.Fatalf("mean = %f, want 50.5", report.MeanLatencyMs)
	}
	if report.MedianLatencyMs != 50 {
		t.Fatalf("median = %f, want 50", report.MedianLatencyMs)
	}
	if report.P95LatencyMs != 95 {
		t.Fatalf("p95 = %f, want 95", report.P95LatencyMs)
	}
	if report.P99LatencyMs != 99 {
		t.Fatalf("p99 = %f, want 99", report.P99LatencyMs)
	}
	if report.ErrorRate != 0.1 {
		t.Fatalf("error rate = %f, want 0.1", report.ErrorRate)
	}
	if report.CacheHitRate != 0.2 {
		t.Fatalf("cache hit rate = %f, want 0.2", report.CacheHitRate)
	}
	if report.CharactersTranslated != 1000 {
		t.Fatalf("characters = %d, want 1000", report.CharactersTranslated)
	}

	wantRPS := 100.0 / (5 * 60)
	if report.RequestsPerSecond != wantRPS {
		t.Fatalf("rps = %f, want %f", report.RequestsPerSecond, wantRPS)
	}
}

func TestReportCountsRetries(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())

	c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: true, Retries: 2})
	c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: false, Retries: 3})
	c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: true})

	report := c.Report(context.Background())
	if report.TotalRetries != 5 {
		t.Fatalf("total retries = %d, want 5", report.TotalRetries)
	}
}

func TestWindowPrunesByAge(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())

	c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: true})
	*clock = clock.Add(6 * time.Minute)
	c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: true})

	report := c.Report(context.Background())
	if report.Requests != 1 {
		t.Fatalf("requests = %d, want 1 after window expiry", report.Requests)
	}
}

func TestWindowPrunesByCount(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MaxRecords = 5
	c, clock := newTestCollector(t, opts)

	for i := 0; i < 20; i++ {
		c.Record(CallRecord{At: *clock, Duration: time.Millisecond, Success: true})
	}

	report := c.Report(context.Background())
	if report.Requests != 5 {
		t.Fatalf("requests = %d, want 5 with capped records", report.Requests)
	}
}

func TestEmptyWindowReport(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t, DefaultOptions())
	report := c.Report(context.Background())
	if report.Requests != 0 || report.ErrorRate != 0 || report.P95LatencyMs != 0 {
		t.Fatalf("expected zero report, got %+v", report)
	}
}
