package quota

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/statestore"
)

func newTestGovernor(t *testing.T, limits Limits) (*Governor, *time.Time) {
	t.Helper()

	g := NewGovernor(statestore.NewMemoryStore(), zerolog.Nop(), limits)
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	clock := &now
	g.SetClock(func() time.Time { return *clock })
	return g, clock
}

func TestMonthlyQuotaExceeded(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxCharactersPerMonth = 10
	g, _ := newTestGovernor(t, limits)
	ctx := context.Background()

	if err := g.RecordUsage(ctx, 8); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	decision, err := g.Check(ctx, 5)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected refusal over monthly quota")
	}
	if !decision.QuotaExceeded {
		t.Fatal("expected hard quota-exceeded flag")
	}
	if decision.RemainingCharacters != 2 {
		t.Fatalf("expected 2 remaining characters, got %d", decision.RemainingCharacters)
	}
	if decision.ResetAt != time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("expected reset at next month boundary, got %v", decision.ResetAt)
	}
}

func TestMinuteWindowSoftRefusal(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxCharactersPerMinute = 100
	g, clock := newTestGovernor(t, limits)
	ctx := context.Background()

	*clock = time.Date(2025, 6, 15, 10, 30, 20, 0, time.UTC)
	if err := g.RecordUsage(ctx, 90); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	decision, err := g.Check(ctx, 20)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed || decision.QuotaExceeded {
		t.Fatalf("expected soft refusal, got %+v", decision)
	}
	if decision.RetryAfter != 40*time.Second {
		t.Fatalf("expected retry after 40s (to minute boundary), got %s", decision.RetryAfter)
	}

	// Crossing the minute boundary resets the window lazily.
	*clock = time.Date(2025, 6, 15, 10, 31, 0, 0, time.UTC)
	decision, err = g.Check(ctx, 20)
	if err != nil {
		t.Fatalf("check after rollover: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected admission after minute rollover, got %+v", decision)
	}
}

func TestUsageMonotonicity(t *testing.T) {
	t.Parallel()

	g, _ := newTestGovernor(t, DefaultLimits())
	ctx := context.Background()

	charges := []int64{3, 7, 1, 12, 5}
	var sum int64
	for _, c := range charges {
		if err := g.RecordUsage(ctx, c); err != nil {
			t.Fatalf("record usage: %v", err)
		}
		sum += c
	}

	snapshot, err := g.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if snapshot.Month.Characters != sum {
		t.Fatalf("month characters = %d, want %d", snapshot.Month.Characters, sum)
	}
	if snapshot.Month.Requests != int64(len(charges)) {
		t.Fatalf("month requests = %d, want %d", snapshot.Month.Requests, len(charges))
	}
	if snapshot.Day.Characters != sum || snapshot.Minute.Characters != sum {
		t.Fatalf("expected all windows charged equally: %+v", snapshot)
	}
}

func TestTokenBucketBounds(t *testing.T) {
	t.Parallel()

	bucket := NewBucket(5, 2)
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	bucket.Refill(now)

	for i := 0; i < 20; i++ {
		bucket.Consume()
		if bucket.Tokens < 0 {
			t.Fatalf("tokens went negative: %f", bucket.Tokens)
		}
	}

	bucket.Refill(now.Add(time.Hour))
	if bucket.Tokens > bucket.Capacity {
		t.Fatalf("tokens exceeded capacity: %f > %f", bucket.Tokens, bucket.Capacity)
	}
	if bucket.Tokens != bucket.Capacity {
		t.Fatalf("expected full bucket after long idle, got %f", bucket.Tokens)
	}
}

func TestTokenBucketRefusalReportsRetryAfter(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxRequestsPerSecond = 2
	g, clock := newTestGovernor(t, limits)
	ctx := context.Background()

	// Drain the bucket: capacity 2, one token per recorded send.
	if err := g.RecordUsage(ctx, 1); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := g.RecordUsage(ctx, 1); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	decision, err := g.Check(ctx, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected rate refusal with empty bucket")
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Second {
		t.Fatalf("unexpected retry-after: %s", decision.RetryAfter)
	}

	// Half a second at 2 tokens/s refills one token.
	*clock = clock.Add(500 * time.Millisecond)
	decision, err = g.Check(ctx, 1)
	if err != nil {
		t.Fatalf("check after refill: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected admission after refill, got %+v", decision)
	}
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	store := statestore.NewMemoryStore()
	limits := DefaultLimits()
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	first := NewGovernor(store, zerolog.Nop(), limits)
	first.SetClock(func() time.Time { return now })
	ctx := context.Background()
	if err := first.RecordUsage(ctx, 42); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	second := NewGovernor(store, zerolog.Nop(), limits)
	second.SetClock(func() time.Time { return now })
	snapshot, err := second.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if snapshot.Month.Characters != 42 {
		t.Fatalf("expected persisted usage 42, got %d", snapshot.Month.Characters)
	}
}
