package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/cache"
	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/translation"
)

func newTestController(t *testing.T) (*Controller, *time.Time) {
	t.Helper()

	store := statestore.NewMemoryStore()
	responseCache, err := cache.New(store, zerolog.Nop(), cache.DefaultOptions())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	c := NewController(store, responseCache, zerolog.Nop(), DefaultOptions())
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := &now
	c.SetClock(func() time.Time { return *clock })
	return c, clock
}

func TestStrategySelection(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		err        error
		retryCount int
		want       Strategy
	}{
		{
			name: "transient under budget retries",
			err:  translation.NewError(translation.KindTimeout, ServiceTranslation, "timed out"),
			want: StrategyRetry,
		},
		{
			name:       "transient over budget falls to cache",
			err:        translation.NewError(translation.KindNetwork, ServiceTranslation, "refused"),
			retryCount: 3,
			want:       StrategyCacheOnly,
		},
		{
			name: "quota exhaustion never retries",
			err:  translation.NewError(translation.KindQuotaExceeded, ServiceQuota, "monthly budget spent"),
			want: StrategyCacheOnly,
		},
		{
			name: "auth failure never retries",
			err:  translation.NewError(translation.KindUnauthorized, ServiceTranslation, "bad key"),
			want: StrategyCacheOnly,
		},
		{
			name: "oversized text degrades",
			err:  translation.NewError(translation.KindTextTooLong, ServiceTranslation, "payload too large"),
			want: StrategyDegrade,
		},
		{
			name: "parse failure fails fast",
			err:  translation.NewError(translation.KindParsing, ServiceTranslation, "bad response body"),
			want: StrategyFailFast,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := c.HandleError(ctx, tc.err, ServiceTranslation, tc.retryCount)
			if outcome.Strategy != tc.want {
				t.Fatalf("strategy = %s, want %s", outcome.Strategy, tc.want)
			}
		})
	}
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()
	err := translation.NewError(translation.KindServiceUnavailable, ServiceTranslation, "down")

	first := c.HandleError(ctx, err, ServiceTranslation, 0)
	second := c.HandleError(ctx, err, ServiceTranslation, 1)
	third := c.HandleError(ctx, err, ServiceTranslation, 2)

	if first.Delay != time.Second || second.Delay != 2*time.Second || third.Delay != 4*time.Second {
		t.Fatalf("delays = %s, %s, %s; want 1s, 2s, 4s", first.Delay, second.Delay, third.Delay)
	}
}

func TestRetryDelayHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()

	err := translation.NewError(translation.KindRateLimited, ServiceTranslation, "slow down")
	err.RetryAfter = 10 * time.Second

	outcome := c.HandleError(ctx, err, ServiceTranslation, 0)
	if outcome.Strategy != StrategyRetry {
		t.Fatalf("strategy = %s, want retry", outcome.Strategy)
	}
	if outcome.Delay != 10*time.Second {
		t.Fatalf("delay = %s, want the upstream hint of 10s", outcome.Delay)
	}
}

func TestCircuitOpensAndBlocksCalls(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t)
	ctx := context.Background()
	err := translation.NewError(translation.KindNetwork, ServiceTranslation, "refused")

	for i := 0; i < 5; i++ {
		if !c.Allow(ServiceTranslation) {
			t.Fatalf("circuit blocked before threshold at failure %d", i)
		}
		c.HandleError(ctx, err, ServiceTranslation, 0)
	}

	if c.Allow(ServiceTranslation) {
		t.Fatal("expected open circuit to block calls")
	}
	if got := c.CircuitState(ServiceTranslation); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	// After the recovery timeout the circuit probes, and one success closes it.
	*clock = clock.Add(61 * time.Second)
	if got := c.CircuitState(ServiceTranslation); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open after recovery timeout", got)
	}
	if !c.Allow(ServiceTranslation) {
		t.Fatal("expected half-open circuit to admit a probe")
	}

	c.RecordSuccess(ServiceTranslation)
	if got := c.CircuitState(ServiceTranslation); got != StateClosed {
		t.Fatalf("state = %s, want closed after probe success", got)
	}
}

func TestCacheOnlyNeverFabricates(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()

	if _, err := c.CacheOnly(ctx, "never seen", "en", "de"); err == nil {
		t.Fatal("expected error on cache miss")
	} else if kind := translation.Classify(err, "").Kind; kind != translation.KindCache {
		t.Fatalf("miss kind = %s, want cache", kind)
	}

	if err := c.cache.Set(ctx, "hello", "hallo", "en", "de"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	got, err := c.CacheOnly(ctx, "hello", "en", "de")
	if err != nil {
		t.Fatalf("cache only: %v", err)
	}
	if got != "hallo" {
		t.Fatalf("translated = %q, want %q", got, "hallo")
	}
}

func TestDegradeTranslatesCachedSentences(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()

	if err := c.cache.Set(ctx, "Hello world.", "Hallo Welt.", "en", "de"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	got, degraded, err := c.Degrade(ctx, "Hello world. Unseen sentence!", "en", "de")
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded flag when a chunk misses the cache")
	}
	if got != "Hallo Welt. Unseen sentence!" {
		t.Fatalf("degraded output = %q", got)
	}

	got, degraded, err = c.Degrade(ctx, "Hello world.", "en", "de")
	if err != nil {
		t.Fatalf("degrade fully cached: %v", err)
	}
	if degraded {
		t.Fatal("expected no degradation when every chunk is cached")
	}
	if got != "Hallo Welt." {
		t.Fatalf("output = %q", got)
	}
}

func TestErrorHistoryIsBoundedAndPersisted(t *testing.T) {
	t.Parallel()

	store := statestore.NewMemoryStore()
	responseCache, err := cache.New(store, zerolog.Nop(), cache.DefaultOptions())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	opts := DefaultOptions()
	opts.HistoryCap = 3
	c := NewController(store, responseCache, zerolog.Nop(), opts)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.HandleError(ctx, translation.NewError(translation.KindNetwork, ServiceTranslation, "refused"), ServiceTranslation, 0)
	}

	history := c.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}

	values, err := store.Get(ctx, statestore.KeyErrorHistory)
	if err != nil {
		t.Fatalf("get persisted history: %v", err)
	}
	if len(values[statestore.KeyErrorHistory]) == 0 {
		t.Fatal("expected persisted error history")
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	got := splitSentences("One. Two! Three? Tail without punctuation")
	want := []string{"One.", "Two!", "Three?", "Tail without punctuation"}
	if len(got) != len(want) {
		t.Fatalf("chunks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}

	if chunks := splitSentences("   "); chunks != nil {
		t.Fatalf("expected nil for blank input, got %v", chunks)
	}
}
