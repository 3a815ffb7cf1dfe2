package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/translation"
)

const quotaService = "quota"

// Limits caps character usage per calendar window and request rate.
type Limits struct {
	MaxCharactersPerMonth  int64
	MaxCharactersPerMinute int64
	MaxRequestsPerSecond   float64
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxCharactersPerMonth:  500000,
		MaxCharactersPerMinute: 1000,
		MaxRequestsPerSecond:   10,
	}
}

// DailyLimit derives the daily character cap from the minute cap. The daily
// window is tracked for reporting only; admission checks use month and minute.
func (l Limits) DailyLimit() int64 {
	return l.MaxCharactersPerMinute * 1440
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed             bool          `json:"allowed"`
	QuotaExceeded       bool          `json:"quota_exceeded"`
	Reason              string        `json:"reason,omitempty"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
	ResetAt             time.Time     `json:"reset_at,omitzero"`
	RemainingCharacters int64         `json:"remaining_characters"`
	RemainingRequests   int64         `json:"remaining_requests"`
}

// Snapshot reports current window usage for status endpoints.
type Snapshot struct {
	Month  Window  `json:"month"`
	Day    Window  `json:"day"`
	Minute Window  `json:"minute"`
	Tokens float64 `json:"tokens"`
	Limits Limits  `json:"limits"`
}

// Governor admits batch sends against month/minute character quotas and a
// token-bucket request-rate limit. State is durable: loaded lazily on first
// access and persisted after every recorded usage.
type Governor struct {
	mu     sync.Mutex
	limits Limits
	store  statestore.Store
	logger zerolog.Logger
	now    func() time.Time

	month  Window
	day    Window
	minute Window
	bucket Bucket
	loaded bool
}

func NewGovernor(store statestore.Store, logger zerolog.Logger, limits Limits) *Governor {
	return &Governor{
		limits: limits,
		store:  store,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
		bucket: NewBucket(limits.MaxRequestsPerSecond, limits.MaxRequestsPerSecond),
	}
}

// SetClock overrides the time source. Intended for tests.
func (g *Governor) SetClock(now func() time.Time) {
	g.now = now
}

// Check evaluates, in order: monthly window, minute window, token bucket.
// It never consumes quota; RecordUsage does that after a confirmed send.
func (g *Governor) Check(ctx context.Context, characterCount int64) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureLoaded(ctx); err != nil {
		return Decision{}, err
	}

	now := g.now().UTC()
	g.rollover(now)

	monthRemaining := g.limits.MaxCharactersPerMonth - g.month.Characters
	if g.month.Characters+characterCount > g.limits.MaxCharactersPerMonth {
		return Decision{
			Allowed:             false,
			QuotaExceeded:       true,
			Reason:              "monthly character quota exceeded",
			ResetAt:             nextMonthStart(now),
			RemainingCharacters: maxInt64(monthRemaining, 0),
		}, nil
	}

	if g.minute.Characters+characterCount > g.limits.MaxCharactersPerMinute {
		return Decision{
			Allowed:             false,
			Reason:              "per-minute character limit reached",
			RetryAfter:          g.minute.StartedAt.Add(time.Minute).Sub(now),
			RemainingCharacters: maxInt64(g.limits.MaxCharactersPerMinute-g.minute.Characters, 0),
		}, nil
	}

	g.bucket.Refill(now)
	if !g.bucket.HasToken() {
		return Decision{
			Allowed:             false,
			Reason:              "request rate limit reached",
			RetryAfter:          g.bucket.TimeToNextToken(),
			RemainingCharacters: monthRemaining - characterCount,
		}, nil
	}

	return Decision{
		Allowed:             true,
		RemainingCharacters: monthRemaining - characterCount,
		RemainingRequests:   int64(g.bucket.Tokens),
	}, nil
}

// RecordUsage charges all three windows and consumes one token. Only call
// after a confirmed successful send.
func (g *Governor) RecordUsage(ctx context.Context, characterCount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureLoaded(ctx); err != nil {
		return err
	}

	now := g.now().UTC()
	g.rollover(now)

	g.month.Add(characterCount)
	g.day.Add(characterCount)
	g.minute.Add(characterCount)
	g.bucket.Refill(now)
	g.bucket.Consume()

	return g.persist(ctx)
}

// Usage returns the current window snapshot after rollover.
func (g *Governor) Usage(ctx context.Context) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureLoaded(ctx); err != nil {
		return Snapshot{}, err
	}

	now := g.now().UTC()
	g.rollover(now)
	g.bucket.Refill(now)

	return Snapshot{
		Month:  g.month,
		Day:    g.day,
		Minute: g.minute,
		Tokens: g.bucket.Tokens,
		Limits: g.limits,
	}, nil
}

// rollover realigns each window to the current calendar boundary before any
// read or write, resetting counters when a boundary has been crossed.
func (g *Governor) rollover(now time.Time) {
	g.month.RealignTo(monthStart(now))
	g.day.RealignTo(dayStart(now))
	g.minute.RealignTo(minuteStart(now))
}

type persistedState struct {
	Month  Window `json:"month"`
	Day    Window `json:"day"`
	Minute Window `json:"minute"`
	Bucket Bucket `json:"bucket"`
}

func (g *Governor) ensureLoaded(ctx context.Context) error {
	if g.loaded {
		return nil
	}
	g.loaded = true

	records, err := g.store.Get(ctx,
		statestore.KeyUsageMonth, statestore.KeyUsageDay,
		statestore.KeyUsageMinute, statestore.KeyTokenBucket)
	if err != nil {
		return translation.WrapError(translation.KindUnknown, quotaService, fmt.Errorf("load quota state: %w", err))
	}

	unmarshalInto := func(key string, target any) {
		raw, ok := records[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(raw, target); err != nil {
			g.logger.Warn().Str("key", key).Err(err).Msg("discarding unreadable quota record")
		}
	}
	unmarshalInto(statestore.KeyUsageMonth, &g.month)
	unmarshalInto(statestore.KeyUsageDay, &g.day)
	unmarshalInto(statestore.KeyUsageMinute, &g.minute)

	if raw, ok := records[statestore.KeyTokenBucket]; ok {
		var bucket Bucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			g.logger.Warn().Err(err).Msg("discarding unreadable token bucket record")
		} else if bucket.Capacity > 0 {
			bucket.Clamp()
			g.bucket = bucket
		}
	}
	return nil
}

func (g *Governor) persist(ctx context.Context) error {
	records := make(map[string][]byte, 4)
	marshal := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		records[key] = raw
		return nil
	}
	if err := marshal(statestore.KeyUsageMonth, g.month); err != nil {
		return err
	}
	if err := marshal(statestore.KeyUsageDay, g.day); err != nil {
		return err
	}
	if err := marshal(statestore.KeyUsageMinute, g.minute); err != nil {
		return err
	}
	if err := marshal(statestore.KeyTokenBucket, g.bucket); err != nil {
		return err
	}

	if err := g.store.Set(ctx, records); err != nil {
		return translation.WrapError(translation.KindUnknown, quotaService, fmt.Errorf("persist quota state: %w", err))
	}
	return nil
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func nextMonthStart(now time.Time) time.Time {
	return monthStart(now).AddDate(0, 1, 0)
}

func dayStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func minuteStart(now time.Time) time.Time {
	return now.Truncate(time.Minute)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
