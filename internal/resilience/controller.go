package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/cache"
	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/translation"
)

// Logical services tracked by the controller.
const (
	ServiceTranslation = "translation"
	ServiceCache       = "cache"
	ServiceQuota       = "quota"
	ServiceBatch       = "batch"
)

// Strategy is the recovery action selected after a failure.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategyCacheOnly Strategy = "cache_only"
	StrategyDegrade   Strategy = "degrade"
	StrategyFailFast  Strategy = "fail_fast"
)

// ErrorRecord is one normalized failure kept in the bounded history.
type ErrorRecord struct {
	At      time.Time         `json:"at"`
	Kind    translation.Kind  `json:"kind"`
	Message string            `json:"message"`
	Service string            `json:"service"`
	Context map[string]string `json:"context,omitempty"`
}

// RetryPolicy shapes backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// Delay computes the backoff before the given retry (0-based).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	delay := p.BaseDelay
	if p.Exponential {
		for i := 0; i < retryCount; i++ {
			delay *= 2
			if delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Options configures circuits, retries, and history.
type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	Retry            RetryPolicy
	HistoryCap       int
	HealthWindow     time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Exponential: true,
		},
		HistoryCap:   100,
		HealthWindow: 5 * time.Minute,
	}
}

// Outcome tells the gateway what to do with a failed batch.
type Outcome struct {
	Strategy Strategy
	Err      *translation.Error
	Delay    time.Duration
}

// Controller owns the per-service circuit breakers, the error history, and
// fallback-strategy selection. Cache-only and degraded fallbacks read the
// response cache and never fabricate translations.
type Controller struct {
	mu     sync.Mutex
	opts   Options
	store  statestore.Store
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time

	breakers map[string]*Breaker
	history  []ErrorRecord
	outcomes map[string][]outcomeEvent
}

type outcomeEvent struct {
	At     time.Time
	Failed bool
}

func NewController(store statestore.Store, responseCache *cache.Cache, logger zerolog.Logger, opts Options) *Controller {
	return &Controller{
		opts:     opts,
		store:    store,
		cache:    responseCache,
		logger:   logger.With().Str("component", "resilience").Logger(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
		outcomes: make(map[string][]outcomeEvent),
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// HandleError normalizes the failure, records it against the service circuit,
// and selects the fallback strategy for the given retry count.
func (c *Controller) HandleError(ctx context.Context, err error, service string, retryCount int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	classified := translation.Classify(err, service)
	now := c.now()

	c.appendRecord(ctx, ErrorRecord{
		At:      now,
		Kind:    classified.Kind,
		Message: classified.Message,
		Service: classified.Service,
		Context: map[string]string{"retry_count": fmt.Sprintf("%d", retryCount)},
	})
	c.recordOutcome(classified.Service, now, true)
	c.breaker(classified.Service).RecordFailure(now)

	outcome := Outcome{Err: classified, Strategy: c.selectStrategy(classified, retryCount)}
	if outcome.Strategy == StrategyRetry {
		outcome.Delay = c.opts.Retry.Delay(retryCount)
		if classified.RetryAfter > outcome.Delay {
			outcome.Delay = classified.RetryAfter
		}
	}

	c.logger.Debug().
		Str("service", classified.Service).
		Str("kind", string(classified.Kind)).
		Str("strategy", string(outcome.Strategy)).
		Int("retry_count", retryCount).
		Msg("selected fallback strategy")
	return outcome
}

// RecordSuccess resets the service's failure streak and closes a probing
// circuit.
func (c *Controller) RecordSuccess(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.recordOutcome(service, now, false)
	c.breaker(service).RecordSuccess(now)
}

// CircuitState evaluates and returns the service's circuit state.
func (c *Controller) CircuitState(service string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breaker(service).Evaluate(c.now())
}

// Allow reports whether the service circuit admits a call right now.
func (c *Controller) Allow(service string) bool {
	return c.CircuitState(service) != StateOpen
}

// CacheOnly resolves a text from the response cache. A miss is a cache-kind
// error: this fallback must never invent a translation.
func (c *Controller) CacheOnly(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	translated, found, err := c.cache.Get(ctx, text, sourceLang, targetLang)
	if err != nil {
		return "", translation.Classify(err, ServiceCache)
	}
	if !found {
		return "", translation.NewError(translation.KindCache, ServiceCache, "no cached translation available")
	}
	return translated, nil
}

// Degrade splits the text into sentence-bounded chunks and resolves each via
// the cache. Chunks with no cached translation pass through untranslated; the
// returned flag reports whether any chunk fell through.
func (c *Controller) Degrade(ctx context.Context, text, sourceLang, targetLang string) (string, bool, error) {
	chunks := splitSentences(text)
	if len(chunks) == 0 {
		return "", false, translation.NewError(translation.KindInvalidRequest, ServiceBatch, "nothing to degrade")
	}

	parts := make([]string, 0, len(chunks))
	degraded := false
	for _, chunk := range chunks {
		translated, err := c.CacheOnly(ctx, chunk, sourceLang, targetLang)
		if err != nil {
			parts = append(parts, chunk)
			degraded = true
			continue
		}
		parts = append(parts, translated)
	}
	return strings.Join(parts, " "), degraded, nil
}

// History returns a copy of the bounded error history.
func (c *Controller) History() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ErrorRecord, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) selectStrategy(err *translation.Error, retryCount int) Strategy {
	switch err.Kind {
	case translation.KindNetwork, translation.KindTimeout,
		translation.KindServiceUnavailable, translation.KindRateLimited:
		if retryCount < c.opts.Retry.MaxAttempts {
			return StrategyRetry
		}
		return StrategyCacheOnly
	case translation.KindQuotaExceeded, translation.KindUnauthorized, translation.KindForbidden:
		return StrategyCacheOnly
	case translation.KindInvalidRequest, translation.KindTextTooLong:
		return StrategyDegrade
	default:
		return StrategyFailFast
	}
}

func (c *Controller) breaker(service string) *Breaker {
	b, ok := c.breakers[service]
	if !ok {
		b = NewBreaker(c.opts.FailureThreshold, c.opts.RecoveryTimeout)
		c.breakers[service] = b
	}
	return b
}

func (c *Controller) appendRecord(ctx context.Context, record ErrorRecord) {
	c.history = append(c.history, record)
	if len(c.history) > c.opts.HistoryCap {
		c.history = c.history[len(c.history)-c.opts.HistoryCap:]
	}

	raw, err := json.Marshal(c.history)
	if err != nil {
		c.logger.Warn().Err(err).Msg("marshal error history")
		return
	}
	if err := c.store.Set(ctx, map[string][]byte{statestore.KeyErrorHistory: raw}); err != nil {
		c.logger.Warn().Err(err).Msg("persist error history")
	}
}

func (c *Controller) recordOutcome(service string, now time.Time, failed bool) {
	events := append(c.outcomes[service], outcomeEvent{At: now, Failed: failed})
	cutoff := now.Add(-c.opts.HealthWindow)
	pruned := events[:0]
	for _, event := range events {
		if event.At.After(cutoff) {
			pruned = append(pruned, event)
		}
	}
	c.outcomes[service] = pruned
}

// splitSentences chunks text on sentence-ending punctuation, keeping the
// delimiter with its sentence.
func splitSentences(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, r := range trimmed {
		current.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if chunk := strings.TrimSpace(current.String()); chunk != "" {
				chunks = append(chunks, chunk)
			}
			current.Reset()
		}
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
