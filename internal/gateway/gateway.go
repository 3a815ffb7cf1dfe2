package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/cache"
	"horse.fit/lingo/internal/langdetect"
	"horse.fit/lingo/internal/language"
	"horse.fit/lingo/internal/quota"
	"horse.fit/lingo/internal/resilience"
	"horse.fit/lingo/internal/telemetry"
	"horse.fit/lingo/internal/translation"
)

// Request is one translation submitted by a caller.
type Request struct {
	Text       string
	SourceLang string // empty = auto-detect
	TargetLang string
	Priority   Priority
	Timeout    time.Duration // 0 = default; honored only while queued
	Category   string
	TextType   string
}

// Result is delivered exactly once on the channel returned by Translate.
type Result struct {
	Text     string
	Degraded bool // some chunks passed through untranslated
	Err      error
}

// Options tunes batch assembly and the scheduler.
type Options struct {
	MaxTextsPerBatch  int
	MaxBatchSizeBytes int
	MaxWait           time.Duration
	TickInterval      time.Duration
	DefaultTimeout    time.Duration
	BatchingEnabled   bool
	DetectLanguage    bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxTextsPerBatch:  25,
		MaxBatchSizeBytes: 30000,
		MaxWait:           2 * time.Second,
		TickInterval:      100 * time.Millisecond,
		DefaultTimeout:    30 * time.Second,
		BatchingEnabled:   true,
		DetectLanguage:    true,
	}
}

// Stats is a point-in-time view of gateway throughput.
type Stats struct {
	QueueDepth       int     `json:"queue_depth"`
	PendingRetries   int     `json:"pending_retries"`
	BatchesSent      int64   `json:"batches_sent"`
	RequestsResolved int64   `json:"requests_resolved"`
	RequestsRejected int64   `json:"requests_rejected"`
	AverageBatchSize float64 `json:"average_batch_size"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

type processingBatch struct {
	id         string
	requests   []*queuedRequest
	sourceLang string
	targetLang string
	category   string
	textType   string
	characters int64
	retryCount int
	dueAt      time.Time // earliest retry time, zero for first sends
}

// Gateway is the façade callers use. It serves cache hits synchronously,
// queues misses, and runs a single scheduler that assembles language-pair
// homogeneous batches, admits them through the quota governor, sends them to
// the backend, and routes failures through the resilience controller. One
// batch is in flight per tick; retries come back through the same scheduler.
type Gateway struct {
	mu     sync.Mutex
	opts   Options
	cache  *cache.Cache
	quota  *quota.Governor
	res    *resilience.Controller
	tel    *telemetry.Collector
	prov   translation.Provider
	logger zerolog.Logger
	now    func() time.Time
	detect func(string) string

	queue   requestQueue
	retries []*processingBatch

	batchesSent  int64
	resolved     int64
	rejected     int64
	sumBatchSize int64
	sumLatency   time.Duration
}

func New(prov translation.Provider, responseCache *cache.Cache, governor *quota.Governor, controller *resilience.Controller, collector *telemetry.Collector, logger zerolog.Logger, opts Options) *Gateway {
	if !opts.BatchingEnabled {
		opts.MaxTextsPerBatch = 1
	}
	g := &Gateway{
		opts:   opts,
		cache:  responseCache,
		quota:  governor,
		res:    controller,
		tel:    collector,
		prov:   prov,
		logger: logger.With().Str("component", "gateway").Logger(),
		now:    time.Now,
		detect: func(string) string { return "" },
	}
	if opts.DetectLanguage {
		g.detect = langdetect.DetectISO6391
	}
	return g
}

// SetClock overrides the time source. Intended for tests.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Translate validates the request, serves it from cache when possible, and
// otherwise queues it for batch assembly. The returned channel receives
// exactly one Result.
func (g *Gateway) Translate(ctx context.Context, req Request) <-chan Result {
	result := make(chan Result, 1)
	deliver := func(res Result) <-chan Result {
		result <- res
		close(result)
		return result
	}

	if strings.TrimSpace(req.Text) == "" {
		return deliver(Result{Err: translation.NewError(translation.KindInvalidRequest, resilience.ServiceBatch, "text must not be empty")})
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		return deliver(Result{Err: translation.NewError(translation.KindInvalidRequest, resilience.ServiceBatch, "target language is required")})
	}

	sourceLang := language.NormalizeCode(req.SourceLang)
	targetLang := language.NormalizeCode(req.TargetLang)
	if sourceLang == "" || sourceLang == language.AutoCode || sourceLang == language.UndeterminedCode {
		sourceLang = language.AutoCode
		if detected := g.detect(req.Text); detected != "" {
			sourceLang = detected
		}
	}

	now := g.now()
	if translated, found, err := g.cache.Get(ctx, req.Text, sourceLang, targetLang); err != nil {
		g.logger.Warn().Err(err).Msg("cache lookup failed, treating as miss")
	} else if found {
		g.recordCall(telemetry.CallRecord{
			At:         now,
			Characters: charCount(req.Text),
			SourceLang: sourceLang,
			TargetLang: targetLang,
			Success:    true,
			Cached:     true,
		})
		g.mu.Lock()
		g.resolved++
		g.mu.Unlock()
		return deliver(Result{Text: translated})
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.opts.DefaultTimeout
	}
	textType := req.TextType
	if textType == "" {
		textType = translation.TextTypePlain
	}

	queued := &queuedRequest{
		id:         uuid.NewString(),
		text:       req.Text,
		sourceLang: sourceLang,
		targetLang: targetLang,
		pairKey:    language.PairKey(sourceLang, targetLang),
		priority:   req.Priority,
		category:   req.Category,
		textType:   textType,
		enqueuedAt: now,
		deadline:   now.Add(timeout),
		result:     result,
	}

	g.mu.Lock()
	g.queue.Push(queued)
	g.mu.Unlock()
	return result
}

// TranslateText is the blocking convenience wrapper around Translate.
func (g *Gateway) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	result := g.Translate(ctx, Request{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Priority:   PriorityNormal,
	})
	select {
	case res := <-result:
		return res.Text, res.Err
	case <-ctx.Done():
		return "", translation.Classify(ctx.Err(), resilience.ServiceBatch)
	}
}

// Run drives the scheduler until the context ends, then rejects everything
// still pending.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.drain()
			return
		case <-ticker.C:
			g.processTick(ctx)
		}
	}
}

// processTick runs one scheduler step: expire queued timeouts, then send at
// most one batch. A due retry takes precedence over a fresh assembly.
func (g *Gateway) processTick(ctx context.Context) {
	now := g.now()
	g.expireQueued(now)

	if batch := g.dueRetry(now); batch != nil {
		g.send(ctx, batch)
		return
	}
	if batch := g.assembleBatch(now); batch != nil {
		g.send(ctx, batch)
	}
}

// Stats returns current throughput counters and running averages.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := Stats{
		QueueDepth:       g.queue.Len(),
		PendingRetries:   len(g.retries),
		BatchesSent:      g.batchesSent,
		RequestsResolved: g.resolved,
		RequestsRejected: g.rejected,
	}
	if g.batchesSent > 0 {
		stats.AverageBatchSize = float64(g.sumBatchSize) / float64(g.batchesSent)
		stats.AverageLatencyMs = float64(g.sumLatency.Milliseconds()) / float64(g.batchesSent)
	}
	return stats
}

func (g *Gateway) expireQueued(now time.Time) {
	g.mu.Lock()
	dropped := g.queue.DropExpired(now)
	g.rejected += int64(len(dropped))
	g.mu.Unlock()

	for _, r := range dropped {
		err := translation.NewError(translation.KindTimeout, resilience.ServiceBatch, "request timed out in queue")
		r.resolve(Result{Err: err})
		g.recordCall(telemetry.CallRecord{
			At:         now,
			Characters: charCount(r.text),
			SourceLang: r.sourceLang,
			TargetLang: r.targetLang,
			ErrorKind:  translation.KindTimeout,
		})
	}
}

// assembleBatch collects the head run once it is full or the head has waited
// past MaxWait. Anything less keeps accumulating.
func (g *Gateway) assembleBatch(now time.Time) *processingBatch {
	g.mu.Lock()
	defer g.mu.Unlock()

	head := g.queue.Head()
	if head == nil {
		return nil
	}
	forced := now.Sub(head.enqueuedAt) >= g.opts.MaxWait
	if !forced && !g.queue.runFull(g.opts.MaxTextsPerBatch, g.opts.MaxBatchSizeBytes) {
		return nil
	}

	requests := g.queue.CollectBatch(g.opts.MaxTextsPerBatch, g.opts.MaxBatchSizeBytes)
	if len(requests) == 0 {
		return nil
	}

	batch := &processingBatch{
		id:         uuid.NewString(),
		requests:   requests,
		sourceLang: head.sourceLang,
		targetLang: head.targetLang,
		category:   head.category,
		textType:   head.textType,
	}
	for _, r := range requests {
		batch.characters += int64(charCount(r.text))
	}
	return batch
}

func (g *Gateway) send(ctx context.Context, batch *processingBatch) {
	if !g.res.Allow(resilience.ServiceTranslation) {
		g.logger.Warn().Str("batch", batch.id).Msg("translation circuit open, serving from cache")
		g.resolveViaCache(ctx, batch,
			translation.NewError(translation.KindServiceUnavailable, resilience.ServiceTranslation, "translation circuit open"))
		return
	}

	decision, err := g.quota.Check(ctx, batch.characters)
	if err != nil {
		g.logger.Error().Err(err).Str("batch", batch.id).Msg("quota check failed")
		g.pushBack(batch, time.Second)
		return
	}
	if !decision.Allowed {
		g.logger.Debug().
			Str("batch", batch.id).
			Str("reason", decision.Reason).
			Dur("retry_after", decision.RetryAfter).
			Msg("quota refused batch")
		g.pushBack(batch, decision.RetryAfter)
		return
	}

	texts := make([]string, len(batch.requests))
	for i, r := range batch.requests {
		texts[i] = r.text
	}
	sourceLang := batch.sourceLang
	if sourceLang == language.AutoCode {
		sourceLang = ""
	}

	started := g.now()
	translations, err := g.prov.TranslateTexts(ctx, translation.BatchRequest{
		Texts:      texts,
		SourceLang: sourceLang,
		TargetLang: batch.targetLang,
		Category:   batch.category,
		TextType:   batch.textType,
	})
	latency := g.now().Sub(started)

	if err == nil && len(translations) != len(batch.requests) {
		err = translation.NewError(translation.KindParsing, resilience.ServiceTranslation,
			fmt.Sprintf("backend returned %d translations for %d texts", len(translations), len(batch.requests)))
	}
	if err != nil {
		g.handleSendFailure(ctx, batch, err)
		return
	}

	if err := g.quota.RecordUsage(ctx, batch.characters); err != nil {
		g.logger.Warn().Err(err).Msg("record usage after send")
	}
	g.res.RecordSuccess(resilience.ServiceTranslation)

	for i, r := range batch.requests {
		if err := g.cache.Set(ctx, r.text, translations[i], r.sourceLang, r.targetLang); err != nil {
			g.logger.Warn().Err(err).Msg("cache translated text")
		}
		r.resolve(Result{Text: translations[i]})
		g.recordCall(telemetry.CallRecord{
			At:         started,
			Duration:   latency,
			Characters: charCount(r.text),
			SourceLang: r.sourceLang,
			TargetLang: r.targetLang,
			Success:    true,
			Retries:    batch.retryCount,
		})
	}

	g.mu.Lock()
	g.batchesSent++
	g.resolved += int64(len(batch.requests))
	g.sumBatchSize += int64(len(batch.requests))
	g.sumLatency += latency
	g.mu.Unlock()

	g.logger.Debug().
		Str("batch", batch.id).
		Int("texts", len(batch.requests)).
		Int64("characters", batch.characters).
		Dur("latency", latency).
		Msg("batch translated")
}

func (g *Gateway) handleSendFailure(ctx context.Context, batch *processingBatch, err error) {
	outcome := g.res.HandleError(ctx, err, resilience.ServiceTranslation, batch.retryCount)

	switch outcome.Strategy {
	case resilience.StrategyRetry:
		batch.retryCount++
		batch.dueAt = g.now().Add(outcome.Delay)
		g.mu.Lock()
		g.retries = append(g.retries, batch)
		g.mu.Unlock()
		g.logger.Info().
			Str("batch", batch.id).
			Int("retry", batch.retryCount).
			Dur("delay", outcome.Delay).
			Msg("batch scheduled for retry")

	case resilience.StrategyCacheOnly:
		g.resolveViaCache(ctx, batch, outcome.Err)

	case resilience.StrategyDegrade:
		for _, r := range batch.requests {
			text, degraded, derr := g.res.Degrade(ctx, r.text, r.sourceLang, r.targetLang)
			if derr != nil {
				g.reject(r, outcome.Err, batch.retryCount)
				continue
			}
			r.resolve(Result{Text: text, Degraded: degraded})
			g.recordCall(telemetry.CallRecord{
				At:         g.now(),
				Characters: charCount(r.text),
				SourceLang: r.sourceLang,
				TargetLang: r.targetLang,
				Success:    true,
				Cached:     true,
				Retries:    batch.retryCount,
			})
			g.mu.Lock()
			g.resolved++
			g.mu.Unlock()
		}

	default:
		for _, r := range batch.requests {
			g.reject(r, outcome.Err, batch.retryCount)
		}
	}
}

// resolveViaCache serves each request from the response cache; misses are
// rejected rather than invented.
func (g *Gateway) resolveViaCache(ctx context.Context, batch *processingBatch, cause error) {
	for _, r := range batch.requests {
		translated, err := g.res.CacheOnly(ctx, r.text, r.sourceLang, r.targetLang)
		if err != nil {
			g.reject(r, err, batch.retryCount)
			continue
		}
		r.resolve(Result{Text: translated})
		g.recordCall(telemetry.CallRecord{
			At:         g.now(),
			Characters: charCount(r.text),
			SourceLang: r.sourceLang,
			TargetLang: r.targetLang,
			Success:    true,
			Cached:     true,
			Retries:    batch.retryCount,
		})
		g.mu.Lock()
		g.resolved++
		g.mu.Unlock()
	}
	g.logger.Debug().Str("batch", batch.id).AnErr("cause", cause).Msg("batch resolved via cache fallback")
}

func (g *Gateway) reject(r *queuedRequest, err error, retries int) {
	classified := translation.Classify(err, resilience.ServiceTranslation)
	r.resolve(Result{Err: classified})
	g.recordCall(telemetry.CallRecord{
		At:         g.now(),
		Characters: charCount(r.text),
		SourceLang: r.sourceLang,
		TargetLang: r.targetLang,
		Retries:    retries,
		ErrorKind:  classified.Kind,
	})
	g.mu.Lock()
	g.rejected++
	g.mu.Unlock()
}

// pushBack returns a refused batch to the front of the queue in original
// order; a refused retry keeps its batch identity and waits out the hint.
func (g *Gateway) pushBack(batch *processingBatch, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if batch.retryCount > 0 {
		if retryAfter < g.opts.TickInterval {
			retryAfter = g.opts.TickInterval
		}
		batch.dueAt = g.now().Add(retryAfter)
		g.retries = append(g.retries, batch)
		return
	}
	g.queue.PushFront(batch.requests)
}

func (g *Gateway) dueRetry(now time.Time) *processingBatch {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, batch := range g.retries {
		if !now.Before(batch.dueAt) {
			g.retries = append(g.retries[:i], g.retries[i+1:]...)
			return batch
		}
	}
	return nil
}

func (g *Gateway) drain() {
	g.mu.Lock()
	pending := make([]*queuedRequest, 0, g.queue.Len())
	pending = append(pending, g.queue.items...)
	g.queue.items = nil
	for _, batch := range g.retries {
		pending = append(pending, batch.requests...)
	}
	g.retries = nil
	g.rejected += int64(len(pending))
	g.mu.Unlock()

	for _, r := range pending {
		r.resolve(Result{Err: translation.NewError(translation.KindCancelled, resilience.ServiceBatch, "gateway shutting down")})
	}
}

func (g *Gateway) recordCall(record telemetry.CallRecord) {
	if g.tel != nil {
		g.tel.Record(record)
	}
}

func charCount(text string) int {
	return utf8.RuneCountInString(text)
}
