package telemetry

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/translation"
)

// CallRecord is one completed translation call.
type CallRecord struct {
	At         time.Time        `json:"at"`
	Duration   time.Duration    `json:"duration"`
	Characters int              `json:"characters"`
	SourceLang string           `json:"source_lang"`
	TargetLang string           `json:"target_lang"`
	Success    bool             `json:"success"`
	Cached     bool             `json:"cached"`
	Retries    int              `json:"retries,omitempty"`
	ErrorKind  translation.Kind `json:"error_kind,omitempty"`
}

// Options bounds the in-memory record window.
type Options struct {
	Window     time.Duration
	MaxRecords int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Window:     5 * time.Minute,
		MaxRecords: 1000,
	}
}

// Report summarizes the trailing window.
type Report struct {
	At                   time.Time `json:"at"`
	Window               string    `json:"window"`
	Requests             int       `json:"requests"`
	RequestsPerSecond    float64   `json:"requests_per_second"`
	ErrorRate            float64   `json:"error_rate"`
	CacheHitRate         float64   `json:"cache_hit_rate"`
	MeanLatencyMs        float64   `json:"mean_latency_ms"`
	MedianLatencyMs      float64   `json:"median_latency_ms"`
	P95LatencyMs         float64   `json:"p95_latency_ms"`
	P99LatencyMs         float64   `json:"p99_latency_ms"`
	CharactersTranslated int64     `json:"characters_translated"`
	TotalRetries         int64     `json:"total_retries"`
}

// Collector keeps a bounded trailing window of call records, derives latency
// and throughput statistics from it, and mirrors counts into Prometheus.
type Collector struct {
	mu     sync.Mutex
	opts   Options
	store  statestore.Store
	logger zerolog.Logger
	now    func() time.Time

	records []CallRecord

	rules     []AlertRule
	lastFired map[string]time.Time
	alerts    []Alert

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	charactersTotal prometheus.Counter
	alertsTotal     *prometheus.CounterVec
}

func NewCollector(store statestore.Store, logger zerolog.Logger, registerer prometheus.Registerer, opts Options) *Collector {
	factory := promauto.With(registerer)
	return &Collector{
		opts:      opts,
		store:     store,
		logger:    logger.With().Str("component", "telemetry").Logger(),
		now:       time.Now,
		lastFired: make(map[string]time.Time),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Name:      "translation_requests_total",
			Help:      "Completed translation calls by outcome.",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lingo",
			Name:      "translation_request_duration_seconds",
			Help:      "Latency of translation calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		charactersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lingo",
			Name:      "translation_characters_total",
			Help:      "Characters submitted for translation.",
		}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by severity.",
		}, []string{"severity"}),
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.now = now
}

// Record appends one call and prunes the window by age and count.
func (c *Collector) Record(record CallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if record.At.IsZero() {
		record.At = c.now()
	}
	c.records = append(c.records, record)
	c.prune(c.now())

	outcome := "success"
	switch {
	case !record.Success:
		outcome = "error"
	case record.Cached:
		outcome = "cached"
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
	c.requestDuration.Observe(record.Duration.Seconds())
	c.charactersTotal.Add(float64(record.Characters))
}

// Report computes the window statistics and persists the snapshot.
func (c *Collector) Report(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)
	report := c.buildReport(now)

	if raw, err := json.Marshal(report); err == nil {
		if err := c.store.Set(ctx, map[string][]byte{statestore.KeyPerfMetrics: raw}); err != nil {
			c.logger.Warn().Err(err).Msg("persist metrics snapshot")
		}
	}
	return report
}

// RunLoop periodically evaluates alert rules and persists a report.
func (c *Collector) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Report(ctx)
			for _, alert := range c.CheckAlerts(ctx) {
				c.logger.Warn().
					Str("rule", alert.Rule).
					Str("severity", string(alert.Severity)).
					Float64("value", alert.Value).
					Float64("threshold", alert.Threshold).
					Msg("alert fired")
			}
		}
	}
}

func (c *Collector) buildReport(now time.Time) Report {
	return c.buildReportWindow(now, c.opts.Window)
}

// buildReportWindow summarizes records within the trailing window. Windows
// wider than the collector's see no extra data; prune already dropped it.
func (c *Collector) buildReportWindow(now time.Time, window time.Duration) Report {
	report := Report{
		At:     now,
		Window: window.String(),
	}

	cutoff := now.Add(-window)
	latencies := make([]float64, 0, len(c.records))
	total, failed, cached := 0, 0, 0
	for _, record := range c.records {
		if !record.At.After(cutoff) {
			continue
		}
		total++
		latencies = append(latencies, float64(record.Duration)/float64(time.Millisecond))
		report.CharactersTranslated += int64(record.Characters)
		report.TotalRetries += int64(record.Retries)
		if !record.Success {
			failed++
		}
		if record.Cached {
			cached++
		}
	}
	if total == 0 {
		return report
	}
	sort.Float64s(latencies)

	report.Requests = total
	report.RequestsPerSecond = float64(total) / window.Seconds()
	report.ErrorRate = float64(failed) / float64(total)
	report.CacheHitRate = float64(cached) / float64(total)
	report.MeanLatencyMs = mean(latencies)
	report.MedianLatencyMs = percentile(latencies, 0.50)
	report.P95LatencyMs = percentile(latencies, 0.95)
	report.P99LatencyMs = percentile(latencies, 0.99)
	return report
}

func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-c.opts.Window)
	kept := c.records[:0]
	for _, record := range c.records {
		if record.At.After(cutoff) {
			kept = append(kept, record)
		}
	}
	c.records = kept

	if len(c.records) > c.opts.MaxRecords {
		c.records = c.records[len(c.records)-c.opts.MaxRecords:]
	}
}

func mean(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
