package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/cache"
	"horse.fit/lingo/internal/config"
	"horse.fit/lingo/internal/gateway"
	"horse.fit/lingo/internal/quota"
	"horse.fit/lingo/internal/resilience"
	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/telemetry"
	"horse.fit/lingo/internal/translation"
)

// pipeline wires the full translation stack: state store, cache, quota
// governor, resilience controller, telemetry collector, and the gateway.
type pipeline struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      statestore.Store
	cache      *cache.Cache
	governor   *quota.Governor
	controller *resilience.Controller
	collector  *telemetry.Collector
	registry   *prometheus.Registry
	gateway    *gateway.Gateway
}

func buildPipeline(cfg *config.Config, logger zerolog.Logger) (*pipeline, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	responseCache, err := cache.New(store, logger, cache.Options{
		Enabled:              cfg.CacheEnabled,
		TTL:                  cfg.CacheTTL(),
		MaxEntries:           cfg.CacheMaxEntries,
		MaxBytes:             cfg.CacheMaxBytes,
		CompressionEnabled:   cfg.CacheCompressionEnabled,
		CompressionThreshold: cfg.CacheCompressionThreshold,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	governor := quota.NewGovernor(store, logger, quota.Limits{
		MaxCharactersPerMonth:  cfg.QuotaMaxCharactersPerMonth,
		MaxCharactersPerMinute: cfg.QuotaMaxCharactersPerMinute,
		MaxRequestsPerSecond:   cfg.QuotaMaxRequestsPerSecond,
	})

	controller := resilience.NewController(store, responseCache, logger, resilience.Options{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  cfg.CircuitRecoveryTimeout,
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Exponential: cfg.RetryExponential,
		},
		HistoryCap:   100,
		HealthWindow: 5 * time.Minute,
	})

	registry := prometheus.NewRegistry()
	collector := telemetry.NewCollector(store, logger, registry, telemetry.Options{
		Window:     cfg.TelemetryWindow,
		MaxRecords: cfg.TelemetryHistoryCap,
	})

	providers := translation.NewRegistryFromEnv()
	provider, err := providers.Provider(providers.DefaultProvider())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("resolve translation provider: %w", err)
	}

	gw := gateway.New(provider, responseCache, governor, controller, collector, logger, gateway.Options{
		MaxTextsPerBatch:  cfg.BatchMaxTexts,
		MaxBatchSizeBytes: cfg.BatchMaxSizeBytes,
		MaxWait:           cfg.BatchMaxWait,
		TickInterval:      cfg.BatchTickInterval,
		DefaultTimeout:    30 * time.Second,
		BatchingEnabled:   cfg.BatchEnabled,
		DetectLanguage:    cfg.LangDetectEnabled,
	})

	logger.Info().
		Str("provider", provider.Name()).
		Str("state_store", cfg.StateStoreDriver).
		Msg("translation pipeline assembled")

	return &pipeline{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		cache:      responseCache,
		governor:   governor,
		controller: controller,
		collector:  collector,
		registry:   registry,
		gateway:    gw,
	}, nil
}

// start launches the scheduler and the maintenance loops. They all stop when
// the context ends.
func (p *pipeline) start(ctx context.Context) error {
	if path := strings.TrimSpace(p.cfg.AlertRulesPath); path != "" {
		if err := p.collector.LoadRulesFromFile(ctx, path); err != nil {
			return fmt.Errorf("load alert rules: %w", err)
		}
	} else if err := p.collector.LoadPersistedRules(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("restore persisted alert rules")
	}

	go p.gateway.Run(ctx)
	go p.cache.RunSweeper(ctx, time.Hour)
	go p.controller.RunHealthLoop(ctx, p.cfg.HealthCheckInterval)
	go p.collector.RunLoop(ctx, p.cfg.HealthCheckInterval)
	return nil
}

func (p *pipeline) Close() {
	if err := p.store.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("close state store")
	}
}

func openStore(cfg *config.Config) (statestore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StateStoreDriver)) {
	case "memory":
		return statestore.NewMemoryStore(), nil
	case "badger":
		return statestore.OpenBadger(cfg.StateStorePath)
	case "postgres":
		return statestore.OpenPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported state store driver %q", cfg.StateStoreDriver)
	}
}
