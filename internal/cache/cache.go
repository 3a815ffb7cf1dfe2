package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"horse.fit/lingo/internal/language"
	"horse.fit/lingo/internal/statestore"
	"horse.fit/lingo/internal/translation"
)

const cacheService = "cache"

// Options controls cache capacity, expiry, and compression.
type Options struct {
	Enabled              bool
	TTL                  time.Duration
	MaxEntries           int
	MaxBytes             int64
	CompressionEnabled   bool
	CompressionThreshold int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:              true,
		TTL:                  24 * time.Hour,
		MaxEntries:           10000,
		MaxBytes:             50 * 1024 * 1024,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
	}
}

// Entry is one cached translation keyed by the normalized text/pair hash.
type Entry struct {
	Key          string    `json:"key"`
	Payload      []byte    `json:"payload"`
	Compressed   bool      `json:"compressed"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessCount  int64     `json:"access_count"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// Stats reports cumulative cache behavior.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	BytesSaved  int64 `json:"bytes_saved"`
	Entries     int   `json:"entries"`
	TotalBytes  int64 `json:"total_bytes"`
}

// Cache stores translations under normalized keys with TTL expiry, LRU
// eviction, and optional zstd compression. State is persisted through the
// state store and loaded lazily on first use.
type Cache struct {
	mu     sync.Mutex
	opts   Options
	store  statestore.Store
	logger zerolog.Logger
	now    func() time.Time

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	entries    map[string]*Entry
	totalBytes int64
	stats      Stats
	loaded     bool
}

func New(store statestore.Store, logger zerolog.Logger, opts Options) (*Cache, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Cache{
		opts:    opts,
		store:   store,
		logger:  logger.With().Str("component", "cache").Logger(),
		now:     time.Now,
		encoder: encoder,
		decoder: decoder,
		entries: make(map[string]*Entry),
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Key builds the normalized cache key: trimmed, lowercased text hashed with
// the normalized language pair, bounding key length regardless of input size.
func Key(text, sourceLang, targetLang string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	pair := language.PairKey(sourceLang, targetLang)
	sum := blake2b.Sum256([]byte(pair + "\x00" + normalized))
	return pair + ":" + hex.EncodeToString(sum[:16])
}

// Get returns the cached translation for the text/pair, or found=false on a
// miss. Expired entries are deleted lazily here.
func (c *Cache) Get(ctx context.Context, text, sourceLang, targetLang string) (string, bool, error) {
	if !c.opts.Enabled {
		return "", false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return "", false, err
	}

	key := Key(text, sourceLang, targetLang)
	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return "", false, nil
	}

	now := c.now()
	if now.After(entry.ExpiresAt) {
		c.removeEntry(entry)
		c.stats.Expirations++
		c.stats.Misses++
		return "", false, nil
	}

	entry.AccessCount++
	entry.LastAccessAt = now
	c.stats.Hits++

	payload := entry.Payload
	if entry.Compressed {
		decompressed, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			// Corrupt entry: drop it and report a miss rather than failing the request.
			c.removeEntry(entry)
			c.logger.Warn().Str("key", key).Err(err).Msg("dropping corrupt cache entry")
			c.stats.Misses++
			return "", false, nil
		}
		payload = decompressed
	}
	return string(payload), true, nil
}

// Set stores a translation, compressing large payloads when beneficial and
// evicting least-recently-accessed entries to honor the byte and entry budgets.
func (c *Cache) Set(ctx context.Context, text, translated, sourceLang, targetLang string) error {
	if !c.opts.Enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	payload := []byte(translated)
	compressed := false
	saved := 0
	if c.opts.CompressionEnabled && len(payload) > c.opts.CompressionThreshold {
		candidate := c.encoder.EncodeAll(payload, nil)
		// Keep the compressed form only when it is at least 20% smaller.
		if len(candidate)*5 <= len(payload)*4 {
			saved = len(payload) - len(candidate)
			payload = candidate
			compressed = true
		}
	}

	// A payload larger than the whole byte budget can never fit. Leave the
	// table untouched instead of evicting everything and still overshooting.
	if int64(len(payload)) > c.opts.MaxBytes {
		c.logger.Debug().Int("size", len(payload)).Int64("max_bytes", c.opts.MaxBytes).Msg("payload exceeds cache byte budget, not cached")
		return nil
	}
	c.stats.BytesSaved += int64(saved)

	now := c.now()
	key := Key(text, sourceLang, targetLang)
	entry := &Entry{
		Key:          key,
		Payload:      payload,
		Compressed:   compressed,
		Size:         int64(len(payload)),
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.opts.TTL),
		AccessCount:  0,
		LastAccessAt: now,
	}

	if existing, ok := c.entries[key]; ok {
		c.removeEntry(existing)
	}
	c.evictForSpace(entry.Size)

	c.entries[key] = entry
	c.totalBytes += entry.Size

	return c.persist(ctx)
}

// Sweep removes every expired entry regardless of access pattern and persists
// the result. Returns the number of removed entries.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if !c.opts.Enabled {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			c.removeEntry(entry)
			c.stats.Expirations++
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, c.persist(ctx)
}

// RunSweeper sweeps on the given interval until the context is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Msg("cache sweep failed")
				continue
			}
			if removed > 0 {
				c.logger.Debug().Int("removed", removed).Msg("cache sweep removed expired entries")
			}
		}
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Entries = len(c.entries)
	stats.TotalBytes = c.totalBytes
	return stats
}

// AccessCount reports the access count for a text/pair, zero when absent.
func (c *Cache) AccessCount(text, sourceLang, targetLang string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[Key(text, sourceLang, targetLang)]
	if !ok {
		return 0
	}
	return entry.AccessCount
}

func (c *Cache) removeEntry(entry *Entry) {
	delete(c.entries, entry.Key)
	c.totalBytes -= entry.Size
}

// evictForSpace drops least-recently-accessed entries until the incoming size
// fits within both the byte budget and the entry cap.
func (c *Cache) evictForSpace(incoming int64) {
	needsEviction := func() bool {
		if c.totalBytes+incoming > c.opts.MaxBytes {
			return true
		}
		return len(c.entries)+1 > c.opts.MaxEntries
	}
	if !needsEviction() {
		return
	}

	candidates := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessAt.Before(candidates[j].LastAccessAt)
	})

	for _, entry := range candidates {
		if !needsEviction() {
			return
		}
		c.removeEntry(entry)
		c.stats.Evictions++
	}
}

type persistedTable struct {
	Entries []*Entry `json:"entries"`
}

type persistedMetadata struct {
	Entries     int       `json:"entries"`
	TotalBytes  int64     `json:"total_bytes"`
	PersistedAt time.Time `json:"persisted_at"`
}

func (c *Cache) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	c.loaded = true

	records, err := c.store.Get(ctx, statestore.KeyCacheTable, statestore.KeyCacheStats)
	if err != nil {
		return translation.WrapError(translation.KindCache, cacheService, fmt.Errorf("load cache state: %w", err))
	}

	if raw, ok := records[statestore.KeyCacheTable]; ok {
		var table persistedTable
		if err := json.Unmarshal(raw, &table); err != nil {
			c.logger.Warn().Err(err).Msg("discarding unreadable cache table")
		} else {
			for _, entry := range table.Entries {
				c.entries[entry.Key] = entry
				c.totalBytes += entry.Size
			}
		}
	}
	if raw, ok := records[statestore.KeyCacheStats]; ok {
		if err := json.Unmarshal(raw, &c.stats); err != nil {
			c.logger.Warn().Err(err).Msg("discarding unreadable cache stats")
			c.stats = Stats{}
		}
	}
	return nil
}

func (c *Cache) persist(ctx context.Context) error {
	table := persistedTable{Entries: make([]*Entry, 0, len(c.entries))}
	for _, entry := range c.entries {
		table.Entries = append(table.Entries, entry)
	}

	tableRaw, err := json.Marshal(table)
	if err != nil {
		return translation.WrapError(translation.KindCache, cacheService, fmt.Errorf("marshal cache table: %w", err))
	}
	statsRaw, err := json.Marshal(c.stats)
	if err != nil {
		return translation.WrapError(translation.KindCache, cacheService, fmt.Errorf("marshal cache stats: %w", err))
	}
	metaRaw, err := json.Marshal(persistedMetadata{
		Entries:     len(c.entries),
		TotalBytes:  c.totalBytes,
		PersistedAt: c.now(),
	})
	if err != nil {
		return translation.WrapError(translation.KindCache, cacheService, fmt.Errorf("marshal cache metadata: %w", err))
	}

	err = c.store.Set(ctx, map[string][]byte{
		statestore.KeyCacheTable:    tableRaw,
		statestore.KeyCacheStats:    statsRaw,
		statestore.KeyCacheMetadata: metaRaw,
	})
	if err != nil {
		return translation.WrapError(translation.KindCache, cacheService, fmt.Errorf("persist cache state: %w", err))
	}
	return nil
}
