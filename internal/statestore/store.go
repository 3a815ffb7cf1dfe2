package statestore

import "context"

// Named record keys shared by the pipeline components. The store is a plain
// key-value surface with no cross-key transactions: two processes mutating the
// same usage counters can race. Components assume single-writer ownership of
// their keys within one process.
const (
	KeyCacheTable    = "cache:table"
	KeyCacheMetadata = "cache:metadata"
	KeyCacheStats    = "cache:stats"
	KeyUsageMonth    = "quota:usage:month"
	KeyUsageDay      = "quota:usage:day"
	KeyUsageMinute   = "quota:usage:minute"
	KeyTokenBucket   = "quota:token_bucket"
	KeyErrorHistory  = "resilience:error_history"
	KeyHealthStatus  = "resilience:health"
	KeyAlertRules    = "telemetry:alert_rules"
	KeyAlertHistory  = "telemetry:alert_history"
	KeyPerfMetrics   = "telemetry:metrics"
)

// Store is the durable key-value surface behind caches, quotas, and telemetry.
// Implementations must tolerate missing keys on Get by omitting them from the
// returned map.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, records map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}
