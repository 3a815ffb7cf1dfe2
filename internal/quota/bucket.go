package quota

import (
	"math"
	"time"
)

// Bucket is a token bucket refilled continuously at RefillRate tokens per
// second. Tokens never go negative and never exceed Capacity.
type Bucket struct {
	Tokens       float64   `json:"tokens"`
	Capacity     float64   `json:"capacity"`
	RefillRate   float64   `json:"refill_rate"`
	LastRefillAt time.Time `json:"last_refill_at"`
}

// NewBucket returns a full bucket.
func NewBucket(capacity, refillRate float64) Bucket {
	return Bucket{
		Tokens:     capacity,
		Capacity:   capacity,
		RefillRate: refillRate,
	}
}

// Refill credits tokens for the elapsed time since the last refill, capped at
// capacity. A zero LastRefillAt (fresh or migrated state) only stamps the time.
func (b *Bucket) Refill(now time.Time) {
	if b.LastRefillAt.IsZero() {
		b.LastRefillAt = now
		return
	}

	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed <= 0 {
		return
	}
	b.Tokens = math.Min(b.Capacity, b.Tokens+elapsed*b.RefillRate)
	b.LastRefillAt = now
}

// HasToken reports whether at least one whole token is available.
func (b *Bucket) HasToken() bool {
	return b.Tokens >= 1
}

// Consume spends one token, never dropping below zero.
func (b *Bucket) Consume() {
	b.Tokens = math.Max(0, b.Tokens-1)
}

// TimeToNextToken estimates how long until one whole token is available.
func (b *Bucket) TimeToNextToken() time.Duration {
	if b.HasToken() {
		return 0
	}
	if b.RefillRate <= 0 {
		return time.Hour
	}
	missing := 1 - b.Tokens
	return time.Duration(missing / b.RefillRate * float64(time.Second))
}

// Clamp forces the invariants after loading persisted state.
func (b *Bucket) Clamp() {
	b.Tokens = math.Max(0, math.Min(b.Capacity, b.Tokens))
}
