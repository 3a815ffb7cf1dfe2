package gateway

import (
	"time"
)

// Priority orders queued requests. Higher tiers are dispatched first; within a
// tier the queue is FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a wire value to a tier, defaulting to normal.
func ParsePriority(raw string) Priority {
	switch raw {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// queuedRequest is one pending translation awaiting batch assembly.
type queuedRequest struct {
	id         string
	text       string
	sourceLang string
	targetLang string
	pairKey    string
	priority   Priority
	category   string
	textType   string
	enqueuedAt time.Time
	deadline   time.Time // zero = no timeout
	result     chan Result
	resolved   bool
}

func (r *queuedRequest) expired(now time.Time) bool {
	return !r.deadline.IsZero() && now.After(r.deadline)
}

func (r *queuedRequest) resolve(res Result) {
	if r.resolved {
		return
	}
	r.resolved = true
	r.result <- res
	close(r.result)
}

// requestQueue is a priority queue: descending tier, FIFO within a tier.
// Mutated only by the scheduler and Translate under the gateway lock.
type requestQueue struct {
	items []*queuedRequest
}

func (q *requestQueue) Len() int {
	return len(q.items)
}

// Push inserts after the last request of equal or higher priority.
func (q *requestQueue) Push(r *queuedRequest) {
	pos := len(q.items)
	for pos > 0 && q.items[pos-1].priority < r.priority {
		pos--
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = r
}

// PushFront returns a refused batch to the head in its original order.
func (q *requestQueue) PushFront(batch []*queuedRequest) {
	q.items = append(append(make([]*queuedRequest, 0, len(batch)+len(q.items)), batch...), q.items...)
}

// Head returns the next request without removing it.
func (q *requestQueue) Head() *queuedRequest {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// DropExpired removes and returns every request past its deadline.
func (q *requestQueue) DropExpired(now time.Time) []*queuedRequest {
	var dropped []*queuedRequest
	kept := q.items[:0]
	for _, r := range q.items {
		if r.expired(now) {
			dropped = append(dropped, r)
			continue
		}
		kept = append(kept, r)
	}
	q.items = kept
	return dropped
}

// runFull reports whether the head run already saturates the batch limits.
func (q *requestQueue) runFull(maxTexts, maxBytes int) bool {
	head := q.Head()
	if head == nil {
		return false
	}
	count, totalBytes := 0, 0
	for _, r := range q.items {
		if r.pairKey != head.pairKey {
			break
		}
		count++
		totalBytes += len(r.text)
		if count >= maxTexts || totalBytes >= maxBytes {
			return true
		}
	}
	return false
}

// CollectBatch removes the consecutive head run of requests sharing the
// head's language pair, bounded by the text and byte limits. The run stops at
// the first request with a different pair.
func (q *requestQueue) CollectBatch(maxTexts, maxBytes int) []*queuedRequest {
	head := q.Head()
	if head == nil {
		return nil
	}

	var batch []*queuedRequest
	totalBytes := 0
	for _, r := range q.items {
		if r.pairKey != head.pairKey || len(batch) >= maxTexts {
			break
		}
		if len(batch) > 0 && totalBytes+len(r.text) > maxBytes {
			break
		}
		batch = append(batch, r)
		totalBytes += len(r.text)
	}
	q.items = q.items[len(batch):]
	return batch
}
