// Package metrics is a small in-process atomic-counter registry: request
// counts, outbox outcome counts, and a fixed-bucket DRR latency
// histogram. It is read-only introspection, not a persistence layer —
// metrics-snapshot persistence and a full OTel pipeline are out of scope.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds all process-lifetime counters.
type Registry struct {
	requests      atomic.Int64
	requestErrors atomic.Int64

	outboxMu      sync.Mutex
	outboxByEvent map[string]*outboxCounters

	drrMu      sync.Mutex
	drrBuckets map[string]int64 // bucket label -> count
}

type outboxCounters struct {
	done       atomic.Int64
	requeued   atomic.Int64
	deadLetter atomic.Int64
}

// drrBucketBoundsMs are the upper bounds (inclusive) of each latency
// histogram bucket, in milliseconds; the last bucket is unbounded.
var drrBucketBoundsMs = []int64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		outboxByEvent: make(map[string]*outboxCounters),
		drrBuckets:    make(map[string]int64),
	}
}

// RecordRequest increments the request counter, and the error counter if
// !success.
func (r *Registry) RecordRequest(success bool) {
	r.requests.Add(1)
	if !success {
		r.requestErrors.Add(1)
	}
}

// RequestCounts returns (total, errors).
func (r *Registry) RequestCounts() (int64, int64) {
	return r.requests.Load(), r.requestErrors.Load()
}

// RecordOutboxOutcome increments the done/requeued/dead_letter counter
// for eventType.
func (r *Registry) RecordOutboxOutcome(eventType, outcome string) {
	r.outboxMu.Lock()
	c, ok := r.outboxByEvent[eventType]
	if !ok {
		c = &outboxCounters{}
		r.outboxByEvent[eventType] = c
	}
	r.outboxMu.Unlock()

	switch outcome {
	case "done":
		c.done.Add(1)
	case "requeued":
		c.requeued.Add(1)
	case "dead_letter":
		c.deadLetter.Add(1)
	}
}

// OutboxSnapshot is a point-in-time read of one event type's outcome
// counters.
type OutboxSnapshot struct {
	EventType  string
	Done       int64
	Requeued   int64
	DeadLetter int64
}

// OutboxSnapshots returns a sorted (by event type) snapshot of every
// event type seen so far.
func (r *Registry) OutboxSnapshots() []OutboxSnapshot {
	r.outboxMu.Lock()
	defer r.outboxMu.Unlock()

	out := make([]OutboxSnapshot, 0, len(r.outboxByEvent))
	for eventType, c := range r.outboxByEvent {
		out = append(out, OutboxSnapshot{
			EventType:  eventType,
			Done:       c.done.Load(),
			Requeued:   c.requeued.Load(),
			DeadLetter: c.deadLetter.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// RecordDRRLatency buckets a retrieval's wall-clock duration into the
// fixed histogram.
func (r *Registry) RecordDRRLatency(d time.Duration) {
	ms := d.Milliseconds()
	bucket := bucketLabel(ms)

	r.drrMu.Lock()
	defer r.drrMu.Unlock()
	r.drrBuckets[bucket]++
}

// DRRHistogram returns a copy of the bucket counts keyed by bucket label
// (e.g. "le_5ms", "le_inf"); buckets with no recordings are absent.
func (r *Registry) DRRHistogram() map[string]int64 {
	r.drrMu.Lock()
	defer r.drrMu.Unlock()

	out := make(map[string]int64, len(r.drrBuckets))
	for k, v := range r.drrBuckets {
		out[k] = v
	}
	return out
}

func bucketLabel(ms int64) string {
	for _, bound := range drrBucketBoundsMs {
		if ms <= bound {
			return bucketSuffix(bound)
		}
	}
	return "le_inf"
}

func bucketSuffix(bound int64) string {
	switch bound {
	case 5:
		return "le_5ms"
	case 10:
		return "le_10ms"
	case 25:
		return "le_25ms"
	case 50:
		return "le_50ms"
	case 100:
		return "le_100ms"
	case 250:
		return "le_250ms"
	case 500:
		return "le_500ms"
	case 1000:
		return "le_1000ms"
	case 2500:
		return "le_2500ms"
	default:
		return "le_inf"
	}
}
