// Package source defines the non-blocking detection and orientation inputs
// of the fusion loop and bounded in-memory queues implementing them.
package source

import (
	"sync"

	"github.com/open-teleop/tracklink/domain/tracking"
)

// Default queue depths.
const (
	DefaultDetectionDepth   = 2
	DefaultOrientationDepth = 1
)

// DetectionSource yields the newest pending batch without blocking. Older
// pending batches are superseded and discarded.
type DetectionSource interface {
	TryTakeBatch() (tracking.DetectionBatch, bool)
}

// OrientationSource yields every sample that arrived since the previous
// call, oldest first, without blocking.
type OrientationSource interface {
	TryTakeSamples() []tracking.Quaternion
}

// QueueStats counts queue traffic.
type QueueStats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Taken   uint64 `json:"taken"`
}

// ring is a bounded FIFO that drops its oldest element when full.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	depth int
	stats QueueStats
}

func newRing[T any](depth int) *ring[T] {
	if depth < 1 {
		depth = 1
	}
	return &ring[T]{items: make([]T, 0, depth), depth: depth}
}

func (r *ring[T]) push(v T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Pushed++
	if len(r.items) == r.depth {
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
		r.stats.Dropped++
		dropped = true
	}
	r.items = append(r.items, v)
	return dropped
}

// takeLatest returns the newest element and discards the rest, counting
// them as dropped.
func (r *ring[T]) takeLatest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	n := len(r.items)
	if n == 0 {
		return zero, false
	}
	v := r.items[n-1]
	for i := range r.items {
		r.items[i] = zero
	}
	r.items = r.items[:0]
	r.stats.Dropped += uint64(n - 1)
	r.stats.Taken++
	return v, true
}

func (r *ring[T]) takeAll() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return nil
	}
	out := make([]T, len(r.items))
	copy(out, r.items)
	r.items = r.items[:0]
	r.stats.Taken += uint64(len(out))
	return out
}

func (r *ring[T]) snapshot() (QueueStats, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats, len(r.items)
}

// DetectionQueue is a thread-safe DetectionSource fed by a producer goroutine.
type DetectionQueue struct {
	r *ring[tracking.DetectionBatch]
}

// NewDetectionQueue creates a queue holding at most depth batches.
func NewDetectionQueue(depth int) *DetectionQueue {
	return &DetectionQueue{r: newRing[tracking.DetectionBatch](depth)}
}

// Push enqueues a batch and reports whether an older batch was dropped.
func (q *DetectionQueue) Push(b tracking.DetectionBatch) bool { return q.r.push(b) }

// TryTakeBatch implements DetectionSource.
func (q *DetectionQueue) TryTakeBatch() (tracking.DetectionBatch, bool) { return q.r.takeLatest() }

// Len returns the number of queued batches.
func (q *DetectionQueue) Len() int {
	_, n := q.r.snapshot()
	return n
}

// Stats returns the queue counters.
func (q *DetectionQueue) Stats() QueueStats {
	s, _ := q.r.snapshot()
	return s
}

// OrientationQueue is a thread-safe OrientationSource fed by a producer goroutine.
type OrientationQueue struct {
	r *ring[tracking.Quaternion]
}

// NewOrientationQueue creates a queue holding at most depth samples.
func NewOrientationQueue(depth int) *OrientationQueue {
	return &OrientationQueue{r: newRing[tracking.Quaternion](depth)}
}

// Push enqueues a sample and reports whether an older sample was dropped.
func (q *OrientationQueue) Push(v tracking.Quaternion) bool { return q.r.push(v) }

// TryTakeSamples implements OrientationSource.
func (q *OrientationQueue) TryTakeSamples() []tracking.Quaternion { return q.r.takeAll() }

// Len returns the number of queued samples.
func (q *OrientationQueue) Len() int {
	_, n := q.r.snapshot()
	return n
}

// Stats returns the queue counters.
func (q *OrientationQueue) Stats() QueueStats {
	s, _ := q.r.snapshot()
	return s
}

// Static is a DetectionSource replaying a fixed list of batches, one per call.
type Static struct {
	mu      sync.Mutex
	batches []tracking.DetectionBatch
}

// NewStatic returns a source yielding batches in order.
func NewStatic(batches ...tracking.DetectionBatch) *Static {
	return &Static{batches: batches}
}

// TryTakeBatch implements DetectionSource.
func (s *Static) TryTakeBatch() (tracking.DetectionBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return tracking.DetectionBatch{}, false
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, true
}
