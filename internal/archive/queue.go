package archive

import "sync"

// Queue is a concurrency-safe FIFO ring that doubles its capacity once it is
// 70% full, up to a hard limit. Pushes beyond the limit are rejected so a
// stalled database cannot grow memory without bound.
//
// Consumers wait on Ready rather than blocking inside the queue, which lets
// them also select on a context or a ticker.
type Queue[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // read position
	tail  int // write position
	count int
	limit int
	ready chan struct{}

	// Stats
	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// NewQueue creates a queue with the given initial capacity that grows up to
// limit items. limit below initial is raised to initial.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. It returns false when the queue is at its limit.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.count >= q.limit {
		q.dropped++
		q.mu.Unlock()
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.limit {
		q.grow()
	}
	if q.count == len(q.buf) {
		// Growth capped below the 70% mark; fill the last slots.
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++
	q.mu.Unlock()

	// Wake the consumer without blocking
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after pushes. One signal may cover many items.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// PopBatch removes up to n items (all items when n <= 0) without blocking.
func (q *Queue[T]) PopBatch(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero // Clear reference for GC
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len      int
	Capacity int
	Limit    int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Limit:    q.limit,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles the ring, bounded by limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	size := min(len(q.buf)*2, q.limit)
	if size <= len(q.buf) {
		return
	}
	buf := make([]T, size)

	// Unwrap [head...end) + [0...tail) into the new ring
	if q.count > 0 {
		n := copy(buf, q.buf[q.head:min(q.head+q.count, len(q.buf))])
		copy(buf[n:q.count], q.buf[:q.count-n])
	}

	q.buf = buf
	q.head = 0
	q.tail = q.count % size
	q.resizes++
}
