package archive

import (
	"context"
	"sync"
)

// Buffer is a thread-safe FIFO ring that doubles its capacity when full, up
// to maxCapacity. Past that the oldest item is overwritten and counted as
// dropped, so a stalled database never blocks the read loop.
type Buffer[T any] struct {
	mu          sync.Mutex
	buf         []T
	head        int // read position
	count       int
	maxCapacity int
	closed      bool

	// ready holds a token while items are waiting.
	ready chan struct{}

	// Stats
	totalPushed int64
	totalPopped int64
	dropped     int64
	resizeCount int
}

// NewBuffer creates a buffer starting at initialCapacity and growing to at
// most maxCapacity. maxCapacity below initialCapacity pins the size.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	return &Buffer[T]{
		buf:         make([]T, initialCapacity),
		maxCapacity: maxCapacity,
		ready:       make(chan struct{}, 1),
	}
}

// Push appends an item. Returns false if the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == len(b.buf) {
		if len(b.buf) < b.maxCapacity {
			b.grow()
		} else {
			// Full at max size: overwrite the oldest.
			b.head = (b.head + 1) % len(b.buf)
			b.count--
			b.dropped++
		}
	}

	tail := (b.head + b.count) % len(b.buf)
	b.buf[tail] = item
	b.count++
	b.totalPushed++

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// PopBatch removes up to max items (all when max <= 0) in FIFO order.
func (b *Buffer[T]) PopBatch(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero // Clear reference for GC
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.totalPopped += int64(n)

	if b.count > 0 {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return out
}

// Wait blocks until items are available. Returns ErrClosed once the buffer
// is closed and empty, or ctx.Err().
func (b *Buffer[T]) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		count, closed := b.count, b.closed
		b.mu.Unlock()

		if count > 0 {
			return nil
		}
		if closed {
			return ErrClosed
		}

		select {
		case <-b.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting items. Remaining items can still be popped.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Len returns the current number of items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:       b.count,
		Capacity:    len(b.buf),
		TotalPushed: b.totalPushed,
		TotalPopped: b.totalPopped,
		Dropped:     b.dropped,
		ResizeCount: b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count       int   `json:"count"`
	Capacity    int   `json:"capacity"`
	TotalPushed int64 `json:"total_pushed"`
	TotalPopped int64 `json:"total_popped"`
	Dropped     int64 `json:"dropped"`
	ResizeCount int   `json:"resize_count"`
}

// grow doubles the capacity, capped at maxCapacity. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := len(b.buf) * 2
	if newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}
	newBuf := make([]T, newCapacity)

	// Unwrap [head...end) + [0...tail) into the front of the new slice.
	n := copy(newBuf, b.buf[b.head:])
	if n < b.count {
		copy(newBuf[n:], b.buf[:b.count-n])
	}

	b.buf = newBuf
	b.head = 0
	b.resizeCount++
}
