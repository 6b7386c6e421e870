// Package buffer serializes inbound stream events: items are handled one at
// a time in arrival order, however many goroutines enqueue or drain.
package buffer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Buffer is a FIFO queue with a single-drainer guard.
type Buffer[T any] struct {
	mu       sync.Mutex
	queue    []T
	draining bool

	handle func(T)
	logger *zap.Logger
}

// New creates a Buffer that passes every drained item to handle.
func New[T any](handle func(T), logger *zap.Logger) *Buffer[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer[T]{handle: handle, logger: logger}
}

// Enqueue appends item. It never processes anything itself, so calling it
// from inside handle is safe.
func (b *Buffer[T]) Enqueue(item T) {
	b.mu.Lock()
	b.queue = append(b.queue, item)
	b.mu.Unlock()
}

// Drain handles queued items until the queue is empty. If another drain is
// already running (including the caller's own, re-entrantly) it returns at
// once; the running drain picks up whatever was queued meanwhile.
func (b *Buffer[T]) Drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		var zero T
		item := b.queue[0]
		b.queue[0] = zero
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.process(item)

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

// Push enqueues item and drains.
func (b *Buffer[T]) Push(item T) {
	b.Enqueue(item)
	b.Drain()
}

// Len returns the number of pending items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Reset drops pending items. An in-flight drain finishes its current item
// and then finds the queue empty.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

func (b *Buffer[T]) process(item T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("buffered event handler panicked; event dropped",
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	b.handle(item)
}
