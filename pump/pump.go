// Package pump decouples bursty multi-shard gateway ingress from downstream
// cache processing.
//
// A Buffer is an unbounded, order-preserving FIFO: shard read loops Push
// without blocking, and a fixed pool of workers Pull under demand, each
// request releasing at most the batch it asked for. Back-pressure is
// pull-based: items only leave the buffer when a worker asks, so a burst can
// never spawn an unbounded number of concurrent processing tasks.
package pump

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/taskgroup"
)

// ErrClosed is reported by Pull after Close once the buffer has drained.
var ErrClosed = errors.New("pump: buffer closed")

// A Buffer is an unbounded FIFO queue of T. A zero Buffer is not ready for
// use; call NewBuffer.
type Buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	ready  chan struct{} // closed and replaced on each push
	closed bool
}

// NewBuffer constructs an empty buffer.
func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{ready: make(chan struct{})}
}

// Push appends item to the queue. It never blocks and is safe for use by
// multiple concurrent pushers. Push after Close is a no-op.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, item)
	close(b.ready)
	b.ready = make(chan struct{})
}

// Pull removes and returns between 1 and max items in arrival order,
// blocking while the queue is empty. If the queue holds fewer than max, Pull
// returns what it has; the caller's remaining demand carries over to its
// next call. Pull reports ErrClosed once the buffer is closed and drained.
func (b *Buffer[T]) Pull(ctx context.Context, max int) ([]T, error) {
	if max < 1 {
		max = 1
	}
	for {
		b.mu.Lock()
		if n := len(b.items) - b.head; n > 0 {
			if n > max {
				n = max
			}
			out := make([]T, n)
			copy(out, b.items[b.head:b.head+n])
			b.head += n
			b.compactLocked()
			b.mu.Unlock()
			return out, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// Len reports the number of items currently queued.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) - b.head
}

// Close marks the buffer closed. Queued items remain pullable; once drained,
// Pull reports ErrClosed. Close is safe to call more than once.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ready)
	b.ready = make(chan struct{})
}

// compactLocked releases consumed backing storage once the dead prefix
// dominates the slice.
func (b *Buffer[T]) compactLocked() {
	if b.head > 64 && b.head*2 >= len(b.items) {
		n := copy(b.items, b.items[b.head:])
		clear(b.items[n:])
		b.items = b.items[:n]
		b.head = 0
	}
}

// Run services buf with a pool of workers, each pulling batches of up to
// batch items and applying fn to every item in arrival order within the
// batch. Run blocks until the buffer closes and drains, or ctx ends; it
// returns nil on a drained buffer and the context error otherwise.
//
// Items pulled by different workers are processed concurrently: callers that
// need per-key ordering must serialize per key downstream (the state layer's
// per-guild partitions do exactly that).
func Run[T any](ctx context.Context, buf *Buffer[T], workers, batch int, fn func(T)) error {
	if workers < 1 {
		workers = 1
	}
	g := taskgroup.New(nil)
	for range workers {
		g.Go(func() error {
			for {
				items, err := buf.Pull(ctx, batch)
				if err != nil {
					if errors.Is(err, ErrClosed) {
						return nil
					}
					return err
				}
				for _, item := range items {
					fn(item)
				}
			}
		})
	}
	return g.Wait()
}
