// Package queue runs a handler over items pushed into a bounded buffer by a
// fixed number of worker goroutines. Close drains what is already buffered.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrFull is returned by a non-blocking Push on a full buffer.
	ErrFull = errors.New("queue: full")
)

// Options sizes a Queue. Zero values mean one slot and one worker.
type Options struct {
	Buffer  int
	Workers int
	// Block makes Push wait for room until its context ends.
	Block bool
}

// Queue is safe for concurrent Push and Close.
type Queue[T any] struct {
	handle func(T)
	block  bool

	// mu is held shared by every Push for the length of its send, and
	// exclusively by Close, so nothing enters the buffer once workers drain.
	mu     sync.RWMutex
	closed bool

	items   chan T
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// New starts opts.Workers goroutines calling handle for every item.
func New[T any](opts Options, handle func(T)) *Queue[T] {
	if opts.Buffer <= 0 {
		opts.Buffer = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	q := &Queue[T]{
		handle: handle,
		block:  opts.Block,
		items:  make(chan T, opts.Buffer),
		done:   make(chan struct{}),
	}
	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.work()
	}
	return q
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for {
		select {
		case item := <-q.items:
			q.handle(item)
		case <-q.done:
			for {
				select {
				case item := <-q.items:
					q.handle(item)
				default:
					return
				}
			}
		}
	}
}

// Push hands item to the workers. Items refused for lack of room, or
// because ctx ended while blocking, are counted as dropped.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if !q.block {
		select {
		case q.items <- item:
			return nil
		default:
			q.dropped.Add(1)
			return ErrFull
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.dropped.Add(1)
		return ctx.Err()
	}
}

// Close refuses further items and waits until the buffer is drained. It
// waits for blocked Push calls to finish first.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}

// Dropped counts refused items.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
