package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestQueueDeliversAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	var sum atomic.Int64
	q := New(Options{Buffer: 16, Workers: 3}, func(n int) { sum.Add(int64(n)) })
	for i := 1; i <= 10; i++ {
		if err := q.Push(context.Background(), i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	q.Close()

	if got := sum.Load(); got != 55 {
		t.Fatalf("sum = %d, want 55", got)
	}
	if err := q.Push(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("push after close = %v, want ErrClosed", err)
	}
	q.Close()
}

func TestQueueNonBlockingDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var handled atomic.Int64
	q := New(Options{Buffer: 1, Workers: 1}, func(int) {
		<-release
		handled.Add(1)
	})

	var full int
	for i := 0; i < 10; i++ {
		if errors.Is(q.Push(context.Background(), i), ErrFull) {
			full++
		}
	}
	if full == 0 || uint64(full) != q.Dropped() {
		t.Fatalf("full = %d, dropped = %d", full, q.Dropped())
	}

	close(release)
	q.Close()
	if got := handled.Load() + int64(q.Dropped()); got != 10 {
		t.Fatalf("every item must be handled or dropped, got %d", got)
	}
}

func TestQueueBlockingHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	q := New(Options{Buffer: 1, Workers: 1, Block: true}, func(int) {
		once.Do(func() { close(started) })
		<-release
	})

	if err := q.Push(context.Background(), 1); err != nil {
		t.Fatalf("first push: %v", err)
	}
	<-started
	if err := q.Push(context.Background(), 2); err != nil {
		t.Fatalf("second push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked push = %v, want deadline exceeded", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}

	close(release)
	q.Close()
}

func TestQueueCloseRacingPushLosesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	for round := 0; round < 50; round++ {
		var handled, accepted atomic.Int64
		q := New(Options{Buffer: 4, Workers: 2, Block: true}, func(int) { handled.Add(1) })

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					err := q.Push(context.Background(), i)
					if err == nil {
						accepted.Add(1)
						continue
					}
					if !errors.Is(err, ErrClosed) {
						t.Errorf("push: %v", err)
					}
					return
				}
			}()
		}
		q.Close()
		wg.Wait()

		if handled.Load() != accepted.Load() {
			t.Fatalf("round %d: accepted %d, handled %d", round, accepted.Load(), handled.Load())
		}
	}
}
