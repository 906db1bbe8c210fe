package mailsentry

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestPoolBounded(t *testing.T) {
	const workers = 3
	pool := NewPool(workers, 2, discardLog)
	defer pool.Close()

	var running, peak atomic.Int32
	b := newBatch(context.Background(), pool)
	for range 30 {
		err := b.Go(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
		if err != nil {
			t.Fatalf("go: %v", err)
		}
	}
	b.Wait()

	if p := peak.Load(); p > workers {
		t.Errorf("%d tasks ran at once, expected at most %d", p, workers)
	}
	if n := running.Load(); n != 0 {
		t.Errorf("%d tasks still running after wait", n)
	}
}

func TestPoolPanic(t *testing.T) {
	pool := NewPool(1, 1, discardLog)
	defer pool.Close()

	b := newBatch(context.Background(), pool)
	if err := b.Go(func() { panic("task bug") }); err != nil {
		t.Fatalf("go: %v", err)
	}

	var ran atomic.Bool
	if err := b.Go(func() { ran.Store(true) }); err != nil {
		t.Fatalf("go: %v", err)
	}
	b.Wait()
	if !ran.Load() {
		t.Fatalf("worker stopped after panic")
	}
}

func TestPoolSubmitBlocks(t *testing.T) {
	pool := NewPool(1, 1, discardLog)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(context.Background(), func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	// Fills the queue.
	if err := pool.Submit(context.Background(), func() {}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, expected deadline exceeded", err)
	}

	close(release)
}

func queuedTasks(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metricPoolQueued.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestPoolQueuedGauge(t *testing.T) {
	pool := NewPool(1, 1, discardLog)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(context.Background(), func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	base := queuedTasks(t)
	if base < 0 {
		t.Fatalf("queued tasks %v", base)
	}

	if err := pool.Submit(context.Background(), func() {}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := queuedTasks(t); n != base+1 {
		t.Fatalf("queued tasks %v, expected %v", n, base+1)
	}

	// A submit given up on the full queue is not counted.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, expected deadline exceeded", err)
	}
	if n := queuedTasks(t); n != base+1 {
		t.Fatalf("queued tasks %v after rejected submit, expected %v", n, base+1)
	}

	close(release)
	pool.Close()
	if n := queuedTasks(t); n != base {
		t.Fatalf("queued tasks %v after close, expected %v", n, base)
	}
}

func TestPoolClose(t *testing.T) {
	pool := NewPool(2, 10, discardLog)

	var n atomic.Int32
	for range 10 {
		if err := pool.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	pool.Close()
	if got := n.Load(); got != 10 {
		t.Errorf("%d of 10 queued tasks ran before close returned", got)
	}
	if !pool.Closed() {
		t.Errorf("pool not closed")
	}

	if err := pool.Submit(context.Background(), func() {}); !errors.Is(err, ErrCheckerClosed) {
		t.Errorf("submit after close: got %v, expected ErrCheckerClosed", err)
	}

	// Close is idempotent.
	pool.Close()
}

func TestBatchSkipsAfterCancel(t *testing.T) {
	pool := NewPool(1, 10, discardLog)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	b := newBatch(ctx, pool)

	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var ran []int
	if err := b.Go(func() {
		close(started)
		<-release
		mu.Lock()
		ran = append(ran, 0)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("go: %v", err)
	}
	for i := 1; i < 4; i++ {
		if err := b.Go(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("go: %v", err)
		}
	}

	// The first task is running, the others are queued and must be skipped.
	<-started
	cancel()
	close(release)
	b.Wait()
	if !slices.Equal(ran, []int{0}) {
		t.Errorf("ran %v, expected only the started task", ran)
	}

	if err := b.Go(func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("go after cancel: got %v, expected canceled", err)
	}
}
