package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_AcquireRelease(t *testing.T) {
	pool := NewPool([]string{"seed-a", "seed-b"})
	ctx := context.Background()

	s1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if s1.Seed == s2.Seed {
		t.Error("slots must carry distinct signing identities")
	}
	if pool.Available() != 0 {
		t.Errorf("expected 0 available, got %d", pool.Available())
	}

	pool.Release(s1)
	pool.Release(s2)
	if pool.Available() != 2 {
		t.Errorf("expected 2 available after release, got %d", pool.Available())
	}
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	pool := NewPool([]string{"seed-a"})
	ctx := context.Background()

	slot, _ := pool.Acquire(ctx)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(tctx); !errors.Is(err, ErrSlotTimeout) {
		t.Fatalf("expected ErrSlotTimeout, got %v", err)
	}

	pool.Release(slot)
}

func TestPool_WaiterProceedsWhenSlotFrees(t *testing.T) {
	pool := NewPool([]string{"seed-a"})
	ctx := context.Background()

	slot, _ := pool.Acquire(ctx)

	done := make(chan error, 1)
	go func() {
		tctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		s, err := pool.Acquire(tctx)
		if err == nil {
			pool.Release(s)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Release(slot)

	if err := <-done; err != nil {
		t.Fatalf("waiter should get the freed slot, got %v", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool([]string{"seed-a", "seed-b"})
	ctx := context.Background()

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	var completed atomic.Int32
	var wg sync.WaitGroup

	// 5 concurrent submissions through a 2-slot pool: at most 2 run at
	// once, the rest wait and proceed as slots free up.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			slot, err := pool.Acquire(tctx)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer pool.Release(slot)

			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			completed.Add(1)
		}()
	}
	wg.Wait()

	if maxInFlight.Load() > 2 {
		t.Errorf("more submissions in flight than slots: %d", maxInFlight.Load())
	}
	if completed.Load() != 5 {
		t.Errorf("expected all 5 submissions to complete, got %d", completed.Load())
	}
}
