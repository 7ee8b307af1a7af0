package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPool_Process_PreservesSubmissionOrder(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	var items []WorkItem[string]
	for i := 0; i < 6; i++ {
		i := i
		items = append(items, WorkItem[string]{
			ID: fmt.Sprintf("task%d", i),
			Execute: func(ctx context.Context) (string, error) {
				// later items finish first
				time.Sleep(time.Duration(6-i) * time.Millisecond)
				return fmt.Sprintf("result%d", i), nil
			},
		})
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, r := range results {
		if r.ID != fmt.Sprintf("task%d", i) || r.Result != fmt.Sprintf("result%d", i) {
			t.Errorf("results[%d] = %+v, want task%d/result%d", i, r, i, i)
		}
	}
}

func TestWorkerPool_Process_WithErrors(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
	boom := errors.New("boom")

	results := Process(context.Background(), pool, []WorkItem[int]{
		{ID: "ok", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "fail", Execute: func(ctx context.Context) (int, error) { return 0, boom }},
	}, nil)

	if results[0].Err != nil || results[0].Result != 1 {
		t.Errorf("unexpected ok result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("expected boom, got %v", results[1].Err)
	}
}

func TestWorkerPool_Process_EmptyItems(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), nil)
	if results := Process[string](context.Background(), pool, nil, nil); results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestWorkerPool_Process_ContextCancellation(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var queuedRan atomic.Bool
	items := []WorkItem[int]{
		{ID: "blocker", Execute: func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		}},
		{ID: "queued", Execute: func(ctx context.Context) (int, error) {
			queuedRan.Store(true)
			return 2, nil
		}},
	}

	done := make(chan []WorkResult[int])
	go func() { done <- Process(ctx, pool, items, nil) }()

	<-started
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)

	results := <-done
	if results[0].Err != nil {
		t.Errorf("blocker should complete, got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, context.Canceled) {
		t.Errorf("queued item should be canceled, got %v", results[1].Err)
	}
	if queuedRan.Load() {
		t.Error("queued item ran after cancellation")
	}
}

func TestWorkerPool_Process_AlreadyCanceled(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 4}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	items := make([]WorkItem[int], 8)
	for i := range items {
		items[i] = WorkItem[int]{ID: fmt.Sprintf("item-%d", i), Execute: func(context.Context) (int, error) {
			ran.Add(1)
			return 0, nil
		}}
	}

	var progress int
	results := Process(ctx, pool, items, func(completed, _ int) { progress = completed })
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", r.ID, r.Err)
		}
	}
	if n := ran.Load(); n != 0 {
		t.Errorf("expected no item to run, %d ran", n)
	}
	if progress != len(items) {
		t.Errorf("expected progress %d, got %d", len(items), progress)
	}
}

func TestWorkerPool_Process_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	var current, peak int32
	var items []WorkItem[int]
	for i := 0; i < 8; i++ {
		items = append(items, WorkItem[int]{ID: fmt.Sprint(i), Execute: func(ctx context.Context) (int, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return 0, nil
		}})
	}

	var progress int32
	Process(context.Background(), pool, items, func(completed, total int) {
		atomic.StoreInt32(&progress, int32(completed))
	})

	if peak > 2 {
		t.Errorf("expected at most 2 concurrent items, saw %d", peak)
	}
	if progress != 8 {
		t.Errorf("expected final progress 8, got %d", progress)
	}
}

func TestWorkerPool_ConfigDefault(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 0}, zap.NewNop())
	if pool.MaxConcurrent() != 4 {
		t.Errorf("expected default MaxConcurrent 4, got %d", pool.MaxConcurrent())
	}
}
