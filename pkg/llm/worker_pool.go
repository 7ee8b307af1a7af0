package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent LLM calls (default: 4)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 4}
}

// WorkerPool bounds how many model calls run at once.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new LLM worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// MaxConcurrent returns the configured parallelism.
func (p *WorkerPool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem is a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult is the outcome of one work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all items with bounded parallelism and returns results in
// submission order, so callers merging results stay deterministic regardless
// of completion order. Items acquire a slot in submission order. Every item
// produces a result; failures do not stop the batch. Items not yet started
// when ctx ends report ctx.Err() and never run.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	finish := func(i int, res WorkResult[T]) {
		results[i] = res
		if res.Err != nil {
			pool.logger.Debug("Work item failed", zap.String("id", res.ID), zap.Error(res.Err))
		}
		mu.Lock()
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
		mu.Unlock()
	}

	for i, item := range items {
		if err := acquire(ctx, sem); err != nil {
			finish(i, WorkResult[T]{ID: item.ID, Err: err})
			continue
		}
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()
			r, err := item.Execute(ctx)
			<-sem
			finish(i, WorkResult[T]{ID: item.ID, Result: r, Err: err})
		}(i, item)
	}

	wg.Wait()
	return results
}

// acquire takes a slot from sem unless ctx has ended. A slot won in a race
// with cancellation is handed back.
func acquire(ctx context.Context, sem chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case sem <- struct{}{}:
		if err := ctx.Err(); err != nil {
			<-sem
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
