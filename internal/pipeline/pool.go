package pipeline

import (
	"context"
	"time"

	"github.com/ralphline/ralphline/internal/infra"
)

// WorkerHandle is a checked-out worker session ID, reused across pipeline
// implement/verify dispatches when the pipeline's UseWorkerPool is set.
type WorkerHandle struct {
	SessionID string
}

// WorkerFactory creates a fresh worker session for the pool to hand out.
type WorkerFactory func(ctx context.Context) (*WorkerHandle, error)

// WorkerPool adapts infra.Pool[T]'s generic resource pool (grounded on
// internal/infra/pool.go) to the implement phase's P-thread: a bounded set
// of live worker sessions, reused across pipeline iterations instead of
// spawning a fresh process per subtask.
type WorkerPool struct {
	inner *infra.Pool[*WorkerHandle]
}

// NewWorkerPool builds the shared pool with the given capacity. maxIdle
// governs how long a returned worker sits idle before the pool recycles it.
func NewWorkerPool(maxSize int, maxIdle time.Duration, factory WorkerFactory, closeFn func(*WorkerHandle) error) *WorkerPool {
	if maxSize <= 0 {
		maxSize = 10
	}
	cfg := infra.PoolConfig[*WorkerHandle]{
		MaxSize:     maxSize,
		MaxIdleTime: maxIdle,
		Factory: func(ctx context.Context) (*WorkerHandle, error) {
			return factory(ctx)
		},
		Close: func(h *WorkerHandle) error {
			if closeFn != nil {
				return closeFn(h)
			}
			return nil
		},
	}
	return &WorkerPool{inner: infra.NewPool(cfg)}
}

// Acquire checks out a worker, reusing an idle one when available.
func (p *WorkerPool) Acquire(ctx context.Context) (*WorkerHandle, func(), error) {
	res, err := p.inner.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() { p.inner.Put(res) }
	return res.Value, release, nil
}

// Close releases every idle worker held by the pool.
func (p *WorkerPool) Close() error {
	return p.inner.Close()
}

// Stats exposes the underlying pool's reuse/creation counters for metrics.
func (p *WorkerPool) Stats() infra.PoolStats {
	return p.inner.Stats()
}
