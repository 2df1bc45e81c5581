package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when work is dispatched to a drained pool.
var ErrPoolClosed = errors.New("pipeline pool is closed")

// PoolStats is a snapshot of pipeline pool activity.
type PoolStats struct {
	InFlight  int64 `json:"in_flight"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Recovered int64 `json:"recovered"`
}

// PipelinePool bounds how many remediation pipelines execute concurrently.
// Dispatch blocks when the pool is saturated so intake naturally applies
// backpressure instead of piling up goroutines.
type PipelinePool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	inFlight  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	recovered atomic.Int64
}

// NewPipelinePool creates a pool allowing at most size concurrent pipelines.
func NewPipelinePool(size int, logger *slog.Logger) *PipelinePool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelinePool{
		slots:  make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Dispatch runs fn on a pool goroutine once a slot frees up. It blocks while
// the pool is saturated, honoring ctx cancellation, and returns ErrPoolClosed
// after Drain.
func (p *PipelinePool) Dispatch(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// Re-check under the lock: Drain may have won the race while we waited
	// for a slot, and wg.Add must not race with Drain's wg.Wait.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.inFlight.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.recovered.Add(1)
				p.failed.Add(1)
				p.logger.Error("pipeline panicked", "panic", r)
			}
			p.inFlight.Add(-1)
			<-p.slots
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			p.failed.Add(1)
		} else {
			p.succeeded.Add(1)
		}
	}()

	return nil
}

// Wait blocks until every dispatched pipeline has finished.
func (p *PipelinePool) Wait() {
	p.wg.Wait()
}

// Drain rejects further dispatches and waits for in-flight pipelines.
func (p *PipelinePool) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of pool counters.
func (p *PipelinePool) Stats() PoolStats {
	return PoolStats{
		InFlight:  p.inFlight.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Recovered: p.recovered.Load(),
	}
}
