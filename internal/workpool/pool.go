// Package workpool bounds how many blocking outbound calls (model
// requests, device service calls) run at the same time.
package workpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool runs jobs on background goroutines, at most size at once.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	active atomic.Int64
}

// New returns a pool of size slots. size below 1 is treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the slot count.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of jobs currently holding a slot.
func (p *Pool) InFlight() int { return int(p.active.Load()) }

// Run waits for a slot, runs fn on its own goroutine, and returns fn's
// result. If ctx ends first Run returns ctx.Err(); a job already started
// keeps its slot until fn returns.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	p.active.Add(1)

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Run for jobs without a result value.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
