package blade

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// dispatchPool bounds the number of concurrently executing dispatched
// handlers, so a burst of inbound requests cannot grow goroutine count
// without limit.
type dispatchPool struct {
	sem *semaphore.Weighted
}

// newDispatchPool builds a pool allowing at most max slots to be held at
// once, through Acquire or Run. max <= 0 means unbounded.
func newDispatchPool(max int64) *dispatchPool {
	if max <= 0 {
		return &dispatchPool{}
	}
	return &dispatchPool{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a dispatch slot is available or ctx is done.
// Every successful Acquire must be paired with a Release.
func (p *dispatchPool) Acquire(ctx context.Context) error {
	if p.sem == nil {
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return WrapError(CodeInternal, err, "acquire dispatch pool slot")
	}
	return nil
}

// Release returns a slot acquired via Acquire.
func (p *dispatchPool) Release() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

// Run blocks until a slot is available (or ctx is done), then calls fn on
// a new goroutine and returns immediately. The slot is released when fn
// returns. Nothing in this package calls Run; Dispatch uses Acquire and
// Release directly.
func (p *dispatchPool) Run(ctx context.Context, fn func()) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer p.Release()
		fn()
	}()
	return nil
}
