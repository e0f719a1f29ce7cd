package scheduler

import (
	"context"
)

// workerPool bounds concurrent periodic runs. Tokens are pre-filled up to limit.
type workerPool struct {
	limit int
	ch    chan struct{}
}

func newWorkerPool(limit int) *workerPool {
	if limit <= 0 {
		limit = 1
	}
	p := &workerPool{limit: limit, ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		p.ch <- struct{}{}
	}
	return p
}

// acquire blocks until a slot is free, ctx is done or stop is closed.
func (p *workerPool) acquire(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-p.ch:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

func (p *workerPool) release() {
	// Never block on release.
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

func (p *workerPool) busy() int { return p.limit - len(p.ch) }
