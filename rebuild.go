package flashguard

import (
	"context"
	"sync"
	"time"
)

// rebuildTask carries a rebuild and the obligation to release its per-key
// lock. release is called exactly once, after build returns; if submit
// refuses the task, the obligation never transfers and stays with the caller.
type rebuildTask struct {
	key     string
	build   func(context.Context) error
	release func()
}

// rebuildPool runs rebuilds on a fixed set of workers with a bounded queue.
// Tasks are fire-and-forget from the request's point of view; duplicates for
// the same key are already deduplicated by the per-key lock before submit.
type rebuildPool struct {
	tasks   chan rebuildTask
	wg      sync.WaitGroup
	timeout time.Duration
	onError func(key string, err error)

	mu     sync.Mutex // guards closed and the send in submit vs close
	closed bool
}

func newRebuildPool(workers, queue int, timeout time.Duration, onError func(string, error)) *rebuildPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	p := &rebuildPool{
		tasks:   make(chan rebuildTask, queue),
		timeout: timeout,
		onError: onError,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.run(t)
			}
		}()
	}
	return p
}

func (p *rebuildPool) run(t rebuildTask) {
	defer t.release()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := t.build(ctx); err != nil && p.onError != nil {
		p.onError(t.key, err)
	}
}

// submit hands the task to a worker without blocking. false means the queue
// is saturated or the pool is closed, and the caller keeps the release
// obligation. Safe to race with close: the send happens under the same mutex
// close takes before closing the channel.
func (p *rebuildPool) submit(t rebuildTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

// close drains queued tasks and waits for the workers to finish. Idempotent.
func (p *rebuildPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
