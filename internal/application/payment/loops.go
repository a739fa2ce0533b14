package payment

import (
	"context"
	"sync"
)

// loopRegistry tracks the single poll loop allowed per correlation id.
type loopRegistry struct {
	mu     sync.Mutex
	loops  map[string]*loopHandle
	wg     sync.WaitGroup
	closed bool
}

type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoopRegistry() *loopRegistry {
	return &loopRegistry{loops: make(map[string]*loopHandle)}
}

// start runs fn in a goroutine unless a loop for id is already running.
func (r *loopRegistry) start(parent context.Context, id string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.loops[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &loopHandle{cancel: cancel, done: make(chan struct{})}
	r.loops[id] = h
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer cancel()
		defer func() {
			r.mu.Lock()
			if r.loops[id] == h {
				delete(r.loops, id)
			}
			r.mu.Unlock()
		}()
		fn(ctx)
	}()
	return true
}

// stop cancels the loop for id and waits for it to exit.
func (r *loopRegistry) stop(id string) bool {
	r.mu.Lock()
	h, ok := r.loops[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	<-h.done
	return true
}

// cancel signals the loop for id without waiting. Safe to call while holding
// a lock the loop may need.
func (r *loopRegistry) cancel(id string) {
	r.mu.Lock()
	h, ok := r.loops[id]
	r.mu.Unlock()
	if ok {
		h.cancel()
	}
}

func (r *loopRegistry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *loopRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

// stopAll cancels every loop and waits until all have exited or ctx is done.
func (r *loopRegistry) stopAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, h := range r.loops {
		h.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
