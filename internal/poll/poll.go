// Package poll runs a function on a fixed interval until stopped.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handle controls a running task.
type Handle struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// Start runs fn immediately and then every interval until the handle is
// stopped or parent is cancelled. fn receives a context that is cancelled
// on Stop, so in-flight work is abandoned.
func Start(parent context.Context, interval time.Duration, fn func(ctx context.Context)) *Handle {
	return run(parent, interval, true, fn)
}

// Every is like Start but the first run happens one interval after the call.
func Every(parent context.Context, interval time.Duration, fn func(ctx context.Context)) *Handle {
	return run(parent, interval, false, fn)
}

func run(parent context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer h.stopped.Store(true)

		if immediate {
			fn(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

// Stop cancels the task. It is safe to call more than once and on a nil
// handle. Once Stop returns, Stopped reports true.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.stopped.Store(true)
		h.cancel()
	})
}

// Stopped reports whether the task was stopped. Owners check it under
// their own lock before committing a tick's result.
func (h *Handle) Stopped() bool {
	return h == nil || h.stopped.Load()
}

// Done is closed when the task goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
