package client

import (
	"context"
	"encoding/json"
	"sync"
)

// progressBufferSize is the channel buffer for progress notifications.
// Notifications are dropped if the consumer falls this far behind.
const progressBufferSize = 64

// Future is the caller-facing completion handle for one request. It settles
// exactly once — resolved, rejected, or canceled — and may deliver any
// number of progress notifications before that.
type Future struct {
	done     chan struct{}
	progress chan float64

	mu        sync.Mutex
	settled   bool
	completed bool
	result    json.RawMessage
	err       error
}

func newFuture() *Future {
	return &Future{
		done:     make(chan struct{}),
		progress: make(chan float64, progressBufferSize),
	}
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Progress returns the channel of progress percentages. It is closed when
// the future settles; values are dropped if the consumer lags behind.
func (f *Future) Progress() <-chan float64 {
	return f.progress
}

// Result returns the settlement outcome. Before settlement it returns
// (nil, nil); gate on Done or use Wait.
func (f *Future) Result() (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Completed reports whether the future settled by normal resolution, as
// opposed to rejection or cancellation.
func (f *Future) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle records the terminal outcome. The first call wins; later calls
// report false and change nothing.
func (f *Future) settle(result json.RawMessage, err error, completed bool) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.completed = completed
	f.result = result
	f.err = err
	f.mu.Unlock()

	close(f.progress)
	close(f.done)
	return true
}

// reportProgress delivers a progress notification unless the future has
// settled. Slow consumers lose notifications rather than blocking routing.
func (f *Future) reportProgress(pct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return
	}
	select {
	case f.progress <- pct:
	default:
	}
}
