// Package loop provides the single event loop that owns all chat state.
//
// Network goroutines, timers and UI input never mutate chat state directly;
// they Post closures that run one at a time on the loop goroutine.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a cancelable delayed callback scheduled on a loop.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler is the view of the event loop that state machines depend on.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop runs posted closures sequentially on the goroutine calling Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It never blocks, so it is safe to call from the loop
// itself. Closures posted after Run returned are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.cancelled.Load() {
				return
			}
			lt.fired.Store(true)
			fn()
		})
	})
	return lt
}

// Run drains the queue until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.queue = nil
			l.mu.Unlock()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

type loopTimer struct {
	timer     *time.Timer
	cancelled atomic.Bool
	fired     atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	if t.cancelled.Swap(true) {
		return false
	}
	return !t.fired.Load()
}
