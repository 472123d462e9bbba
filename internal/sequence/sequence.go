// Package sequence provides the single logical worker the history engine
// runs on. Work reaches the engine only by posting closures to a Sequence;
// tasks posted to one Sequence never run concurrently with each other.
package sequence

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sequence runs posted tasks one at a time in posting order.
type Sequence interface {
	// PostTask schedules task to run after every task already posted.
	PostTask(task func())
	// PostDelayedTask schedules task to run once delay has elapsed. The
	// returned func cancels the task if it has not started yet.
	PostDelayedTask(delay time.Duration, task func()) (cancel func())
}

// Loop is a Sequence backed by one goroutine draining an unbounded queue.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewLoop starts a Loop. Call Close to stop it.
func NewLoop() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// PostTask implements Sequence. Tasks posted after Close are dropped.
func (l *Loop) PostTask(task func()) {
	l.TryPostTask(task)
}

// TryPostTask is PostTask reporting whether the task was queued. It returns
// false once the loop is closed.
func (l *Loop) TryPostTask(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayedTask implements Sequence.
func (l *Loop) PostDelayedTask(delay time.Duration, task func()) func() {
	var canceled atomic.Bool
	timer := time.AfterFunc(delay, func() {
		l.PostTask(func() {
			if !canceled.Load() {
				task()
			}
		})
	})
	return func() {
		canceled.Store(true)
		timer.Stop()
	}
}

// Close runs every task posted so far, then stops the worker. Delayed tasks
// that have not fired yet are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}
