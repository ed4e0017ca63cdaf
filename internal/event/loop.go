// Package event implements the single-threaded cooperative event loop that
// delivers bus notifications and timer expiries.
//
// Everything except Post must be called from the goroutine running the loop.
// Handlers run to completion one at a time, so state touched only by handlers
// needs no locking.
package event

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"github.com/benbjohnson/clock"
)

// Handler is a unit of work run on the loop. A non-nil error stops the loop.
type Handler func() error

type Loop struct {
	clock  clock.Clock
	timers timerHeap
	seq    uint64

	mu     sync.Mutex
	posts  []Handler
	closed bool
	wake   chan struct{}
}

func NewLoop(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}

	return &Loop{
		clock: clk,
		wake:  make(chan struct{}, 1),
	}
}

// Now returns the loop's notion of the current time
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn to run on the loop. It is safe to call from any goroutine.
func (l *Loop) Post(fn func() error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New().New(ErrLoopClosed)
	}
	l.posts = append(l.posts, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return nil
}

// NewTimer registers a timer whose expiry runs fn on the loop.
func (l *Loop) NewTimer(fn func() error) (*Timer, error) {
	if fn == nil {
		return nil, errors.New().WithMessage(ErrInvalidTick, "timer callback is nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New().New(ErrLoopClosed)
	}

	return &Timer{loop: l, fn: fn, index: -1}, nil
}

// ActiveTimers returns the number of armed timers
func (l *Loop) ActiveTimers() int {
	return len(l.timers)
}

// Dispatch runs every queued post in order and then every timer that is due.
// Posts go first so a notification that re-arms a timer supersedes an expiry
// falling in the same turn.
func (l *Loop) Dispatch() error {
	l.mu.Lock()
	posts := l.posts
	l.posts = nil
	l.mu.Unlock()

	for i, fn := range posts {
		if err := fn(); err != nil {
			l.mu.Lock()
			l.posts = append(posts[i+1:len(posts):len(posts)], l.posts...)
			l.mu.Unlock()
			return err
		}
	}

	return l.fireDue(l.clock.Now())
}

type firing struct {
	timer *Timer
	gen   uint64
}

func (l *Loop) fireDue(now time.Time) error {
	var due []firing
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		due = append(due, firing{timer: t, gen: t.gen})

		if t.kind == Periodic {
			t.deadline = t.deadline.Add(t.interval)
			if !t.deadline.After(now) {
				t.deadline = now.Add(t.interval)
			}
			heap.Push(&l.timers, t)
		}
	}

	for i, f := range due {
		// stopped or re-armed by an earlier callback in this pass
		if f.timer.gen != f.gen {
			continue
		}

		if err := f.timer.fn(); err != nil {
			l.requeue(due[i+1:])
			return err
		}
	}

	return nil
}

// requeue puts unfired one-shot timers back so a failed pass drops nothing.
func (l *Loop) requeue(rest []firing) {
	for _, f := range rest {
		if f.timer.gen == f.gen && f.timer.index < 0 {
			heap.Push(&l.timers, f.timer)
		}
	}
}

func (l *Loop) nextWait() (time.Duration, bool) {
	if len(l.timers) == 0 {
		return 0, false
	}

	d := l.timers[0].deadline.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}

	return d, true
}

// Run dispatches until ctx is cancelled or a handler fails. Cancellation is a
// clean return.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.Dispatch(); err != nil {
			return err
		}

		var (
			timer   *clock.Timer
			expired <-chan time.Time
		)
		if d, ok := l.nextWait(); ok {
			timer = l.clock.Timer(d)
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-l.wake:
		case <-expired:
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// Close disarms every timer, drops pending posts and rejects further
// registration.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.posts = nil
	l.mu.Unlock()

	for len(l.timers) > 0 {
		t := heap.Pop(&l.timers).(*Timer)
		t.gen++
	}
}
