package event

import (
	"container/heap"
	"time"
)

// Kind selects whether a timer fires once or repeatedly
type Kind int

const (
	Oneshot Kind = iota
	Periodic
)

func (k Kind) String() string {
	if k == Periodic {
		return "periodic"
	}
	return "oneshot"
}

// Timer is a restartable delay owned by a Loop. Its callback always runs on
// the loop. The zero value is not usable; create one with Loop.NewTimer.
type Timer struct {
	loop     *Loop
	fn       func() error
	kind     Kind
	interval time.Duration
	deadline time.Time
	index    int
	gen      uint64
	seq      uint64
}

// Start arms the timer to fire after d, cancelling any previous arming.
// A periodic timer needs a positive interval and falls back to oneshot
// otherwise.
func (t *Timer) Start(d time.Duration, kind Kind) {
	t.cancel()

	t.loop.mu.Lock()
	closed := t.loop.closed
	t.loop.mu.Unlock()
	if closed {
		return
	}

	if kind == Periodic && d <= 0 {
		kind = Oneshot
	}

	t.kind = kind
	t.interval = d
	t.deadline = t.loop.clock.Now().Add(d)
	t.loop.seq++
	t.seq = t.loop.seq
	heap.Push(&t.loop.timers, t)
}

// Stop cancels a pending expiry. Stopping an idle timer does nothing.
func (t *Timer) Stop() {
	t.cancel()
}

// Running reports whether the timer is armed
func (t *Timer) Running() bool {
	return t.index >= 0
}

// Deadline returns when the armed timer fires next
func (t *Timer) Deadline() (time.Time, bool) {
	if !t.Running() {
		return time.Time{}, false
	}
	return t.deadline, true
}

func (t *Timer) cancel() {
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	t.gen++
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
