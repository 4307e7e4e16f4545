package dispatcher

import (
	"sync"
	"sync/atomic"
)

// tracker counts URLs pushed onto the frontier but not yet fully processed.
// Idle is closed the first time the count returns to zero. Callers must Add
// for a child before the parent's Done, so zero means quiescence.
type tracker struct {
	pending atomic.Int64
	idle    chan struct{}
	once    sync.Once
}

func newTracker() *tracker {
	return &tracker{idle: make(chan struct{})}
}

func (t *tracker) Add(n int) {
	if n <= 0 {
		return
	}
	t.pending.Add(int64(n))
}

func (t *tracker) Done() {
	switch left := t.pending.Add(-1); {
	case left == 0:
		t.once.Do(func() { close(t.idle) })
	case left < 0:
		panic("dispatcher: negative outstanding work count")
	}
}

func (t *tracker) Pending() int64 {
	return t.pending.Load()
}

func (t *tracker) Idle() <-chan struct{} {
	return t.idle
}
