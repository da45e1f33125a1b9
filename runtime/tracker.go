package runtime

import (
	"context"
	"sync"
)

// Tracker counts goroutines started under one unit of output: a render, a
// guard body, a captured body or a macro call. Counts propagate to the
// parent so waiting on an outer tracker also covers inner ones.
type Tracker struct {
	parent *Tracker
	mu     sync.Mutex
	n      int
	idle   chan struct{}
}

// NewTracker creates a tracker nested in parent, which may be nil.
func NewTracker(parent *Tracker) *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{parent: parent, idle: idle}
}

// Add records one more running goroutine.
func (t *Tracker) Add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
	if t.parent != nil {
		t.parent.Add()
	}
}

// Done records that a goroutine finished.
func (t *Tracker) Done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
	if t.parent != nil {
		t.parent.Done()
	}
}

// Go runs fn in a tracked goroutine.
func (t *Tracker) Go(fn func()) {
	t.Add()
	go func() {
		defer t.Done()
		fn()
	}()
}

// Pending returns the number of running goroutines.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Wait blocks until no tracked goroutine is running or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.n == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}
}
