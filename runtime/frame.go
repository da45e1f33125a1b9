package runtime

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/geleto/cascada/frame"
	"github.com/geleto/cascada/ir"
)

// Frame is the runtime counterpart of a compiled frame.
//
// A frame holds the values it snapshotted on entry and the values written in
// it. For every variable it is expected to write, it keeps a remaining write
// count and the future it promised to its parent; the future resolves when
// the count reaches zero.
type Frame struct {
	parent   *Frame
	st       *state
	tracker  *Tracker
	scope    bool
	isolate  bool
	detached bool
	block    *blockScope

	mu       sync.Mutex
	vars     map[string]any
	counts   frame.Counts
	promised map[string]*Future
}

// blockScope identifies the block definition a frame renders, for super().
type blockScope struct {
	name  string
	level int
}

func newRootFrame(st *state, t *Tracker) *Frame {
	return &Frame{st: st, tracker: t, scope: true, vars: make(map[string]any)}
}

func (f *Frame) child(scope, isolate bool) *Frame {
	return &Frame{
		parent:  f,
		st:      f.st,
		tracker: f.tracker,
		scope:   scope,
		isolate: isolate,
		block:   f.block,
		vars:    make(map[string]any),
	}
}

// Enter opens a frame compiled with spec under f. Reads are snapshotted
// from f. Every written variable gets a fresh future installed in f, which
// resolves once the new frame has finished writing it. A detached frame does
// not count its parent down; its owner does that explicitly.
func (f *Frame) Enter(spec ir.FrameSpec, detached bool) *Frame {
	c := f.child(spec.CreateScope, spec.Isolate)
	c.detached = detached
	for _, name := range spec.Reads {
		if v, ok := f.lookup(name); ok {
			c.vars[name] = v
		}
	}
	if len(spec.Writes) == 0 {
		return c
	}
	c.counts = spec.Writes.Clone()
	c.promised = make(map[string]*Future, len(spec.Writes))
	for _, name := range spec.Writes.Names() {
		v, ok := f.lookup(name)
		if !ok {
			v = Undefined
		}
		c.vars[name] = v
		fut := NewFuture()
		c.promised[name] = fut
		f.set(name, fut)
	}
	return c
}

// lookup finds name in f or its ancestors, then in the render context.
func (f *Frame) lookup(name string) (any, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.vars[name]
		cur.mu.Unlock()
		if ok {
			return v, true
		}
		if cur.parent == nil && cur.st != nil {
			if v, ok := cur.st.context[name]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// set binds name in f without touching write counts.
func (f *Frame) set(name string, v any) {
	f.mu.Lock()
	f.vars[name] = v
	f.mu.Unlock()
}

// assign stores v in the frame owning name and counts the write down n
// times in f.
func (f *Frame) assign(name string, v any, declare bool, n int) {
	f.owner(name, declare).set(name, v)
	f.countdown(name, n)
}

// owner returns the frame a write of name lands in: the nearest frame
// holding it, or the nearest scope when none does. Declarations stop at the
// first scope and every write stops at an isolating frame.
func (f *Frame) owner(name string, declare bool) *Frame {
	for cur := f; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		_, ok := cur.vars[name]
		cur.mu.Unlock()
		if ok {
			return cur
		}
		if (declare && cur.scope) || cur.isolate {
			break
		}
	}
	return f.scopeFrame()
}

func (f *Frame) scopeFrame() *Frame {
	cur := f
	for ; cur.parent != nil; cur = cur.parent {
		if cur.scope {
			return cur
		}
	}
	return cur
}

// countdown records n writes of name. Names f does not count are ignored.
// When the count reaches zero the promised future resolves with the current
// value and, unless f is detached, the parent is counted down once.
func (f *Frame) countdown(name string, n int) {
	f.mu.Lock()
	left, ok := f.counts[name]
	if !ok {
		f.mu.Unlock()
		return
	}
	left -= n
	if left > 0 {
		f.counts[name] = left
		f.mu.Unlock()
		return
	}
	if left < 0 {
		Logger().Debug("write count below zero", zap.String("name", name), zap.Int("count", left))
	}
	delete(f.counts, name)
	v := f.vars[name]
	fut := f.promised[name]
	delete(f.promised, name)
	f.mu.Unlock()

	fut.Resolve(v, nil)
	if !f.detached && f.parent != nil {
		f.parent.countdown(name, 1)
	}
}

// skip counts down writes a branch not taken would have made. The values
// stay as they were.
func (f *Frame) skip(counts frame.Counts) {
	for _, name := range counts.Names() {
		f.countdown(name, counts[name])
	}
}

// remaining returns a copy of the outstanding write counts.
func (f *Frame) remaining() frame.Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts.Clone()
}

// poisonRemaining fails every variable f still has to write and returns how
// many there were.
func (f *Frame) poisonRemaining(err error) int {
	f.mu.Lock()
	left := f.counts.Clone()
	for name := range left {
		f.vars[name] = Failed(err)
	}
	f.mu.Unlock()
	for _, name := range left.Names() {
		f.countdown(name, left[name])
	}
	return len(left)
}

// release resolves every outstanding write with the current value.
func (f *Frame) release() {
	left := f.remaining()
	for _, name := range left.Names() {
		f.countdown(name, left[name])
	}
}

// hold adds n expected writes of name when f counts it.
func (f *Frame) hold(name string, n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	left, ok := f.counts[name]
	if ok {
		f.counts[name] = left + n
	}
	return ok
}

// exports returns the template variables bound directly in f.
func (f *Frame) exports() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.vars))
	for k, v := range f.vars {
		if strings.HasPrefix(k, frame.LockPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}
