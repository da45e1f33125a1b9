package runtime

import (
	"context"
	"sync"

	"github.com/geleto/cascada/errors"
)

// Future is a value that may still be being computed.
//
// A future is resolved exactly once. Resolving it with another future links
// the two: awaiting the first yields the value of the second.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future holding v.
func Resolved(v any) *Future {
	f := NewFuture()
	f.Resolve(v, nil)
	return f
}

// Failed returns a future holding err.
func Failed(err error) *Future {
	f := NewFuture()
	f.Resolve(nil, err)
	return f
}

// Resolve sets the outcome of f. Later calls are ignored.
func (f *Future) Resolve(v any, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done returns a channel closed once f is resolved. A resolved future may
// still link to a pending one.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether f and every future it links to are resolved.
func (f *Future) Ready() bool {
	for {
		select {
		case <-f.done:
		default:
			return false
		}
		next, ok := f.value.(*Future)
		if !ok || f.err != nil {
			return true
		}
		f = next
	}
}

// Await blocks until f is resolved or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	for {
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, cancelled(ctx)
		}
		next, ok := f.value.(*Future)
		if !ok || f.err != nil {
			return f.value, f.err
		}
		f = next
	}
}

// Value returns the outcome of a ready future.
func (f *Future) Value() (any, error) {
	return f.Await(context.Background())
}

// await resolves v when it is a future and returns it unchanged otherwise.
func await(ctx context.Context, v any) (any, error) {
	if fut, ok := v.(*Future); ok {
		return fut.Await(ctx)
	}
	return v, nil
}

// futureOf wraps a plain value; futures are returned as is.
func futureOf(v any) *Future {
	if fut, ok := v.(*Future); ok {
		return fut
	}
	return Resolved(v)
}

// awaitAll waits for every future. It returns the values in order and the
// failures of all operands combined.
func awaitAll(ctx context.Context, futs []*Future) ([]any, error) {
	vals := make([]any, len(futs))
	var errs []error
	for i, f := range futs {
		v, err := f.Await(ctx)
		if err != nil {
			if isCancelled(err) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		vals[i] = v
	}
	if len(errs) > 0 {
		return nil, NewPoison(errs...)
	}
	return vals, nil
}

func cancelled(ctx context.Context) error {
	return errors.New(errors.PhaseRender, errors.KindCancelled).
		Detail("render cancelled").
		Cause(ctx.Err()).
		Build()
}

func isCancelled(err error) bool {
	e, ok := err.(*errors.Error)
	return ok && e.Kind == errors.KindCancelled
}
