package runtime

import (
	"fmt"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// eval launches e in f and returns its value, which is a *Future when the
// value is not known yet. Operands are launched in source order before
// anything waits, so lock acquisitions and reads are ordered lexically
// while the operations themselves run concurrently.
func (x *renderer) eval(f *Frame, e ir.Expr) any {
	switch n := e.(type) {
	case nil:
		return Undefined

	case *ir.Const:
		return n.Value

	case *ir.Load:
		v := x.lookup(f, n.Name)
		if n.WaitLock == "" {
			return v
		}
		wait := x.settled(f, x.lookup(f, n.WaitLock))
		return x.compute(f, &n.At, []any{wait, v}, false, func(vals []any) (any, error) {
			return vals[1], nil
		})

	case *ir.Member:
		target := x.eval(f, n.Target)
		key := x.eval(f, n.Key)
		deps := []any{target, key}
		if n.WaitLock != "" {
			deps = append(deps, x.settled(f, x.lookup(f, n.WaitLock)))
		}
		return x.compute(f, &n.At, deps, false, func(vals []any) (any, error) {
			return member(vals[0], vals[1])
		})

	case *ir.Call:
		return x.evalCall(f, n)

	case *ir.Filter:
		fn, ok := x.rt.filter(n.Name)
		if !ok {
			return Failed(x.wrap(f, &n.At, errors.NotFound(errors.PhaseRender, "filter", n.Name)))
		}
		deps := append([]any{x.eval(f, n.Target)}, x.evalAll(f, n.Args)...)
		return x.compute(f, &n.At, deps, true, func(vals []any) (any, error) {
			return callGo(x.ctx, fn, vals, nil)
		})

	case *ir.Binary:
		left := x.eval(f, n.Left)
		if n.Operator == "and" || n.Operator == "or" {
			right := x.lazy(f, n.Right)
			return x.choose(f, &n.At, left, []lazyExpr{right}, func(l any) (int, any) {
				if Truthy(l) == (n.Operator == "and") {
					return 0, nil
				}
				return -1, l
			})
		}
		right := x.eval(f, n.Right)
		return x.compute(f, &n.At, []any{left, right}, false, func(vals []any) (any, error) {
			return binary(n.Operator, vals[0], vals[1])
		})

	case *ir.Unary:
		operand := x.eval(f, n.Operand)
		return x.compute(f, &n.At, []any{operand}, false, func(vals []any) (any, error) {
			return unary(n.Operator, vals[0])
		})

	case *ir.Cond:
		cond := x.eval(f, n.Cond)
		alts := []lazyExpr{x.lazy(f, n.Then), x.lazy(f, n.Else)}
		return x.choose(f, &n.At, cond, alts, func(c any) (int, any) {
			if Truthy(c) {
				return 0, nil
			}
			return 1, nil
		})

	case *ir.List:
		return x.compute(f, &n.At, x.evalAll(f, n.Items), false, func(vals []any) (any, error) {
			return vals, nil
		})

	case *ir.Dict:
		deps := make([]any, 0, 2*len(n.Pairs))
		for _, p := range n.Pairs {
			deps = append(deps, x.eval(f, p.Key), x.eval(f, p.Value))
		}
		return x.compute(f, &n.At, deps, false, func(vals []any) (any, error) {
			m := make(map[string]any, len(vals)/2)
			for i := 0; i < len(vals); i += 2 {
				m[ToString(vals[i])] = vals[i+1]
			}
			return m, nil
		})

	case *ir.Test:
		test, ok := x.rt.test(n.Name)
		if !ok {
			return Failed(x.wrap(f, &n.At, errors.NotFound(errors.PhaseRender, "test", n.Name)))
		}
		target := x.eval(f, n.Target)
		if n.Name == errorTest {
			target = x.outcome(f, target)
		}
		deps := append([]any{target}, x.evalAll(f, n.Args)...)
		return x.compute(f, &n.At, deps, false, func(vals []any) (any, error) {
			return test(vals[0], vals[1:])
		})

	case *ir.ValueBlock:
		if !f.st.prog.Async {
			return x.eval(f, n.Expr)
		}
		vf := f.Enter(n.Frame, false)
		v := x.eval(vf, n.Expr)
		vf.release()
		return v

	case *ir.RenderBlock:
		return x.capture(f, f.Enter(n.Frame, false), n.Body)

	case *ir.CallerFunc:
		return &Macro{name: "caller", params: n.Params, spec: n.Frame, body: n.Body, def: f}

	case *ir.Super:
		bs := f.block
		if bs == nil {
			return Failed(x.wrap(f, &n.At, errors.New(errors.PhaseRender, errors.KindCall).
				Detail("super() used outside a block").
				Build()))
		}
		def, ok := f.st.blocks.get(bs.name, bs.level+1)
		if !ok {
			return Failed(x.wrap(f, &n.At, errors.NotFound(errors.PhaseRender, "parent block", bs.name)))
		}
		sf := f.Enter(ir.FrameSpec{Reads: def.Frame.Reads, CreateScope: true, Isolate: true}, true)
		sf.block = &blockScope{name: bs.name, level: bs.level + 1}
		return x.capture(f, sf, def.Body)
	}
	return Failed(errors.Internal("unknown expression %T", e))
}

func (x *renderer) evalAll(f *Frame, es []ir.Expr) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = x.eval(f, e)
	}
	return out
}

// evalCall launches a call. A lock-acquiring call takes the lock in source
// order: the lock variable is replaced right away by a future that the call
// resolves when it has finished, successfully or not.
func (x *renderer) evalCall(f *Frame, n *ir.Call) any {
	deps := []any{x.eval(f, n.Callee)}
	deps = append(deps, x.evalAll(f, n.Args)...)
	for _, kv := range n.Kwargs {
		deps = append(deps, x.eval(f, kv.Key), x.eval(f, kv.Value))
	}
	nargs := len(n.Args)
	fn := func(vals []any) (any, error) {
		var kwargs map[string]any
		if len(n.Kwargs) > 0 {
			kwargs = make(map[string]any, len(n.Kwargs))
			for i := 1 + nargs; i < len(vals); i += 2 {
				kwargs[ToString(vals[i])] = vals[i+1]
			}
		}
		return x.call(vals[0], vals[1:1+nargs], kwargs)
	}

	if n.Lock == "" || !f.st.prog.Async {
		return x.compute(f, &n.At, deps, true, fn)
	}

	prev := x.lookup(f, n.Lock)
	next := NewFuture()
	f.assign(n.Lock, next, false, 1)
	out := NewFuture()
	f.tracker.Go(func() {
		defer next.Resolve(true, nil)
		// the previous holder's failure is its own
		_, _ = await(x.ctx, prev)
		v, err := x.apply(f, &n.At, deps, fn)
		if err == nil {
			v, err = await(x.ctx, v)
		}
		out.Resolve(v, err)
	})
	return out
}

// call invokes a macro or a Go function.
func (x *renderer) call(callee any, args []any, kwargs map[string]any) (any, error) {
	switch fn := callee.(type) {
	case *Macro:
		return x.callMacro(fn, args, kwargs)
	case nil, undefined:
		return nil, fmt.Errorf("%s is not callable", typeName(callee))
	}
	return callGo(x.ctx, callee, args, kwargs)
}

// lookup resolves name in f, then among the registered globals.
func (x *renderer) lookup(f *Frame, name string) any {
	if v, ok := f.lookup(name); ok {
		return v
	}
	if v, ok := x.rt.global(name); ok {
		return v
	}
	return Undefined
}

// compute applies fn to the values of deps. It runs inline when the program
// is synchronous, or when every operand is ready and spawn is false;
// otherwise it runs in a tracked goroutine and the result is a future.
func (x *renderer) compute(f *Frame, at *ir.At, deps []any, spawn bool, fn func([]any) (any, error)) any {
	if !f.st.prog.Async || (!spawn && ready(deps)) {
		v, err := x.apply(f, at, deps, fn)
		if err != nil {
			return Failed(err)
		}
		return v
	}
	out := NewFuture()
	f.tracker.Go(func() {
		out.Resolve(x.apply(f, at, deps, fn))
	})
	return out
}

func (x *renderer) apply(f *Frame, at *ir.At, deps []any, fn func([]any) (any, error)) (any, error) {
	vals, err := x.awaitValues(deps)
	if err != nil {
		return nil, err
	}
	v, err := fn(vals)
	if err != nil {
		return nil, x.wrap(f, at, err)
	}
	return v, nil
}

// awaitValues waits for every operand. Failures of several operands are
// combined into one poison.
func (x *renderer) awaitValues(deps []any) ([]any, error) {
	vals := make([]any, len(deps))
	var errs []error
	for i, d := range deps {
		v, err := await(x.ctx, d)
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

func ready(deps []any) bool {
	for _, d := range deps {
		if fut, ok := d.(*Future); ok && !fut.Ready() {
			return false
		}
	}
	return true
}

// settled returns an operand that becomes available once v is resolved,
// whatever its outcome, or nil when v already is.
func (x *renderer) settled(f *Frame, v any) any {
	fut, ok := v.(*Future)
	if !ok || fut.Ready() {
		return nil
	}
	out := NewFuture()
	f.tracker.Go(func() {
		_, _ = fut.Await(x.ctx)
		out.Resolve(nil, nil)
	})
	return out
}

// outcome turns the failure of v into its value, for tests that inspect
// failures.
func (x *renderer) outcome(f *Frame, v any) any {
	fut, ok := v.(*Future)
	if !ok {
		return v
	}
	settle := func() any {
		val, err := fut.Await(x.ctx)
		if err != nil {
			return err
		}
		return val
	}
	if !f.st.prog.Async || fut.Ready() {
		return settle()
	}
	out := NewFuture()
	f.tracker.Go(func() {
		out.Resolve(settle(), nil)
	})
	return out
}

// lazyExpr is an operand evaluated only when its alternative is taken. A
// value block is entered right away so that its lock writes keep their
// place in source order; skipping it releases them.
type lazyExpr struct {
	start func() any
	skip  func()
}

func (x *renderer) lazy(f *Frame, e ir.Expr) lazyExpr {
	if vb, ok := e.(*ir.ValueBlock); ok && f.st.prog.Async {
		vf := f.Enter(vb.Frame, false)
		return lazyExpr{
			start: func() any {
				v := x.eval(vf, vb.Expr)
				vf.release()
				return v
			},
			skip: vf.release,
		}
	}
	return lazyExpr{
		start: func() any { return x.eval(f, e) },
		skip:  func() {},
	}
}

// choose waits for cond and evaluates the alternative pick selects. When
// pick returns -1 its value is the result. Every other alternative is
// skipped, all of them when cond fails.
func (x *renderer) choose(f *Frame, at *ir.At, cond any, alts []lazyExpr, pick func(any) (int, any)) any {
	run := func() (any, error) {
		c, err := await(x.ctx, cond)
		idx, v := -1, any(nil)
		if err == nil {
			idx, v = pick(c)
		}
		for i, a := range alts {
			if i != idx {
				a.skip()
			}
		}
		if err != nil {
			return nil, err
		}
		if idx >= 0 {
			return alts[idx].start(), nil
		}
		return v, nil
	}
	if !f.st.prog.Async || ready([]any{cond}) {
		v, err := run()
		if err != nil {
			return Failed(err)
		}
		return v
	}
	out := NewFuture()
	f.tracker.Go(func() {
		out.Resolve(run())
	})
	return out
}

// wrap attaches the template position to a failure raised by an operation.
// Failures that already carry one, or that combine operand failures, pass
// through.
func (x *renderer) wrap(f *Frame, at *ir.At, err error) error {
	switch e := err.(type) {
	case *Poison:
		return err
	case *errors.Error:
		if e.HasPosition() || e.Kind == errors.KindCancelled {
			return err
		}
		c := *e
		c.Template, c.Line, c.Col = f.st.prog.Name, at.Pos.Line, at.Pos.Col
		if c.Context == "" {
			c.Context = at.Context
		}
		return &c
	}
	return errors.Render(f.st.prog.Name, at.Pos.Line, at.Pos.Col, at.Context, err)
}
