package runtime

import (
	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// fail poisons what a construct would have produced when its controlling
// expression failed. The failure is returned only when nothing carries it.
func (x *renderer) fail(f *Frame, buf *Buffer, fl ir.Failure, err error) error {
	for _, name := range fl.Writes.Names() {
		f.assign(name, Failed(err), false, fl.Writes[name])
	}
	for _, h := range fl.Handlers {
		buf.Poison(h, err)
	}
	if len(fl.Writes) == 0 && len(fl.Handlers) == 0 {
		return err
	}
	return nil
}

// branch runs one alternative inline: it first skips the writes of the
// alternatives not taken, then runs the body in the branch's own frame.
func (x *renderer) branch(f *Frame, buf *Buffer, b *ir.Branch) error {
	if b == nil {
		return nil
	}
	if b.Skip != nil {
		if err := x.run(f, buf, b.Skip.Fill); err != nil {
			return err
		}
	}
	return x.run(f.Enter(b.Frame, false), buf, b.Body)
}

func (x *renderer) ifInstr(f *Frame, buf *Buffer, n *ir.If) error {
	c, err := await(x.ctx, x.eval(f, n.Cond))
	if err != nil {
		return x.fail(f, buf, n.Failure, err)
	}
	if Truthy(c) {
		return x.branch(f, buf, n.Then)
	}
	return x.branch(f, buf, n.Else)
}

// switchInstr tests the cases in order and runs the first that matches.
// Case expressions after the match are never evaluated.
func (x *renderer) switchInstr(f *Frame, buf *Buffer, n *ir.Switch) error {
	subject := x.eval(f, n.Expr)
	cases := make([]lazyExpr, len(n.Cases))
	for i, cs := range n.Cases {
		cases[i] = x.lazy(f, cs.Cond)
	}
	skipFrom := func(i int) {
		for ; i < len(cases); i++ {
			cases[i].skip()
		}
	}

	v, err := await(x.ctx, subject)
	if err != nil {
		skipFrom(0)
		return x.fail(f, buf, n.Failure, err)
	}
	for i, cs := range n.Cases {
		cv, err := await(x.ctx, cases[i].start())
		if err != nil {
			skipFrom(i + 1)
			return x.fail(f, buf, n.Failure, err)
		}
		if equal(v, cv) {
			skipFrom(i + 1)
			return x.branch(f, buf, cs.Branch)
		}
	}
	return x.branch(f, buf, n.Default)
}

// failLoop poisons the loop frame and the loop's handlers.
func (x *renderer) failLoop(lf *Frame, buf *Buffer, handlers []string, err error) error {
	poisoned := lf.poisonRemaining(err)
	for _, h := range handlers {
		buf.Poison(h, err)
	}
	if poisoned == 0 && len(handlers) == 0 {
		return err
	}
	return nil
}

// forInstr runs a loop. Each iteration gets a fresh, detached body frame
// and its own output slot. A loop whose body writes outer variables runs
// its iterations one after the other, each entered after the previous one
// so it sees that iteration's writes; other loops run their iterations
// concurrently, bounded by the loop's limit or the runtime default.
func (x *renderer) forInstr(f *Frame, buf *Buffer, n *ir.For) error {
	iter := x.eval(f, n.Iter)
	var limit any
	if n.Limit != nil {
		limit = x.eval(f, n.Limit)
	}
	lf := f.Enter(n.Frame, false)

	vals, err := x.awaitValues([]any{iter, limit})
	if err != nil {
		return x.failLoop(lf, buf, n.Failure.Handlers, err)
	}
	keys, items, isMap, err := iterate(vals[0])
	if err != nil {
		return x.failLoop(lf, buf, n.Failure.Handlers, x.wrap(f, &n.At, err))
	}
	concurrency := x.rt.cfg.LoopConcurrency
	if n.Limit != nil {
		num, ok := toNumber(vals[1])
		if !ok || num.float() < 1 {
			err := errors.TypeMismatch(errors.PhaseRender, n.Pos.Line, n.Pos.Col, n.Context,
				"loop limit must be a positive number, got "+ToString(vals[1]))
			err.Template = f.st.prog.Name
			return x.failLoop(lf, buf, n.Failure.Handlers, err)
		}
		concurrency = int(num.float())
	}

	if len(items) == 0 {
		err := x.branch(lf, buf, n.Else)
		lf.skip(n.Body.Writes)
		return err
	}

	parallel := f.st.prog.Async && !n.Sequential
	var sem chan struct{}
	if parallel && concurrency > 0 {
		sem = make(chan struct{}, concurrency)
	}
	for i, item := range items {
		itf := lf.Enter(n.Body.Frame, true)
		x.bindTargets(itf, n.Targets, keys, item, i, isMap)
		itf.set("loop", loopInfo(i, len(items)))
		ib := buf.Reserve()

		if !parallel {
			if err := x.run(itf, ib, n.Body.Body); err != nil {
				if isCancelled(err) {
					return err
				}
				x.claim(itf, ib, n.Failure.Handlers, err)
			}
			continue
		}

		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-x.ctx.Done():
				return cancelled(x.ctx)
			}
		}
		itf.tracker = NewTracker(lf.tracker)
		lf.tracker.Go(func() {
			if err := x.run(itf, ib, n.Body.Body); err != nil {
				x.claim(itf, ib, n.Failure.Handlers, err)
			}
			if sem != nil {
				_ = itf.tracker.Wait(x.ctx)
				<-sem
			}
		})
	}
	if n.Else != nil {
		lf.skip(n.Else.Writes)
	}
	lf.skip(n.Body.Writes)
	return nil
}

func (x *renderer) bindTargets(itf *Frame, targets []string, keys []any, item any, i int, isMap bool) {
	switch {
	case isMap && len(targets) == 1:
		itf.set(targets[0], keys[i])
	case isMap:
		itf.set(targets[0], keys[i])
		itf.set(targets[1], item)
		for _, t := range targets[2:] {
			itf.set(t, Undefined)
		}
	case len(targets) == 1:
		itf.set(targets[0], item)
	default:
		parts, _ := toList(item)
		for j, t := range targets {
			if j < len(parts) {
				itf.set(t, parts[j])
			} else {
				itf.set(t, Undefined)
			}
		}
	}
}

func loopInfo(i, n int) map[string]any {
	return map[string]any{
		"index":     i + 1,
		"index0":    i,
		"revindex":  n - i,
		"revindex0": n - i - 1,
		"first":     i == 0,
		"last":      i == n-1,
		"length":    n,
	}
}

// whileInstr repeats the body while its condition holds. The condition is
// evaluated in the frame of the iteration it guards, after the previous
// iteration's writes.
func (x *renderer) whileInstr(f *Frame, buf *Buffer, n *ir.While) error {
	lf := f.Enter(n.Frame, false)
	for i := 0; ; i++ {
		itf := lf.Enter(n.Body.Frame, true)
		c, err := await(x.ctx, x.eval(itf, n.Cond))
		if err != nil {
			itf.poisonRemaining(err)
			if isCancelled(err) {
				return err
			}
			return x.failLoop(lf, buf, n.Failure.Handlers, err)
		}
		if !Truthy(c) {
			itf.release()
			break
		}
		if n.MaxIterations > 0 && i >= n.MaxIterations {
			err := errors.New(errors.PhaseRender, errors.KindLimit).
				Template(f.st.prog.Name).
				At(n.Pos.Line, n.Pos.Col).
				Context(n.Context).
				Detail("while loop exceeded %d iterations", n.MaxIterations).
				Build()
			itf.poisonRemaining(err)
			return x.failLoop(lf, buf, n.Failure.Handlers, err)
		}
		ib := buf.Reserve()
		if err := x.run(itf, ib, n.Body.Body); err != nil {
			if isCancelled(err) {
				return err
			}
			x.claim(itf, ib, n.Failure.Handlers, err)
		}
	}
	lf.skip(n.Body.Writes)
	return nil
}

// guard runs its body into a private slot and waits for everything the
// body started. When a guarded variable or handler ended up poisoned, the
// variables get back their values from before the guard, the handlers'
// output is discarded and the recover branch runs in its place.
func (x *renderer) guard(f *Frame, buf *Buffer, n *ir.Guard) error {
	gbuf := buf.Reserve()
	pre := make(map[string]any, len(n.Vars))
	for _, name := range n.Vars {
		pre[name] = x.lookup(f, name)
	}
	var held []string
	for _, name := range n.Body.Writes.Names() {
		if f.hold(name, 1) {
			held = append(held, name)
		}
	}

	bf := f.Enter(n.Body.Frame, false)
	bf.tracker = NewTracker(f.tracker)
	runErr := x.run(bf, gbuf, n.Body.Body)
	if err := bf.tracker.Wait(x.ctx); err != nil {
		return err
	}
	if isCancelled(runErr) {
		return runErr
	}

	match := func(h string) bool {
		if n.All {
			return true
		}
		for _, g := range n.Handlers {
			if g == h {
				return true
			}
		}
		return false
	}
	var errs []error
	if runErr != nil && n.All {
		errs = append(errs, runErr)
		runErr = nil
	}
	for _, name := range n.Vars {
		if _, err := await(x.ctx, x.lookup(f, name)); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, gbuf.Poisoned(match)...)

	var recoverErr error
	if len(errs) > 0 {
		Logger().Debug("guard rolled back",
			zap.String("template", f.st.prog.Name),
			zap.Stringer("pos", n.Pos),
			zap.Strings("vars", n.Vars),
			zap.Error(NewPoison(errs...)),
		)
		for name, v := range pre {
			f.owner(name, false).set(name, v)
		}
		gbuf.Strip(match)
		recoverErr = x.branch(f, gbuf, n.Recover)
	} else {
		f.skip(n.Recover.Writes)
	}
	for _, name := range held {
		f.countdown(name, 1)
	}
	return NewPoison(runErr, recoverErr)
}
