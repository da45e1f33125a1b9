package runtime

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// run executes body in f, writing output to buf. Failures of instructions
// run inline are returned combined; units running on their own claim their
// failures where they happen. Execution continues past a failure so that
// every counted write is still performed or poisoned.
func (x *renderer) run(f *Frame, buf *Buffer, body []ir.Instr) error {
	var errs error
	for _, in := range body {
		if err := x.exec(f, buf, in); err != nil {
			if isCancelled(err) {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (x *renderer) exec(f *Frame, buf *Buffer, in ir.Instr) error {
	switch n := in.(type) {
	case *ir.Text:
		buf.Write(n.Value)
		return nil

	case *ir.Output:
		v := x.eval(f, n.Expr)
		x.deliver(f, buf, []any{v}, func(out *Buffer, vals []any, err error) {
			if err != nil {
				out.Poison(TextHandler, err)
				return
			}
			out.Write(ToString(vals[0]))
		})
		return nil

	case *ir.Command:
		args := x.evalAll(f, n.Args)
		x.deliver(f, buf, args, func(out *Buffer, vals []any, err error) {
			if err != nil {
				out.Poison(n.Handler, err)
				return
			}
			out.Command(n.Handler, n.Method, vals)
		})
		return nil

	case *ir.Set:
		v := x.eval(f, n.Value)
		for _, name := range n.Names {
			f.assign(name, v, n.Declare, 1)
		}
		return nil

	case *ir.Do:
		_, err := x.awaitValues(x.evalAll(f, n.Exprs))
		return err

	case *ir.Block:
		x.block(f, buf, n)
		return nil

	case *ir.Patch:
		return x.run(f, buf, n.Fill)

	case *ir.SkipWrites:
		f.skip(n.Counts)
		return nil

	case *ir.If:
		return x.ifInstr(f, buf, n)
	case *ir.Switch:
		return x.switchInstr(f, buf, n)
	case *ir.For:
		return x.forInstr(f, buf, n)
	case *ir.While:
		return x.whileInstr(f, buf, n)
	case *ir.Guard:
		return x.guard(f, buf, n)

	case *ir.Macro:
		f.assign(n.Name, &Macro{name: n.Name, params: n.Params, spec: n.Frame, body: n.Body, def: f}, false, 1)
		return nil

	case *ir.Include:
		return x.include(f, buf, n)
	case *ir.Extends:
		return x.extends(f, n)
	case *ir.BlockCall:
		return x.blockCall(f, buf, n)
	case *ir.Import:
		return x.importInstr(f, n)
	case *ir.FromImport:
		return x.fromImport(f, n)
	}
	return errors.Internal("unknown instruction %T", in)
}

// deliver hands the values of vals to emit. Ready values are emitted in
// place; otherwise a slot is reserved in buf and filled once they resolve.
func (x *renderer) deliver(f *Frame, buf *Buffer, vals []any, emit func(out *Buffer, vals []any, err error)) {
	if !f.st.prog.Async || ready(vals) {
		got, err := x.awaitValues(vals)
		emit(buf, got, err)
		return
	}
	slot := buf.Reserve()
	f.tracker.Go(func() {
		got, err := x.awaitValues(vals)
		emit(slot, got, err)
	})
}

// block starts a synchronization unit. Its frame is entered before the
// next instruction runs; the body runs concurrently.
func (x *renderer) block(f *Frame, buf *Buffer, n *ir.Block) {
	bf := f.Enter(n.Frame, false)
	out := buf
	if n.Shape == ir.ShapeAddToBuffer {
		out = buf.Reserve()
	}
	body := func() {
		if err := x.run(bf, out, n.Body); err != nil {
			x.claim(bf, out, n.Handlers, err)
		}
	}
	if !f.st.prog.Async {
		body()
		return
	}
	f.tracker.Go(body)
}

// claim records the failure of a unit: every write it still owes is
// poisoned and every handler it could have written to gets a marker. A
// failure that reaches neither is kept as an unattributed marker so that it
// still fails the render.
func (x *renderer) claim(f *Frame, buf *Buffer, handlers []string, err error) {
	poisoned := f.poisonRemaining(err)
	for _, h := range handlers {
		buf.Poison(h, err)
	}
	if poisoned == 0 && len(handlers) == 0 {
		buf.Poison("", err)
	}
	Logger().Debug("unit failed",
		zap.Int("poisoned", poisoned),
		zap.Strings("handlers", handlers),
		zap.Error(err),
	)
}
