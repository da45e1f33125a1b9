package runtime

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// Macro is a callable defined by a macro tag or by the body of a call
// block. It renders its body as text in a fresh scope that sees the
// variables of the frame it was defined in.
type Macro struct {
	name   string
	params []ir.Param
	spec   ir.FrameSpec
	body   []ir.Instr
	def    *Frame
}

// Name returns the macro's name; "caller" for call block bodies.
func (m *Macro) Name() string { return m.name }

func (m *Macro) String() string { return "macro " + m.name }

// callMacro renders m. Positional arguments bind the parameters in order,
// keyword arguments by name; parameters left unbound take their default.
// Unknown keyword arguments are ignored, except caller, which is always
// bound.
func (x *renderer) callMacro(m *Macro, args []any, kwargs map[string]any) (any, error) {
	mf := m.def.Enter(ir.FrameSpec{Reads: m.spec.Reads, CreateScope: true, Isolate: true}, true)
	mf.tracker = NewTracker(m.def.tracker)

	bound := make(map[string]bool, len(m.params))
	for i, p := range m.params {
		if i < len(args) {
			mf.set(p.Name, args[i])
			bound[p.Name] = true
		}
	}
	for name, v := range kwargs {
		if name == "caller" {
			mf.set(name, v)
			continue
		}
		for _, p := range m.params {
			if p.Name == name {
				mf.set(name, v)
				bound[name] = true
			}
		}
	}
	for _, p := range m.params {
		if bound[p.Name] {
			continue
		}
		if p.Default == nil {
			mf.set(p.Name, Undefined)
			continue
		}
		mf.set(p.Name, x.eval(mf, p.Default))
	}

	return x.renderText(mf, m.body)
}

// renderText runs body in f into a private buffer, waits for it and
// returns the text.
func (x *renderer) renderText(f *Frame, body []ir.Instr) (any, error) {
	buf := NewBuffer()
	runErr := x.run(f, buf, body)
	if err := f.tracker.Wait(x.ctx); err != nil {
		return nil, err
	}
	text, flatErr := flattenText(buf)
	if err := NewPoison(runErr, flatErr); err != nil {
		return nil, err
	}
	return text, nil
}

// capture renders body in cf, a frame already entered under f, and yields
// its text. The body runs concurrently with what follows in async programs.
func (x *renderer) capture(f, cf *Frame, body []ir.Instr) any {
	cf.tracker = NewTracker(f.tracker)
	if !f.st.prog.Async {
		v, err := x.renderText(cf, body)
		if err != nil {
			return Failed(err)
		}
		return v
	}
	out := NewFuture()
	f.tracker.Go(func() {
		out.Resolve(x.renderText(cf, body))
	})
	return out
}

// renderTemplate renders st with root as its top frame and waits for it.
// When the template set a parent with extends, its own top-level output is
// dropped and the parent renders instead, in a frame below root so that it
// sees the child's top-level variables; its blocks come after the child's.
func (x *renderer) renderTemplate(st *state, root *Frame, buf *Buffer) error {
	var errs []error
	for {
		st.root = root
		for _, key := range st.prog.Locks {
			root.set(key, true)
		}

		body := buf
		if st.prog.HasExtends {
			body = NewBuffer()
		}
		if err := x.run(root, body, st.prog.Body); err != nil {
			if isCancelled(err) {
				return err
			}
			errs = append(errs, err)
		}
		if err := root.tracker.Wait(x.ctx); err != nil {
			return err
		}

		parent := st.parentProgram()
		if parent == nil {
			if st.prog.HasExtends {
				errs = append(errs, x.renderPending(st))
				buf.add(body)
			}
			return NewPoison(errs...)
		}

		Logger().Debug("extends",
			zap.String("template", st.prog.Name),
			zap.String("parent", parent.Name),
		)
		next := newState(parent, st.context, st.blocks)
		proot := root.child(true, false)
		proot.st = next
		st, root = next, proot
	}
}

// renderPending renders the top-level blocks of a template whose extends
// set no parent, into the slots they were given.
func (x *renderer) renderPending(st *state) error {
	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	st.mu.Unlock()

	var errs []error
	for _, p := range pending {
		if err := x.renderBlock(p.frame, p.slot, p.name, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := st.root.tracker.Wait(x.ctx); err != nil {
		return err
	}
	return NewPoison(errs...)
}

func (x *renderer) blockCall(f *Frame, buf *Buffer, n *ir.BlockCall) error {
	if f.st.prog.HasExtends && f == f.st.root {
		f.st.deferBlock(pendingBlock{name: n.Name, frame: f, slot: buf.Reserve()})
		return nil
	}
	err := x.renderBlock(f, buf, n.Name, 0)
	if err != nil {
		return x.wrap(f, &n.At, err)
	}
	return nil
}

// renderBlock renders the definition of name at level of the inheritance
// chain, 0 being the most derived.
func (x *renderer) renderBlock(f *Frame, buf *Buffer, name string, level int) error {
	def, ok := f.st.blocks.get(name, level)
	if !ok {
		return errors.NotFound(errors.PhaseRender, "block", name)
	}
	bf := f.Enter(ir.FrameSpec{Reads: def.Frame.Reads, CreateScope: true, Isolate: true}, false)
	bf.block = &blockScope{name: name, level: level}
	return x.run(bf, buf.Reserve(), def.Body)
}

// loadTemplate resolves the template named by v.
func (x *renderer) loadTemplate(v any) (*ir.Program, error) {
	name, ok := v.(string)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
			Detail("template name must be a string, got %s", typeName(v)).
			Build()
	}
	if x.loader == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "template", name)
	}
	return x.loader.Load(x.ctx, name)
}

var errTemplateNotFound = &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotFound}

func (x *renderer) include(f *Frame, buf *Buffer, n *ir.Include) error {
	name, err := await(x.ctx, x.eval(f, n.Template))
	if err != nil {
		return err
	}
	prog, err := x.loadTemplate(name)
	if err != nil {
		if n.IgnoreMissing && stderrors.Is(err, errTemplateNotFound) {
			return nil
		}
		return x.wrap(f, &n.At, err)
	}

	context := make(map[string]any, len(f.st.context)+len(n.Vars))
	for k, v := range f.st.context {
		context[k] = v
	}
	for _, name := range n.Vars {
		if v, ok := f.lookup(name); ok {
			context[name] = v
		}
	}
	st := newState(prog, context, nil)
	root := newRootFrame(st, NewTracker(f.tracker))
	return x.renderTemplate(st, root, buf.Reserve())
}

func (x *renderer) extends(f *Frame, n *ir.Extends) error {
	name, err := await(x.ctx, x.eval(f, n.Template))
	if err != nil {
		return err
	}
	if name == nil || IsUndefined(name) {
		return nil
	}
	prog, err := x.loadTemplate(name)
	if err != nil {
		return x.wrap(f, &n.At, err)
	}
	f.st.setParent(prog)
	return nil
}

// exportsOf renders the template named by the value of e on its own, with
// an empty context, and returns its top-level variables and macros.
func (x *renderer) exportsOf(f *Frame, at *ir.At, e ir.Expr) (map[string]any, error) {
	name, err := await(x.ctx, x.eval(f, e))
	if err != nil {
		return nil, err
	}
	prog, err := x.loadTemplate(name)
	if err != nil {
		return nil, x.wrap(f, at, err)
	}
	st := newState(prog, map[string]any{}, nil)
	root := newRootFrame(st, NewTracker(f.tracker))
	if err := x.renderTemplate(st, root, NewBuffer()); err != nil {
		return nil, err
	}
	return root.exports(), nil
}

func (x *renderer) importInstr(f *Frame, n *ir.Import) error {
	exports, err := x.exportsOf(f, &n.At, n.Template)
	if err != nil {
		f.assign(n.Target, Failed(err), false, 1)
		return err
	}
	f.assign(n.Target, exports, false, 1)
	return nil
}

func (x *renderer) fromImport(f *Frame, n *ir.FromImport) error {
	exports, err := x.exportsOf(f, &n.At, n.Template)
	if err != nil {
		for _, in := range n.Names {
			f.assign(in.Alias, Failed(err), false, 1)
		}
		return err
	}
	var errs []error
	for _, in := range n.Names {
		v, ok := exports[in.Name]
		if !ok {
			err := x.wrap(f, &n.At, errors.NotFound(errors.PhaseRender, "export", in.Name))
			f.assign(in.Alias, Failed(err), false, 1)
			errs = append(errs, err)
			continue
		}
		f.assign(in.Alias, v, false, 1)
	}
	return NewPoison(errs...)
}
