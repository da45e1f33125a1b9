package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// Config configures a Runtime.
type Config struct {
	// LoopConcurrency bounds the iterations of one concurrent loop that run
	// at the same time when the loop sets no limit of its own. Zero means
	// unbounded.
	LoopConcurrency int
}

// Loader resolves the templates a program includes, imports or extends.
type Loader interface {
	Load(ctx context.Context, name string) (*ir.Program, error)
}

// Result is the output of a render.
type Result struct {
	// Text is the output of the text handler.
	Text string
	// Outputs holds the result of every other handler that received a
	// command, by handler name.
	Outputs map[string]any
}

// Runtime executes compiled programs. Its registry is shared by every
// render; a Runtime is safe for concurrent use.
type Runtime struct {
	*Registry
	cfg Config
}

// New creates a runtime holding the built-in filters, tests and handlers.
func New(cfg Config) *Runtime {
	return &Runtime{Registry: NewRegistry(), cfg: cfg}
}

// NewWithRegistry creates a runtime over an existing registry.
func NewWithRegistry(cfg Config, reg *Registry) *Runtime {
	return &Runtime{Registry: reg, cfg: cfg}
}

// Render executes prog with data as its context. Templates referenced by
// name are resolved through loader, which may be nil when prog references
// none.
//
// Render waits for every unit the program started. When any failure was not
// claimed by a guard, the returned error combines all of them and the
// result holds the output rendered around the failures.
func (r *Runtime) Render(ctx context.Context, prog *ir.Program, data map[string]any, loader Loader) (Result, error) {
	if prog == nil {
		return Result{}, errors.InvalidInput(errors.PhaseRender, "program is nil")
	}
	if data == nil {
		data = map[string]any{}
	}
	x := &renderer{ctx: ctx, rt: r, loader: loader}
	st := newState(prog, data, nil)
	root := newRootFrame(st, NewTracker(nil))
	buf := NewBuffer()

	runErr := x.renderTemplate(st, root, buf)

	out := newOutputs(r.handlerFactories())
	flatErr := buf.Flatten(out)
	res := Result{Text: out.Text(), Outputs: out.Results()}
	err := NewPoison(runErr, flatErr)
	if err != nil {
		Logger().Debug("render failed", zap.String("template", prog.Name), zap.Error(err))
	}
	return res, err
}

// renderer carries what every instruction of one render needs.
type renderer struct {
	ctx    context.Context
	rt     *Runtime
	loader Loader
}

// state is one template taking part in a render: the render's root
// template, or an included, imported or parent template.
type state struct {
	prog    *ir.Program
	context map[string]any
	blocks  *blockTable
	root    *Frame

	mu      sync.Mutex
	parent  *ir.Program
	pending []pendingBlock
}

// pendingBlock is a top-level block of a template that extends another; it
// renders only when no parent was set.
type pendingBlock struct {
	name  string
	frame *Frame
	slot  *Buffer
}

func newState(prog *ir.Program, context map[string]any, blocks *blockTable) *state {
	if blocks == nil {
		blocks = &blockTable{defs: make(map[string][]*ir.BlockDef)}
	}
	blocks.add(prog)
	return &state{prog: prog, context: context, blocks: blocks}
}

func (st *state) setParent(p *ir.Program) {
	st.mu.Lock()
	st.parent = p
	st.mu.Unlock()
}

func (st *state) parentProgram() *ir.Program {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.parent
}

func (st *state) deferBlock(p pendingBlock) {
	st.mu.Lock()
	st.pending = append(st.pending, p)
	st.mu.Unlock()
}

// blockTable holds the block definitions of an inheritance chain, most
// derived first.
type blockTable struct {
	mu   sync.Mutex
	defs map[string][]*ir.BlockDef
}

func (t *blockTable) add(prog *ir.Program) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, def := range prog.Blocks {
		t.defs[name] = append(t.defs[name], def)
	}
}

func (t *blockTable) get(name string, level int) (*ir.BlockDef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defs := t.defs[name]
	if level >= len(defs) {
		return nil, false
	}
	return defs[level], true
}
