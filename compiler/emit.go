package compiler

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/frame"
	"github.com/geleto/cascada/ir"
)

// inFrame compiles fn with a new frame pushed on top of the current one and
// returns the frame's spec. Every frame pushed here is opened by the runtime
// at the matching instruction, so the two frame trees stay in step.
func (c *Compiler) inFrame(n ast.Node, createScope, isolate bool, fn func() error) (ir.FrameSpec, []ir.Instr, error) {
	reads, writes, body, err := c.track(n, createScope, isolate, fn)
	if err != nil {
		return ir.FrameSpec{}, nil, err
	}
	return c.frameSpec(createScope, isolate, reads, writes), body, nil
}

// track compiles fn in a new frame and returns the frame's read snapshot
// list and write counts.
func (c *Compiler) track(n ast.Node, createScope, isolate bool, fn func() error) ([]string, frame.Counts, []ir.Instr, error) {
	id := c.arena.Push(c.cur, createScope, isolate)
	saved := c.cur
	c.cur = id
	body, err := c.collect(fn)
	c.cur = saved
	if err != nil {
		return nil, nil, nil, err
	}

	_, reads, writes, err := c.arena.Pop(id)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			p := n.Pos()
			e.Template, e.Line, e.Col, e.Context = c.template, p.Line, p.Col, ast.Describe(n)
		}
		return nil, nil, nil, err
	}
	return reads, writes, body, nil
}

// frameSpec builds the spec the runtime opens. Sync programs run in order,
// so their frames carry no read snapshots or write counts.
func (c *Compiler) frameSpec(createScope, isolate bool, reads []string, writes frame.Counts) ir.FrameSpec {
	spec := ir.FrameSpec{CreateScope: createScope, Isolate: isolate}
	if !c.async {
		return spec
	}
	if len(reads) > 0 {
		spec.Reads = reads
	}
	if len(writes) > 0 {
		spec.Writes = writes
	}
	return spec
}

// emitBlock compiles body as a synchronization unit of the given shape.
func (c *Compiler) emitBlock(n ast.Node, shape ir.Shape, body func() error) (*ir.Block, error) {
	parent := c.bufs.current()
	buf := parent
	if shape == ir.ShapeAddToBuffer || shape == ir.ShapeRender {
		buf = c.bufs.push()
		defer c.bufs.pop()
	}

	spec, instrs, err := c.inFrame(n, false, false, body)
	if err != nil {
		return nil, err
	}
	blk := &ir.Block{
		At:       c.at(n),
		Shape:    shape,
		Frame:    spec,
		Body:     instrs,
		Handlers: collectBranchHandlers(n),
		Buffer:   buf,
		Parent:   parent,
	}
	Logger().Debug("block",
		zap.Stringer("shape", shape),
		zap.Stringer("pos", n.Pos()),
		zap.String("context", blk.Context),
		zap.Strings("reads", spec.Reads),
		zap.Strings("writes", spec.Writes.Names()),
	)
	return blk, nil
}

// wrap emits fn inline, or as a block of the given shape when n is async.
func (c *Compiler) wrap(n ast.Node, shape ir.Shape, fn func() error) error {
	if !c.isAsync(n) {
		return fn()
	}
	blk, err := c.emitBlock(n, shape, fn)
	if err != nil {
		return err
	}
	c.emit(blk)
	return nil
}

// valueBlock compiles n in its own frame and yields its value.
func (c *Compiler) valueBlock(n ast.Node) (ir.Expr, error) {
	var inner ir.Expr
	spec, _, err := c.inFrame(n, false, false, func() error {
		var err error
		inner, err = c.plainExpr(n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ir.ValueBlock{At: c.at(n), Frame: spec, Expr: inner}, nil
}

// renderBlock compiles body into a private buffer and yields its text.
func (c *Compiler) renderBlock(n ast.Node, body *ast.NodeList) (*ir.RenderBlock, error) {
	buf := c.bufs.push()
	defer c.bufs.pop()
	spec, instrs, err := c.inFrame(n, true, false, func() error {
		return c.body(body)
	})
	if err != nil {
		return nil, err
	}
	return &ir.RenderBlock{At: c.at(n), Frame: spec, Body: instrs, Buffer: buf}, nil
}

// branch compiles one alternative of a conditional in its own frame. Its
// skip slot is filled by fillSkips once every alternative is known.
func (c *Compiler) branch(n ast.Node, createScope bool, fn func() error) (*ir.Branch, error) {
	b, _, err := c.trackedBranch(n, createScope, fn)
	return b, err
}

// trackedBranch is branch that also returns the names the branch writes,
// whether or not the program is async.
func (c *Compiler) trackedBranch(n ast.Node, createScope bool, fn func() error) (*ir.Branch, []string, error) {
	reads, writes, body, err := c.track(n, createScope, false, fn)
	if err != nil {
		return nil, nil, err
	}
	spec := c.frameSpec(createScope, false, reads, writes)
	return &ir.Branch{
		Skip:   &ir.Patch{},
		Frame:  spec,
		Body:   body,
		Writes: frame.CountsTo1(spec.Writes),
	}, writes.Names(), nil
}

// fillSkips makes every branch count down the writes only the other branches
// perform.
func fillSkips(branches ...*ir.Branch) {
	for i, b := range branches {
		var others []frame.Counts
		for j, o := range branches {
			if j != i {
				others = append(others, o.Writes)
			}
		}
		if skip := frame.CombineWriteCounts(others...); len(skip) > 0 {
			b.Skip.Fill = append(b.Skip.Fill, &ir.SkipWrites{Counts: skip})
		}
	}
}

// failure lists what must be poisoned when the construct n cannot decide
// which of branches to run.
func failure(n ast.Node, branches ...*ir.Branch) ir.Failure {
	var writes []frame.Counts
	for _, b := range branches {
		if b != nil {
			writes = append(writes, b.Writes)
		}
	}
	return ir.Failure{
		Writes:   frame.CombineWriteCounts(writes...),
		Handlers: collectBranchHandlers(n),
	}
}

// write records a write of name from the current frame.
func (c *Compiler) write(name string) {
	c.arena.UpdateFrameWrites(c.cur, name)
}

// read records a read of name from the current frame.
func (c *Compiler) read(name string) {
	c.arena.UpdateFrameReads(c.cur, name)
}

// declare declares name in the nearest scope and records the write.
func (c *Compiler) declare(name string) {
	c.arena.DeclareVar(c.arena.ScopeFrame(c.cur), name)
	c.arena.UpdateFrameWrites(c.cur, name)
}
