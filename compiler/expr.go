package compiler

import (
	"github.com/geleto/cascada/analysis"
	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

// expr compiles an expression, giving it its own value block when the lock
// analysis asked for one.
func (c *Compiler) expr(n ast.Node) (ir.Expr, error) {
	if n == nil {
		return nil, nil
	}
	if c.async && c.table.Get(n).Wrap {
		return c.valueBlock(n)
	}
	return c.plainExpr(n)
}

// asyncValue compiles an expression whose value is bound to a variable:
// async values are evaluated in a value block of their own.
func (c *Compiler) asyncValue(n ast.Node) (ir.Expr, error) {
	if c.isAsync(n) {
		return c.valueBlock(n)
	}
	return c.expr(n)
}

func (c *Compiler) exprs(ns []ast.Node) ([]ir.Expr, error) {
	out := make([]ir.Expr, 0, len(ns))
	for _, n := range ns {
		e, err := c.expr(n)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Compiler) plainExpr(n ast.Node) (ir.Expr, error) {
	switch e := n.(type) {
	case *ast.Literal:
		return &ir.Const{Value: e.Value}, nil

	case *ast.Symbol:
		c.read(e.Name)
		return &ir.Load{At: c.at(n), Name: e.Name, WaitLock: c.waitLock(n)}, nil

	case *ast.LookupVal:
		target, err := c.expr(e.Target)
		if err != nil {
			return nil, err
		}
		key, err := c.expr(e.Key)
		if err != nil {
			return nil, err
		}
		return &ir.Member{At: c.at(n), Target: target, Key: key, WaitLock: c.waitLock(n)}, nil

	case *ast.FunCall:
		return c.call(e)

	case *ast.Filter:
		target, err := c.expr(e.Target)
		if err != nil {
			return nil, err
		}
		args, err := c.exprs(e.Args)
		if err != nil {
			return nil, err
		}
		return &ir.Filter{At: c.at(n), Name: e.Name, Target: target, Args: args}, nil

	case *ast.BinOp:
		left, err := c.expr(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.expr(e.Right)
		if err != nil {
			return nil, err
		}
		return &ir.Binary{At: c.at(n), Operator: e.Op, Left: left, Right: right}, nil

	case *ast.UnaryOp:
		operand, err := c.expr(e.Operand)
		if err != nil {
			return nil, err
		}
		return &ir.Unary{At: c.at(n), Operator: e.Op, Operand: operand}, nil

	case *ast.InlineIf:
		cond, err := c.expr(e.Cond)
		if err != nil {
			return nil, err
		}
		then, err := c.expr(e.Body)
		if err != nil {
			return nil, err
		}
		els, err := c.expr(e.Else)
		if err != nil {
			return nil, err
		}
		return &ir.Cond{At: c.at(n), Cond: cond, Then: then, Else: els}, nil

	case *ast.Array:
		items, err := c.exprs(e.Items)
		if err != nil {
			return nil, err
		}
		return &ir.List{At: c.at(n), Items: items}, nil

	case *ast.Dict:
		pairs, err := c.pairs(e.Pairs)
		if err != nil {
			return nil, err
		}
		return &ir.Dict{At: c.at(n), Pairs: pairs}, nil

	case *ast.Is:
		target, err := c.expr(e.Target)
		if err != nil {
			return nil, err
		}
		args, err := c.exprs(e.Args)
		if err != nil {
			return nil, err
		}
		return &ir.Test{At: c.at(n), Name: e.Test, Target: target, Args: args}, nil

	case *ast.Super:
		return &ir.Super{At: c.at(n), Block: e.Block}, nil

	case *ast.Caller:
		return c.caller(e)
	}

	p := n.Pos()
	err := errors.TypeMismatch(errors.PhaseCompile, p.Line, p.Col, ast.Describe(n),
		"expected an expression, found "+n.Kind().String())
	err.Template = c.template
	return nil, err
}

func (c *Compiler) pairs(ps []*ast.Pair) ([]ir.KeyValue, error) {
	out := make([]ir.KeyValue, 0, len(ps))
	for _, p := range ps {
		key, err := c.expr(p.Key)
		if err != nil {
			return nil, err
		}
		value, err := c.expr(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.KeyValue{Key: key, Value: value})
	}
	return out, nil
}

// waitLock returns the lock a path read must wait for, recording the read
// of the lock variable.
func (c *Compiler) waitLock(n ast.Node) string {
	if !c.async {
		return ""
	}
	m := c.table.Get(n)
	if !m.Own || m.CallLocked || m.LockKey == "" || m.Ops[m.LockKey] != analysis.OpPath {
		return ""
	}
	c.read(m.LockKey)
	return m.LockKey
}

// call compiles a function call. A lock-acquiring call writes its lock
// variable; the write is recorded after the arguments so argument path
// waits see the previous holder.
func (c *Compiler) call(e *ast.FunCall) (ir.Expr, error) {
	callee, err := c.expr(e.Name)
	if err != nil {
		return nil, err
	}
	args, err := c.exprs(e.Args)
	if err != nil {
		return nil, err
	}
	kwargs, err := c.pairs(e.Kwargs)
	if err != nil {
		return nil, err
	}
	call := &ir.Call{At: c.at(e), Callee: callee, Args: args, Kwargs: kwargs}
	if m := c.table.Get(e); c.async && m.CallLocked {
		c.write(m.LockKey)
		call.Lock = m.LockKey
	}
	return call, nil
}

// caller compiles the body of a call block into a callable closing over the
// call site.
func (c *Compiler) caller(e *ast.Caller) (ir.Expr, error) {
	params, spec, body, err := c.callable(e, e.Params, e.Body)
	if err != nil {
		return nil, err
	}
	return &ir.CallerFunc{At: c.at(e), Params: params, Frame: spec, Body: body}, nil
}

// callable compiles a parameterised body rendered into its own buffer, as
// used by macros and callers. Writes never leave the body's frame.
func (c *Compiler) callable(n ast.Node, ps []*ast.Param, body *ast.NodeList) ([]ir.Param, ir.FrameSpec, []ir.Instr, error) {
	c.bufs.push()
	defer c.bufs.pop()

	params := make([]ir.Param, 0, len(ps))
	spec, instrs, err := c.inFrame(n, true, true, func() error {
		for _, p := range ps {
			c.arena.DeclareVar(c.cur, p.Name)
		}
		for _, p := range ps {
			def, err := c.expr(p.Default)
			if err != nil {
				return err
			}
			params = append(params, ir.Param{Name: p.Name, Default: def})
		}
		return c.body(body)
	})
	if err != nil {
		return nil, ir.FrameSpec{}, nil, err
	}
	return params, spec, instrs, nil
}
