package compiler

import (
	"go.uber.org/zap"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/ir"
)

// ifStmt compiles a conditional. Both branches open a frame under the
// current one; each branch first counts down the writes only the other one
// performs. A missing else compiles to an empty branch that skips the
// writes of the then branch.
func (c *Compiler) ifStmt(s *ast.If) error {
	cond, err := c.expr(s.Cond)
	if err != nil {
		return err
	}
	then, err := c.branch(s, false, func() error { return c.body(s.Body) })
	if err != nil {
		return err
	}
	els, err := c.branch(s, false, func() error {
		switch e := s.Else.(type) {
		case *ast.NodeList:
			return c.body(e)
		case *ast.If:
			// elif chains stay inside this unit
			return c.ifStmt(e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fillSkips(then, els)
	c.emit(&ir.If{At: c.at(s), Cond: cond, Then: then, Else: els, Failure: failure(s, then, els)})
	return nil
}

// switchStmt compiles a switch like an if chain: case expressions are
// tested in order and only the matching branch runs.
func (c *Compiler) switchStmt(s *ast.Switch) error {
	expr, err := c.expr(s.Expr)
	if err != nil {
		return err
	}
	sw := &ir.Switch{At: c.at(s), Expr: expr}
	branches := make([]*ir.Branch, 0, len(s.Cases)+1)
	for _, cs := range s.Cases {
		cond, err := c.expr(cs.Cond)
		if err != nil {
			return err
		}
		cs := cs
		b, err := c.branch(cs, false, func() error { return c.body(cs.Body) })
		if err != nil {
			return err
		}
		sw.Cases = append(sw.Cases, &ir.Case{Cond: cond, Branch: b})
		branches = append(branches, b)
	}
	def, err := c.branch(s, false, func() error { return c.body(s.Default) })
	if err != nil {
		return err
	}
	sw.Default = def
	branches = append(branches, def)
	fillSkips(branches...)
	sw.Failure = failure(s, branches...)
	c.emit(sw)
	return nil
}

// forStmt compiles a loop. The loop frame collects the writes of body and
// else; the body frame is a fresh scope per iteration holding the loop
// targets. A body that writes outer variables forces sequential iterations.
func (c *Compiler) forStmt(s *ast.For) error {
	iter, err := c.expr(s.Iter)
	if err != nil {
		return err
	}
	limit, err := c.expr(s.Limit)
	if err != nil {
		return err
	}

	var body, els *ir.Branch
	spec, _, err := c.inFrame(s, false, false, func() error {
		var err error
		body, err = c.branch(s, true, func() error {
			for _, t := range s.Targets {
				c.arena.DeclareVar(c.cur, t.Name)
			}
			c.arena.DeclareVar(c.cur, "loop")
			if err := c.body(s.Body); err != nil {
				return err
			}
			r := c.arena.Get(c.cur)
			r.SequentialLoopBody = len(r.WriteCounts) > 0
			return nil
		})
		if err != nil {
			return err
		}
		if s.Else != nil {
			els, err = c.branch(s, false, func() error { return c.body(s.Else) })
		}
		return err
	})
	if err != nil {
		return err
	}

	targets := make([]string, len(s.Targets))
	for i, t := range s.Targets {
		targets[i] = t.Name
	}
	sequential := len(body.Frame.Writes) > 0
	body.Skip, els = nil, clearSkip(els)
	Logger().Debug("loop",
		zap.Stringer("pos", s.Pos()),
		zap.Bool("sequential", sequential),
		zap.Strings("writes", body.Writes.Names()),
	)
	c.emit(&ir.For{
		At:         c.at(s),
		Frame:      spec,
		Targets:    targets,
		Iter:       iter,
		Limit:      limit,
		Body:       body,
		Else:       els,
		Sequential: sequential,
		Failure:    ir.Failure{Writes: spec.Writes, Handlers: collectBranchHandlers(s)},
	})
	return nil
}

// whileStmt compiles a while loop as a sequential loop whose condition is
// evaluated inside each iteration's frame.
func (c *Compiler) whileStmt(s *ast.While) error {
	var cond ir.Expr
	var body *ir.Branch
	spec, _, err := c.inFrame(s, false, false, func() error {
		var err error
		body, err = c.branch(s, true, func() error {
			var err error
			if cond, err = c.expr(s.Cond); err != nil {
				return err
			}
			return c.body(s.Body)
		})
		return err
	})
	if err != nil {
		return err
	}
	body.Skip = nil
	c.emit(&ir.While{
		At:            c.at(s),
		Frame:         spec,
		Cond:          cond,
		Body:          body,
		MaxIterations: c.maxIterations,
		Failure:       ir.Failure{Writes: spec.Writes, Handlers: collectBranchHandlers(s)},
	})
	return nil
}

// guard compiles a transactional region. Without an explicit list the guard
// protects every variable its body writes and every handler it outputs to.
func (c *Compiler) guard(s *ast.Guard) error {
	body, written, err := c.trackedBranch(s, false, func() error { return c.body(s.Body) })
	if err != nil {
		return err
	}
	rec, err := c.branch(s, false, func() error { return c.body(s.Recover) })
	if err != nil {
		return err
	}
	body.Skip, rec.Skip = nil, nil

	g := &ir.Guard{At: c.at(s), Body: body, Recover: rec, Vars: s.Vars, Handlers: s.Handlers}
	if len(s.Vars) == 0 && len(s.Handlers) == 0 {
		g.All = true
		g.Vars = written
		if s.Body != nil {
			g.Handlers = collectBranchHandlers(s.Body)
		}
	}
	for _, v := range g.Vars {
		c.read(v)
	}
	c.emit(g)
	return nil
}

func clearSkip(b *ir.Branch) *ir.Branch {
	if b != nil {
		b.Skip = nil
	}
	return b
}
