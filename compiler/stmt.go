package compiler

import (
	"fmt"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
)

func (c *Compiler) stmts(list []ast.Node) error {
	for _, n := range list {
		if err := c.stmt(n); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) body(l *ast.NodeList) error {
	if l == nil {
		return nil
	}
	return c.stmts(l.Children)
}

func (c *Compiler) stmt(n ast.Node) error {
	switch s := n.(type) {
	case *ast.NodeList:
		return c.stmts(s.Children)
	case *ast.TemplateData:
		c.emit(&ir.Text{Value: s.Value})
		return nil
	case *ast.Output:
		return c.output(s)
	case *ast.Set:
		return c.set(s)
	case *ast.Var:
		return c.varDecl(s)
	case *ast.Do:
		return c.wrap(n, ir.ShapeBlock, func() error { return c.do(s) })
	case *ast.OutputCommand:
		return c.command(s)
	case *ast.If:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.ifStmt(s) })
	case *ast.Switch:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.switchStmt(s) })
	case *ast.For:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.forStmt(s) })
	case *ast.While:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.whileStmt(s) })
	case *ast.Guard:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.guard(s) })
	case *ast.Macro:
		return c.macro(s)
	case *ast.Block:
		return c.block(s)
	case *ast.Include:
		return c.wrap(n, ir.ShapeAddToBuffer, func() error { return c.include(s) })
	case *ast.Extends:
		return c.wrap(n, ir.ShapeBlock, func() error { return c.extendsStmt(s) })
	case *ast.Import:
		return c.wrap(n, ir.ShapeBlock, func() error { return c.importStmt(s) })
	case *ast.FromImport:
		return c.wrap(n, ir.ShapeBlock, func() error { return c.fromImport(s) })
	}
	p := n.Pos()
	err := errors.TypeMismatch(errors.PhaseCompile, p.Line, p.Col, ast.Describe(n),
		"expected a statement, found "+n.Kind().String())
	err.Template = c.template
	return err
}

// output emits every part of an interpolation separately so that literal
// text stays inline and each async value gets its own buffer slot.
func (c *Compiler) output(s *ast.Output) error {
	for _, child := range s.Children {
		if d, ok := child.(*ast.TemplateData); ok {
			c.emit(&ir.Text{Value: d.Value})
			continue
		}
		child := child
		emit := func() error {
			e, err := c.expr(child)
			if err != nil {
				return err
			}
			c.emit(&ir.Output{At: c.at(child), Expr: e})
			return nil
		}
		if !c.isAsync(child) {
			if err := emit(); err != nil {
				return err
			}
			continue
		}
		blk, err := c.emitBlock(child, ir.ShapeAddToBuffer, emit)
		if err != nil {
			return err
		}
		blk.Handlers = []string{TextHandler}
		c.emit(blk)
	}
	return nil
}

func (c *Compiler) set(s *ast.Set) error {
	var value ir.Expr
	var err error
	if s.Body != nil {
		value, err = c.renderBlock(s, s.Body)
	} else {
		value, err = c.asyncValue(s.Value)
	}
	if err != nil {
		return err
	}
	names := make([]string, len(s.Targets))
	for i, t := range s.Targets {
		names[i] = t.Name
		c.write(t.Name)
	}
	c.emit(&ir.Set{At: c.at(s), Names: names, Value: value})
	return nil
}

func (c *Compiler) varDecl(s *ast.Var) error {
	value, err := c.asyncValue(s.Value)
	if err != nil {
		return err
	}
	names := make([]string, len(s.Names))
	for i, t := range s.Names {
		names[i] = t.Name
		c.declare(t.Name)
	}
	c.emit(&ir.Set{At: c.at(s), Names: names, Value: value, Declare: true})
	return nil
}

func (c *Compiler) do(s *ast.Do) error {
	exprs, err := c.exprs(s.Exprs)
	if err != nil {
		return err
	}
	c.emit(&ir.Do{At: c.at(s), Exprs: exprs})
	return nil
}

// dataMethods are the commands accepted by the data handler.
var dataMethods = map[string]bool{"set": true, "push": true, "merge": true}

func (c *Compiler) command(s *ast.OutputCommand) error {
	fail := func(detail string) error {
		p := s.Pos()
		err := errors.InvalidCommand(p.Line, p.Col, detail)
		err.Template = c.template
		err.Context = ast.Describe(s)
		return err
	}
	switch s.Handler {
	case TextHandler:
		if s.Method != "" {
			return fail(fmt.Sprintf("the text handler has no method %q", s.Method))
		}
	case DataHandler:
		if s.Method == "" {
			return fail("a data command needs a method: set, push or merge")
		}
		if !dataMethods[s.Method] {
			return fail(fmt.Sprintf("unknown data command %q", s.Method))
		}
	}
	return c.wrap(s, ir.ShapeAddToBuffer, func() error {
		args, err := c.exprs(s.Args)
		if err != nil {
			return err
		}
		c.emit(&ir.Command{At: c.at(s), Handler: s.Handler, Method: s.Method, Args: args})
		return nil
	})
}

func (c *Compiler) macro(s *ast.Macro) error {
	params, spec, body, err := c.callable(s, s.Params, s.Body)
	if err != nil {
		return err
	}
	c.write(s.Name)
	c.emit(&ir.Macro{At: c.at(s), Name: s.Name, Params: params, Frame: spec, Body: body})
	return nil
}

// block registers a block definition and renders it in place. The
// definition is compiled in an isolated scope so any template overriding or
// calling it sees the same frame layout.
func (c *Compiler) block(s *ast.Block) error {
	if _, dup := c.blocks[s.Name]; dup {
		p := s.Pos()
		err := errors.DuplicateBlock(p.Line, p.Col, s.Name)
		err.Template = c.template
		err.Context = ast.Describe(s)
		return err
	}
	c.blocks[s.Name] = nil
	c.bufs.push()
	spec, body, err := c.inFrame(s, true, true, func() error {
		return c.body(s.Body)
	})
	c.bufs.pop()
	if err != nil {
		return err
	}
	c.blocks[s.Name] = &ir.BlockDef{At: c.at(s), Name: s.Name, Frame: spec, Body: body}
	c.emit(&ir.BlockCall{At: c.at(s), Name: s.Name})
	return nil
}

func (c *Compiler) include(s *ast.Include) error {
	tmpl, err := c.expr(s.Template)
	if err != nil {
		return err
	}
	vars := c.visibleVars()
	for _, v := range vars {
		c.read(v)
	}
	c.emit(&ir.Include{At: c.at(s), Template: tmpl, IgnoreMissing: s.IgnoreMissing, Vars: vars})
	return nil
}

func (c *Compiler) extendsStmt(s *ast.Extends) error {
	tmpl, err := c.expr(s.Template)
	if err != nil {
		return err
	}
	c.extends = true
	c.emit(&ir.Extends{At: c.at(s), Template: tmpl})
	return nil
}

func (c *Compiler) importStmt(s *ast.Import) error {
	tmpl, err := c.expr(s.Template)
	if err != nil {
		return err
	}
	c.write(s.Target)
	c.emit(&ir.Import{At: c.at(s), Template: tmpl, Target: s.Target})
	return nil
}

func (c *Compiler) fromImport(s *ast.FromImport) error {
	tmpl, err := c.expr(s.Template)
	if err != nil {
		return err
	}
	names := make([]ir.ImportName, len(s.Names))
	for i, in := range s.Names {
		alias := in.Alias
		if alias == "" {
			alias = in.Name
		}
		names[i] = ir.ImportName{Name: in.Name, Alias: alias}
		c.write(alias)
	}
	c.emit(&ir.FromImport{At: c.at(s), Template: tmpl, Names: names})
	return nil
}
