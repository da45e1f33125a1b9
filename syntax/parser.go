// Package syntax turns template source into an [ast.Root].
//
// The surface syntax is the familiar `{{ expr }}` / `{% tag %}` /
// `{# comment #}` form with `{%-`/`-%}` whitespace control. A path segment
// followed by `!` marks a sequential path, e.g. `account!.deposit(10)`.
package syntax

import (
	"fmt"
	"strconv"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
)

// Parser builds a syntax tree from a token stream.
type Parser struct {
	name   string
	tokens []Token
	pos    int
	// blocks is the stack of enclosing `{% block %}` names, used by super().
	blocks []string
}

// New creates a parser over tokens produced by [Tokenize].
func New(name string, tokens []Token) *Parser {
	return &Parser{name: name, tokens: tokens}
}

// Parse tokenizes and parses src, numbering the resulting tree.
func Parse(name, src string) (*ast.Root, error) {
	toks, err := Tokenize(name, src)
	if err != nil {
		return nil, err
	}
	root, err := New(name, toks).ParseRoot()
	if err != nil {
		return nil, err
	}
	ast.Number(root)
	return root, nil
}

// ParseExpr parses a standalone expression such as a REPL input line.
func ParseExpr(name, src string) (ast.Node, error) {
	toks, err := Tokenize(name, "{{ "+src+" }}")
	if err != nil {
		return nil, err
	}
	p := New(name, toks)
	if _, err := p.expect(VarStart, ""); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(VarEnd, ""); err != nil {
		return nil, err
	}
	ast.Number(expr)
	return expr, nil
}

func (p *Parser) peek() *Token {
	return &p.tokens[p.pos]
}

func (p *Parser) peekAt(n int) *Token {
	if p.pos+n >= len(p.tokens) {
		return &p.tokens[len(p.tokens)-1]
	}
	return &p.tokens[p.pos+n]
}

func (p *Parser) next() *Token {
	t := &p.tokens[p.pos]
	if t.Type != EOF {
		p.pos++
	}
	return t
}

// expect consumes a token of type typ. A non-empty value must match too.
func (p *Parser) expect(typ Type, value string) (*Token, error) {
	t := p.next()
	if t.Type != typ || (value != "" && t.Value != value) {
		want := typ.String()
		if value != "" {
			want = strconv.Quote(value)
		}
		return nil, p.errorAt(t, "expected %s, got %s", want, describe(t))
	}
	return t, nil
}

func (p *Parser) isOp(value string) bool {
	t := p.peek()
	return t.Type == Op && t.Value == value
}

func (p *Parser) isName(value string) bool {
	t := p.peek()
	return t.Type == Name && t.Value == value
}

func (p *Parser) acceptOp(value string) bool {
	if p.isOp(value) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptName(value string) bool {
	if p.isName(value) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) errorAt(t *Token, format string, args ...any) error {
	return errors.Syntax(p.name, t.Line, t.Col, fmt.Sprintf(format, args...))
}

func describe(t *Token) string {
	switch t.Type {
	case EOF, BlockStart, BlockEnd, VarStart, VarEnd:
		return t.Type.String()
	}
	return strconv.Quote(t.Value)
}

func pos(t *Token) ast.Pos {
	return ast.Pos{Line: t.Line, Col: t.Col}
}

// ParseRoot parses the whole token stream.
func (p *Parser) ParseRoot() (*ast.Root, error) {
	root := &ast.Root{}
	root.SetPos(ast.Pos{Line: 1, Col: 1})
	body, end, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, p.errorAt(end, "unexpected tag %q", end.Value)
	}
	root.Children = body.Children
	return root, nil
}

// parseBody parses statements until EOF or a tag listed in ends. The tag
// name token is returned unconsumed beyond its name; the caller finishes the
// tag. A nil end token means EOF was reached.
func (p *Parser) parseBody(ends ...string) (*ast.NodeList, *Token, error) {
	list := &ast.NodeList{}
	list.SetPos(pos(p.peek()))
	for {
		t := p.peek()
		switch t.Type {
		case EOF:
			if len(ends) > 0 {
				return nil, nil, p.errorAt(t, "unexpected end of template, expected %s", endList(ends))
			}
			return list, nil, nil
		case Data:
			p.next()
			data := &ast.TemplateData{Value: t.Value}
			data.SetPos(pos(t))
			out := &ast.Output{Children: []ast.Node{data}}
			out.SetPos(pos(t))
			list.Children = append(list.Children, out)
		case VarStart:
			p.next()
			expr, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			if _, err := p.expect(VarEnd, ""); err != nil {
				return nil, nil, err
			}
			out := &ast.Output{Children: []ast.Node{expr}}
			out.SetPos(pos(t))
			list.Children = append(list.Children, out)
		case BlockStart:
			tag := p.peekAt(1)
			if tag.Type == Name {
				for _, e := range ends {
					if tag.Value == e {
						p.next()
						p.next()
						return list, tag, nil
					}
				}
			}
			p.next()
			stmt, err := p.parseStatement(t)
			if err != nil {
				return nil, nil, err
			}
			if stmt != nil {
				list.Children = append(list.Children, stmt)
			}
		default:
			return nil, nil, p.errorAt(t, "unexpected %s", describe(t))
		}
	}
}

func endList(ends []string) string {
	s := ""
	for i, e := range ends {
		if i > 0 {
			s += " or "
		}
		s += strconv.Quote(e)
	}
	return s
}

func (p *Parser) endTag() error {
	_, err := p.expect(BlockEnd, "")
	return err
}

func (p *Parser) parseStatement(start *Token) (ast.Node, error) {
	t := p.peek()
	if t.Type == Op && t.Value == "@" {
		return p.parseOutputCommand(start)
	}
	if t.Type != Name {
		return nil, p.errorAt(t, "expected tag name, got %s", describe(t))
	}
	p.next()
	switch t.Value {
	case "if":
		return p.parseIf(start)
	case "switch":
		return p.parseSwitch(start)
	case "for":
		return p.parseFor(start)
	case "while":
		return p.parseWhile(start)
	case "set":
		return p.parseSet(start)
	case "var":
		return p.parseVar(start)
	case "do":
		return p.parseDo(start)
	case "macro":
		return p.parseMacro(start)
	case "call":
		return p.parseCall(start)
	case "include":
		return p.parseInclude(start)
	case "extends":
		return p.parseExtends(start)
	case "block":
		return p.parseBlock(start)
	case "import":
		return p.parseImport(start)
	case "from":
		return p.parseFromImport(start)
	case "guard":
		return p.parseGuard(start)
	}
	return nil, p.errorAt(t, "unknown tag %q", t.Value)
}

func (p *Parser) parseIf(start *Token) (ast.Node, error) {
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	node := &ast.If{Cond: cond}
	node.SetPos(pos(start))

	body, end, err := p.parseBody("elif", "elseif", "else", "endif")
	if err != nil {
		return nil, err
	}
	node.Body = body
	switch end.Value {
	case "elif", "elseif":
		elif, err := p.parseIf(end)
		if err != nil {
			return nil, err
		}
		node.Else = elif
		return node, nil
	case "else":
		if err := p.endTag(); err != nil {
			return nil, err
		}
		els, _, err := p.parseBody("endif")
		if err != nil {
			return nil, err
		}
		node.Else = els
	}
	return node, p.endTag()
}

func (p *Parser) parseSwitch(start *Token) (ast.Node, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	node := &ast.Switch{Expr: expr}
	node.SetPos(pos(start))

	// anything before the first case is ignored whitespace
	_, end, err := p.parseBody("case", "default", "endswitch")
	if err != nil {
		return nil, err
	}
	for end.Value != "endswitch" {
		switch end.Value {
		case "case":
			cond, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.endTag(); err != nil {
				return nil, err
			}
			c := &ast.Case{Cond: cond}
			c.SetPos(pos(end))
			body, next, err := p.parseBody("case", "default", "endswitch")
			if err != nil {
				return nil, err
			}
			c.Body = body
			node.Cases = append(node.Cases, c)
			end = next
		case "default":
			if node.Default != nil {
				return nil, p.errorAt(end, "switch has more than one default")
			}
			if err := p.endTag(); err != nil {
				return nil, err
			}
			body, next, err := p.parseBody("case", "default", "endswitch")
			if err != nil {
				return nil, err
			}
			node.Default = body
			end = next
		}
	}
	return node, p.endTag()
}

func (p *Parser) parseFor(start *Token) (ast.Node, error) {
	node := &ast.For{}
	node.SetPos(pos(start))
	for {
		t, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		sym := &ast.Symbol{Name: t.Value}
		sym.SetPos(pos(t))
		node.Targets = append(node.Targets, sym)
		if !p.acceptOp(",") {
			break
		}
	}
	if _, err := p.expect(Name, "in"); err != nil {
		return nil, err
	}
	iter, err := p.parseInlineIf()
	if err != nil {
		return nil, err
	}
	node.Iter = iter
	if p.acceptName("of") {
		limit, err := p.parseInlineIf()
		if err != nil {
			return nil, err
		}
		node.Limit = limit
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, end, err := p.parseBody("else", "endfor")
	if err != nil {
		return nil, err
	}
	node.Body = body
	if end.Value == "else" {
		if err := p.endTag(); err != nil {
			return nil, err
		}
		els, _, err := p.parseBody("endfor")
		if err != nil {
			return nil, err
		}
		node.Else = els
	}
	return node, p.endTag()
}

func (p *Parser) parseWhile(start *Token) (ast.Node, error) {
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endwhile")
	if err != nil {
		return nil, err
	}
	node := &ast.While{Cond: cond, Body: body}
	node.SetPos(pos(start))
	return node, p.endTag()
}

func (p *Parser) parseTargets() ([]*ast.Symbol, error) {
	var out []*ast.Symbol
	for {
		t, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		sym := &ast.Symbol{Name: t.Value}
		sym.SetPos(pos(t))
		out = append(out, sym)
		if !p.acceptOp(",") {
			return out, nil
		}
	}
}

func (p *Parser) parseSet(start *Token) (ast.Node, error) {
	targets, err := p.parseTargets()
	if err != nil {
		return nil, err
	}
	node := &ast.Set{Targets: targets}
	node.SetPos(pos(start))
	if p.acceptOp("=") {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Value = value
		return node, p.endTag()
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endset")
	if err != nil {
		return nil, err
	}
	node.Body = body
	return node, p.endTag()
}

func (p *Parser) parseVar(start *Token) (ast.Node, error) {
	names, err := p.parseTargets()
	if err != nil {
		return nil, err
	}
	node := &ast.Var{Names: names}
	node.SetPos(pos(start))
	if p.acceptOp("=") {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Value = value
	}
	return node, p.endTag()
}

func (p *Parser) parseDo(start *Token) (ast.Node, error) {
	node := &ast.Do{}
	node.SetPos(pos(start))
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Exprs = append(node.Exprs, expr)
		if !p.acceptOp(",") {
			break
		}
	}
	return node, p.endTag()
}

func (p *Parser) parseParams() ([]*ast.Param, error) {
	var params []*ast.Param
	if _, err := p.expect(Op, "("); err != nil {
		return nil, err
	}
	for !p.isOp(")") {
		t, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		param := &ast.Param{Name: t.Value}
		if p.acceptOp("=") {
			def, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			param.Default = def
		}
		params = append(params, param)
		if !p.acceptOp(",") {
			break
		}
	}
	if _, err := p.expect(Op, ")"); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseMacro(start *Token) (ast.Node, error) {
	name, err := p.expect(Name, "")
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endmacro")
	if err != nil {
		return nil, err
	}
	node := &ast.Macro{Name: name.Value, Params: params, Body: body}
	node.SetPos(pos(start))
	return node, p.endTag()
}

// parseCall handles `{% call(args) m(...) %}body{% endcall %}`, producing an
// output of m called with a `caller` keyword argument.
func (p *Parser) parseCall(start *Token) (ast.Node, error) {
	var params []*ast.Param
	if p.isOp("(") {
		var err error
		if params, err = p.parseParams(); err != nil {
			return nil, err
		}
	}
	expr, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	call, ok := expr.(*ast.FunCall)
	if !ok {
		return nil, p.errorAt(start, "call tag requires a macro call")
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endcall")
	if err != nil {
		return nil, err
	}
	caller := &ast.Caller{Params: params, Body: body}
	caller.SetPos(pos(start))
	key := &ast.Literal{Value: "caller"}
	key.SetPos(pos(start))
	kw := &ast.Pair{Key: key, Value: caller}
	kw.SetPos(pos(start))
	call.Kwargs = append(call.Kwargs, kw)

	out := &ast.Output{Children: []ast.Node{call}}
	out.SetPos(pos(start))
	return out, p.endTag()
}

func (p *Parser) parseInclude(start *Token) (ast.Node, error) {
	tmpl, err := p.parseInlineIf()
	if err != nil {
		return nil, err
	}
	node := &ast.Include{Template: tmpl}
	node.SetPos(pos(start))
	if p.acceptName("ignore") {
		if _, err := p.expect(Name, "missing"); err != nil {
			return nil, err
		}
		node.IgnoreMissing = true
	}
	return node, p.endTag()
}

func (p *Parser) parseExtends(start *Token) (ast.Node, error) {
	tmpl, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	node := &ast.Extends{Template: tmpl}
	node.SetPos(pos(start))
	return node, p.endTag()
}

func (p *Parser) parseBlock(start *Token) (ast.Node, error) {
	name, err := p.expect(Name, "")
	if err != nil {
		return nil, err
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	p.blocks = append(p.blocks, name.Value)
	body, _, err := p.parseBody("endblock")
	p.blocks = p.blocks[:len(p.blocks)-1]
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Type == Name {
		if t.Value != name.Value {
			return nil, p.errorAt(t, "endblock %q does not match block %q", t.Value, name.Value)
		}
		p.next()
	}
	node := &ast.Block{Name: name.Value, Body: body}
	node.SetPos(pos(start))
	return node, p.endTag()
}

func (p *Parser) parseImport(start *Token) (ast.Node, error) {
	tmpl, err := p.parseInlineIf()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Name, "as"); err != nil {
		return nil, err
	}
	target, err := p.expect(Name, "")
	if err != nil {
		return nil, err
	}
	node := &ast.Import{Template: tmpl, Target: target.Value}
	node.SetPos(pos(start))
	return node, p.endTag()
}

func (p *Parser) parseFromImport(start *Token) (ast.Node, error) {
	tmpl, err := p.parseInlineIf()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Name, "import"); err != nil {
		return nil, err
	}
	node := &ast.FromImport{Template: tmpl}
	node.SetPos(pos(start))
	for {
		t, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		name := &ast.ImportName{Name: t.Value, Alias: t.Value}
		if p.acceptName("as") {
			alias, err := p.expect(Name, "")
			if err != nil {
				return nil, err
			}
			name.Alias = alias.Value
		}
		node.Names = append(node.Names, name)
		if !p.acceptOp(",") {
			break
		}
	}
	return node, p.endTag()
}

// parseGuard handles `{% guard [@handler | var], ... %}body[{% recover %}body]{% endguard %}`.
func (p *Parser) parseGuard(start *Token) (ast.Node, error) {
	node := &ast.Guard{}
	node.SetPos(pos(start))
	for p.peek().Type != BlockEnd {
		if p.acceptOp("@") {
			t, err := p.expect(Name, "")
			if err != nil {
				return nil, err
			}
			node.Handlers = append(node.Handlers, t.Value)
		} else {
			t, err := p.expect(Name, "")
			if err != nil {
				return nil, err
			}
			node.Vars = append(node.Vars, t.Value)
		}
		if !p.acceptOp(",") {
			break
		}
	}
	if err := p.endTag(); err != nil {
		return nil, err
	}
	body, end, err := p.parseBody("recover", "endguard")
	if err != nil {
		return nil, err
	}
	node.Body = body
	if end.Value == "recover" {
		if err := p.endTag(); err != nil {
			return nil, err
		}
		rec, _, err := p.parseBody("endguard")
		if err != nil {
			return nil, err
		}
		node.Recover = rec
	}
	return node, p.endTag()
}

// parseOutputCommand handles `{% @handler.method(args) %}` and the
// shorthand `{% @handler(args) %}`.
func (p *Parser) parseOutputCommand(start *Token) (ast.Node, error) {
	p.next()
	handler, err := p.expect(Name, "")
	if err != nil {
		return nil, err
	}
	node := &ast.OutputCommand{Handler: handler.Value}
	node.SetPos(pos(start))
	if p.acceptOp(".") {
		method, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		node.Method = method.Value
	}
	if p.isOp("(") {
		args, kwargs, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if len(kwargs) > 0 {
			return nil, errors.InvalidCommand(handler.Line, handler.Col,
				fmt.Sprintf("output command @%s does not take keyword arguments", handler.Value))
		}
		node.Args = args
	}
	return node, p.endTag()
}
