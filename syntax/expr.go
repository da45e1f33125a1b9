package syntax

import (
	"strconv"

	"github.com/geleto/cascada/ast"
)

func (p *Parser) parseExpr() (ast.Node, error) {
	return p.parseInlineIf()
}

func (p *Parser) parseInlineIf() (ast.Node, error) {
	start := p.peek()
	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.acceptName("if") {
		return body, nil
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	node := &ast.InlineIf{Cond: cond, Body: body}
	node.SetPos(pos(start))
	if p.acceptName("else") {
		els, err := p.parseInlineIf()
		if err != nil {
			return nil, err
		}
		node.Else = els
	}
	return node, nil
}

func binary(op string, left, right ast.Node, at *Token) ast.Node {
	n := &ast.BinOp{Op: op, Left: left, Right: right}
	n.SetPos(pos(at))
	return n
}

func (p *Parser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isName("or") {
		t := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary("or", left, right, t)
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isName("and") {
		t := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binary("and", left, right, t)
	}
	return left, nil
}

func (p *Parser) parseNot() (ast.Node, error) {
	if p.isName("not") {
		t := p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		n := &ast.UnaryOp{Op: "not", Operand: operand}
		n.SetPos(pos(t))
		return n, nil
	}
	return p.parseIn()
}

func (p *Parser) parseIn() (ast.Node, error) {
	left, err := p.parseIs()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		negate := false
		if t.Type == Name && t.Value == "not" && p.peekAt(1).Type == Name && p.peekAt(1).Value == "in" {
			p.next()
			negate = true
		} else if !p.isName("in") {
			return left, nil
		}
		p.next()
		right, err := p.parseIs()
		if err != nil {
			return nil, err
		}
		left = binary("in", left, right, t)
		if negate {
			n := &ast.UnaryOp{Op: "not", Operand: left}
			n.SetPos(pos(t))
			left = n
		}
	}
}

func (p *Parser) parseIs() (ast.Node, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	if !p.isName("is") {
		return left, nil
	}
	t := p.next()
	negate := p.acceptName("not")
	name, err := p.expect(Name, "")
	if err != nil {
		return nil, err
	}
	node := &ast.Is{Target: left, Test: name.Value}
	node.SetPos(pos(t))
	if p.isOp("(") {
		args, _, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		node.Args = args
	}
	if negate {
		n := &ast.UnaryOp{Op: "not", Operand: node}
		n.SetPos(pos(t))
		return n, nil
	}
	return node, nil
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *Parser) parseCompare() (ast.Node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != Op || !compareOps[t.Value] {
			return left, nil
		}
		p.next()
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		left = binary(t.Value, left, right, t)
	}
}

func (p *Parser) parseConcat() (ast.Node, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for p.isOp("~") {
		t := p.next()
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		left = binary("~", left, right, t)
	}
	return left, nil
}

func (p *Parser) parseAdd() (ast.Node, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		t := p.next()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = binary(t.Value, left, right, t)
	}
	return left, nil
}

func (p *Parser) parseMul() (ast.Node, error) {
	left, err := p.parsePow()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		t := p.next()
		right, err := p.parsePow()
		if err != nil {
			return nil, err
		}
		left = binary(t.Value, left, right, t)
	}
	return left, nil
}

func (p *Parser) parsePow() (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("**") {
		t := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary("**", left, right, t)
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Node, error) {
	if p.isOp("-") || p.isOp("+") {
		t := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n := &ast.UnaryOp{Op: t.Value, Operand: operand}
		n.SetPos(pos(t))
		return n, nil
	}
	return p.parseFilters()
}

func (p *Parser) parseFilters() (ast.Node, error) {
	target, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		t := p.next()
		name, err := p.expect(Name, "")
		if err != nil {
			return nil, err
		}
		f := &ast.Filter{Name: name.Value, Target: target}
		f.SetPos(pos(t))
		if p.isOp("(") {
			args, _, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			f.Args = args
		}
		target = f
	}
	return target, nil
}

// parsePostfix parses a primary followed by member access, indexing, calls
// and `!` sequence markers.
func (p *Parser) parsePostfix() (ast.Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != Op {
			return node, nil
		}
		switch t.Value {
		case "!":
			p.next()
			switch n := node.(type) {
			case *ast.Symbol:
				n.Sequence = true
			case *ast.LookupVal:
				n.Sequence = true
			default:
				return nil, p.errorAt(t, "sequence marker must follow a path segment")
			}
		case ".":
			p.next()
			key := p.next()
			lit := &ast.Literal{Value: key.Value}
			switch key.Type {
			case Name:
			case Int:
				v, _ := strconv.ParseInt(key.Value, 10, 64)
				lit.Value = v
			default:
				return nil, p.errorAt(key, "expected member name, got %s", describe(key))
			}
			lit.SetPos(pos(key))
			lv := &ast.LookupVal{Target: node, Key: lit}
			lv.SetPos(pos(t))
			node = lv
		case "[":
			p.next()
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(Op, "]"); err != nil {
				return nil, err
			}
			lv := &ast.LookupVal{Target: node, Key: key}
			lv.SetPos(pos(t))
			node = lv
		case "(":
			args, kwargs, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if sup, ok := node.(*ast.Super); ok {
				if len(args) > 0 || len(kwargs) > 0 {
					return nil, p.errorAt(t, "super() takes no arguments")
				}
				node = sup
				continue
			}
			call := &ast.FunCall{Name: node, Args: args, Kwargs: kwargs}
			call.SetPos(pos(t))
			node = call
		default:
			return node, nil
		}
	}
}

// parseArgs parses `( expr, name=expr, ... )`.
func (p *Parser) parseArgs() ([]ast.Node, []*ast.Pair, error) {
	if _, err := p.expect(Op, "("); err != nil {
		return nil, nil, err
	}
	var args []ast.Node
	var kwargs []*ast.Pair
	for !p.isOp(")") {
		t := p.peek()
		if t.Type == Name && p.peekAt(1).Type == Op && p.peekAt(1).Value == "=" {
			p.next()
			p.next()
			value, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			key := &ast.Literal{Value: t.Value}
			key.SetPos(pos(t))
			pair := &ast.Pair{Key: key, Value: value}
			pair.SetPos(pos(t))
			kwargs = append(kwargs, pair)
		} else {
			if len(kwargs) > 0 {
				return nil, nil, p.errorAt(t, "positional argument follows keyword argument")
			}
			arg, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, arg)
		}
		if !p.acceptOp(",") {
			break
		}
	}
	if _, err := p.expect(Op, ")"); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}

func (p *Parser) parsePrimary() (ast.Node, error) {
	t := p.next()
	switch t.Type {
	case String:
		lit := &ast.Literal{Value: t.Value}
		lit.SetPos(pos(t))
		return lit, nil
	case Int:
		v, err := strconv.ParseInt(t.Value, 10, 64)
		if err != nil {
			return nil, p.errorAt(t, "invalid integer %q", t.Value)
		}
		lit := &ast.Literal{Value: v}
		lit.SetPos(pos(t))
		return lit, nil
	case Float:
		v, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return nil, p.errorAt(t, "invalid number %q", t.Value)
		}
		lit := &ast.Literal{Value: v}
		lit.SetPos(pos(t))
		return lit, nil
	case Name:
		switch t.Value {
		case "true", "True":
			lit := &ast.Literal{Value: true}
			lit.SetPos(pos(t))
			return lit, nil
		case "false", "False":
			lit := &ast.Literal{Value: false}
			lit.SetPos(pos(t))
			return lit, nil
		case "none", "None", "null":
			lit := &ast.Literal{Value: nil}
			lit.SetPos(pos(t))
			return lit, nil
		case "super":
			if p.isOp("(") {
				if len(p.blocks) == 0 {
					return nil, p.errorAt(t, "super() outside of a block")
				}
				sup := &ast.Super{Block: p.blocks[len(p.blocks)-1]}
				sup.SetPos(pos(t))
				return sup, nil
			}
		}
		sym := &ast.Symbol{Name: t.Value}
		sym.SetPos(pos(t))
		return sym, nil
	case Op:
		switch t.Value {
		case "(":
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(Op, ")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			arr := &ast.Array{}
			arr.SetPos(pos(t))
			for !p.isOp("]") {
				item, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				arr.Items = append(arr.Items, item)
				if !p.acceptOp(",") {
					break
				}
			}
			if _, err := p.expect(Op, "]"); err != nil {
				return nil, err
			}
			return arr, nil
		case "{":
			dict := &ast.Dict{}
			dict.SetPos(pos(t))
			for !p.isOp("}") {
				kt := p.peek()
				var key ast.Node
				if kt.Type == Name {
					// bare keys are strings, as in JSON-ish object literals
					p.next()
					lit := &ast.Literal{Value: kt.Value}
					lit.SetPos(pos(kt))
					key = lit
				} else {
					var err error
					if key, err = p.parseExpr(); err != nil {
						return nil, err
					}
				}
				if _, err := p.expect(Op, ":"); err != nil {
					return nil, err
				}
				value, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				pair := &ast.Pair{Key: key, Value: value}
				pair.SetPos(pos(kt))
				dict.Pairs = append(dict.Pairs, pair)
				if !p.acceptOp(",") {
					break
				}
			}
			if _, err := p.expect(Op, "}"); err != nil {
				return nil, err
			}
			return dict, nil
		}
	}
	return nil, p.errorAt(t, "unexpected %s in expression", describe(t))
}
