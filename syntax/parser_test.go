package syntax

import (
	stderrors "errors"
	"testing"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
)

func mustParse(t *testing.T, src string) *ast.Root {
	t.Helper()
	root, err := Parse("test.njk", src)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", src, err)
	}
	return root
}

func outputExpr(t *testing.T, n ast.Node) ast.Node {
	t.Helper()
	out, ok := n.(*ast.Output)
	if !ok || len(out.Children) != 1 {
		t.Fatalf("node = %T, want single-child *ast.Output", n)
	}
	return out.Children[0]
}

func TestParseText(t *testing.T) {
	root := mustParse(t, "hello {{ name }}!")
	if len(root.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(root.Children))
	}
	data, ok := outputExpr(t, root.Children[0]).(*ast.TemplateData)
	if !ok || data.Value != "hello " {
		t.Errorf("first = %#v, want TemplateData(hello )", data)
	}
	sym, ok := outputExpr(t, root.Children[1]).(*ast.Symbol)
	if !ok || sym.Name != "name" {
		t.Errorf("second = %#v, want Symbol(name)", sym)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a or b and c", "(a or (b and c))"},
		{"not a == b", "(not (a == b))"},
		{"a ~ b + c", "(a ~ (b + c))"},
		{"2 ** 3 ** 2", "((2 ** 3) ** 2)"},
		{"-x|abs", "(-abs(x))"},
		{"a if c else b", "(c ? a : b)"},
		{"x not in y", "(not (x in y))"},
		{"x is not defined", "(not is defined(x))"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := ParseExpr("t", tt.src)
			if err != nil {
				t.Fatalf("ParseExpr error = %v", err)
			}
			if got := show(expr); got != tt.want {
				t.Errorf("show = %s, want %s", got, tt.want)
			}
		})
	}
}

// show prints an expression tree compactly for precedence assertions.
func show(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Literal:
		return literal(n.Value)
	case *ast.Symbol:
		return n.Name
	case *ast.BinOp:
		return "(" + show(n.Left) + " " + n.Op + " " + show(n.Right) + ")"
	case *ast.UnaryOp:
		return "(" + n.Op + sep(n.Op) + show(n.Operand) + ")"
	case *ast.Filter:
		return n.Name + "(" + show(n.Target) + ")"
	case *ast.InlineIf:
		return "(" + show(n.Cond) + " ? " + show(n.Body) + " : " + show(n.Else) + ")"
	case *ast.Is:
		return "is " + n.Test + "(" + show(n.Target) + ")"
	}
	return n.Kind().String()
}

func sep(op string) string {
	if op == "not" {
		return " "
	}
	return ""
}

func literal(v any) string {
	switch v := v.(type) {
	case int64:
		return string(rune('0' + v))
	case string:
		return v
	}
	return "?"
}

func TestParseSequenceMarker(t *testing.T) {
	expr, err := ParseExpr("t", "account!.deposit(10)")
	if err != nil {
		t.Fatal(err)
	}
	call, ok := expr.(*ast.FunCall)
	if !ok {
		t.Fatalf("expr = %T, want *ast.FunCall", expr)
	}
	lv, ok := call.Name.(*ast.LookupVal)
	if !ok {
		t.Fatalf("call.Name = %T, want *ast.LookupVal", call.Name)
	}
	root, ok := lv.Target.(*ast.Symbol)
	if !ok || !root.Sequence || root.Name != "account" {
		t.Errorf("target = %#v, want marked Symbol(account)", lv.Target)
	}
	if lv.Sequence {
		t.Error("deposit segment should not be marked")
	}
	if got := ast.Describe(call); got != "FunCall(account!.deposit)" {
		t.Errorf("Describe = %q", got)
	}
}

func TestParseStatements(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, n ast.Node)
	}{
		{
			"if elif else",
			"{% if a %}1{% elif b %}2{% else %}3{% endif %}",
			func(t *testing.T, n ast.Node) {
				i := n.(*ast.If)
				elif, ok := i.Else.(*ast.If)
				if !ok {
					t.Fatalf("Else = %T, want *ast.If", i.Else)
				}
				if _, ok := elif.Else.(*ast.NodeList); !ok {
					t.Errorf("elif.Else = %T, want *ast.NodeList", elif.Else)
				}
			},
		},
		{
			"switch",
			"{% switch x %} {% case 1 %}a{% case 2 %}b{% default %}c{% endswitch %}",
			func(t *testing.T, n ast.Node) {
				s := n.(*ast.Switch)
				if len(s.Cases) != 2 || s.Default == nil {
					t.Errorf("cases = %d default = %v", len(s.Cases), s.Default)
				}
			},
		},
		{
			"for with else and limit",
			"{% for k, v in items of 3 %}{{ k }}{% else %}none{% endfor %}",
			func(t *testing.T, n ast.Node) {
				f := n.(*ast.For)
				if len(f.Targets) != 2 || f.Limit == nil || f.Else == nil {
					t.Errorf("for = %+v", f)
				}
			},
		},
		{
			"while",
			"{% while i < 3 %}x{% endwhile %}",
			func(t *testing.T, n ast.Node) {
				if _, ok := n.(*ast.While); !ok {
					t.Errorf("got %T", n)
				}
			},
		},
		{
			"set capture",
			"{% set x %}body{% endset %}",
			func(t *testing.T, n ast.Node) {
				s := n.(*ast.Set)
				if s.Value != nil || s.Body == nil {
					t.Errorf("set = %+v", s)
				}
			},
		},
		{
			"set multiple targets",
			"{% set a, b = 1 %}",
			func(t *testing.T, n ast.Node) {
				if s := n.(*ast.Set); len(s.Targets) != 2 {
					t.Errorf("targets = %d, want 2", len(s.Targets))
				}
			},
		},
		{
			"macro with defaults",
			"{% macro m(a, b=2) %}{{ a }}{% endmacro %}",
			func(t *testing.T, n ast.Node) {
				m := n.(*ast.Macro)
				if m.Name != "m" || len(m.Params) != 2 || m.Params[1].Default == nil {
					t.Errorf("macro = %+v", m)
				}
			},
		},
		{
			"call block",
			"{% call(x) m(1) %}inner{% endcall %}",
			func(t *testing.T, n ast.Node) {
				call := outputExpr(t, n).(*ast.FunCall)
				if len(call.Kwargs) != 1 {
					t.Fatalf("kwargs = %d, want 1", len(call.Kwargs))
				}
				if _, ok := call.Kwargs[0].Value.(*ast.Caller); !ok {
					t.Errorf("caller kwarg = %T", call.Kwargs[0].Value)
				}
			},
		},
		{
			"include ignore missing",
			`{% include "a.njk" ignore missing %}`,
			func(t *testing.T, n ast.Node) {
				if !n.(*ast.Include).IgnoreMissing {
					t.Error("IgnoreMissing = false")
				}
			},
		},
		{
			"block with super",
			"{% block content %}{{ super() }}{% endblock content %}",
			func(t *testing.T, n ast.Node) {
				b := n.(*ast.Block)
				sup, ok := outputExpr(t, b.Body.Children[0]).(*ast.Super)
				if !ok || sup.Block != "content" {
					t.Errorf("body = %#v", b.Body.Children[0])
				}
			},
		},
		{
			"from import",
			`{% from "forms.njk" import field, label as l %}`,
			func(t *testing.T, n ast.Node) {
				fi := n.(*ast.FromImport)
				if len(fi.Names) != 2 || fi.Names[1].Alias != "l" || fi.Names[0].Alias != "field" {
					t.Errorf("names = %+v", fi.Names)
				}
			},
		},
		{
			"guard with targets",
			"{% guard @data, x %}a{% recover %}b{% endguard %}",
			func(t *testing.T, n ast.Node) {
				g := n.(*ast.Guard)
				if len(g.Handlers) != 1 || g.Handlers[0] != "data" || len(g.Vars) != 1 || g.Recover == nil {
					t.Errorf("guard = %+v", g)
				}
			},
		},
		{
			"output command",
			`{% @data.push("items", 1) %}`,
			func(t *testing.T, n ast.Node) {
				c := n.(*ast.OutputCommand)
				if c.Handler != "data" || c.Method != "push" || len(c.Args) != 2 {
					t.Errorf("command = %+v", c)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := mustParse(t, tt.src)
			if len(root.Children) != 1 {
				t.Fatalf("children = %d, want 1", len(root.Children))
			}
			tt.check(t, root.Children[0])
		})
	}
}

func TestParseNumbersNodes(t *testing.T) {
	root := mustParse(t, "{% if a %}{{ b }}{% endif %}")
	seen := map[ast.NodeID]bool{}
	ast.Inspect(root, func(n ast.Node) bool {
		if n.ID() == 0 {
			t.Errorf("%s has no ID", n.Kind())
		}
		if seen[n.ID()] {
			t.Errorf("duplicate ID %d", n.ID())
		}
		seen[n.ID()] = true
		return true
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unclosed if", "{% if a %}x"},
		{"unknown tag", "{% frobnicate %}"},
		{"stray end tag", "{% endif %}"},
		{"bad endblock", "{% block a %}{% endblock b %}"},
		{"super outside block", "{{ super() }}"},
		{"marker on call result", "{{ f()! }}"},
		{"missing in", "{% for x items %}{% endfor %}"},
		{"two defaults", "{% switch x %}{% default %}{% default %}{% endswitch %}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.njk", tt.src)
			if err == nil {
				t.Fatal("expected error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("error %T is not *errors.Error", err)
			}
			if e.Template != "bad.njk" || !e.HasPosition() {
				t.Errorf("error %v lacks template position", e)
			}
		})
	}
}
