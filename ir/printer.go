package ir

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/geleto/cascada/frame"
)

// Fprint writes a readable listing of p to w.
func Fprint(w io.Writer, p *Program) error {
	pr := &printer{w: bufio.NewWriter(w)}
	pr.line("program %q async=%v locks=%s", p.Name, p.Async, list(p.Locks))
	pr.instrs(p.Body)
	for _, name := range sortedBlocks(p.Blocks) {
		b := p.Blocks[name]
		pr.line("define %s%s {", name, frameString(b.Frame))
		pr.nested(b.Body)
		pr.line("}")
	}
	return pr.w.Flush()
}

// String returns the listing of p.
func String(p *Program) string {
	var b strings.Builder
	_ = Fprint(&b, p)
	return b.String()
}

type printer struct {
	w     *bufio.Writer
	depth int
}

func (p *printer) line(format string, args ...any) {
	for i := 0; i < p.depth; i++ {
		p.w.WriteString("  ")
	}
	fmt.Fprintf(p.w, format, args...)
	p.w.WriteByte('\n')
}

func (p *printer) nested(body []Instr) {
	p.depth++
	p.instrs(body)
	p.depth--
}

func (p *printer) instrs(body []Instr) {
	for _, in := range body {
		p.instr(in)
	}
}

func (p *printer) instr(in Instr) {
	switch n := in.(type) {
	case *Patch:
		p.instrs(n.Fill)
	case *Text:
		p.line("text %q", n.Value)
	case *Output:
		p.line("output %s", ExprString(n.Expr))
	case *Command:
		p.line("command @%s.%s(%s)", n.Handler, n.Method, exprList(n.Args))
	case *Set:
		op := "set"
		if n.Declare {
			op = "var"
		}
		if n.Value == nil {
			p.line("%s %s", op, strings.Join(n.Names, ", "))
			return
		}
		p.line("%s %s = %s", op, strings.Join(n.Names, ", "), ExprString(n.Value))
	case *Do:
		p.line("do %s", exprList(n.Exprs))
	case *Block:
		handlers := ""
		if len(n.Handlers) > 0 {
			handlers = " handlers=" + list(n.Handlers)
		}
		p.line("block %s%s%s%s {", n.Shape, at(n.At), frameString(n.Frame), handlers)
		p.nested(n.Body)
		p.line("}")
	case *SkipWrites:
		p.line("skip-writes %s", countsString(n.Counts))
	case *If:
		p.line("if %s%s {", ExprString(n.Cond), failure(n.Failure))
		p.branch(n.Then)
		p.line("} else {")
		p.branch(n.Else)
		p.line("}")
	case *Switch:
		p.line("switch %s%s {", ExprString(n.Expr), failure(n.Failure))
		for _, c := range n.Cases {
			p.line("case %s:", ExprString(c.Cond))
			p.branch(c.Branch)
		}
		p.line("default:")
		p.branch(n.Default)
		p.line("}")
	case *For:
		mode := "concurrent"
		if n.Sequential {
			mode = "sequential"
		}
		limit := ""
		if n.Limit != nil {
			limit = " of " + ExprString(n.Limit)
		}
		p.line("for %s in %s%s %s%s%s {", strings.Join(n.Targets, ", "), ExprString(n.Iter), limit, mode, frameString(n.Frame), failure(n.Failure))
		p.branch(n.Body)
		if n.Else != nil {
			p.line("} else {")
			p.branch(n.Else)
		}
		p.line("}")
	case *While:
		p.line("while %s%s%s {", ExprString(n.Cond), frameString(n.Frame), failure(n.Failure))
		p.branch(n.Body)
		p.line("}")
	case *Guard:
		p.line("guard vars=%s handlers=%s {", list(n.Vars), list(n.Handlers))
		p.branch(n.Body)
		p.line("} recover {")
		p.branch(n.Recover)
		p.line("}")
	case *Macro:
		p.line("macro %s(%s)%s {", n.Name, params(n.Params), frameString(n.Frame))
		p.nested(n.Body)
		p.line("}")
	case *Include:
		p.line("include %s ignore-missing=%v", ExprString(n.Template), n.IgnoreMissing)
	case *Extends:
		p.line("extends %s", ExprString(n.Template))
	case *BlockCall:
		p.line("block-call %s", n.Name)
	case *Import:
		p.line("import %s as %s", ExprString(n.Template), n.Target)
	case *FromImport:
		names := make([]string, len(n.Names))
		for i, in := range n.Names {
			names[i] = in.Name
			if in.Alias != in.Name {
				names[i] += " as " + in.Alias
			}
		}
		p.line("from %s import %s", ExprString(n.Template), strings.Join(names, ", "))
	default:
		p.line("<%T>", in)
	}
}

func (p *printer) branch(b *Branch) {
	p.depth++
	defer func() { p.depth-- }()
	if b == nil {
		return
	}
	if b.Skip != nil {
		p.instrs(b.Skip.Fill)
	}
	p.line("frame%s {", frameString(b.Frame))
	p.nested(b.Body)
	p.line("}")
}

// ExprString renders an expression in a compact prefix form.
func ExprString(e Expr) string {
	switch n := e.(type) {
	case nil:
		return "<nil>"
	case *Const:
		if s, ok := n.Value.(string); ok {
			return strconv.Quote(s)
		}
		return fmt.Sprint(n.Value)
	case *Load:
		if n.WaitLock != "" {
			return n.Name + " wait(" + n.WaitLock + ")"
		}
		return n.Name
	case *Member:
		s := ExprString(n.Target) + "[" + ExprString(n.Key) + "]"
		if n.WaitLock != "" {
			s += " wait(" + n.WaitLock + ")"
		}
		return s
	case *Call:
		args := exprList(n.Args)
		for _, kv := range n.Kwargs {
			if args != "" {
				args += ", "
			}
			args += ExprString(kv.Key) + "=" + ExprString(kv.Value)
		}
		s := ExprString(n.Callee) + "(" + args + ")"
		if n.Lock != "" {
			s += " lock(" + n.Lock + ")"
		}
		return s
	case *Filter:
		return ExprString(n.Target) + "|" + n.Name + "(" + exprList(n.Args) + ")"
	case *Binary:
		return "(" + ExprString(n.Left) + " " + n.Operator + " " + ExprString(n.Right) + ")"
	case *Unary:
		return "(" + n.Operator + " " + ExprString(n.Operand) + ")"
	case *Cond:
		return "(" + ExprString(n.Then) + " if " + ExprString(n.Cond) + " else " + ExprString(n.Else) + ")"
	case *List:
		return "[" + exprList(n.Items) + "]"
	case *Dict:
		parts := make([]string, len(n.Pairs))
		for i, kv := range n.Pairs {
			parts[i] = ExprString(kv.Key) + ": " + ExprString(kv.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Test:
		return "(" + ExprString(n.Target) + " is " + n.Name + "(" + exprList(n.Args) + "))"
	case *ValueBlock:
		return "value-block" + frameString(n.Frame) + " { " + ExprString(n.Expr) + " }"
	case *RenderBlock:
		return "render-block" + frameString(n.Frame) + " { " + strconv.Itoa(len(n.Body)) + " instrs }"
	case *CallerFunc:
		return "caller(" + params(n.Params) + ")" + frameString(n.Frame)
	case *Super:
		return "super(" + n.Block + ")"
	}
	return fmt.Sprintf("<%T>", e)
}

func exprList(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

func at(a At) string {
	s := " @" + a.Pos.String()
	if a.Context != "" {
		s += " " + strconv.Quote(a.Context)
	}
	return s
}

func frameString(f FrameSpec) string {
	var b strings.Builder
	if f.CreateScope {
		b.WriteString(" scope")
	}
	if f.Isolate {
		b.WriteString(" isolate")
	}
	if len(f.Reads) > 0 {
		b.WriteString(" reads=")
		b.WriteString(list(f.Reads))
	}
	if len(f.Writes) > 0 {
		b.WriteString(" writes=")
		b.WriteString(countsString(f.Writes))
	}
	return b.String()
}

func failure(f Failure) string {
	var b strings.Builder
	if len(f.Writes) > 0 {
		b.WriteString(" poison=")
		b.WriteString(countsString(f.Writes))
	}
	if len(f.Handlers) > 0 {
		b.WriteString(" handlers=")
		b.WriteString(list(f.Handlers))
	}
	return b.String()
}

func countsString(c frame.Counts) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range c.Names() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(c[name]))
	}
	b.WriteByte('}')
	return b.String()
}

func list(names []string) string {
	return "[" + strings.Join(names, " ") + "]"
}

func params(ps []Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.Name
		if p.Default != nil {
			parts[i] += "=" + ExprString(p.Default)
		}
	}
	return strings.Join(parts, ", ")
}

func sortedBlocks(m map[string]*BlockDef) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
