package ast

import (
	"fmt"
	"strings"
)

// Children returns the immediate child nodes of n in source order.
// Nil children are omitted.
func Children(n Node) []Node {
	var out []Node
	add := func(c Node) {
		if c != nil && !isNilNode(c) {
			out = append(out, c)
		}
	}
	addList := func(l *NodeList) {
		if l != nil {
			out = append(out, l)
		}
	}

	switch n := n.(type) {
	case *Root:
		for _, c := range n.Children {
			add(c)
		}
	case *NodeList:
		for _, c := range n.Children {
			add(c)
		}
	case *TemplateData, *Literal, *Symbol, *Super:
	case *Output:
		for _, c := range n.Children {
			add(c)
		}
	case *LookupVal:
		add(n.Target)
		add(n.Key)
	case *FunCall:
		add(n.Name)
		for _, a := range n.Args {
			add(a)
		}
		for _, kw := range n.Kwargs {
			add(kw)
		}
	case *Filter:
		add(n.Target)
		for _, a := range n.Args {
			add(a)
		}
	case *BinOp:
		add(n.Left)
		add(n.Right)
	case *UnaryOp:
		add(n.Operand)
	case *InlineIf:
		add(n.Cond)
		add(n.Body)
		add(n.Else)
	case *Array:
		for _, c := range n.Items {
			add(c)
		}
	case *Dict:
		for _, p := range n.Pairs {
			add(p)
		}
	case *Pair:
		add(n.Key)
		add(n.Value)
	case *Is:
		add(n.Target)
		for _, a := range n.Args {
			add(a)
		}
	case *If:
		add(n.Cond)
		addList(n.Body)
		add(n.Else)
	case *Switch:
		add(n.Expr)
		for _, c := range n.Cases {
			add(c)
		}
		addList(n.Default)
	case *Case:
		add(n.Cond)
		addList(n.Body)
	case *For:
		for _, t := range n.Targets {
			add(t)
		}
		add(n.Iter)
		add(n.Limit)
		addList(n.Body)
		addList(n.Else)
	case *While:
		add(n.Cond)
		addList(n.Body)
	case *Set:
		for _, t := range n.Targets {
			add(t)
		}
		add(n.Value)
		addList(n.Body)
	case *Var:
		for _, s := range n.Names {
			add(s)
		}
		add(n.Value)
	case *Do:
		for _, e := range n.Exprs {
			add(e)
		}
	case *Macro:
		for _, p := range n.Params {
			add(p.Default)
		}
		addList(n.Body)
	case *Caller:
		for _, p := range n.Params {
			add(p.Default)
		}
		addList(n.Body)
	case *Include:
		add(n.Template)
	case *Extends:
		add(n.Template)
	case *Block:
		addList(n.Body)
	case *Import:
		add(n.Template)
	case *FromImport:
		add(n.Template)
	case *Guard:
		addList(n.Body)
		addList(n.Recover)
	case *OutputCommand:
		for _, a := range n.Args {
			add(a)
		}
	default:
		panic(fmt.Sprintf("ast: unexpected node %T", n))
	}
	return out
}

// isNilNode catches typed nil pointers stored in Node fields.
func isNilNode(n Node) bool {
	switch n := n.(type) {
	case *NodeList:
		return n == nil
	case *If:
		return n == nil
	case *Symbol:
		return n == nil
	case *Pair:
		return n == nil
	case *Caller:
		return n == nil
	}
	return false
}

// Visitor is called by Walk for each node. If the returned visitor w is not
// nil, Walk visits each child of n with w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(n Node) (w Visitor)
}

// Walk traverses the tree rooted at n in depth-first order.
func Walk(v Visitor, n Node) {
	if v = v.Visit(n); v == nil {
		return
	}
	for _, c := range Children(n) {
		Walk(v, c)
	}
	v.Visit(nil)
}

type inspector func(Node) bool

func (f inspector) Visit(n Node) Visitor {
	if n == nil {
		return nil
	}
	if f(n) {
		return f
	}
	return nil
}

// Inspect traverses the tree rooted at n, calling f for each node. Children
// of a node are skipped when f returns false.
func Inspect(n Node, f func(Node) bool) {
	Walk(inspector(f), n)
}

// Number assigns sequential IDs, starting at 1, to every node under n in
// pre-order and returns the number of IDs used. Side tables sized Count+1
// can then be indexed directly by NodeID.
func Number(n Node) int {
	next := NodeID(0)
	Inspect(n, func(c Node) bool {
		next++
		c.setID(next)
		return true
	})
	return int(next)
}

// StaticPath returns the dotted segments of a Symbol/LookupVal chain whose
// keys are all string literals, e.g. `a.b["c"]` yields [a b c].
func StaticPath(n Node) ([]string, bool) {
	switch n := n.(type) {
	case *Symbol:
		return []string{n.Name}, true
	case *LookupVal:
		prefix, ok := StaticPath(n.Target)
		if !ok {
			return nil, false
		}
		lit, ok := n.Key.(*Literal)
		if !ok {
			return nil, false
		}
		s, ok := lit.Value.(string)
		if !ok {
			return nil, false
		}
		return append(prefix, s), true
	}
	return nil, false
}

// Describe renders a short human-readable description of n used in error
// context strings, e.g. `FunCall(account!.deposit)`.
func Describe(n Node) string {
	if n == nil {
		return "<nil>"
	}
	switch n := n.(type) {
	case *FunCall:
		return "FunCall(" + describePath(n.Name) + ")"
	case *Symbol, *LookupVal:
		return n.Kind().String() + "(" + describePath(n) + ")"
	case *Filter:
		return "Filter(" + n.Name + ")"
	case *OutputCommand:
		return "OutputCommand(@" + n.Handler + "." + n.Method + ")"
	case *Block:
		return "Block(" + n.Name + ")"
	case *Macro:
		return "Macro(" + n.Name + ")"
	}
	return n.Kind().String()
}

func describePath(n Node) string {
	switch n := n.(type) {
	case *Symbol:
		if n.Sequence {
			return n.Name + "!"
		}
		return n.Name
	case *LookupVal:
		var b strings.Builder
		b.WriteString(describePath(n.Target))
		if lit, ok := n.Key.(*Literal); ok {
			if s, ok := lit.Value.(string); ok {
				b.WriteByte('.')
				b.WriteString(s)
			} else {
				fmt.Fprintf(&b, "[%v]", lit.Value)
			}
		} else {
			b.WriteString("[...]")
		}
		if n.Sequence {
			b.WriteByte('!')
		}
		return b.String()
	case *FunCall:
		return describePath(n.Name) + "()"
	}
	return n.Kind().String()
}
