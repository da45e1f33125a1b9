package compiler

import (
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/frame"
	"github.com/geleto/cascada/ir"
	"github.com/geleto/cascada/syntax"
)

func compile(t *testing.T, src string, cfg Config) *ir.Program {
	t.Helper()
	root, err := syntax.Parse("t.njk", src)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", src, err)
	}
	if cfg.Template == "" {
		cfg.Template = "t.njk"
	}
	prog, err := Compile(root, cfg)
	if err != nil {
		t.Fatalf("Compile(%q) error = %v", src, err)
	}
	return prog
}

func compileErr(t *testing.T, src string) error {
	t.Helper()
	root, err := syntax.Parse("t.njk", src)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", src, err)
	}
	_, err = Compile(root, Config{Template: "t.njk"})
	return err
}

// instrs returns every instruction of the program in pre-order, descending
// into blocks and branches.
func instrs(p *ir.Program) []ir.Instr {
	var out []ir.Instr
	var walk func(list []ir.Instr)
	branch := func(b *ir.Branch) {
		if b == nil {
			return
		}
		if b.Skip != nil {
			walk(b.Skip.Fill)
		}
		walk(b.Body)
	}
	walk = func(list []ir.Instr) {
		for _, in := range list {
			out = append(out, in)
			switch n := in.(type) {
			case *ir.Block:
				walk(n.Body)
			case *ir.If:
				branch(n.Then)
				branch(n.Else)
			case *ir.Switch:
				for _, c := range n.Cases {
					branch(c.Branch)
				}
				branch(n.Default)
			case *ir.For:
				branch(n.Body)
				branch(n.Else)
			case *ir.While:
				branch(n.Body)
			case *ir.Guard:
				branch(n.Body)
				branch(n.Recover)
			case *ir.Macro:
				walk(n.Body)
			}
		}
	}
	walk(p.Body)
	return out
}

func first[T ir.Instr](p *ir.Program) T {
	for _, in := range instrs(p) {
		if v, ok := in.(T); ok {
			return v
		}
	}
	var zero T
	return zero
}

func TestIfSkipsOtherBranchWrites(t *testing.T) {
	prog := compile(t, "{% if cond %}{% set x = 1 %}{% else %}{% set x = 2 %}{% endif %}{{ x }}", Config{})

	if len(prog.Body) != 2 {
		t.Fatalf("body = %d instrs, want 2:\n%s", len(prog.Body), ir.String(prog))
	}
	blk, ok := prog.Body[0].(*ir.Block)
	if !ok || blk.Shape != ir.ShapeAddToBuffer {
		t.Fatalf("first instr = %T, want add-to-buffer block", prog.Body[0])
	}
	if want := (frame.Counts{"x": 2}); !reflect.DeepEqual(blk.Frame.Writes, want) {
		t.Errorf("if block writes = %v, want %v", blk.Frame.Writes, want)
	}

	n := first[*ir.If](prog)
	for name, b := range map[string]*ir.Branch{"then": n.Then, "else": n.Else} {
		if len(b.Skip.Fill) != 1 {
			t.Fatalf("%s skip = %v, want one skip-writes", name, b.Skip.Fill)
		}
		sw := b.Skip.Fill[0].(*ir.SkipWrites)
		if want := (frame.Counts{"x": 1}); !reflect.DeepEqual(sw.Counts, want) {
			t.Errorf("%s skip = %v, want %v", name, sw.Counts, want)
		}
	}
	if want := (frame.Counts{"x": 2}); !reflect.DeepEqual(n.Failure.Writes, want) {
		t.Errorf("failure writes = %v, want %v", n.Failure.Writes, want)
	}

	out := prog.Body[1].(*ir.Block)
	if !reflect.DeepEqual(out.Frame.Reads, []string{"x"}) {
		t.Errorf("output reads = %v, want [x]", out.Frame.Reads)
	}
	if !reflect.DeepEqual(out.Handlers, []string{"text"}) {
		t.Errorf("output handlers = %v, want [text]", out.Handlers)
	}
}

func TestIfWithoutElse(t *testing.T) {
	prog := compile(t, "{% set y = 0 %}{% if c %}{% set y = 1 %}{{ y }}{% endif %}", Config{})
	n := first[*ir.If](prog)
	if len(n.Then.Skip.Fill) != 0 {
		t.Errorf("then skip = %v, want none", n.Then.Skip.Fill)
	}
	if len(n.Else.Skip.Fill) != 1 {
		t.Fatalf("else skip = %v, want the then writes", n.Else.Skip.Fill)
	}
	if got := n.Else.Skip.Fill[0].(*ir.SkipWrites).Counts; !reflect.DeepEqual(got, frame.Counts{"y": 1}) {
		t.Errorf("else skip = %v", got)
	}
	if !reflect.DeepEqual(n.Failure.Handlers, []string{"text"}) {
		t.Errorf("failure handlers = %v, want [text]", n.Failure.Handlers)
	}
}

func TestSwitchBranches(t *testing.T) {
	prog := compile(t, `{% switch v %}{% case 1 %}{% set a = 1 %}{% case 2 %}{% set b = 2 %}{% endswitch %}`, Config{})
	n := first[*ir.Switch](prog)
	if len(n.Cases) != 2 || n.Default == nil {
		t.Fatalf("switch = %d cases, default %v", len(n.Cases), n.Default)
	}
	want := []frame.Counts{{"b": 1}, {"a": 1}, {"a": 1, "b": 1}}
	branches := []*ir.Branch{n.Cases[0].Branch, n.Cases[1].Branch, n.Default}
	for i, b := range branches {
		got := b.Skip.Fill[0].(*ir.SkipWrites).Counts
		if !reflect.DeepEqual(got, want[i]) {
			t.Errorf("branch %d skip = %v, want %v", i, got, want[i])
		}
	}
}

func TestLockedCalls(t *testing.T) {
	prog := compile(t, "{{ account!.deposit(10) }}{{ account!.withdraw(5) }}", Config{})
	if !reflect.DeepEqual(prog.Locks, []string{"!account"}) {
		t.Fatalf("locks = %v", prog.Locks)
	}
	for i, in := range prog.Body {
		blk := in.(*ir.Block)
		if want := (frame.Counts{"!account": 1}); !reflect.DeepEqual(blk.Frame.Writes, want) {
			t.Errorf("block %d writes = %v, want %v", i, blk.Frame.Writes, want)
		}
		out := blk.Body[0].(*ir.Output)
		vb, ok := out.Expr.(*ir.ValueBlock)
		if !ok {
			t.Fatalf("block %d output = %T, want value block", i, out.Expr)
		}
		call := vb.Expr.(*ir.Call)
		if call.Lock != "!account" {
			t.Errorf("block %d call lock = %q", i, call.Lock)
		}
	}
}

func TestPathWait(t *testing.T) {
	prog := compile(t, "{{ account!.deposit(10) }}{{ account.balance }}", Config{})
	blk := prog.Body[1].(*ir.Block)
	if !reflect.DeepEqual(blk.Frame.Reads, []string{"!account"}) {
		t.Errorf("reads = %v, want [!account]", blk.Frame.Reads)
	}
	listing := ir.String(prog)
	if !strings.Contains(listing, "account wait(!account)") {
		t.Errorf("listing lacks the path wait:\n%s", listing)
	}
}

func TestLoopSequential(t *testing.T) {
	prog := compile(t, "{% set total = 0 %}{% for i in items %}{% set total = total + i %}{% endfor %}{{ total }}", Config{})
	n := first[*ir.For](prog)
	if !n.Sequential {
		t.Error("loop writing an outer variable should be sequential")
	}
	if !reflect.DeepEqual(n.Frame.Writes, frame.Counts{"total": 1}) {
		t.Errorf("loop frame writes = %v", n.Frame.Writes)
	}
	if !n.Body.Frame.CreateScope {
		t.Error("loop body should open a scope")
	}
	if n.Body.Skip != nil {
		t.Error("loop body should not carry a skip slot")
	}

	prog = compile(t, "{% for i in items %}{{ i }}{% endfor %}", Config{})
	if first[*ir.For](prog).Sequential {
		t.Error("loop without outer writes should be concurrent")
	}
}

func TestLoopElseWrites(t *testing.T) {
	prog := compile(t, "{% set n = 0 %}{% for i in items %}{% set n = i %}{% else %}{% set n = -1 %}{% endfor %}", Config{})
	n := first[*ir.For](prog)
	if !reflect.DeepEqual(n.Frame.Writes, frame.Counts{"n": 2}) {
		t.Errorf("loop frame writes = %v, want body and else", n.Frame.Writes)
	}
	if n.Else == nil || !reflect.DeepEqual(n.Else.Writes, frame.Counts{"n": 1}) {
		t.Errorf("else = %+v", n.Else)
	}
}

func TestWhileConditionInBody(t *testing.T) {
	prog := compile(t, "{% set i = 0 %}{% while i < n %}{% set i = i + 1 %}{% endwhile %}", Config{MaxWhileIterations: 5})
	n := first[*ir.While](prog)
	if n.MaxIterations != 5 {
		t.Errorf("max iterations = %d", n.MaxIterations)
	}
	if !reflect.DeepEqual(n.Body.Frame.Writes, frame.Counts{"i": 1}) {
		t.Errorf("body writes = %v", n.Body.Frame.Writes)
	}
	if !reflect.DeepEqual(n.Body.Frame.Reads, []string{"i"}) {
		t.Errorf("body reads = %v, want the condition read", n.Body.Frame.Reads)
	}
}

func TestGuard(t *testing.T) {
	prog := compile(t, "{% guard %}{% set x = 1 %}{{ fail() }}{% recover %}{% set x = 2 %}{% endguard %}", Config{})
	g := first[*ir.Guard](prog)
	if !g.All {
		t.Error("guard without a list should protect everything")
	}
	if !reflect.DeepEqual(g.Vars, []string{"x"}) || !reflect.DeepEqual(g.Handlers, []string{"text"}) {
		t.Errorf("guard vars = %v handlers = %v", g.Vars, g.Handlers)
	}
	if !reflect.DeepEqual(g.Recover.Writes, frame.Counts{"x": 1}) {
		t.Errorf("recover writes = %v", g.Recover.Writes)
	}

	prog = compile(t, "{% set x = 0 %}{% guard %}{% if c %}{% set x = 1 %}{% endif %}{{ fail() }}{% recover %}{% endguard %}", Config{Sync: true})
	g = first[*ir.Guard](prog)
	if !reflect.DeepEqual(g.Vars, []string{"x"}) {
		t.Errorf("sync guard vars = %v, want [x]", g.Vars)
	}
	if len(g.Body.Frame.Writes) != 0 || len(g.Body.Writes) != 0 {
		t.Errorf("sync guard body carries write counts: %+v", g.Body)
	}

	prog = compile(t, "{% guard @data %}{% @data.set('a', f()) %}{% recover %}{% endguard %}", Config{})
	g = first[*ir.Guard](prog)
	if g.All || !reflect.DeepEqual(g.Handlers, []string{"data"}) || len(g.Vars) != 0 {
		t.Errorf("guard = %+v", g)
	}
}

func TestSetShapes(t *testing.T) {
	prog := compile(t, "{% set a = f() %}{% set b %}x{{ y }}{% endset %}{% set c = 1 %}", Config{})
	sets := []*ir.Set{}
	for _, in := range prog.Body {
		if s, ok := in.(*ir.Set); ok {
			sets = append(sets, s)
		}
	}
	if len(sets) != 3 {
		t.Fatalf("sets = %d, want 3 inline sets:\n%s", len(sets), ir.String(prog))
	}
	if _, ok := sets[0].Value.(*ir.ValueBlock); !ok {
		t.Errorf("async value = %T, want value block", sets[0].Value)
	}
	if _, ok := sets[1].Value.(*ir.RenderBlock); !ok {
		t.Errorf("capture = %T, want render block", sets[1].Value)
	}
	if _, ok := sets[2].Value.(*ir.Const); !ok {
		t.Errorf("constant = %T, want const", sets[2].Value)
	}
}

func TestSyncModeEmitsNoBlocks(t *testing.T) {
	prog := compile(t, "{{ f() }}{% if x %}{% set y = g() %}{% endif %}{{ account!.deposit(1) }}", Config{Sync: true})
	if prog.Async {
		t.Error("program should be sync")
	}
	for _, in := range instrs(prog) {
		if _, ok := in.(*ir.Block); ok {
			t.Fatalf("sync program contains a block:\n%s", ir.String(prog))
		}
	}
	if strings.Contains(ir.String(prog), "value-block") || strings.Contains(ir.String(prog), "lock(") {
		t.Errorf("sync program contains async bookkeeping:\n%s", ir.String(prog))
	}
	n := first[*ir.If](prog)
	if len(n.Then.Frame.Writes) != 0 || len(n.Else.Skip.Fill) != 0 {
		t.Errorf("sync branch carries write counts: %+v", n.Then.Frame)
	}
}

func TestAllAsyncWrapsConstants(t *testing.T) {
	prog := compile(t, "{{ 1 + 2 }}", Config{AllAsync: true})
	if _, ok := prog.Body[0].(*ir.Block); !ok {
		t.Errorf("all-async output = %T, want block", prog.Body[0])
	}
	prog = compile(t, "{{ 1 + 2 }}", Config{})
	if _, ok := prog.Body[0].(*ir.Output); !ok {
		t.Errorf("optimized constant output = %T, want inline output", prog.Body[0])
	}
}

func TestMacroIsolation(t *testing.T) {
	prog := compile(t, "{% set g = 1 %}{% macro m(a, b=2) %}{% set g = a %}{{ g }}{% endmacro %}{{ m(1) }}", Config{})
	m := first[*ir.Macro](prog)
	if !m.Frame.CreateScope || !m.Frame.Isolate {
		t.Errorf("macro frame = %+v, want isolated scope", m.Frame)
	}
	if len(m.Frame.Writes) != 0 {
		t.Errorf("macro writes escape: %v", m.Frame.Writes)
	}
	if len(m.Params) != 2 || m.Params[1].Default == nil {
		t.Errorf("params = %+v", m.Params)
	}
}

func TestBlocksAndExtends(t *testing.T) {
	prog := compile(t, `{% extends "base.njk" %}{% block title %}T{% endblock %}{% block body %}B{{ super() }}{% endblock %}`, Config{})
	if !prog.HasExtends {
		t.Error("HasExtends = false")
	}
	if len(prog.Blocks) != 2 || prog.Blocks["title"] == nil || prog.Blocks["body"] == nil {
		t.Fatalf("blocks = %v", prog.Blocks)
	}
	if first[*ir.BlockCall](prog) == nil {
		t.Error("block definitions should render in place")
	}
}

func TestIncludeReadsVisibleVars(t *testing.T) {
	for _, cfg := range []Config{{}, {Sync: true}, {AllAsync: true}} {
		prog := compile(t, `{% set a = 1 %}{% if c %}{% set b = 2 %}{% endif %}{% include "x.njk" %}`, cfg)
		inc := first[*ir.Include](prog)
		if !reflect.DeepEqual(inc.Vars, []string{"a", "b"}) {
			t.Errorf("%+v: include vars = %v, want [a b]", cfg, inc.Vars)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind errors.Kind
	}{
		{"duplicate block", "{% block a %}{% endblock %}{% block a %}{% endblock %}", errors.KindDuplicateBlock},
		{"text method", "{% @text.bold('x') %}", errors.KindInvalidCommand},
		{"data without method", "{% @data('x') %}", errors.KindInvalidCommand},
		{"unknown data method", "{% @data.pop('x') %}", errors.KindInvalidCommand},
		{"undefined lock", "{% if db! %}{% endif %}", errors.KindUndefinedLock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compileErr(t, tt.src)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("error = %v, want *errors.Error", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", e.Kind, tt.kind)
			}
			if !e.HasPosition() || e.Template != "t.njk" {
				t.Errorf("error %v should carry template and position", err)
			}
		})
	}
}

func TestCustomHandlerCommand(t *testing.T) {
	prog := compile(t, "{% @audit.log('x', y) %}", Config{})
	cmd := first[*ir.Command](prog)
	if cmd == nil || cmd.Handler != "audit" || cmd.Method != "log" || len(cmd.Args) != 2 {
		t.Errorf("command = %+v", cmd)
	}
	blk := prog.Body[0].(*ir.Block)
	if !reflect.DeepEqual(blk.Handlers, []string{"audit"}) {
		t.Errorf("handlers = %v", blk.Handlers)
	}
}
