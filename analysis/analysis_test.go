package analysis

import (
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/syntax"
)

func parse(t *testing.T, src string) *ast.Root {
	t.Helper()
	root, err := syntax.Parse("t.njk", src)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", src, err)
	}
	return root
}

// find returns the first node in pre-order for which match is true.
func find(root ast.Node, match func(ast.Node) bool) ast.Node {
	var found ast.Node
	ast.Inspect(root, func(n ast.Node) bool {
		if found == nil && match(n) {
			found = n
		}
		return found == nil
	})
	return found
}

func callNamed(name string) func(ast.Node) bool {
	return func(n ast.Node) bool {
		c, ok := n.(*ast.FunCall)
		return ok && strings.Contains(ast.Describe(c), name)
	}
}

func TestPropagateIsAsync(t *testing.T) {
	root := parse(t, "text{{ 1 + 2 }}{{ f() }}")
	tbl := NewTableFor(root)
	PropagateIsAsync(root, tbl, ModeOptimized)

	if !tbl.IsAsync(root) {
		t.Error("root containing a call should be async")
	}
	data := root.Children[0].(*ast.Output)
	if tbl.IsAsync(data) {
		t.Error("plain text output should not be async")
	}
	arith := root.Children[1].(*ast.Output)
	if tbl.IsAsync(arith) {
		t.Error("constant arithmetic should not be async")
	}
	call := root.Children[2].(*ast.Output)
	if !tbl.IsAsync(call) {
		t.Error("output of a call should be async")
	}
}

func TestPropagateIsAsyncModes(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeAll, true},
		{ModeSync, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			root := parse(t, "a{{ f(x) }}{% if y %}b{% endif %}")
			tbl := NewTableFor(root)
			PropagateIsAsync(root, tbl, tt.mode)
			ast.Inspect(root, func(n ast.Node) bool {
				if got := tbl.IsAsync(n); got != tt.want {
					t.Errorf("%s async = %v, want %v", n.Kind(), got, tt.want)
				}
				return true
			})
		})
	}
}

func TestLockKey(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    []string
		wantErr string
	}{
		{"symbol marker", "{{ account!.deposit(1) }}", []string{"!account"}, ""},
		{"nested marker", "{{ a.b!.c() }}", []string{"!a!b"}, ""},
		{"marker on last segment", "{{ db.save!() }}", []string{"!db!save"}, ""},
		{"two calls one key", "{{ a!.x() }}{{ a!.y() }}", []string{"!a"}, ""},
		{"dynamic marker", "{{ a[k]!.x() }}", nil, "dynamic path segment"},
		{"dynamic before marker", "{{ a[k].b!.x() }}", nil, "dynamic segment"},
		{"two markers", "{{ a!.b!.c() }}", nil, "only one sequence marker"},
		{"call root", "{{ f().x!.y() }}", nil, "context variable"},
		{"template variable root", "{% set a = 1 %}{{ a!.x() }}", nil, "template variable"},
		{"inside macro", "{% macro m() %}{{ a!.x() }}{% endmacro %}", nil, "inside macros"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := parse(t, tt.src)
			res, err := Analyze(root, Config{Template: "t.njk"})
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want %q", err, tt.wantErr)
				}
				var e *errors.Error
				if !stderrors.As(err, &e) || !e.HasPosition() || e.Context == "" {
					t.Errorf("error %v should carry position and context", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Analyze error = %v", err)
			}
			if !reflect.DeepEqual(res.Locks, tt.want) {
				t.Errorf("Locks = %v, want %v", res.Locks, tt.want)
			}
		})
	}
}

func TestUndefinedLock(t *testing.T) {
	root := parse(t, "{% if account! %}x{% endif %}")
	_, err := Analyze(root, Config{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseAnalyze, Kind: errors.KindUndefinedLock}) {
		t.Fatalf("err = %v, want undefined lock", err)
	}
	if !strings.Contains(err.Error(), "you must define a sequential path before checking it") {
		t.Errorf("err = %v", err)
	}

	root = parse(t, "{{ account!.deposit(1) }}{% if account! %}x{% endif %}")
	if _, err := Analyze(root, Config{}); err != nil {
		t.Errorf("defined lock usage: err = %v", err)
	}
}

func TestSequenceOperations(t *testing.T) {
	root := parse(t, "{{ account!.deposit(1) ~ account!.withdraw(2) }}{{ account.balance }}{{ other }}")
	res, err := Analyze(root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	tbl := res.Table

	deposit := find(root, callNamed("deposit"))
	m := tbl.Get(deposit)
	if !m.CallLocked || m.LockKey != "!account" {
		t.Errorf("deposit meta = %+v", m)
	}
	// the call's own name path is not a wait on its own lock
	if got := m.Ops["!account"]; got != OpLock {
		t.Errorf("deposit op = %v, want LOCK", got)
	}

	concat := find(root, func(n ast.Node) bool {
		b, ok := n.(*ast.BinOp)
		return ok && b.Op == "~"
	})
	if got := tbl.Get(concat).Ops["!account"]; got != OpContended {
		t.Errorf("concat op = %v, want CONTENDED", got)
	}

	balance := find(root, func(n ast.Node) bool {
		lv, ok := n.(*ast.LookupVal)
		return ok && ast.Describe(lv) == "LookupVal(account.balance)"
	})
	if got := tbl.Get(balance).Ops["!account"]; got != OpPath {
		t.Errorf("balance op = %v, want PATH", got)
	}

	other := find(root, func(n ast.Node) bool {
		s, ok := n.(*ast.Symbol)
		return ok && s.Name == "other"
	})
	if tbl.Get(other).Ops != nil {
		t.Errorf("unrelated symbol ops = %v", tbl.Get(other).Ops)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		a, b, want SeqOp
	}{
		{OpNone, OpPath, OpPath},
		{OpPath, OpPath, OpPath},
		{OpPath, OpLock, OpContended},
		{OpLock, OpLock, OpContended},
		{OpContended, OpPath, OpContended},
		{OpLock, OpNone, OpLock},
	}
	for _, tt := range tests {
		if got := merge(tt.a, tt.b); got != tt.want {
			t.Errorf("merge(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAssignWrappers(t *testing.T) {
	root := parse(t, "{{ account!.deposit(1) ~ account!.withdraw(2) }}{{ account.balance }}{{ ledger!.add(account!.get()) }}")
	res, err := Analyze(root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	tbl := res.Table

	for _, name := range []string{"deposit", "withdraw", "add", "get"} {
		call := find(root, callNamed(name))
		if !tbl.Get(call).Wrap {
			t.Errorf("lock call %s should be wrapped", name)
		}
	}

	concat := find(root, func(n ast.Node) bool {
		b, ok := n.(*ast.BinOp)
		return ok && b.Op == "~"
	})
	if tbl.Get(concat).Wrap {
		t.Error("contended parent should split into its children, not wrap")
	}

	balance := find(root, func(n ast.Node) bool {
		_, ok := n.(*ast.LookupVal)
		return ok && ast.Describe(n) == "LookupVal(account.balance)"
	})
	if tbl.Get(balance).Wrap {
		t.Error("lookup without own lock activity should defer to its target")
	}
	sym := find(balance, func(n ast.Node) bool {
		_, ok := n.(*ast.Symbol)
		return ok
	})
	if !tbl.Get(sym).Wrap {
		t.Error("path wait on account should be wrapped")
	}
}

func TestAssignDefersToUniqueChild(t *testing.T) {
	root := parse(t, "{{ (account!.deposit(1))|upper }}")
	res, err := Analyze(root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	filter := find(root, func(n ast.Node) bool {
		_, ok := n.(*ast.Filter)
		return ok
	})
	if res.Table.Get(filter).Wrap {
		t.Error("filter with a single locked child should defer to it")
	}
	if !res.Table.Get(find(root, callNamed("deposit"))).Wrap {
		t.Error("deposit should be wrapped")
	}
}

func TestSyncModeSkipsWrapping(t *testing.T) {
	root := parse(t, "{{ account!.deposit(1) }}")
	res, err := Analyze(root, Config{Mode: ModeSync})
	if err != nil {
		t.Fatal(err)
	}
	_, wrapped := res.Table.Count()
	if wrapped != 0 {
		t.Errorf("wrapped = %d, want 0 in sync mode", wrapped)
	}
}
