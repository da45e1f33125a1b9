package frame

import (
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/geleto/cascada/errors"
)

func TestUpdateFrameWrites(t *testing.T) {
	a := NewArena(true)
	root := a.Root()
	a.DeclareVar(root, "x")

	outer := a.Push(root, false, false)
	inner := a.Push(outer, false, false)

	if decl := a.UpdateFrameWrites(inner, "x"); decl != root {
		t.Errorf("declaring frame = %d, want root", decl)
	}
	a.UpdateFrameWrites(inner, "x")

	if got := a.Get(inner).WriteCounts["x"]; got != 2 {
		t.Errorf("inner count = %d, want 2", got)
	}
	// the second write in inner must not reach outer
	if got := a.Get(outer).WriteCounts["x"]; got != 1 {
		t.Errorf("outer count = %d, want 1", got)
	}
	if _, ok := a.Get(root).WriteCounts["x"]; ok {
		t.Error("declaring frame must not count its own variable")
	}

	sibling := a.Push(outer, false, false)
	a.UpdateFrameWrites(sibling, "x")
	if got := a.Get(outer).WriteCounts["x"]; got != 2 {
		t.Errorf("outer count after sibling = %d, want 2", got)
	}
}

func TestUpdateFrameWritesDeclares(t *testing.T) {
	a := NewArena(true)
	scope := a.Push(a.Root(), true, false)
	block := a.Push(scope, false, false)

	decl := a.UpdateFrameWrites(block, "y")
	if decl != scope {
		t.Errorf("undeclared write declared in %d, want nearest scope %d", decl, scope)
	}
	if !a.Get(scope).Declared["y"] {
		t.Error("y not declared in scope frame")
	}
	if got := a.Get(block).WriteCounts["y"]; got != 1 {
		t.Errorf("block count = %d, want 1", got)
	}
}

func TestUpdateFrameWritesIsolate(t *testing.T) {
	a := NewArena(true)
	a.DeclareVar(a.Root(), "x")
	macro := a.Push(a.Root(), true, true)
	body := a.Push(macro, false, false)

	if decl := a.UpdateFrameWrites(body, "x"); decl != macro {
		t.Errorf("write crossed isolate fence: declared in %d, want %d", decl, macro)
	}
}

func TestUpdateFrameWritesLock(t *testing.T) {
	a := NewArena(true)
	scope := a.Push(a.Root(), true, false)
	block := a.Push(scope, false, false)

	if decl := a.UpdateFrameWrites(block, "!account"); decl != a.Root() {
		t.Errorf("lock declared in %d, want root", decl)
	}
	if got := a.Get(scope).WriteCounts["!account"]; got != 1 {
		t.Errorf("scope count = %d, want 1", got)
	}
}

func TestUpdateFrameReads(t *testing.T) {
	a := NewArena(true)
	root := a.Root()
	a.DeclareVar(root, "x")
	outer := a.Push(root, false, false)
	inner := a.Push(outer, false, false)

	a.UpdateFrameReads(inner, "x")
	if !a.Get(inner).ReadVars["x"] || !a.Get(outer).ReadVars["x"] {
		t.Error("read should be recorded on every frame below the declaration")
	}
	if a.Get(root).ReadVars["x"] {
		t.Error("declaring frame must not snapshot its own variable")
	}

	// context variables need no snapshot
	a.UpdateFrameReads(inner, "ctx")
	if a.Get(inner).ReadVars["ctx"] {
		t.Error("undeclared name recorded as read")
	}
}

func TestUpdateFrameReadsStopsAtWriter(t *testing.T) {
	a := NewArena(true)
	a.DeclareVar(a.Root(), "x")
	outer := a.Push(a.Root(), false, false)
	a.UpdateFrameWrites(outer, "x")
	inner := a.Push(outer, false, false)

	a.UpdateFrameReads(inner, "x")
	if !a.Get(inner).ReadVars["x"] {
		t.Error("inner should snapshot x")
	}
	if a.Get(outer).ReadVars["x"] {
		t.Error("outer writes x and must not also snapshot it")
	}
}

func TestCloseReadInDeclarationScope(t *testing.T) {
	a := NewArena(true)
	a.DeclareVar(a.Root(), "x")
	block := a.Push(a.Root(), true, false)
	a.UpdateFrameReads(block, "x")
	a.DeclareVar(block, "x")

	_, _, err := a.Close(block)
	if err == nil {
		t.Fatal("expected internal error")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseInternal, Kind: errors.KindInternal}) {
		t.Errorf("err = %v, want internal error", err)
	}
}

func TestPop(t *testing.T) {
	a := NewArena(true)
	a.DeclareVar(a.Root(), "b")
	a.DeclareVar(a.Root(), "a")
	block := a.Push(a.Root(), false, false)
	a.UpdateFrameReads(block, "b")
	a.UpdateFrameReads(block, "a")
	a.UpdateFrameWrites(block, "a")

	parent, reads, writes, err := a.Pop(block)
	if err != nil {
		t.Fatal(err)
	}
	if parent != a.Root() {
		t.Errorf("parent = %d, want root", parent)
	}
	if !reflect.DeepEqual(reads, []string{"a", "b"}) {
		t.Errorf("reads = %v, want [a b]", reads)
	}
	if !reflect.DeepEqual(writes, Counts{"a": 1}) {
		t.Errorf("writes = %v, want map[a:1]", writes)
	}
}

func TestDeclareVarUntracked(t *testing.T) {
	a := NewArena(false)
	a.DeclareVar(a.Root(), "x")
	if a.IsDeclared(a.Root(), "x") {
		t.Error("declarations must not be tracked in sync mode")
	}
}

func TestSetAndLookup(t *testing.T) {
	a := NewArena(true)
	a.DeclareVar(a.Root(), "x")
	child := a.Push(a.Root(), true, false)
	a.Set(child, "x", "t_1")
	a.Set(child, "y", "t_2")

	if _, ok := a.Get(a.Root()).Variables["x"]; !ok {
		t.Error("x should be stored in its declaring frame")
	}
	if h, ok := a.Lookup(child, "y"); !ok || h != "t_2" {
		t.Errorf("Lookup(y) = %q, %v", h, ok)
	}
}

func TestCountsTo1(t *testing.T) {
	got := CountsTo1(Counts{"a": 3, "b": 1})
	want := Counts{"a": 1, "b": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CountsTo1 = %v, want %v", got, want)
	}
	if CountsTo1(nil) != nil {
		t.Error("CountsTo1(nil) should be nil")
	}
}

func TestCombineWriteCounts(t *testing.T) {
	got := CombineWriteCounts(Counts{"a": 1}, nil, Counts{"a": 1, "b": 1})
	want := Counts{"a": 2, "b": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CombineWriteCounts = %v, want %v", got, want)
	}
	if got := (Counts{"b": 1, "a": 2}).Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Names = %v", got)
	}
}
