package runtime

import (
	stderrors "errors"
	"reflect"
	"testing"
)

func TestBufferKeepsReservedPosition(t *testing.T) {
	b := NewBuffer()
	b.Write("a")
	slot := b.Reserve()
	b.Write("c")
	slot.Write("b")

	out := newOutputs(nil)
	if err := b.Flatten(out); err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if got := out.Text(); got != "abc" {
		t.Errorf("Text() = %q, want %q", got, "abc")
	}
}

func TestBufferCommands(t *testing.T) {
	b := NewBuffer()
	b.Command(DataHandler, "set", []any{"a", 1})
	b.Reserve().Command(DataHandler, "push", []any{"list", "x"})

	out := newOutputs(map[string]HandlerFactory{DataHandler: NewDataHandler})
	if err := b.Flatten(out); err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	want := map[string]any{"a": 1, "list": []any{"x"}}
	if got := out.Results()[DataHandler]; !reflect.DeepEqual(got, want) {
		t.Errorf("data = %v, want %v", got, want)
	}
}

func TestBufferUnknownHandler(t *testing.T) {
	b := NewBuffer()
	b.Command("nope", "set", nil)
	if err := b.Flatten(newOutputs(nil)); err == nil {
		t.Error("Flatten() error = nil, want unknown handler")
	}
}

func TestBufferPoisonedAndStrip(t *testing.T) {
	e := stderrors.New("bad")
	b := NewBuffer()
	b.Write("keep")
	inner := b.Reserve()
	inner.Poison(DataHandler, e)
	inner.Command(DataHandler, "set", []any{"a", 1})
	inner.Write("text")

	onlyData := func(h string) bool { return h == DataHandler }
	if got := b.Poisoned(onlyData); len(got) != 1 || got[0] != e {
		t.Fatalf("Poisoned() = %v, want [%v]", got, e)
	}
	if got := b.Poisoned(func(h string) bool { return h == TextHandler }); len(got) != 0 {
		t.Errorf("Poisoned(text) = %v, want none", got)
	}

	b.Strip(onlyData)
	out := newOutputs(map[string]HandlerFactory{DataHandler: NewDataHandler})
	if err := b.Flatten(out); err != nil {
		t.Fatalf("Flatten() after Strip error = %v", err)
	}
	if got := out.Text(); got != "keeptext" {
		t.Errorf("Text() = %q, want %q", got, "keeptext")
	}
	if got := out.Results(); got != nil {
		t.Errorf("Results() = %v, want nil", got)
	}
}

func TestFlattenTextDropsCommands(t *testing.T) {
	b := NewBuffer()
	b.Write("a")
	b.Command(DataHandler, "set", []any{"x", 1})
	b.Command(TextHandler, "", []any{"b", 2})
	got, err := flattenText(b)
	if err != nil {
		t.Fatalf("flattenText() error = %v", err)
	}
	if got != "ab2" {
		t.Errorf("flattenText() = %q, want %q", got, "ab2")
	}
}
