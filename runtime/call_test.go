package runtime

import (
	"context"
	stderrors "errors"
	"reflect"
	"strings"
	"testing"
)

type ctxKey struct{}

func TestCallGo(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "from ctx")
	tests := []struct {
		name   string
		fn     any
		args   []any
		kwargs map[string]any
		want   any
	}{
		{"no result", func() {}, nil, nil, nil},
		{"value", func(a, b int) int { return a + b }, []any{int64(1), 2}, nil, 3},
		{"missing args", func(a int, s string) string { return s + "x" }, []any{1}, nil, "x"},
		{"undefined arg", func(s string) string { return "[" + s + "]" }, []any{Undefined}, nil, "[]"},
		{"float to int", func(n int) int { return n }, []any{4.0}, nil, 4},
		{"int to float", func(f float64) float64 { return f / 2 }, []any{3}, nil, 1.5},
		{"variadic", func(sep string, xs ...string) string { return strings.Join(xs, sep) }, []any{"-", "a", "b"}, nil, "a-b"},
		{"slice", func(xs []int) int { return len(xs) }, []any{[]any{1, 2, 3}}, nil, 3},
		{"map", func(m map[string]string) string { return m["k"] }, []any{map[string]any{"k": "v"}}, nil, "v"},
		{"context", func(ctx context.Context) any { return ctx.Value(ctxKey{}) }, nil, nil, "from ctx"},
		{"kwargs", func(a int, kw map[string]any) any { return kw["x"] }, []any{1}, map[string]any{"x": "y"}, "y"},
		{"value and nil error", func() (string, error) { return "ok", nil }, nil, nil, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callGo(ctx, tt.fn, tt.args, tt.kwargs)
			if err != nil {
				t.Fatalf("callGo() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("callGo() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCallGoErrors(t *testing.T) {
	boom := stderrors.New("boom")
	tests := []struct {
		name   string
		fn     any
		args   []any
		kwargs map[string]any
	}{
		{"not a function", 3, nil, nil},
		{"too many args", func(int) {}, []any{1, 2}, nil},
		{"unexpected kwargs", func() {}, nil, map[string]any{"a": 1}},
		{"bad conversion", func(int) {}, []any{"x"}, nil},
		{"fractional to int", func(int) {}, []any{1.5}, nil},
		{"returned error", func() error { return boom }, nil, nil},
		{"returned pair error", func() (int, error) { return 0, boom }, nil, nil},
		{"panic", func() { panic("bad") }, nil, nil},
		{"three results", func() (int, int, int) { return 1, 2, 3 }, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := callGo(context.Background(), tt.fn, tt.args, tt.kwargs); err == nil {
				t.Error("callGo() error = nil")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFunc("f", 1); err == nil {
		t.Error("RegisterFunc(non-function) error = nil")
	}
	if err := r.RegisterFunc("", func() {}); err == nil {
		t.Error("RegisterFunc(empty name) error = nil")
	}
	if err := r.RegisterHandler(TextHandler, NewDataHandler); err == nil {
		t.Error("RegisterHandler(text) error = nil")
	}
	if _, ok := r.filter("upper"); !ok {
		t.Error("built-in filter upper missing")
	}
	if _, ok := r.test("defined"); !ok {
		t.Error("built-in test defined missing")
	}
	if _, ok := r.handlerFactories()[DataHandler]; !ok {
		t.Error("data handler missing")
	}

	if err := r.RegisterHost(mathHost{}); err != nil {
		t.Fatalf("RegisterHost() error = %v", err)
	}
	_ = r.RegisterGlobal("math", map[string]any{"pi": 3.14})
	ns, _ := r.global("math")
	if _, ok := ns.(map[string]any)["add_all"]; ok {
		t.Error("RegisterGlobal kept the host functions, want them replaced")
	}
}

func TestBuiltinFilters(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want any
	}{
		{"upper", []any{"ab"}, "AB"},
		{"capitalize", []any{"hELLO"}, "Hello"},
		{"length", []any{[]any{1, 2}}, 2},
		{"length", []any{"héllo"}, 5},
		{"join", []any{[]any{1, 2}, "+"}, "1+2"},
		{"default", []any{Undefined, "d"}, "d"},
		{"default", []any{"", "d", true}, "d"},
		{"default", []any{"", "d"}, ""},
		{"first", []any{[]any{1, 2}}, 1},
		{"last", []any{"abc"}, "c"},
		{"reverse", []any{[]any{1, 2}}, []any{2, 1}},
		{"sort", []any{[]any{"b", "a"}}, []any{"a", "b"}},
		{"sort", []any{[]any{1, 3, 2}, true}, []any{3, 2, 1}},
		{"sum", []any{[]any{1, 2, 3}}, 6},
		{"replace", []any{"aaa", "a", "b", 2}, "bba"},
		{"int", []any{"42"}, 42},
		{"int", []any{"x", 7}, 7},
		{"float", []any{"2.5"}, 2.5},
		{"abs", []any{-3}, 3},
		{"round", []any{2.456, 1}, 2.5},
		{"round", []any{2.45, 0, "floor"}, 2.0},
	}
	r := NewRegistry()
	for _, tt := range tests {
		fn, ok := r.filter(tt.name)
		if !ok {
			t.Errorf("filter %q missing", tt.name)
			continue
		}
		got, err := callGo(context.Background(), fn, tt.args, nil)
		if err != nil {
			t.Errorf("%s%v error = %v", tt.name, tt.args, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s%v = %#v, want %#v", tt.name, tt.args, got, tt.want)
		}
	}
}
