package runtime

import (
	"math"
	"reflect"
	"testing"
)

func TestToString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{Undefined, ""},
		{"s", "s"},
		{true, "true"},
		{42, "42"},
		{int64(-3), "-3"},
		{2.5, "2.5"},
		{3.0, "3"},
		{math.Inf(1), "Infinity"},
		{[]any{1, "a"}, "1,a"},
		{[]string{"x", "y"}, "x,y"},
		{uint8(7), "7"},
	}
	for _, tt := range tests {
		if got := ToString(tt.in); got != tt.want {
			t.Errorf("ToString(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	var nilMap map[string]any
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{Undefined, false},
		{false, false},
		{0, false},
		{0.0, false},
		{math.NaN(), false},
		{"", false},
		{nilMap, false},
		{"0", true},
		{[]any{}, true},
		{map[string]any{}, true},
		{-1, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBinary(t *testing.T) {
	tests := []struct {
		op   string
		a, b any
		want any
	}{
		{"+", 1, 2, 3},
		{"+", int64(1), 2.5, 3.5},
		{"+", "a", 1, "a1"},
		{"+", []any{1}, []any{2}, []any{1, 2}},
		{"-", 5, 7, -2},
		{"*", 3, 4, 12},
		{"/", 6, 3, 2},
		{"/", 7, 2, 3.5},
		{"//", 7, 2, 3},
		{"//", -7, 2, -4},
		{"%", 7, 3, 1},
		{"**", 2, 10, 1024},
		{"==", 1, 1.0, true},
		{"==", Undefined, nil, true},
		{"!=", "a", "b", true},
		{"<", "a", "b", true},
		{">=", 2, 2, true},
		{"in", "b", []any{"a", "b"}, true},
		{"in", "k", map[string]any{"k": 1}, true},
		{"in", "ell", "hello", true},
		{"~", 1, 2, "12"},
	}
	for _, tt := range tests {
		got, err := binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("binary(%q, %v, %v) error = %v", tt.op, tt.a, tt.b, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("binary(%q, %v, %v) = %#v, want %#v", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBinaryErrors(t *testing.T) {
	tests := []struct {
		op   string
		a, b any
	}{
		{"/", 1, 0},
		{"%", 1, 0},
		{"-", "a", 1},
		{"<", 1, "a"},
		{"in", 1, 2},
	}
	for _, tt := range tests {
		if _, err := binary(tt.op, tt.a, tt.b); err == nil {
			t.Errorf("binary(%q, %v, %v) error = nil", tt.op, tt.a, tt.b)
		}
	}
}

type person struct {
	Name      string
	FirstName string
	secret    string
}

func (p person) Greet() string { return "hi " + p.Name }

func TestMember(t *testing.T) {
	p := person{Name: "Ada", FirstName: "A", secret: "s"}
	tests := []struct {
		name   string
		target any
		key    any
		want   any
	}{
		{"dict", map[string]any{"a": 1}, "a", 1},
		{"dict missing", map[string]any{}, "a", Undefined},
		{"list", []any{1, 2}, int64(1), 2},
		{"list negative", []any{1, 2}, -1, 2},
		{"list out of range", []any{1}, 5, Undefined},
		{"list length", []any{1, 2, 3}, "length", 3},
		{"string index", "héllo", 1, "é"},
		{"typed map", map[string]int{"a": 1}, "a", 1},
		{"typed slice", []string{"x"}, 0, "x"},
		{"field", p, "Name", "Ada"},
		{"snake field", p, "first_name", "A"},
		{"unexported field", p, "secret", Undefined},
		{"pointer field", &p, "name", "Ada"},
		{"undefined target", Undefined, "a", Undefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := member(tt.target, tt.key)
			if err != nil {
				t.Fatalf("member() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("member() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMemberMethod(t *testing.T) {
	got, err := member(person{Name: "Bo"}, "greet")
	if err != nil {
		t.Fatalf("member() error = %v", err)
	}
	fn, ok := got.(func() string)
	if !ok {
		t.Fatalf("member() = %T, want func() string", got)
	}
	if s := fn(); s != "hi Bo" {
		t.Errorf("greet() = %q, want %q", s, "hi Bo")
	}
}

func TestIterate(t *testing.T) {
	keys, vals, isMap, err := iterate(map[string]any{"b": 2, "a": 1})
	if err != nil || !isMap {
		t.Fatalf("iterate(dict) = %v, %v", isMap, err)
	}
	if !reflect.DeepEqual(keys, []any{"a", "b"}) || !reflect.DeepEqual(vals, []any{1, 2}) {
		t.Errorf("iterate(dict) = %v, %v, want [a b], [1 2]", keys, vals)
	}

	_, vals, _, err = iterate(Undefined)
	if err != nil || len(vals) != 0 {
		t.Errorf("iterate(Undefined) = %v, %v, want empty", vals, err)
	}
	if _, _, _, err := iterate("abc"); err == nil {
		t.Error("iterate(string) error = nil")
	}
}

func TestNames(t *testing.T) {
	if got := goName("first_name"); got != "FirstName" {
		t.Errorf("goName() = %q, want %q", got, "FirstName")
	}
	if got := templateName("GetValue"); got != "get_value" {
		t.Errorf("templateName() = %q, want %q", got, "get_value")
	}
}
