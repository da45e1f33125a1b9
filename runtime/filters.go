package runtime

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// builtinFilters are called like any registered Go function: the filtered
// value first, then the filter arguments.
var builtinFilters = map[string]any{
	"upper":      strings.ToUpper,
	"lower":      strings.ToLower,
	"trim":       strings.TrimSpace,
	"capitalize": capitalize,
	"title":      title,
	"length":     length,
	"join":       join,
	"default":    defaultFilter,
	"first":      first,
	"last":       last,
	"reverse":    reverse,
	"sort":       sortFilter,
	"sum":        sum,
	"replace":    replace,
	"int":        toInt,
	"float":      toFloat,
	"string":     ToString,
	"abs":        abs,
	"round":      round,
	"list":       list,
	"safe":       func(v any) any { return v },
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func length(v any) int {
	switch x := v.(type) {
	case nil, undefined:
		return 0
	case string:
		return len([]rune(x))
	}
	if items, ok := toList(v); ok {
		return len(items)
	}
	if m, ok := toMap(v); ok {
		return len(m)
	}
	return 0
}

func join(v any, sep string) (string, error) {
	items, ok := toList(v)
	if !ok {
		return "", fmt.Errorf("join expects a list, got %s", typeName(v))
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = ToString(item)
	}
	return strings.Join(parts, sep), nil
}

// defaultFilter returns def when v is missing, or falsy when boolean is set.
// Undefined arrives here as nil.
func defaultFilter(v, def any, boolean bool) any {
	if v == nil || (boolean && !Truthy(v)) {
		return def
	}
	return v
}

func first(v any) any {
	if s, ok := v.(string); ok {
		r := []rune(s)
		if len(r) == 0 {
			return Undefined
		}
		return string(r[0])
	}
	items, _ := toList(v)
	if len(items) == 0 {
		return Undefined
	}
	return items[0]
}

func last(v any) any {
	if s, ok := v.(string); ok {
		r := []rune(s)
		if len(r) == 0 {
			return Undefined
		}
		return string(r[len(r)-1])
	}
	items, _ := toList(v)
	if len(items) == 0 {
		return Undefined
	}
	return items[len(items)-1]
}

func reverse(v any) (any, error) {
	if s, ok := v.(string); ok {
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	}
	items, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("reverse expects a list or a string, got %s", typeName(v))
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out, nil
}

func sortFilter(v any, desc bool) (any, error) {
	items, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("sort expects a list, got %s", typeName(v))
	}
	out := append([]any(nil), items...)
	var cmpErr error
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if desc {
			a, b = b, a
		}
		less, err := compare("<", a, b)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return less
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	return out, nil
}

func sum(v any) (any, error) {
	items, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("sum expects a list, got %s", typeName(v))
	}
	var total any = 0
	for _, item := range items {
		var err error
		if total, err = arith("+", total, item); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func replace(s, old, repl string, count ...int) string {
	n := -1
	if len(count) > 0 {
		n = count[0]
	}
	return strings.Replace(s, old, repl, n)
}

func toInt(v any, def ...any) any {
	if n, ok := toNumber(v); ok {
		return int(n.float())
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	if len(def) > 0 {
		return def[0]
	}
	return 0
}

func toFloat(v any, def ...any) any {
	if n, ok := toNumber(v); ok {
		return n.float()
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	if len(def) > 0 {
		return def[0]
	}
	return 0.0
}

func abs(v any) (any, error) {
	n, ok := toNumber(v)
	if !ok {
		return nil, fmt.Errorf("abs expects a number, got %s", typeName(v))
	}
	if n.isFloat {
		return math.Abs(n.f), nil
	}
	if n.i < 0 {
		return int(-n.i), nil
	}
	return int(n.i), nil
}

// round rounds to precision digits. Method is "common", "floor" or "ceil".
func round(v float64, precision int, method string) (float64, error) {
	p := math.Pow10(precision)
	switch method {
	case "", "common":
		return math.Round(v*p) / p, nil
	case "floor":
		return math.Floor(v*p) / p, nil
	case "ceil":
		return math.Ceil(v*p) / p, nil
	}
	return 0, fmt.Errorf("unknown rounding method %q", method)
}

func list(v any) (any, error) {
	switch x := v.(type) {
	case nil, undefined:
		return []any{}, nil
	case string:
		out := make([]any, 0, len(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	}
	if items, ok := toList(v); ok {
		return append([]any(nil), items...), nil
	}
	if m, ok := toMap(v); ok {
		out := make([]any, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, k)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %s to a list", typeName(v))
}
