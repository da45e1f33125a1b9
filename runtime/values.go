package runtime

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

type undefined struct{}

func (undefined) String() string { return "" }

// Undefined is the value of a name bound nowhere. It renders as the empty
// string and is falsy.
var Undefined = undefined{}

// IsUndefined reports whether v is Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// ToString renders v as template text.
func ToString(v any) string {
	switch x := v.(type) {
	case nil, undefined:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = ToString(item)
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	if n, ok := toNumber(v); ok {
		return n.String()
	}
	if items, ok := toList(v); ok {
		return ToString(items)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Truthy reports whether v counts as true in a condition. False, zero, NaN,
// the empty string, nil and Undefined are false; everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if n, ok := toNumber(v); ok {
		if n.isFloat {
			return n.f != 0 && !math.IsNaN(n.f)
		}
		return n.i != 0
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice ||
		rv.Kind() == reflect.Func || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return false
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "none"
	case undefined:
		return "undefined"
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}

// number is an integer or a float operand.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) value() any {
	if n.isFloat {
		return n.f
	}
	return int(n.i)
}

func (n number) String() string {
	if n.isFloat {
		return formatFloat(n.f)
	}
	return strconv.FormatInt(n.i, 10)
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{i: int64(x)}, true
	case int64:
		return number{i: x}, true
	case float64:
		return number{f: x, isFloat: true}, true
	case bool, string, nil:
		return number{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: rv.Int()}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number{i: int64(rv.Uint())}, true
	case reflect.Float32, reflect.Float64:
		return number{f: rv.Float(), isFloat: true}, true
	}
	return number{}, false
}

func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// iterate returns the items a loop visits. Dicts yield their keys in sorted
// order along with the values.
func iterate(v any) (keys, vals []any, isMap bool, err error) {
	switch v.(type) {
	case nil, undefined:
		return nil, nil, false, nil
	case string:
		return nil, nil, false, fmt.Errorf("cannot iterate over a string")
	}
	if items, ok := toList(v); ok {
		return nil, items, false, nil
	}
	if m, ok := toMap(v); ok {
		for _, k := range sortedKeys(m) {
			keys = append(keys, k)
			vals = append(vals, m[k])
		}
		return keys, vals, true, nil
	}
	return nil, nil, false, fmt.Errorf("%s is not iterable", typeName(v))
}

func binary(op string, a, b any) (any, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "<", ">", "<=", ">=":
		return compare(op, a, b)
	case "in":
		return contains(b, a)
	case "~":
		return ToString(a) + ToString(b), nil
	case "and":
		if !Truthy(a) {
			return a, nil
		}
		return b, nil
	case "or":
		if Truthy(a) {
			return a, nil
		}
		return b, nil
	}
	return arith(op, a, b)
}

func arith(op string, a, b any) (any, error) {
	if op == "+" {
		_, as := a.(string)
		_, bs := b.(string)
		if as || bs {
			return ToString(a) + ToString(b), nil
		}
		if la, ok := a.([]any); ok {
			if lb, ok := b.([]any); ok {
				out := make([]any, 0, len(la)+len(lb))
				return append(append(out, la...), lb...), nil
			}
		}
	}
	x, ok1 := toNumber(a)
	y, ok2 := toNumber(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unsupported operands for %s: %s and %s", op, typeName(a), typeName(b))
	}
	ints := !x.isFloat && !y.isFloat
	switch op {
	case "+":
		if ints {
			return int(x.i + y.i), nil
		}
		return x.float() + y.float(), nil
	case "-":
		if ints {
			return int(x.i - y.i), nil
		}
		return x.float() - y.float(), nil
	case "*":
		if ints {
			return int(x.i * y.i), nil
		}
		return x.float() * y.float(), nil
	case "/":
		if y.float() == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if ints && x.i%y.i == 0 {
			return int(x.i / y.i), nil
		}
		return x.float() / y.float(), nil
	case "//":
		if y.float() == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return int(math.Floor(x.float() / y.float())), nil
	case "%":
		if ints {
			if y.i == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return int(x.i % y.i), nil
		}
		return math.Mod(x.float(), y.float()), nil
	case "**":
		r := math.Pow(x.float(), y.float())
		if ints && y.i >= 0 {
			return int(r), nil
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func unary(op string, v any) (any, error) {
	switch op {
	case "not":
		return !Truthy(v), nil
	case "-":
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %s", typeName(v))
		}
		if n.isFloat {
			return -n.f, nil
		}
		return int(-n.i), nil
	case "+":
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot apply + to %s", typeName(v))
		}
		return n.value(), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func equal(a, b any) bool {
	x, ok1 := toNumber(a)
	y, ok2 := toNumber(b)
	if ok1 && ok2 {
		return x.float() == y.float()
	}
	if IsUndefined(a) {
		a = nil
	}
	if IsUndefined(b) {
		b = nil
	}
	return reflect.DeepEqual(a, b)
}

func compare(op string, a, b any) (bool, error) {
	var c int
	x, ok1 := toNumber(a)
	y, ok2 := toNumber(b)
	sa, ok3 := a.(string)
	sb, ok4 := b.(string)
	switch {
	case ok1 && ok2:
		switch xf, yf := x.float(), y.float(); {
		case xf < yf:
			c = -1
		case xf > yf:
			c = 1
		}
	case ok3 && ok4:
		c = strings.Compare(sa, sb)
	default:
		return false, fmt.Errorf("cannot compare %s and %s", typeName(a), typeName(b))
	}
	switch op {
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	}
	return c >= 0, nil
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, ToString(item)), nil
	case nil, undefined:
		return false, nil
	}
	if items, ok := toList(container); ok {
		for _, it := range items {
			if equal(it, item) {
				return true, nil
			}
		}
		return false, nil
	}
	if m, ok := toMap(container); ok {
		_, found := m[ToString(item)]
		return found, nil
	}
	return false, fmt.Errorf("cannot test membership in %s", typeName(container))
}

// member returns target[key]: a dict entry, a list element, a struct field
// or a bound method. Missing members are Undefined.
func member(target, key any) (any, error) {
	switch t := target.(type) {
	case nil, undefined:
		return Undefined, nil
	case map[string]any:
		if v, ok := t[ToString(key)]; ok {
			return v, nil
		}
		return Undefined, nil
	case []any:
		return index(len(t), key, func(i int) any { return t[i] })
	case string:
		if n, ok := toNumber(key); ok && !n.isFloat {
			r := []rune(t)
			return index(len(r), key, func(i int) any { return string(r[i]) })
		}
		if ToString(key) == "length" {
			return len([]rune(t)), nil
		}
		return Undefined, nil
	}

	rv := reflect.ValueOf(target)
	if name, ok := key.(string); ok {
		if m := method(rv, name); m.IsValid() {
			return m.Interface(), nil
		}
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Undefined, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		k := reflect.ValueOf(key)
		if !k.IsValid() || !k.Type().ConvertibleTo(rv.Type().Key()) {
			return Undefined, nil
		}
		v := rv.MapIndex(k.Convert(rv.Type().Key()))
		if !v.IsValid() {
			return Undefined, nil
		}
		return v.Interface(), nil
	case reflect.Slice, reflect.Array:
		return index(rv.Len(), key, func(i int) any { return rv.Index(i).Interface() })
	case reflect.Struct:
		name, ok := key.(string)
		if !ok {
			return Undefined, nil
		}
		for _, n := range []string{name, goName(name)} {
			f, found := rv.Type().FieldByName(n)
			if found && f.IsExported() {
				return rv.FieldByIndex(f.Index).Interface(), nil
			}
		}
	}
	return Undefined, nil
}

func index(n int, key any, at func(int) any) (any, error) {
	k, ok := toNumber(key)
	if !ok || k.isFloat {
		if ToString(key) == "length" {
			return n, nil
		}
		return Undefined, nil
	}
	i := int(k.i)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return Undefined, nil
	}
	return at(i), nil
}

// method finds the exported method name, or its Go spelling, on rv.
func method(rv reflect.Value, name string) reflect.Value {
	if !rv.IsValid() {
		return reflect.Value{}
	}
	for _, n := range []string{name, goName(name)} {
		if n == "" || !unicode.IsUpper([]rune(n)[0]) {
			continue
		}
		if m := rv.MethodByName(n); m.IsValid() {
			return m
		}
	}
	return reflect.Value{}
}

// goName converts a template name to its exported Go spelling:
// first_name -> FirstName, deposit -> Deposit.
func goName(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// templateName converts a Go method name to its template spelling:
// GetValue -> get_value.
func templateName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
