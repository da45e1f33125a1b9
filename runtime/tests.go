package runtime

import (
	"fmt"
	"reflect"
)

// TestFunc implements `value is name(args)`. The value is passed unchanged,
// so a test can tell Undefined from none.
type TestFunc func(v any, args []any) (bool, error)

// errorTest names the test that inspects a failed value instead of
// propagating its failure.
const errorTest = "error"

var builtinTests = map[string]TestFunc{
	"defined":   func(v any, _ []any) (bool, error) { return !IsUndefined(v), nil },
	"undefined": func(v any, _ []any) (bool, error) { return IsUndefined(v), nil },
	"none":      func(v any, _ []any) (bool, error) { return v == nil, nil },
	errorTest: func(v any, _ []any) (bool, error) {
		_, ok := v.(error)
		return ok, nil
	},
	"number": func(v any, _ []any) (bool, error) {
		_, ok := toNumber(v)
		return ok, nil
	},
	"string": func(v any, _ []any) (bool, error) {
		_, ok := v.(string)
		return ok, nil
	},
	"odd":         parity(1),
	"even":        parity(0),
	"divisibleby": divisibleBy,
	"iterable": func(v any, _ []any) (bool, error) {
		if _, ok := v.(string); ok {
			return true, nil
		}
		_, _, _, err := iterate(v)
		return err == nil && v != nil && !IsUndefined(v), nil
	},
	"mapping": func(v any, _ []any) (bool, error) {
		_, ok := toMap(v)
		return ok, nil
	},
	"callable": func(v any, _ []any) (bool, error) {
		if _, ok := v.(*Macro); ok {
			return true, nil
		}
		return v != nil && reflect.TypeOf(v).Kind() == reflect.Func, nil
	},
}

func parity(rem int64) TestFunc {
	return func(v any, _ []any) (bool, error) {
		n, ok := toNumber(v)
		if !ok || n.isFloat {
			return false, fmt.Errorf("%s is not an integer", typeName(v))
		}
		r := n.i % 2
		if r < 0 {
			r = -r
		}
		return r == rem, nil
	}
}

func divisibleBy(v any, args []any) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("divisibleby takes one argument")
	}
	x, ok1 := toNumber(v)
	y, ok2 := toNumber(args[0])
	if !ok1 || !ok2 {
		return false, fmt.Errorf("divisibleby needs numbers, got %s and %s", typeName(v), typeName(args[0]))
	}
	if y.float() == 0 {
		return false, fmt.Errorf("division by zero")
	}
	if !x.isFloat && !y.isFloat {
		return x.i%y.i == 0, nil
	}
	return wholeQuotient(x.float(), y.float()), nil
}

func wholeQuotient(a, b float64) bool {
	q := a / b
	return q == float64(int64(q))
}
