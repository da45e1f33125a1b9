package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/geleto/cascada/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType  = reflect.TypeOf(map[string]any(nil))
)

// callGo calls a Go function with template values.
//
// A leading context.Context parameter receives the render context. Missing
// trailing arguments are zero values. Keyword arguments are passed as a
// final map[string]any parameter when the function declares one. Supported
// results are (), (T), (error) and (T, error).
func callGo(ctx context.Context, fn any, args []any, kwargs map[string]any) (result any, err error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseRender, errors.KindTypeMismatch).
			Detail("%s is not callable", typeName(fn)).
			Build()
	}
	rt := rv.Type()

	params := make([]reflect.Type, rt.NumIn())
	for i := range params {
		params[i] = rt.In(i)
	}
	var in []reflect.Value
	if len(params) > 0 && params[0] == contextType {
		in = append(in, reflect.ValueOf(ctx))
		params = params[1:]
	}
	var variadic reflect.Type
	if rt.IsVariadic() {
		variadic = params[len(params)-1].Elem()
		params = params[:len(params)-1]
	}
	takesKwargs := variadic == nil && len(params) > 0 && params[len(params)-1] == kwargsType
	if takesKwargs {
		params = params[:len(params)-1]
	} else if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s does not take keyword arguments", rt)
	}
	if variadic == nil && len(args) > len(params) {
		return nil, fmt.Errorf("too many arguments: %s takes %d, got %d", rt, len(params), len(args))
	}

	for i, t := range params {
		if i >= len(args) {
			in = append(in, reflect.Zero(t))
			continue
		}
		v, err := convert(args[i], t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in = append(in, v)
	}
	if takesKwargs {
		in = append(in, reflect.ValueOf(kwargs))
	}
	if variadic != nil {
		for i := len(params); i < len(args); i++ {
			v, err := convert(args[i], variadic)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			in = append(in, v)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("panic in %s: %v", rt, p)
		}
	}()
	out := rv.Call(in)

	switch {
	case len(out) == 0:
		return nil, nil
	case len(out) == 1 && rt.Out(0) == errorType:
		return nil, asError(out[0])
	case len(out) == 1:
		return out[0].Interface(), nil
	case len(out) == 2 && rt.Out(1) == errorType:
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
	return nil, fmt.Errorf("unsupported result signature %s", rt)
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// convert adapts a template value to a Go parameter type.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil || IsUndefined(v) {
		return reflect.Zero(t), nil
	}
	vv := reflect.ValueOf(v)
	if vv.Type().AssignableTo(t) {
		return vv, nil
	}

	if n, ok := toNumber(v); ok {
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n.isFloat && n.f != float64(int64(n.f)) {
				return reflect.Value{}, fmt.Errorf("cannot use %s as %s", n, t)
			}
			return reflect.ValueOf(int64(n.float())).Convert(t), nil
		case reflect.Float32, reflect.Float64:
			return reflect.ValueOf(n.float()).Convert(t), nil
		}
	}

	switch t.Kind() {
	case reflect.Slice:
		items, ok := toList(v)
		if !ok {
			break
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			e, err := convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(e)
		}
		return out, nil
	case reflect.Map:
		m, ok := toMap(v)
		if !ok || t.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, item := range m {
			e, err := convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), e)
		}
		return out, nil
	case reflect.String:
		if vv.Kind() == reflect.String {
			return vv.Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", typeName(v), t)
}
