// Package wasmext exposes the exported functions of a core WebAssembly
// module as template functions.
//
// Calls run on a pool of module instances, so a template can call the same
// module from concurrently running parts of a render:
//
//	mod, err := wasmext.Load(ctx, wasmBytes, wasmext.Config{Namespace: "math"})
//	if err != nil {
//	    return err
//	}
//	defer mod.Close(ctx)
//	if err := mod.Register(env); err != nil {
//	    return err
//	}
//
//	{{ math.add(2, 3) }}
//
// Only numeric parameters and results (i32, i64, f32, f64) are supported.
package wasmext

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/runtime"
)

// Config holds configuration for loading a module.
type Config struct {
	// Namespace is the global name the exports are reachable under.
	Namespace string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Instances bounds the number of idle instances kept for reuse.
	// 0 means 4.
	Instances int

	// WASI instantiates wasi_snapshot_preview1 for modules importing it.
	WASI bool
}

// Registrar receives the namespace value of a module. *cascada.Environment
// implements it.
type Registrar interface {
	AddGlobal(name string, v any) error
}

// Module is a compiled module with a pool of instances.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	ns       string
	funcs    map[string]api.FunctionDefinition
	pool     chan api.Module
}

// Load compiles wasm and instantiates it once to validate its imports.
func Load(ctx context.Context, wasm []byte, cfg Config) (*Module, error) {
	if cfg.Namespace == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "wasm module needs a namespace")
	}
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			_ = r.Close(ctx)
			return nil, loadError("instantiate WASI", err)
		}
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)
		return nil, loadError("compile wasm module "+cfg.Namespace, err)
	}

	size := cfg.Instances
	if size <= 0 {
		size = 4
	}
	m := &Module{
		runtime:  r,
		compiled: compiled,
		ns:       cfg.Namespace,
		funcs:    compiled.ExportedFunctions(),
		pool:     make(chan api.Module, size),
	}

	inst, err := m.instantiate(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	m.put(ctx, inst)

	runtime.Logger().Debug("wasm module loaded",
		zap.String("namespace", m.ns),
		zap.Strings("exports", m.Exports()),
	)
	return m, nil
}

func (m *Module) instantiate(ctx context.Context) (api.Module, error) {
	// anonymous for parallel instantiation
	inst, err := m.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, loadError("instantiate wasm module "+m.ns, err)
	}
	return inst, nil
}

func (m *Module) get(ctx context.Context) (api.Module, error) {
	select {
	case inst := <-m.pool:
		return inst, nil
	default:
		return m.instantiate(ctx)
	}
}

func (m *Module) put(ctx context.Context, inst api.Module) {
	select {
	case m.pool <- inst:
	default:
		_ = inst.Close(ctx)
	}
}

// Namespace returns the global name of the module.
func (m *Module) Namespace() string {
	return m.ns
}

// Exports returns the names of the exported functions, sorted.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the export name with template values.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	def, ok := m.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRender, "wasm export", m.ns+"."+name)
	}
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, fmt.Errorf("%s.%s takes %d arguments, got %d", m.ns, name, len(params), len(args))
	}
	stack := make([]uint64, len(params))
	for i, t := range params {
		v, err := encode(args[i], t)
		if err != nil {
			return nil, fmt.Errorf("%s.%s argument %d: %w", m.ns, name, i+1, err)
		}
		stack[i] = v
	}

	inst, err := m.get(ctx)
	if err != nil {
		return nil, err
	}
	out, err := inst.ExportedFunction(name).Call(ctx, stack...)
	if err != nil {
		// a trapped instance is not reused
		_ = inst.Close(ctx)
		return nil, fmt.Errorf("%s.%s: %w", m.ns, name, err)
	}
	m.put(ctx, inst)

	results := def.ResultTypes()
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return decode(out[0], results[0]), nil
	}
	vals := make([]any, len(results))
	for i, t := range results {
		vals[i] = decode(out[i], t)
	}
	return vals, nil
}

// Funcs returns a template function per export.
func (m *Module) Funcs() map[string]any {
	out := make(map[string]any, len(m.funcs))
	for name := range m.funcs {
		name := name
		out[name] = func(ctx context.Context, args ...any) (any, error) {
			return m.Call(ctx, name, args...)
		}
	}
	return out
}

// Register makes the exports reachable as `namespace.export(...)`.
func (m *Module) Register(r Registrar) error {
	return r.AddGlobal(m.ns, m.Funcs())
}

// Close releases the module and all its instances.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

func loadError(detail string, cause error) error {
	return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
		Detail("%s", detail).
		Cause(cause).
		Build()
}

func encode(v any, t api.ValueType) (uint64, error) {
	i, f, isFloat, ok := number(v)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	switch t {
	case api.ValueTypeI32:
		if isFloat {
			i = int64(f)
		}
		return api.EncodeI32(int32(i)), nil
	case api.ValueTypeI64:
		if isFloat {
			i = int64(f)
		}
		return api.EncodeI64(i), nil
	case api.ValueTypeF32:
		if !isFloat {
			f = float64(i)
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		if !isFloat {
			f = float64(i)
		}
		return api.EncodeF64(f), nil
	}
	return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
}

func decode(v uint64, t api.ValueType) any {
	switch t {
	case api.ValueTypeI32:
		return int(api.DecodeI32(v))
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	}
	return v
}

func number(v any) (i int64, f float64, isFloat, ok bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), 0, false, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), 0, false, true
	case reflect.Float32, reflect.Float64:
		return 0, rv.Float(), true, true
	case reflect.Bool:
		if rv.Bool() {
			return 1, 0, false, true
		}
		return 0, 0, false, true
	}
	return 0, 0, false, false
}
