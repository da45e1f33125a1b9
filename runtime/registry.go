package runtime

import (
	"reflect"
	"sync"

	"github.com/geleto/cascada/errors"
)

// Host is implemented by types whose exported methods become template
// functions under one namespace. Method names are converted from CamelCase
// to snake_case (GetUser -> get_user).
type Host interface {
	// Namespace returns the global name the methods are reachable under.
	Namespace() string
}

// Registry holds the names a template reaches besides its context: global
// values and functions, filters, tests and output handlers.
type Registry struct {
	mu       sync.RWMutex
	globals  map[string]any
	filters  map[string]any
	tests    map[string]TestFunc
	handlers map[string]HandlerFactory
}

// NewRegistry returns a registry holding the built-in filters, tests and
// the data handler.
func NewRegistry() *Registry {
	r := &Registry{
		globals:  make(map[string]any),
		filters:  make(map[string]any),
		tests:    make(map[string]TestFunc),
		handlers: map[string]HandlerFactory{DataHandler: NewDataHandler},
	}
	for name, fn := range builtinFilters {
		r.filters[name] = fn
	}
	for name, fn := range builtinTests {
		r.tests[name] = fn
	}
	return r
}

// RegisterHost registers every exported method of h, except Namespace, as a
// function reachable as `namespace.method_name(...)`.
func (r *Registry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseConfig, "namespace cannot be empty")
	}

	funcs := make(map[string]any)
	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if !m.IsExported() || m.Name == "Namespace" {
			continue
		}
		funcs[templateName(m.Name)] = rv.Method(i).Interface()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.globals[ns].(map[string]any); ok {
		for name, fn := range funcs {
			existing[name] = fn
		}
		return nil
	}
	r.globals[ns] = funcs
	return nil
}

// RegisterFunc registers a global function.
func (r *Registry) RegisterFunc(name string, fn any) error {
	if err := checkFunc(name, fn); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[name] = fn
	return nil
}

// RegisterGlobal registers a global value.
func (r *Registry) RegisterGlobal(name string, v any) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseConfig, "global name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[name] = v
	return nil
}

// RegisterFilter registers a filter. The filtered value is passed as the
// first argument, followed by the filter's own arguments.
func (r *Registry) RegisterFilter(name string, fn any) error {
	if err := checkFunc(name, fn); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = fn
	return nil
}

// RegisterTest registers a test usable as `value is name(args)`.
func (r *Registry) RegisterTest(name string, fn TestFunc) error {
	if name == "" || fn == nil {
		return errors.InvalidInput(errors.PhaseConfig, "test needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[name] = fn
	return nil
}

// RegisterHandler registers an output handler factory.
func (r *Registry) RegisterHandler(name string, factory HandlerFactory) error {
	if name == "" || factory == nil {
		return errors.InvalidInput(errors.PhaseConfig, "handler needs a name and a factory")
	}
	if name == TextHandler {
		return errors.InvalidInput(errors.PhaseConfig, "the text handler cannot be replaced")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = factory
	return nil
}

func (r *Registry) global(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.globals[name]
	return v, ok
}

func (r *Registry) filter(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.filters[name]
	return fn, ok
}

func (r *Registry) test(name string) (TestFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tests[name]
	return fn, ok
}

func (r *Registry) handlerFactories() map[string]HandlerFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HandlerFactory, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = v
	}
	return out
}

func checkFunc(name string, fn any) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseConfig, "function name cannot be empty")
	}
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return errors.New(errors.PhaseConfig, errors.KindTypeMismatch).
			Context(name).
			Detail("must be a function, got %s", typeName(fn)).
			Build()
	}
	return nil
}
