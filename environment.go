package cascada

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/geleto/cascada/compiler"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/ir"
	"github.com/geleto/cascada/runtime"
	"github.com/geleto/cascada/syntax"
)

// Result is the output of a render: the text and the result of every other
// output handler the template wrote to.
type Result = runtime.Result

// Host is implemented by types whose exported methods become template
// functions under one namespace.
type Host = runtime.Host

// Handler receives the output commands addressed to one named output.
type Handler = runtime.Handler

// Environment compiles, caches and renders templates. It is safe for
// concurrent use once configured; functions, filters and handlers should be
// added before the first render.
type Environment struct {
	cfg    Config
	loader Loader
	rt     *runtime.Runtime

	mu    sync.Mutex
	cache map[string]*compiled
}

type compiled struct {
	once sync.Once
	prog *ir.Program
	err  error
}

// New creates an environment. Without a loader, templates are read from
// Config.Root when it is set.
func New(opts ...Option) *Environment {
	e := &Environment{
		cfg:   DefaultConfig(),
		cache: make(map[string]*compiled),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loader == nil && e.cfg.Root != "" {
		e.loader = NewFileSystemLoader(os.DirFS(e.cfg.Root), e.cfg.Extension)
	}
	e.rt = runtime.New(runtime.Config{LoopConcurrency: e.cfg.LoopConcurrency})
	return e
}

// Config returns the environment's configuration.
func (e *Environment) Config() Config {
	return e.cfg
}

// AddFunc registers a Go function callable from templates.
func (e *Environment) AddFunc(name string, fn any) error {
	return e.rt.RegisterFunc(name, fn)
}

// AddGlobal registers a value visible to every template.
func (e *Environment) AddGlobal(name string, v any) error {
	return e.rt.RegisterGlobal(name, v)
}

// AddFilter registers a filter. The filtered value is its first argument.
func (e *Environment) AddFilter(name string, fn any) error {
	return e.rt.RegisterFilter(name, fn)
}

// AddTest registers a test usable as `value is name`.
func (e *Environment) AddTest(name string, fn func(v any, args []any) (bool, error)) error {
	return e.rt.RegisterTest(name, fn)
}

// AddHandler registers an output handler reachable as `@name.method(...)`.
func (e *Environment) AddHandler(name string, factory func() Handler) error {
	return e.rt.RegisterHandler(name, factory)
}

// AddHost registers the exported methods of h under its namespace.
func (e *Environment) AddHost(h Host) error {
	return e.rt.RegisterHost(h)
}

// Compile compiles src under name without caching it.
func (e *Environment) Compile(name, src string) (*ir.Program, error) {
	root, err := syntax.Parse(name, src)
	if err != nil {
		return nil, errors.WithTemplate(err, name)
	}
	prog, err := compiler.Compile(root, compiler.Config{
		Template:           name,
		Sync:               !e.cfg.Async,
		AllAsync:           e.cfg.AllAsync,
		MaxWhileIterations: e.cfg.MaxWhileIterations,
	})
	if err != nil {
		return nil, errors.WithTemplate(err, name)
	}
	return prog, nil
}

// Load returns the compiled program of the named template, compiling it on
// first use.
func (e *Environment) Load(ctx context.Context, name string) (*ir.Program, error) {
	if e.loader == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "template", name)
	}

	e.mu.Lock()
	c, ok := e.cache[name]
	if !ok {
		c = &compiled{}
		e.cache[name] = c
	}
	e.mu.Unlock()

	c.once.Do(func() {
		src, err := e.loader.Source(name)
		if err != nil {
			c.err = err
			return
		}
		c.prog, c.err = e.Compile(name, src)
		Logger().Debug("template compiled",
			zap.String("template", name),
			zap.Bool("async", e.cfg.Async),
			zap.Error(c.err),
		)
	})
	if c.err != nil {
		// failures are not cached so a fixed template loads next time
		e.forget(name, c)
	}
	return c.prog, c.err
}

func (e *Environment) forget(name string, c *compiled) {
	e.mu.Lock()
	if e.cache[name] == c {
		delete(e.cache, name)
	}
	e.mu.Unlock()
}

// ClearCache drops every compiled template.
func (e *Environment) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*compiled)
	e.mu.Unlock()
}

// Render renders the named template with data as its context.
func (e *Environment) Render(ctx context.Context, name string, data map[string]any) (Result, error) {
	prog, err := e.Load(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return e.RenderProgram(ctx, prog, data)
}

// RenderString compiles and renders src. Templates it includes, imports or
// extends are read through the loader.
func (e *Environment) RenderString(ctx context.Context, src string, data map[string]any) (Result, error) {
	prog, err := e.Compile("<string>", src)
	if err != nil {
		return Result{}, err
	}
	return e.RenderProgram(ctx, prog, data)
}

// RenderProgram renders an already compiled program.
func (e *Environment) RenderProgram(ctx context.Context, prog *ir.Program, data map[string]any) (Result, error) {
	return e.rt.Render(ctx, prog, data, e)
}
