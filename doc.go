// Package cascada renders templates whose independent parts run
// concurrently while their output keeps document order.
//
// A template is parsed, analyzed and compiled to a program once; the
// program is then rendered any number of times. Calls to Go functions,
// filters and lookups on asynchronous values run as soon as their inputs
// are available. Variable writes are counted so that every read sees the
// value it would see in a sequential render, and calls marked with `!` on
// a path run one after the other in source order:
//
//	{{ account!.deposit(10) }}
//	{{ account!.withdraw(5) }}
//
// # Quick Start
//
//	env := cascada.New(cascada.WithLoader(cascada.MapLoader{
//	    "hello": "Hello {{ fetchUser(id).name }}!",
//	}))
//	_ = env.AddFunc("fetchUser", fetchUser)
//
//	res, err := env.Render(ctx, "hello", map[string]any{"id": 7})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Text)
//
// # Failures
//
// A failed operation does not stop the render. Its failure travels with the
// values computed from it and with the output it should have produced;
// everything else renders normally. A guard block rolls back the variables
// and output of its body when something inside failed:
//
//	{% guard %}
//	  {% set total = fetchTotal() %}
//	{% recover %}
//	  {% set total = 0 %}
//	{% endguard %}
//
// Render returns every failure nobody recovered from, combined, together
// with the output produced.
//
// # Architecture Overview
//
//	cascada/          Environment, configuration, loaders, template cache
//	├── syntax/       Lexer and parser
//	├── ast/          Syntax tree
//	├── analysis/     Async propagation and sequence lock analysis
//	├── frame/        Compile-time frame model and write counting
//	├── compiler/     Emission of instructions with synchronization units
//	├── ir/           Compiled program representation
//	├── runtime/      Futures, runtime frames, buffers, handlers
//	├── errors/       Structured error types
//	├── extension/    Optional template function providers
//	└── cmd/cascada/  Command line renderer, playground and REPL
package cascada
