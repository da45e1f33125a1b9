// Package runtime executes compiled template programs.
//
// # Quick Start
//
//	prog, err := compiler.Compile(root, compiler.Config{Template: "page.njk"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt := runtime.New(runtime.Config{})
//	rt.RegisterFunc("fetchUser", func(ctx context.Context, id int) (User, error) {
//	    return db.User(ctx, id)
//	})
//
//	res, err := rt.Render(ctx, prog, map[string]any{"id": 7}, nil)
//	fmt.Println(res.Text)
//
// # Scheduling
//
// Every block of an async program runs in its own goroutine. Values are
// [Future]s: an expression launches its operands in source order, then
// waits for them in a goroutine of its own, so independent calls are in
// flight at the same time. A [Tracker] counts the goroutines started under
// a render, a guard or a captured body so the caller can wait for all of
// them before reading the output.
//
// # Frames
//
// Runtime frames mirror the frames the compiler pushed. Entering a frame
// snapshots the variables the unit reads and installs, in the parent, a
// future for every variable the unit writes. The future resolves when the
// unit has performed all of its counted writes, or skipped the ones a branch
// not taken would have made, so later readers see exactly one value and
// never a sibling's intermediate state.
//
// # Output
//
// Output goes into nested [Buffer]s. A unit reserves its slot in the parent
// buffer before it starts, which keeps document order independent of
// completion order. Failures are recorded as [PoisonMarker]s for the
// handlers the failing unit could have written to; a guard strips them,
// otherwise they surface as the render error.
//
// # Handlers
//
// Text goes to the implicit "text" handler. The built-in "data" handler
// assembles a structured value from set, push and merge commands. Other
// handlers are registered with [Runtime.RegisterHandler].
package runtime
