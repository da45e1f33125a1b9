package compiler

import (
	"sort"
	"strings"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/frame"
)

// TextHandler is the implicit handler receiving template text and
// interpolated values.
const TextHandler = "text"

// DataHandler is the built-in structured output handler.
const DataHandler = "data"

// collectBranchHandlers returns, sorted, every output handler the subtree n
// may write to. Capture, macro and caller bodies render into values rather
// than the surrounding output and are skipped.
func collectBranchHandlers(n ast.Node) []string {
	seen := make(map[string]bool)
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		switch s := n.(type) {
		case *ast.Output, *ast.Include:
			seen[TextHandler] = true
			return
		case *ast.Block:
			seen[TextHandler] = true
		case *ast.OutputCommand:
			seen[s.Handler] = true
			return
		case *ast.Set, *ast.Macro, *ast.Caller:
			return
		}
		for _, c := range ast.Children(n) {
			walk(c)
		}
	}
	walk(n)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// visibleVars returns every template variable declared in the current frame
// or above it.
func (c *Compiler) visibleVars() []string {
	seen := make(map[string]bool)
	for f := c.cur; f != frame.None; f = c.arena.Parent(f) {
		for name := range c.arena.Get(f).Declared {
			if !strings.HasPrefix(name, frame.LockPrefix) {
				seen[name] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
