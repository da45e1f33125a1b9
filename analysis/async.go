package analysis

import "github.com/geleto/cascada/ast"

// Mode selects how aggressively nodes are marked async.
type Mode uint8

const (
	// ModeOptimized forces async only at genuine suspension points.
	ModeOptimized Mode = iota
	// ModeAll marks every node async. Used for diagnostics.
	ModeAll
	// ModeSync marks every node synchronous.
	ModeSync
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeSync:
		return "sync"
	}
	return "optimized"
}

// suspends reports whether a node kind may suspend regardless of its children.
func suspends(n ast.Node) bool {
	switch n.(type) {
	case *ast.Symbol, *ast.LookupVal, *ast.FunCall, *ast.Filter, *ast.Is,
		*ast.Extends, *ast.Include, *ast.Import, *ast.FromImport,
		*ast.Super, *ast.Caller:
		return true
	}
	return false
}

// PropagateIsAsync marks n and its subtree in t, post-order, and returns
// whether n is async.
func PropagateIsAsync(n ast.Node, t *Table, mode Mode) bool {
	async := false
	for _, c := range ast.Children(n) {
		if PropagateIsAsync(c, t, mode) {
			async = true
		}
	}
	switch mode {
	case ModeSync:
		async = false
	case ModeAll:
		async = true
	default:
		if suspends(n) {
			async = true
		}
	}
	t.Get(n).Async = async
	return async
}
