package analysis

import (
	"sort"
	"strings"

	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/frame"
)

// Config configures an analysis run.
type Config struct {
	// Template names the template in error messages.
	Template string
	Mode     Mode
}

// Analyzer runs the lock passes over one template.
//
// The analyzer is single use: create one per parsed template.
type Analyzer struct {
	table    *Table
	locks    map[string]bool
	tmplVars map[string]bool
	template string
	mode     Mode
}

// New creates an analyzer writing into t.
func New(cfg Config, t *Table) *Analyzer {
	return &Analyzer{
		table:    t,
		locks:    make(map[string]bool),
		tmplVars: make(map[string]bool),
		template: cfg.Template,
		mode:     cfg.Mode,
	}
}

// Result is the outcome of [Analyze].
type Result struct {
	Table *Table
	// Locks lists every lock key defined by a marked call, sorted.
	Locks []string
}

// Analyze runs async propagation and lock analysis over root.
//
// The pipeline:
//  1. Mark async nodes
//  2. Collect and validate every sequence lock
//  3. Classify lock activity per subtree
//  4. Decide which subtrees are wrapped in their own block
func Analyze(root ast.Node, cfg Config) (*Result, error) {
	t := NewTableFor(root)
	PropagateIsAsync(root, t, cfg.Mode)

	a := New(cfg, t)
	locks, err := a.CollectSequenceLocks(root)
	if err != nil {
		return nil, err
	}
	if _, err := a.CollectSequenceKeysAndOperations(root, ""); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeSync {
		a.AssignAsyncWrappersAndReleases(root)
	}
	return &Result{Table: t, Locks: locks}, nil
}

func (a *Analyzer) seqError(n ast.Node, detail string) error {
	p := n.Pos()
	err := errors.Sequence(p.Line, p.Col, ast.Describe(n), detail)
	err.Template = a.template
	return err
}

// markedInPath returns the marked segment of the Symbol/LookupVal chain
// starting at n, following targets only.
func markedInPath(n ast.Node) ast.Node {
	for {
		switch c := n.(type) {
		case *ast.Symbol:
			if c.Sequence {
				return c
			}
			return nil
		case *ast.LookupVal:
			if c.Sequence {
				return c
			}
			n = c.Target
		default:
			return nil
		}
	}
}

func isMarked(n ast.Node) bool {
	switch c := n.(type) {
	case *ast.Symbol:
		return c.Sequence
	case *ast.LookupVal:
		return c.Sequence
	}
	return false
}

// LockKey returns the key of the lock named by the marked segment n, e.g.
// `a.b!` yields "!a!b". Every segment up to and including the marker must be
// static, the path must start at a context variable, and only one segment
// may carry a marker.
func (a *Analyzer) LockKey(n ast.Node) (string, error) {
	var names []string
	cur := n
	for {
		switch c := cur.(type) {
		case *ast.Symbol:
			if c != n && c.Sequence {
				return "", a.seqError(n, "a path can carry only one sequence marker")
			}
			if a.tmplVars[c.Name] {
				return "", a.seqError(n, "sequence marker path must start at a context variable, "+
					"but \""+c.Name+"\" is a template variable")
			}
			names = append(names, c.Name)
			for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
				names[i], names[j] = names[j], names[i]
			}
			return frame.LockPrefix + strings.Join(names, frame.LockPrefix), nil
		case *ast.LookupVal:
			if c != n && c.Sequence {
				return "", a.seqError(n, "a path can carry only one sequence marker")
			}
			lit, ok := c.Key.(*ast.Literal)
			s, isStr := "", false
			if ok {
				s, isStr = lit.Value.(string)
			}
			if !isStr {
				if c == n {
					return "", a.seqError(n, "sequence marker on a dynamic path segment")
				}
				return "", a.seqError(n, "sequence marker path contains a dynamic segment")
			}
			names = append(names, s)
			cur = c.Target
		default:
			return "", a.seqError(n, "sequence marker path must start at a context variable")
		}
	}
}

// CollectSequenceLocks walks the whole tree, registers the key of every
// lock-acquiring call and checks that every other marked path refers to a
// registered key. Marker use inside a macro is rejected.
func (a *Analyzer) CollectSequenceLocks(root ast.Node) ([]string, error) {
	ast.Inspect(root, func(n ast.Node) bool {
		switch c := n.(type) {
		case *ast.Set:
			for _, s := range c.Targets {
				a.tmplVars[s.Name] = true
			}
		case *ast.Var:
			for _, s := range c.Names {
				a.tmplVars[s.Name] = true
			}
		case *ast.For:
			for _, s := range c.Targets {
				a.tmplVars[s.Name] = true
			}
		case *ast.Macro:
			a.tmplVars[c.Name] = true
			for _, p := range c.Params {
				a.tmplVars[p.Name] = true
			}
		case *ast.Import:
			a.tmplVars[c.Target] = true
		case *ast.FromImport:
			for _, in := range c.Names {
				a.tmplVars[in.Alias] = true
			}
		}
		return true
	})

	callMarkers := make(map[ast.Node]bool)
	var firstErr error
	var walk func(n ast.Node, inMacro bool)
	walk = func(n ast.Node, inMacro bool) {
		if firstErr != nil {
			return
		}
		if _, ok := n.(*ast.Macro); ok {
			inMacro = true
		}
		if inMacro && isMarked(n) {
			firstErr = a.seqError(n, "sequence markers are not supported inside macros")
			return
		}
		if call, ok := n.(*ast.FunCall); ok {
			if marked := markedInPath(call.Name); marked != nil {
				key, err := a.LockKey(marked)
				if err != nil {
					firstErr = err
					return
				}
				a.locks[key] = true
				callMarkers[marked] = true
			}
		}
		for _, c := range ast.Children(n) {
			walk(c, inMacro)
		}
	}
	walk(root, false)
	if firstErr != nil {
		return nil, firstErr
	}

	ast.Inspect(root, func(n ast.Node) bool {
		if firstErr != nil || !isMarked(n) || callMarkers[n] {
			return firstErr == nil
		}
		key, err := a.LockKey(n)
		if err != nil {
			firstErr = err
			return false
		}
		if !a.locks[key] {
			p := n.Pos()
			e := errors.UndefinedLock(p.Line, p.Col, key)
			e.Template = a.template
			e.Context = ast.Describe(n)
			firstErr = e
			return false
		}
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}

	keys := make([]string, 0, len(a.locks))
	for k := range a.locks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Declared reports whether key was registered by CollectSequenceLocks.
func (a *Analyzer) Declared(key string) bool {
	return a.locks[key]
}

// pathLockKey returns the declared lock whose key equals the static path of
// an unmarked Symbol/LookupVal.
func (a *Analyzer) pathLockKey(n ast.Node) string {
	path, ok := ast.StaticPath(n)
	if !ok {
		return ""
	}
	key := frame.LockPrefix + strings.Join(path, frame.LockPrefix)
	if a.locks[key] {
		return key
	}
	return ""
}

// CollectSequenceKeysAndOperations classifies the lock activity of every
// subtree under n and stores it in the table. exclude names the key locked
// by an enclosing call whose name path is being visited; reads of it there
// are the call itself and not a wait.
func (a *Analyzer) CollectSequenceKeysAndOperations(n ast.Node, exclude string) (Ops, error) {
	m := a.table.Get(n)
	ops := make(Ops)

	switch c := n.(type) {
	case *ast.FunCall:
		if marked := markedInPath(c.Name); marked != nil {
			key, err := a.LockKey(marked)
			if err != nil {
				return nil, err
			}
			m.LockKey = key
			m.CallLocked = true
			m.Own = true
			ops[key] = OpLock
		}
		for _, child := range ast.Children(n) {
			ex := exclude
			if child == c.Name && m.CallLocked {
				ex = m.LockKey
			}
			sub, err := a.CollectSequenceKeysAndOperations(child, ex)
			if err != nil {
				return nil, err
			}
			mergeOps(ops, sub)
		}
	case *ast.Symbol, *ast.LookupVal:
		key := ""
		if isMarked(n) {
			k, err := a.LockKey(n)
			if err != nil {
				return nil, err
			}
			key = k
		} else {
			key = a.pathLockKey(n)
		}
		if key != "" && key != exclude {
			m.LockKey = key
			m.Own = true
			ops[key] = OpPath
		}
		for _, child := range ast.Children(n) {
			ex := exclude
			if lv, ok := n.(*ast.LookupVal); ok && child == lv.Key {
				ex = ""
			}
			sub, err := a.CollectSequenceKeysAndOperations(child, ex)
			if err != nil {
				return nil, err
			}
			mergeOps(ops, sub)
		}
	default:
		for _, child := range ast.Children(n) {
			sub, err := a.CollectSequenceKeysAndOperations(child, exclude)
			if err != nil {
				return nil, err
			}
			mergeOps(ops, sub)
		}
	}

	if len(ops) > 0 {
		m.Ops = ops
	} else {
		m.Ops = nil
	}
	return ops, nil
}

func mergeOps(dst, src Ops) {
	for k, v := range src {
		dst[k] = merge(dst[k], v)
	}
}

// isStatement reports whether n is a statement rather than an expression.
// Statements are never wrapped; their expression children are.
func isStatement(n ast.Node) bool {
	switch n.(type) {
	case *ast.Literal, *ast.Symbol, *ast.LookupVal, *ast.FunCall, *ast.Filter,
		*ast.BinOp, *ast.UnaryOp, *ast.InlineIf, *ast.Array, *ast.Dict,
		*ast.Pair, *ast.Is, *ast.Super:
		return false
	}
	return true
}

// AssignAsyncWrappersAndReleases decides, top-down, which expression
// subtrees get their own synchronization block:
//   - a node without own lock activity and a single child carrying
//     activity defers to that child
//   - a lock-acquiring call is wrapped, and so is every argument subtree
//     that locks or contends
//   - a node whose activity is only path waits is wrapped as a whole
//   - otherwise every child carrying activity is handled separately
func (a *Analyzer) AssignAsyncWrappersAndReleases(n ast.Node) {
	m := a.table.Get(n)
	if len(m.Ops) == 0 {
		return
	}
	children := a.childrenWithOps(n)
	if isStatement(n) {
		for _, c := range children {
			a.AssignAsyncWrappersAndReleases(c)
		}
		return
	}
	if !m.Own && len(children) == 1 {
		a.AssignAsyncWrappersAndReleases(children[0])
		return
	}
	if m.CallLocked {
		m.Wrap = true
		for _, c := range children {
			if locksOrContends(a.table.Get(c).Ops) {
				a.AssignAsyncWrappersAndReleases(c)
			}
		}
		return
	}
	if onlyPaths(m.Ops) {
		m.Wrap = true
		return
	}
	for _, c := range children {
		a.AssignAsyncWrappersAndReleases(c)
	}
}

func (a *Analyzer) childrenWithOps(n ast.Node) []ast.Node {
	var out []ast.Node
	for _, c := range ast.Children(n) {
		if len(a.table.Get(c).Ops) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func locksOrContends(ops Ops) bool {
	for _, op := range ops {
		if op == OpLock || op == OpContended {
			return true
		}
	}
	return false
}

func onlyPaths(ops Ops) bool {
	for _, op := range ops {
		if op != OpPath {
			return false
		}
	}
	return true
}
