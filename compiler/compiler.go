// Package compiler lowers an analysed template syntax tree to [ir.Program].
//
// Compilation is a single depth-first pass. For every statement the compiler
// consults the analysis table: async statements are emitted as
// synchronization blocks whose read snapshot list and write-release map come
// from the compile-time frame arena, while synchronous statements are
// emitted inline. Conditionals and loops reserve patch slots for the writes
// of their other alternatives and fill them once every alternative has been
// compiled.
package compiler

import (
	"go.uber.org/zap"

	"github.com/geleto/cascada/analysis"
	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/errors"
	"github.com/geleto/cascada/frame"
	"github.com/geleto/cascada/ir"
)

// DefaultMaxWhileIterations bounds while loops when the config leaves the
// limit unset.
const DefaultMaxWhileIterations = 10000

// Config configures compilation.
type Config struct {
	// Template names the template in errors and in the program.
	Template string
	// Sync disables async compilation: no blocks, no read/write bookkeeping.
	Sync bool
	// AllAsync marks every node async instead of only suspension points.
	AllAsync bool
	// MaxWhileIterations bounds while loops at runtime.
	MaxWhileIterations int
}

// Compiler holds the state of one compilation.
//
// A Compiler is single use: create one per template.
type Compiler struct {
	template      string
	async         bool
	mode          analysis.Mode
	maxIterations int

	table   *analysis.Table
	locks   []string
	arena   *frame.Arena
	cur     frame.ID
	out     *[]ir.Instr
	bufs    bufferStack
	blocks  map[string]*ir.BlockDef
	extends bool
}

// New creates a compiler with the given config.
func New(cfg Config) *Compiler {
	mode := analysis.ModeOptimized
	switch {
	case cfg.Sync:
		mode = analysis.ModeSync
	case cfg.AllAsync:
		mode = analysis.ModeAll
	}
	maxIterations := cfg.MaxWhileIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxWhileIterations
	}
	return &Compiler{
		template:      cfg.Template,
		async:         !cfg.Sync,
		mode:          mode,
		maxIterations: maxIterations,
		blocks:        make(map[string]*ir.BlockDef),
	}
}

// Compile analyses and compiles root.
func Compile(root *ast.Root, cfg Config) (*ir.Program, error) {
	return New(cfg).Compile(root)
}

// Compile analyses and compiles root.
func (c *Compiler) Compile(root *ast.Root) (*ir.Program, error) {
	res, err := analysis.Analyze(root, analysis.Config{Template: c.template, Mode: c.mode})
	if err != nil {
		return nil, err
	}
	c.table = res.Table
	c.locks = res.Locks
	// declarations are tracked in both modes: includes and guards need them
	c.arena = frame.NewArena(true)
	c.cur = c.arena.Root()
	for _, key := range c.locks {
		c.arena.DeclareVar(c.arena.Root(), key)
	}

	var body []ir.Instr
	c.out = &body
	c.bufs.push()
	if err := c.stmts(root.Children); err != nil {
		return nil, errors.WithTemplate(err, c.template)
	}
	c.bufs.pop()

	async, wrapped := c.table.Count()
	Logger().Debug("compiled template",
		zap.String("template", c.template),
		zap.Bool("async", c.async),
		zap.Int("async_nodes", async),
		zap.Int("wrapped_nodes", wrapped),
		zap.Strings("locks", c.locks),
		zap.Int("frames", c.arena.Len()),
		zap.Int("blocks", len(c.blocks)),
	)

	return &ir.Program{
		Name:       c.template,
		Body:       body,
		Blocks:     c.blocks,
		Locks:      c.locks,
		Async:      c.async,
		HasExtends: c.extends,
	}, nil
}

// emit appends instructions to the list being built.
func (c *Compiler) emit(ins ...ir.Instr) {
	*c.out = append(*c.out, ins...)
}

// collect compiles fn into a fresh instruction list.
func (c *Compiler) collect(fn func() error) ([]ir.Instr, error) {
	saved := c.out
	var body []ir.Instr
	c.out = &body
	err := fn()
	c.out = saved
	return body, err
}

func (c *Compiler) at(n ast.Node) ir.At {
	return ir.At{Pos: n.Pos(), Context: ast.Describe(n), Async: c.table.IsAsync(n)}
}

// isAsync reports whether n must be emitted as its own block.
func (c *Compiler) isAsync(n ast.Node) bool {
	return c.async && c.table.IsAsync(n)
}

// bufferStack assigns ids to the output buffers the program will create, so
// listings show which buffer each block writes into.
type bufferStack struct {
	ids  []int
	next int
}

func (s *bufferStack) push() int {
	id := s.next
	s.next++
	s.ids = append(s.ids, id)
	return id
}

func (s *bufferStack) pop() {
	s.ids = s.ids[:len(s.ids)-1]
}

// current returns the innermost buffer, or -1 outside any buffer.
func (s *bufferStack) current() int {
	if len(s.ids) == 0 {
		return -1
	}
	return s.ids[len(s.ids)-1]
}
