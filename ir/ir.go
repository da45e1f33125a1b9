// Package ir is the compiled form of a template.
//
// A [Program] is a tree of instructions ([Instr]) and expressions ([Expr])
// that the runtime executes directly. Synchronization is explicit: every
// unit that may run concurrently with its siblings is a [Block] (or a
// [ValueBlock]/[RenderBlock] expression) carrying a [FrameSpec] with the
// names it snapshots on entry and the writes it releases to its parent.
// Places whose content is known only after later siblings are compiled are
// reserved as [Patch] slots and filled in afterwards.
package ir

import (
	"github.com/geleto/cascada/ast"
	"github.com/geleto/cascada/frame"
)

// Shape selects how a block delivers its result.
type Shape uint8

const (
	// ShapeBlock runs a side effect; nothing is produced.
	ShapeBlock Shape = iota
	// ShapeValue produces one awaited value.
	ShapeValue
	// ShapeRender renders into a private buffer and produces its text.
	ShapeRender
	// ShapeAddToBuffer renders into a slot reserved in the current buffer.
	ShapeAddToBuffer
)

func (s Shape) String() string {
	switch s {
	case ShapeValue:
		return "value"
	case ShapeRender:
		return "render"
	case ShapeAddToBuffer:
		return "add-to-buffer"
	}
	return "block"
}

// At locates the construct an instruction was compiled from. Context is a
// short description used in runtime error messages.
type At struct {
	Pos     ast.Pos
	Context string
	Async   bool
}

// Loc returns the location itself; it lets callers reach At through any
// node embedding it.
func (a *At) Loc() *At { return a }

// FrameSpec describes the runtime frame a unit opens.
type FrameSpec struct {
	// Reads are snapshotted from the parent frame on entry.
	Reads []string
	// Writes counts the writes the unit performs for each outer name.
	Writes      frame.Counts
	CreateScope bool
	Isolate     bool
}

// Instr is a statement-level instruction.
type Instr interface {
	Op() string
}

// Expr is an expression.
type Expr interface {
	Op() string
}

// Patch is a slot reserved during emission and filled once the information
// it depends on is available.
type Patch struct {
	Fill []Instr
}

func (*Patch) Op() string { return "patch" }

// Text writes literal template text to the text handler.
type Text struct {
	Value string
}

// Output writes the value of Expr to the text handler.
type Output struct {
	At
	Expr Expr
}

// Command sends a method call to a named output handler.
type Command struct {
	At
	Handler string
	Method  string
	Args    []Expr
}

// Set assigns Value to every name in Names. Declare makes the names local to
// the nearest scope instead of updating an outer variable.
type Set struct {
	At
	Names   []string
	Value   Expr
	Declare bool
}

// Do evaluates expressions for their side effects.
type Do struct {
	At
	Exprs []Expr
}

// Block is a synchronization unit: it opens Frame, runs Body and, when
// Async, does so concurrently with the instructions after it.
type Block struct {
	At
	Shape Shape
	Frame FrameSpec
	Body  []Instr
	// Handlers receive a poison marker when the body fails.
	Handlers []string
	// Buffer and Parent identify the output buffers for debugging output.
	Buffer int
	Parent int
}

// SkipWrites counts down writes that the taken path will never perform.
type SkipWrites struct {
	Counts frame.Counts
}

// Branch is one alternative of a conditional or a loop body.
type Branch struct {
	// Skip is filled with the writes of every other alternative.
	Skip  *Patch
	Frame FrameSpec
	Body  []Instr
	// Writes reports, per name, whether the branch writes it at all.
	Writes frame.Counts
}

// Failure lists what a construct poisons when its controlling expression
// fails: the combined writes of all alternatives and their handlers.
type Failure struct {
	Writes   frame.Counts
	Handlers []string
}

// If selects Then or Else.
type If struct {
	At
	Cond Expr
	Then *Branch
	Else *Branch
	Failure
}

// Case is one arm of a Switch.
type Case struct {
	Cond Expr
	*Branch
}

// Switch selects the first case equal to Expr. Cases are tested in order.
type Switch struct {
	At
	Expr    Expr
	Cases   []*Case
	Default *Branch
	Failure
}

// For iterates Iter. Frame is the loop frame collecting the writes of body
// and else. Body frames are opened per iteration and report their writes to
// the loop frame without counting it down; the loop counts the body down
// once after the last iteration.
type For struct {
	At
	Frame      FrameSpec
	Targets    []string
	Iter       Expr
	Limit      Expr
	Body       *Branch
	Else       *Branch
	Sequential bool
	Failure
}

// While repeats Body while Cond, which is evaluated inside the body frame,
// holds.
type While struct {
	At
	Frame         FrameSpec
	Cond          Expr
	Body          *Branch
	MaxIterations int
	Failure
}

// Guard runs Body and, when any guarded variable or handler ends up
// poisoned, restores the variables, discards the handlers' output and runs
// Recover.
type Guard struct {
	At
	Body     *Branch
	Recover  *Branch
	Vars     []string
	Handlers []string
	// All is set when the guard protects everything its body does.
	All bool
}

// Param is a macro or caller parameter.
type Param struct {
	Name    string
	Default Expr
}

// Macro defines a macro in the current frame.
type Macro struct {
	At
	Name   string
	Params []Param
	Frame  FrameSpec
	Body   []Instr
}

// Include renders another template in place.
type Include struct {
	At
	Template      Expr
	IgnoreMissing bool
	// Vars lists the template variables visible at the include.
	Vars []string
}

// Extends sets the parent template.
type Extends struct {
	At
	Template Expr
}

// BlockCall renders the most derived definition of a named block.
type BlockCall struct {
	At
	Name string
}

// Import binds the exports of Template to Target.
type Import struct {
	At
	Template Expr
	Target   string
}

// ImportName is one `name as alias` of a FromImport.
type ImportName struct {
	Name  string
	Alias string
}

// FromImport binds selected exports of Template.
type FromImport struct {
	At
	Template Expr
	Names    []ImportName
}

func (*Text) Op() string       { return "text" }
func (*Output) Op() string     { return "output" }
func (*Command) Op() string    { return "command" }
func (*Set) Op() string        { return "set" }
func (*Do) Op() string         { return "do" }
func (*Block) Op() string      { return "block" }
func (*SkipWrites) Op() string { return "skip-writes" }
func (*If) Op() string         { return "if" }
func (*Switch) Op() string     { return "switch" }
func (*For) Op() string        { return "for" }
func (*While) Op() string      { return "while" }
func (*Guard) Op() string      { return "guard" }
func (*Macro) Op() string      { return "macro" }
func (*Include) Op() string    { return "include" }
func (*Extends) Op() string    { return "extends" }
func (*BlockCall) Op() string  { return "block-call" }
func (*Import) Op() string     { return "import" }
func (*FromImport) Op() string { return "from-import" }

// Const is a literal value.
type Const struct {
	Value any
}

// Load reads a variable. WaitLock names a sequence lock that must be
// released before the read.
type Load struct {
	At
	Name     string
	WaitLock string
}

// Member reads Target[Key].
type Member struct {
	At
	Target   Expr
	Key      Expr
	WaitLock string
}

// KeyValue is a dictionary entry or keyword argument.
type KeyValue struct {
	Key   Expr
	Value Expr
}

// Call invokes Callee. Lock names the sequence lock the call acquires.
type Call struct {
	At
	Callee Expr
	Args   []Expr
	Kwargs []KeyValue
	Lock   string
}

// Filter applies a named filter.
type Filter struct {
	At
	Name   string
	Target Expr
	Args   []Expr
}

// Binary is a binary operator.
type Binary struct {
	At
	Operator string
	Left     Expr
	Right    Expr
}

// Unary is a unary operator.
type Unary struct {
	At
	Operator string
	Operand  Expr
}

// Cond is `Then if Cond else Else`.
type Cond struct {
	At
	Cond Expr
	Then Expr
	Else Expr
}

// List is a list literal.
type List struct {
	At
	Items []Expr
}

// Dict is a dictionary literal.
type Dict struct {
	At
	Pairs []KeyValue
}

// Test applies a named test.
type Test struct {
	At
	Name   string
	Target Expr
	Args   []Expr
}

// ValueBlock evaluates Expr in its own synchronization unit.
type ValueBlock struct {
	At
	Frame FrameSpec
	Expr  Expr
}

// RenderBlock renders Body into a private buffer and yields the text.
type RenderBlock struct {
	At
	Frame  FrameSpec
	Body   []Instr
	Buffer int
}

// CallerFunc builds the `caller` callable of a call block.
type CallerFunc struct {
	At
	Params []Param
	Frame  FrameSpec
	Body   []Instr
}

// Super renders the parent definition of the enclosing block.
type Super struct {
	At
	Block string
}

func (*Const) Op() string       { return "const" }
func (*Load) Op() string        { return "load" }
func (*Member) Op() string      { return "member" }
func (*Call) Op() string        { return "call" }
func (*Filter) Op() string      { return "filter" }
func (*Binary) Op() string      { return "binary" }
func (*Unary) Op() string       { return "unary" }
func (*Cond) Op() string        { return "cond" }
func (*List) Op() string        { return "list" }
func (*Dict) Op() string        { return "dict" }
func (*Test) Op() string        { return "test" }
func (*ValueBlock) Op() string  { return "value-block" }
func (*RenderBlock) Op() string { return "render-block" }
func (*CallerFunc) Op() string  { return "caller" }
func (*Super) Op() string       { return "super" }

// BlockDef is one definition of an overridable block.
type BlockDef struct {
	At
	Name  string
	Frame FrameSpec
	Body  []Instr
}

// Program is a compiled template.
type Program struct {
	Name string
	Body []Instr
	// Blocks holds the template's own block definitions by name.
	Blocks map[string]*BlockDef
	// Locks lists every sequence lock key, declared at the root frame.
	Locks []string
	// Async is false when the program was compiled for synchronous
	// execution.
	Async bool
	// HasExtends is set when the template contains an extends tag; its
	// top-level output is then replaced by the parent's.
	HasExtends bool
}
