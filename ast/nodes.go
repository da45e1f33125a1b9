// Package ast defines the template syntax tree consumed by the compiler.
//
// The node set is closed: every kind is listed in [Kind] and handled by
// [Children]. Nodes are immutable after parsing except for their [NodeID],
// which [Number] assigns so analysis passes can keep per-node results in a
// side table instead of on the nodes themselves.
package ast

import "strconv"

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return strconv.Itoa(p.Line) + ":" + strconv.Itoa(p.Col)
}

// NodeID indexes a node in analysis side tables. Zero means unnumbered.
type NodeID int

// Node is implemented by every syntax tree node.
type Node interface {
	Kind() Kind
	Pos() Pos
	ID() NodeID
	setID(NodeID)
}

type base struct {
	P  Pos
	id NodeID
}

func (b *base) Pos() Pos        { return b.P }
func (b *base) ID() NodeID      { return b.id }
func (b *base) setID(id NodeID) { b.id = id }

// SetPos records the source position of a node.
func (b *base) SetPos(p Pos) { b.P = p }

// Kind identifies a node variant.
type Kind uint8

const (
	KindRoot Kind = iota
	KindNodeList
	KindTemplateData
	KindOutput
	KindLiteral
	KindSymbol
	KindLookupVal
	KindFunCall
	KindFilter
	KindBinOp
	KindUnaryOp
	KindInlineIf
	KindArray
	KindDict
	KindPair
	KindIs
	KindIf
	KindSwitch
	KindCase
	KindFor
	KindWhile
	KindSet
	KindVar
	KindDo
	KindMacro
	KindCaller
	KindInclude
	KindExtends
	KindBlock
	KindSuper
	KindImport
	KindFromImport
	KindGuard
	KindOutputCommand
)

var kindNames = [...]string{
	KindRoot:          "Root",
	KindNodeList:      "NodeList",
	KindTemplateData:  "TemplateData",
	KindOutput:        "Output",
	KindLiteral:       "Literal",
	KindSymbol:        "Symbol",
	KindLookupVal:     "LookupVal",
	KindFunCall:       "FunCall",
	KindFilter:        "Filter",
	KindBinOp:         "BinOp",
	KindUnaryOp:       "UnaryOp",
	KindInlineIf:      "InlineIf",
	KindArray:         "Array",
	KindDict:          "Dict",
	KindPair:          "Pair",
	KindIs:            "Is",
	KindIf:            "If",
	KindSwitch:        "Switch",
	KindCase:          "Case",
	KindFor:           "For",
	KindWhile:         "While",
	KindSet:           "Set",
	KindVar:           "Var",
	KindDo:            "Do",
	KindMacro:         "Macro",
	KindCaller:        "Caller",
	KindInclude:       "Include",
	KindExtends:       "Extends",
	KindBlock:         "Block",
	KindSuper:         "Super",
	KindImport:        "Import",
	KindFromImport:    "FromImport",
	KindGuard:         "Guard",
	KindOutputCommand: "OutputCommand",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Root is the top of a parsed template.
type Root struct {
	base
	Children []Node
}

// NodeList is a sequence of statements forming a body.
type NodeList struct {
	base
	Children []Node
}

// TemplateData is literal template text between tags.
type TemplateData struct {
	base
	Value string
}

// Output writes each child to the text handler: TemplateData or an expression.
type Output struct {
	base
	Children []Node
}

// Literal is a constant: string, int, float64, bool or nil.
type Literal struct {
	base
	Value any
}

// Symbol is a bare name. Sequence is set when the name carries the `!` marker.
type Symbol struct {
	base
	Name     string
	Sequence bool
}

// LookupVal is `Target.Key` or `Target[Key]`. Sequence is set when the
// segment carries the `!` marker.
type LookupVal struct {
	base
	Target   Node
	Key      Node
	Sequence bool
}

// FunCall calls Name with positional and keyword arguments.
type FunCall struct {
	base
	Name   Node
	Args   []Node
	Kwargs []*Pair
}

// Filter applies a named filter to Target.
type Filter struct {
	base
	Name   string
	Target Node
	Args   []Node
}

// BinOp is a binary operator: arithmetic, comparison, `and`, `or`, `in`, `~`.
type BinOp struct {
	base
	Op    string
	Left  Node
	Right Node
}

// UnaryOp is `not x` or `-x`.
type UnaryOp struct {
	base
	Op      string
	Operand Node
}

// InlineIf is `Body if Cond else Else`.
type InlineIf struct {
	base
	Cond Node
	Body Node
	Else Node
}

// Array is a list literal.
type Array struct {
	base
	Items []Node
}

// Dict is a dictionary literal.
type Dict struct {
	base
	Pairs []*Pair
}

// Pair is a dictionary entry or keyword argument.
type Pair struct {
	base
	Key   Node
	Value Node
}

// Is applies a test: `Target is Test(Args...)`.
type Is struct {
	base
	Target Node
	Test   string
	Args   []Node
}

// If is a conditional statement. Else is nil, a *NodeList or an *If (elif).
type If struct {
	base
	Cond Node
	Body *NodeList
	Else Node
}

// Switch selects the first Case whose Cond equals Expr.
type Switch struct {
	base
	Expr    Node
	Cases   []*Case
	Default *NodeList
}

// Case is one arm of a Switch.
type Case struct {
	base
	Cond Node
	Body *NodeList
}

// For iterates Iter. Limit, when set, bounds concurrent iterations.
type For struct {
	base
	Targets []*Symbol
	Iter    Node
	Body    *NodeList
	Else    *NodeList
	Limit   Node
}

// While repeats Body while Cond is truthy.
type While struct {
	base
	Cond Node
	Body *NodeList
}

// Set assigns Value, or the rendered Body when Value is nil, to Targets.
type Set struct {
	base
	Targets []*Symbol
	Value   Node
	Body    *NodeList
}

// Var declares Names in the current scope, shadowing outer variables.
type Var struct {
	base
	Names []*Symbol
	Value Node
}

// Do evaluates expressions for their side effects.
type Do struct {
	base
	Exprs []Node
}

// Param is a macro or caller parameter.
type Param struct {
	Name    string
	Default Node
}

// Macro defines a callable template fragment.
type Macro struct {
	base
	Name   string
	Params []*Param
	Body   *NodeList
}

// Caller is the body of a `{% call %}` block, passed to the macro as `caller`.
type Caller struct {
	base
	Params []*Param
	Body   *NodeList
}

// Include renders another template in place.
type Include struct {
	base
	Template      Node
	IgnoreMissing bool
}

// Extends makes Template the parent of the current template.
type Extends struct {
	base
	Template Node
}

// Block is an overridable named section.
type Block struct {
	base
	Name string
	Body *NodeList
}

// Super renders the parent definition of the enclosing block.
type Super struct {
	base
	Block string
}

// Import binds the exports of Template to Target.
type Import struct {
	base
	Template Node
	Target   string
}

// ImportName is one `name [as alias]` of a FromImport.
type ImportName struct {
	Name  string
	Alias string
}

// FromImport binds selected exports of Template.
type FromImport struct {
	base
	Template Node
	Names    []*ImportName
}

// Guard runs Body transactionally. Handlers and Vars restrict what the guard
// protects; both empty means everything Body writes.
type Guard struct {
	base
	Handlers []string
	Vars     []string
	Body     *NodeList
	Recover  *NodeList
}

// OutputCommand sends `@Handler.Method(Args...)` to a named output handler.
type OutputCommand struct {
	base
	Handler string
	Method  string
	Args    []Node
}

func (*Root) Kind() Kind          { return KindRoot }
func (*NodeList) Kind() Kind      { return KindNodeList }
func (*TemplateData) Kind() Kind  { return KindTemplateData }
func (*Output) Kind() Kind        { return KindOutput }
func (*Literal) Kind() Kind       { return KindLiteral }
func (*Symbol) Kind() Kind        { return KindSymbol }
func (*LookupVal) Kind() Kind     { return KindLookupVal }
func (*FunCall) Kind() Kind       { return KindFunCall }
func (*Filter) Kind() Kind        { return KindFilter }
func (*BinOp) Kind() Kind         { return KindBinOp }
func (*UnaryOp) Kind() Kind       { return KindUnaryOp }
func (*InlineIf) Kind() Kind      { return KindInlineIf }
func (*Array) Kind() Kind         { return KindArray }
func (*Dict) Kind() Kind          { return KindDict }
func (*Pair) Kind() Kind          { return KindPair }
func (*Is) Kind() Kind            { return KindIs }
func (*If) Kind() Kind            { return KindIf }
func (*Switch) Kind() Kind        { return KindSwitch }
func (*Case) Kind() Kind          { return KindCase }
func (*For) Kind() Kind           { return KindFor }
func (*While) Kind() Kind         { return KindWhile }
func (*Set) Kind() Kind           { return KindSet }
func (*Var) Kind() Kind           { return KindVar }
func (*Do) Kind() Kind            { return KindDo }
func (*Macro) Kind() Kind         { return KindMacro }
func (*Caller) Kind() Kind        { return KindCaller }
func (*Include) Kind() Kind       { return KindInclude }
func (*Extends) Kind() Kind       { return KindExtends }
func (*Block) Kind() Kind         { return KindBlock }
func (*Super) Kind() Kind         { return KindSuper }
func (*Import) Kind() Kind        { return KindImport }
func (*FromImport) Kind() Kind    { return KindFromImport }
func (*Guard) Kind() Kind         { return KindGuard }
func (*OutputCommand) Kind() Kind { return KindOutputCommand }
