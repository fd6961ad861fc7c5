// Package ast defines the typed Abstract Syntax Tree consumed by code generation
package ast

import (
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	Ident
	BinaryOp
	UnaryOp
	Call

	// Statements
	Program
	Procedure
	Block
	Assignment
	Loop
	Break
	Conditional
	Return
	Stop
	Goto
	ComputedGoto
	Label
	Read
	Write
	CallStmt
)

var nodeTypeNames = map[NodeType]string{
	Number: "number", Ident: "identifier", BinaryOp: "binary", UnaryOp: "unary", Call: "call",
	Program: "program", Procedure: "procedure", Block: "block", Assignment: "assignment", Loop: "loop",
	Break: "break", Conditional: "conditional", Return: "return", Stop: "stop", Goto: "goto",
	ComputedGoto: "computed-goto", Label: "label", Read: "read", Write: "write", CallStmt: "call-statement",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok { return s }
	return "unknown"
}

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    symbols.FullType // Resolved by the front end
}

// --- Node Data Structs ---
type NumberNode struct{ Value variant.Variant }
type SubstringNode struct{ Start, End *Node }
type IdentNode struct {
	Name      string
	Symbol    *symbols.Symbol
	Indexes   []*Node
	Substring *SubstringNode
}
type BinaryOpNode struct{ Op token.Type; Left, Right *Node }
type UnaryOpNode struct{ Op token.Type; Expr *Node }
type CallNode struct {
	Name   string
	Symbol *symbols.Symbol
	Args   []*Node
}

type ProgramNode struct {
	Name    string
	Globals *symbols.Collection
	Units   []*Node
}
type ProcedureNode struct {
	Symbol *symbols.Symbol
	Locals *symbols.Collection
	Body   *Node
}
type BlockNode struct{ Stmts []*Node }

// AssignmentNode pairs each target with a value. When Values is shorter
// than Targets the last value is assigned to the remaining targets.
type AssignmentNode struct{ Targets, Values []*Node }

// LoopNode selects its form by which fields are set: Variable makes a
// counted loop, otherwise a nil End makes a pre-test loop on Start, and a
// set End makes a post-test loop that runs until End holds.
type LoopNode struct {
	Variable *Node
	Start    *Node
	End      *Node
	Step     *Node
	Body     *Node
}
type BreakNode struct{ Cond *Node }

// ConditionalArm is one arm of an if/elseif/else chain; a nil Cond is the
// final else.
type ConditionalArm struct{ Cond, Body *Node }
type ConditionalNode struct{ Arms []ConditionalArm }
type ReturnNode struct{ Expr *Node }
type StopNode struct{ Code *Node }
type GotoNode struct{ Target *symbols.Symbol }
type ComputedGotoNode struct {
	Targets []*symbols.Symbol
	Expr    *Node
}
type LabelNode struct{ Symbol *symbols.Symbol }

// IONode is a list-directed READ or WRITE. Items of a READ must be
// identifiers. ErrLabel, when set, receives control if the transfer fails.
type IONode struct {
	Unit     *Node
	Items    []*Node
	ErrLabel *symbols.Symbol
}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func adopt(parent *Node, children []*Node) {
	for _, c := range children {
		if c != nil { c.Parent = parent }
	}
}

func NewNumber(tok token.Token, value variant.Variant) *Node {
	node := newNode(tok, Number, NumberNode{Value: value})
	node.Typ = symbols.NewFullType(symbols.TypeForTag(value.Tag()))
	if value.Tag() == variant.String { node.Typ.Width = len(value.AsString()) }
	return node
}

func NewInt(tok token.Token, v int32) *Node      { return NewNumber(tok, variant.FromInt(v)) }
func NewDouble(tok token.Token, v float64) *Node { return NewNumber(tok, variant.FromFloat64(v)) }
func NewString(tok token.Token, v string) *Node  { return NewNumber(tok, variant.FromString(v)) }
func NewBool(tok token.Token, v bool) *Node      { return NewNumber(tok, variant.FromBool(v)) }

func NewIdent(tok token.Token, sym *symbols.Symbol, indexes ...*Node) *Node {
	node := newNode(tok, Ident, IdentNode{Name: sym.Name, Symbol: sym, Indexes: indexes})
	adopt(node, indexes)
	node.Typ = sym.FullType
	return node
}

// NewSubstring builds a character reference sym(start:end), or
// sym(indexes)(start:end) for an element of a character array; a nil end
// extends to the declared width.
func NewSubstring(tok token.Token, sym *symbols.Symbol, start, end *Node, indexes ...*Node) *Node {
	node := newNode(tok, Ident, IdentNode{Name: sym.Name, Symbol: sym, Indexes: indexes, Substring: &SubstringNode{Start: start, End: end}}, start, end)
	adopt(node, indexes)
	node.Typ = symbols.NewFullType(symbols.TypeChar)
	return node
}

// NewBinaryOp assigns the result type the front end would. Relational and
// logical operators give booleans and exponentiation gives double, or
// complex when either side is complex. Concatenation keeps the left type,
// merge gives a fixed character value, and the rest promote their operands.
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node) *Node {
	node := newNode(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
	switch {
	case op.IsRelational(), op.IsLogical():
		node.Typ = symbols.NewFullType(symbols.TypeBoolean)
	case op == token.Exp:
		node.Typ = symbols.NewFullType(symbols.TypeDouble)
		if left.Typ.Type == symbols.TypeComplex || right.Typ.Type == symbols.TypeComplex {
			node.Typ = symbols.NewFullType(symbols.TypeComplex)
		}
	case op == token.Concat:
		node.Typ = left.Typ
	case op == token.Merge:
		node.Typ = symbols.FixedChar(left.Typ.Width)
	default:
		node.Typ = symbols.NewFullType(symbols.LargestType(left.Typ.Type, right.Typ.Type))
	}
	return node
}

func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	node := newNode(tok, UnaryOp, UnaryOpNode{Op: op, Expr: expr}, expr)
	node.Typ = expr.Typ
	if op == token.Not { node.Typ = symbols.NewFullType(symbols.TypeBoolean) }
	return node
}

func NewCall(tok token.Token, sym *symbols.Symbol, args []*Node) *Node {
	node := newNode(tok, Call, CallNode{Name: sym.Name, Symbol: sym, Args: args})
	adopt(node, args)
	node.Typ = sym.FullType
	return node
}

func NewProgram(tok token.Token, name string, globals *symbols.Collection, units []*Node) *Node {
	node := newNode(tok, Program, ProgramNode{Name: name, Globals: globals, Units: units})
	adopt(node, units)
	return node
}

func NewProcedure(tok token.Token, sym *symbols.Symbol, locals *symbols.Collection, body *Node) *Node {
	return newNode(tok, Procedure, ProcedureNode{Symbol: sym, Locals: locals, Body: body}, body)
}

func NewBlock(tok token.Token, stmts []*Node) *Node {
	node := newNode(tok, Block, BlockNode{Stmts: stmts})
	adopt(node, stmts)
	return node
}

func NewAssignment(tok token.Token, targets, values []*Node) *Node {
	node := newNode(tok, Assignment, AssignmentNode{Targets: targets, Values: values})
	adopt(node, targets)
	adopt(node, values)
	return node
}

// NewAssign is the single target form of NewAssignment.
func NewAssign(tok token.Token, target, value *Node) *Node {
	return NewAssignment(tok, []*Node{target}, []*Node{value})
}

func NewForLoop(tok token.Token, variable, start, end, step, body *Node) *Node {
	return newNode(tok, Loop, LoopNode{Variable: variable, Start: start, End: end, Step: step, Body: body}, variable, start, end, step, body)
}

func NewWhileLoop(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, Loop, LoopNode{Start: cond, Body: body}, cond, body)
}

func NewRepeatLoop(tok token.Token, body, until *Node) *Node {
	return newNode(tok, Loop, LoopNode{End: until, Body: body}, until, body)
}

func NewBreak(tok token.Token, cond *Node) *Node {
	return newNode(tok, Break, BreakNode{Cond: cond}, cond)
}

func NewConditional(tok token.Token, arms []ConditionalArm) *Node {
	node := newNode(tok, Conditional, ConditionalNode{Arms: arms})
	for _, a := range arms {
		adopt(node, []*Node{a.Cond, a.Body})
	}
	return node
}

func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, ReturnNode{Expr: expr}, expr)
}

func NewStop(tok token.Token, code *Node) *Node {
	return newNode(tok, Stop, StopNode{Code: code}, code)
}

func NewGoto(tok token.Token, target *symbols.Symbol) *Node {
	return newNode(tok, Goto, GotoNode{Target: target})
}

func NewComputedGoto(tok token.Token, targets []*symbols.Symbol, expr *Node) *Node {
	return newNode(tok, ComputedGoto, ComputedGotoNode{Targets: targets, Expr: expr}, expr)
}

func NewLabel(tok token.Token, sym *symbols.Symbol) *Node {
	return newNode(tok, Label, LabelNode{Symbol: sym})
}

func NewRead(tok token.Token, unit *Node, items []*Node, errLabel *symbols.Symbol) *Node {
	node := newNode(tok, Read, IONode{Unit: unit, Items: items, ErrLabel: errLabel}, unit)
	adopt(node, items)
	return node
}

func NewWrite(tok token.Token, unit *Node, items []*Node, errLabel *symbols.Symbol) *Node {
	node := newNode(tok, Write, IONode{Unit: unit, Items: items, ErrLabel: errLabel}, unit)
	adopt(node, items)
	return node
}

func NewCallStmt(tok token.Token, sym *symbols.Symbol, args []*Node) *Node {
	call := NewCall(tok, sym, args)
	return newNode(tok, CallStmt, call.Data, call)
}

// IsConstant reports whether the node's value is known at compile time:
// literals and unsubscripted named constants.
func (n *Node) IsConstant() bool {
	if n == nil { return false }
	switch n.Type {
	case Number:
		return true
	case Ident:
		d := n.Data.(IdentNode)
		return d.Symbol != nil && d.Symbol.IsConstant() && len(d.Indexes) == 0 && d.Substring == nil
	}
	return false
}

// Value returns the compile-time value of a constant node.
func (n *Node) Value() variant.Variant {
	switch n.Type {
	case Number:
		return n.Data.(NumberNode).Value
	case Ident:
		if n.IsConstant() { return n.Data.(IdentNode).Symbol.Value }
	}
	panic(util.InternalAt(n.Tok, "value requested from non-constant %s node", n.Type))
}

// IsConstantTrue reports whether n is a constant that evaluates to true.
func (n *Node) IsConstantTrue() bool { return n.IsConstant() && n.Value().AsBool() }

// IsConstantFalse reports whether n is a constant that evaluates to false.
func (n *Node) IsConstantFalse() bool { return n.IsConstant() && !n.Value().AsBool() }

// Symbol returns the symbol named by an identifier or call node.
func (n *Node) Symbol() *symbols.Symbol {
	switch d := n.Data.(type) {
	case IdentNode: return d.Symbol
	case CallNode: return d.Symbol
	}
	return nil
}
