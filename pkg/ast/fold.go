package ast

import (
	"errors"

	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

// Bound converts an optional bound expression to the declaration view,
// keeping an absent bound as a nil interface.
func Bound(n *Node) symbols.Expr {
	if n == nil { return nil }
	return n
}

// FoldConstants performs compile-time constant evaluation on an expression
// tree. Folding never changes the node's declared type; a folded value is
// converted back to it.
func FoldConstants(node *Node, diag *util.Diagnostics) *Node {
	if node == nil {
		return nil
	}

	// Recursively fold children first
	switch d := node.Data.(type) {
	case BinaryOpNode:
		d.Left = FoldConstants(d.Left, diag)
		d.Right = FoldConstants(d.Right, diag)
		node.Data = d
	case UnaryOpNode:
		d.Expr = FoldConstants(d.Expr, diag)
		node.Data = d
	case IdentNode:
		for i, idx := range d.Indexes {
			d.Indexes[i] = FoldConstants(idx, diag)
		}
		node.Data = d
	case CallNode:
		for i, arg := range d.Args {
			d.Args[i] = FoldConstants(arg, diag)
		}
		node.Data = d
	}

	var res variant.Variant
	var err error
	switch node.Type {
	case BinaryOp:
		d := node.Data.(BinaryOpNode)
		if !d.Left.IsConstant() || !d.Right.IsConstant() { return node }
		l, r := d.Left.Value(), d.Right.Value()
		switch d.Op {
		case token.Plus: res, err = variant.Add(l, r)
		case token.Minus: res, err = variant.Sub(l, r)
		case token.Star: res, err = variant.Mul(l, r)
		case token.Slash: res, err = variant.Div(l, r)
		case token.IDivide: res, err = variant.IDiv(l, r)
		case token.Mod: res, err = variant.Mod(l, r)
		case token.Exp: res, err = variant.Pow(l, r)
		case token.Lt, token.Le, token.Gt, token.Ge, token.Eq, token.Ne:
			var c int
			if c, err = variant.Compare(l, r); err == nil { res = variant.FromBool(relation(d.Op, c)) }
		case token.And: res = variant.FromBool(l.AsBool() && r.AsBool())
		case token.Or: res = variant.FromBool(l.AsBool() || r.AsBool())
		case token.Eqv: res = variant.FromBool(l.AsBool() == r.AsBool())
		case token.Neqv, token.Xor: res = variant.FromBool(l.AsBool() != r.AsBool())
		default:
			return node
		}
	case UnaryOp:
		d := node.Data.(UnaryOpNode)
		if !d.Expr.IsConstant() { return node }
		switch d.Op {
		case token.Minus: res, err = variant.Neg(d.Expr.Value())
		case token.Plus: res = d.Expr.Value()
		case token.Not: res = variant.FromBool(!d.Expr.Value().AsBool())
		default:
			return node
		}
	default:
		return node
	}

	if err != nil {
		// Division by zero is left for the run-time check; anything else is
		// an operand the front end should have rejected.
		if !errors.Is(err, variant.ErrDivideByZero) && diag != nil {
			diag.Error(node.Tok, "Cannot apply '%s' to these operand types.", node.Tok.Value)
		}
		return node
	}

	if tag := symbols.TagForType(node.Typ.Type); tag != variant.None { res = res.Convert(tag) }
	folded := NewNumber(node.Tok, res)
	folded.Typ = node.Typ
	folded.Parent = node.Parent
	return folded
}

func relation(op token.Type, c int) bool {
	switch op {
	case token.Lt: return c < 0
	case token.Le: return c <= 0
	case token.Gt: return c > 0
	case token.Ge: return c >= 0
	case token.Eq: return c == 0
	}
	return c != 0
}
