package codegen

import (
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

func zeroOf(t symbols.SymType) variant.Variant {
	if t.IsCharacter() { return variant.FromString("") }
	return variant.FromInt(0).Convert(symbols.TagForType(t))
}

// canFold reports whether a constant of type from can be loaded directly
// as type to.
func canFold(from, to symbols.SymType) bool {
	if from == to { return true }
	numeric := func(t symbols.SymType) bool { return t.IsNumber() || t == symbols.TypeBoolean }
	return (numeric(from) && numeric(to)) || (from.IsCharacter() && to.IsCharacter())
}

// codegenExpr evaluates node and leaves a value of type want on the
// stack. TypeNone keeps whatever type the expression produces. The type
// on the stack is returned.
func (ctx *Context) codegenExpr(node *ast.Node, want symbols.SymType) symbols.SymType {
	util.Assert(node != nil, "nil expression")
	got := ctx.codegenValue(node, want)
	if want == symbols.TypeNone || got == want { return got }
	ctx.convert(node, got, want)
	return want
}

func (ctx *Context) convert(node *ast.Node, from, to symbols.SymType) {
	if machine(from) == machine(to) { return }
	if from.IsNumber() && to.IsNumber() {
		ctx.diag.Warn(config.WarnImplicitConversion, node.Tok, "Implicit conversion from %s to %s.", from, to)
	}
	ctx.em.Convert(machine(from), machine(to))
}

// codegenValue lowers an expression, loading constants directly in the
// wanted type when that is possible.
func (ctx *Context) codegenValue(node *ast.Node, want symbols.SymType) symbols.SymType {
	if node.IsConstant() {
		v, t := node.Value(), node.Typ.Type
		if t == symbols.TypeNone { t = symbols.TypeForTag(v.Tag()) }
		if want != symbols.TypeNone && canFold(t, want) { t = want }
		ctx.em.LoadValue(v, t.Kind())
		return t
	}

	switch node.Type {
	case ast.Ident:
		return ctx.codegenIdent(node)
	case ast.BinaryOp:
		return ctx.codegenBinaryOp(node)
	case ast.UnaryOp:
		return ctx.codegenUnaryOp(node)
	case ast.Call:
		return ctx.codegenCall(node, true)
	}
	panic(util.InternalAt(node.Tok, "cannot lower %s node as an expression", node.Type))
}

func (ctx *Context) codegenIdent(node *ast.Node) symbols.SymType {
	d := node.Data.(ast.IdentNode)
	s := d.Symbol
	util.Assert(s != nil, "unresolved identifier '%s'", d.Name)

	if sub, ok := ctx.inlineArgs[s]; ok { return ctx.codegenExpr(sub, s.Type()) }
	if s.IsMethod() { return ctx.codegenCall(ast.NewCall(node.Tok, s, nil), true) }

	switch {
	case d.Substring != nil:
		ctx.codegenSubstringLoad(node, s, d.Indexes, d.Substring)
		return symbols.TypeChar
	case len(d.Indexes) > 0:
		return ctx.emitElementLoad(node, s, d.Indexes)
	}
	ctx.loadSymbol(s)
	return s.Type()
}

// emitSubstringRange pushes the zero-based [start,end) range of a
// substring. An absent end bound defaults to the declared width.
func (ctx *Context) emitSubstringRange(s *symbols.Symbol, sub *ast.SubstringNode) {
	switch {
	case sub.Start == nil:
		ctx.em.LoadInteger(0)
	case sub.Start.IsConstant():
		ctx.em.LoadInteger(sub.Start.Value().AsInt() - 1)
	default:
		ctx.codegenExpr(sub.Start, symbols.TypeInteger)
		ctx.em.LoadInteger(1)
		ctx.em.Sub()
	}
	switch {
	case sub.End == nil && s.Type() == symbols.TypeFixedChar:
		ctx.em.LoadInteger(int32(s.FullType.Width))
	case sub.End == nil:
		ctx.em.LoadInteger(-1)
	case sub.End.IsConstant():
		ctx.em.LoadInteger(sub.End.Value().AsInt())
	default:
		ctx.codegenExpr(sub.End, symbols.TypeInteger)
	}
}

// codegenSubstringLoad pushes a substring of a character variable, or of
// one element of a character array.
func (ctx *Context) codegenSubstringLoad(node *ast.Node, s *symbols.Symbol, indexes []*ast.Node, sub *ast.SubstringNode) {
	if !ctx.loadSubstringBase(node, s, indexes) {
		ctx.em.LoadString("")
		return
	}
	ctx.emitSubstringRange(s, sub)
	switch s.Type() {
	case symbols.TypeFixedChar: ctx.em.Call(runtime.FixedStringSubstring)
	case symbols.TypeChar: ctx.em.Call(runtime.StringSubstring)
	default:
		ctx.diag.Error(node.Tok, "Substring of non-character variable '%s'.", s.Name)
	}
}

// loadSubstringBase pushes the character value a substring is taken from.
func (ctx *Context) loadSubstringBase(node *ast.Node, s *symbols.Symbol, indexes []*ast.Node) bool {
	switch {
	case len(indexes) > 0:
		ctx.emitElementLoad(node, s, indexes)
	case s.IsArray():
		ctx.diag.Error(node.Tok, "Substring of array '%s' needs a subscript.", s.Name)
		return false
	default:
		ctx.loadSymbol(s)
	}
	return true
}

func isComplex(t symbols.SymType) bool { return t == symbols.TypeComplex }

// pushDummy keeps the evaluation stack balanced after a reported error.
func (ctx *Context) pushDummy(t symbols.SymType) symbols.SymType {
	ctx.em.LoadValue(zeroOf(t), t.Kind())
	return t
}

func (ctx *Context) codegenBinaryOp(node *ast.Node) symbols.SymType {
	d := node.Data.(ast.BinaryOpNode)
	lt, rt := d.Left.Typ.Type, d.Right.Typ.Type

	switch {
	case d.Op.IsRelational():
		return ctx.codegenRelational(node, d)
	case d.Op.IsLogical():
		ctx.codegenExpr(d.Left, symbols.TypeBoolean)
		ctx.codegenExpr(d.Right, symbols.TypeBoolean)
		switch d.Op {
		case token.And: ctx.em.And()
		case token.Or: ctx.em.Or()
		case token.Xor, token.Neqv: ctx.em.Xor()
		case token.Eqv:
			ctx.em.Xor()
			ctx.em.Negate()
		}
		return symbols.TypeBoolean
	}

	switch d.Op {
	case token.Exp:
		if isComplex(lt) || isComplex(rt) {
			ctx.codegenExpr(d.Left, symbols.TypeComplex)
			ctx.codegenExpr(d.Right, symbols.TypeComplex)
			ctx.em.Call(runtime.ComplexPow)
			return symbols.TypeComplex
		}
		ctx.codegenExpr(d.Left, symbols.TypeDouble)
		ctx.codegenExpr(d.Right, symbols.TypeDouble)
		ctx.em.Call(runtime.Pow)
		return symbols.TypeDouble

	case token.IDivide:
		if isComplex(lt) || isComplex(rt) {
			ctx.diag.Error(node.Tok, "Integer division is not defined for complex operands.")
			return ctx.pushDummy(symbols.TypeInteger)
		}
		ctx.codegenExpr(d.Left, symbols.TypeDouble)
		ctx.codegenExpr(d.Right, symbols.TypeDouble)
		ctx.em.Div()
		ctx.em.Call(runtime.Floor)
		ctx.em.Emit(ir.OpConvI4)
		return symbols.TypeInteger

	case token.Concat:
		return ctx.codegenConcat(node, d)

	case token.Merge:
		ctx.codegenExpr(d.Left, symbols.TypeFixedChar)
		ctx.codegenExpr(d.Right, symbols.TypeFixedChar)
		ctx.em.Call(runtime.FixedStringMerge)
		return symbols.TypeFixedChar
	}

	needed := node.Typ.Type
	if needed == symbols.TypeNone { needed = symbols.LargestType(lt, rt) }
	if d.Op == token.Plus && needed.IsCharacter() { return ctx.codegenConcat(node, d) }
	if !needed.IsNumber() {
		ctx.diag.Error(node.Tok, "Operator '%s' needs numeric operands.", d.Op)
		return ctx.pushDummy(symbols.TypeInteger)
	}

	if isComplex(needed) {
		var m *ir.MethodRef
		switch d.Op {
		case token.Plus: m = runtime.ComplexAdd
		case token.Minus: m = runtime.ComplexSub
		case token.Star: m = runtime.ComplexMul
		case token.Slash: m = runtime.ComplexDiv
		case token.Mod:
			ctx.diag.Error(node.Tok, "Modulus is not defined for complex operands.")
			return ctx.pushDummy(symbols.TypeComplex)
		default:
			panic(util.InternalAt(node.Tok, "unsupported complex operator '%s'", d.Op))
		}
		ctx.codegenExpr(d.Left, needed)
		ctx.codegenExpr(d.Right, needed)
		ctx.em.Call(m)
		return needed
	}

	ctx.codegenExpr(d.Left, needed)
	ctx.codegenExpr(d.Right, needed)
	switch d.Op {
	case token.Plus: ctx.em.Add()
	case token.Minus: ctx.em.Sub()
	case token.Star: ctx.em.Mul()
	case token.Mod: ctx.em.Rem()
	case token.Slash:
		ctx.em.Div()
		if needed == symbols.TypeFloat || needed == symbols.TypeDouble { ctx.emitDivideCheck(needed) }
	default:
		panic(util.InternalAt(node.Tok, "unsupported binary operator '%s'", d.Op))
	}
	return needed
}

// emitDivideCheck raises the runtime divide-by-zero error when a floating
// quotient came out infinite.
func (ctx *Context) emitDivideCheck(t symbols.SymType) {
	ok := ctx.em.NewLabel()
	ctx.em.Dup()
	if t == symbols.TypeFloat { ctx.em.Emit(ir.OpConvR8) }
	ctx.em.Call(runtime.IsInfinity)
	ctx.em.BranchIfFalse(ok)
	ctx.em.Call(runtime.DivideByZero)
	ctx.em.MarkLabel(ok)
}

// codegenConcat joins two strings in the left operand's declared type.
func (ctx *Context) codegenConcat(node *ast.Node, d ast.BinaryOpNode) symbols.SymType {
	result := d.Left.Typ.Type
	if !result.IsCharacter() {
		ctx.diag.Error(node.Tok, "Concatenation needs character operands.")
		return ctx.pushDummy(symbols.TypeChar)
	}
	ctx.codegenExpr(d.Left, symbols.TypeChar)
	ctx.codegenExpr(d.Right, symbols.TypeChar)
	ctx.em.Call(runtime.StringConcat)
	if result == symbols.TypeFixedChar { ctx.em.Call(runtime.FixedStringFromStr) }
	return result
}

// emitRelation compares the two values on the stack. LE, GE and NE are the
// negation of GT, LT and EQ.
func (ctx *Context) emitRelation(op token.Type) {
	switch op {
	case token.Eq: ctx.em.CompareEqual()
	case token.Lt: ctx.em.CompareLess()
	case token.Gt: ctx.em.CompareGreater()
	case token.Ne:
		ctx.em.CompareEqual()
		ctx.em.Negate()
	case token.Le:
		ctx.em.CompareGreater()
		ctx.em.Negate()
	case token.Ge:
		ctx.em.CompareLess()
		ctx.em.Negate()
	default:
		panic(util.Internalf("'%s' is not a relational operator", op))
	}
}

func (ctx *Context) codegenRelational(node *ast.Node, d ast.BinaryOpNode) symbols.SymType {
	lt, rt := d.Left.Typ.Type, d.Right.Typ.Type

	if lt.IsCharacter() || rt.IsCharacter() {
		if lt == symbols.TypeFixedChar && rt == symbols.TypeFixedChar {
			ctx.codegenExpr(d.Left, symbols.TypeFixedChar)
			ctx.codegenExpr(d.Right, symbols.TypeFixedChar)
			ctx.em.Call(runtime.FixedStringCompare)
		} else {
			ctx.codegenExpr(d.Left, symbols.TypeChar)
			ctx.codegenExpr(d.Right, symbols.TypeChar)
			ctx.em.Call(runtime.StringCompare)
		}
		ctx.em.LoadInteger(0)
		ctx.emitRelation(d.Op)
		return symbols.TypeBoolean
	}

	needed := symbols.LargestType(lt, rt)
	if isComplex(lt) || isComplex(rt) {
		if d.Op != token.Eq && d.Op != token.Ne {
			ctx.diag.Error(node.Tok, "Complex values can only be compared for equality.")
			return ctx.pushDummy(symbols.TypeBoolean)
		}
		ctx.codegenExpr(d.Left, symbols.TypeComplex)
		ctx.codegenExpr(d.Right, symbols.TypeComplex)
		ctx.em.Call(runtime.ComplexEq)
		if d.Op == token.Ne { ctx.em.Negate() }
		return symbols.TypeBoolean
	}

	ctx.codegenExpr(d.Left, needed)
	ctx.codegenExpr(d.Right, needed)
	ctx.emitRelation(d.Op)
	return symbols.TypeBoolean
}

func (ctx *Context) codegenUnaryOp(node *ast.Node) symbols.SymType {
	d := node.Data.(ast.UnaryOpNode)
	t := d.Expr.Typ.Type

	switch d.Op {
	case token.Plus:
		return ctx.codegenExpr(d.Expr, symbols.TypeNone)
	case token.Minus:
		got := ctx.codegenExpr(d.Expr, symbols.TypeNone)
		if isComplex(got) {
			ctx.em.Call(runtime.ComplexNeg)
		} else {
			ctx.em.Neg()
		}
		return got
	case token.Not:
		switch {
		case t == symbols.TypeBoolean:
			ctx.codegenExpr(d.Expr, symbols.TypeBoolean)
			ctx.em.Not()
		case t == symbols.TypeFixedChar:
			ctx.codegenExpr(d.Expr, symbols.TypeFixedChar)
			ctx.em.Call(runtime.FixedStringIsEmpty)
		case t == symbols.TypeChar:
			ctx.codegenExpr(d.Expr, symbols.TypeChar)
			ctx.em.LoadString("")
			ctx.em.Call(runtime.StringCompare)
			ctx.em.LoadInteger(0)
			ctx.em.CompareEqual()
		case t == symbols.TypeFloat || t == symbols.TypeDouble:
			ctx.codegenExpr(d.Expr, symbols.TypeDouble)
			ctx.em.LoadFloat64(0)
			ctx.em.CompareEqual()
		case isComplex(t):
			ctx.codegenExpr(d.Expr, symbols.TypeComplex)
			ctx.em.LoadValue(variant.FromComplex(0), ir.KindComplex)
			ctx.em.Call(runtime.ComplexEq)
		default:
			ctx.codegenExpr(d.Expr, symbols.TypeInteger)
			ctx.em.Emit(ir.OpConvI4)
			ctx.em.LoadInteger(0)
			ctx.em.CompareEqual()
			ctx.em.Emit(ir.OpConvU1)
		}
		return symbols.TypeBoolean
	}
	panic(util.InternalAt(node.Tok, "unsupported unary operator '%s'", d.Op))
}

// codegenCondition evaluates a boolean and branches to target when it is
// false.
func (ctx *Context) codegenCondition(node *ast.Node, target *ir.Label) {
	ctx.codegenExpr(node, symbols.TypeBoolean)
	ctx.em.BranchIfFalse(target)
}
