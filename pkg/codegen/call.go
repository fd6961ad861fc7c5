package codegen

import (
	"strings"

	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/emitter"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/util"
)

// callScratch tracks what one call site must undo after the call.
type callScratch struct {
	temps    []*ir.Local
	copyBack [][]*ir.Instruction
}

// codegenCall lowers a call and returns the type it leaves on the stack,
// TypeNone for subroutines. asExpr is set when the result is consumed.
func (ctx *Context) codegenCall(node *ast.Node, asExpr bool) symbols.SymType {
	d := node.Data.(ast.CallNode)
	s := d.Symbol
	util.Assert(s != nil, "unresolved call to '%s'", d.Name)

	switch s.Class {
	case symbols.ClassIntrinsic:
		return ctx.codegenIntrinsic(node, d)
	case symbols.ClassInline:
		if ctx.cfg.IsFeatureEnabled(config.FeatInline) { return ctx.codegenInline(node, d) }
	case symbols.ClassFunction, symbols.ClassSubroutine, symbols.ClassProgram:
	default:
		ctx.diag.Error(node.Tok, "'%s' is not callable.", s.Name)
		if asExpr { return ctx.pushDummy(s.Type()) }
		return symbols.TypeNone
	}

	if s.IsExternal() && len(s.Parameters) == 0 { return ctx.codegenExternalCall(node, d, asExpr) }

	if len(d.Args) != len(s.Parameters) {
		ctx.diag.Error(node.Tok, "'%s' expects %d arguments but %d were given.", s.Name, len(s.Parameters), len(d.Args))
		if asExpr { return ctx.pushDummy(s.Type()) }
		return symbols.TypeNone
	}

	if s.Handle == nil { s.SetHandle(&symbols.MethodHandle{Method: ctx.methodRef(s)}) }
	ref := s.Method()

	var scratch callScratch
	for i, arg := range d.Args {
		ctx.marshalArgument(arg, s.Parameters[i], &scratch)
	}
	ctx.em.Call(ref)
	for _, code := range scratch.copyBack {
		ctx.em.EmitAll(code)
	}
	for _, t := range scratch.temps {
		ctx.em.ReleaseTemporary(t)
	}

	if ref.Return.Kind == ir.KindNone {
		if asExpr {
			ctx.diag.Error(node.Tok, "Subroutine '%s' does not return a value.", s.Name)
			return ctx.pushDummy(symbols.TypeInteger)
		}
		return symbols.TypeNone
	}
	return s.Type()
}

// wholeArray returns the array named by an unsubscripted identifier.
func wholeArray(n *ast.Node) *symbols.Symbol {
	if n.Type != ast.Ident { return nil }
	d := n.Data.(ast.IdentNode)
	if d.Symbol == nil || !d.Symbol.IsArray() || len(d.Indexes) > 0 || d.Substring != nil { return nil }
	return d.Symbol
}

// marshalArgument pushes one actual argument in the form its formal
// expects.
func (ctx *Context) marshalArgument(arg *ast.Node, formal *symbols.Symbol, scratch *callScratch) {
	var actual *symbols.Symbol
	var ident ast.IdentNode
	if arg.Type == ast.Ident {
		ident = arg.Data.(ast.IdentNode)
		actual = ident.Symbol
	}
	byRef := formal.IsByRef() && formal.IsValueType()

	switch {
	case formal.IsArray() && actual != nil && actual.IsArray() && len(ident.Indexes) == 0:
		if symbols.SystemTypeFor(actual) != symbols.ParameterType(formal) {
			ctx.diag.Error(arg.Tok, "Array '%s' does not match the shape of argument '%s'.", actual.Name, formal.Name)
			ctx.em.LoadNull()
			return
		}
		ctx.loadSymbol(actual)

	case formal.IsArray() && actual != nil && actual.IsArray():
		ctx.marshalArrayRange(arg, actual, ident.Indexes, formal, scratch)

	case actual != nil && actual.IsMethod() && actual.Class != symbols.ClassIntrinsic && len(ident.Indexes) == 0 && formal.IsMethod():
		ctx.em.LoadNull()
		ctx.diag.Error(arg.Tok, "Passing routine '%s' as an argument is not supported.", actual.Name)

	case byRef && actual != nil && ident.Substring == nil && len(ident.Indexes) == 0 &&
		actual.HasStorage() && actual.Type() == formal.Type() && ctx.inlineArgs[actual] == nil:
		ctx.loadSymbolAddress(actual)

	case byRef && actual != nil && len(ident.Indexes) > 0 && ident.Substring == nil && actual.Type() == formal.Type():
		ctx.emitElementAddress(arg, actual, ident.Indexes)

	case byRef:
		tmp := ctx.em.GetTemporary(machine(formal.Type()))
		scratch.temps = append(scratch.temps, tmp)
		ctx.codegenExpr(arg, formal.Type())
		ctx.em.StoreLocal(tmp)
		ctx.em.LoadLocalAddress(tmp)

	default:
		ctx.codegenExpr(arg, formal.Type())
	}
}

// marshalArrayRange passes the elements of an array starting at a
// subscripted element. A vector of the formal's size receives a copy of
// them and is copied back once the call returns.
func (ctx *Context) marshalArrayRange(arg *ast.Node, actual *symbols.Symbol, indexes []*ast.Node, formal *symbols.Symbol, scratch *callScratch) {
	size, ok := formal.ArraySize()
	if !ok || actual.UsesArrayObject() || formal.UsesArrayObject() || actual.Type() != formal.Type() || !ctx.checkRank(actual, arg, indexes) {
		ctx.diag.Error(arg.Tok, "Cannot pass a section of '%s' as argument '%s'.", actual.Name, formal.Name)
		ctx.em.LoadNull()
		return
	}

	elem := machine(actual.Type())
	vec := ctx.em.GetTemporary(ir.VectorOf(elem.Kind))
	off := ctx.em.GetTemporary(ir.TypeInt32)
	scratch.temps = append(scratch.temps, vec, off)

	ctx.em.LoadInteger(size)
	ctx.em.CreateVector(elem)
	ctx.em.StoreLocal(vec)
	ctx.emitFlatOffset(actual, indexes)
	ctx.em.StoreLocal(off)

	ctx.loadSymbol(actual)
	ctx.em.LoadLocal(off)
	ctx.em.LoadLocal(vec)
	ctx.em.LoadInteger(0)
	ctx.em.LoadInteger(size)
	ctx.em.Call(runtime.ArrayCopy)

	scratch.copyBack = append(scratch.copyBack, ctx.em.Capture(func() {
		ctx.em.LoadLocal(vec)
		ctx.em.LoadInteger(0)
		ctx.loadSymbol(actual)
		ctx.em.LoadLocal(off)
		ctx.em.LoadInteger(size)
		ctx.em.Call(runtime.ArrayCopy)
	}))
	ctx.em.LoadLocal(vec)
}

// codegenExternalCall calls a routine declared only as external. Its
// signature is taken from the actual arguments.
func (ctx *Context) codegenExternalCall(node *ast.Node, d ast.CallNode, asExpr bool) symbols.SymType {
	params := make([]ir.Type, len(d.Args))
	for i, arg := range d.Args {
		if a := wholeArray(arg); a != nil {
			ctx.loadSymbol(a)
			params[i] = symbols.SystemTypeFor(a)
			continue
		}
		params[i] = machine(ctx.codegenExpr(arg, symbols.TypeNone))
	}
	ret := ir.TypeNone
	if asExpr || d.Symbol.Class == symbols.ClassFunction { ret = machine(d.Symbol.Type()) }
	ctx.em.Call(&ir.MethodRef{Name: d.Symbol.Name, Params: params, Return: ret})
	if ret.Kind == ir.KindNone { return symbols.TypeNone }
	return d.Symbol.Type()
}

// --- statement functions ---

// codegenInline expands a statement function at the call site with the
// actual arguments standing in for its formals.
func (ctx *Context) codegenInline(node *ast.Node, d ast.CallNode) symbols.SymType {
	s := d.Symbol
	if len(d.Args) != len(s.Parameters) {
		ctx.diag.Error(node.Tok, "'%s' expects %d arguments but %d were given.", s.Name, len(s.Parameters), len(d.Args))
		return ctx.pushDummy(s.Type())
	}
	if ctx.inlineArgs == nil { ctx.inlineArgs = make(map[*symbols.Symbol]*ast.Node) }

	saved := make(map[*symbols.Symbol]*ast.Node, len(s.Parameters))
	for i, p := range s.Parameters {
		saved[p] = ctx.inlineArgs[p]
		ctx.inlineArgs[p] = d.Args[i]
	}
	defer func() {
		for p, n := range saved {
			if n == nil { delete(ctx.inlineArgs, p) } else { ctx.inlineArgs[p] = n }
		}
	}()
	return ctx.codegenExpr(exprNode(s.Definition), s.Type())
}

// generateStatementFunctions emits each statement function of a scope as
// a private routine when they are not expanded inline.
func (ctx *Context) generateStatementFunctions(scope *symbols.Collection) {
	if ctx.cfg.IsFeatureEnabled(config.FeatInline) { return }
	for _, s := range scope.Symbols() {
		if s.Class != symbols.ClassInline || s.Handle != nil { continue }
		util.Assert(s.Definition != nil, "statement function '%s' has no body", s.Name)
		body := exprNode(s.Definition)

		if local := foreignLocal(body, s); local != nil {
			ctx.diag.Error(s.Tok, "Statement function '%s' uses local '%s' and must be inlined; enable -Finline.", s.Name, local.Name)
			continue
		}

		params := make([]ir.Param, len(s.Parameters))
		ptypes := make([]ir.Type, len(s.Parameters))
		for i, p := range s.Parameters {
			ptypes[i] = machine(p.Type())
			params[i] = ir.Param{Name: p.Name, Type: ptypes[i]}
		}
		name := ctx.routine.Name + "." + s.Name
		ref := &ir.MethodRef{Name: name, Params: ptypes, Return: machine(s.Type())}
		s.SetHandle(&symbols.MethodHandle{Method: ref})

		em := emitter.New(name, params, ref.Return)
		em.Debug = ctx.em.Debug
		ctx.withEmitter(em, func() {
			for i, p := range s.Parameters {
				if p.Handle == nil { p.SetHandle(&symbols.ParamHandle{Index: i}) }
			}
			ctx.codegenExpr(body, s.Type())
			ctx.em.Return()
		})
		ctx.finishRoutine(em)
	}
}

// foreignLocal finds a routine-local variable in a statement function body
// other than the function's own formals.
func foreignLocal(n *ast.Node, fn *symbols.Symbol) *symbols.Symbol {
	if n == nil { return nil }
	switch d := n.Data.(type) {
	case ast.IdentNode:
		s := d.Symbol
		if s != nil && s.HasStorage() && !s.IsStatic() && !s.IsInCommon() && !isFormal(fn, s) {
			if _, ok := s.Handle.(*symbols.LocalHandle); ok { return s }
			if s.IsParameter() { return s }
		}
		for _, idx := range d.Indexes {
			if f := foreignLocal(idx, fn); f != nil { return f }
		}
		if d.Substring != nil {
			if f := foreignLocal(d.Substring.Start, fn); f != nil { return f }
			return foreignLocal(d.Substring.End, fn)
		}
	case ast.BinaryOpNode:
		if f := foreignLocal(d.Left, fn); f != nil { return f }
		return foreignLocal(d.Right, fn)
	case ast.UnaryOpNode:
		return foreignLocal(d.Expr, fn)
	case ast.CallNode:
		for _, a := range d.Args {
			if f := foreignLocal(a, fn); f != nil { return f }
		}
	}
	return nil
}

func isFormal(fn, s *symbols.Symbol) bool {
	for _, p := range fn.Parameters {
		if p == s { return true }
	}
	return false
}

// --- intrinsics ---

func (ctx *Context) codegenIntrinsic(node *ast.Node, d ast.CallNode) symbols.SymType {
	name := strings.ToUpper(d.Symbol.Name)
	want := 1
	if name == "MOD" || name == "AMOD" || name == "DMOD" { want = 2 }
	if len(d.Args) != want {
		ctx.diag.Error(node.Tok, "Intrinsic '%s' expects %d arguments but %d were given.", name, want, len(d.Args))
		return ctx.pushDummy(d.Symbol.Type())
	}
	arg := d.Args[0]

	switch name {
	case "MOD", "AMOD", "DMOD":
		t := symbols.LargestType(arg.Typ.Type, d.Args[1].Typ.Type)
		if !t.IsNumber() || t == symbols.TypeComplex {
			ctx.diag.Error(node.Tok, "Intrinsic '%s' needs integer or real arguments.", name)
			return ctx.pushDummy(symbols.TypeInteger)
		}
		ctx.codegenExpr(arg, t)
		ctx.codegenExpr(d.Args[1], t)
		ctx.em.Rem()
		return t
	case "INT", "IFIX":
		return ctx.codegenExpr(arg, symbols.TypeInteger)
	case "REAL", "FLOAT":
		return ctx.codegenExpr(arg, symbols.TypeFloat)
	case "DBLE":
		return ctx.codegenExpr(arg, symbols.TypeDouble)
	case "FLOOR":
		ctx.codegenExpr(arg, symbols.TypeDouble)
		ctx.em.Call(runtime.Floor)
		ctx.em.Emit(ir.OpConvI4)
		return symbols.TypeInteger
	case "SQRT", "DSQRT":
		ctx.codegenExpr(arg, symbols.TypeDouble)
		ctx.em.Call(runtime.Sqrt)
		return symbols.TypeDouble
	case "ABS", "IABS", "DABS":
		t := arg.Typ.Type
		if !t.IsNumber() || t == symbols.TypeComplex {
			ctx.diag.Error(node.Tok, "Intrinsic '%s' needs an integer or real argument.", name)
			return ctx.pushDummy(symbols.TypeInteger)
		}
		done := ctx.em.NewLabel()
		ctx.codegenExpr(arg, t)
		ctx.em.Dup()
		ctx.em.LoadValue(zeroOf(t), t.Kind())
		ctx.em.BranchOn(ir.OpBge, done)
		ctx.em.Neg()
		ctx.em.MarkLabel(done)
		return t
	case "LEN":
		switch {
		case arg.Typ.Type == symbols.TypeFixedChar && arg.Typ.Width > 0:
			ctx.em.LoadInteger(int32(arg.Typ.Width))
		case arg.IsConstant():
			ctx.em.LoadInteger(int32(len(arg.Value().AsString())))
		default:
			ctx.diag.Error(node.Tok, "LEN needs a fixed-width character argument.")
			ctx.em.LoadInteger(0)
		}
		return symbols.TypeInteger
	}
	panic(util.InternalAt(node.Tok, "unknown intrinsic '%s'", name))
}
