package codegen

import (
	"math"

	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

func (ctx *Context) codegenStmt(node *ast.Node) {
	if node == nil { return }
	if node.Type != ast.Block { ctx.em.MarkLine(ctx.fileName(node.Tok), node.Tok.Line) }

	switch node.Type {
	case ast.Block:
		ctx.codegenBlock(node)
	case ast.Assignment:
		ctx.codegenAssignment(node)
	case ast.Loop:
		ctx.codegenLoop(node)
	case ast.Break:
		ctx.codegenBreak(node)
	case ast.Conditional:
		ctx.codegenConditional(node)
	case ast.Return:
		ctx.codegenReturn(node)
	case ast.Stop:
		d := node.Data.(ast.StopNode)
		if d.Code != nil {
			ctx.codegenExpr(d.Code, symbols.TypeInteger)
		} else {
			ctx.em.LoadInteger(0)
		}
		ctx.em.Call(runtime.Stop)
		ctx.emitReturn()
	case ast.Goto:
		ctx.em.Branch(ctx.labelOf(node, node.Data.(ast.GotoNode).Target))
	case ast.ComputedGoto:
		d := node.Data.(ast.ComputedGotoNode)
		labels := make([]*ir.Label, len(d.Targets))
		for i, t := range d.Targets {
			labels[i] = ctx.labelOf(node, t)
		}
		ctx.codegenExpr(d.Expr, symbols.TypeInteger)
		ctx.em.LoadInteger(1)
		ctx.em.Sub()
		ctx.em.Switch(labels)
	case ast.Label:
		ctx.em.MarkLabel(ctx.labelOf(node, node.Data.(ast.LabelNode).Symbol))
	case ast.Read:
		ctx.codegenRead(node)
	case ast.Write:
		ctx.codegenWrite(node)
	case ast.CallStmt:
		if t := ctx.codegenCall(node, false); t != symbols.TypeNone { ctx.em.Pop() }
	default:
		panic(util.InternalAt(node.Tok, "cannot lower %s node as a statement", node.Type))
	}
}

func (ctx *Context) labelOf(node *ast.Node, s *symbols.Symbol) *ir.Label {
	util.Assert(s != nil, "jump without a target label")
	if s.Handle == nil { s.SetHandle(&symbols.LabelHandle{Label: ctx.em.NewNamedLabel("L_" + s.Name)}) }
	if _, ok := s.Handle.(*symbols.LabelHandle); !ok { panic(util.InternalAt(node.Tok, "'%s' is not a label", s.Name)) }
	return s.Label()
}

func (ctx *Context) codegenBlock(node *ast.Node) {
	warned := false
	for _, stmt := range node.Data.(ast.BlockNode).Stmts {
		if stmt == nil { continue }
		if !warned && stmt.Type != ast.Label && ctx.em.IsTerminated() {
			ctx.diag.Warn(config.WarnUnreachableCode, stmt.Tok, "Unreachable code.")
			warned = true
		}
		ctx.codegenStmt(stmt)
	}
}

// --- assignment ---

func (ctx *Context) codegenAssignment(node *ast.Node) {
	d := node.Data.(ast.AssignmentNode)
	util.Assert(len(d.Values) > 0, "assignment without a value")
	for i, target := range d.Targets {
		value := d.Values[len(d.Values)-1]
		if i < len(d.Values) { value = d.Values[i] }
		ctx.assign(target, value)
	}
}

func (ctx *Context) assign(target, value *ast.Node) {
	util.Assert(target.Type == ast.Ident, "assignment to %s node", target.Type)
	d := target.Data.(ast.IdentNode)
	s := d.Symbol
	util.Assert(s != nil, "unresolved assignment target '%s'", d.Name)

	if s.IsConstant() {
		ctx.diag.Error(target.Tok, "Cannot assign to constant '%s'.", s.Name)
		return
	}
	if s.IsMethod() {
		if s != ctx.routine || ctx.retVal == nil {
			ctx.diag.Error(target.Tok, "Cannot assign to '%s'.", s.Name)
			return
		}
		ctx.warnTruncation(value, s.FullType)
		ctx.codegenExpr(value, s.Type())
		ctx.em.StoreLocal(ctx.retVal)
		return
	}
	if !s.IsReferenced() { return }
	ctx.warnTruncation(value, s.FullType)
	emitValue := func(want symbols.SymType) { ctx.codegenExpr(value, want) }

	switch {
	case d.Substring != nil:
		if s.Type() != symbols.TypeFixedChar {
			ctx.diag.Error(target.Tok, "Substring assignment needs a fixed-width character variable.")
			return
		}
		if !ctx.loadSubstringBase(target, s, d.Indexes) { return }
		ctx.codegenExpr(value, symbols.TypeChar)
		ctx.emitSubstringRange(s, d.Substring)
		ctx.em.Call(runtime.FixedStringSetSub)
	case len(d.Indexes) > 0 && s.Type() == symbols.TypeFixedChar:
		ctx.emitElementLoad(target, s, d.Indexes)
		ctx.emitFixedSet(value)
	case len(d.Indexes) > 0:
		ctx.emitElementStore(target, s, d.Indexes, emitValue)
	case s.Type() == symbols.TypeFixedChar && !s.IsArray():
		ctx.loadSymbol(s)
		ctx.emitFixedSet(value)
	case s.IsArray():
		ctx.diag.Error(target.Tok, "Cannot assign to whole array '%s'.", s.Name)
	default:
		ctx.storeValue(s, emitValue)
	}
}

// emitFixedSet copies value into the fixed string object on the stack,
// padding or truncating to its width.
func (ctx *Context) emitFixedSet(value *ast.Node) {
	if value.Typ.Type == symbols.TypeFixedChar && !value.IsConstant() {
		ctx.codegenExpr(value, symbols.TypeFixedChar)
		ctx.em.Call(runtime.FixedStringSetFixed)
		return
	}
	ctx.codegenExpr(value, symbols.TypeChar)
	ctx.em.Call(runtime.FixedStringSet)
}

// warnTruncation flags constants that lose information when stored.
func (ctx *Context) warnTruncation(value *ast.Node, to symbols.FullType) {
	if !value.IsConstant() { return }
	v := value.Value()
	switch {
	case to.Type == symbols.TypeInteger && (v.Tag() == variant.Float32 || v.Tag() == variant.Float64):
		if f := v.AsFloat64(); f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			ctx.diag.Warn(config.WarnTruncation, value.Tok, "Constant %s is truncated to an integer.", v)
		}
	case to.Type == symbols.TypeFixedChar && v.Tag() == variant.String && len(v.AsString()) > to.Width:
		ctx.diag.Warn(config.WarnTruncation, value.Tok, "String constant is truncated to %d characters.", to.Width)
	}
}

// --- loops ---

func (ctx *Context) pushLoop() *ir.Label {
	exit := ctx.em.NewLabel()
	ctx.loops = append(ctx.loops, loopState{exit: exit})
	return exit
}

func (ctx *Context) popLoop(exit *ir.Label) {
	ctx.loops = ctx.loops[:len(ctx.loops)-1]
	ctx.em.MarkLabel(exit)
}

func (ctx *Context) codegenLoop(node *ast.Node) {
	d := node.Data.(ast.LoopNode)
	switch {
	case d.Variable != nil:
		ctx.codegenCountedLoop(node, d)
	case d.End == nil:
		ctx.codegenWhileLoop(node, d)
	default:
		ctx.codegenRepeatLoop(d)
	}
}

// constantTripCount computes max(0, floor((end-start+step)/step)) when all
// three control values are known.
func constantTripCount(start, end, step *ast.Node) (int32, bool) {
	if !start.IsConstant() || !end.IsConstant() || (step != nil && !step.IsConstant()) { return 0, false }
	inc := 1.0
	if step != nil { inc = step.Value().AsFloat64() }
	n := math.Floor((end.Value().AsFloat64() - start.Value().AsFloat64() + inc) / inc)
	if n < 0 || math.IsNaN(n) { n = 0 }
	return int32(n), true
}

func (ctx *Context) codegenCountedLoop(node *ast.Node, d ast.LoopNode) {
	v := d.Variable.Symbol()
	util.Assert(v != nil && d.Start != nil && d.End != nil, "malformed counted loop")
	vt := v.Type()
	if !vt.IsNumber() || vt == symbols.TypeComplex {
		ctx.diag.Error(d.Variable.Tok, "Loop variable '%s' must be integer or real.", v.Name)
		return
	}
	if d.Step != nil && d.Step.IsConstant() && d.Step.Value().IsZero() {
		ctx.diag.Error(d.Step.Tok, "Loop step must not be zero.")
		return
	}

	ctx.storeValue(v, func(want symbols.SymType) { ctx.codegenExpr(d.Start, want) })

	n, constant := constantTripCount(d.Start, d.End, d.Step)
	if constant && n == 0 {
		ctx.diag.Warn(config.WarnEmptyLoop, node.Tok, "Loop body is never executed.")
		return
	}

	var step *ir.Local
	if d.Step != nil && !d.Step.IsConstant() {
		step = ctx.em.GetTemporary(machine(vt))
		ctx.codegenExpr(d.Step, vt)
		ctx.em.StoreLocal(step)
	}
	emitStep := func() {
		switch {
		case step != nil: ctx.em.LoadLocal(step)
		case d.Step != nil: ctx.em.LoadValue(d.Step.Value(), vt.Kind())
		default: ctx.em.LoadValue(variant.FromInt(1), vt.Kind())
		}
	}

	exit := ctx.pushLoop()
	count := ctx.em.GetTemporary(ir.TypeInt32)
	if constant {
		ctx.em.LoadInteger(n)
		ctx.em.StoreLocal(count)
	} else {
		ctx.codegenExpr(d.End, vt)
		ctx.codegenExpr(d.Variable, vt)
		ctx.em.Sub()
		emitStep()
		ctx.em.Add()
		emitStep()
		ctx.em.Div()
		if vt != symbols.TypeInteger { ctx.em.Emit(ir.OpConvI4) }
		ctx.em.Dup()
		ctx.em.StoreLocal(count)
		ctx.em.LoadInteger(0)
		ctx.em.BranchOn(ir.OpBle, exit)
	}

	top := ctx.em.NewLabel()
	ctx.em.MarkLabel(top)
	ctx.codegenStmt(d.Body)

	ctx.storeValue(v, func(want symbols.SymType) {
		ctx.codegenExpr(d.Variable, vt)
		emitStep()
		ctx.em.Add()
	})
	ctx.em.LoadLocal(count)
	ctx.em.LoadInteger(1)
	ctx.em.Sub()
	ctx.em.Dup()
	ctx.em.StoreLocal(count)
	ctx.em.LoadInteger(0)
	ctx.em.BranchOn(ir.OpBgt, top)
	ctx.popLoop(exit)

	ctx.em.ReleaseTemporary(count)
	if step != nil { ctx.em.ReleaseTemporary(step) }
}

func (ctx *Context) codegenWhileLoop(node *ast.Node, d ast.LoopNode) {
	if d.Start.IsConstantFalse() {
		ctx.diag.Warn(config.WarnConstantCondition, d.Start.Tok, "Loop condition is always false.")
		return
	}
	exit := ctx.pushLoop()
	top := ctx.em.NewLabel()
	ctx.em.MarkLabel(top)
	if d.Start.IsConstantTrue() {
		ctx.diag.Warn(config.WarnConstantCondition, d.Start.Tok, "Loop condition is always true.")
	} else {
		ctx.codegenCondition(d.Start, exit)
	}
	ctx.codegenStmt(d.Body)
	ctx.em.Branch(top)
	ctx.popLoop(exit)
}

func (ctx *Context) codegenRepeatLoop(d ast.LoopNode) {
	exit := ctx.pushLoop()
	top := ctx.em.NewLabel()
	ctx.em.MarkLabel(top)
	ctx.codegenStmt(d.Body)
	if !d.End.IsConstantTrue() { ctx.codegenCondition(d.End, top) }
	ctx.popLoop(exit)
}

func (ctx *Context) codegenBreak(node *ast.Node) {
	if len(ctx.loops) == 0 {
		ctx.diag.Error(node.Tok, "Break outside of a loop.")
		return
	}
	exit := ctx.loops[len(ctx.loops)-1].exit
	d := node.Data.(ast.BreakNode)
	if d.Cond == nil || d.Cond.IsConstantTrue() {
		ctx.em.Branch(exit)
		return
	}
	ctx.codegenExpr(d.Cond, symbols.TypeBoolean)
	ctx.em.BranchIfTrue(exit)
}

// --- conditionals ---

func (ctx *Context) codegenConditional(node *ast.Node) {
	end := ctx.em.NewLabel()
	arms := node.Data.(ast.ConditionalNode).Arms
	for i, arm := range arms {
		switch {
		case arm.Cond == nil:
			ctx.codegenStmt(arm.Body)
		case arm.Cond.IsConstantFalse():
			ctx.diag.Warn(config.WarnConstantCondition, arm.Cond.Tok, "Condition is always false.")
			continue
		case arm.Cond.IsConstantTrue():
			ctx.diag.Warn(config.WarnConstantCondition, arm.Cond.Tok, "Condition is always true.")
			ctx.codegenStmt(arm.Body)
			if i+1 < len(arms) {
				ctx.diag.Warn(config.WarnUnreachableCode, node.Tok, "Remaining branches are unreachable.")
			}
		case i == len(arms)-1:
			ctx.codegenCondition(arm.Cond, end)
			ctx.codegenStmt(arm.Body)
		default:
			next := ctx.em.NewLabel()
			ctx.codegenCondition(arm.Cond, next)
			ctx.codegenStmt(arm.Body)
			if !ctx.em.IsTerminated() { ctx.em.Branch(end) }
			ctx.em.MarkLabel(next)
			continue
		}
		break
	}
	ctx.em.MarkLabel(end)
}

func (ctx *Context) codegenReturn(node *ast.Node) {
	d := node.Data.(ast.ReturnNode)
	if d.Expr != nil {
		if ctx.retVal == nil {
			ctx.diag.Error(node.Tok, "A return value is only allowed in a function.")
		} else {
			ctx.codegenExpr(d.Expr, ctx.routine.Type())
			ctx.em.StoreLocal(ctx.retVal)
		}
	}
	ctx.emitReturn()
}
